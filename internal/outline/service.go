package outline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inkfold/pilot/backend/internal/fault"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew          = "outline.service.new"
	opCreateBook          = "outline.create_book"
	opListBooks           = "outline.list_books"
	opBookTree            = "outline.book_tree"
	opDeleteBook          = "outline.delete_book"
	opCreateChapter       = "outline.create_chapter"
	opUpdateChapter       = "outline.update_chapter"
	opDeleteChapter       = "outline.delete_chapter"
	opCreateSection       = "outline.create_section"
	opUpdateSection       = "outline.update_section"
	opDeleteSection       = "outline.delete_section"
	opCreateTalkingPoint  = "outline.create_talking_point"
	opUpdateTalkingPoint  = "outline.update_talking_point"
	opDeleteTalkingPoint  = "outline.delete_talking_point"
	opUpdateContent       = "outline.update_content"
	opResolveBook         = "outline.resolve_book"
	opMaterializeOutline  = "outline.materialize_outline"
	reasonMissingDatabase = "missing_database"
	reasonMissingTitle    = "missing_title"
	reasonNotFound        = "not_found"
	reasonQueryFailed     = "query_failed"
	reasonWriteFailed     = "write_failed"
	reasonPurgeFailed     = "purge_failed"
	reasonEmptyOutline    = "empty_outline"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// TalkingPointPurger removes rows owned by talking points that are about to be
// deleted. The collaboration, suggestion and comment services implement it so
// cascade deletes stay within one transaction.
type TalkingPointPurger interface {
	PurgeTalkingPoints(ctx context.Context, tx *gorm.DB, talkingPointIDs []uint) error
}

// BookPurger removes rows scoped to a whole book: collaborator grants, pillar
// state and the brief. Runs inside the DeleteBook transaction after the
// subtree cascade, so book-scoped rows never outlive the book.
type BookPurger interface {
	PurgeBook(ctx context.Context, tx *gorm.DB, bookID uint) error
}

// ServiceConfig describes the dependencies for the outline tree service.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	Logger      *zap.Logger
	Purgers     []TalkingPointPurger
	BookPurgers []BookPurger
}

// Service owns the Book -> Chapter -> Section -> TalkingPoint hierarchy.
type Service struct {
	db          *gorm.DB
	clock       func() time.Time
	logger      *zap.Logger
	purgers     []TalkingPointPurger
	bookPurgers []BookPurger
}

// NewService constructs the outline service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fault.Internal(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger, purgers: cfg.Purgers, bookPurgers: cfg.BookPurgers}, nil
}

// RegisterPurger adds a cascade hook after construction. The dependent
// services are built after the outline service, so they register themselves.
func (s *Service) RegisterPurger(purger TalkingPointPurger) {
	if purger != nil {
		s.purgers = append(s.purgers, purger)
	}
}

// RegisterBookPurger adds a book-level cascade hook after construction.
func (s *Service) RegisterBookPurger(purger BookPurger) {
	if purger != nil {
		s.bookPurgers = append(s.bookPurgers, purger)
	}
}

// CreateBook creates an empty book owned by the caller.
func (s *Service) CreateBook(ctx context.Context, ownerID, title string) (BookTree, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return BookTree{}, fault.Invalid(opCreateBook, reasonMissingTitle, nil)
	}
	book := Book{Title: title, OwnerID: ownerID}
	if err := s.db.WithContext(ctx).Create(&book).Error; err != nil {
		return BookTree{}, fault.Internal(opCreateBook, reasonWriteFailed, err)
	}
	s.logger.Info("book created", zap.Uint("book_id", book.ID), zap.String("owner_id", ownerID))
	return s.BookTree(ctx, book.ID)
}

// ListBooks returns the books owned by the user plus any explicitly shared ids.
func (s *Service) ListBooks(ctx context.Context, ownerID string, sharedIDs []uint) ([]Book, error) {
	var books []Book
	query := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if len(sharedIDs) > 0 {
		query = query.Or("id IN ?", sharedIDs)
	}
	if err := query.Order("id ASC").Find(&books).Error; err != nil {
		return nil, fault.Internal(opListBooks, reasonQueryFailed, err)
	}
	return books, nil
}

// GetBook fetches the bare book row.
func (s *Service) GetBook(ctx context.Context, bookID uint) (Book, error) {
	var book Book
	err := s.db.WithContext(ctx).Where("id = ?", bookID).Take(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Book{}, fault.NotFound(opBookTree, reasonNotFound, err)
	}
	if err != nil {
		return Book{}, fault.Internal(opBookTree, reasonQueryFailed, err)
	}
	return book, nil
}

// BookTree serializes the full subtree of a book, siblings sorted by order
// ascending with id as the tie-break.
func (s *Service) BookTree(ctx context.Context, bookID uint) (BookTree, error) {
	book, err := s.GetBook(ctx, bookID)
	if err != nil {
		return BookTree{}, err
	}

	var chapters []Chapter
	if err := s.db.WithContext(ctx).Where("book_id = ?", bookID).Find(&chapters).Error; err != nil {
		return BookTree{}, fault.Internal(opBookTree, reasonQueryFailed, err)
	}
	sortChapters(chapters)

	chapterIDs := make([]uint, 0, len(chapters))
	for _, chapter := range chapters {
		chapterIDs = append(chapterIDs, chapter.ID)
	}

	sectionsByChapter := make(map[uint][]Section)
	var sectionIDs []uint
	if len(chapterIDs) > 0 {
		var sections []Section
		if err := s.db.WithContext(ctx).Where("chapter_id IN ?", chapterIDs).Find(&sections).Error; err != nil {
			return BookTree{}, fault.Internal(opBookTree, reasonQueryFailed, err)
		}
		for _, section := range sections {
			sectionsByChapter[section.ChapterID] = append(sectionsByChapter[section.ChapterID], section)
			sectionIDs = append(sectionIDs, section.ID)
		}
	}

	pointsBySection := make(map[uint][]TalkingPoint)
	if len(sectionIDs) > 0 {
		var points []TalkingPoint
		if err := s.db.WithContext(ctx).Where("section_id IN ?", sectionIDs).Find(&points).Error; err != nil {
			return BookTree{}, fault.Internal(opBookTree, reasonQueryFailed, err)
		}
		for _, point := range points {
			pointsBySection[point.SectionID] = append(pointsBySection[point.SectionID], point)
		}
	}

	tree := BookTree{
		ID:       book.ID,
		Title:    book.Title,
		OwnerID:  book.OwnerID,
		Chapters: make([]ChapterNode, 0, len(chapters)),
	}
	for _, chapter := range chapters {
		sections := sectionsByChapter[chapter.ID]
		sortSections(sections)
		chapterNode := ChapterNode{
			ID:       chapter.ID,
			Title:    chapter.Title,
			Order:    chapter.Order,
			Sections: make([]SectionNode, 0, len(sections)),
		}
		for _, section := range sections {
			points := pointsBySection[section.ID]
			sortTalkingPoints(points)
			sectionNode := SectionNode{
				ID:            section.ID,
				Title:         section.Title,
				Order:         section.Order,
				TalkingPoints: make([]TalkingPointNode, 0, len(points)),
			}
			for _, point := range points {
				sectionNode.TalkingPoints = append(sectionNode.TalkingPoints, TalkingPointNode{
					ID:      point.ID,
					Text:    point.Text,
					Content: point.Content,
					Order:   point.Order,
				})
			}
			chapterNode.Sections = append(chapterNode.Sections, sectionNode)
		}
		tree.Chapters = append(tree.Chapters, chapterNode)
	}
	return tree, nil
}

// DeleteBook removes the book and every descendant row.
func (s *Service) DeleteBook(ctx context.Context, bookID uint) error {
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return err
	}
	transactionError := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var chapterIDs []uint
		if err := tx.Model(&Chapter{}).Where("book_id = ?", bookID).Pluck("id", &chapterIDs).Error; err != nil {
			return fault.Internal(opDeleteBook, reasonQueryFailed, err)
		}
		if err := s.deleteChaptersTx(ctx, tx, chapterIDs); err != nil {
			return err
		}
		for _, purger := range s.bookPurgers {
			if err := purger.PurgeBook(ctx, tx, bookID); err != nil {
				return fault.Internal(opDeleteBook, reasonPurgeFailed, err)
			}
		}
		if err := tx.Delete(&Book{}, bookID).Error; err != nil {
			return fault.Internal(opDeleteBook, reasonWriteFailed, err)
		}
		return nil
	})
	if transactionError != nil {
		return transactionError
	}
	s.logger.Info("book deleted", zap.Uint("book_id", bookID))
	return nil
}

// CreateChapter appends a chapter; a zero order defaults to count+1.
func (s *Service) CreateChapter(ctx context.Context, bookID uint, title string, order int) (BookTree, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return BookTree{}, fault.Invalid(opCreateChapter, reasonMissingTitle, nil)
	}
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return BookTree{}, err
	}
	if order <= 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&Chapter{}).Where("book_id = ?", bookID).Count(&count).Error; err != nil {
			return BookTree{}, fault.Internal(opCreateChapter, reasonQueryFailed, err)
		}
		order = int(count) + 1
	}
	chapter := Chapter{BookID: bookID, Title: title, Order: order}
	if err := s.db.WithContext(ctx).Create(&chapter).Error; err != nil {
		return BookTree{}, fault.Internal(opCreateChapter, reasonWriteFailed, err)
	}
	return s.BookTree(ctx, bookID)
}

// UpdateChapter changes title and/or order. Nil fields stay untouched.
func (s *Service) UpdateChapter(ctx context.Context, chapterID uint, title *string, order *int) (BookTree, error) {
	var chapter Chapter
	err := s.db.WithContext(ctx).Where("id = ?", chapterID).Take(&chapter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BookTree{}, fault.NotFound(opUpdateChapter, reasonNotFound, err)
	}
	if err != nil {
		return BookTree{}, fault.Internal(opUpdateChapter, reasonQueryFailed, err)
	}
	updates := map[string]interface{}{}
	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			return BookTree{}, fault.Invalid(opUpdateChapter, reasonMissingTitle, nil)
		}
		updates["title"] = trimmed
	}
	if order != nil && *order > 0 {
		updates["sort_order"] = *order
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&Chapter{}).Where("id = ?", chapterID).Updates(updates).Error; err != nil {
			return BookTree{}, fault.Internal(opUpdateChapter, reasonWriteFailed, err)
		}
	}
	return s.BookTree(ctx, chapter.BookID)
}

// DeleteChapter removes a chapter and cascades through sections, talking
// points and their dependent rows.
func (s *Service) DeleteChapter(ctx context.Context, chapterID uint) (BookTree, error) {
	var chapter Chapter
	err := s.db.WithContext(ctx).Where("id = ?", chapterID).Take(&chapter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BookTree{}, fault.NotFound(opDeleteChapter, reasonNotFound, err)
	}
	if err != nil {
		return BookTree{}, fault.Internal(opDeleteChapter, reasonQueryFailed, err)
	}
	transactionError := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.deleteChaptersTx(ctx, tx, []uint{chapterID})
	})
	if transactionError != nil {
		return BookTree{}, transactionError
	}
	return s.BookTree(ctx, chapter.BookID)
}

// CreateSection appends a section; a zero order defaults to count+1.
func (s *Service) CreateSection(ctx context.Context, chapterID uint, title string, order int) (BookTree, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return BookTree{}, fault.Invalid(opCreateSection, reasonMissingTitle, nil)
	}
	var chapter Chapter
	err := s.db.WithContext(ctx).Where("id = ?", chapterID).Take(&chapter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BookTree{}, fault.NotFound(opCreateSection, reasonNotFound, err)
	}
	if err != nil {
		return BookTree{}, fault.Internal(opCreateSection, reasonQueryFailed, err)
	}
	if order <= 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&Section{}).Where("chapter_id = ?", chapterID).Count(&count).Error; err != nil {
			return BookTree{}, fault.Internal(opCreateSection, reasonQueryFailed, err)
		}
		order = int(count) + 1
	}
	section := Section{ChapterID: chapterID, Title: title, Order: order}
	if err := s.db.WithContext(ctx).Create(&section).Error; err != nil {
		return BookTree{}, fault.Internal(opCreateSection, reasonWriteFailed, err)
	}
	return s.BookTree(ctx, chapter.BookID)
}

// UpdateSection changes title and/or order. Nil fields stay untouched.
func (s *Service) UpdateSection(ctx context.Context, sectionID uint, title *string, order *int) (BookTree, error) {
	_, bookID, err := s.sectionWithBook(ctx, sectionID, opUpdateSection)
	if err != nil {
		return BookTree{}, err
	}
	updates := map[string]interface{}{}
	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			return BookTree{}, fault.Invalid(opUpdateSection, reasonMissingTitle, nil)
		}
		updates["title"] = trimmed
	}
	if order != nil && *order > 0 {
		updates["sort_order"] = *order
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&Section{}).Where("id = ?", sectionID).Updates(updates).Error; err != nil {
			return BookTree{}, fault.Internal(opUpdateSection, reasonWriteFailed, err)
		}
	}
	return s.BookTree(ctx, bookID)
}

// DeleteSection removes a section and cascades through its talking points.
func (s *Service) DeleteSection(ctx context.Context, sectionID uint) (BookTree, error) {
	_, bookID, err := s.sectionWithBook(ctx, sectionID, opDeleteSection)
	if err != nil {
		return BookTree{}, err
	}
	transactionError := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.deleteSectionsTx(ctx, tx, []uint{sectionID})
	})
	if transactionError != nil {
		return BookTree{}, transactionError
	}
	return s.BookTree(ctx, bookID)
}

// CreateTalkingPoint appends a talking point; a zero order defaults to count+1.
func (s *Service) CreateTalkingPoint(ctx context.Context, sectionID uint, text string, order int) (BookTree, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return BookTree{}, fault.Invalid(opCreateTalkingPoint, reasonMissingTitle, nil)
	}
	_, bookID, err := s.sectionWithBook(ctx, sectionID, opCreateTalkingPoint)
	if err != nil {
		return BookTree{}, err
	}
	if order <= 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&TalkingPoint{}).Where("section_id = ?", sectionID).Count(&count).Error; err != nil {
			return BookTree{}, fault.Internal(opCreateTalkingPoint, reasonQueryFailed, err)
		}
		order = int(count) + 1
	}
	point := TalkingPoint{SectionID: sectionID, Text: text, Order: order}
	if err := s.db.WithContext(ctx).Create(&point).Error; err != nil {
		return BookTree{}, fault.Internal(opCreateTalkingPoint, reasonWriteFailed, err)
	}
	return s.BookTree(ctx, bookID)
}

// UpdateTalkingPoint changes label text and/or order. Nil fields stay untouched.
func (s *Service) UpdateTalkingPoint(ctx context.Context, talkingPointID uint, text *string, order *int) (BookTree, error) {
	_, bookID, err := s.talkingPointWithBook(ctx, talkingPointID, opUpdateTalkingPoint)
	if err != nil {
		return BookTree{}, err
	}
	updates := map[string]interface{}{}
	if text != nil {
		trimmed := strings.TrimSpace(*text)
		if trimmed == "" {
			return BookTree{}, fault.Invalid(opUpdateTalkingPoint, reasonMissingTitle, nil)
		}
		updates["text"] = trimmed
	}
	if order != nil && *order > 0 {
		updates["sort_order"] = *order
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(&TalkingPoint{}).Where("id = ?", talkingPointID).Updates(updates).Error; err != nil {
			return BookTree{}, fault.Internal(opUpdateTalkingPoint, reasonWriteFailed, err)
		}
	}
	return s.BookTree(ctx, bookID)
}

// UpdateTalkingPointContent overwrites the materialized content snapshot.
// Clients compute it by replaying accepted collaboration steps; the backend
// stores whatever they send.
func (s *Service) UpdateTalkingPointContent(ctx context.Context, talkingPointID uint, content string) (BookTree, error) {
	_, bookID, err := s.talkingPointWithBook(ctx, talkingPointID, opUpdateContent)
	if err != nil {
		return BookTree{}, err
	}
	if err := s.db.WithContext(ctx).Model(&TalkingPoint{}).
		Where("id = ?", talkingPointID).
		Update("content", content).Error; err != nil {
		return BookTree{}, fault.Internal(opUpdateContent, reasonWriteFailed, err)
	}
	return s.BookTree(ctx, bookID)
}

// DeleteTalkingPoint removes a talking point and its dependent rows.
func (s *Service) DeleteTalkingPoint(ctx context.Context, talkingPointID uint) (BookTree, error) {
	_, bookID, err := s.talkingPointWithBook(ctx, talkingPointID, opDeleteTalkingPoint)
	if err != nil {
		return BookTree{}, err
	}
	transactionError := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.deleteTalkingPointsTx(ctx, tx, []uint{talkingPointID})
	})
	if transactionError != nil {
		return BookTree{}, transactionError
	}
	return s.BookTree(ctx, bookID)
}

// BookIDForChapter resolves the owning book id.
func (s *Service) BookIDForChapter(ctx context.Context, chapterID uint) (uint, error) {
	var chapter Chapter
	err := s.db.WithContext(ctx).Where("id = ?", chapterID).Take(&chapter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fault.NotFound(opResolveBook, reasonNotFound, err)
	}
	if err != nil {
		return 0, fault.Internal(opResolveBook, reasonQueryFailed, err)
	}
	return chapter.BookID, nil
}

// BookIDForSection resolves the owning book id.
func (s *Service) BookIDForSection(ctx context.Context, sectionID uint) (uint, error) {
	_, bookID, err := s.sectionWithBook(ctx, sectionID, opResolveBook)
	return bookID, err
}

// BookIDForTalkingPoint resolves the owning book id.
func (s *Service) BookIDForTalkingPoint(ctx context.Context, talkingPointID uint) (uint, error) {
	_, bookID, err := s.talkingPointWithBook(ctx, talkingPointID, opResolveBook)
	return bookID, err
}

// GeneratedOutline is the structured result of outline generation.
type GeneratedOutline struct {
	Chapters []GeneratedChapter `json:"chapters"`
}

// GeneratedChapter carries a chapter with its nested sections.
type GeneratedChapter struct {
	Title    string             `json:"title"`
	Sections []GeneratedSection `json:"sections"`
}

// GeneratedSection carries a section with its talking point labels.
type GeneratedSection struct {
	Title         string   `json:"title"`
	TalkingPoints []string `json:"talking_points"`
}

// MaterializeOutline bulk-creates the generated structure under a book.
func (s *Service) MaterializeOutline(ctx context.Context, bookID uint, generated GeneratedOutline) (BookTree, error) {
	if len(generated.Chapters) == 0 {
		return BookTree{}, fault.Invalid(opMaterializeOutline, reasonEmptyOutline, nil)
	}
	if _, err := s.GetBook(ctx, bookID); err != nil {
		return BookTree{}, err
	}
	transactionError := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Chapter{}).Where("book_id = ?", bookID).Count(&existing).Error; err != nil {
			return fault.Internal(opMaterializeOutline, reasonQueryFailed, err)
		}
		for chapterIndex, generatedChapter := range generated.Chapters {
			chapter := Chapter{
				BookID: bookID,
				Title:  strings.TrimSpace(generatedChapter.Title),
				Order:  int(existing) + chapterIndex + 1,
			}
			if chapter.Title == "" {
				chapter.Title = fmt.Sprintf("Chapter %d", chapterIndex+1)
			}
			if err := tx.Create(&chapter).Error; err != nil {
				return fault.Internal(opMaterializeOutline, reasonWriteFailed, err)
			}
			for sectionIndex, generatedSection := range generatedChapter.Sections {
				section := Section{
					ChapterID: chapter.ID,
					Title:     strings.TrimSpace(generatedSection.Title),
					Order:     sectionIndex + 1,
				}
				if section.Title == "" {
					section.Title = fmt.Sprintf("Section %d", sectionIndex+1)
				}
				if err := tx.Create(&section).Error; err != nil {
					return fault.Internal(opMaterializeOutline, reasonWriteFailed, err)
				}
				for pointIndex, pointText := range generatedSection.TalkingPoints {
					point := TalkingPoint{
						SectionID: section.ID,
						Text:      strings.TrimSpace(pointText),
						Order:     pointIndex + 1,
					}
					if point.Text == "" {
						continue
					}
					if err := tx.Create(&point).Error; err != nil {
						return fault.Internal(opMaterializeOutline, reasonWriteFailed, err)
					}
				}
			}
		}
		return nil
	})
	if transactionError != nil {
		return BookTree{}, transactionError
	}
	s.logger.Info("outline materialized", zap.Uint("book_id", bookID), zap.Int("chapters", len(generated.Chapters)))
	return s.BookTree(ctx, bookID)
}

func (s *Service) sectionWithBook(ctx context.Context, sectionID uint, op string) (Section, uint, error) {
	var section Section
	err := s.db.WithContext(ctx).Where("id = ?", sectionID).Take(&section).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Section{}, 0, fault.NotFound(op, reasonNotFound, err)
	}
	if err != nil {
		return Section{}, 0, fault.Internal(op, reasonQueryFailed, err)
	}
	var chapter Chapter
	err = s.db.WithContext(ctx).Where("id = ?", section.ChapterID).Take(&chapter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Section{}, 0, fault.NotFound(op, reasonNotFound, err)
	}
	if err != nil {
		return Section{}, 0, fault.Internal(op, reasonQueryFailed, err)
	}
	return section, chapter.BookID, nil
}

func (s *Service) talkingPointWithBook(ctx context.Context, talkingPointID uint, op string) (TalkingPoint, uint, error) {
	var point TalkingPoint
	err := s.db.WithContext(ctx).Where("id = ?", talkingPointID).Take(&point).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TalkingPoint{}, 0, fault.NotFound(op, reasonNotFound, err)
	}
	if err != nil {
		return TalkingPoint{}, 0, fault.Internal(op, reasonQueryFailed, err)
	}
	_, bookID, err := s.sectionWithBook(ctx, point.SectionID, op)
	if err != nil {
		return TalkingPoint{}, 0, err
	}
	return point, bookID, nil
}

func (s *Service) deleteChaptersTx(ctx context.Context, tx *gorm.DB, chapterIDs []uint) error {
	if len(chapterIDs) == 0 {
		return nil
	}
	var sectionIDs []uint
	if err := tx.Model(&Section{}).Where("chapter_id IN ?", chapterIDs).Pluck("id", &sectionIDs).Error; err != nil {
		return fault.Internal(opDeleteChapter, reasonQueryFailed, err)
	}
	if err := s.deleteSectionsTx(ctx, tx, sectionIDs); err != nil {
		return err
	}
	if err := tx.Where("id IN ?", chapterIDs).Delete(&Chapter{}).Error; err != nil {
		return fault.Internal(opDeleteChapter, reasonWriteFailed, err)
	}
	return nil
}

func (s *Service) deleteSectionsTx(ctx context.Context, tx *gorm.DB, sectionIDs []uint) error {
	if len(sectionIDs) == 0 {
		return nil
	}
	var pointIDs []uint
	if err := tx.Model(&TalkingPoint{}).Where("section_id IN ?", sectionIDs).Pluck("id", &pointIDs).Error; err != nil {
		return fault.Internal(opDeleteSection, reasonQueryFailed, err)
	}
	if err := s.deleteTalkingPointsTx(ctx, tx, pointIDs); err != nil {
		return err
	}
	if err := tx.Where("id IN ?", sectionIDs).Delete(&Section{}).Error; err != nil {
		return fault.Internal(opDeleteSection, reasonWriteFailed, err)
	}
	return nil
}

func (s *Service) deleteTalkingPointsTx(ctx context.Context, tx *gorm.DB, pointIDs []uint) error {
	if len(pointIDs) == 0 {
		return nil
	}
	for _, purger := range s.purgers {
		if err := purger.PurgeTalkingPoints(ctx, tx, pointIDs); err != nil {
			return fault.Internal(opDeleteTalkingPoint, reasonPurgeFailed, err)
		}
	}
	if err := tx.Where("id IN ?", pointIDs).Delete(&TalkingPoint{}).Error; err != nil {
		return fault.Internal(opDeleteTalkingPoint, reasonWriteFailed, err)
	}
	return nil
}
