// Package comments holds margin discussions on talking points. Threads are one
// level deep: a reply points at a top-level comment, never at another reply.
package comments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inkfold/pilot/backend/internal/access"
	"github.com/inkfold/pilot/backend/internal/fault"
	"github.com/inkfold/pilot/backend/internal/outline"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew          = "comments.service.new"
	opCreate              = "comments.create"
	opList                = "comments.list"
	opDelete              = "comments.delete"
	opPurge               = "comments.purge"
	reasonMissingDatabase = "missing_database"
	reasonMissingPolicy   = "missing_policy"
	reasonMissingOutline  = "missing_outline"
	reasonEmptyBody       = "empty_body"
	reasonNotFound        = "not_found"
	reasonReplyToReply    = "reply_to_reply"
	reasonWrongThread     = "parent_on_other_talking_point"
	reasonNotAuthor       = "not_author_or_owner"
	reasonQueryFailed     = "query_failed"
	reasonWriteFailed     = "write_failed"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingPolicy   = errors.New("access policy is required")
	errMissingOutline  = errors.New("outline service is required")
)

// Comment is one margin note on a talking point. ParentID is nil for
// top-level comments and set for replies.
type Comment struct {
	ID             string    `gorm:"column:id;primaryKey;size:36"`
	TalkingPointID uint      `gorm:"column:talking_point_id;not null;index"`
	AuthorID       string    `gorm:"column:author_id;size:190;not null"`
	ParentID       *string   `gorm:"column:parent_id;size:36;index"`
	Body           string    `gorm:"column:body;type:text;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing comments.
func (Comment) TableName() string {
	return "talking_point_comments"
}

// Thread is a top-level comment with its replies, oldest first.
type Thread struct {
	Comment Comment   `json:"comment"`
	Replies []Comment `json:"replies"`
}

// ServiceConfig describes the dependencies of the comment service.
type ServiceConfig struct {
	Database *gorm.DB
	Policy   *access.Policy
	Outline  *outline.Service
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages comment threads on talking points.
type Service struct {
	db      *gorm.DB
	policy  *access.Policy
	outline *outline.Service
	clock   func() time.Time
	logger  *zap.Logger
}

// NewService constructs the comment service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fault.Internal(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Policy == nil {
		return nil, fault.Internal(opServiceNew, reasonMissingPolicy, errMissingPolicy)
	}
	if cfg.Outline == nil {
		return nil, fault.Internal(opServiceNew, reasonMissingOutline, errMissingOutline)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:      cfg.Database,
		policy:  cfg.Policy,
		outline: cfg.Outline,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Create posts a comment or a reply. Viewers are denied; replies must target a
// top-level comment on the same talking point.
func (s *Service) Create(ctx context.Context, authorID string, talkingPointID uint, parentID *string, body string) (Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Comment{}, fault.Invalid(opCreate, reasonEmptyBody, nil)
	}
	bookID, err := s.outline.BookIDForTalkingPoint(ctx, talkingPointID)
	if err != nil {
		return Comment{}, err
	}
	if _, err := s.policy.RequireComment(ctx, bookID, authorID); err != nil {
		return Comment{}, err
	}

	if parentID != nil {
		var parent Comment
		err := s.db.WithContext(ctx).Where("id = ?", *parentID).Take(&parent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Comment{}, fault.NotFound(opCreate, reasonNotFound, err)
		}
		if err != nil {
			return Comment{}, fault.Internal(opCreate, reasonQueryFailed, err)
		}
		if parent.ParentID != nil {
			return Comment{}, fault.Invalid(opCreate, reasonReplyToReply, nil)
		}
		if parent.TalkingPointID != talkingPointID {
			return Comment{}, fault.Invalid(opCreate, reasonWrongThread, nil)
		}
	}

	comment := Comment{
		ID:             uuid.NewString(),
		TalkingPointID: talkingPointID,
		AuthorID:       authorID,
		ParentID:       parentID,
		Body:           body,
		CreatedAt:      s.clock(),
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return Comment{}, fault.Internal(opCreate, reasonWriteFailed, err)
	}
	s.logger.Debug("comment posted",
		zap.String("comment_id", comment.ID),
		zap.Uint("talking_point_id", talkingPointID))
	return comment, nil
}

// List returns the talking point's threads, both levels oldest first.
func (s *Service) List(ctx context.Context, userID string, talkingPointID uint) ([]Thread, error) {
	bookID, err := s.outline.BookIDForTalkingPoint(ctx, talkingPointID)
	if err != nil {
		return nil, err
	}
	if _, err := s.policy.RequireAccess(ctx, bookID, userID); err != nil {
		return nil, err
	}

	var comments []Comment
	if err := s.db.WithContext(ctx).
		Where("talking_point_id = ?", talkingPointID).
		Order("created_at ASC, id ASC").
		Find(&comments).Error; err != nil {
		return nil, fault.Internal(opList, reasonQueryFailed, err)
	}

	repliesByParent := make(map[string][]Comment)
	threads := make([]Thread, 0)
	for _, comment := range comments {
		if comment.ParentID != nil {
			repliesByParent[*comment.ParentID] = append(repliesByParent[*comment.ParentID], comment)
		}
	}
	for _, comment := range comments {
		if comment.ParentID == nil {
			threads = append(threads, Thread{
				Comment: comment,
				Replies: append([]Comment{}, repliesByParent[comment.ID]...),
			})
		}
	}
	return threads, nil
}

// Delete removes a comment, cascading replies when it is top-level. Author or
// book owner.
func (s *Service) Delete(ctx context.Context, actorID, commentID string) error {
	var comment Comment
	err := s.db.WithContext(ctx).Where("id = ?", commentID).Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fault.NotFound(opDelete, reasonNotFound, err)
	}
	if err != nil {
		return fault.Internal(opDelete, reasonQueryFailed, err)
	}

	bookID, err := s.outline.BookIDForTalkingPoint(ctx, comment.TalkingPointID)
	if err != nil {
		return err
	}
	membership, err := s.policy.RequireAccess(ctx, bookID, actorID)
	if err != nil {
		return err
	}
	if comment.AuthorID != actorID && !membership.IsOwner {
		return fault.Forbidden(opDelete, reasonNotAuthor, nil)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if comment.ParentID == nil {
			if err := tx.Where("parent_id = ?", comment.ID).Delete(&Comment{}).Error; err != nil {
				return fault.Internal(opDelete, reasonWriteFailed, err)
			}
		}
		if err := tx.Delete(&Comment{}, "id = ?", comment.ID).Error; err != nil {
			return fault.Internal(opDelete, reasonWriteFailed, err)
		}
		return nil
	})
}

// PurgeTalkingPoints removes comments for deleted talking points. Called
// inside the outline cascade transaction.
func (s *Service) PurgeTalkingPoints(ctx context.Context, tx *gorm.DB, talkingPointIDs []uint) error {
	if len(talkingPointIDs) == 0 {
		return nil
	}
	if err := tx.WithContext(ctx).Where("talking_point_id IN ?", talkingPointIDs).Delete(&Comment{}).Error; err != nil {
		return fault.Internal(opPurge, reasonWriteFailed, err)
	}
	return nil
}
