package outline

import (
	"sort"
	"time"
)

// Book is the root of an outline tree. Ownership is recorded here; shared
// access lives in the collaborator table.
type Book struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Title     string    `gorm:"column:title;size:190;not null"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing books.
func (Book) TableName() string {
	return "books"
}

// Chapter is an ordered child of a book.
type Chapter struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	BookID    uint      `gorm:"column:book_id;not null;index"`
	Title     string    `gorm:"column:title;size:190;not null"`
	Order     int       `gorm:"column:sort_order;not null;default:1"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing chapters.
func (Chapter) TableName() string {
	return "chapters"
}

// Section is an ordered child of a chapter.
type Section struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	ChapterID uint      `gorm:"column:chapter_id;not null;index"`
	Title     string    `gorm:"column:title;size:190;not null"`
	Order     int       `gorm:"column:sort_order;not null;default:1"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing sections.
func (Section) TableName() string {
	return "sections"
}

// TalkingPoint is the smallest content unit. Text is the label shown in the
// outline; Content is the serialized rich-text document maintained by clients
// through the collaboration channel.
type TalkingPoint struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	SectionID uint      `gorm:"column:section_id;not null;index"`
	Text      string    `gorm:"column:text;type:text;not null"`
	Content   string    `gorm:"column:content;type:text"`
	Order     int       `gorm:"column:sort_order;not null;default:1"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing talking points.
func (TalkingPoint) TableName() string {
	return "talking_points"
}

// BookTree is the fully serialized book returned after every read or write.
type BookTree struct {
	ID       uint          `json:"id"`
	Title    string        `json:"title"`
	OwnerID  string        `json:"owner_id"`
	Chapters []ChapterNode `json:"chapters"`
}

// ChapterNode is a chapter with its sorted sections.
type ChapterNode struct {
	ID       uint          `json:"id"`
	Title    string        `json:"title"`
	Order    int           `json:"order"`
	Sections []SectionNode `json:"sections"`
}

// SectionNode is a section with its sorted talking points.
type SectionNode struct {
	ID            uint               `json:"id"`
	Title         string             `json:"title"`
	Order         int                `json:"order"`
	TalkingPoints []TalkingPointNode `json:"talking_points"`
}

// TalkingPointNode is the leaf of the serialized tree.
type TalkingPointNode struct {
	ID      uint   `json:"id"`
	Text    string `json:"text"`
	Content string `json:"content"`
	Order   int    `json:"order"`
}

// Siblings sort by order ascending; equal orders fall back to id ascending so
// duplicate orders resolve in creation order.
func sortChapters(chapters []Chapter) {
	sort.SliceStable(chapters, func(i, j int) bool {
		if chapters[i].Order != chapters[j].Order {
			return chapters[i].Order < chapters[j].Order
		}
		return chapters[i].ID < chapters[j].ID
	})
}

func sortSections(sections []Section) {
	sort.SliceStable(sections, func(i, j int) bool {
		if sections[i].Order != sections[j].Order {
			return sections[i].Order < sections[j].Order
		}
		return sections[i].ID < sections[j].ID
	})
}

func sortTalkingPoints(points []TalkingPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Order != points[j].Order {
			return points[i].Order < points[j].Order
		}
		return points[i].ID < points[j].ID
	})
}
