package access

import "time"

// Role enumerates the collaborator roles on a book.
type Role string

const (
	// RoleEditor may edit talking points directly and propose suggestions.
	RoleEditor Role = "editor"
	// RoleCommenter may read and comment but not edit.
	RoleCommenter Role = "commenter"
	// RoleViewer may only read.
	RoleViewer Role = "viewer"
)

// ParseRole validates a raw role string.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleEditor, RoleCommenter, RoleViewer:
		return Role(raw), true
	default:
		return "", false
	}
}

// Collaborator records a (book, user) grant. The pair is unique; re-inviting
// updates the role in place.
type Collaborator struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	BookID    uint      `gorm:"column:book_id;not null;uniqueIndex:idx_collab_book_user,priority:1"`
	UserID    string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_collab_book_user,priority:2"`
	Role      Role      `gorm:"column:role;size:32;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing collaborator grants.
func (Collaborator) TableName() string {
	return "book_collaborators"
}
