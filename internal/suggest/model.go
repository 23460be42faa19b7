package suggest

import "time"

// Status enumerates the lifecycle of a content change.
type Status string

const (
	// StatusPending means the change awaits the owner's decision.
	StatusPending Status = "pending"
	// StatusApproved means the owner accepted the change.
	StatusApproved Status = "approved"
	// StatusRejected means the owner declined the change.
	StatusRejected Status = "rejected"
)

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusPending, StatusApproved, StatusRejected:
		return Status(raw), true
	default:
		return "", false
	}
}

// ContentChange is a proposed edit to a talking point. The steps payload is an
// opaque JSON array in the same format the collaboration authority sequences;
// approval records the decision but never applies the steps server-side.
type ContentChange struct {
	ID             string     `gorm:"column:id;primaryKey;size:36"`
	TalkingPointID uint       `gorm:"column:talking_point_id;not null;index"`
	AuthorID       string     `gorm:"column:author_id;size:190;not null"`
	StepsJSON      string     `gorm:"column:steps_json;type:text;not null"`
	Comment        string     `gorm:"column:comment;type:text"`
	Status         Status     `gorm:"column:status;size:32;not null;default:'pending'"`
	ApprovedBy     string     `gorm:"column:approved_by;size:190"`
	ApprovedAt     *time.Time `gorm:"column:approved_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing content changes.
func (ContentChange) TableName() string {
	return "content_changes"
}
