package positioning

import (
	"fmt"
	"time"
)

// Status enumerates pillar lifecycle states.
type Status string

const (
	// StatusLocked means the pillar is not yet reachable.
	StatusLocked Status = "locked"
	// StatusActive means the pillar's interview is open.
	StatusActive Status = "active"
	// StatusComplete means the pillar's criteria are satisfied.
	StatusComplete Status = "complete"
)

// Pillar is one of the nine positioning topics for a book. Pillars unlock in
// strict ordinal order.
type Pillar struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	BookID     uint      `gorm:"column:book_id;not null;uniqueIndex:idx_pillar_book_ordinal,priority:1"`
	Ordinal    int       `gorm:"column:ordinal;not null;uniqueIndex:idx_pillar_book_ordinal,priority:2"`
	Name       string    `gorm:"column:name;size:190;not null"`
	Status     Status    `gorm:"column:status;size:32;not null"`
	DepthScore int       `gorm:"column:depth_score;not null;default:0"`
	Summary    string    `gorm:"column:summary;type:text"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing pillars.
func (Pillar) TableName() string {
	return "positioning_pillars"
}

// ChatMessage is one turn in a pillar's interview transcript.
type ChatMessage struct {
	ID        uint      `gorm:"column:id;primaryKey;autoIncrement"`
	PillarID  uint      `gorm:"column:pillar_id;not null;index"`
	Role      string    `gorm:"column:role;size:32;not null"`
	Body      string    `gorm:"column:body;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing pillar chat messages.
func (ChatMessage) TableName() string {
	return "pillar_chat_messages"
}

const (
	roleUser      = "user"
	roleAssistant = "assistant"
)

// Brief is the stored aggregate of the nine pillar summaries.
type Brief struct {
	BookID    uint      `gorm:"column:book_id;primaryKey"`
	Body      string    `gorm:"column:body;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing positioning briefs.
func (Brief) TableName() string {
	return "positioning_briefs"
}

// IncompletePillarsError carries the names blocking outline generation.
type IncompletePillarsError struct {
	Names []string
}

// Error renders the gate failure.
func (e *IncompletePillarsError) Error() string {
	return fmt.Sprintf("positioning: %d pillars incomplete", len(e.Names))
}

// Definition is one entry of the immutable pillar table.
type Definition struct {
	Ordinal  int
	Name     string
	Criteria string
}

// definitions is the fixed nine-pillar interview, loaded once and never
// mutated at runtime.
var definitions = [9]Definition{
	{1, "Target Reader", "Who exactly is this book for: demographics, situation, and the moment they reach for it."},
	{2, "Core Problem", "The single painful, specific problem the reader has that this book addresses."},
	{3, "Promise", "The concrete transformation or outcome the reader gets by the final page."},
	{4, "Differentiation", "Why this book and not the five adjacent titles already on the shelf."},
	{5, "Author Credibility", "The experience, research, or results that qualify the author to make the promise."},
	{6, "Voice and Tone", "How the book should sound: register, pacing, and the relationship with the reader."},
	{7, "Market Category", "Where the book sits: genre, comparable titles, and shelf placement."},
	{8, "Reader Journey", "The emotional and practical arc the reader travels from chapter one to the end."},
	{9, "Call to Action", "What the reader should do, believe, or change after finishing."},
}

// Definitions returns a copy of the pillar table.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions[:])
	return out
}

func definitionByOrdinal(ordinal int) (Definition, bool) {
	for _, def := range definitions {
		if def.Ordinal == ordinal {
			return def, true
		}
	}
	return Definition{}, false
}
