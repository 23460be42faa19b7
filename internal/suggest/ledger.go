// Package suggest keeps the ledger of proposed content changes. Non-owner
// editors propose, the book owner decides, and the record of who changed what
// survives either outcome.
package suggest

import (
	"context"
	"encoding/json"
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
	opLedgerNew           = "suggest.ledger.new"
	opCreate              = "suggest.create"
	opList                = "suggest.list"
	opDecide              = "suggest.decide"
	opUpdateSteps         = "suggest.update_steps"
	opDelete              = "suggest.delete"
	opPurge               = "suggest.purge"
	reasonMissingDatabase = "missing_database"
	reasonMissingPolicy   = "missing_policy"
	reasonMissingOutline  = "missing_outline"
	reasonOwnerProposes   = "owner_proposes_directly"
	reasonEmptySteps      = "empty_steps"
	reasonBadSteps        = "malformed_steps"
	reasonBadStatus       = "bad_status"
	reasonSameStatus      = "already_in_status"
	reasonNotPending      = "not_pending"
	reasonNotFound        = "not_found"
	reasonNotAuthor       = "not_author_or_owner"
	reasonQueryFailed     = "query_failed"
	reasonWriteFailed     = "write_failed"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingPolicy   = errors.New("access policy is required")
	errMissingOutline  = errors.New("outline service is required")
)

// LedgerConfig describes the dependencies of the suggestion ledger.
type LedgerConfig struct {
	Database *gorm.DB
	Policy   *access.Policy
	Outline  *outline.Service
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Ledger manages content change proposals and decisions.
type Ledger struct {
	db      *gorm.DB
	policy  *access.Policy
	outline *outline.Service
	clock   func() time.Time
	logger  *zap.Logger
}

// NewLedger constructs the suggestion ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, fault.Internal(opLedgerNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Policy == nil {
		return nil, fault.Internal(opLedgerNew, reasonMissingPolicy, errMissingPolicy)
	}
	if cfg.Outline == nil {
		return nil, fault.Internal(opLedgerNew, reasonMissingOutline, errMissingOutline)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		db:      cfg.Database,
		policy:  cfg.Policy,
		outline: cfg.Outline,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Create records a pending change. Only non-owner editors propose: the owner
// edits content directly, and commenters or viewers lack edit rights.
func (l *Ledger) Create(ctx context.Context, authorID string, talkingPointID uint, stepsJSON, comment string) (ContentChange, error) {
	bookID, err := l.outline.BookIDForTalkingPoint(ctx, talkingPointID)
	if err != nil {
		return ContentChange{}, err
	}
	membership, err := l.policy.RequireEdit(ctx, bookID, authorID)
	if err != nil {
		return ContentChange{}, err
	}
	if membership.IsOwner {
		return ContentChange{}, fault.Invalid(opCreate, reasonOwnerProposes, nil)
	}
	if err := validateSteps(stepsJSON, opCreate); err != nil {
		return ContentChange{}, err
	}

	change := ContentChange{
		ID:             uuid.NewString(),
		TalkingPointID: talkingPointID,
		AuthorID:       authorID,
		StepsJSON:      stepsJSON,
		Comment:        strings.TrimSpace(comment),
		Status:         StatusPending,
		CreatedAt:      l.clock(),
	}
	if err := l.db.WithContext(ctx).Create(&change).Error; err != nil {
		return ContentChange{}, fault.Internal(opCreate, reasonWriteFailed, err)
	}
	l.logger.Info("change proposed",
		zap.String("change_id", change.ID),
		zap.Uint("talking_point_id", talkingPointID),
		zap.String("author_id", authorID))
	return change, nil
}

// List returns a talking point's changes in creation order, optionally
// filtered by status. Requires book access.
func (l *Ledger) List(ctx context.Context, userID string, talkingPointID uint, status *Status) ([]ContentChange, error) {
	bookID, err := l.outline.BookIDForTalkingPoint(ctx, talkingPointID)
	if err != nil {
		return nil, err
	}
	if _, err := l.policy.RequireAccess(ctx, bookID, userID); err != nil {
		return nil, err
	}

	query := l.db.WithContext(ctx).Where("talking_point_id = ?", talkingPointID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	var changes []ContentChange
	if err := query.Order("created_at ASC, id ASC").Find(&changes).Error; err != nil {
		return nil, fault.Internal(opList, reasonQueryFailed, err)
	}
	return changes, nil
}

// Decide approves or rejects a change. Owner only. Transitioning to the status
// the change already has is a conflict and leaves the row untouched. Approval
// stamps the decision; any other transition clears it. Steps are never applied
// to content here, clients replay approved steps through the collaboration
// authority.
func (l *Ledger) Decide(ctx context.Context, actorID, changeID string, next Status) (ContentChange, error) {
	if next != StatusApproved && next != StatusRejected {
		return ContentChange{}, fault.Invalid(opDecide, reasonBadStatus, nil)
	}
	change, bookID, err := l.changeWithBook(ctx, changeID, opDecide)
	if err != nil {
		return ContentChange{}, err
	}
	if _, err := l.policy.RequireOwner(ctx, bookID, actorID); err != nil {
		return ContentChange{}, err
	}
	if change.Status == next {
		return ContentChange{}, fault.Conflict(opDecide, reasonSameStatus, nil)
	}

	updates := map[string]interface{}{"status": next}
	if next == StatusApproved {
		now := l.clock()
		updates["approved_by"] = actorID
		updates["approved_at"] = &now
	} else {
		updates["approved_by"] = ""
		updates["approved_at"] = nil
	}
	if err := l.db.WithContext(ctx).Model(&ContentChange{}).
		Where("id = ?", changeID).
		Updates(updates).Error; err != nil {
		return ContentChange{}, fault.Internal(opDecide, reasonWriteFailed, err)
	}

	l.logger.Info("change decided",
		zap.String("change_id", changeID),
		zap.String("status", string(next)),
		zap.String("actor_id", actorID))
	return l.get(ctx, changeID)
}

// UpdateSteps repositions a pending change's payload, typically after the
// author rebased against newer collaboration steps. Author or owner.
func (l *Ledger) UpdateSteps(ctx context.Context, actorID, changeID, stepsJSON string) (ContentChange, error) {
	change, bookID, err := l.changeWithBook(ctx, changeID, opUpdateSteps)
	if err != nil {
		return ContentChange{}, err
	}
	membership, err := l.policy.RequireAccess(ctx, bookID, actorID)
	if err != nil {
		return ContentChange{}, err
	}
	if change.AuthorID != actorID && !membership.IsOwner {
		return ContentChange{}, fault.Forbidden(opUpdateSteps, reasonNotAuthor, nil)
	}
	if change.Status != StatusPending {
		return ContentChange{}, fault.Conflict(opUpdateSteps, reasonNotPending, nil)
	}
	if err := validateSteps(stepsJSON, opUpdateSteps); err != nil {
		return ContentChange{}, err
	}

	if err := l.db.WithContext(ctx).Model(&ContentChange{}).
		Where("id = ?", changeID).
		Update("steps_json", stepsJSON).Error; err != nil {
		return ContentChange{}, fault.Internal(opUpdateSteps, reasonWriteFailed, err)
	}
	return l.get(ctx, changeID)
}

// Delete removes a change. Author or book owner.
func (l *Ledger) Delete(ctx context.Context, actorID, changeID string) error {
	change, bookID, err := l.changeWithBook(ctx, changeID, opDelete)
	if err != nil {
		return err
	}
	membership, err := l.policy.RequireAccess(ctx, bookID, actorID)
	if err != nil {
		return err
	}
	if change.AuthorID != actorID && !membership.IsOwner {
		return fault.Forbidden(opDelete, reasonNotAuthor, nil)
	}
	if err := l.db.WithContext(ctx).Delete(&ContentChange{}, "id = ?", changeID).Error; err != nil {
		return fault.Internal(opDelete, reasonWriteFailed, err)
	}
	return nil
}

// PurgeTalkingPoints removes changes for deleted talking points. Called inside
// the outline cascade transaction.
func (l *Ledger) PurgeTalkingPoints(ctx context.Context, tx *gorm.DB, talkingPointIDs []uint) error {
	if len(talkingPointIDs) == 0 {
		return nil
	}
	if err := tx.WithContext(ctx).Where("talking_point_id IN ?", talkingPointIDs).Delete(&ContentChange{}).Error; err != nil {
		return fault.Internal(opPurge, reasonWriteFailed, err)
	}
	return nil
}

func (l *Ledger) get(ctx context.Context, changeID string) (ContentChange, error) {
	var change ContentChange
	if err := l.db.WithContext(ctx).Where("id = ?", changeID).Take(&change).Error; err != nil {
		return ContentChange{}, fault.Internal(opDecide, reasonQueryFailed, err)
	}
	return change, nil
}

func (l *Ledger) changeWithBook(ctx context.Context, changeID, op string) (ContentChange, uint, error) {
	var change ContentChange
	err := l.db.WithContext(ctx).Where("id = ?", changeID).Take(&change).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ContentChange{}, 0, fault.NotFound(op, reasonNotFound, err)
	}
	if err != nil {
		return ContentChange{}, 0, fault.Internal(op, reasonQueryFailed, err)
	}
	bookID, err := l.outline.BookIDForTalkingPoint(ctx, change.TalkingPointID)
	if err != nil {
		return ContentChange{}, 0, err
	}
	return change, bookID, nil
}

func validateSteps(stepsJSON, op string) error {
	trimmed := strings.TrimSpace(stepsJSON)
	if trimmed == "" {
		return fault.Invalid(op, reasonEmptySteps, nil)
	}
	var steps []json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &steps); err != nil {
		return fault.Invalid(op, reasonBadSteps, err)
	}
	if len(steps) == 0 {
		return fault.Invalid(op, reasonEmptySteps, nil)
	}
	return nil
}
