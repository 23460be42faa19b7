// Package access is the single policy evaluator for book permissions. Every
// mutating endpoint resolves its predicate here instead of doing inline
// ownership checks.
package access

import (
	"context"
	"errors"
	"time"

	"github.com/inkfold/pilot/backend/internal/fault"
	"github.com/inkfold/pilot/backend/internal/outline"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opPolicyNew       = "access.policy.new"
	opResolve         = "access.resolve"
	opRequireAccess   = "access.require_access"
	opRequireEdit     = "access.require_edit"
	opRequireComment  = "access.require_comment"
	opRequireOwner    = "access.require_owner"
	opInvite          = "access.invite"
	opRemove          = "access.remove"
	opPurge           = "access.purge_book"
	opSharedBooks     = "access.shared_books"
	opListGrants      = "access.list_grants"
	reasonNotFound    = "not_found"
	reasonQueryFailed = "query_failed"
	reasonWriteFailed = "write_failed"
	reasonRoleDenied  = "role_denied"
	reasonOwnerOnly   = "owner_only"
	reasonOwnerInvite = "owner_invited"
)

var errMissingDatabase = errors.New("database handle is required")

// Membership resolves what a user is allowed to do with a book.
type Membership struct {
	IsOwner bool
	Role    Role
	HasRow  bool
}

// HasAccess reports whether the user may see the book at all.
func (m Membership) HasAccess() bool {
	return m.IsOwner || m.HasRow
}

// CanEdit reports whether the user may mutate content directly.
func (m Membership) CanEdit() bool {
	return m.IsOwner || (m.HasRow && m.Role == RoleEditor)
}

// CanComment reports whether the user may comment. Viewers are denied.
func (m Membership) CanComment() bool {
	return m.IsOwner || (m.HasRow && (m.Role == RoleEditor || m.Role == RoleCommenter))
}

// PolicyConfig describes the dependencies of the policy evaluator.
type PolicyConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Policy evaluates role predicates against (book, user) pairs and manages
// collaborator grants.
type Policy struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPolicy constructs the policy evaluator.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	if cfg.Database == nil {
		return nil, fault.Internal(opPolicyNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{db: cfg.Database, logger: logger}, nil
}

// Resolve loads the membership for a user on a book. A missing book yields
// NotFound; a user with no relation yields a zero membership, not an error.
func (p *Policy) Resolve(ctx context.Context, bookID uint, userID string) (Membership, error) {
	var book outline.Book
	err := p.db.WithContext(ctx).Where("id = ?", bookID).Take(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Membership{}, fault.NotFound(opResolve, reasonNotFound, err)
	}
	if err != nil {
		return Membership{}, fault.Internal(opResolve, reasonQueryFailed, err)
	}
	if book.OwnerID == userID {
		return Membership{IsOwner: true}, nil
	}
	var grant Collaborator
	err = p.db.WithContext(ctx).Where("book_id = ? AND user_id = ?", bookID, userID).Take(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Membership{}, nil
	}
	if err != nil {
		return Membership{}, fault.Internal(opResolve, reasonQueryFailed, err)
	}
	return Membership{Role: grant.Role, HasRow: true}, nil
}

// RequireAccess fails with NotFound (never Forbidden) when the user cannot see
// the book, so existence is not leaked.
func (p *Policy) RequireAccess(ctx context.Context, bookID uint, userID string) (Membership, error) {
	membership, err := p.Resolve(ctx, bookID, userID)
	if err != nil {
		return Membership{}, err
	}
	if !membership.HasAccess() {
		return Membership{}, fault.NotFound(opRequireAccess, reasonNotFound, nil)
	}
	return membership, nil
}

// RequireEdit fails with Forbidden when the user has access but not edit rights.
func (p *Policy) RequireEdit(ctx context.Context, bookID uint, userID string) (Membership, error) {
	membership, err := p.RequireAccess(ctx, bookID, userID)
	if err != nil {
		return Membership{}, err
	}
	if !membership.CanEdit() {
		return Membership{}, fault.Forbidden(opRequireEdit, reasonRoleDenied, nil)
	}
	return membership, nil
}

// RequireComment fails with Forbidden for viewer-role collaborators.
func (p *Policy) RequireComment(ctx context.Context, bookID uint, userID string) (Membership, error) {
	membership, err := p.RequireAccess(ctx, bookID, userID)
	if err != nil {
		return Membership{}, err
	}
	if !membership.CanComment() {
		return Membership{}, fault.Forbidden(opRequireComment, reasonRoleDenied, nil)
	}
	return membership, nil
}

// RequireOwner fails with Forbidden for anyone but the book owner.
func (p *Policy) RequireOwner(ctx context.Context, bookID uint, userID string) (Membership, error) {
	membership, err := p.RequireAccess(ctx, bookID, userID)
	if err != nil {
		return Membership{}, err
	}
	if !membership.IsOwner {
		return Membership{}, fault.Forbidden(opRequireOwner, reasonOwnerOnly, nil)
	}
	return membership, nil
}

// Invite grants or updates a collaborator role. Owner only; re-inviting the
// same user updates the role in place; the owner cannot be invited.
func (p *Policy) Invite(ctx context.Context, actorID string, bookID uint, targetUserID string, role Role) (Collaborator, error) {
	if _, err := p.RequireOwner(ctx, bookID, actorID); err != nil {
		return Collaborator{}, err
	}
	var book outline.Book
	if err := p.db.WithContext(ctx).Where("id = ?", bookID).Take(&book).Error; err != nil {
		return Collaborator{}, fault.Internal(opInvite, reasonQueryFailed, err)
	}
	if book.OwnerID == targetUserID {
		return Collaborator{}, fault.Invalid(opInvite, reasonOwnerInvite, nil)
	}

	var grant Collaborator
	err := p.db.WithContext(ctx).Where("book_id = ? AND user_id = ?", bookID, targetUserID).Take(&grant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		grant = Collaborator{BookID: bookID, UserID: targetUserID, Role: role}
		if createErr := p.db.WithContext(ctx).Create(&grant).Error; createErr != nil {
			return Collaborator{}, fault.Internal(opInvite, reasonWriteFailed, createErr)
		}
		p.logger.Info("collaborator invited",
			zap.Uint("book_id", bookID),
			zap.String("user_id", targetUserID),
			zap.String("role", string(role)))
		return grant, nil
	}
	if err != nil {
		return Collaborator{}, fault.Internal(opInvite, reasonQueryFailed, err)
	}

	grant.Role = role
	grant.UpdatedAt = time.Now()
	if saveErr := p.db.WithContext(ctx).Model(&Collaborator{}).
		Where("id = ?", grant.ID).
		Update("role", role).Error; saveErr != nil {
		return Collaborator{}, fault.Internal(opInvite, reasonWriteFailed, saveErr)
	}
	return grant, nil
}

// Remove deletes a collaborator grant. Owner only.
func (p *Policy) Remove(ctx context.Context, actorID string, bookID uint, targetUserID string) error {
	if _, err := p.RequireOwner(ctx, bookID, actorID); err != nil {
		return err
	}
	result := p.db.WithContext(ctx).
		Where("book_id = ? AND user_id = ?", bookID, targetUserID).
		Delete(&Collaborator{})
	if result.Error != nil {
		return fault.Internal(opRemove, reasonWriteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NotFound(opRemove, reasonNotFound, nil)
	}
	return nil
}

// PurgeBook removes every collaborator grant for a book. Runs inside the
// outline service's book deletion transaction, so grants cannot outlive the
// book and later leak onto a reused rowid.
func (p *Policy) PurgeBook(ctx context.Context, tx *gorm.DB, bookID uint) error {
	if err := tx.WithContext(ctx).Where("book_id = ?", bookID).Delete(&Collaborator{}).Error; err != nil {
		return fault.Internal(opPurge, reasonWriteFailed, err)
	}
	return nil
}

// SharedBookIDs lists the book ids shared with a user through any role.
func (p *Policy) SharedBookIDs(ctx context.Context, userID string) ([]uint, error) {
	var ids []uint
	if err := p.db.WithContext(ctx).Model(&Collaborator{}).
		Where("user_id = ?", userID).
		Pluck("book_id", &ids).Error; err != nil {
		return nil, fault.Internal(opSharedBooks, reasonQueryFailed, err)
	}
	return ids, nil
}

// ListGrants returns a book's collaborator rows. Requires access.
func (p *Policy) ListGrants(ctx context.Context, bookID uint, userID string) ([]Collaborator, error) {
	if _, err := p.RequireAccess(ctx, bookID, userID); err != nil {
		return nil, err
	}
	var grants []Collaborator
	if err := p.db.WithContext(ctx).
		Where("book_id = ?", bookID).
		Order("id ASC").
		Find(&grants).Error; err != nil {
		return nil, fault.Internal(opListGrants, reasonQueryFailed, err)
	}
	return grants, nil
}
