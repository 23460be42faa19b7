// Package collab implements the collaboration authority: a sequencer that
// totally orders edit steps per talking point. The server never merges or
// transforms steps; clients rebase against the history and retry on conflict.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/inkfold/pilot/backend/internal/access"
	"github.com/inkfold/pilot/backend/internal/fault"
	"github.com/inkfold/pilot/backend/internal/outline"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opAuthorityNew        = "collab.authority.new"
	opGetState            = "collab.get_state"
	opReceiveSteps        = "collab.receive_steps"
	opStepsSince          = "collab.steps_since"
	opPurge               = "collab.purge"
	reasonMissingDatabase = "missing_database"
	reasonMissingPolicy   = "missing_policy"
	reasonMissingOutline  = "missing_outline"
	reasonQueryFailed     = "query_failed"
	reasonWriteFailed     = "write_failed"
	reasonDecodeFailed    = "decode_failed"
	reasonEncodeFailed    = "encode_failed"
	reasonVersionMismatch = "version_mismatch"
	reasonNegativeSince   = "negative_since"
	reasonLostRace        = "lost_race"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingPolicy   = errors.New("access policy is required")
	errMissingOutline  = errors.New("outline service is required")
)

// AuthorityConfig describes the dependencies of the collaboration authority.
type AuthorityConfig struct {
	Database *gorm.DB
	Policy   *access.Policy
	Outline  *outline.Service
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Authority sequences edit steps for talking points.
type Authority struct {
	db      *gorm.DB
	policy  *access.Policy
	outline *outline.Service
	clock   func() time.Time
	logger  *zap.Logger
}

// NewAuthority constructs the collaboration authority.
func NewAuthority(cfg AuthorityConfig) (*Authority, error) {
	if cfg.Database == nil {
		return nil, fault.Internal(opAuthorityNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Policy == nil {
		return nil, fault.Internal(opAuthorityNew, reasonMissingPolicy, errMissingPolicy)
	}
	if cfg.Outline == nil {
		return nil, fault.Internal(opAuthorityNew, reasonMissingOutline, errMissingOutline)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authority{
		db:      cfg.Database,
		policy:  cfg.Policy,
		outline: cfg.Outline,
		clock:   clock,
		logger:  logger,
	}, nil
}

// GetState lazily creates the version-0 state for a talking point and returns
// the current version. Any user with book access may call it.
func (a *Authority) GetState(ctx context.Context, userID string, talkingPointID uint) (int64, error) {
	if err := a.requireAccess(ctx, userID, talkingPointID); err != nil {
		return 0, err
	}

	var state State
	err := a.db.WithContext(ctx).Where("talking_point_id = ?", talkingPointID).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = State{TalkingPointID: talkingPointID, Version: 0, StepsJSON: "[]", ClientIDsJSON: "[]"}
		createErr := a.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&state).Error
		if createErr != nil {
			return 0, fault.Internal(opGetState, reasonWriteFailed, createErr)
		}
		// re-read in case a concurrent call created the row first
		if readErr := a.db.WithContext(ctx).Where("talking_point_id = ?", talkingPointID).Take(&state).Error; readErr != nil {
			return 0, fault.Internal(opGetState, reasonQueryFailed, readErr)
		}
		return state.Version, nil
	}
	if err != nil {
		return 0, fault.Internal(opGetState, reasonQueryFailed, err)
	}
	return state.Version, nil
}

// ReceiveSteps appends a batch of steps when the client's base version matches
// the current version. The version check and append happen inside one
// transaction with the state row locked, so two submissions racing on the
// same base version cannot both succeed.
func (a *Authority) ReceiveSteps(ctx context.Context, userID string, talkingPointID uint, batch StepBatch) (ReceiveResult, error) {
	if err := a.requireEdit(ctx, userID, talkingPointID); err != nil {
		return ReceiveResult{}, err
	}

	var newVersion int64
	transactionError := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var state State
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("talking_point_id = ?", talkingPointID).
			Take(&state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			state = State{TalkingPointID: talkingPointID, Version: 0, StepsJSON: "[]", ClientIDsJSON: "[]"}
			if createErr := tx.Create(&state).Error; createErr != nil {
				return fault.Internal(opReceiveSteps, reasonWriteFailed, createErr)
			}
		} else if err != nil {
			return fault.Internal(opReceiveSteps, reasonQueryFailed, err)
		}

		if batch.BaseVersion() != state.Version {
			return fault.Conflict(opReceiveSteps, reasonVersionMismatch, &VersionConflictError{CurrentVersion: state.Version})
		}

		steps, decodeErr := state.decodeSteps()
		if decodeErr != nil {
			return fault.Internal(opReceiveSteps, reasonDecodeFailed, decodeErr)
		}
		clientIDs, decodeErr := state.decodeClientIDs()
		if decodeErr != nil {
			return fault.Internal(opReceiveSteps, reasonDecodeFailed, decodeErr)
		}

		steps = append(steps, batch.Steps()...)
		for range batch.Steps() {
			clientIDs = append(clientIDs, batch.ClientID())
		}

		stepsJSON, encodeErr := json.Marshal(steps)
		if encodeErr != nil {
			return fault.Internal(opReceiveSteps, reasonEncodeFailed, encodeErr)
		}
		clientIDsJSON, encodeErr := json.Marshal(clientIDs)
		if encodeErr != nil {
			return fault.Internal(opReceiveSteps, reasonEncodeFailed, encodeErr)
		}

		newVersion = int64(len(steps))
		// compare-and-swap on version guards against lock-less backends
		result := tx.Model(&State{}).
			Where("talking_point_id = ? AND version = ?", talkingPointID, batch.BaseVersion()).
			Updates(map[string]interface{}{
				"version":         newVersion,
				"steps_json":      string(stepsJSON),
				"client_ids_json": string(clientIDsJSON),
			})
		if result.Error != nil {
			return fault.Internal(opReceiveSteps, reasonWriteFailed, result.Error)
		}
		if result.RowsAffected == 0 {
			return fault.Conflict(opReceiveSteps, reasonLostRace, &VersionConflictError{CurrentVersion: state.Version})
		}
		return nil
	})
	if transactionError != nil {
		return ReceiveResult{}, transactionError
	}

	a.logger.Debug("steps accepted",
		zap.Uint("talking_point_id", talkingPointID),
		zap.String("client_id", batch.ClientID()),
		zap.Int("steps", len(batch.Steps())),
		zap.Int64("version", newVersion))
	return ReceiveResult{Version: newVersion}, nil
}

// StepsSince returns the steps and client ids at indexes >= since, plus the
// current version. A since beyond the history yields empty slices.
func (a *Authority) StepsSince(ctx context.Context, userID string, talkingPointID uint, since int64) (StepsPage, error) {
	if since < 0 {
		return StepsPage{}, fault.Invalid(opStepsSince, reasonNegativeSince, nil)
	}
	if err := a.requireAccess(ctx, userID, talkingPointID); err != nil {
		return StepsPage{}, err
	}

	var state State
	err := a.db.WithContext(ctx).Where("talking_point_id = ?", talkingPointID).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StepsPage{Steps: []json.RawMessage{}, ClientIDs: []string{}, Version: 0}, nil
	}
	if err != nil {
		return StepsPage{}, fault.Internal(opStepsSince, reasonQueryFailed, err)
	}

	steps, decodeErr := state.decodeSteps()
	if decodeErr != nil {
		return StepsPage{}, fault.Internal(opStepsSince, reasonDecodeFailed, decodeErr)
	}
	clientIDs, decodeErr := state.decodeClientIDs()
	if decodeErr != nil {
		return StepsPage{}, fault.Internal(opStepsSince, reasonDecodeFailed, decodeErr)
	}

	if since >= int64(len(steps)) {
		return StepsPage{Steps: []json.RawMessage{}, ClientIDs: []string{}, Version: state.Version}, nil
	}
	return StepsPage{
		Steps:     steps[since:],
		ClientIDs: clientIDs[since:],
		Version:   state.Version,
	}, nil
}

// PurgeTalkingPoints removes collaboration state for deleted talking points.
// Called inside the outline cascade transaction.
func (a *Authority) PurgeTalkingPoints(ctx context.Context, tx *gorm.DB, talkingPointIDs []uint) error {
	if len(talkingPointIDs) == 0 {
		return nil
	}
	if err := tx.WithContext(ctx).Where("talking_point_id IN ?", talkingPointIDs).Delete(&State{}).Error; err != nil {
		return fault.Internal(opPurge, reasonWriteFailed, err)
	}
	return nil
}

func (a *Authority) requireAccess(ctx context.Context, userID string, talkingPointID uint) error {
	bookID, err := a.outline.BookIDForTalkingPoint(ctx, talkingPointID)
	if err != nil {
		return err
	}
	_, err = a.policy.RequireAccess(ctx, bookID, userID)
	return err
}

func (a *Authority) requireEdit(ctx context.Context, userID string, talkingPointID uint) error {
	bookID, err := a.outline.BookIDForTalkingPoint(ctx, talkingPointID)
	if err != nil {
		return err
	}
	_, err = a.policy.RequireEdit(ctx, bookID, userID)
	return err
}
