package collab

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidStepBatch indicates a malformed step submission.
	ErrInvalidStepBatch = errors.New("collab: invalid step batch")
	// ErrInvalidClientID indicates an empty or oversized client identifier.
	ErrInvalidClientID = errors.New("collab: invalid client id")
)

const maxClientIDLength = 190

// State is the single source of truth for a talking point's convergent
// document: the count of accepted steps is the version, and the two JSON
// arrays stay index-aligned at all times.
type State struct {
	TalkingPointID uint   `gorm:"column:talking_point_id;primaryKey"`
	Version        int64  `gorm:"column:version;not null;default:0"`
	StepsJSON      string `gorm:"column:steps_json;type:text;not null;default:'[]'"`
	ClientIDsJSON  string `gorm:"column:client_ids_json;type:text;not null;default:'[]'"`
}

// TableName exposes the table backing collaboration state.
func (State) TableName() string {
	return "collaboration_states"
}

func (s *State) decodeSteps() ([]json.RawMessage, error) {
	steps := make([]json.RawMessage, 0)
	if s.StepsJSON == "" {
		return steps, nil
	}
	if err := json.Unmarshal([]byte(s.StepsJSON), &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

func (s *State) decodeClientIDs() ([]string, error) {
	clientIDs := make([]string, 0)
	if s.ClientIDsJSON == "" {
		return clientIDs, nil
	}
	if err := json.Unmarshal([]byte(s.ClientIDsJSON), &clientIDs); err != nil {
		return nil, err
	}
	return clientIDs, nil
}

// StepBatch is a validated client submission: the base version the client last
// saw, the ordered opaque steps, and the submitting client's identifier.
type StepBatch struct {
	baseVersion int64
	steps       []json.RawMessage
	clientID    string
}

// StepBatchConfig describes the inputs required to build a StepBatch.
type StepBatchConfig struct {
	BaseVersion int64
	Steps       []json.RawMessage
	ClientID    string
}

// NewStepBatch validates the submission. Steps must be non-empty and each
// step must be well-formed JSON; contents are never interpreted.
func NewStepBatch(cfg StepBatchConfig) (StepBatch, error) {
	if cfg.BaseVersion < 0 {
		return StepBatch{}, fmt.Errorf("%w: negative base version", ErrInvalidStepBatch)
	}
	if len(cfg.Steps) == 0 {
		return StepBatch{}, fmt.Errorf("%w: empty steps", ErrInvalidStepBatch)
	}
	for index, step := range cfg.Steps {
		if len(step) == 0 || !json.Valid(step) {
			return StepBatch{}, fmt.Errorf("%w: step %d is not valid JSON", ErrInvalidStepBatch, index)
		}
	}
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return StepBatch{}, fmt.Errorf("%w: empty", ErrInvalidClientID)
	}
	if len(clientID) > maxClientIDLength {
		return StepBatch{}, fmt.Errorf("%w: exceeds %d characters", ErrInvalidClientID, maxClientIDLength)
	}
	return StepBatch{
		baseVersion: cfg.BaseVersion,
		steps:       cfg.Steps,
		clientID:    clientID,
	}, nil
}

// BaseVersion returns the version the client last saw.
func (b StepBatch) BaseVersion() int64 {
	return b.baseVersion
}

// Steps returns the ordered opaque steps.
func (b StepBatch) Steps() []json.RawMessage {
	return b.steps
}

// ClientID returns the submitting client's identifier.
func (b StepBatch) ClientID() string {
	return b.clientID
}

// VersionConflictError reports a rejected submission and the version the
// client must catch up to before retrying.
type VersionConflictError struct {
	CurrentVersion int64
}

// Error renders the conflict.
func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("collab: version mismatch, current version is %d", e.CurrentVersion)
}

// ReceiveResult reports an accepted submission.
type ReceiveResult struct {
	Version int64
}

// StepsPage is the replay slice returned by StepsSince.
type StepsPage struct {
	Steps     []json.RawMessage
	ClientIDs []string
	Version   int64
}
