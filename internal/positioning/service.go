// Package positioning runs the nine-pillar interview that gates outline
// generation. Pillars unlock one at a time; each keeps its own chat
// transcript and a depth score recomputed every turn.
package positioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/inkfold/pilot/backend/internal/access"
	"github.com/inkfold/pilot/backend/internal/fault"
	"github.com/inkfold/pilot/backend/internal/outline"
	"github.com/inkfold/pilot/backend/internal/textgen"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew          = "positioning.service.new"
	opInitialize          = "positioning.initialize"
	opListPillars         = "positioning.list"
	opChatTurn            = "positioning.chat_turn"
	opCompleteManually    = "positioning.complete_manually"
	opReset               = "positioning.reset"
	opPurge               = "positioning.purge_book"
	opBrief               = "positioning.brief"
	opGenerateOutline     = "positioning.generate_outline"
	reasonMissingDatabase = "missing_database"
	reasonMissingPolicy   = "missing_policy"
	reasonMissingOutline  = "missing_outline"
	reasonMissingWriter   = "missing_writer"
	reasonNotFound        = "not_found"
	reasonQueryFailed     = "query_failed"
	reasonWriteFailed     = "write_failed"
	reasonEmptyMessage    = "empty_message"
	reasonPillarLocked    = "pillar_locked"
	reasonPillarComplete  = "pillar_complete"
	reasonPillarInactive  = "pillar_not_active"
	reasonTooFewMessages  = "too_few_user_messages"
	reasonScoreTooLow     = "score_below_threshold"
	reasonPillarsGate     = "pillars_incomplete"
	reasonBadOutline      = "unparseable_outline"
)

const (
	// completionMarker is the explicit signal the interviewer model emits
	// when a pillar's criteria are satisfied mid-conversation.
	completionMarker = "[PILLAR_COMPLETE]"

	autoCompleteScore   = 80
	manualCompleteScore = 60
	manualMinUserTurns  = 2
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingPolicy   = errors.New("access policy is required")
	errMissingOutline  = errors.New("outline service is required")
	errMissingWriter   = errors.New("text writer is required")
)

// ServiceConfig describes the dependencies of the positioning service.
type ServiceConfig struct {
	Database *gorm.DB
	Policy   *access.Policy
	Outline  *outline.Service
	Writer   textgen.Writer
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns pillar state, interview transcripts, the aggregate brief and
// the gated outline generation.
type Service struct {
	db      *gorm.DB
	policy  *access.Policy
	outline *outline.Service
	writer  textgen.Writer
	clock   func() time.Time
	logger  *zap.Logger
}

// NewService constructs the positioning service.
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
	if cfg.Writer == nil {
		return nil, fault.Internal(opServiceNew, reasonMissingWriter, errMissingWriter)
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
		writer:  cfg.Writer,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Initialize creates the nine pillar rows for a book if absent. Idempotent:
// when any pillar exists the call returns the current rows untouched.
func (s *Service) Initialize(ctx context.Context, userID string, bookID uint) ([]Pillar, error) {
	if _, err := s.policy.RequireEdit(ctx, bookID, userID); err != nil {
		return nil, err
	}

	transactionError := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Pillar{}).Where("book_id = ?", bookID).Count(&count).Error; err != nil {
			return fault.Internal(opInitialize, reasonQueryFailed, err)
		}
		if count > 0 {
			return nil
		}
		for _, def := range definitions {
			status := StatusLocked
			if def.Ordinal == 1 {
				status = StatusActive
			}
			pillar := Pillar{BookID: bookID, Ordinal: def.Ordinal, Name: def.Name, Status: status}
			if err := tx.Create(&pillar).Error; err != nil {
				return fault.Internal(opInitialize, reasonWriteFailed, err)
			}
		}
		return nil
	})
	if transactionError != nil {
		return nil, transactionError
	}
	return s.pillarsForBook(ctx, bookID)
}

// ListPillars returns a book's pillars in ordinal order. Requires access.
func (s *Service) ListPillars(ctx context.Context, userID string, bookID uint) ([]Pillar, error) {
	if _, err := s.policy.RequireAccess(ctx, bookID, userID); err != nil {
		return nil, err
	}
	return s.pillarsForBook(ctx, bookID)
}

// Messages returns a pillar's transcript oldest first. Requires access.
func (s *Service) Messages(ctx context.Context, userID string, pillarID uint) ([]ChatMessage, error) {
	pillar, err := s.pillarForUser(ctx, userID, pillarID, false)
	if err != nil {
		return nil, err
	}
	var messages []ChatMessage
	if err := s.db.WithContext(ctx).
		Where("pillar_id = ?", pillar.ID).
		Order("id ASC").
		Find(&messages).Error; err != nil {
		return nil, fault.Internal(opListPillars, reasonQueryFailed, err)
	}
	return messages, nil
}

// ChatTurnResult reports one completed interview exchange.
type ChatTurnResult struct {
	Reply  string
	Pillar Pillar
}

// ChatTurn appends the user message, generates the interviewer's reply, and
// rescores the transcript. Both messages and the score commit in one
// transaction only after generation succeeds, so an upstream failure leaves
// no dangling user turn for a retry to duplicate. The pillar completes
// automatically when the reply carries the completion marker or the score
// reaches the automatic threshold. A failed scoring pass degrades to score 0
// without failing the turn.
func (s *Service) ChatTurn(ctx context.Context, userID string, pillarID uint, message string) (ChatTurnResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return ChatTurnResult{}, fault.Invalid(opChatTurn, reasonEmptyMessage, nil)
	}
	pillar, err := s.pillarForUser(ctx, userID, pillarID, true)
	if err != nil {
		return ChatTurnResult{}, err
	}
	switch pillar.Status {
	case StatusLocked:
		return ChatTurnResult{}, fault.Conflict(opChatTurn, reasonPillarLocked, nil)
	case StatusComplete:
		return ChatTurnResult{}, fault.Conflict(opChatTurn, reasonPillarComplete, nil)
	}
	def, ok := definitionByOrdinal(pillar.Ordinal)
	if !ok {
		return ChatTurnResult{}, fault.Internal(opChatTurn, reasonNotFound, nil)
	}

	prior, err := s.transcript(ctx, pillar.ID)
	if err != nil {
		return ChatTurnResult{}, err
	}
	transcript := prior + roleUser + ": " + message + "\n"

	reply, err := s.writer.GenerateText(ctx, interviewPrompt(def, transcript))
	if err != nil {
		return ChatTurnResult{}, err
	}
	markerPresent := strings.Contains(reply, completionMarker)
	reply = strings.TrimSpace(strings.ReplaceAll(reply, completionMarker, ""))

	score := s.scoreTranscript(ctx, def, transcript+roleAssistant+": "+reply)

	transactionError := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ChatMessage{
			PillarID:  pillar.ID,
			Role:      roleUser,
			Body:      message,
			CreatedAt: s.clock(),
		}).Error; err != nil {
			return fault.Internal(opChatTurn, reasonWriteFailed, err)
		}
		if err := tx.Create(&ChatMessage{
			PillarID:  pillar.ID,
			Role:      roleAssistant,
			Body:      reply,
			CreatedAt: s.clock(),
		}).Error; err != nil {
			return fault.Internal(opChatTurn, reasonWriteFailed, err)
		}
		if err := tx.Model(&Pillar{}).
			Where("id = ?", pillar.ID).
			Update("depth_score", score).Error; err != nil {
			return fault.Internal(opChatTurn, reasonWriteFailed, err)
		}
		return nil
	})
	if transactionError != nil {
		return ChatTurnResult{}, transactionError
	}
	pillar.DepthScore = score

	if markerPresent || score >= autoCompleteScore {
		if err := s.complete(ctx, &pillar, def); err != nil {
			return ChatTurnResult{}, err
		}
	}
	return ChatTurnResult{Reply: reply, Pillar: pillar}, nil
}

// CompleteManually completes an active pillar on the user's request. Requires
// at least two prior user turns and a depth score at or above the manual
// threshold.
func (s *Service) CompleteManually(ctx context.Context, userID string, pillarID uint) (Pillar, error) {
	pillar, err := s.pillarForUser(ctx, userID, pillarID, true)
	if err != nil {
		return Pillar{}, err
	}
	if pillar.Status != StatusActive {
		return Pillar{}, fault.Conflict(opCompleteManually, reasonPillarInactive, nil)
	}

	var userTurns int64
	if err := s.db.WithContext(ctx).Model(&ChatMessage{}).
		Where("pillar_id = ? AND role = ?", pillar.ID, roleUser).
		Count(&userTurns).Error; err != nil {
		return Pillar{}, fault.Internal(opCompleteManually, reasonQueryFailed, err)
	}
	if userTurns < manualMinUserTurns {
		return Pillar{}, fault.Invalid(opCompleteManually, reasonTooFewMessages, nil)
	}
	if pillar.DepthScore < manualCompleteScore {
		return Pillar{}, fault.Invalid(opCompleteManually, reasonScoreTooLow, nil)
	}

	def, ok := definitionByOrdinal(pillar.Ordinal)
	if !ok {
		return Pillar{}, fault.Internal(opCompleteManually, reasonNotFound, nil)
	}
	if err := s.complete(ctx, &pillar, def); err != nil {
		return Pillar{}, err
	}
	return pillar, nil
}

// Reset clears a pillar's transcript and score and forces it ACTIVE, even
// from COMPLETE. A LOCKED pillar was never active and stays locked: resetting
// it would skip the linear unlock order. The stored brief is deleted because
// it was derived from the now-stale summary.
func (s *Service) Reset(ctx context.Context, userID string, pillarID uint) (Pillar, error) {
	pillar, err := s.pillarForUser(ctx, userID, pillarID, true)
	if err != nil {
		return Pillar{}, err
	}
	if pillar.Status == StatusLocked {
		return Pillar{}, fault.Conflict(opReset, reasonPillarLocked, nil)
	}
	transactionError := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("pillar_id = ?", pillar.ID).Delete(&ChatMessage{}).Error; err != nil {
			return fault.Internal(opReset, reasonWriteFailed, err)
		}
		if err := tx.Model(&Pillar{}).Where("id = ?", pillar.ID).Updates(map[string]interface{}{
			"status":      StatusActive,
			"depth_score": 0,
			"summary":     "",
		}).Error; err != nil {
			return fault.Internal(opReset, reasonWriteFailed, err)
		}
		if err := tx.Where("book_id = ?", pillar.BookID).Delete(&Brief{}).Error; err != nil {
			return fault.Internal(opReset, reasonWriteFailed, err)
		}
		return nil
	})
	if transactionError != nil {
		return Pillar{}, transactionError
	}
	pillar.Status = StatusActive
	pillar.DepthScore = 0
	pillar.Summary = ""
	s.logger.Info("pillar reset", zap.Uint("pillar_id", pillar.ID), zap.Uint("book_id", pillar.BookID))
	return pillar, nil
}

// PurgeBook removes a book's pillars, their transcripts and the brief. Runs
// inside the outline service's book deletion transaction.
func (s *Service) PurgeBook(ctx context.Context, tx *gorm.DB, bookID uint) error {
	var pillarIDs []uint
	if err := tx.WithContext(ctx).Model(&Pillar{}).Where("book_id = ?", bookID).Pluck("id", &pillarIDs).Error; err != nil {
		return fault.Internal(opPurge, reasonQueryFailed, err)
	}
	if len(pillarIDs) > 0 {
		if err := tx.WithContext(ctx).Where("pillar_id IN ?", pillarIDs).Delete(&ChatMessage{}).Error; err != nil {
			return fault.Internal(opPurge, reasonWriteFailed, err)
		}
		if err := tx.WithContext(ctx).Where("id IN ?", pillarIDs).Delete(&Pillar{}).Error; err != nil {
			return fault.Internal(opPurge, reasonWriteFailed, err)
		}
	}
	if err := tx.WithContext(ctx).Where("book_id = ?", bookID).Delete(&Brief{}).Error; err != nil {
		return fault.Internal(opPurge, reasonWriteFailed, err)
	}
	return nil
}

// GenerateOutline runs the gate, ensures the brief, asks the writer for a
// structured outline and materializes it under the book.
func (s *Service) GenerateOutline(ctx context.Context, userID string, bookID uint) (outline.BookTree, error) {
	if _, err := s.policy.RequireEdit(ctx, bookID, userID); err != nil {
		return outline.BookTree{}, err
	}
	pillars, err := s.pillarsForBook(ctx, bookID)
	if err != nil {
		return outline.BookTree{}, err
	}

	var incomplete []string
	for _, pillar := range pillars {
		if pillar.Status != StatusComplete {
			incomplete = append(incomplete, pillar.Name)
		}
	}
	if len(incomplete) > 0 {
		return outline.BookTree{}, fault.Conflict(opGenerateOutline, reasonPillarsGate, &IncompletePillarsError{Names: incomplete})
	}

	brief, err := s.ensureBrief(ctx, bookID, pillars)
	if err != nil {
		return outline.BookTree{}, err
	}
	book, err := s.outline.GetBook(ctx, bookID)
	if err != nil {
		return outline.BookTree{}, err
	}

	raw, err := s.writer.GenerateText(ctx, outlinePrompt(book.Title, brief.Body))
	if err != nil {
		return outline.BookTree{}, err
	}
	var generated outline.GeneratedOutline
	if err := json.Unmarshal([]byte(textgen.CleanJSON(raw)), &generated); err != nil {
		return outline.BookTree{}, fault.Upstream(opGenerateOutline, reasonBadOutline, err)
	}
	return s.outline.MaterializeOutline(ctx, bookID, generated)
}

// BriefForBook returns the stored brief, generating it when all pillars are
// complete and no brief exists yet.
func (s *Service) BriefForBook(ctx context.Context, userID string, bookID uint) (Brief, error) {
	if _, err := s.policy.RequireAccess(ctx, bookID, userID); err != nil {
		return Brief{}, err
	}
	pillars, err := s.pillarsForBook(ctx, bookID)
	if err != nil {
		return Brief{}, err
	}
	for _, pillar := range pillars {
		if pillar.Status != StatusComplete {
			return Brief{}, fault.Conflict(opBrief, reasonPillarsGate, &IncompletePillarsError{Names: []string{pillar.Name}})
		}
	}
	return s.ensureBrief(ctx, bookID, pillars)
}

func (s *Service) complete(ctx context.Context, pillar *Pillar, def Definition) error {
	transcript, err := s.transcript(ctx, pillar.ID)
	if err != nil {
		return err
	}
	summary, genErr := s.writer.GenerateText(ctx, summaryPrompt(def, transcript))
	if genErr != nil {
		// the interview content survives either way, a degraded summary
		// beats a blocked completion
		s.logger.Warn("summary generation failed, storing fallback",
			zap.Uint("pillar_id", pillar.ID), zap.Error(genErr))
		summary = fallbackSummary(def, transcript)
	}
	summary = strings.TrimSpace(summary)

	transactionError := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Pillar{}).Where("id = ?", pillar.ID).Updates(map[string]interface{}{
			"status":  StatusComplete,
			"summary": summary,
		}).Error; err != nil {
			return fault.Internal(opChatTurn, reasonWriteFailed, err)
		}
		// unlock exactly the next locked pillar, never more than one
		var next Pillar
		err := tx.Where("book_id = ? AND status = ?", pillar.BookID, StatusLocked).
			Order("ordinal ASC").
			Take(&next).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fault.Internal(opChatTurn, reasonQueryFailed, err)
		}
		if next.Ordinal == pillar.Ordinal+1 {
			if err := tx.Model(&Pillar{}).Where("id = ?", next.ID).
				Update("status", StatusActive).Error; err != nil {
				return fault.Internal(opChatTurn, reasonWriteFailed, err)
			}
		}
		return nil
	})
	if transactionError != nil {
		return transactionError
	}
	pillar.Status = StatusComplete
	pillar.Summary = summary
	s.logger.Info("pillar completed",
		zap.Uint("pillar_id", pillar.ID),
		zap.Int("ordinal", pillar.Ordinal),
		zap.Int("depth_score", pillar.DepthScore))
	return nil
}

func (s *Service) ensureBrief(ctx context.Context, bookID uint, pillars []Pillar) (Brief, error) {
	var brief Brief
	err := s.db.WithContext(ctx).Where("book_id = ?", bookID).Take(&brief).Error
	if err == nil {
		return brief, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Brief{}, fault.Internal(opBrief, reasonQueryFailed, err)
	}

	var parts []string
	for _, pillar := range pillars {
		parts = append(parts, fmt.Sprintf("## %s\n%s", pillar.Name, pillar.Summary))
	}
	brief = Brief{BookID: bookID, Body: strings.Join(parts, "\n\n"), CreatedAt: s.clock()}
	if err := s.db.WithContext(ctx).Create(&brief).Error; err != nil {
		return Brief{}, fault.Internal(opBrief, reasonWriteFailed, err)
	}
	return brief, nil
}

// scoreTranscript asks the writer for a 0-100 depth rating. Any failure,
// upstream or parse, degrades to 0: scoring is advisory and must never block
// the turn.
func (s *Service) scoreTranscript(ctx context.Context, def Definition, transcript string) int {
	raw, err := s.writer.GenerateText(ctx, scoringPrompt(def, transcript))
	if err != nil {
		s.logger.Warn("scoring pass failed, degrading to 0", zap.Error(err))
		return 0
	}
	score, err := strconv.Atoi(strings.TrimSpace(textgen.CleanJSON(raw)))
	if err != nil {
		s.logger.Warn("unparseable score, degrading to 0", zap.String("raw", raw))
		return 0
	}
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func (s *Service) transcript(ctx context.Context, pillarID uint) (string, error) {
	var messages []ChatMessage
	if err := s.db.WithContext(ctx).
		Where("pillar_id = ?", pillarID).
		Order("id ASC").
		Find(&messages).Error; err != nil {
		return "", fault.Internal(opChatTurn, reasonQueryFailed, err)
	}
	var builder strings.Builder
	for _, message := range messages {
		builder.WriteString(message.Role)
		builder.WriteString(": ")
		builder.WriteString(message.Body)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

func (s *Service) pillarsForBook(ctx context.Context, bookID uint) ([]Pillar, error) {
	var pillars []Pillar
	if err := s.db.WithContext(ctx).
		Where("book_id = ?", bookID).
		Order("ordinal ASC").
		Find(&pillars).Error; err != nil {
		return nil, fault.Internal(opListPillars, reasonQueryFailed, err)
	}
	return pillars, nil
}

func (s *Service) pillarForUser(ctx context.Context, userID string, pillarID uint, needsEdit bool) (Pillar, error) {
	var pillar Pillar
	err := s.db.WithContext(ctx).Where("id = ?", pillarID).Take(&pillar).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Pillar{}, fault.NotFound(opListPillars, reasonNotFound, err)
	}
	if err != nil {
		return Pillar{}, fault.Internal(opListPillars, reasonQueryFailed, err)
	}
	if needsEdit {
		_, err = s.policy.RequireEdit(ctx, pillar.BookID, userID)
	} else {
		_, err = s.policy.RequireAccess(ctx, pillar.BookID, userID)
	}
	if err != nil {
		return Pillar{}, err
	}
	return pillar, nil
}

func interviewPrompt(def Definition, transcript string) string {
	return fmt.Sprintf(`You are a book positioning coach working through the %q pillar.
Focus criteria: %s
Ask probing follow-up questions until the criteria are genuinely satisfied.
When the conversation fully satisfies the criteria, include the exact token %s in your reply.

Conversation so far:
%s
Respond with your next coaching message only.`, def.Name, def.Criteria, completionMarker, transcript)
}

func scoringPrompt(def Definition, transcript string) string {
	return fmt.Sprintf(`Rate how thoroughly the following conversation satisfies the criteria for the %q pillar.
Criteria: %s

Conversation:
%s
Respond with a single integer from 0 to 100 and nothing else.`, def.Name, def.Criteria, transcript)
}

func summaryPrompt(def Definition, transcript string) string {
	return fmt.Sprintf(`Summarize the conclusions of this positioning conversation for the %q pillar in one tight paragraph.
Criteria the summary must cover: %s

Conversation:
%s`, def.Name, def.Criteria, transcript)
}

func fallbackSummary(def Definition, transcript string) string {
	const limit = 600
	trimmed := strings.TrimSpace(transcript)
	if len(trimmed) > limit {
		trimmed = trimmed[:limit]
	}
	return fmt.Sprintf("%s (from interview notes): %s", def.Name, trimmed)
}

func outlinePrompt(title, brief string) string {
	return fmt.Sprintf(`Create a book outline for %q.

Positioning brief:
%s

Respond with JSON only, in this shape:
{"chapters":[{"title":"...","sections":[{"title":"...","talking_points":["..."]}]}]}`, title, brief)
}
