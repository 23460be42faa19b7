package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/inkfold/pilot/backend/internal/access"
	"github.com/inkfold/pilot/backend/internal/fault"
	"github.com/inkfold/pilot/backend/internal/outline"
	"gorm.io/gorm"
)

const testOwnerID = "owner-1"

type testHarness struct {
	db           *gorm.DB
	authority    *Authority
	policy       *access.Policy
	outline      *outline.Service
	bookID       uint
	talkingPoint uint
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unexpected db error: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&outline.Book{}, &outline.Chapter{}, &outline.Section{}, &outline.TalkingPoint{},
		&access.Collaborator{}, &State{},
	); err != nil {
		t.Fatalf("unexpected migrate error: %v", err)
	}

	outlineService, err := outline.NewService(outline.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected outline service error: %v", err)
	}
	policy, err := access.NewPolicy(access.PolicyConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected policy error: %v", err)
	}
	authority, err := NewAuthority(AuthorityConfig{Database: db, Policy: policy, Outline: outlineService})
	if err != nil {
		t.Fatalf("unexpected authority error: %v", err)
	}

	book := outline.Book{Title: "Field Notes", OwnerID: testOwnerID}
	if err := db.Create(&book).Error; err != nil {
		t.Fatalf("unexpected book seed error: %v", err)
	}
	chapter := outline.Chapter{BookID: book.ID, Title: "Chapter One", Order: 1}
	if err := db.Create(&chapter).Error; err != nil {
		t.Fatalf("unexpected chapter seed error: %v", err)
	}
	section := outline.Section{ChapterID: chapter.ID, Title: "Opening", Order: 1}
	if err := db.Create(&section).Error; err != nil {
		t.Fatalf("unexpected section seed error: %v", err)
	}
	point := outline.TalkingPoint{SectionID: section.ID, Text: "Hook the reader", Order: 1}
	if err := db.Create(&point).Error; err != nil {
		t.Fatalf("unexpected talking point seed error: %v", err)
	}

	return &testHarness{
		db:           db,
		authority:    authority,
		policy:       policy,
		outline:      outlineService,
		bookID:       book.ID,
		talkingPoint: point.ID,
	}
}

func mustBatch(t *testing.T, baseVersion int64, clientID string, steps ...string) StepBatch {
	t.Helper()
	rawSteps := make([]json.RawMessage, 0, len(steps))
	for _, step := range steps {
		rawSteps = append(rawSteps, json.RawMessage(step))
	}
	batch, err := NewStepBatch(StepBatchConfig{BaseVersion: baseVersion, Steps: rawSteps, ClientID: clientID})
	if err != nil {
		t.Fatalf("unexpected batch error: %v", err)
	}
	return batch
}

func (h *testHarness) assertInvariant(t *testing.T) {
	t.Helper()
	var state State
	if err := h.db.Where("talking_point_id = ?", h.talkingPoint).Take(&state).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return
		}
		t.Fatalf("unexpected state read error: %v", err)
	}
	steps, err := state.decodeSteps()
	if err != nil {
		t.Fatalf("unexpected steps decode error: %v", err)
	}
	clientIDs, err := state.decodeClientIDs()
	if err != nil {
		t.Fatalf("unexpected client ids decode error: %v", err)
	}
	if state.Version != int64(len(steps)) || state.Version != int64(len(clientIDs)) {
		t.Fatalf("invariant broken: version=%d steps=%d client_ids=%d", state.Version, len(steps), len(clientIDs))
	}
}

func TestGetStateLazilyCreatesVersionZero(t *testing.T) {
	h := newTestHarness(t)
	version, err := h.authority.GetState(context.Background(), testOwnerID, h.talkingPoint)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 0 {
		t.Fatalf("expected version 0, got %d", version)
	}

	// second call must reuse the row
	version, err = h.authority.GetState(context.Background(), testOwnerID, h.talkingPoint)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != 0 {
		t.Fatalf("expected version 0 on reuse, got %d", version)
	}
	var count int64
	if err := h.db.Model(&State{}).Count(&count).Error; err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one state row, got %d", count)
	}
}

func TestGetStateUnknownTalkingPointIsNotFound(t *testing.T) {
	h := newTestHarness(t)
	_, err := h.authority.GetState(context.Background(), testOwnerID, 9999)
	if fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReceiveStepsAppendsAndMaintainsInvariant(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	result, err := h.authority.ReceiveSteps(ctx, testOwnerID, h.talkingPoint, mustBatch(t, 0, "client-a", `{"t":"ins","ch":"x"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Version != 1 {
		t.Fatalf("expected version 1, got %d", result.Version)
	}
	h.assertInvariant(t)

	result, err = h.authority.ReceiveSteps(ctx, testOwnerID, h.talkingPoint, mustBatch(t, 1, "client-b", `{"t":"ins","ch":"y"}`, `{"t":"ins","ch":"z"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Version != 3 {
		t.Fatalf("expected version 3, got %d", result.Version)
	}
	h.assertInvariant(t)
}

func TestReceiveStepsRejectsStaleBaseVersion(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, err := h.authority.ReceiveSteps(ctx, testOwnerID, h.talkingPoint, mustBatch(t, 0, "client-a", `{"t":"ins","ch":"x"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := h.authority.ReceiveSteps(ctx, testOwnerID, h.talkingPoint, mustBatch(t, 0, "client-b", `{"t":"ins","ch":"y"}`))
	if fault.KindOf(err) != fault.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	var conflict *VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected version conflict error, got %v", err)
	}
	if conflict.CurrentVersion != 1 {
		t.Fatalf("expected current version 1, got %d", conflict.CurrentVersion)
	}
	h.assertInvariant(t)
}

func TestReceiveStepsRequiresEditRights(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, err := h.policy.Invite(ctx, testOwnerID, h.bookID, "viewer-1", access.RoleViewer); err != nil {
		t.Fatalf("unexpected invite error: %v", err)
	}

	_, err := h.authority.ReceiveSteps(ctx, "viewer-1", h.talkingPoint, mustBatch(t, 0, "client-v", `{"t":"ins","ch":"x"}`))
	if fault.KindOf(err) != fault.KindForbidden {
		t.Fatalf("expected forbidden for viewer, got %v", err)
	}

	_, err = h.authority.ReceiveSteps(ctx, "stranger", h.talkingPoint, mustBatch(t, 0, "client-s", `{"t":"ins","ch":"x"}`))
	if fault.KindOf(err) != fault.KindNotFound {
		t.Fatalf("expected not found for stranger, got %v", err)
	}
}

func TestStepsSinceReplaysAcceptedOrder(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, err := h.authority.ReceiveSteps(ctx, testOwnerID, h.talkingPoint, mustBatch(t, 0, "client-a", `{"t":"ins","ch":"x"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.authority.ReceiveSteps(ctx, testOwnerID, h.talkingPoint, mustBatch(t, 1, "client-b", `{"t":"ins","ch":"y"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	page, err := h.authority.StepsSince(ctx, testOwnerID, h.talkingPoint, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Version != 2 || len(page.Steps) != 2 || len(page.ClientIDs) != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if string(page.Steps[0]) != `{"t":"ins","ch":"x"}` || string(page.Steps[1]) != `{"t":"ins","ch":"y"}` {
		t.Fatalf("steps out of order: %s %s", page.Steps[0], page.Steps[1])
	}
	if page.ClientIDs[0] != "client-a" || page.ClientIDs[1] != "client-b" {
		t.Fatalf("client ids out of order: %v", page.ClientIDs)
	}

	partial, err := h.authority.StepsSince(ctx, testOwnerID, h.talkingPoint, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(partial.Steps) != 1 || string(partial.Steps[0]) != `{"t":"ins","ch":"y"}` {
		t.Fatalf("unexpected partial page: %+v", partial)
	}
}

func TestStepsSinceAtOrBeyondCurrentVersionIsEmptyNotError(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, err := h.authority.ReceiveSteps(ctx, testOwnerID, h.talkingPoint, mustBatch(t, 0, "client-a", `{"t":"ins","ch":"x"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	page, err := h.authority.StepsSince(ctx, testOwnerID, h.talkingPoint, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Steps) != 0 || page.Version != 1 {
		t.Fatalf("unexpected page at current version: %+v", page)
	}

	beyond, err := h.authority.StepsSince(ctx, testOwnerID, h.talkingPoint, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(beyond.Steps) != 0 || beyond.Version != 1 {
		t.Fatalf("unexpected page beyond history: %+v", beyond)
	}
}

func TestConcurrentReceiveStepsExactlyOneSucceeds(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	if _, err := h.authority.GetState(ctx, testOwnerID, h.talkingPoint); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	type outcome struct {
		result ReceiveResult
		err    error
	}
	outcomes := make([]outcome, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(index int, clientID, payload string) {
			defer wg.Done()
			result, err := h.authority.ReceiveSteps(ctx, testOwnerID, h.talkingPoint,
				mustBatch(t, 0, clientID, payload))
			outcomes[index] = outcome{result: result, err: err}
		}(i, []string{"client-a", "client-b"}[i], []string{`{"t":"ins","ch":"x"}`, `{"t":"ins","ch":"y"}`}[i])
	}
	wg.Wait()

	successes := 0
	conflicts := 0
	var acceptedVersion int64
	var reportedCurrent int64
	for _, o := range outcomes {
		if o.err == nil {
			successes++
			acceptedVersion = o.result.Version
			continue
		}
		if fault.KindOf(o.err) == fault.KindConflict {
			conflicts++
			var conflict *VersionConflictError
			if !errors.As(o.err, &conflict) {
				t.Fatalf("conflict without current version: %v", o.err)
			}
			reportedCurrent = conflict.CurrentVersion
			continue
		}
		t.Fatalf("unexpected error kind: %v", o.err)
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one success and one conflict, got %d/%d", successes, conflicts)
	}
	if reportedCurrent != acceptedVersion {
		t.Fatalf("conflict reported version %d, accepted version %d", reportedCurrent, acceptedVersion)
	}
	h.assertInvariant(t)
}

func TestRebaseAndRetryScenario(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// client A submits at version 0 and wins
	if _, err := h.authority.ReceiveSteps(ctx, testOwnerID, h.talkingPoint, mustBatch(t, 0, "client-a", `{"t":"ins","ch":"x"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// client B, still at version 0, is rejected with currentVersion=1
	_, err := h.authority.ReceiveSteps(ctx, testOwnerID, h.talkingPoint, mustBatch(t, 0, "client-b", `{"t":"ins","ch":"y"}`))
	var conflict *VersionConflictError
	if !errors.As(err, &conflict) || conflict.CurrentVersion != 1 {
		t.Fatalf("expected conflict at version 1, got %v", err)
	}

	// client B fetches the missing steps, rebases, retries at version 1
	page, err := h.authority.StepsSince(ctx, testOwnerID, h.talkingPoint, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Steps) != 1 || string(page.Steps[0]) != `{"t":"ins","ch":"x"}` {
		t.Fatalf("unexpected catch-up steps: %+v", page)
	}
	result, err := h.authority.ReceiveSteps(ctx, testOwnerID, h.talkingPoint, mustBatch(t, page.Version, "client-b", `{"t":"ins","ch":"y"}`))
	if err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}
	if result.Version != 2 {
		t.Fatalf("expected version 2 after retry, got %d", result.Version)
	}
}

func TestNewStepBatchValidation(t *testing.T) {
	if _, err := NewStepBatch(StepBatchConfig{BaseVersion: 0, Steps: nil, ClientID: "c"}); err == nil {
		t.Fatalf("expected error for empty steps")
	}
	if _, err := NewStepBatch(StepBatchConfig{BaseVersion: 0, Steps: []json.RawMessage{json.RawMessage(`{`)}, ClientID: "c"}); err == nil {
		t.Fatalf("expected error for malformed step")
	}
	if _, err := NewStepBatch(StepBatchConfig{BaseVersion: 0, Steps: []json.RawMessage{json.RawMessage(`{}`)}, ClientID: "  "}); err == nil {
		t.Fatalf("expected error for empty client id")
	}
	if _, err := NewStepBatch(StepBatchConfig{BaseVersion: -1, Steps: []json.RawMessage{json.RawMessage(`{}`)}, ClientID: "c"}); err == nil {
		t.Fatalf("expected error for negative base version")
	}
}
