package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/inkfold/pilot/backend/internal/access"
	"github.com/inkfold/pilot/backend/internal/auth"
	"github.com/inkfold/pilot/backend/internal/collab"
	"github.com/inkfold/pilot/backend/internal/comments"
	"github.com/inkfold/pilot/backend/internal/database"
	"github.com/inkfold/pilot/backend/internal/outline"
	"github.com/inkfold/pilot/backend/internal/positioning"
	"github.com/inkfold/pilot/backend/internal/suggest"
	"github.com/inkfold/pilot/backend/internal/users"
	"go.uber.org/zap"
)

// echoWriter satisfies the positioning writer without a network dependency.
type echoWriter struct{}

func (echoWriter) GenerateText(context.Context, string) (string, error) {
	return "42", nil
}

type routerHarness struct {
	handler http.Handler
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "router.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected database error: %v", err)
	}

	usersService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected users error: %v", err)
	}
	outlineService, err := outline.NewService(outline.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected outline error: %v", err)
	}
	policy, err := access.NewPolicy(access.PolicyConfig{Database: db})
	if err != nil {
		t.Fatalf("unexpected policy error: %v", err)
	}
	authority, err := collab.NewAuthority(collab.AuthorityConfig{Database: db, Policy: policy, Outline: outlineService})
	if err != nil {
		t.Fatalf("unexpected authority error: %v", err)
	}
	ledger, err := suggest.NewLedger(suggest.LedgerConfig{Database: db, Policy: policy, Outline: outlineService})
	if err != nil {
		t.Fatalf("unexpected ledger error: %v", err)
	}
	commentService, err := comments.NewService(comments.ServiceConfig{Database: db, Policy: policy, Outline: outlineService})
	if err != nil {
		t.Fatalf("unexpected comments error: %v", err)
	}
	positioningService, err := positioning.NewService(positioning.ServiceConfig{
		Database: db, Policy: policy, Outline: outlineService, Writer: echoWriter{},
	})
	if err != nil {
		t.Fatalf("unexpected positioning error: %v", err)
	}
	outlineService.RegisterPurger(authority)
	outlineService.RegisterPurger(ledger)
	outlineService.RegisterPurger(commentService)
	outlineService.RegisterBookPurger(policy)
	outlineService.RegisterBookPurger(positioningService)

	tokens := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("router-test-secret"),
		Issuer:        "pilot-test",
		Audience:      "pilot-test",
	})

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager: tokens,
		Users:        usersService,
		Outline:      outlineService,
		Policy:       policy,
		Authority:    authority,
		Ledger:       ledger,
		Comments:     commentService,
		Positioning:  positioningService,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	return &routerHarness{handler: handler}
}

func (h *routerHarness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("unexpected marshal error: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}

func (h *routerHarness) login(t *testing.T, email string) string {
	t.Helper()
	recorder := h.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":        email,
		"display_name": "Router Tester",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	return payload.AccessToken
}

func decodeTree(t *testing.T, recorder *httptest.ResponseRecorder) outline.BookTree {
	t.Helper()
	var tree outline.BookTree
	if err := json.Unmarshal(recorder.Body.Bytes(), &tree); err != nil {
		t.Fatalf("unexpected tree decode error: %v", err)
	}
	return tree
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	h := newRouterHarness(t)
	recorder := h.do(t, http.MethodGet, "/books", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestBookLifecycleOverHTTP(t *testing.T) {
	h := newRouterHarness(t)
	token := h.login(t, "owner@example.com")

	created := h.do(t, http.MethodPost, "/books", token, map[string]string{"title": "Router Book"})
	if created.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", created.Code, created.Body.String())
	}
	tree := decodeTree(t, created)

	chapter := h.do(t, http.MethodPost, fmt.Sprintf("/books/%d/chapters", tree.ID), token,
		map[string]any{"title": "Chapter One"})
	if chapter.Code != http.StatusCreated {
		t.Fatalf("chapter create failed: %d %s", chapter.Code, chapter.Body.String())
	}
	updated := decodeTree(t, chapter)
	if len(updated.Chapters) != 1 || updated.Chapters[0].Title != "Chapter One" {
		t.Fatalf("unexpected tree after chapter: %+v", updated)
	}

	fetched := h.do(t, http.MethodGet, fmt.Sprintf("/books/%d", tree.ID), token, nil)
	if fetched.Code != http.StatusOK {
		t.Fatalf("fetch failed: %d", fetched.Code)
	}

	deleted := h.do(t, http.MethodDelete, fmt.Sprintf("/books/%d", tree.ID), token, nil)
	if deleted.Code != http.StatusNoContent {
		t.Fatalf("delete failed: %d %s", deleted.Code, deleted.Body.String())
	}
	gone := h.do(t, http.MethodGet, fmt.Sprintf("/books/%d", tree.ID), token, nil)
	if gone.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", gone.Code)
	}
}

func TestInaccessibleBookReads404NotForbidden(t *testing.T) {
	h := newRouterHarness(t)
	ownerToken := h.login(t, "owner@example.com")
	strangerToken := h.login(t, "stranger@example.com")

	created := h.do(t, http.MethodPost, "/books", ownerToken, map[string]string{"title": "Private"})
	tree := decodeTree(t, created)

	recorder := h.do(t, http.MethodGet, fmt.Sprintf("/books/%d", tree.ID), strangerToken, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 masking, got %d", recorder.Code)
	}
}

func TestCollabConflictCarriesCurrentVersion(t *testing.T) {
	h := newRouterHarness(t)
	token := h.login(t, "owner@example.com")

	created := h.do(t, http.MethodPost, "/books", token, map[string]string{"title": "Sync"})
	tree := decodeTree(t, created)
	withChapter := decodeTree(t, h.do(t, http.MethodPost, fmt.Sprintf("/books/%d/chapters", tree.ID), token, map[string]any{"title": "C"}))
	withSection := decodeTree(t, h.do(t, http.MethodPost, fmt.Sprintf("/chapters/%d/sections", withChapter.Chapters[0].ID), token, map[string]any{"title": "S"}))
	withPoint := decodeTree(t, h.do(t, http.MethodPost, fmt.Sprintf("/sections/%d/talking_points", withSection.Chapters[0].Sections[0].ID), token, map[string]any{"text": "T"}))
	pointID := withPoint.Chapters[0].Sections[0].TalkingPoints[0].ID

	submit := map[string]any{
		"version":  0,
		"steps":    []map[string]any{{"t": "ins", "ch": "x"}},
		"clientID": "client-a",
	}
	first := h.do(t, http.MethodPost, fmt.Sprintf("/talking_points/%d/collab/steps", pointID), token, submit)
	if first.Code != http.StatusOK {
		t.Fatalf("first submit failed: %d %s", first.Code, first.Body.String())
	}
	var accepted struct {
		Success bool  `json:"success"`
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(first.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if !accepted.Success || accepted.Version != 1 {
		t.Fatalf("expected success=true version=1, got %s", first.Body.String())
	}

	second := h.do(t, http.MethodPost, fmt.Sprintf("/talking_points/%d/collab/steps", pointID), token, submit)
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", second.Code, second.Body.String())
	}
	var conflictBody struct {
		CurrentVersion int64 `json:"current_version"`
	}
	if err := json.Unmarshal(second.Body.Bytes(), &conflictBody); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if conflictBody.CurrentVersion != 1 {
		t.Fatalf("expected current_version 1, got %d", conflictBody.CurrentVersion)
	}

	catchUp := h.do(t, http.MethodGet, fmt.Sprintf("/talking_points/%d/collab/steps?since=0", pointID), token, nil)
	if catchUp.Code != http.StatusOK {
		t.Fatalf("catch-up failed: %d", catchUp.Code)
	}
	var page struct {
		Steps   []json.RawMessage `json:"steps"`
		Version int64             `json:"version"`
	}
	if err := json.Unmarshal(catchUp.Body.Bytes(), &page); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(page.Steps) != 1 || page.Version != 1 {
		t.Fatalf("unexpected catch-up page: %s", catchUp.Body.String())
	}
}

func TestOutlineGateReturnsIncompletePillars(t *testing.T) {
	h := newRouterHarness(t)
	token := h.login(t, "owner@example.com")

	created := h.do(t, http.MethodPost, "/books", token, map[string]string{"title": "Gated"})
	tree := decodeTree(t, created)

	initRecorder := h.do(t, http.MethodPost, fmt.Sprintf("/books/%d/pillars/init", tree.ID), token, nil)
	if initRecorder.Code != http.StatusOK {
		t.Fatalf("init failed: %d %s", initRecorder.Code, initRecorder.Body.String())
	}

	gate := h.do(t, http.MethodPost, fmt.Sprintf("/books/%d/outline", tree.ID), token, nil)
	if gate.Code != http.StatusConflict {
		t.Fatalf("expected 409 from gate, got %d %s", gate.Code, gate.Body.String())
	}
	var body struct {
		IncompletePillars []string `json:"incomplete_pillars"`
	}
	if err := json.Unmarshal(gate.Body.Bytes(), &body); err != nil {
		t.Fatalf("unexpected decode error: %v", err)
	}
	if len(body.IncompletePillars) != 9 {
		t.Fatalf("expected 9 incomplete pillars, got %v", body.IncompletePillars)
	}
}

func TestInviteRejectsUnknownRole(t *testing.T) {
	h := newRouterHarness(t)
	token := h.login(t, "owner@example.com")
	created := h.do(t, http.MethodPost, "/books", token, map[string]string{"title": "Shared"})
	tree := decodeTree(t, created)

	recorder := h.do(t, http.MethodPost, fmt.Sprintf("/books/%d/collaborators", tree.ID), token,
		map[string]string{"user_id": "user-2", "role": "superuser"})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", recorder.Code)
	}
}
