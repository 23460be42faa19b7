package comments

import (
	"context"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/inkfold/pilot/backend/internal/access"
	"github.com/inkfold/pilot/backend/internal/fault"
	"github.com/inkfold/pilot/backend/internal/outline"
	"gorm.io/gorm"
)

const (
	ownerID     = "owner-1"
	commenterID = "commenter-1"
	viewerID    = "viewer-1"
)

type commentHarness struct {
	db           *gorm.DB
	service      *Service
	policy       *access.Policy
	talkingPoint uint
	bookID       uint
}

func newCommentHarness(t *testing.T) *commentHarness {
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
		&access.Collaborator{}, &Comment{},
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
	service, err := NewService(ServiceConfig{Database: db, Policy: policy, Outline: outlineService})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	book := outline.Book{Title: "Margins", OwnerID: ownerID}
	seed(t, db, &book)
	chapter := outline.Chapter{BookID: book.ID, Title: "One", Order: 1}
	seed(t, db, &chapter)
	section := outline.Section{ChapterID: chapter.ID, Title: "Intro", Order: 1}
	seed(t, db, &section)
	point := outline.TalkingPoint{SectionID: section.ID, Text: "Premise", Order: 1}
	seed(t, db, &point)

	ctx := context.Background()
	if _, err := policy.Invite(ctx, ownerID, book.ID, commenterID, access.RoleCommenter); err != nil {
		t.Fatalf("unexpected invite error: %v", err)
	}
	if _, err := policy.Invite(ctx, ownerID, book.ID, viewerID, access.RoleViewer); err != nil {
		t.Fatalf("unexpected invite error: %v", err)
	}

	return &commentHarness{db: db, service: service, policy: policy, talkingPoint: point.ID, bookID: book.ID}
}

func seed(t *testing.T, db *gorm.DB, value interface{}) {
	t.Helper()
	if err := db.Create(value).Error; err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}
}

func TestCreateAndListThreads(t *testing.T) {
	h := newCommentHarness(t)
	ctx := context.Background()

	top, err := h.service.Create(ctx, commenterID, h.talkingPoint, nil, "is this claim sourced?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply, err := h.service.Create(ctx, ownerID, h.talkingPoint, &top.ID, "yes, chapter notes")
	if err != nil {
		t.Fatalf("unexpected reply error: %v", err)
	}

	threads, err := h.service.List(ctx, viewerID, h.talkingPoint)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(threads) != 1 {
		t.Fatalf("expected 1 thread, got %d", len(threads))
	}
	if threads[0].Comment.ID != top.ID || len(threads[0].Replies) != 1 || threads[0].Replies[0].ID != reply.ID {
		t.Fatalf("unexpected thread shape: %+v", threads[0])
	}
}

func TestCreateDeniesViewers(t *testing.T) {
	h := newCommentHarness(t)
	if _, err := h.service.Create(context.Background(), viewerID, h.talkingPoint, nil, "hello"); fault.KindOf(err) != fault.KindForbidden {
		t.Fatalf("expected forbidden for viewer, got %v", err)
	}
}

func TestCreateRejectsReplyToReply(t *testing.T) {
	h := newCommentHarness(t)
	ctx := context.Background()
	top, err := h.service.Create(ctx, commenterID, h.talkingPoint, nil, "top")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply, err := h.service.Create(ctx, ownerID, h.talkingPoint, &top.ID, "reply")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.service.Create(ctx, commenterID, h.talkingPoint, &reply.ID, "nested"); fault.KindOf(err) != fault.KindInvalid {
		t.Fatalf("expected invalid for nested reply, got %v", err)
	}
}

func TestCreateRejectsEmptyBody(t *testing.T) {
	h := newCommentHarness(t)
	if _, err := h.service.Create(context.Background(), commenterID, h.talkingPoint, nil, "   "); fault.KindOf(err) != fault.KindInvalid {
		t.Fatalf("expected invalid for empty body, got %v", err)
	}
}

func TestDeleteCascadesRepliesAndChecksActor(t *testing.T) {
	h := newCommentHarness(t)
	ctx := context.Background()
	top, err := h.service.Create(ctx, commenterID, h.talkingPoint, nil, "top")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := h.service.Create(ctx, ownerID, h.talkingPoint, &top.ID, "reply"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := h.service.Delete(ctx, viewerID, top.ID); fault.KindOf(err) != fault.KindForbidden {
		t.Fatalf("expected forbidden for non-author, got %v", err)
	}
	if err := h.service.Delete(ctx, ownerID, top.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	var remaining int64
	if err := h.db.Model(&Comment{}).Count(&remaining).Error; err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected cascade to remove replies, %d rows remain", remaining)
	}
}
