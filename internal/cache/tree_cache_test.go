package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/inkfold/pilot/backend/internal/outline"
)

func newTestCache(t *testing.T) *TreeCache {
	t.Helper()
	server := miniredis.RunT(t)
	cache := NewTreeCache(TreeCacheConfig{Addr: server.Addr(), TTL: time.Minute})
	if cache == nil {
		t.Fatalf("expected a live cache")
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func sampleTree() outline.BookTree {
	return outline.BookTree{
		ID:      7,
		Title:   "Field Notes",
		OwnerID: "owner-1",
		Chapters: []outline.ChapterNode{
			{ID: 1, Title: "One", Order: 1, Sections: []outline.SectionNode{}},
		},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	if _, ok := cache.Get(ctx, 7); ok {
		t.Fatalf("expected miss before put")
	}
	cache.Put(ctx, sampleTree())
	got, ok := cache.Get(ctx, 7)
	if !ok {
		t.Fatalf("expected hit after put")
	}
	if got.Title != "Field Notes" || len(got.Chapters) != 1 {
		t.Fatalf("unexpected cached tree: %+v", got)
	}
}

func TestInvalidateDropsEntry(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	cache.Put(ctx, sampleTree())
	cache.Invalidate(ctx, 7)
	if _, ok := cache.Get(ctx, 7); ok {
		t.Fatalf("expected miss after invalidation")
	}
}

func TestNilCacheIsSafe(t *testing.T) {
	var cache *TreeCache
	ctx := context.Background()

	if disabled := NewTreeCache(TreeCacheConfig{Addr: ""}); disabled != nil {
		t.Fatalf("empty address should yield a nil cache")
	}
	cache.Put(ctx, sampleTree())
	cache.Invalidate(ctx, 7)
	if _, ok := cache.Get(ctx, 7); ok {
		t.Fatalf("nil cache must always miss")
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("nil close must be a no-op: %v", err)
	}
}
