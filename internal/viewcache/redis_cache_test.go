package viewcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"versionstore/api/internal/store"
	"versionstore/api/internal/versioning"
)

func setupTestCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := NewRedisCache("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	return cache, s
}

func sampleViews() []versioning.View {
	date := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	return []versioning.View{{
		ID:      "itm_1",
		Fields:  versioning.Content{"title": "X", "rank": float64(1)},
		Links:   []store.Link{{Target: "itm_2", Type: "owns"}},
		Changed: versioning.Provenance{Date: date, Author: "alice", Commit: "cmt_2"},
		Created: versioning.Provenance{Date: date, Author: "alice", Commit: "cmt_1"},
	}}
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	if _, err := NewRedisCache("not a url", time.Minute); err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestPutAndGet(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	rank := versioning.Sort{Field: "rank"}
	if err := cache.Put(ctx, "alice", "cmt_2", rank, sampleViews()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	views, ok, err := cache.Get(ctx, "alice", "cmt_2", rank)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(views) != 1 || views[0].ID != "itm_1" || views[0].Fields["title"] != "X" {
		t.Fatalf("unexpected views: %+v", views)
	}
	if views[0].Created.Commit != "cmt_1" {
		t.Errorf("expected created commit cmt_1, got %s", views[0].Created.Commit)
	}

	if !s.Exists("view:5:alice:5:cmt_2:rank") {
		t.Errorf("expected key view:5:alice:5:cmt_2:rank, keys: %v", s.Keys())
	}
}

func TestGetMissIsolatesTenantsAndSort(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Put(ctx, "alice", "cmt_2", versioning.Sort{Field: "rank"}, sampleViews()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, ok, err := cache.Get(ctx, "bob", "cmt_2", versioning.Sort{Field: "rank"}); err != nil || ok {
		t.Errorf("expected miss for other tenant, ok=%v err=%v", ok, err)
	}
	if _, ok, err := cache.Get(ctx, "alice", "cmt_2", versioning.Sort{Field: "rank", Desc: true}); err != nil || ok {
		t.Errorf("expected miss for other sort, ok=%v err=%v", ok, err)
	}
}

func TestKeysDoNotAliasAcrossSeparators(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Put(ctx, "acme:eu", "cmt_9", versioning.Sort{Field: "rank"}, sampleViews()); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, ok, err := cache.Get(ctx, "acme", "eu:cmt_9", versioning.Sort{Field: "rank"}); err != nil || ok {
		t.Errorf("expected miss for shifted separator, ok=%v err=%v", ok, err)
	}
	if _, ok, err := cache.Get(ctx, "acme:eu", "cmt_9:rank", versioning.Sort{}); err != nil || ok {
		t.Errorf("expected miss for commit swallowing sort, ok=%v err=%v", ok, err)
	}
}

func TestEntriesExpire(t *testing.T) {
	cache, s := setupTestCache(t, time.Second)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Put(ctx, "alice", "cmt_1", versioning.Sort{}, nil); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	views, ok, err := cache.Get(ctx, "alice", "cmt_1", versioning.Sort{})
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if views == nil || len(views) != 0 {
		t.Errorf("expected empty non-nil views, got %#v", views)
	}

	s.FastForward(2 * time.Second)

	if _, ok, _ := cache.Get(ctx, "alice", "cmt_1", versioning.Sort{}); ok {
		t.Error("expected miss after ttl")
	}
}

func TestGetCorruptEntry(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	defer cache.Close()
	defer s.Close()

	if err := s.Set(cache.key("alice", "cmt_1", versioning.Sort{Field: "rank"}), "{not json"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, _, err := cache.Get(context.Background(), "alice", "cmt_1", versioning.Sort{Field: "rank"}); err == nil {
		t.Error("expected decode error")
	}
}
