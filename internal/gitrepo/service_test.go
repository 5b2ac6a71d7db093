package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"versionstore/api/internal/versioning"
)

func view(id, commit, title string) versioning.View {
	return versioning.View{
		ID:      id,
		Fields:  versioning.Content{"title": title},
		Changed: versioning.Provenance{Commit: commit},
		Created: versioning.Provenance{Commit: commit},
	}
}

func TestMirrorLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	history, err := svc.History("alice", 10)
	if err != nil {
		t.Fatalf("History() before first record error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(history))
	}

	first, err := svc.Record("alice", "add", "cmt_1", []versioning.View{view("itm_1", "cmt_1", "One")})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if first.Hash == "" || first.Added != 1 {
		t.Fatalf("unexpected first commit: %+v", first)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "alice", "items.json")); err != nil {
		t.Fatalf("items.json missing: %v", err)
	}

	second, err := svc.Record("alice", "update", "cmt_2", []versioning.View{
		view("itm_1", "cmt_2", "One v2"),
		view("itm_2", "cmt_2", "Two"),
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if second.Added != 1 || second.Changed != 1 || second.Removed != 0 {
		t.Fatalf("unexpected diff counts: %+v", second)
	}

	third, err := svc.Record("alice", "delete", "cmt_3", []versioning.View{view("itm_2", "cmt_2", "Two")})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if third.Removed != 1 {
		t.Fatalf("expected one removal, got %+v", third)
	}

	history, err = svc.History("alice", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 mirror commits, got %d", len(history))
	}
	if !strings.HasPrefix(history[0].Message, "delete cmt_3") || history[0].Author != "alice" {
		t.Fatalf("unexpected newest commit: %+v", history[0])
	}

	views, err := svc.ViewsAt("alice", second.Hash)
	if err != nil {
		t.Fatalf("ViewsAt() error = %v", err)
	}
	if len(views) != 2 || views[0].Fields["title"] != "One v2" {
		t.Fatalf("unexpected views at %s: %+v", second.Hash, views)
	}

	if _, err := svc.ViewsAt("alice", "0000000000000000000000000000000000000000"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown hash, got %v", err)
	}
	if _, err := svc.ViewsAt("bob", second.Hash); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for tenant without mirror, got %v", err)
	}

	limited, err := svc.History("alice", 1)
	if err != nil {
		t.Fatalf("History(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(limited))
	}
}

func TestRecordSameViewsStillCommits(t *testing.T) {
	svc := New(t.TempDir())
	views := []versioning.View{view("itm_1", "cmt_1", "One")}
	if _, err := svc.Record("alice", "add", "cmt_1", views); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	reset, err := svc.Record("alice", "reset-head", "cmt_1", views)
	if err != nil {
		t.Fatalf("Record() reset error = %v", err)
	}
	if reset.Added+reset.Removed+reset.Changed != 0 {
		t.Fatalf("expected no item changes, got %+v", reset)
	}
}

func TestTenantsGetSeparateRepos(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if _, err := svc.Record("alice", "add", "cmt_1", nil); err != nil {
		t.Fatalf("Record() alice error = %v", err)
	}
	if _, err := svc.Record("../bob", "add", "cmt_2", nil); err != nil {
		t.Fatalf("Record() bob error = %v", err)
	}

	entries, err := os.ReadDir(tempDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 repos, got %d", len(entries))
	}
	history, err := svc.History("alice", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected alice to have 1 commit, got %d", len(history))
	}
}

func TestConcurrentRecordSameTenant(t *testing.T) {
	svc := New(t.TempDir())

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			commit := fmt.Sprintf("cmt_%02d", idx)
			if _, err := svc.Record("alice", "add", commit, []versioning.View{view("itm_"+commit, commit, commit)}); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("Record() concurrent error = %v", err)
		}
	}

	history, err := svc.History("alice", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("expected %d commits in history, got %d", writers, len(history))
	}
}

func TestDiffViews(t *testing.T) {
	from := []versioning.View{view("a", "c1", "A"), view("b", "c1", "B")}
	to := []versioning.View{view("b", "c2", "B2"), view("c", "c2", "C")}
	changes := DiffViews(from, to)
	want := []Change{{Item: "a", Kind: "removed"}, {Item: "b", Kind: "changed"}, {Item: "c", Kind: "added"}}
	if len(changes) != len(want) {
		t.Fatalf("unexpected changes: %+v", changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Fatalf("change %d = %+v, want %+v", i, changes[i], want[i])
		}
	}
}
