package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backendCase runs the shared TenantStore checks against one backend.
type backendCase struct {
	name    string
	backend func(t *testing.T) Backend
}

var idCounter int

func testID(prefix string) string {
	idCounter++
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), idCounter)
}

func backends() []backendCase {
	return []backendCase{
		{name: "memory", backend: func(*testing.T) Backend { return NewMemoryStore() }},
		{name: "postgres", backend: func(t *testing.T) Backend {
			db := openTestDatabase(t)
			ctx := context.Background()
			require.NoError(t, resetPublicSchema(ctx, db))
			require.NoError(t, ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")))
			return NewPostgresStore(db)
		}},
	}
}

func TestTenantStoreItemsAndDocuments(t *testing.T) {
	for _, tc := range backends() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			backend := tc.backend(t)
			alice := backend.Scope("alice")
			bob := backend.Scope("bob")

			commitID := testID("cmt")
			itemID := testID("itm")
			docID := testID("doc")

			require.NoError(t, alice.InsertItem(ctx, Item{ID: itemID, CreationCommit: commitID}))
			require.NoError(t, alice.InsertDocument(ctx, Document{
				ID:      docID,
				Item:    itemID,
				Commit:  commitID,
				Content: map[string]any{"title": "X", "rank": 2},
				Links:   []Link{{Target: "itm_other", Type: "owns"}},
			}))

			item, err := alice.GetLiveItem(ctx, itemID)
			require.NoError(t, err)
			assert.Equal(t, "alice", item.Tenant)
			assert.True(t, item.Live())

			_, err = bob.GetLiveItem(ctx, itemID)
			assert.ErrorIs(t, err, ErrNotFound)

			doc, err := alice.GetDocument(ctx, docID)
			require.NoError(t, err)
			assert.Equal(t, "X", doc.Content["title"])
			assert.Equal(t, float64(2), doc.Content["rank"])
			assert.Equal(t, []Link{{Target: "itm_other", Type: "owns"}}, doc.Links)

			_, err = bob.GetDocument(ctx, docID)
			assert.ErrorIs(t, err, ErrNotFound)

			docs, err := bob.GetDocuments(ctx, []string{docID})
			require.NoError(t, err)
			assert.Empty(t, docs)

			history, err := alice.ListItemDocuments(ctx, itemID)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, docID, history[0].ID)
		})
	}
}

func TestTenantStoreMarkDeletedIsConditional(t *testing.T) {
	for _, tc := range backends() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			backend := tc.backend(t)
			alice := backend.Scope("alice")
			bob := backend.Scope("bob")

			itemID := testID("itm")
			require.NoError(t, alice.InsertItem(ctx, Item{ID: itemID, CreationCommit: "c1"}))

			ok, err := bob.MarkItemDeleted(ctx, itemID, "c2")
			require.NoError(t, err)
			assert.False(t, ok, "foreign tenant must not delete")

			ok, err = alice.MarkItemDeleted(ctx, itemID, "c2")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = alice.MarkItemDeleted(ctx, itemID, "c3")
			require.NoError(t, err)
			assert.False(t, ok, "second delete must not succeed")

			item, err := alice.GetItem(ctx, itemID)
			require.NoError(t, err)
			require.NotNil(t, item.DeletionCommit)
			assert.Equal(t, "c2", *item.DeletionCommit)

			_, err = alice.GetLiveItem(ctx, itemID)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestTenantStoreMarkItemsDeleted(t *testing.T) {
	for _, tc := range backends() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			alice := tc.backend(t).Scope("alice")

			first, second := testID("itm"), testID("itm")
			require.NoError(t, alice.InsertItem(ctx, Item{ID: first, CreationCommit: "c1"}))
			require.NoError(t, alice.InsertItem(ctx, Item{ID: second, CreationCommit: "c1"}))
			ok, err := alice.MarkItemDeleted(ctx, second, "c2")
			require.NoError(t, err)
			require.True(t, ok)

			deleted, err := alice.MarkItemsDeleted(ctx, []string{first, second, "missing"}, "c3")
			require.NoError(t, err)
			assert.Equal(t, []string{first}, deleted)
		})
	}
}

func TestTenantStoreCommitsAndHead(t *testing.T) {
	for _, tc := range backends() {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			backend := tc.backend(t)
			alice := backend.Scope("alice")
			bob := backend.Scope("bob")

			_, err := alice.LatestCommit(ctx)
			assert.ErrorIs(t, err, ErrNotFound)

			root, err := alice.InsertCommit(ctx, Commit{
				ID:     testID("cmt"),
				Author: "alice",
				Date:   time.Now().UTC(),
				IsHead: true,
				Base:   []BaseEntry{{Item: "i1", Document: "d1"}},
			})
			require.NoError(t, err)
			rootID := root.ID

			next, err := alice.InsertCommit(ctx, Commit{
				ID:       testID("cmt"),
				Previous: &rootID,
				Author:   "alice",
				Date:     time.Now().UTC(),
				IsHead:   true,
				Base:     []BaseEntry{{Item: "i1", Document: "d2"}},
			})
			require.NoError(t, err)
			assert.Greater(t, next.Seq, root.Seq)

			heads, err := alice.HeadCommits(ctx)
			require.NoError(t, err)
			require.Len(t, heads, 2)
			assert.Equal(t, next.ID, heads[0].ID, "newest head first")

			require.NoError(t, alice.SetHead(ctx, rootID, false))
			heads, err = alice.HeadCommits(ctx)
			require.NoError(t, err)
			require.Len(t, heads, 1)

			require.NoError(t, alice.MoveHead(ctx, rootID))
			heads, err = alice.HeadCommits(ctx)
			require.NoError(t, err)
			require.Len(t, heads, 1)
			assert.Equal(t, rootID, heads[0].ID)

			assert.ErrorIs(t, bob.MoveHead(ctx, rootID), ErrNotFound)
			_, err = bob.GetCommit(ctx, rootID)
			assert.ErrorIs(t, err, ErrNotFound)

			latest, err := alice.LatestCommit(ctx)
			require.NoError(t, err)
			assert.Equal(t, next.ID, latest.ID)
			require.NotNil(t, latest.Previous)
			assert.Equal(t, rootID, *latest.Previous)
			assert.Equal(t, []BaseEntry{{Item: "i1", Document: "d2"}}, latest.Base)

			log, err := alice.ListCommits(ctx, 1)
			require.NoError(t, err)
			require.Len(t, log, 1)
			assert.Equal(t, next.ID, log[0].ID)

			byID, err := alice.GetCommits(ctx, []string{rootID, next.ID, "missing"})
			require.NoError(t, err)
			assert.Len(t, byID, 2)
		})
	}
}

func TestMemoryStoreCopiesSnapshots(t *testing.T) {
	ctx := context.Background()
	scope := NewMemoryStore().Scope("alice")
	require.NoError(t, scope.InsertItem(ctx, Item{ID: "i1", CreationCommit: "c1"}))

	content := map[string]any{"title": "before"}
	require.NoError(t, scope.InsertDocument(ctx, Document{ID: "d1", Item: "i1", Commit: "c1", Content: content}))
	content["title"] = "mutated"

	doc, err := scope.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "before", doc.Content["title"])

	doc.Content["title"] = "mutated again"
	again, err := scope.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "before", again.Content["title"])
}
