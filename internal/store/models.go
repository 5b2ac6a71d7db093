package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a row does not exist for the scoped tenant.
var ErrNotFound = errors.New("not found")

// Item is the identity record of a versioned entity. DeletionCommit is nil
// while the item is live and is never cleared once set.
type Item struct {
	ID             string
	Tenant         string
	CreationCommit string
	DeletionCommit *string
}

// Live reports whether the item has not been deleted.
func (i Item) Live() bool {
	return i.DeletionCommit == nil
}

// Link is a typed directed edge stored inside a document snapshot.
type Link struct {
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Document is an immutable content snapshot of one item.
type Document struct {
	ID        string
	Item      string
	Commit    string
	Tenant    string
	Content   map[string]any
	Links     []Link
	CreatedAt time.Time
}

// BaseEntry points a live item at its current document.
type BaseEntry struct {
	Item     string `json:"item"`
	Document string `json:"document"`
}

type Commit struct {
	ID       string
	Tenant   string
	Previous *string
	Author   string
	Date     time.Time
	IsHead   bool
	// Seq is the store-assigned creation order.
	Seq  int64
	Base []BaseEntry
}

// TenantStore is a store handle bound to exactly one tenant. Every read and
// write it issues is filtered by that tenant.
type TenantStore interface {
	Tenant() string

	InsertItem(ctx context.Context, item Item) error
	GetItem(ctx context.Context, itemID string) (Item, error)
	GetLiveItem(ctx context.Context, itemID string) (Item, error)
	GetItems(ctx context.Context, itemIDs []string) (map[string]Item, error)
	// MarkItemDeleted sets the deletion commit of a live item. It reports
	// false when no live item with that id exists for the tenant.
	MarkItemDeleted(ctx context.Context, itemID, commitID string) (bool, error)
	// MarkItemsDeleted marks every live item among itemIDs and returns the
	// ids that were actually changed.
	MarkItemsDeleted(ctx context.Context, itemIDs []string, commitID string) ([]string, error)

	InsertDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, documentID string) (Document, error)
	GetDocuments(ctx context.Context, documentIDs []string) (map[string]Document, error)
	ListItemDocuments(ctx context.Context, itemID string) ([]Document, error)

	InsertCommit(ctx context.Context, commit Commit) (Commit, error)
	GetCommit(ctx context.Context, commitID string) (Commit, error)
	GetCommits(ctx context.Context, commitIDs []string) (map[string]Commit, error)
	// HeadCommits returns every commit currently flagged as head, newest first.
	HeadCommits(ctx context.Context) ([]Commit, error)
	LatestCommit(ctx context.Context) (Commit, error)
	ListCommits(ctx context.Context, limit int) ([]Commit, error)
	SetHead(ctx context.Context, commitID string, isHead bool) error
	// MoveHead flags commitID as head and clears the flag on every other
	// commit of the tenant.
	MoveHead(ctx context.Context, commitID string) error
}

// Backend hands out tenant scoped stores.
type Backend interface {
	Scope(tenant string) TenantStore
	Ping(ctx context.Context) error
}
