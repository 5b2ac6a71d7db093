package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps every tenant in process memory. Values are deep copied
// on the way in and out, so callers can never mutate stored snapshots.
type MemoryStore struct {
	mu        sync.RWMutex
	seq       int64
	items     map[string]Item
	documents map[string]Document
	docOrder  []string
	commits   map[string]Commit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:     make(map[string]Item),
		documents: make(map[string]Document),
		commits:   make(map[string]Commit),
	}
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func (m *MemoryStore) Scope(tenant string) TenantStore {
	return &memoryScope{store: m, tenant: tenant}
}

type memoryScope struct {
	store  *MemoryStore
	tenant string
}

func (s *memoryScope) Tenant() string {
	return s.tenant
}

func (s *memoryScope) InsertItem(_ context.Context, item Item) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if _, exists := s.store.items[item.ID]; exists {
		return errDuplicate("item", item.ID)
	}
	item.Tenant = s.tenant
	item.DeletionCommit = nil
	s.store.items[item.ID] = item
	return nil
}

func (s *memoryScope) GetItem(_ context.Context, itemID string) (Item, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	item, ok := s.store.items[itemID]
	if !ok || item.Tenant != s.tenant {
		return Item{}, ErrNotFound
	}
	return copyItem(item), nil
}

func (s *memoryScope) GetLiveItem(ctx context.Context, itemID string) (Item, error) {
	item, err := s.GetItem(ctx, itemID)
	if err != nil {
		return Item{}, err
	}
	if !item.Live() {
		return Item{}, ErrNotFound
	}
	return item, nil
}

func (s *memoryScope) GetItems(_ context.Context, itemIDs []string) (map[string]Item, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	items := make(map[string]Item, len(itemIDs))
	for _, id := range itemIDs {
		if item, ok := s.store.items[id]; ok && item.Tenant == s.tenant {
			items[id] = copyItem(item)
		}
	}
	return items, nil
}

func (s *memoryScope) MarkItemDeleted(_ context.Context, itemID, commitID string) (bool, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	return s.markLocked(itemID, commitID), nil
}

func (s *memoryScope) MarkItemsDeleted(_ context.Context, itemIDs []string, commitID string) ([]string, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	deleted := make([]string, 0, len(itemIDs))
	for _, id := range itemIDs {
		if s.markLocked(id, commitID) {
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

func (s *memoryScope) markLocked(itemID, commitID string) bool {
	item, ok := s.store.items[itemID]
	if !ok || item.Tenant != s.tenant || !item.Live() {
		return false
	}
	commit := commitID
	item.DeletionCommit = &commit
	s.store.items[itemID] = item
	return true
}

func (s *memoryScope) InsertDocument(_ context.Context, doc Document) error {
	content, err := cloneContent(doc.Content)
	if err != nil {
		return err
	}
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if _, exists := s.store.documents[doc.ID]; exists {
		return errDuplicate("document", doc.ID)
	}
	item, ok := s.store.items[doc.Item]
	if !ok || item.Tenant != s.tenant {
		return ErrNotFound
	}
	doc.Tenant = s.tenant
	doc.Content = content
	doc.Links = append([]Link{}, doc.Links...)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	s.store.documents[doc.ID] = doc
	s.store.docOrder = append(s.store.docOrder, doc.ID)
	return nil
}

func (s *memoryScope) GetDocument(_ context.Context, documentID string) (Document, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	doc, ok := s.store.documents[documentID]
	if !ok || doc.Tenant != s.tenant {
		return Document{}, ErrNotFound
	}
	return copyDocument(doc)
}

func (s *memoryScope) GetDocuments(_ context.Context, documentIDs []string) (map[string]Document, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	docs := make(map[string]Document, len(documentIDs))
	for _, id := range documentIDs {
		doc, ok := s.store.documents[id]
		if !ok || doc.Tenant != s.tenant {
			continue
		}
		copied, err := copyDocument(doc)
		if err != nil {
			return nil, err
		}
		docs[id] = copied
	}
	return docs, nil
}

func (s *memoryScope) ListItemDocuments(_ context.Context, itemID string) ([]Document, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	docs := make([]Document, 0)
	for _, id := range s.store.docOrder {
		doc := s.store.documents[id]
		if doc.Tenant != s.tenant || doc.Item != itemID {
			continue
		}
		copied, err := copyDocument(doc)
		if err != nil {
			return nil, err
		}
		docs = append(docs, copied)
	}
	return docs, nil
}

func (s *memoryScope) InsertCommit(_ context.Context, commit Commit) (Commit, error) {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	if _, exists := s.store.commits[commit.ID]; exists {
		return Commit{}, errDuplicate("commit", commit.ID)
	}
	s.store.seq++
	commit.Seq = s.store.seq
	commit.Tenant = s.tenant
	commit.Base = append([]BaseEntry{}, commit.Base...)
	s.store.commits[commit.ID] = commit
	return copyCommit(commit), nil
}

func (s *memoryScope) GetCommit(_ context.Context, commitID string) (Commit, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	commit, ok := s.store.commits[commitID]
	if !ok || commit.Tenant != s.tenant {
		return Commit{}, ErrNotFound
	}
	return copyCommit(commit), nil
}

func (s *memoryScope) GetCommits(_ context.Context, commitIDs []string) (map[string]Commit, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	commits := make(map[string]Commit, len(commitIDs))
	for _, id := range commitIDs {
		if commit, ok := s.store.commits[id]; ok && commit.Tenant == s.tenant {
			commits[id] = copyCommit(commit)
		}
	}
	return commits, nil
}

// tenantCommits returns the tenant's commits, newest first. Callers hold the lock.
func (s *memoryScope) tenantCommits(filter func(Commit) bool) []Commit {
	commits := make([]Commit, 0)
	for _, commit := range s.store.commits {
		if commit.Tenant != s.tenant {
			continue
		}
		if filter != nil && !filter(commit) {
			continue
		}
		commits = append(commits, copyCommit(commit))
	}
	sort.Slice(commits, func(i, j int) bool { return commits[i].Seq > commits[j].Seq })
	return commits
}

func (s *memoryScope) HeadCommits(context.Context) ([]Commit, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	return s.tenantCommits(func(c Commit) bool { return c.IsHead }), nil
}

func (s *memoryScope) LatestCommit(context.Context) (Commit, error) {
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	commits := s.tenantCommits(nil)
	if len(commits) == 0 {
		return Commit{}, ErrNotFound
	}
	return commits[0], nil
}

func (s *memoryScope) ListCommits(_ context.Context, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 50
	}
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()
	commits := s.tenantCommits(nil)
	if len(commits) > limit {
		commits = commits[:limit]
	}
	return commits, nil
}

func (s *memoryScope) SetHead(_ context.Context, commitID string, isHead bool) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	commit, ok := s.store.commits[commitID]
	if !ok || commit.Tenant != s.tenant {
		return nil
	}
	commit.IsHead = isHead
	s.store.commits[commitID] = commit
	return nil
}

func (s *memoryScope) MoveHead(_ context.Context, commitID string) error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	target, ok := s.store.commits[commitID]
	if !ok || target.Tenant != s.tenant {
		return ErrNotFound
	}
	for id, commit := range s.store.commits {
		if commit.Tenant != s.tenant {
			continue
		}
		commit.IsHead = id == commitID
		s.store.commits[id] = commit
	}
	return nil
}

type duplicateError struct {
	kind string
	id   string
}

func (e *duplicateError) Error() string {
	return "duplicate " + e.kind + " " + e.id
}

func errDuplicate(kind, id string) error {
	return &duplicateError{kind: kind, id: id}
}

func copyItem(item Item) Item {
	if item.DeletionCommit != nil {
		deletion := *item.DeletionCommit
		item.DeletionCommit = &deletion
	}
	return item
}

func copyCommit(commit Commit) Commit {
	if commit.Previous != nil {
		previous := *commit.Previous
		commit.Previous = &previous
	}
	commit.Base = append([]BaseEntry{}, commit.Base...)
	return commit
}

func copyDocument(doc Document) (Document, error) {
	content, err := cloneContent(doc.Content)
	if err != nil {
		return Document{}, err
	}
	doc.Content = content
	doc.Links = append([]Link{}, doc.Links...)
	return doc, nil
}

// cloneContent deep copies through JSON so the memory store sees the same
// value shapes (float64 numbers, []any arrays) a JSONB column would return.
func cloneContent(content map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(nonNilContent(content))
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
