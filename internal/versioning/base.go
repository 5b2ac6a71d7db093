package versioning

import "versionstore/api/internal/store"

// Base is a commit's item to document mapping. Lookups are constant time;
// insertion order is kept separately so projections stay stable.
type Base struct {
	order []string
	docs  map[string]string
}

func NewBase(entries []store.BaseEntry) *Base {
	b := &Base{
		order: make([]string, 0, len(entries)),
		docs:  make(map[string]string, len(entries)),
	}
	for _, entry := range entries {
		b.Set(entry.Item, entry.Document)
	}
	return b
}

func (b *Base) Get(item string) (string, bool) {
	doc, ok := b.docs[item]
	return doc, ok
}

// Set points item at document. A new item is appended; an existing item
// keeps its position.
func (b *Base) Set(item, document string) {
	if _, ok := b.docs[item]; !ok {
		b.order = append(b.order, item)
	}
	b.docs[item] = document
}

// Remove drops the given items and reports how many were present.
func (b *Base) Remove(items ...string) int {
	drop := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := b.docs[item]; ok {
			drop[item] = struct{}{}
			delete(b.docs, item)
		}
	}
	if len(drop) == 0 {
		return 0
	}
	kept := b.order[:0]
	for _, item := range b.order {
		if _, gone := drop[item]; !gone {
			kept = append(kept, item)
		}
	}
	b.order = kept
	return len(drop)
}

func (b *Base) Items() []string {
	return append([]string(nil), b.order...)
}

func (b *Base) Entries() []store.BaseEntry {
	entries := make([]store.BaseEntry, 0, len(b.order))
	for _, item := range b.order {
		entries = append(entries, store.BaseEntry{Item: item, Document: b.docs[item]})
	}
	return entries
}

// Clone returns an independent copy; drafts edit a clone of the previous base.
func (b *Base) Clone() *Base {
	return NewBase(b.Entries())
}
