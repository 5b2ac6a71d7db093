package search

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemorySearcher is an in-process index used with the memory store. Matching
// is a case-insensitive substring test over title and text.
type MemorySearcher struct {
	mu      sync.RWMutex
	records map[string]map[string]ItemRecord
}

func NewMemorySearcher() *MemorySearcher {
	return &MemorySearcher{records: make(map[string]map[string]ItemRecord)}
}

func (m *MemorySearcher) Healthy() bool {
	return true
}

func (m *MemorySearcher) IndexItems(records []ItemRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, record := range records {
		tenant := m.records[record.Tenant]
		if tenant == nil {
			tenant = make(map[string]ItemRecord)
			m.records[record.Tenant] = tenant
		}
		tenant[record.ID] = record
	}
	return nil
}

func (m *MemorySearcher) DeleteItems(tenant string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records[tenant], id)
	}
	return nil
}

func (m *MemorySearcher) Search(_ context.Context, q Query) ([]Result, int, error) {
	if err := validateQuery(q); err != nil {
		return nil, 0, err
	}
	needle := strings.ToLower(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, 0, nil
	}

	m.mu.RLock()
	matches := make([]ItemRecord, 0)
	for _, record := range m.records[q.Tenant] {
		if strings.Contains(strings.ToLower(record.Title+" "+record.Text), needle) {
			matches = append(matches, record)
		}
	}
	m.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	total := len(matches)
	matches = page(matches, q.Offset, q.Limit)

	results := make([]Result, 0, len(matches))
	for _, record := range matches {
		results = append(results, Result{
			ID:      record.ID,
			Title:   record.Title,
			Snippet: snippet(record.Text, needle),
			Commit:  record.Commit,
		})
	}
	return results, total, nil
}

func page(records []ItemRecord, offset, limit int) []ItemRecord {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return nil
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}

// snippet returns up to 30 words of text around the first match.
func snippet(text, needle string) string {
	words := strings.Fields(text)
	start := 0
	for i, word := range words {
		if strings.Contains(strings.ToLower(word), needle) {
			start = max(i-5, 0)
			break
		}
	}
	end := min(start+30, len(words))
	return strings.Join(words[start:end], " ")
}
