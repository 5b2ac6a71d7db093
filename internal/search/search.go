package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"versionstore/api/internal/versioning"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Commit  string `json:"commit"`
}

// Query describes a search request. Tenant is mandatory.
type Query struct {
	Tenant string
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push item records into a search index.
type Indexer interface {
	IndexItems(records []ItemRecord) error
	DeleteItems(tenant string, ids []string) error
}

// ItemRecord is the data we index for an item at the head commit.
type ItemRecord struct {
	ID     string `json:"id"`
	Tenant string `json:"tenant"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Commit string `json:"commit"`
}

// RecordFromView flattens the string fields of a projected item into
// searchable text.
func RecordFromView(tenant string, view versioning.View) ItemRecord {
	keys := make([]string, 0, len(view.Fields))
	for key := range view.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var text []string
	for _, key := range keys {
		if value, ok := view.Fields[key].(string); ok && strings.TrimSpace(value) != "" {
			text = append(text, value)
		}
	}
	title, _ := view.Fields["title"].(string)
	return ItemRecord{
		ID:     view.ID,
		Tenant: tenant,
		Title:  title,
		Text:   strings.Join(text, " "),
		Commit: view.Changed.Commit,
	}
}

func RecordsFromViews(tenant string, views []versioning.View) []ItemRecord {
	records := make([]ItemRecord, 0, len(views))
	for _, view := range views {
		records = append(records, RecordFromView(tenant, view))
	}
	return records
}

func validateQuery(q Query) error {
	if strings.TrimSpace(q.Tenant) == "" {
		return fmt.Errorf("search: tenant is required")
	}
	return nil
}
