package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to a
// local searcher (PG FTS or the in-memory index).
type Service struct {
	meili    *Meili
	fallback Searcher
	// local is set when the fallback keeps its own index and must be fed.
	local Indexer
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, fallback Searcher) *Service {
	s := &Service{meili: meili, fallback: fallback}
	if indexer, ok := fallback.(Indexer); ok {
		s.local = indexer
	}
	return s
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back: %v", err)
	}
	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexItems updates the local index synchronously and Meilisearch
// fire-and-forget.
func (s *Service) IndexItems(records []ItemRecord) {
	if len(records) == 0 {
		return
	}
	if s.local != nil {
		if err := s.local.IndexItems(records); err != nil {
			log.Printf("search: local index %d items: %v", len(records), err)
		}
	}
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.IndexItems(records); err != nil {
			log.Printf("search: index %d items: %v", len(records), err)
		}
	}()
}

// DeleteItems removes items from every index (fire-and-forget to Meilisearch).
func (s *Service) DeleteItems(tenant string, ids []string) {
	if len(ids) == 0 {
		return
	}
	if s.local != nil {
		if err := s.local.DeleteItems(tenant, ids); err != nil {
			log.Printf("search: local delete %d items: %v", len(ids), err)
		}
	}
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeleteItems(tenant, ids); err != nil {
			log.Printf("search: delete %d items: %v", len(ids), err)
		}
	}()
}

// ReindexTenant replaces a tenant's indexed items after the head moved:
// stale ids are dropped and records are (re)indexed.
func (s *Service) ReindexTenant(tenant string, records []ItemRecord, stale []string) {
	s.DeleteItems(tenant, stale)
	s.IndexItems(records)
}

// ReindexAllFromPG pushes every tenant's head records into Meilisearch.
// Called during startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	pgfts, ok := s.fallback.(*PgFTS)
	if !s.meiliReady() || !ok {
		return
	}
	records, err := pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexItems(records); err != nil {
		log.Printf("search: reindex items: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
