package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"versionstore/api/internal/versioning"
)

// PgFTS implements Searcher using PostgreSQL full-text search over the
// documents referenced by each tenant's head commit.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres the store is down as well.
func (p *PgFTS) Healthy() bool {
	return true
}

// headDocuments resolves the head of a tenant the way the engine does: the
// newest flagged commit, or the newest commit when none is flagged. It then
// expands the head's base list. $1 is the tenant.
const headDocuments = `
	WITH head AS (
		SELECT id, base FROM commits
		WHERE tenant = $1
		ORDER BY is_head DESC, seq DESC
		LIMIT 1
	), entries AS (
		SELECT e->>'item' AS item_id, e->>'document' AS document_id
		FROM head, jsonb_array_elements(head.base) AS e
	)
	SELECT d.item_id, d.commit_id, d.content, d.fts
	FROM entries
	JOIN documents d ON d.id = entries.document_id AND d.item_id = entries.item_id AND d.tenant = $1`

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if err := validateQuery(q); err != nil {
		return nil, 0, err
	}
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $2)"
	matched := fmt.Sprintf(`SELECT h.item_id, h.commit_id, h.content,
			ts_rank(h.fts, %s) AS rank
		FROM (%s) h
		WHERE h.fts @@ %s`, tsQuery, headDocuments, tsQuery)

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM ("+matched+") sub", q.Tenant, q.Text).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT item_id, commit_id,
			coalesce(content->>'title', ''),
			ts_headline('english', content::text, %s, 'MaxFragments=1,MaxWords=30')
		FROM (%s) sub
		ORDER BY rank DESC, item_id
		LIMIT %d OFFSET %d`, tsQuery, matched, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, q.Tenant, q.Text)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Commit, &r.Title, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns the head records of every tenant with at least one
// commit, for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ItemRecord, error) {
	tenantRows, err := p.db.QueryContext(ctx, `SELECT DISTINCT tenant FROM commits`)
	if err != nil {
		return nil, fmt.Errorf("load tenants: %w", err)
	}
	var tenants []string
	for tenantRows.Next() {
		var tenant string
		if err := tenantRows.Scan(&tenant); err != nil {
			tenantRows.Close()
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	tenantRows.Close()
	if err := tenantRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}

	records := make([]ItemRecord, 0)
	for _, tenant := range tenants {
		tenantRecords, err := p.loadTenantRecords(ctx, tenant)
		if err != nil {
			return nil, err
		}
		records = append(records, tenantRecords...)
	}
	return records, nil
}

func (p *PgFTS) loadTenantRecords(ctx context.Context, tenant string) ([]ItemRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT item_id, commit_id, content FROM (`+headDocuments+`) h`, tenant)
	if err != nil {
		return nil, fmt.Errorf("load records for %s: %w", tenant, err)
	}
	defer rows.Close()

	records := make([]ItemRecord, 0)
	for rows.Next() {
		var (
			view    versioning.View
			commit  string
			content []byte
		)
		if err := rows.Scan(&view.ID, &commit, &content); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal(content, &view.Fields); err != nil {
			return nil, fmt.Errorf("decode content of %s: %w", view.ID, err)
		}
		view.Changed.Commit = commit
		records = append(records, RecordFromView(tenant, view))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}
