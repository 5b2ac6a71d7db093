package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Scope returns a handle whose every query is filtered by tenant.
func (s *PostgresStore) Scope(tenant string) TenantStore {
	return &postgresScope{db: s.db, tenant: tenant}
}

type postgresScope struct {
	db     *sql.DB
	tenant string
}

func (s *postgresScope) Tenant() string {
	return s.tenant
}

func (s *postgresScope) InsertItem(ctx context.Context, item Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (id, tenant, creation_commit, deletion_commit)
		VALUES ($1, $2, $3, NULL)
	`, item.ID, s.tenant, item.CreationCommit)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (s *postgresScope) GetItem(ctx context.Context, itemID string) (Item, error) {
	return s.getItem(ctx, itemID, false)
}

func (s *postgresScope) GetLiveItem(ctx context.Context, itemID string) (Item, error) {
	return s.getItem(ctx, itemID, true)
}

func (s *postgresScope) getItem(ctx context.Context, itemID string, liveOnly bool) (Item, error) {
	var item Item
	var deletion sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant, creation_commit, deletion_commit
		FROM items
		WHERE tenant=$1 AND id=$2
		  AND (NOT $3::boolean OR deletion_commit IS NULL)
	`, s.tenant, itemID, liveOnly).Scan(&item.ID, &item.Tenant, &item.CreationCommit, &deletion)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get item: %w", err)
	}
	if deletion.Valid {
		item.DeletionCommit = &deletion.String
	}
	return item, nil
}

func (s *postgresScope) GetItems(ctx context.Context, itemIDs []string) (map[string]Item, error) {
	items := make(map[string]Item, len(itemIDs))
	if len(itemIDs) == 0 {
		return items, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant, creation_commit, deletion_commit
		FROM items
		WHERE tenant=$1 AND id = ANY($2)
	`, s.tenant, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item Item
		var deletion sql.NullString
		if err := rows.Scan(&item.ID, &item.Tenant, &item.CreationCommit, &deletion); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		if deletion.Valid {
			item.DeletionCommit = &deletion.String
		}
		items[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func (s *postgresScope) MarkItemDeleted(ctx context.Context, itemID, commitID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE items
		SET deletion_commit=$3
		WHERE tenant=$1 AND id=$2 AND deletion_commit IS NULL
	`, s.tenant, itemID, commitID)
	if err != nil {
		return false, fmt.Errorf("mark item deleted: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark item deleted rows: %w", err)
	}
	return affected > 0, nil
}

func (s *postgresScope) MarkItemsDeleted(ctx context.Context, itemIDs []string, commitID string) ([]string, error) {
	deleted := make([]string, 0, len(itemIDs))
	if len(itemIDs) == 0 {
		return deleted, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		UPDATE items
		SET deletion_commit=$3
		WHERE tenant=$1 AND id = ANY($2) AND deletion_commit IS NULL
		RETURNING id
	`, s.tenant, itemIDs, commitID)
	if err != nil {
		return nil, fmt.Errorf("mark items deleted: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted item: %w", err)
		}
		deleted = append(deleted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted items: %w", err)
	}
	return deleted, nil
}

func (s *postgresScope) InsertDocument(ctx context.Context, doc Document) error {
	content, err := json.Marshal(nonNilContent(doc.Content))
	if err != nil {
		return fmt.Errorf("marshal document content: %w", err)
	}
	links, err := json.Marshal(nonNilLinks(doc.Links))
	if err != nil {
		return fmt.Errorf("marshal document links: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, item_id, commit_id, tenant, content, links)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb)
	`, doc.ID, doc.Item, doc.Commit, s.tenant, string(content), string(links))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

const documentColumns = `id, item_id, commit_id, tenant, content, links, created_at`

func scanDocument(scan func(...any) error) (Document, error) {
	var doc Document
	var content, links []byte
	if err := scan(&doc.ID, &doc.Item, &doc.Commit, &doc.Tenant, &content, &links, &doc.CreatedAt); err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal(content, &doc.Content); err != nil {
		return Document{}, fmt.Errorf("decode document content: %w", err)
	}
	if err := json.Unmarshal(links, &doc.Links); err != nil {
		return Document{}, fmt.Errorf("decode document links: %w", err)
	}
	return doc, nil
}

func (s *postgresScope) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE tenant=$1 AND id=$2`, s.tenant, documentID)
	doc, err := scanDocument(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *postgresScope) GetDocuments(ctx context.Context, documentIDs []string) (map[string]Document, error) {
	docs := make(map[string]Document, len(documentIDs))
	if len(documentIDs) == 0 {
		return docs, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE tenant=$1 AND id = ANY($2)`, s.tenant, documentIDs)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func (s *postgresScope) ListItemDocuments(ctx context.Context, itemID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE tenant=$1 AND item_id=$2
		ORDER BY created_at ASC, id ASC
	`, s.tenant, itemID)
	if err != nil {
		return nil, fmt.Errorf("list item documents: %w", err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item documents: %w", err)
	}
	return docs, nil
}

func (s *postgresScope) InsertCommit(ctx context.Context, commit Commit) (Commit, error) {
	base, err := json.Marshal(nonNilBase(commit.Base))
	if err != nil {
		return Commit{}, fmt.Errorf("marshal commit base: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO commits (id, tenant, previous_id, author, created_at, is_head, base)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		RETURNING seq
	`, commit.ID, s.tenant, commit.Previous, commit.Author, commit.Date, commit.IsHead, string(base)).Scan(&commit.Seq)
	if err != nil {
		return Commit{}, fmt.Errorf("insert commit: %w", err)
	}
	commit.Tenant = s.tenant
	return commit, nil
}

const commitColumns = `id, tenant, previous_id, author, created_at, is_head, seq, base`

func scanCommit(scan func(...any) error) (Commit, error) {
	var commit Commit
	var previous sql.NullString
	var base []byte
	if err := scan(&commit.ID, &commit.Tenant, &previous, &commit.Author, &commit.Date, &commit.IsHead, &commit.Seq, &base); err != nil {
		return Commit{}, err
	}
	if previous.Valid {
		commit.Previous = &previous.String
	}
	if err := json.Unmarshal(base, &commit.Base); err != nil {
		return Commit{}, fmt.Errorf("decode commit base: %w", err)
	}
	return commit, nil
}

func (s *postgresScope) GetCommit(ctx context.Context, commitID string) (Commit, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+commitColumns+` FROM commits WHERE tenant=$1 AND id=$2`, s.tenant, commitID)
	commit, err := scanCommit(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Commit{}, ErrNotFound
	}
	if err != nil {
		return Commit{}, fmt.Errorf("get commit: %w", err)
	}
	return commit, nil
}

func (s *postgresScope) GetCommits(ctx context.Context, commitIDs []string) (map[string]Commit, error) {
	commits := make(map[string]Commit, len(commitIDs))
	if len(commitIDs) == 0 {
		return commits, nil
	}
	list, err := s.queryCommits(ctx, `SELECT `+commitColumns+` FROM commits WHERE tenant=$1 AND id = ANY($2)`, s.tenant, commitIDs)
	if err != nil {
		return nil, err
	}
	for _, commit := range list {
		commits[commit.ID] = commit
	}
	return commits, nil
}

func (s *postgresScope) HeadCommits(ctx context.Context) ([]Commit, error) {
	return s.queryCommits(ctx, `
		SELECT `+commitColumns+`
		FROM commits
		WHERE tenant=$1 AND is_head
		ORDER BY seq DESC
	`, s.tenant)
}

func (s *postgresScope) LatestCommit(ctx context.Context) (Commit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+commitColumns+`
		FROM commits
		WHERE tenant=$1
		ORDER BY seq DESC
		LIMIT 1
	`, s.tenant)
	commit, err := scanCommit(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Commit{}, ErrNotFound
	}
	if err != nil {
		return Commit{}, fmt.Errorf("latest commit: %w", err)
	}
	return commit, nil
}

func (s *postgresScope) ListCommits(ctx context.Context, limit int) ([]Commit, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryCommits(ctx, `
		SELECT `+commitColumns+`
		FROM commits
		WHERE tenant=$1
		ORDER BY seq DESC
		LIMIT $2
	`, s.tenant, limit)
}

func (s *postgresScope) queryCommits(ctx context.Context, query string, args ...any) ([]Commit, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	defer rows.Close()

	commits := make([]Commit, 0)
	for rows.Next() {
		commit, err := scanCommit(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		commits = append(commits, commit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return commits, nil
}

func (s *postgresScope) SetHead(ctx context.Context, commitID string, isHead bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE commits SET is_head=$3 WHERE tenant=$1 AND id=$2`, s.tenant, commitID, isHead)
	if err != nil {
		return fmt.Errorf("set head flag: %w", err)
	}
	return nil
}

func (s *postgresScope) MoveHead(ctx context.Context, commitID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE commits
		SET is_head = (id = $2)
		WHERE tenant=$1 AND (is_head OR id = $2)
	`, s.tenant, commitID)
	if err != nil {
		return fmt.Errorf("move head: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("move head rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNilContent(content map[string]any) map[string]any {
	if content == nil {
		return map[string]any{}
	}
	return content
}

func nonNilLinks(links []Link) []Link {
	if links == nil {
		return []Link{}
	}
	return links
}

func nonNilBase(base []BaseEntry) []BaseEntry {
	if base == nil {
		return []BaseEntry{}
	}
	return base
}
