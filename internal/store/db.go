package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// MemoryURL selects the in-process backend instead of Postgres.
const MemoryURL = "memory"

func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// OpenBackend opens the backend named by databaseURL and brings its schema up
// to date. The returned *sql.DB is nil for the memory backend.
func OpenBackend(ctx context.Context, databaseURL, migrationsDir string) (Backend, *sql.DB, error) {
	if strings.TrimSpace(databaseURL) == MemoryURL {
		return NewMemoryStore(), nil, nil
	}
	db, err := Open(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return NewPostgresStore(db), db, nil
}
