package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
)

// PostgresStore is the server-mode raw-content store. Every Set is durable
// on return, so Flush has nothing left to do; the commit ordering the dual
// store relies on still holds because raw rows land before the index commit.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS raw_contents (
	content_id TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_files (
	filename TEXT PRIMARY KEY,
	mtime TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) Set(ctx context.Context, contentID, payload string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO raw_contents (content_id, payload, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (content_id) DO NOTHING
`, contentID, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert raw content: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, contentID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT payload FROM raw_contents WHERE content_id = $1
`, contentID)

	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.WrapError(domain.ErrNotFound, "get raw content", fmt.Errorf("content_id %s", contentID))
		}
		return "", fmt.Errorf("scan raw content: %w", err)
	}
	return payload, nil
}

func (s *PostgresStore) Len(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_contents`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count raw contents: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Flush(context.Context) error {
	return nil
}
