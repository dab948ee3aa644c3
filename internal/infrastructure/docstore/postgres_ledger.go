package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// PostgresLedger is the server-mode processed-file ledger. Entries are
// cached in memory at startup so the up-to-date gate stays a cheap local
// check; MarkProcessed writes through.
type PostgresLedger struct {
	db *sql.DB

	mu      sync.Mutex
	entries map[string]string
}

func NewPostgresLedger(ctx context.Context, db *sql.DB) (*PostgresLedger, error) {
	l := &PostgresLedger{
		db:      db,
		entries: map[string]string{},
	}

	rows, err := db.QueryContext(ctx, `SELECT filename, mtime FROM processed_files`)
	if err != nil {
		return nil, fmt.Errorf("load ledger entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var filename, mtime string
		if err := rows.Scan(&filename, &mtime); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		l.entries[filename] = mtime
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return l, nil
}

func (l *PostgresLedger) IsUpToDate(filename, mtime string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	recorded, ok := l.entries[filename]
	return ok && recorded == mtime
}

func (l *PostgresLedger) MarkProcessed(ctx context.Context, filename, mtime string) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO processed_files (filename, mtime, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (filename) DO UPDATE SET mtime = EXCLUDED.mtime, processed_at = EXCLUDED.processed_at
`, filename, mtime, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert ledger entry: %w", err)
	}

	l.mu.Lock()
	l.entries[filename] = mtime
	l.mu.Unlock()
	return nil
}

func (l *PostgresLedger) Entries() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]string, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}
