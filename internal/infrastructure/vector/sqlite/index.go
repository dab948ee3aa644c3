// Package sqlite implements the summary index on a local SQLite file:
// metadata columns plus a JSON-encoded embedding per row, scored by cosine
// scan in Go. Plenty for a single-writer knowledge base of a few thousand
// summaries.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
)

type stagedRecord struct {
	record domain.SummaryRecord
	vector []float32
}

// Index stages Add-ed records in memory and writes them to SQLite only on
// Commit, in one transaction. The dual store flushes the raw map first, so
// a durable index row never points at a raw record that missed its flush.
type Index struct {
	db     *sql.DB
	logger *slog.Logger

	mu      sync.RWMutex
	pending []stagedRecord
}

func New(path string, logger *slog.Logger) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open index db: %w", err)
	}

	idx := &Index{db: db, logger: logger}
	if err := idx.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) ensureSchema() error {
	const query = `
CREATE TABLE IF NOT EXISTS summaries (
	content_id TEXT PRIMARY KEY,
	summary_text TEXT NOT NULL,
	kind TEXT NOT NULL,
	source TEXT NOT NULL,
	added_at TEXT NOT NULL,
	vector TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_summaries_source ON summaries(source);
`
	if _, err := idx.db.Exec(query); err != nil {
		return fmt.Errorf("ensure index schema: %w", err)
	}
	return nil
}

func (idx *Index) Close() error {
	return idx.db.Close()
}

func (idx *Index) Add(_ context.Context, records []domain.SummaryRecord, vectors [][]float32) error {
	if len(records) == 0 {
		return nil
	}
	if len(records) != len(vectors) {
		return domain.WrapError(
			domain.ErrInvalidInput,
			"stage index records",
			fmt.Errorf("records/vectors mismatch: %d/%d", len(records), len(vectors)),
		)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i, record := range records {
		idx.pending = append(idx.pending, stagedRecord{record: record, vector: vectors[i]})
	}
	return nil
}

func (idx *Index) Commit(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(idx.pending) == 0 {
		return nil
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO summaries (content_id, summary_text, kind, source, added_at, vector)
VALUES (?, ?, ?, ?, ?, ?)
`)
	if err != nil {
		return fmt.Errorf("prepare index insert: %w", err)
	}
	defer stmt.Close()

	for _, staged := range idx.pending {
		vectorJSON, err := json.Marshal(staged.vector)
		if err != nil {
			return fmt.Errorf("marshal vector: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			staged.record.ContentID,
			staged.record.SummaryText,
			string(staged.record.Kind),
			staged.record.Source,
			staged.record.AddedAt.Format(time.RFC3339Nano),
			string(vectorJSON),
		)
		if err != nil {
			return fmt.Errorf("insert index record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index tx: %w", err)
	}

	idx.logger.Info("index_committed", "records", len(idx.pending))
	idx.pending = nil
	return nil
}

func (idx *Index) Query(ctx context.Context, vector []float32, limit int) ([]domain.SummaryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}

	type scoredRecord struct {
		record domain.SummaryRecord
		score  float64
	}

	all, vectors, err := idx.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	scored := make([]scoredRecord, 0, len(all))
	for i, record := range all {
		scored = append(scored, scoredRecord{
			record: record,
			score:  cosine(vector, vectors[i]),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]domain.SummaryRecord, 0, len(scored))
	for _, s := range scored {
		out = append(out, s.record)
	}
	return out, nil
}

func (idx *Index) Scan(ctx context.Context, limit int) ([]domain.SummaryRecord, error) {
	all, _, err := idx.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (idx *Index) Count(ctx context.Context) (int, error) {
	row := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM summaries`)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count index records: %w", err)
	}

	idx.mu.RLock()
	n += len(idx.pending)
	idx.mu.RUnlock()
	return n, nil
}

// loadAll returns committed rows in insertion order followed by pending
// records, so staged items are searchable before Commit.
func (idx *Index) loadAll(ctx context.Context) ([]domain.SummaryRecord, [][]float32, error) {
	rows, err := idx.db.QueryContext(ctx, `
SELECT content_id, summary_text, kind, source, added_at, vector
FROM summaries
ORDER BY rowid
`)
	if err != nil {
		return nil, nil, fmt.Errorf("query index records: %w", err)
	}
	defer rows.Close()

	var records []domain.SummaryRecord
	var vectors [][]float32
	for rows.Next() {
		var record domain.SummaryRecord
		var kind, addedAt, vectorJSON string
		if err := rows.Scan(&record.ContentID, &record.SummaryText, &kind, &record.Source, &addedAt, &vectorJSON); err != nil {
			return nil, nil, fmt.Errorf("scan index record: %w", err)
		}
		record.Kind = domain.ContentKind(kind)
		if t, err := time.Parse(time.RFC3339Nano, addedAt); err == nil {
			record.AddedAt = t
		}

		var vector []float32
		if err := json.Unmarshal([]byte(vectorJSON), &vector); err != nil {
			return nil, nil, fmt.Errorf("unmarshal vector for %s: %w", record.ContentID, err)
		}
		records = append(records, record)
		vectors = append(vectors, vector)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate index records: %w", err)
	}

	idx.mu.RLock()
	for _, staged := range idx.pending {
		records = append(records, staged.record)
		vectors = append(vectors, staged.vector)
	}
	idx.mu.RUnlock()
	return records, vectors, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
