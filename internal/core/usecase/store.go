package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
	"github.com/kirillkom/multimodal-kb/internal/core/ports"
)

// DualContentStore keeps summaries searchable and raw payloads resolvable,
// linked one-to-one by generated content IDs. Additions are staged in both
// halves and made durable by Persist, raw map strictly before index, so a
// crash can never leave an index entry pointing at a missing raw record.
type DualContentStore struct {
	index    ports.SummaryIndex
	raw      ports.RawContentStore
	embedder ports.Embedder
	logger   *slog.Logger

	now   func() time.Time
	newID func() string
}

func NewDualContentStore(
	index ports.SummaryIndex,
	raw ports.RawContentStore,
	embedder ports.Embedder,
	logger *slog.Logger,
) *DualContentStore {
	return &DualContentStore{
		index:    index,
		raw:      raw,
		embedder: embedder,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// AddItems stages one summary-index record and one raw record per
// payload/summary pair. Empty input is a no-op. Append-only: there is no
// update or delete path, stale entries survive until an external rebuild.
func (s *DualContentStore) AddItems(
	ctx context.Context,
	payloads, summaries []string,
	kind domain.ContentKind,
	source string,
) (int, error) {
	if len(payloads) == 0 && len(summaries) == 0 {
		return 0, nil
	}
	if len(payloads) != len(summaries) {
		return 0, domain.WrapError(
			domain.ErrInvalidInput,
			"add items",
			fmt.Errorf("payloads/summaries mismatch: %d/%d", len(payloads), len(summaries)),
		)
	}

	vectors, err := s.embedder.Embed(ctx, summaries)
	if err != nil {
		return 0, fmt.Errorf("embed summaries: %w", err)
	}
	if len(vectors) != len(summaries) {
		return 0, domain.WrapError(
			domain.ErrInvalidInput,
			"add items",
			fmt.Errorf("vectors/summaries mismatch: %d/%d", len(vectors), len(summaries)),
		)
	}

	addedAt := s.now().UTC()
	records := make([]domain.SummaryRecord, 0, len(summaries))
	ids := make([]string, 0, len(summaries))
	for _, summary := range summaries {
		id := s.newID()
		ids = append(ids, id)
		records = append(records, domain.SummaryRecord{
			ContentID:   id,
			SummaryText: summary,
			Kind:        kind,
			Source:      source,
			AddedAt:     addedAt,
		})
	}

	for i, id := range ids {
		if err := s.raw.Set(ctx, id, payloads[i]); err != nil {
			return 0, fmt.Errorf("stage raw content: %w", err)
		}
	}
	if err := s.index.Add(ctx, records, vectors); err != nil {
		return 0, fmt.Errorf("stage index records: %w", err)
	}

	s.logger.Info("items_staged",
		"kind", string(kind),
		"source", source,
		"count", len(records),
	)
	return len(records), nil
}

// Persist flushes the raw map, then commits staged index records. The order
// is load-bearing: a flushed index entry must never reference an unflushed
// raw record.
func (s *DualContentStore) Persist(ctx context.Context) error {
	if err := s.raw.Flush(ctx); err != nil {
		return fmt.Errorf("flush raw content store: %w", err)
	}
	if err := s.index.Commit(ctx); err != nil {
		return fmt.Errorf("commit summary index: %w", err)
	}
	return nil
}

// Counts reports index and raw-map sizes.
func (s *DualContentStore) Counts(ctx context.Context) (indexCount, rawCount int, err error) {
	indexCount, err = s.index.Count(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count index records: %w", err)
	}
	rawCount, err = s.raw.Len(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("count raw records: %w", err)
	}
	return indexCount, rawCount, nil
}

// VerifyPairing surfaces the detectable startup inconsistency: a non-empty
// index next to an empty raw map means every retrieval will resolve to
// missing content. The condition is reported, not fatal.
func (s *DualContentStore) VerifyPairing(ctx context.Context) error {
	indexCount, rawCount, err := s.Counts(ctx)
	if err != nil {
		return err
	}
	if indexCount > 0 && rawCount == 0 {
		return domain.WrapError(
			domain.ErrInconsistent,
			"verify pairing",
			fmt.Errorf("index has %d records but raw content store is empty", indexCount),
		)
	}
	return nil
}
