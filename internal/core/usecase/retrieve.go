package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
	"github.com/kirillkom/multimodal-kb/internal/core/ports"
)

const (
	defaultRetrieveK = 10
	// Candidates fetched per requested result, so threshold filtering still
	// leaves enough to rank.
	overFetchFactor = 2
)

// RetrieveUseCase fetches candidate summaries by query similarity, resolves
// them to full content, re-scores each candidate against the query by direct
// cosine similarity of the resolved content, filters by threshold and ranks.
type RetrieveUseCase struct {
	index    ports.SummaryIndex
	raw      ports.RawContentStore
	embedder ports.Embedder
	logger   *slog.Logger
}

func NewRetrieveUseCase(
	index ports.SummaryIndex,
	raw ports.RawContentStore,
	embedder ports.Embedder,
	logger *slog.Logger,
) *RetrieveUseCase {
	return &RetrieveUseCase{
		index:    index,
		raw:      raw,
		embedder: embedder,
		logger:   logger,
	}
}

func (uc *RetrieveUseCase) Retrieve(
	ctx context.Context,
	query string,
	k int,
	threshold float64,
) ([]domain.RetrievedContent, error) {
	if k <= 0 {
		k = defaultRetrieveK
	}

	queryVector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil {
		// Degraded mode: no similarity filtering, first k resolved contents
		// in index order.
		uc.logger.Warn("query_embed_failed", "error", err)
		return uc.retrieveUnranked(ctx, k)
	}

	candidates, err := uc.index.Query(ctx, queryVector, k*overFetchFactor)
	if err != nil {
		return nil, fmt.Errorf("query summary index: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	scored := make([]domain.RetrievedContent, 0, len(candidates))
	unscored := make([]domain.RetrievedContent, 0)
	for _, record := range candidates {
		content := uc.resolve(ctx, record)
		if strings.TrimSpace(content) == "" {
			continue
		}

		vectors, err := uc.embedder.Embed(ctx, []string{content})
		if err != nil || len(vectors) == 0 {
			uc.logger.Warn("candidate_embed_failed", "content_id", record.ContentID, "error", err)
			unscored = append(unscored, retrieved(record, content, 0, false))
			continue
		}

		similarity := CosineSimilarity(queryVector, vectors[0])
		if similarity < threshold {
			continue
		}
		scored = append(scored, retrieved(record, content, similarity, true))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	out := append(scored, unscored...)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (uc *RetrieveUseCase) retrieveUnranked(ctx context.Context, k int) ([]domain.RetrievedContent, error) {
	records, err := uc.index.Scan(ctx, k)
	if err != nil {
		return nil, fmt.Errorf("scan summary index: %w", err)
	}

	out := make([]domain.RetrievedContent, 0, len(records))
	for _, record := range records {
		content := uc.resolve(ctx, record)
		if strings.TrimSpace(content) == "" {
			continue
		}
		out = append(out, retrieved(record, content, 0, false))
	}
	return out, nil
}

// resolve looks up full content for a summary hit. A missing raw record is a
// consistency fault, surfaced as a warning and answered with the summary
// text itself.
func (uc *RetrieveUseCase) resolve(ctx context.Context, record domain.SummaryRecord) string {
	content, err := uc.raw.Get(ctx, record.ContentID)
	if err != nil {
		uc.logger.Warn("raw_content_missing",
			"content_id", record.ContentID,
			"source", record.Source,
			"error", err,
		)
		return record.SummaryText
	}
	return content
}

func retrieved(record domain.SummaryRecord, content string, score float64, scoredFlag bool) domain.RetrievedContent {
	return domain.RetrievedContent{
		ContentID: record.ContentID,
		Content:   content,
		Kind:      record.Kind,
		Source:    record.Source,
		Score:     score,
		Scored:    scoredFlag,
	}
}

// CosineSimilarity is dot(a,b)/(|a|*|b|), 0 when either norm is zero or the
// dimensions disagree.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
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
