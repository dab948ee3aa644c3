package metrics

import (
	"context"
	"time"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
	"github.com/kirillkom/multimodal-kb/internal/core/ports"
)

// InstrumentedRetriever records latency and result counts for every
// successful retrieval passing through it.
type InstrumentedRetriever struct {
	next    ports.ContextRetriever
	metrics *PipelineMetrics
}

func NewInstrumentedRetriever(next ports.ContextRetriever, m *PipelineMetrics) *InstrumentedRetriever {
	return &InstrumentedRetriever{next: next, metrics: m}
}

func (r *InstrumentedRetriever) Retrieve(
	ctx context.Context,
	query string,
	k int,
	threshold float64,
) ([]domain.RetrievedContent, error) {
	started := time.Now()
	results, err := r.next.Retrieve(ctx, query, k, threshold)
	if err != nil {
		return nil, err
	}
	r.metrics.ObserveRetrieval(time.Since(started), len(results))
	return results, nil
}
