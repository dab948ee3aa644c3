package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
)

type fakeRetriever struct {
	results []domain.RetrievedContent
	err     error
}

func (f *fakeRetriever) Retrieve(context.Context, string, int, float64) ([]domain.RetrievedContent, error) {
	return f.results, f.err
}

func scrape(t *testing.T, m *PipelineMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	return string(body)
}

func TestInstrumentedRetrieverRecordsLatencyAndResultCount(t *testing.T) {
	m := NewPipelineMetrics("test")
	next := &fakeRetriever{results: []domain.RetrievedContent{
		{ContentID: "a", Content: "one"},
		{ContentID: "b", Content: "two"},
		{ContentID: "c", Content: "three"},
	}}
	wrapped := NewInstrumentedRetriever(next, m)

	results, err := wrapped.Retrieve(context.Background(), "question", 5, 0.5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected passthrough of 3 results, got %d", len(results))
	}

	body := scrape(t, m)
	if !strings.Contains(body, `mkb_retrieval_query_duration_seconds_count{service="test"} 1`) {
		t.Errorf("expected one latency sample, metrics body:\n%s", body)
	}
	if !strings.Contains(body, `mkb_retrieval_results_returned_sum{service="test"} 3`) {
		t.Errorf("expected result-count sum of 3, metrics body:\n%s", body)
	}
}

func TestInstrumentedRetrieverSkipsFailedRetrievals(t *testing.T) {
	m := NewPipelineMetrics("test")
	wrapped := NewInstrumentedRetriever(&fakeRetriever{err: errors.New("index down")}, m)

	if _, err := wrapped.Retrieve(context.Background(), "question", 5, 0.5); err == nil {
		t.Fatal("expected the retrieval error to propagate")
	}

	body := scrape(t, m)
	if !strings.Contains(body, `mkb_retrieval_query_duration_seconds_count{service="test"} 0`) {
		t.Errorf("failed retrieval must not be sampled, metrics body:\n%s", body)
	}
}
