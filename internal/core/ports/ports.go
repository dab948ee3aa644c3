package ports

import (
	"context"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
)

// Extractor decomposes a source document into typed content elements.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]domain.ContentElement, error)
}

// Embedder builds vectors for summaries, resolved contents and query text.
// Vectors must be deterministic for the same text within a process lifetime.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Summarizer maps raw text or table payloads to short summaries.
// The result preserves input length and order; an item that failed softly is
// an empty string in its slot. maxInFlight bounds concurrent model calls.
type Summarizer interface {
	SummarizeBatch(ctx context.Context, texts []string, maxInFlight int) ([]string, error)
}

// ImageDescriber maps an extracted image to a natural-language description.
type ImageDescriber interface {
	Describe(ctx context.Context, imagePath string) (string, error)
}

// Answerer is the chat model invoked by the question-answering facade.
type Answerer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SummaryIndex is the similarity-searchable half of the dual content store.
// Add stages records; Commit makes staged records durable. Retrieval is only
// guaranteed to see records once they are committed.
type SummaryIndex interface {
	Add(ctx context.Context, records []domain.SummaryRecord, vectors [][]float32) error
	Commit(ctx context.Context) error
	Query(ctx context.Context, vector []float32, limit int) ([]domain.SummaryRecord, error)
	Scan(ctx context.Context, limit int) ([]domain.SummaryRecord, error)
	Count(ctx context.Context) (int, error)
}

// RawContentStore maps content IDs to original payloads. Set stages a record;
// Flush makes staged records durable.
type RawContentStore interface {
	Set(ctx context.Context, contentID, payload string) error
	Get(ctx context.Context, contentID string) (string, error)
	Len(ctx context.Context) (int, error)
	Flush(ctx context.Context) error
}

// Ledger tracks which source documents were ingested and at what mtime.
type Ledger interface {
	IsUpToDate(filename, mtime string) bool
	MarkProcessed(ctx context.Context, filename, mtime string) error
	Entries() map[string]string
}

// CheckpointStore holds per-document in-flight batch results so an
// interrupted run loses at most the unwritten tail.
type CheckpointStore interface {
	SaveSummaries(document, stage string, summaries []string) error
	LoadSummaries(document, stage string) ([]string, error)
	SaveDescriptions(document string, descriptions map[string]string) error
	LoadDescriptions(document string) (map[string]string, error)
	Clear(document string) error
}

// ImageRegistry tracks described images globally, across documents.
type ImageRegistry interface {
	IsProcessed(filename string) bool
	MarkProcessed(filename string, record domain.ImageRecord) error
}

// IngestQueue serializes ingestion requests through a single worker.
type IngestQueue interface {
	PublishIngestRequest(ctx context.Context, filename string) error
	SubscribeIngestRequests(ctx context.Context, handler func(context.Context, string) error) error
}

// DocumentIngestor is the inbound contract for document processing.
type DocumentIngestor interface {
	ProcessDocument(ctx context.Context, path string) (domain.IngestResult, error)
	ProcessAll(ctx context.Context) ([]domain.IngestResult, error)
}

// ContextRetriever is the inbound contract for ranked context retrieval.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, k int, threshold float64) ([]domain.RetrievedContent, error)
}

// QuestionAnswerer is the inbound contract for the QA facade.
type QuestionAnswerer interface {
	Answer(ctx context.Context, question string) (string, error)
}
