package domain

import "time"

type ContentKind string

const (
	KindText  ContentKind = "text"
	KindTable ContentKind = "table"
	KindImage ContentKind = "image"
)

// ContentElement is a typed piece of a source document produced by an
// extractor. Elements are transient: only the payload and its summary are
// persisted, never the element itself.
type ContentElement struct {
	Kind    ContentKind `json:"kind"`
	Payload string      `json:"payload"`
}

// SummaryRecord is the searchable half of a stored item. The embedding
// computed from SummaryText lives in the summary index next to this metadata.
type SummaryRecord struct {
	ContentID   string      `json:"content_id"`
	SummaryText string      `json:"summary_text"`
	Kind        ContentKind `json:"kind"`
	Source      string      `json:"source"`
	AddedAt     time.Time   `json:"added_at"`
}

// RetrievedContent is a ranked retrieval result resolved to full content.
// Scored is false when the query embedding failed and ranking was skipped.
type RetrievedContent struct {
	ContentID string      `json:"content_id"`
	Content   string      `json:"content"`
	Kind      ContentKind `json:"kind"`
	Source    string      `json:"source"`
	Score     float64     `json:"score"`
	Scored    bool        `json:"scored"`
}

// ImageRecord marks an extracted image as described, globally across
// documents.
type ImageRecord struct {
	SourceDocument string    `json:"source_document"`
	ProcessedAt    time.Time `json:"processed_at"`
	SizeBytes      int64     `json:"size_bytes"`
}

type IngestStatus string

const (
	IngestSkipped   IngestStatus = "skipped"
	IngestPersisted IngestStatus = "persisted"
	IngestFailed    IngestStatus = "failed"
)

// IngestResult reports what one document contributed to the knowledge base.
type IngestResult struct {
	Document   string       `json:"document"`
	Status     IngestStatus `json:"status"`
	TextItems  int          `json:"text_items"`
	TableItems int          `json:"table_items"`
	ImageItems int          `json:"image_items"`
}

func (r IngestResult) TotalItems() int {
	return r.TextItems + r.TableItems + r.ImageItems
}
