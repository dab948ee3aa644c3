// Package qdrant implements the summary index against a Qdrant instance
// over its HTTP API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
)

// Client stages Add-ed points in memory and upserts them on Commit with
// wait=true, after the raw store flushed. Staged points are not visible to
// Query until Commit; retrieval consistency is only promised after Persist.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int

	mu      sync.Mutex
	pending []point
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Add(_ context.Context, records []domain.SummaryRecord, vectors [][]float32) error {
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

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, record := range records {
		c.pending = append(c.pending, point{
			ID:     record.ContentID,
			Vector: vectors[i],
			Payload: map[string]any{
				"content_id":   record.ContentID,
				"summary_text": record.SummaryText,
				"kind":         string(record.Kind),
				"source":       record.Source,
				"added_at":     record.AddedAt.Format(time.RFC3339Nano),
			},
		})
	}
	return nil
}

func (c *Client) Commit(ctx context.Context) error {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	if err := c.ensureCollection(ctx, len(pending[0].Vector)); err != nil {
		c.restore(pending)
		return err
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	var response json.RawMessage
	if err := c.do(ctx, http.MethodPut, url, map[string]any{"points": pending}, &response, "upsert"); err != nil {
		c.restore(pending)
		return err
	}
	return nil
}

func (c *Client) restore(points []point) {
	c.mu.Lock()
	c.pending = append(points, c.pending...)
	c.mu.Unlock()
}

func (c *Client) Query(ctx context.Context, vector []float32, limit int) ([]domain.SummaryRecord, error) {
	if len(vector) == 0 || limit <= 0 {
		return nil, nil
	}

	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}

	var response struct {
		Result []struct {
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPost, url, reqBody, &response, "search"); err != nil {
		return nil, err
	}

	out := make([]domain.SummaryRecord, 0, len(response.Result))
	for _, hit := range response.Result {
		out = append(out, recordFromPayload(hit.Payload))
	}
	return out, nil
}

func (c *Client) Scan(ctx context.Context, limit int) ([]domain.SummaryRecord, error) {
	reqBody := map[string]any{
		"limit":        limit,
		"with_payload": true,
	}

	var response struct {
		Result struct {
			Points []struct {
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPost, url, reqBody, &response, "scroll"); err != nil {
		return nil, err
	}

	out := make([]domain.SummaryRecord, 0, len(response.Result.Points))
	for _, hit := range response.Result.Points {
		out = append(out, recordFromPayload(hit.Payload))
	}
	return out, nil
}

func (c *Client) Count(ctx context.Context) (int, error) {
	var response struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/count", c.baseURL, c.collection)
	if err := c.do(ctx, http.MethodPost, url, map[string]any{"exact": true}, &response, "count"); err != nil {
		return 0, err
	}

	c.mu.Lock()
	n := response.Result.Count + len(c.pending)
	c.mu.Unlock()
	return n, nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	})
	if err != nil {
		return fmt.Errorf("marshal ensure collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create ensure collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ensure collection request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusConflict {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ensure collection status: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	c.ensureMu.Lock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	c.ensureMu.Unlock()
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, payload, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("qdrant %s status: %s: %s", operation, resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func recordFromPayload(payload map[string]any) domain.SummaryRecord {
	record := domain.SummaryRecord{
		ContentID:   stringPayload(payload, "content_id"),
		SummaryText: stringPayload(payload, "summary_text"),
		Kind:        domain.ContentKind(stringPayload(payload, "kind")),
		Source:      stringPayload(payload, "source"),
	}
	if t, err := time.Parse(time.RFC3339Nano, stringPayload(payload, "added_at")); err == nil {
		record.AddedAt = t
	}
	return record
}

func stringPayload(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}
