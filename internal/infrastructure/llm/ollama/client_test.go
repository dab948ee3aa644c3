package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestEmbedderSendsBatchAndParsesVectors(t *testing.T) {
	var gotRequest struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2],[0.3,0.4]]}`))
	}))
	defer server.Close()

	client := New(server.URL, "gen", "embed-model", "vision", nil)
	embedder := NewEmbedder(client)

	vectors, err := embedder.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vectors) != 2 || vectors[1][0] != 0.3 {
		t.Fatalf("unexpected vectors: %v", vectors)
	}
	if gotRequest.Model != "embed-model" || len(gotRequest.Input) != 2 {
		t.Fatalf("unexpected request: %+v", gotRequest)
	}
}

func TestEmbedderEmptyInput(t *testing.T) {
	embedder := NewEmbedder(New("http://localhost:11434", "g", "e", "v", nil))
	vectors, err := embedder.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if vectors != nil {
		t.Fatalf("expected nil for empty input, got %v", vectors)
	}
}

func TestGeneratorTrimsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var reqBody map[string]any
		if err := json.NewDecoder(r.Body).Decode(&reqBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if reqBody["stream"] != false {
			t.Errorf("expected stream=false, got %v", reqBody["stream"])
		}
		_, _ = w.Write([]byte(`{"response":"  the answer \n"}`))
	}))
	defer server.Close()

	generator := NewGenerator(New(server.URL, "gen", "embed", "vision", nil))
	got, err := generator.Generate(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "the answer" {
		t.Fatalf("unexpected response: %q", got)
	}
}

func TestServerErrorIsHTTPStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusNotFound)
	}))
	defer server.Close()

	generator := NewGenerator(New(server.URL, "gen", "embed", "vision", nil))
	_, err := generator.Generate(context.Background(), "prompt")
	if err == nil {
		t.Fatalf("expected error")
	}

	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected HTTPStatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", statusErr.StatusCode)
	}
}

func TestSummarizeBatchPreservesOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&reqBody)

		// Echo the chunk back so slots are distinguishable.
		line := reqBody.Prompt[strings.LastIndex(reqBody.Prompt, "\n")+1:]
		resp, _ := json.Marshal(map[string]string{"response": "summary of " + line})
		_, _ = w.Write(resp)
	}))
	defer server.Close()

	summarizer := NewSummarizer(New(server.URL, "gen", "embed", "vision", nil), 1000, testLogger())
	texts := []string{"alpha", "beta", "gamma"}

	summaries, err := summarizer.SummarizeBatch(context.Background(), texts, 2)
	if err != nil {
		t.Fatalf("SummarizeBatch() error = %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(summaries))
	}
	for i, text := range texts {
		if summaries[i] != "summary of "+text {
			t.Fatalf("slot %d out of order: %q", i, summaries[i])
		}
	}
}

func TestSummarizeBatchSoftFailureLeavesEmptySlot(t *testing.T) {
	var calls atomic.Int64
	var mu sync.Mutex
	failed := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var reqBody struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&reqBody)

		mu.Lock()
		shouldFail := strings.Contains(reqBody.Prompt, "poison") && !failed
		if shouldFail {
			failed = true
		}
		mu.Unlock()
		if shouldFail {
			http.Error(w, "boom", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer server.Close()

	summarizer := NewSummarizer(New(server.URL, "gen", "embed", "vision", nil), 1000, testLogger())
	summaries, err := summarizer.SummarizeBatch(context.Background(), []string{"fine", "poison", "fine too"}, 1)
	if err != nil {
		t.Fatalf("SummarizeBatch() error = %v", err)
	}
	if summaries[0] != "ok" || summaries[1] != "" || summaries[2] != "ok" {
		t.Fatalf("unexpected summaries: %v", summaries)
	}
}

func TestSummarizeBatchAllFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusBadRequest)
	}))
	defer server.Close()

	summarizer := NewSummarizer(New(server.URL, "gen", "embed", "vision", nil), 1000, testLogger())
	if _, err := summarizer.SummarizeBatch(context.Background(), []string{"a", "b"}, 2); err == nil {
		t.Fatalf("expected error when every item fails")
	}
}

func TestDescriberSendsEncodedImage(t *testing.T) {
	imageBytes := []byte{0x89, 0x50, 0x4e, 0x47, 0x01, 0x02}
	var gotRequest struct {
		Model  string   `json:"model"`
		Images []string `json:"images"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"a bar chart"}`))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "figure.png")
	if err := os.WriteFile(path, imageBytes, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	describer := NewDescriber(New(server.URL, "gen", "embed", "vision-model", nil))
	description, err := describer.Describe(context.Background(), path)
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if description != "a bar chart" {
		t.Fatalf("unexpected description: %q", description)
	}
	if gotRequest.Model != "vision-model" {
		t.Fatalf("expected vision model, got %q", gotRequest.Model)
	}
	if len(gotRequest.Images) != 1 || gotRequest.Images[0] != base64.StdEncoding.EncodeToString(imageBytes) {
		t.Fatalf("unexpected images payload: %v", gotRequest.Images)
	}
}

func TestDescriberMissingFile(t *testing.T) {
	describer := NewDescriber(New("http://localhost:11434", "g", "e", "v", nil))
	if _, err := describer.Describe(context.Background(), filepath.Join(t.TempDir(), "absent.png")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
