package ollama

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// Summarizer produces retrieval-oriented summaries for text and table chunks.
// Requests are paced with a token bucket and bounded by the caller's
// in-flight limit so a local model server is not flooded.
type Summarizer struct {
	client  *Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewSummarizer(client *Client, requestsPerSecond float64, logger *slog.Logger) *Summarizer {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:  logger,
	}
}

// SummarizeBatch returns one summary per input, in input order. A failed item
// leaves an empty slot instead of failing the batch; the batch as a whole
// fails only when the context ends or every item fails.
func (s *Summarizer) SummarizeBatch(ctx context.Context, texts []string, maxInFlight int) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	summaries := make([]string, len(texts))
	itemErrs := make([]error, len(texts))
	sem := make(chan struct{}, maxInFlight)

	var wg sync.WaitGroup
	for i, text := range texts {
		if err := s.limiter.Wait(ctx); err != nil {
			wg.Wait()
			return nil, err
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		}

		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			defer func() { <-sem }()

			summary, err := s.client.generateText(ctx, buildSummaryPrompt(text))
			if err != nil {
				itemErrs[i] = err
				s.logger.Warn("summary generation failed",
					slog.Int("item", i),
					slog.String("error", err.Error()))
				return
			}
			summaries[i] = summary
		}(i, text)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failed := 0
	var firstErr error
	for _, err := range itemErrs {
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if failed == len(texts) {
		return nil, firstErr
	}
	return summaries, nil
}
