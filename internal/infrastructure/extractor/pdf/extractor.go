// Package pdf extracts text and table elements from PDF documents.
package pdf

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	pdfreader "github.com/ledongthuc/pdf"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
	"github.com/kirillkom/multimodal-kb/internal/infrastructure/chunking"
)

type Extractor struct {
	splitter *chunking.Splitter
	logger   *slog.Logger
}

func NewExtractor(splitter *chunking.Splitter, logger *slog.Logger) *Extractor {
	return &Extractor{splitter: splitter, logger: logger}
}

func (e *Extractor) Extract(_ context.Context, path string) ([]domain.ContentElement, error) {
	f, reader, err := pdfreader.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var pages []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			e.logger.Warn("pdf_page_unreadable", "path", path, "page", pageNum, "error", err)
			continue
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			pages = append(pages, trimmed)
		}
	}
	if len(pages) == 0 {
		return nil, nil
	}

	chunks := e.splitter.Split(strings.Join(pages, "\n\n"))
	elements := make([]domain.ContentElement, 0, len(chunks))
	for _, chunk := range chunks {
		kind := domain.KindText
		if looksTabular(chunk) {
			kind = domain.KindTable
		}
		elements = append(elements, domain.ContentElement{Kind: kind, Payload: chunk})
	}
	return elements, nil
}

// looksTabular treats a chunk as a table when most of its lines carry two or
// more column gaps (tabs or runs of spaces). Layout analysis proper belongs
// to the extraction library; this only routes chunks to the table
// summarization path.
func looksTabular(chunk string) bool {
	lines := strings.Split(chunk, "\n")
	if len(lines) < 3 {
		return false
	}

	tabular := 0
	for _, line := range lines {
		if columnGaps(line) >= 2 {
			tabular++
		}
	}
	return tabular*2 >= len(lines)
}

func columnGaps(line string) int {
	gaps := strings.Count(line, "\t")
	spaceRun := 0
	for _, r := range line {
		if r == ' ' {
			spaceRun++
			continue
		}
		if spaceRun >= 2 {
			gaps++
		}
		spaceRun = 0
	}
	return gaps
}
