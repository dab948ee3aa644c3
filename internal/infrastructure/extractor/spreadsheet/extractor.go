// Package spreadsheet extracts table elements from workbook documents, one
// element per non-empty sheet.
package spreadsheet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
)

type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

func (e *Extractor) Extract(_ context.Context, path string) ([]domain.ContentElement, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			e.logger.Warn("workbook_close_failed", "path", path, "error", err)
		}
	}()

	var elements []domain.ContentElement
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			e.logger.Warn("sheet_unreadable", "path", path, "sheet", sheet, "error", err)
			continue
		}

		payload := renderSheet(sheet, rows)
		if payload == "" {
			continue
		}
		elements = append(elements, domain.ContentElement{
			Kind:    domain.KindTable,
			Payload: payload,
		})
	}
	return elements, nil
}

func renderSheet(sheet string, rows [][]string) string {
	var b strings.Builder
	empty := true
	b.WriteString("Sheet: " + sheet + "\n")
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		empty = false
		b.WriteString(line + "\n")
	}
	if empty {
		return ""
	}
	return strings.TrimSpace(b.String())
}
