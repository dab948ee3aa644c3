package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
)

// ImageRegistry records described images globally so a figure re-encountered
// under a later document's recency window is not described twice.
type ImageRegistry struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	records map[string]domain.ImageRecord
}

func NewImageRegistry(path string, logger *slog.Logger) *ImageRegistry {
	r := &ImageRegistry{
		path:    path,
		logger:  logger,
		records: map[string]domain.ImageRecord{},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("image_registry_load_failed", "path", path, "error", err)
		}
		return r
	}
	if err := json.Unmarshal(raw, &r.records); err != nil {
		logger.Warn("image_registry_corrupt", "path", path, "error", err)
		r.records = map[string]domain.ImageRecord{}
	}
	return r
}

func (r *ImageRegistry) IsProcessed(filename string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[filename]
	return ok
}

func (r *ImageRegistry) MarkProcessed(filename string, record domain.ImageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[filename] = record
	if err := writeJSONAtomic(r.path, r.records); err != nil {
		delete(r.records, filename)
		return fmt.Errorf("persist image registry: %w", err)
	}
	return nil
}
