// Package ledger persists the processed-file log and the processed-images
// registry as plain JSON files, durable on every mark.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileLedger maps source filenames to the mtime string they were last
// processed at. A missing or corrupt file loads as an empty ledger, never
// fatal: the worst outcome is reprocessing everything.
type FileLedger struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]string
}

func NewFileLedger(path string, logger *slog.Logger) *FileLedger {
	l := &FileLedger{
		path:    path,
		logger:  logger,
		entries: map[string]string{},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("ledger_load_failed", "path", path, "error", err)
		}
		return l
	}
	if err := json.Unmarshal(raw, &l.entries); err != nil {
		logger.Warn("ledger_corrupt", "path", path, "error", err)
		l.entries = map[string]string{}
	}
	return l
}

func (l *FileLedger) IsUpToDate(filename, mtime string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	recorded, ok := l.entries[filename]
	return ok && recorded == mtime
}

func (l *FileLedger) MarkProcessed(_ context.Context, filename, mtime string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[filename] = mtime
	if err := writeJSONAtomic(l.path, l.entries); err != nil {
		delete(l.entries, filename)
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

func (l *FileLedger) Entries() map[string]string {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]string, len(l.entries))
	for k, v := range l.entries {
		out[k] = v
	}
	return out
}

// writeJSONAtomic writes via a sibling temp file and rename so readers never
// observe a torn file.
func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
