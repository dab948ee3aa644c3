// Package watch monitors the source directory and enqueues ingest requests
// for new or rewritten documents.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kirillkom/multimodal-kb/internal/core/ports"
)

// Watcher publishes the basename of every created or modified document with
// a watched extension. Write bursts for the same file are coalesced so a
// document copied into the directory is enqueued once.
type Watcher struct {
	extensions map[string]struct{}
	settle     time.Duration
	queue      ports.IngestQueue
	logger     *slog.Logger
}

func New(extensions []string, queue ports.IngestQueue, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}
	return &Watcher{
		extensions: exts,
		settle:     2 * time.Second,
		queue:      queue,
		logger:     logger,
	}
}

// Watch blocks until ctx ends, publishing ingest requests for dir.
func (w *Watcher) Watch(ctx context.Context, dir string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching source directory", slog.String("dir", dir))

	var (
		mu      sync.Mutex
		pending = make(map[string]*time.Timer)
	)
	defer func() {
		mu.Lock()
		defer mu.Unlock()
		for _, timer := range pending {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if _, watched := w.extensions[strings.ToLower(filepath.Ext(event.Name))]; !watched {
				continue
			}

			name := filepath.Base(event.Name)
			mu.Lock()
			if timer, exists := pending[name]; exists {
				timer.Reset(w.settle)
				mu.Unlock()
				continue
			}
			pending[name] = time.AfterFunc(w.settle, func() {
				mu.Lock()
				delete(pending, name)
				mu.Unlock()
				w.publish(ctx, name)
			})
			mu.Unlock()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) publish(ctx context.Context, name string) {
	if ctx.Err() != nil {
		return
	}
	if err := w.queue.PublishIngestRequest(ctx, name); err != nil {
		w.logger.Error("publish ingest request failed",
			slog.String("document", name),
			slog.String("error", err.Error()))
		return
	}
	w.logger.Info("ingest request enqueued", slog.String("document", name))
}
