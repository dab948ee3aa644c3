package watch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type captureQueue struct {
	published chan string
}

func (q *captureQueue) PublishIngestRequest(_ context.Context, filename string) error {
	q.published <- filename
	return nil
}

func (q *captureQueue) SubscribeIngestRequests(context.Context, func(context.Context, string) error) error {
	return errors.New("not used")
}

func TestWatchPublishesNewDocuments(t *testing.T) {
	dir := t.TempDir()
	queue := &captureQueue{published: make(chan string, 4)}

	w := New([]string{".pdf"}, queue, slog.New(slog.DiscardHandler))
	w.settle = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = w.Watch(ctx, dir)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "report.pdf"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write ignored file: %v", err)
	}

	select {
	case name := <-queue.published:
		if name != "report.pdf" {
			t.Fatalf("unexpected publish: %q", name)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for publish")
	}

	select {
	case name := <-queue.published:
		t.Fatalf("unexpected extra publish: %q", name)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchCoalescesWriteBursts(t *testing.T) {
	dir := t.TempDir()
	queue := &captureQueue{published: make(chan string, 4)}

	w := New([]string{".pdf"}, queue, slog.New(slog.DiscardHandler))
	w.settle = 150 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = w.Watch(ctx, dir)
	}()
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "big.pdf")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("chunk"), 0o644); err != nil {
			t.Fatalf("write document: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-queue.published:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for publish")
	}

	select {
	case name := <-queue.published:
		t.Fatalf("burst produced a second publish: %q", name)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatchRepublishesAfterSettledWrite(t *testing.T) {
	dir := t.TempDir()
	queue := &captureQueue{published: make(chan string, 4)}

	w := New([]string{".pdf"}, queue, slog.New(slog.DiscardHandler))
	w.settle = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = w.Watch(ctx, dir)
	}()
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "revised.pdf")
	for round := 0; round < 2; round++ {
		if err := os.WriteFile(path, []byte("v"), 0o644); err != nil {
			t.Fatalf("write document: %v", err)
		}
		select {
		case name := <-queue.published:
			if name != "revised.pdf" {
				t.Fatalf("round %d: unexpected publish %q", round, name)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("round %d: timed out waiting for publish", round)
		}
	}
}
