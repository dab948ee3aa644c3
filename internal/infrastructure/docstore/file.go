// Package docstore holds the raw-content half of the dual store: the
// content_id -> original payload map whose keys the summary index shares.
package docstore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
)

// Snapshot layout: 4-byte magic, uvarint record count, then per record
// uvarint key length, key, uvarint value length, value.
var snapshotMagic = []byte("KBR1")

// FileStore is the local raw-content store. Set stages records in memory;
// Flush rewrites the snapshot atomically and promotes staged records.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu        sync.RWMutex
	committed map[string]string
	staged    map[string]string
}

func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	s := &FileStore{
		path:      path,
		logger:    logger,
		committed: map[string]string{},
		staged:    map[string]string{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Set(_ context.Context, contentID, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[contentID] = payload
	return nil
}

func (s *FileStore) Get(_ context.Context, contentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if payload, ok := s.staged[contentID]; ok {
		return payload, nil
	}
	if payload, ok := s.committed[contentID]; ok {
		return payload, nil
	}
	return "", domain.WrapError(domain.ErrNotFound, "get raw content", fmt.Errorf("content_id %s", contentID))
}

func (s *FileStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.committed)
	for id := range s.staged {
		if _, ok := s.committed[id]; !ok {
			n++
		}
	}
	return n, nil
}

func (s *FileStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]string, len(s.committed)+len(s.staged))
	for id, payload := range s.committed {
		merged[id] = payload
	}
	for id, payload := range s.staged {
		merged[id] = payload
	}

	if err := s.writeSnapshot(merged); err != nil {
		return err
	}
	s.committed = merged
	s.staged = map[string]string{}
	s.logger.Info("raw_store_flushed", "records", len(merged))
	return nil
}

func (s *FileStore) writeSnapshot(records map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create docstore dir: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(snapshotMagic)
	writeUvarint(&buf, uint64(len(records)))
	for id, payload := range records {
		writeUvarint(&buf, uint64(len(id)))
		buf.WriteString(id)
		writeUvarint(&buf, uint64(len(payload)))
		buf.WriteString(payload)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write docstore snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename docstore snapshot: %w", err)
	}
	return nil
}

// load reconstructs the committed map. An absent file is a cold start.
func (s *FileStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open docstore snapshot: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat docstore snapshot: %w", err)
	}
	// No record can be longer than the snapshot itself; anything bigger is
	// a corrupt length prefix and must not drive an allocation.
	maxRecord := uint64(info.Size())

	r := bufio.NewReader(f)
	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return fmt.Errorf("read docstore magic: %w", err)
	}
	if !bytes.Equal(magic, snapshotMagic) {
		return fmt.Errorf("docstore snapshot: unknown format %q", magic)
	}

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return fmt.Errorf("read docstore record count: %w", err)
	}
	for i := uint64(0); i < count; i++ {
		id, err := readLengthPrefixed(r, maxRecord)
		if err != nil {
			return fmt.Errorf("read docstore key %d: %w", i, err)
		}
		payload, err := readLengthPrefixed(r, maxRecord)
		if err != nil {
			return fmt.Errorf("read docstore value %d: %w", i, err)
		}
		s.committed[id] = payload
	}

	s.logger.Info("raw_store_loaded", "records", len(s.committed))
	return nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], v)
	buf.Write(scratch[:n])
}

func readLengthPrefixed(r *bufio.Reader, maxLen uint64) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	if n > maxLen {
		return "", fmt.Errorf("record length %d exceeds snapshot size %d", n, maxLen)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}
