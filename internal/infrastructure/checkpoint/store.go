// Package checkpoint keeps per-document in-flight batch results in an
// interim directory, so an interrupted ingestion run can reuse summaries and
// image descriptions it already paid for. Checkpoints are an optimization:
// losing one only costs recomputation.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
)

const descriptionsFile = "image_descriptions"

type DirStore struct {
	base string
}

func NewDirStore(base string) (*DirStore, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &DirStore{base: base}, nil
}

func (s *DirStore) SaveSummaries(document, stage string, summaries []string) error {
	return s.write(document, stage, summaries)
}

func (s *DirStore) LoadSummaries(document, stage string) ([]string, error) {
	var summaries []string
	if err := s.read(document, stage, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *DirStore) SaveDescriptions(document string, descriptions map[string]string) error {
	return s.write(document, descriptionsFile, descriptions)
}

func (s *DirStore) LoadDescriptions(document string) (map[string]string, error) {
	var descriptions map[string]string
	if err := s.read(document, descriptionsFile, &descriptions); err != nil {
		return nil, err
	}
	return descriptions, nil
}

// Clear removes the whole interim directory for a completed document.
func (s *DirStore) Clear(document string) error {
	if err := os.RemoveAll(s.dir(document)); err != nil {
		return fmt.Errorf("remove checkpoint dir: %w", err)
	}
	return nil
}

func (s *DirStore) dir(document string) string {
	return filepath.Join(s.base, document+"_interim")
}

func (s *DirStore) write(document, name string, v any) error {
	dir := s.dir(document)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create interim dir: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", name, err)
	}

	path := filepath.Join(dir, name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename checkpoint %s: %w", name, err)
	}
	return nil
}

func (s *DirStore) read(document, name string, v any) error {
	raw, err := os.ReadFile(filepath.Join(s.dir(document), name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.WrapError(domain.ErrNotFound, "load checkpoint "+name, err)
		}
		return fmt.Errorf("read checkpoint %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal checkpoint %s: %w", name, err)
	}
	return nil
}
