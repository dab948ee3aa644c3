// Package extractor routes source documents to a format-specific extractor
// by file extension.
package extractor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
	"github.com/kirillkom/multimodal-kb/internal/core/ports"
)

type Router struct {
	byExt map[string]ports.Extractor
}

func NewRouter() *Router {
	return &Router{byExt: map[string]ports.Extractor{}}
}

func (r *Router) Register(ext string, e ports.Extractor) *Router {
	r.byExt[strings.ToLower(ext)] = e
	return r
}

func (r *Router) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	return out
}

func (r *Router) Extract(ctx context.Context, path string) ([]domain.ContentElement, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"extract",
			fmt.Errorf("no extractor for %q", ext),
		)
	}
	return e.Extract(ctx, path)
}
