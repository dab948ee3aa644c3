package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/multimodal-kb/internal/core/domain"
	"github.com/kirillkom/multimodal-kb/internal/core/ports"
)

const (
	stageTextSummaries  = "text_summaries"
	stageTableSummaries = "table_summaries"
)

var imageExtensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
}

type IngestConfig struct {
	SourceDir        string
	ImageDir         string
	SourceExtensions []string

	// ImageRecencyWindow bounds which files in ImageDir are considered to
	// belong to the document being processed: anything modified after
	// document mtime minus the window. Heuristic, misattribution is possible
	// when several documents are ingested inside one window.
	ImageRecencyWindow time.Duration

	// SummaryMaxInFlight is the upper bound on concurrent summarization
	// calls inside one batch.
	SummaryMaxInFlight int
}

// IngestDocumentUseCase drives a document through
// extract -> summarize -> describe -> commit, with the ledger as the sole
// idempotency gate and per-document checkpoints bounding lost work.
type IngestDocumentUseCase struct {
	cfg         IngestConfig
	extractor   ports.Extractor
	summarizer  ports.Summarizer
	describer   ports.ImageDescriber
	store       *DualContentStore
	ledger      ports.Ledger
	checkpoints ports.CheckpointStore
	images      ports.ImageRegistry
	logger      *slog.Logger
}

func NewIngestDocumentUseCase(
	cfg IngestConfig,
	extractor ports.Extractor,
	summarizer ports.Summarizer,
	describer ports.ImageDescriber,
	store *DualContentStore,
	ledger ports.Ledger,
	checkpoints ports.CheckpointStore,
	images ports.ImageRegistry,
	logger *slog.Logger,
) *IngestDocumentUseCase {
	if cfg.ImageRecencyWindow <= 0 {
		cfg.ImageRecencyWindow = 5 * time.Minute
	}
	if cfg.SummaryMaxInFlight <= 0 {
		cfg.SummaryMaxInFlight = 4
	}
	if len(cfg.SourceExtensions) == 0 {
		cfg.SourceExtensions = []string{".pdf"}
	}
	return &IngestDocumentUseCase{
		cfg:         cfg,
		extractor:   extractor,
		summarizer:  summarizer,
		describer:   describer,
		store:       store,
		ledger:      ledger,
		checkpoints: checkpoints,
		images:      images,
		logger:      logger,
	}
}

// ProcessDocument runs the full pipeline for one source document. Not safe
// for concurrent invocation on the same filename; the caller serializes.
func (uc *IngestDocumentUseCase) ProcessDocument(ctx context.Context, path string) (domain.IngestResult, error) {
	filename := filepath.Base(path)
	result := domain.IngestResult{Document: filename, Status: domain.IngestFailed}

	info, err := os.Stat(path)
	if err != nil {
		return result, fmt.Errorf("stat source document: %w", err)
	}
	mtime := strconv.FormatInt(info.ModTime().UnixNano(), 10)

	if uc.ledger.IsUpToDate(filename, mtime) {
		uc.logger.Info("document_skipped", "document", filename)
		result.Status = domain.IngestSkipped
		return result, nil
	}
	if prior, ok := uc.ledger.Entries()[filename]; ok && prior != mtime {
		// Re-ingestion after an mtime change appends fresh content IDs;
		// entries from the prior pass stay in the index as stale duplicates.
		uc.logger.Warn("document_reingested", "document", filename)
	}

	uc.logger.Info("document_processing", "document", filename)

	elements, err := uc.extractor.Extract(ctx, path)
	if err != nil {
		return result, fmt.Errorf("extract elements: %w", err)
	}

	texts := payloadsOf(elements, domain.KindText)
	tables := payloadsOf(elements, domain.KindTable)
	inlineImages := payloadsOf(elements, domain.KindImage)

	textPayloads, textSummaries, err := uc.summarizeStage(ctx, filename, stageTextSummaries, texts)
	if err != nil {
		return result, err
	}
	tablePayloads, tableSummaries, err := uc.summarizeStage(ctx, filename, stageTableSummaries, tables)
	if err != nil {
		return result, err
	}

	described, err := uc.describeImages(ctx, filename, info.ModTime(), inlineImages)
	if err != nil {
		return result, err
	}

	// Commit: stage all items, flush the store, and only then mark the
	// ledger. A crash between store flush and ledger mark re-adds content on
	// the next run (stale duplicates); the reverse order would silently drop
	// content, which is worse.
	if result.TextItems, err = uc.store.AddItems(ctx, textPayloads, textSummaries, domain.KindText, filename); err != nil {
		return result, fmt.Errorf("commit text items: %w", err)
	}
	if result.TableItems, err = uc.store.AddItems(ctx, tablePayloads, tableSummaries, domain.KindTable, filename); err != nil {
		return result, fmt.Errorf("commit table items: %w", err)
	}
	descriptions := make([]string, 0, len(described))
	for _, img := range described {
		descriptions = append(descriptions, img.description)
	}
	// An image description is both its content and its summary.
	if result.ImageItems, err = uc.store.AddItems(ctx, descriptions, descriptions, domain.KindImage, filename); err != nil {
		return result, fmt.Errorf("commit image items: %w", err)
	}

	if err := uc.store.Persist(ctx); err != nil {
		return result, fmt.Errorf("persist content store: %w", err)
	}

	for _, img := range described {
		record := domain.ImageRecord{
			SourceDocument: filename,
			ProcessedAt:    time.Now().UTC(),
			SizeBytes:      img.sizeBytes,
		}
		if err := uc.images.MarkProcessed(img.name, record); err != nil {
			uc.logger.Warn("image_registry_write_failed", "image", img.name, "error", err)
		}
	}

	if err := uc.ledger.MarkProcessed(ctx, filename, mtime); err != nil {
		return result, fmt.Errorf("mark document processed: %w", err)
	}

	if err := uc.checkpoints.Clear(filename); err != nil {
		uc.logger.Warn("checkpoint_cleanup_failed", "document", filename, "error", err)
	}

	result.Status = domain.IngestPersisted
	uc.logger.Info("document_persisted",
		"document", filename,
		"text_items", result.TextItems,
		"table_items", result.TableItems,
		"image_items", result.ImageItems,
	)
	return result, nil
}

// ProcessAll ingests every matching document in the source directory. One
// document failing does not abort the run.
func (uc *IngestDocumentUseCase) ProcessAll(ctx context.Context) ([]domain.IngestResult, error) {
	entries, err := os.ReadDir(uc.cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("read source dir: %w", err)
	}

	results := make([]domain.IngestResult, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !uc.watchedExtension(entry.Name()) {
			continue
		}
		result, err := uc.ProcessDocument(ctx, filepath.Join(uc.cfg.SourceDir, entry.Name()))
		if err != nil {
			uc.logger.Error("document_failed", "document", entry.Name(), "error", err)
		}
		results = append(results, result)
	}
	return results, nil
}

// ProcessedStatus renders a human-readable report of the ledger.
func (uc *IngestDocumentUseCase) ProcessedStatus() string {
	entries := uc.ledger.Entries()
	if len(entries) == 0 {
		return "No files have been processed yet."
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	b.WriteString("Processed files:\n")
	for _, name := range names {
		line := fmt.Sprintf("- %s", name)
		if nanos, err := strconv.ParseInt(entries[name], 10, 64); err == nil {
			line += fmt.Sprintf(" (modified %s)", time.Unix(0, nanos).UTC().Format("2006-01-02 15:04:05"))
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func (uc *IngestDocumentUseCase) watchedExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, watched := range uc.cfg.SourceExtensions {
		if ext == strings.ToLower(watched) {
			return true
		}
	}
	return false
}

// summarizeStage summarizes one element kind, reusing an intact checkpoint
// from an interrupted earlier run when its item count still matches. Items
// whose summary failed softly (empty slot) are dropped from both sides of
// the pair.
func (uc *IngestDocumentUseCase) summarizeStage(
	ctx context.Context,
	document, stage string,
	payloads []string,
) ([]string, []string, error) {
	if len(payloads) == 0 {
		return nil, nil, nil
	}

	summaries, err := uc.checkpoints.LoadSummaries(document, stage)
	if err == nil && len(summaries) == len(payloads) {
		uc.logger.Info("checkpoint_reused", "document", document, "stage", stage, "items", len(summaries))
	} else {
		summaries, err = uc.summarizer.SummarizeBatch(ctx, payloads, uc.cfg.SummaryMaxInFlight)
		if err != nil {
			return nil, nil, fmt.Errorf("summarize %s: %w", stage, err)
		}
		if len(summaries) != len(payloads) {
			return nil, nil, domain.WrapError(
				domain.ErrInvalidInput,
				"summarize "+stage,
				fmt.Errorf("summaries/payloads mismatch: %d/%d", len(summaries), len(payloads)),
			)
		}
		if err := uc.checkpoints.SaveSummaries(document, stage, summaries); err != nil {
			uc.logger.Warn("checkpoint_write_failed", "document", document, "stage", stage, "error", err)
		}
	}

	keptPayloads := make([]string, 0, len(payloads))
	keptSummaries := make([]string, 0, len(summaries))
	for i, summary := range summaries {
		if strings.TrimSpace(summary) == "" {
			uc.logger.Warn("summary_item_dropped", "document", document, "stage", stage, "item", i)
			continue
		}
		keptPayloads = append(keptPayloads, payloads[i])
		keptSummaries = append(keptSummaries, summary)
	}
	return keptPayloads, keptSummaries, nil
}

type describedImage struct {
	name        string
	path        string
	sizeBytes   int64
	description string
}

// describeImages collects images belonging to the document (inline elements
// plus image-dir files inside the recency window), skips globally processed
// ones, and describes the rest. Descriptions are checkpointed after every
// image.
func (uc *IngestDocumentUseCase) describeImages(
	ctx context.Context,
	document string,
	docMtime time.Time,
	inlinePaths []string,
) ([]describedImage, error) {
	candidates, err := uc.imageCandidates(document, docMtime, inlinePaths)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	checkpointed, err := uc.checkpoints.LoadDescriptions(document)
	if err != nil {
		checkpointed = map[string]string{}
	}

	described := make([]describedImage, 0, len(candidates))
	for _, path := range candidates {
		name := filepath.Base(path)

		info, err := os.Stat(path)
		if err != nil {
			uc.logger.Warn("image_stat_failed", "image", name, "error", err)
			continue
		}

		description, ok := checkpointed[name]
		if !ok {
			description, err = uc.describer.Describe(ctx, path)
			if err != nil {
				uc.logger.Warn("image_describe_failed", "image", name, "error", err)
				continue
			}
			checkpointed[name] = description
			if err := uc.checkpoints.SaveDescriptions(document, checkpointed); err != nil {
				uc.logger.Warn("checkpoint_write_failed", "document", document, "stage", "image_descriptions", "error", err)
			}
		}
		if strings.TrimSpace(description) == "" {
			continue
		}

		described = append(described, describedImage{
			name:        name,
			path:        path,
			sizeBytes:   info.Size(),
			description: description,
		})
	}
	return described, nil
}

func (uc *IngestDocumentUseCase) imageCandidates(document string, docMtime time.Time, inlinePaths []string) ([]string, error) {
	seen := make(map[string]struct{})
	candidates := make([]string, 0, len(inlinePaths))

	add := func(path string) {
		name := filepath.Base(path)
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		if uc.images.IsProcessed(name) {
			return
		}
		candidates = append(candidates, path)
	}

	for _, path := range inlinePaths {
		add(path)
	}

	if uc.cfg.ImageDir != "" {
		entries, err := os.ReadDir(uc.cfg.ImageDir)
		if err != nil {
			if os.IsNotExist(err) {
				return candidates, nil
			}
			return nil, fmt.Errorf("read image dir: %w", err)
		}
		cutoff := docMtime.Add(-uc.cfg.ImageRecencyWindow)
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if _, ok := imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))]; !ok {
				continue
			}
			info, err := entry.Info()
			if err != nil || !info.ModTime().After(cutoff) {
				continue
			}
			add(filepath.Join(uc.cfg.ImageDir, entry.Name()))
		}
	}

	uc.logger.Info("images_discovered", "document", document, "new_images", len(candidates))
	return candidates, nil
}

func payloadsOf(elements []domain.ContentElement, kind domain.ContentKind) []string {
	out := make([]string, 0, len(elements))
	for _, element := range elements {
		if element.Kind == kind && strings.TrimSpace(element.Payload) != "" {
			out = append(out, element.Payload)
		}
	}
	return out
}
