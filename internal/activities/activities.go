package activities

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.temporal.io/sdk/temporal"

	"chapterflow/internal/chunker"
	"chapterflow/internal/config"
	"chapterflow/internal/graph"
	"chapterflow/internal/logger"
	"chapterflow/internal/models"
	"chapterflow/internal/neo4jdb"
	"chapterflow/internal/pipeline"
	"chapterflow/internal/providers"
	"chapterflow/internal/references"
	"chapterflow/internal/storage"
	"chapterflow/internal/toc"
	"chapterflow/internal/util"
	"chapterflow/internal/validator"
)

type Activities struct {
	cfg         config.Config
	log         *logger.Logger
	chapterRepo *storage.ChapterRepo
	chunkRepo   *storage.ChunkRepo
	graphRepo   *storage.GraphRepo
	publisher   *storage.Publisher
	sink        *storage.Neo4jGraphSink
	stages      pipeline.Stages
}

// New wires the stage collaborators once per worker. Provider cooldowns and
// the embedding cache are shared by every chapter the worker processes.
func New(cfg config.Config, db *storage.DB, neo *neo4jdb.Client, log *logger.Logger) (*Activities, error) {
	log = logger.OrNop(log)
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	recorder := storage.AuditRecorder{Repo: storage.NewOracleAuditRepo(db), Log: log}
	oracle := providers.NewFailover(pm, cfg.ProviderCooldown(), recorder)
	embedder := providers.NewCachedEmbedder(oracle, cfg.EmbedCacheTTL())
	return &Activities{
		cfg:         cfg,
		log:         log,
		chapterRepo: storage.NewChapterRepo(db),
		chunkRepo:   storage.NewChunkRepo(db),
		graphRepo:   storage.NewGraphRepo(db),
		publisher:   storage.NewPublisher(db, cfg.EmbedVersion, cfg.KeepFlagged, log),
		sink:        storage.NewNeo4jGraphSink(neo),
		stages:      NewStages(cfg, oracle, embedder, log),
	}, nil
}

// NewStages builds the chapter-local stages from config. The preview API uses
// the same wiring without a database.
func NewStages(cfg config.Config, llm providers.LLMProvider, embedder providers.EmbeddingProvider, log *logger.Logger) pipeline.Stages {
	var extractor toc.Extractor = toc.NewHeuristicExtractor()
	if cfg.TOCMode == "oracle" {
		extractor = toc.NewOracleExtractor(llm, extractor, cfg.OracleTimeout(), log)
	}
	return pipeline.Stages{
		Extractor: extractor,
		Expander: toc.NewExpander(llm, toc.ExpanderOptions{
			Concurrency: cfg.ExpandConcurrency,
			Timeout:     cfg.OracleTimeout(),
			Logger:      log,
		}),
		Chunker: chunker.New(chunker.Options{MinSize: cfg.ChunkMinSize, MaxSize: cfg.ChunkMaxSize, Logger: log}),
		Validator: validator.New(embedder, validator.Config{
			Dimension: cfg.EmbedDim,
			Timeout:   cfg.OracleTimeout(),
			Logger:    log,
		}),
	}
}

// ChapterExtensions are the file types a textbook folder may hold.
var ChapterExtensions = []string{".pdf", ".txt"}

// ListChapterFilesActivity returns the chapter files of a folder, sorted by path.
func (a *Activities) ListChapterFilesActivity(_ context.Context, in ListChapterFilesInput) (ListChapterFilesOutput, error) {
	var paths []string
	for _, ext := range ChapterExtensions {
		found, err := util.ListFilesWithExt(in.InputDir, ext)
		if err != nil {
			return ListChapterFilesOutput{}, fmt.Errorf("list chapter files: %w", err)
		}
		paths = append(paths, found...)
	}
	sort.Strings(paths)
	return ListChapterFilesOutput{Paths: paths}, nil
}

// ChapterID hashes the file together with its textbook, so the same file
// uploaded to two textbooks gets two chapter rows.
func ChapterID(textbookID, fileHash string) string {
	sum := sha256.Sum256([]byte(textbookID + ":" + fileHash))
	return hex.EncodeToString(sum[:])
}

func (a *Activities) ComputeChapterIDActivity(_ context.Context, in ComputeChapterIDInput) (ComputeChapterIDOutput, error) {
	fileHash, err := util.SHA256File(in.ChapterPath)
	if err != nil {
		return ComputeChapterIDOutput{}, fmt.Errorf("hash chapter file: %w", err)
	}
	return ComputeChapterIDOutput{ChapterID: ChapterID(in.TextbookID, fileHash)}, nil
}

func (a *Activities) UpdateChapterStatusActivity(ctx context.Context, in UpdateChapterStatusInput) error {
	return a.chapterRepo.UpsertChapter(ctx, models.Chapter{
		ChapterID:  in.ChapterID,
		TextbookID: in.TextbookID,
		Filename:   filepath.Base(in.ChapterPath),
		Status:     in.Status,
		FailReason: in.FailReason,
	})
}

func (a *Activities) LoadChapterActivity(_ context.Context, in LoadChapterInput) (LoadChapterOutput, error) {
	var (
		pages []models.Page
		err   error
	)
	if strings.EqualFold(filepath.Ext(in.ChapterPath), ".txt") {
		pages, err = readTextPages(in.ChapterPath)
	} else {
		pages, err = readPDFPages(in.ChapterPath)
	}
	if err != nil {
		return LoadChapterOutput{}, err
	}
	doc := models.RawDocument{Pages: pages}
	if strings.TrimSpace(pipeline.ChapterText(doc)) == "" {
		return LoadChapterOutput{}, temporal.NewNonRetryableApplicationError(util.ErrEmptyDocument.Error(), "EmptyDocument", util.ErrEmptyDocument)
	}
	first := ""
	if len(pages) > 0 {
		first = pages[0].Text
	}
	doc.Chapter = chapterIdentity(first, in.ChapterPath)
	return LoadChapterOutput{Document: doc}, nil
}

func readPDFPages(path string) ([]models.Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	pages := make([]models.Page, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract text of page %d: %w", i, err)
		}
		pages = append(pages, models.Page{Number: i, Text: util.SanitizeText(text)})
	}
	return pages, nil
}

func readTextPages(path string) ([]models.Page, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chapter text: %w", err)
	}
	return textPages(string(b)), nil
}

// textPages treats form feeds as page breaks.
func textPages(text string) []models.Page {
	parts := strings.Split(text, "\f")
	pages := make([]models.Page, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, models.Page{Number: i + 1, Text: util.SanitizeText(part)})
	}
	return pages
}

// TextDocument builds a chapter document from plain text the way a .txt
// chapter file is loaded; name stands in for the file name.
func TextDocument(text, name string) models.RawDocument {
	doc := models.RawDocument{Pages: textPages(text)}
	doc.Chapter = chapterIdentity(doc.Pages[0].Text, name)
	return doc
}

var (
	chapterHeading = regexp.MustCompile(`Chapter\s+(\d+)\s*\n\s*(.+)`)
	fileDigits     = regexp.MustCompile(`\d+`)
)

// chapterIdentity reads "Chapter N" and the following line from the first
// page, then falls back to the first number in the file name, then to 1.
func chapterIdentity(firstPage, path string) models.ChapterInfo {
	if m := chapterHeading.FindStringSubmatch(firstPage); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return models.ChapterInfo{Number: n, Title: strings.TrimSpace(m[2])}
		}
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	info := models.ChapterInfo{Number: 1, Title: stem}
	if d := fileDigits.FindString(stem); d != "" {
		if n, err := strconv.Atoi(d); err == nil && n > 0 {
			info.Number = n
		}
	}
	return info
}

func (a *Activities) ExtractTOCActivity(ctx context.Context, in ExtractTOCInput) (ExtractTOCOutput, error) {
	ctx = storage.WithAuditScope(ctx, in.TextbookID, in.ChapterID)
	extracted, err := a.stages.Extractor.Extract(ctx, pipeline.ChapterText(in.Document), in.Document.Chapter)
	if err != nil {
		return ExtractTOCOutput{}, fmt.Errorf("extract toc: %w", err)
	}
	return ExtractTOCOutput{TOC: extracted}, nil
}

func (a *Activities) ExpandTOCActivity(ctx context.Context, in ExpandTOCInput) (ExpandTOCOutput, error) {
	ctx = storage.WithAuditScope(ctx, in.TextbookID, in.ChapterID)
	expanded, report := a.stages.Expander.Expand(ctx, in.TOC, pipeline.ChapterText(in.Document))
	if err := ctx.Err(); err != nil {
		return ExpandTOCOutput{}, err
	}
	return ExpandTOCOutput{TOC: expanded, Report: report}, nil
}

func (a *Activities) ChunkActivity(_ context.Context, in ChunkInput) (ChunkOutput, error) {
	chunks, spans := a.stages.Chunker.Chunk(pipeline.ChapterText(in.Document), in.TOC)
	return ChunkOutput{Chunks: chunks, Spans: spans}, nil
}

func (a *Activities) ValidateActivity(ctx context.Context, in ValidateInput) (ValidateOutput, error) {
	ctx = storage.WithAuditScope(ctx, in.TextbookID, in.ChapterID)
	res := a.stages.Validator.Validate(ctx, in.Chunks, in.TOC, validator.Options{
		Threshold:   validator.Threshold(a.cfg.ValidationThreshold),
		KeepFlagged: a.cfg.KeepFlagged,
	})
	if err := ctx.Err(); err != nil {
		return ValidateOutput{}, err
	}
	path := filepath.Join(a.chapterDir(in.TextbookID, in.ChapterID), "vectors.json")
	if err := util.WriteJSONAtomic(path, res.Vectors); err != nil {
		return ValidateOutput{}, err
	}
	return ValidateOutput{
		Results:     res.Results,
		Flagged:     res.Flagged,
		Unvalidated: res.Unvalidated,
		VectorsPath: path,
	}, nil
}

func (a *Activities) DetectReferencesActivity(ctx context.Context, in DetectReferencesInput) (DetectReferencesOutput, error) {
	refs := references.Detect(publishable(in.Chunks, in.Results, a.cfg.KeepFlagged), in.TOC.Chapter)
	lookup := references.ChainLookup{
		references.NewDocumentIndex(in.Document, in.TOC, in.Chunks),
		storage.ChunkLookup{Repo: a.chunkRepo, TextbookID: in.TextbookID},
	}
	res := references.ResolveAll(ctx, refs, lookup)
	if err := ctx.Err(); err != nil {
		return DetectReferencesOutput{}, err
	}
	return DetectReferencesOutput{References: refs, Resolution: res}, nil
}

// publishable drops flagged chunks unless they are kept.
func publishable(chunks []models.Chunk, results []models.ValidationResult, keepFlagged bool) []models.Chunk {
	if keepFlagged {
		return chunks
	}
	flagged := make(map[int]bool, len(results))
	for _, r := range results {
		if r.Flagged {
			flagged[r.ChunkID] = true
		}
	}
	out := make([]models.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if !flagged[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

func (a *Activities) PublishChapterActivity(ctx context.Context, in PublishChapterInput) (PublishChapterOutput, error) {
	vectors := map[int][]float32{}
	if in.Validation.VectorsPath != "" {
		if err := util.ReadJSON(in.Validation.VectorsPath, &vectors); err != nil {
			return PublishChapterOutput{}, err
		}
	}
	res := pipeline.ChapterResult{
		Source:  in.ChapterID,
		Chapter: in.Chapter,
		TOC:     in.TOC,
		Chunks:  in.Chunks,
		Validation: validator.Result{
			Flagged:     in.Validation.Flagged,
			Results:     in.Validation.Results,
			Vectors:     vectors,
			Unvalidated: in.Validation.Unvalidated,
		},
		References: in.References,
		Resolution: in.Resolution,
	}
	delta, err := a.publisher.Publish(ctx, in.TextbookID, res)
	if err != nil {
		return PublishChapterOutput{}, publishError(err)
	}
	a.log.Debug("chapter publish summary", "chapter_id", in.ChapterID, "chapter", in.Chapter.Number)
	return deltaSummary(len(res.Records(in.TextbookID, a.cfg.KeepFlagged)), delta), nil
}

// publishError marks chapter-number conflicts non-retryable.
func publishError(err error) error {
	if errors.Is(err, graph.ErrChapterConflict) {
		return temporal.NewNonRetryableApplicationError(err.Error(), "ChapterConflict", err)
	}
	return err
}

// SyncGraphMirrorActivity pushes the whole textbook graph to Neo4j. It is a
// no-op when no mirror is configured.
func (a *Activities) SyncGraphMirrorActivity(ctx context.Context, in SyncGraphMirrorInput) (SyncGraphMirrorOutput, error) {
	if !a.sink.Enabled() {
		return SyncGraphMirrorOutput{}, nil
	}
	snap, err := a.graphRepo.LoadSnapshot(ctx, in.TextbookID)
	if err != nil {
		return SyncGraphMirrorOutput{}, err
	}
	if err := a.sink.Sync(ctx, in.TextbookID, snap); err != nil {
		return SyncGraphMirrorOutput{}, err
	}
	return SyncGraphMirrorOutput{Synced: true}, nil
}

func (a *Activities) WriteChapterArtifactsActivity(_ context.Context, in WriteChapterArtifactsInput) (WriteChapterArtifactsOutput, error) {
	base := a.chapterDir(in.TextbookID, in.ChapterID)
	if err := util.EnsureDir(base); err != nil {
		return WriteChapterArtifactsOutput{}, err
	}
	if err := util.WriteJSONAtomic(filepath.Join(base, "toc.json"), in.TOC); err != nil {
		return WriteChapterArtifactsOutput{}, err
	}
	if err := util.WriteJSONLinesAtomic(filepath.Join(base, "chunks.jsonl"), in.Chunks); err != nil {
		return WriteChapterArtifactsOutput{}, err
	}
	if err := util.WriteJSONAtomic(filepath.Join(base, "spans.json"), in.Spans); err != nil {
		return WriteChapterArtifactsOutput{}, err
	}
	if err := util.WriteTextAtomic(filepath.Join(base, "validation_report.txt"), validator.Report(in.Flagged)); err != nil {
		return WriteChapterArtifactsOutput{}, err
	}
	if err := util.WriteTextAtomic(filepath.Join(base, "reference_report.txt"), references.Report(in.References)); err != nil {
		return WriteChapterArtifactsOutput{}, err
	}
	if err := util.WriteJSONAtomic(filepath.Join(base, "processing_log.json"), in.ProcessingLog); err != nil {
		return WriteChapterArtifactsOutput{}, err
	}
	return WriteChapterArtifactsOutput{Dir: base}, nil
}

func (a *Activities) MarkChapterPublishedActivity(ctx context.Context, in MarkChapterPublishedInput) error {
	return a.chapterRepo.MarkPublished(ctx, in.Chapter)
}

func (a *Activities) ListFailedChaptersActivity(ctx context.Context, in ListFailedChaptersInput) (ListFailedChaptersOutput, error) {
	chapters, err := a.chapterRepo.ListChaptersByTextbook(ctx, in.TextbookID)
	if err != nil {
		return ListFailedChaptersOutput{}, err
	}
	out := ListFailedChaptersOutput{Chapters: make([]FailedChapter, 0)}
	for _, c := range chapters {
		if c.Status == storage.ChapterFailed {
			out.Chapters = append(out.Chapters, FailedChapter{ChapterID: c.ChapterID, Filename: c.Filename})
		}
	}
	return out, nil
}

func (a *Activities) WriteTextbookSummaryActivity(_ context.Context, in WriteTextbookSummaryInput) error {
	outPath := filepath.Join(a.cfg.DataOutRoot, in.TextbookID, "textbook_summary.json")
	return util.WriteJSONAtomic(outPath, in.Summary)
}

func (a *Activities) chapterDir(textbookID, chapterID string) string {
	return filepath.Join(a.cfg.DataOutRoot, textbookID, "chapters", chapterID)
}
