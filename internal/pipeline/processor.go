package pipeline

import (
	"context"
	"fmt"
	"strings"

	"chapterflow/internal/chunker"
	"chapterflow/internal/logger"
	"chapterflow/internal/models"
	"chapterflow/internal/references"
	"chapterflow/internal/toc"
	"chapterflow/internal/util"
	"chapterflow/internal/validator"
)

// Stages are the chapter-local collaborators, built once by the caller.
type Stages struct {
	Extractor toc.Extractor
	Expander  *toc.Expander
	Chunker   *chunker.Chunker
	Validator *validator.Validator
}

type Options struct {
	// Threshold overrides validator.DefaultThreshold when set.
	Threshold   *float64
	KeepFlagged bool
	// Lookup resolves references the chapter itself cannot, e.g. other chapters
	// already in the content store. Optional.
	Lookup references.Lookup
	Logger *logger.Logger
}

type Processor struct {
	stages Stages
	opts   Options
	log    *logger.Logger
}

func NewProcessor(stages Stages, opts Options) *Processor {
	if stages.Extractor == nil {
		stages.Extractor = toc.NewHeuristicExtractor()
	}
	if stages.Chunker == nil {
		stages.Chunker = chunker.New(chunker.Options{Logger: opts.Logger})
	}
	return &Processor{stages: stages, opts: opts, log: logger.OrNop(opts.Logger)}
}

// ProcessChapter runs the local stages in order. The only fatal outcome is
// an empty document; oracle trouble degrades into defaults and report counts.
func (p *Processor) ProcessChapter(ctx context.Context, doc models.RawDocument) (ChapterResult, error) {
	text := ChapterText(doc)
	res := ChapterResult{Source: doc.Source, Chapter: doc.Chapter}
	log := p.log.With("chapter", doc.Chapter.Number)

	extracted, err := p.stages.Extractor.Extract(ctx, text, doc.Chapter)
	if err != nil {
		return res, fmt.Errorf("extract toc: %w", err)
	}
	res.Chapter.Number = extracted.Chapter
	if err := ctx.Err(); err != nil {
		return res, err
	}

	if p.stages.Expander != nil {
		res.TOC, res.Expand = p.stages.Expander.Expand(ctx, extracted, text)
	} else {
		res.TOC = extracted.Clone()
		for i := range res.TOC.Sections {
			res.TOC.Sections[i].ApplyMetadataDefaults()
		}
		res.Expand = toc.ExpandReport{Sections: len(res.TOC.Sections), Defaulted: len(res.TOC.Sections)}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.Chunks, res.Spans = p.stages.Chunker.Chunk(text, res.TOC)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	opts := validator.Options{Threshold: p.opts.Threshold, KeepFlagged: p.opts.KeepFlagged}
	if p.stages.Validator != nil {
		res.Validation = p.stages.Validator.Validate(ctx, res.Chunks, res.TOC, opts)
	} else {
		res.Validation = passThrough(res.Chunks)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.References = references.Detect(res.Validation.Valid, res.Chapter.Number)
	var lookup references.Lookup = references.NewDocumentIndex(doc, res.TOC, res.Chunks)
	if p.opts.Lookup != nil {
		lookup = references.ChainLookup{lookup, p.opts.Lookup}
	}
	res.Resolution = references.ResolveAll(ctx, res.References, lookup)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	log.Info("chapter processed",
		"sections", len(res.TOC.Sections),
		"chunks", len(res.Chunks),
		"flagged", len(res.Validation.Flagged),
		"references", references.Count(res.References),
		"dangling", len(res.Resolution.Dangling))
	return res, nil
}

// ChapterText is the sanitized text every stage works on: the full text when
// present, otherwise the pages joined by blank lines.
func ChapterText(doc models.RawDocument) string {
	if strings.TrimSpace(doc.FullText) != "" {
		return util.SanitizeText(doc.FullText)
	}
	parts := make([]string, 0, len(doc.Pages))
	for _, pg := range doc.Pages {
		parts = append(parts, pg.Text)
	}
	return util.SanitizeText(strings.Join(parts, "\n\n"))
}

// passThrough is the validation result when no embedder is configured.
func passThrough(chunks []models.Chunk) validator.Result {
	res := validator.Result{Valid: chunks, Vectors: map[int][]float32{}, Unvalidated: len(chunks)}
	for _, c := range chunks {
		res.Results = append(res.Results, models.ValidationResult{ChunkID: c.ID, SectionID: c.SectionID})
	}
	return res
}
