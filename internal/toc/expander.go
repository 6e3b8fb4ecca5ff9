package toc

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"chapterflow/internal/logger"
	"chapterflow/internal/models"
	"chapterflow/internal/providers"
)

// ExpandReport counts how each section's enrichment ended. Oracle failures
// show up here and nowhere else.
type ExpandReport struct {
	Sections  int `json:"sections"`
	Enriched  int `json:"enriched"`
	Partial   int `json:"partial"`
	Defaulted int `json:"defaulted"`
}

type ExpanderOptions struct {
	Concurrency int
	Timeout     time.Duration
	Logger      *logger.Logger
}

// Expander attaches pedagogical metadata to every section, one oracle call
// per section.
type Expander struct {
	llm         providers.LLMProvider
	concurrency int
	timeout     time.Duration
	log         *logger.Logger
}

func NewExpander(llm providers.LLMProvider, opts ExpanderOptions) *Expander {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Expander{llm: llm, concurrency: opts.Concurrency, timeout: opts.Timeout, log: logger.OrNop(opts.Logger)}
}

// Expand returns an enriched copy of toc; the input is left untouched.
func (e *Expander) Expand(ctx context.Context, toc models.TOC, rawText string) (models.TOC, ExpandReport) {
	out := toc.Clone()
	outcomes := make([]outcome, len(out.Sections))

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for i := range out.Sections {
		g.Go(func() error {
			outcomes[i] = e.expandSection(ctx, &out.Sections[i], out.Chapter, rawText)
			return nil
		})
	}
	_ = g.Wait()

	report := ExpandReport{Sections: len(outcomes)}
	for _, o := range outcomes {
		switch o {
		case outcomeEnriched:
			report.Enriched++
		case outcomePartial:
			report.Partial++
		default:
			report.Defaulted++
		}
	}
	e.log.Info("toc expanded", "chapter", out.Chapter, "sections", report.Sections,
		"enriched", report.Enriched, "partial", report.Partial, "defaulted", report.Defaulted)
	return out, report
}

func (e *Expander) expandSection(ctx context.Context, s *models.Section, chapter int, rawText string) outcome {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, info, err := e.llm.Generate(callCtx, providers.GenerateRequest{
		Operation:   OperationExpand,
		System:      expandSystemPrompt,
		Prompt:      buildExpandPrompt(*s, chapter, sectionExcerpt(rawText, s.AnchorText)),
		JSONMode:    true,
		Temperature: 0.2,
	})
	if err != nil {
		e.log.Warn("section expansion failed, using defaults", "section", s.ID, "provider", info.Name, "error", err)
		s.ApplyMetadataDefaults()
		return outcomeDefaulted
	}
	md, err := parseMetadata(resp.Text)
	if err != nil {
		e.log.Warn("section metadata unparseable, using defaults", "section", s.ID, "provider", info.Name, "error", err)
		s.ApplyMetadataDefaults()
		return outcomeDefaulted
	}
	return md.apply(s)
}
