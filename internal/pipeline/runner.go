package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"chapterflow/internal/graph"
	"chapterflow/internal/logger"
	"chapterflow/internal/models"
	"chapterflow/internal/references"
	"chapterflow/internal/toc"
	"chapterflow/internal/util"
)

const (
	StatusPublished = "published"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ChapterOutcome is the per-chapter summary of a run.
type ChapterOutcome struct {
	Chapter          models.ChapterInfo `json:"chapter"`
	Source           string             `json:"source,omitempty"`
	Status           string             `json:"status"`
	Err              error              `json:"-"`
	Error            string             `json:"error,omitempty"`
	Sections         int                `json:"sections"`
	Chunks           int                `json:"chunks"`
	Records          int                `json:"records"`
	Flagged          int                `json:"flagged"`
	Unvalidated      int                `json:"unvalidated"`
	References       int                `json:"references"`
	Dangling         int                `json:"dangling"`
	Expand           toc.ExpandReport   `json:"expand"`
	Delta            graph.Delta        `json:"delta"`
	ValidationReport string             `json:"validation_report,omitempty"`
	ReferenceReport  string             `json:"reference_report,omitempty"`
}

type Runner struct {
	proc        *Processor
	pub         Publisher
	limit       int
	keepFlagged bool
	log         *logger.Logger
}

func NewRunner(proc *Processor, pub Publisher, maxParallel int, log *logger.Logger) *Runner {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	return &Runner{proc: proc, pub: pub, limit: maxParallel, keepFlagged: proc.opts.KeepFlagged, log: logger.OrNop(log)}
}

// Run processes chapters in parallel. A chapter is published only after all
// of its local stages succeeded; a failing chapter does not stop the others.
// Outcomes are returned in input order. Documents without a Source are
// told apart by their position in docs.
func (r *Runner) Run(ctx context.Context, collection string, docs []models.RawDocument) ([]ChapterOutcome, error) {
	outcomes := make([]ChapterOutcome, len(docs))
	var g errgroup.Group
	g.SetLimit(r.limit)
	for i, doc := range docs {
		if doc.Source == "" {
			doc.Source = fmt.Sprintf("%s#%d", collection, i+1)
		}
		g.Go(func() error {
			outcomes[i] = r.runOne(ctx, collection, doc)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, ctx.Err()
}

func (r *Runner) runOne(ctx context.Context, collection string, doc models.RawDocument) ChapterOutcome {
	out := ChapterOutcome{Chapter: doc.Chapter, Source: doc.Source}
	if err := ctx.Err(); err != nil {
		return r.fail(out, err)
	}
	res, err := r.proc.ProcessChapter(ctx, doc)
	if err != nil {
		return r.fail(out, err)
	}
	out.Sections = len(res.TOC.Sections)
	out.Chunks = len(res.Chunks)
	out.Flagged = len(res.Validation.Flagged)
	out.Unvalidated = res.Validation.Unvalidated
	out.References = references.Count(res.References)
	out.Dangling = len(res.Resolution.Dangling)
	out.Expand = res.Expand
	out.ValidationReport = res.ValidationReport()
	out.ReferenceReport = res.ReferenceReport()

	if err := ctx.Err(); err != nil {
		return r.fail(out, err)
	}
	delta, err := r.pub.Publish(ctx, collection, res)
	if err != nil {
		return r.fail(out, err)
	}
	out.Delta = delta
	out.Records = len(res.Records(collection, r.keepFlagged))
	out.Status = StatusPublished
	return out
}

func (r *Runner) fail(out ChapterOutcome, err error) ChapterOutcome {
	out.Err = err
	out.Error = err.Error()
	out.Status = StatusFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		out.Status = StatusCancelled
	}
	level := r.log.Warn
	if !util.IsEmptyDocument(err) && out.Status == StatusFailed {
		level = r.log.Error
	}
	level("chapter not published", "chapter", out.Chapter.Number, "status", out.Status, "error", err)
	return out
}
