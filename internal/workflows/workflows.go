package workflows

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"chapterflow/internal/activities"
	"chapterflow/internal/models"
	"chapterflow/internal/references"
	"chapterflow/internal/storage"
	"chapterflow/internal/util"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	QueryGetChapterStatus = "GetChapterStatus"
	QueryGetProgress      = "GetProgress"
)

const (
	BackfillFailed      = "failed"
	BackfillGraphMirror = "graph_mirror"
)

func TextbookIngestWorkflow(ctx workflow.Context, input TextbookIngestInput) (string, error) {
	progress := TextbookIngestProgress{
		TextbookID:    input.TextbookID,
		PerChapter:    map[string]string{},
		ChildWorkflow: map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (TextbookIngestProgress, error) {
		return progress, nil
	}); err != nil {
		return "", err
	}

	ctx = workflow.WithActivityOptions(ctx, shortActivityOptions())
	var listOut activities.ListChapterFilesOutput
	if err := workflow.ExecuteActivity(ctx, "ListChapterFilesActivity", activities.ListChapterFilesInput{InputDir: input.InputDir}).Get(ctx, &listOut); err != nil {
		return "", err
	}
	paths := listOut.Paths
	progress.Total = len(paths)
	maxChildren := input.MaxConcurrentChildren
	if maxChildren <= 0 {
		maxChildren = 3
	}

	for i := 0; i < len(paths); i += maxChildren {
		end := i + maxChildren
		if end > len(paths) {
			end = len(paths)
		}
		futures := make([]workflow.ChildWorkflowFuture, 0, end-i)
		childPaths := make([]string, 0, end-i)
		for _, path := range paths[i:end] {
			progress.PerChapter[path] = "processing"
			workflowID := chapterWorkflowID(input.TextbookID, path)
			childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{WorkflowID: workflowID})
			f := workflow.ExecuteChildWorkflow(childCtx, ChapterIngestWorkflow, ChapterIngestInput{
				TextbookID:  input.TextbookID,
				ChapterPath: path,
			})
			futures = append(futures, f)
			childPaths = append(childPaths, path)
			progress.ChildWorkflow[path] = workflowID
		}

		for idx, f := range futures {
			var childStatus string
			err := f.Get(ctx, &childStatus)
			path := childPaths[idx]
			if err != nil {
				progress.Failed++
				progress.PerChapter[path] = "failed"
				continue
			}
			if childStatus == "failed" {
				progress.Failed++
			}
			progress.Done++
			progress.PerChapter[path] = childStatus
		}
	}
	_ = workflow.ExecuteActivity(ctx, "WriteTextbookSummaryActivity", activities.WriteTextbookSummaryInput{
		TextbookID: input.TextbookID,
		Summary: map[string]any{
			"textbook_id":        input.TextbookID,
			"total":              progress.Total,
			"done":               progress.Done,
			"failed":             progress.Failed,
			"per_chapter_status": progress.PerChapter,
			"generated_at":       workflow.Now(ctx),
		},
	}).Get(ctx, nil)

	return "completed", nil
}

// chapterRun tracks one ChapterIngestWorkflow execution for its query handler.
type chapterRun struct {
	ctx    workflow.Context
	input  ChapterIngestInput
	status *ChapterStatus
}

func (r *chapterRun) step(ctx workflow.Context, name, activityName string, in, out any) error {
	r.status.CurrentStep = name
	r.status.Steps[name] = "processing"
	if err := workflow.ExecuteActivity(ctx, activityName, in).Get(ctx, out); err != nil {
		r.status.Steps[name] = "failed"
		return err
	}
	r.status.Steps[name] = "done"
	return nil
}

// fail records the failure on the chapter row. The row update is best effort;
// the original error is what the caller returns.
func (r *chapterRun) fail(reason string) {
	r.status.Status = "failed"
	r.status.FailReason = reason
	if r.status.ChapterID == "" {
		return
	}
	_ = workflow.ExecuteActivity(r.ctx, "UpdateChapterStatusActivity", activities.UpdateChapterStatusInput{
		TextbookID:  r.input.TextbookID,
		ChapterID:   r.status.ChapterID,
		ChapterPath: r.input.ChapterPath,
		Status:      storage.ChapterFailed,
		FailReason:  reason,
	}).Get(r.ctx, nil)
}

// ChapterIngestWorkflow runs one chapter through the local stages and then
// publishes it. Nothing is written to the content store or the graph before
// every local stage has succeeded.
func ChapterIngestWorkflow(ctx workflow.Context, input ChapterIngestInput) (string, error) {
	status := ChapterStatus{
		ChapterPath: input.ChapterPath,
		CurrentStep: "init",
		Status:      "processing",
		Steps:       map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetChapterStatus, func() (ChapterStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}

	ctx = workflow.WithActivityOptions(ctx, shortActivityOptions())
	oracleCtx := workflow.WithActivityOptions(ctx, oracleActivityOptions())
	run := &chapterRun{ctx: ctx, input: input, status: &status}
	log := workflow.GetLogger(ctx)

	var idOut activities.ComputeChapterIDOutput
	if err := run.step(ctx, "compute_chapter_id", "ComputeChapterIDActivity", activities.ComputeChapterIDInput{
		TextbookID:  input.TextbookID,
		ChapterPath: input.ChapterPath,
	}, &idOut); err != nil {
		run.fail(err.Error())
		return "", err
	}
	status.ChapterID = idOut.ChapterID
	_ = workflow.ExecuteActivity(ctx, "UpdateChapterStatusActivity", activities.UpdateChapterStatusInput{
		TextbookID:  input.TextbookID,
		ChapterID:   status.ChapterID,
		ChapterPath: input.ChapterPath,
		Status:      storage.ChapterProcessing,
	}).Get(ctx, nil)

	var loadOut activities.LoadChapterOutput
	if err := run.step(ctx, "load_chapter", "LoadChapterActivity", activities.LoadChapterInput{ChapterPath: input.ChapterPath}, &loadOut); err != nil {
		if util.IsEmptyDocument(err) {
			run.fail(util.ErrEmptyDocument.Error())
			return "failed", nil
		}
		run.fail(err.Error())
		return "", err
	}
	doc := loadOut.Document

	var tocOut activities.ExtractTOCOutput
	if err := run.step(oracleCtx, "extract_toc", "ExtractTOCActivity", activities.ExtractTOCInput{
		TextbookID: input.TextbookID,
		ChapterID:  status.ChapterID,
		Document:   doc,
	}, &tocOut); err != nil {
		if util.IsEmptyDocument(err) {
			run.fail(util.ErrEmptyDocument.Error())
			return "failed", nil
		}
		run.fail(err.Error())
		return "", err
	}
	chapter := models.ChapterInfo{Number: tocOut.TOC.Chapter, Title: doc.Chapter.Title}
	status.ChapterNumber = chapter.Number
	status.Title = chapter.Title

	var expandOut activities.ExpandTOCOutput
	if err := run.step(oracleCtx, "expand_toc", "ExpandTOCActivity", activities.ExpandTOCInput{
		TextbookID: input.TextbookID,
		ChapterID:  status.ChapterID,
		Document:   doc,
		TOC:        tocOut.TOC,
	}, &expandOut); err != nil {
		run.fail(err.Error())
		return "", err
	}
	status.Counts.Sections = expandOut.Report.Sections
	status.Counts.Enriched = expandOut.Report.Enriched
	status.Counts.Defaulted = expandOut.Report.Defaulted

	var chunkOut activities.ChunkOutput
	if err := run.step(ctx, "chunk", "ChunkActivity", activities.ChunkInput{Document: doc, TOC: expandOut.TOC}, &chunkOut); err != nil {
		run.fail(err.Error())
		return "", err
	}
	status.Counts.Chunks = len(chunkOut.Chunks)

	var validateOut activities.ValidateOutput
	if err := run.step(oracleCtx, "validate", "ValidateActivity", activities.ValidateInput{
		TextbookID: input.TextbookID,
		ChapterID:  status.ChapterID,
		TOC:        expandOut.TOC,
		Chunks:     chunkOut.Chunks,
	}, &validateOut); err != nil {
		run.fail(err.Error())
		return "", err
	}
	status.Counts.Flagged = len(validateOut.Flagged)
	status.Counts.Unvalidated = validateOut.Unvalidated

	var refOut activities.DetectReferencesOutput
	if err := run.step(ctx, "detect_references", "DetectReferencesActivity", activities.DetectReferencesInput{
		TextbookID: input.TextbookID,
		Document:   doc,
		TOC:        expandOut.TOC,
		Chunks:     chunkOut.Chunks,
		Results:    validateOut.Results,
	}, &refOut); err != nil {
		run.fail(err.Error())
		return "", err
	}
	status.Counts.References = references.Count(refOut.References)
	status.Counts.Dangling = len(refOut.Resolution.Dangling)

	var publishOut activities.PublishChapterOutput
	if err := run.step(ctx, "publish", "PublishChapterActivity", activities.PublishChapterInput{
		TextbookID: input.TextbookID,
		ChapterID:  status.ChapterID,
		Chapter:    chapter,
		TOC:        expandOut.TOC,
		Chunks:     chunkOut.Chunks,
		Validation: validateOut,
		References: refOut.References,
		Resolution: refOut.Resolution,
	}, &publishOut); err != nil {
		run.fail(err.Error())
		return "", err
	}
	status.Counts.Records = publishOut.Records
	status.Counts.NewNodes = publishOut.NewNodes
	status.Counts.Pending = publishOut.PendingAdded

	// The mirror is a read replica; a failed sync never fails the chapter.
	var syncOut activities.SyncGraphMirrorOutput
	if err := run.step(ctx, "sync_graph_mirror", "SyncGraphMirrorActivity", activities.SyncGraphMirrorInput{TextbookID: input.TextbookID}, &syncOut); err != nil {
		log.Warn("graph mirror sync failed", "chapter_id", status.ChapterID, "error", err)
	}

	if err := run.step(ctx, "write_artifacts", "WriteChapterArtifactsActivity", activities.WriteChapterArtifactsInput{
		TextbookID: input.TextbookID,
		ChapterID:  status.ChapterID,
		TOC:        expandOut.TOC,
		Chunks:     chunkOut.Chunks,
		Spans:      chunkOut.Spans,
		Flagged:    validateOut.Flagged,
		References: refOut.References,
		ProcessingLog: map[string]any{
			"status":       "published",
			"chapter":      chapter,
			"steps":        status.Steps,
			"counts":       status.Counts,
			"expand":       expandOut.Report,
			"generated_at": workflow.Now(ctx),
		},
	}, nil); err != nil {
		run.fail(err.Error())
		return "", err
	}

	if err := run.step(ctx, "mark_processed", "MarkChapterPublishedActivity", activities.MarkChapterPublishedInput{
		Chapter: models.Chapter{
			ChapterID:      status.ChapterID,
			TextbookID:     input.TextbookID,
			Filename:       filepath.Base(input.ChapterPath),
			Number:         chapter.Number,
			Title:          chapter.Title,
			SectionCount:   len(expandOut.TOC.Sections),
			ChunkCount:     publishOut.Records,
			FlaggedCount:   len(validateOut.Flagged),
			ReferenceCount: status.Counts.References,
			DanglingCount:  status.Counts.Dangling,
		},
	}, nil); err != nil {
		return "", err
	}
	status.Status = storage.ChapterPublished
	status.CurrentStep = "done"
	return storage.ChapterPublished, nil
}

// BackfillWorkflow re-runs failed chapters from the textbook's input folder,
// or resyncs the graph mirror.
func BackfillWorkflow(ctx workflow.Context, input BackfillInput) (string, error) {
	ctx = workflow.WithActivityOptions(ctx, shortActivityOptions())
	switch input.Mode {
	case BackfillGraphMirror:
		var out activities.SyncGraphMirrorOutput
		if err := workflow.ExecuteActivity(ctx, "SyncGraphMirrorActivity", activities.SyncGraphMirrorInput{TextbookID: input.TextbookID}).Get(ctx, &out); err != nil {
			return "", err
		}
		if !out.Synced {
			return "skipped", nil
		}
		return "completed", nil
	case BackfillFailed, "":
		var failed activities.ListFailedChaptersOutput
		if err := workflow.ExecuteActivity(ctx, "ListFailedChaptersActivity", activities.ListFailedChaptersInput{TextbookID: input.TextbookID}).Get(ctx, &failed); err != nil {
			return "", err
		}
		for _, c := range failed.Chapters {
			path := pathForBackfill(input, c.Filename)
			childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
				WorkflowID: chapterWorkflowID(input.TextbookID, path) + "-backfill-" + sanitizeID(workflow.GetInfo(ctx).WorkflowExecution.RunID),
			})
			var childStatus string
			if err := workflow.ExecuteChildWorkflow(childCtx, ChapterIngestWorkflow, ChapterIngestInput{
				TextbookID:  input.TextbookID,
				ChapterPath: path,
			}).Get(ctx, &childStatus); err != nil {
				workflow.GetLogger(ctx).Warn("backfill chapter failed", "filename", c.Filename, "error", err)
			}
		}
		return "completed", nil
	default:
		return "", temporal.NewNonRetryableApplicationError(fmt.Sprintf("unknown backfill mode %q", input.Mode), "InvalidMode", nil)
	}
}

func shortActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
}

// Oracle-backed stages degrade instead of failing, so retries only cover
// worker crashes and timeouts.
func oracleActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    2,
		},
	}
}

func chapterWorkflowID(textbookID, path string) string {
	return "chapter-" + sanitizeID(textbookID) + "-" + sanitizeID(filepath.Base(path))
}

func sanitizeID(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, " ", "-")
	return s
}

func pathForBackfill(input BackfillInput, filename string) string {
	base := strings.TrimSpace(input.DataInRoot)
	if base == "" {
		base = "./data/in"
	}
	return filepath.Join(base, input.TextbookID, filename)
}
