package activities

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"chapterflow/internal/config"
	"chapterflow/internal/graph"
	"chapterflow/internal/models"
	"chapterflow/internal/providers"
	"chapterflow/internal/util"
)

const chapterFile = "Chapter 3\nMaterials Around Us\n\nMaterials around us are made of many different substances. Some are found in nature and others are made by people.\n\n" +
	"Activity 3.1 Let us record the materials\nCollect five objects from your classroom and note what each is made of.\n1. Make a table with two columns.\n2. Write the object name and its material.\n\n" +
	"After the activity, you will notice that the same material can be used to make many objects."

func testActivities(t *testing.T) *Activities {
	t.Helper()
	cfg := config.Config{DataOutRoot: t.TempDir(), EmbedDim: 64, ValidationThreshold: 0.1, TOCMode: "heuristic"}
	mock := providers.NewMockProvider(cfg.EmbedDim)
	return &Activities{cfg: cfg, stages: NewStages(cfg, mock, mock, nil)}
}

func writeChapter(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestChapterIdentity(t *testing.T) {
	info := chapterIdentity("Chapter 7\n  Light and Shadows\nSome text", "/in/whatever.pdf")
	assert.Equal(t, models.ChapterInfo{Number: 7, Title: "Light and Shadows"}, info)

	info = chapterIdentity("no heading here", "/in/ch12_motion.pdf")
	assert.Equal(t, 12, info.Number)
	assert.Equal(t, "ch12_motion", info.Title)

	info = chapterIdentity("", "/in/intro.pdf")
	assert.Equal(t, 1, info.Number)
}

func TestComputeChapterIDDependsOnTextbook(t *testing.T) {
	a := testActivities(t)
	path := writeChapter(t, "ch3.txt", chapterFile)

	one, err := a.ComputeChapterIDActivity(context.Background(), ComputeChapterIDInput{TextbookID: "tb1", ChapterPath: path})
	require.NoError(t, err)
	again, err := a.ComputeChapterIDActivity(context.Background(), ComputeChapterIDInput{TextbookID: "tb1", ChapterPath: path})
	require.NoError(t, err)
	other, err := a.ComputeChapterIDActivity(context.Background(), ComputeChapterIDInput{TextbookID: "tb2", ChapterPath: path})
	require.NoError(t, err)

	assert.Len(t, one.ChapterID, 64)
	assert.Equal(t, one, again)
	assert.NotEqual(t, one, other)
}

func TestLoadChapterFromText(t *testing.T) {
	a := testActivities(t)
	out, err := a.LoadChapterActivity(context.Background(), LoadChapterInput{ChapterPath: writeChapter(t, "ch3.txt", chapterFile)})
	require.NoError(t, err)
	assert.Equal(t, models.ChapterInfo{Number: 3, Title: "Materials Around Us"}, out.Document.Chapter)
	require.Len(t, out.Document.Pages, 1)
	assert.Equal(t, 1, out.Document.Pages[0].Number)
}

func TestLoadChapterEmptyIsEmptyDocument(t *testing.T) {
	a := testActivities(t)
	_, err := a.LoadChapterActivity(context.Background(), LoadChapterInput{ChapterPath: writeChapter(t, "blank.txt", "  \n\f\n ")})
	require.Error(t, err)
	assert.True(t, util.IsEmptyDocument(err))
}

func TestLocalStagesEndToEnd(t *testing.T) {
	a := testActivities(t)
	ctx := context.Background()
	loaded, err := a.LoadChapterActivity(ctx, LoadChapterInput{ChapterPath: writeChapter(t, "ch3.txt", chapterFile)})
	require.NoError(t, err)

	extracted, err := a.ExtractTOCActivity(ctx, ExtractTOCInput{TextbookID: "tb", ChapterID: "c3", Document: loaded.Document})
	require.NoError(t, err)
	assert.Equal(t, 3, extracted.TOC.Chapter)
	_, ok := extracted.TOC.SectionByID("activity_3.1")
	require.True(t, ok)

	expanded, err := a.ExpandTOCActivity(ctx, ExpandTOCInput{TextbookID: "tb", ChapterID: "c3", Document: loaded.Document, TOC: extracted.TOC})
	require.NoError(t, err)
	assert.Equal(t, len(expanded.TOC.Sections), expanded.Report.Sections)

	chunked, err := a.ChunkActivity(ctx, ChunkInput{Document: loaded.Document, TOC: expanded.TOC})
	require.NoError(t, err)
	require.NotEmpty(t, chunked.Chunks)

	validated, err := a.ValidateActivity(ctx, ValidateInput{TextbookID: "tb", ChapterID: "c3", TOC: expanded.TOC, Chunks: chunked.Chunks})
	require.NoError(t, err)
	assert.Len(t, validated.Results, len(chunked.Chunks))
	assert.Equal(t, filepath.Join(a.cfg.DataOutRoot, "tb", "chapters", "c3", "vectors.json"), validated.VectorsPath)

	var vectors map[int][]float32
	require.NoError(t, util.ReadJSON(validated.VectorsPath, &vectors))
	assert.Len(t, vectors, len(chunked.Chunks))
	for _, v := range vectors {
		assert.Len(t, v, 64)
	}
}

func TestPublishableDropsFlaggedUnlessKept(t *testing.T) {
	chunks := []models.Chunk{{ID: 1}, {ID: 2}, {ID: 3}}
	results := []models.ValidationResult{{ChunkID: 1}, {ChunkID: 2, Flagged: true}, {ChunkID: 3}}

	var ids []int
	for _, c := range publishable(chunks, results, false) {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int{1, 3}, ids)
	assert.Len(t, publishable(chunks, results, true), 3)
}

func TestPublishErrorChapterConflictIsNonRetryable(t *testing.T) {
	conflict := fmt.Errorf("merge chapter 1: %w", graph.ErrChapterConflict)
	err := publishError(conflict)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, "ChapterConflict", appErr.Type())
	assert.ErrorIs(t, err, graph.ErrChapterConflict)

	transient := errors.New("connection reset")
	assert.Same(t, transient, publishError(transient))
	assert.NoError(t, publishError(nil))
}

func TestWriteChapterArtifacts(t *testing.T) {
	a := testActivities(t)
	target := "activity_3.1"
	out, err := a.WriteChapterArtifactsActivity(context.Background(), WriteChapterArtifactsInput{
		TextbookID: "tb",
		ChapterID:  "c3",
		TOC:        models.TOC{Chapter: 3, Sections: []models.Section{{ID: "activity_3.1", Title: "Let us record"}}},
		Chunks:     []models.Chunk{{ID: 1, Content: "one"}, {ID: 2, Content: "two"}},
		References: map[int][]models.Reference{2: {{Type: models.RefActivity, SourceID: 2, TargetID: &target}}},
		ProcessingLog: map[string]any{
			"status": "published",
		},
	})
	require.NoError(t, err)

	for _, name := range []string{"toc.json", "chunks.jsonl", "spans.json", "validation_report.txt", "reference_report.txt", "processing_log.json"} {
		_, statErr := os.Stat(filepath.Join(out.Dir, name))
		assert.NoError(t, statErr, name)
	}
	var got models.TOC
	require.NoError(t, util.ReadJSON(filepath.Join(out.Dir, "toc.json"), &got))
	assert.Equal(t, 3, got.Chapter)
}

func TestListChapterFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ch2.pdf", "ch1.PDF", "ch3.txt", "cover.png"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "ch4.pdf"), 0o755))
	a := testActivities(t)
	out, err := a.ListChapterFilesActivity(context.Background(), ListChapterFilesInput{InputDir: dir})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "ch1.PDF"),
		filepath.Join(dir, "ch2.pdf"),
		filepath.Join(dir, "ch3.txt"),
	}, out.Paths)
}

func TestSyncGraphMirrorWithoutNeo4jIsNoop(t *testing.T) {
	a := testActivities(t)
	a.sink = nil
	out, err := a.SyncGraphMirrorActivity(context.Background(), SyncGraphMirrorInput{TextbookID: "tb"})
	require.NoError(t, err)
	assert.False(t, out.Synced)
}
