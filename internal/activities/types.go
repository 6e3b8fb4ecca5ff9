package activities

import (
	"chapterflow/internal/chunker"
	"chapterflow/internal/graph"
	"chapterflow/internal/models"
	"chapterflow/internal/references"
	"chapterflow/internal/toc"
)

type ListChapterFilesInput struct {
	InputDir string `json:"input_dir"`
}

type ListChapterFilesOutput struct {
	Paths []string `json:"paths"`
}

type ComputeChapterIDInput struct {
	TextbookID  string `json:"textbook_id"`
	ChapterPath string `json:"chapter_path"`
}

type ComputeChapterIDOutput struct {
	ChapterID string `json:"chapter_id"`
}

type UpdateChapterStatusInput struct {
	TextbookID  string `json:"textbook_id"`
	ChapterID   string `json:"chapter_id"`
	ChapterPath string `json:"chapter_path"`
	Status      string `json:"status"`
	FailReason  string `json:"fail_reason,omitempty"`
}

type LoadChapterInput struct {
	ChapterPath string `json:"chapter_path"`
}

type LoadChapterOutput struct {
	Document models.RawDocument `json:"document"`
}

type ExtractTOCInput struct {
	TextbookID string             `json:"textbook_id"`
	ChapterID  string             `json:"chapter_id"`
	Document   models.RawDocument `json:"document"`
}

type ExtractTOCOutput struct {
	TOC models.TOC `json:"toc"`
}

type ExpandTOCInput struct {
	TextbookID string             `json:"textbook_id"`
	ChapterID  string             `json:"chapter_id"`
	Document   models.RawDocument `json:"document"`
	TOC        models.TOC         `json:"toc"`
}

type ExpandTOCOutput struct {
	TOC    models.TOC       `json:"toc"`
	Report toc.ExpandReport `json:"report"`
}

type ChunkInput struct {
	Document models.RawDocument `json:"document"`
	TOC      models.TOC         `json:"toc"`
}

type ChunkOutput struct {
	Chunks []models.Chunk       `json:"chunks"`
	Spans  []chunker.SpanReport `json:"spans"`
}

type ValidateInput struct {
	TextbookID string         `json:"textbook_id"`
	ChapterID  string         `json:"chapter_id"`
	TOC        models.TOC     `json:"toc"`
	Chunks     []models.Chunk `json:"chunks"`
}

// ValidateOutput leaves the embeddings on disk; VectorsPath is read back at
// publication so the vectors never travel through workflow history.
type ValidateOutput struct {
	Results     []models.ValidationResult `json:"results"`
	Flagged     []models.ValidationResult `json:"flagged"`
	Unvalidated int                       `json:"unvalidated"`
	VectorsPath string                    `json:"vectors_path"`
}

type DetectReferencesInput struct {
	TextbookID string                    `json:"textbook_id"`
	Document   models.RawDocument        `json:"document"`
	TOC        models.TOC                `json:"toc"`
	Chunks     []models.Chunk            `json:"chunks"`
	Results    []models.ValidationResult `json:"results"`
}

type DetectReferencesOutput struct {
	References map[int][]models.Reference `json:"references"`
	Resolution references.Resolution      `json:"resolution"`
}

type PublishChapterInput struct {
	TextbookID string                     `json:"textbook_id"`
	ChapterID  string                     `json:"chapter_id"`
	Chapter    models.ChapterInfo         `json:"chapter"`
	TOC        models.TOC                 `json:"toc"`
	Chunks     []models.Chunk             `json:"chunks"`
	Validation ValidateOutput             `json:"validation"`
	References map[int][]models.Reference `json:"references"`
	Resolution references.Resolution      `json:"resolution"`
}

type PublishChapterOutput struct {
	Records         int `json:"records"`
	NewNodes        int `json:"new_nodes"`
	Edges           int `json:"edges"`
	PendingAdded    int `json:"pending_added"`
	PendingResolved int `json:"pending_resolved"`
}

func deltaSummary(records int, d graph.Delta) PublishChapterOutput {
	return PublishChapterOutput{
		Records:         records,
		NewNodes:        len(d.NewNodes),
		Edges:           len(d.Edges),
		PendingAdded:    len(d.PendingAdded),
		PendingResolved: len(d.PendingResolved),
	}
}

type SyncGraphMirrorInput struct {
	TextbookID string `json:"textbook_id"`
}

type SyncGraphMirrorOutput struct {
	Synced bool `json:"synced"`
}

type WriteChapterArtifactsInput struct {
	TextbookID    string                     `json:"textbook_id"`
	ChapterID     string                     `json:"chapter_id"`
	TOC           models.TOC                 `json:"toc"`
	Chunks        []models.Chunk             `json:"chunks"`
	Spans         []chunker.SpanReport       `json:"spans"`
	Flagged       []models.ValidationResult  `json:"flagged"`
	References    map[int][]models.Reference `json:"references"`
	ProcessingLog map[string]any             `json:"processing_log"`
}

type WriteChapterArtifactsOutput struct {
	Dir string `json:"dir"`
}

type MarkChapterPublishedInput struct {
	Chapter models.Chapter `json:"chapter"`
}

type WriteTextbookSummaryInput struct {
	TextbookID string         `json:"textbook_id"`
	Summary    map[string]any `json:"summary"`
}

type ListFailedChaptersInput struct {
	TextbookID string `json:"textbook_id"`
}

type FailedChapter struct {
	ChapterID string `json:"chapter_id"`
	Filename  string `json:"filename"`
}

type ListFailedChaptersOutput struct {
	Chapters []FailedChapter `json:"chapters"`
}
