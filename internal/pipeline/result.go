package pipeline

import (
	"fmt"

	"github.com/google/uuid"

	"chapterflow/internal/chunker"
	"chapterflow/internal/graph"
	"chapterflow/internal/models"
	"chapterflow/internal/references"
	"chapterflow/internal/toc"
	"chapterflow/internal/validator"
)

// ChapterResult is everything the local stages produced for one chapter.
// Nothing in it has been published.
type ChapterResult struct {
	Source     string                     `json:"source"`
	Chapter    models.ChapterInfo         `json:"chapter"`
	TOC        models.TOC                 `json:"toc"`
	Expand     toc.ExpandReport           `json:"expand"`
	Chunks     []models.Chunk             `json:"chunks"`
	Spans      []chunker.SpanReport       `json:"spans"`
	Validation validator.Result           `json:"validation"`
	References map[int][]models.Reference `json:"references"`
	Resolution references.Resolution      `json:"resolution"`
}

// RecordID is stable across reruns so republishing a chapter overwrites it.
func RecordID(collection string, chapter, chunkID int) string {
	name := fmt.Sprintf("%s/%d/%d", collection, chapter, chunkID)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// Records turns the chapter's chunks into content-store records, in chunk
// order. Flagged chunks are left out unless keepFlagged is set.
func (r ChapterResult) Records(collection string, keepFlagged bool) []models.VectorRecord {
	scores := make(map[int]models.ValidationResult, len(r.Validation.Results))
	for _, vr := range r.Validation.Results {
		scores[vr.ChunkID] = vr
	}
	out := make([]models.VectorRecord, 0, len(r.Chunks))
	for _, c := range r.Chunks {
		vr := scores[c.ID]
		if vr.Flagged && !keepFlagged {
			continue
		}
		out = append(out, models.VectorRecord{
			ID:      RecordID(collection, r.Chapter.Number, c.ID),
			Content: c.Content,
			Vector:  r.Validation.Vectors[c.ID],
			Payload: models.ChunkPayload{
				ChunkMetadata:   c.Metadata,
				ChunkID:         c.ID,
				ChunkIndex:      c.ChunkIndex,
				TOCSectionID:    c.SectionID,
				ContentType:     string(c.Metadata.SectionType),
				ContentWeight:   c.ContentWeight,
				SimilarityScore: vr.SimilarityScore,
				Flagged:         vr.Flagged,
			},
		})
	}
	return out
}

func (r ChapterResult) GraphInput() graph.ChapterInput {
	return graph.ChapterInput{Source: r.Source, TOC: r.TOC, Chunks: r.Chunks, References: r.References}
}

func (r ChapterResult) ValidationReport() string {
	return validator.Report(r.Validation.Flagged)
}

func (r ChapterResult) ReferenceReport() string {
	return references.Report(r.References)
}
