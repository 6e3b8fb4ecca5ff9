package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"chapterflow/internal/models"
	"chapterflow/internal/references"
)

type StoredReference struct {
	models.Reference
	ChapterNumber int  `json:"chapter_number"`
	Resolved      bool `json:"resolved"`
}

type ReferenceRepo struct {
	db *DB
}

func NewReferenceRepo(db *DB) *ReferenceRepo {
	return &ReferenceRepo{db: db}
}

func replaceChapterReferences(ctx context.Context, tx pgx.Tx, textbookID string, chapter int, refs map[int][]models.Reference, res references.Resolution) error {
	if _, err := tx.Exec(ctx, `DELETE FROM chunk_references WHERE textbook_id=$1::uuid AND chapter_number=$2`, textbookID, chapter); err != nil {
		return fmt.Errorf("clear chapter references: %w", err)
	}
	resolved := map[string]bool{}
	for _, rr := range res.Resolved {
		resolved[refKey(rr.Reference)] = true
	}
	for _, ref := range references.Flatten(refs) {
		_, err := tx.Exec(ctx, `
INSERT INTO chunk_references (textbook_id, chapter_number, source_chunk_id, ref_type, target_id,
                              reference_text, context, position, requires_resolution, resolved)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			textbookID, chapter, ref.SourceID, string(ref.Type), ref.TargetID,
			ref.ReferenceText, ref.Context, ref.Position, ref.RequiresResolution, resolved[refKey(ref)],
		)
		if err != nil {
			return fmt.Errorf("insert reference from chunk %d: %w", ref.SourceID, err)
		}
	}
	return nil
}

func refKey(r models.Reference) string {
	return fmt.Sprintf("%d|%d|%s", r.SourceID, r.Position, r.Type)
}

const referenceColumns = `chapter_number, source_chunk_id, ref_type, target_id, reference_text, context, position,
       requires_resolution, resolved`

// ListByTarget is the reverse index: every stored reference pointing at target.
func (r *ReferenceRepo) ListByTarget(ctx context.Context, textbookID, target string) ([]StoredReference, error) {
	return r.list(ctx, `
SELECT `+referenceColumns+`
FROM chunk_references
WHERE textbook_id=$1::uuid AND target_id=$2
ORDER BY chapter_number, source_chunk_id, position`, textbookID, target)
}

// ListDangling returns references with a target that no lookup could find.
func (r *ReferenceRepo) ListDangling(ctx context.Context, textbookID string) ([]StoredReference, error) {
	return r.list(ctx, `
SELECT `+referenceColumns+`
FROM chunk_references
WHERE textbook_id=$1::uuid AND target_id IS NOT NULL AND NOT resolved
ORDER BY chapter_number, source_chunk_id, position`, textbookID)
}

func (r *ReferenceRepo) list(ctx context.Context, sql string, args ...any) ([]StoredReference, error) {
	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer rows.Close()

	out := make([]StoredReference, 0)
	for rows.Next() {
		var (
			sr      StoredReference
			refType string
		)
		if err := rows.Scan(&sr.ChapterNumber, &sr.SourceID, &refType, &sr.TargetID, &sr.ReferenceText, &sr.Context,
			&sr.Position, &sr.RequiresResolution, &sr.Resolved); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		sr.Type = models.ReferenceType(refType)
		sr.Chapter = sr.ChapterNumber
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate references: %w", err)
	}
	return out, nil
}
