package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"chapterflow/internal/models"
)

// replaceValidationFlags keeps flagged chunks auditable even when they are
// not published as records.
func replaceValidationFlags(ctx context.Context, tx pgx.Tx, textbookID string, chapter int, flagged []models.ValidationResult) error {
	if _, err := tx.Exec(ctx, `DELETE FROM validation_flags WHERE textbook_id=$1::uuid AND chapter_number=$2`, textbookID, chapter); err != nil {
		return fmt.Errorf("clear validation flags: %w", err)
	}
	for _, f := range flagged {
		_, err := tx.Exec(ctx, `
INSERT INTO validation_flags (textbook_id, chapter_number, chunk_id, toc_section_id, similarity, threshold, reason)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)`,
			textbookID, chapter, f.ChunkID, f.SectionID, f.SimilarityScore, f.Threshold, f.Reason)
		if err != nil {
			return fmt.Errorf("insert validation flag for chunk %d: %w", f.ChunkID, err)
		}
	}
	return nil
}

type ValidationRepo struct {
	db *DB
}

func NewValidationRepo(db *DB) *ValidationRepo {
	return &ValidationRepo{db: db}
}

func (r *ValidationRepo) ListFlagged(ctx context.Context, textbookID string, chapter int) ([]models.ValidationResult, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT chunk_id, toc_section_id, similarity, threshold, reason
FROM validation_flags
WHERE textbook_id=$1::uuid AND chapter_number=$2
ORDER BY similarity ASC NULLS LAST, chunk_id ASC`, textbookID, chapter)
	if err != nil {
		return nil, fmt.Errorf("list validation flags: %w", err)
	}
	defer rows.Close()

	out := make([]models.ValidationResult, 0)
	for rows.Next() {
		v := models.ValidationResult{Flagged: true}
		if err := rows.Scan(&v.ChunkID, &v.SectionID, &v.SimilarityScore, &v.Threshold, &v.Reason); err != nil {
			return nil, fmt.Errorf("scan validation flag: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate validation flags: %w", err)
	}
	return out, nil
}
