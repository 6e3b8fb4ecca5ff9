package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"chapterflow/internal/models"
)

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

// replaceChapterChunks swaps a chapter's records for a new set inside tx.
func replaceChapterChunks(ctx context.Context, tx pgx.Tx, textbookID string, chapter int, records []models.VectorRecord, embedVersion string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE textbook_id=$1::uuid AND chapter_number=$2`, textbookID, chapter); err != nil {
		return fmt.Errorf("clear chapter chunks: %w", err)
	}
	for _, rec := range records {
		payload, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("encode payload for chunk %d: %w", rec.Payload.ChunkID, err)
		}
		var vec *pgvector.Vector
		if len(rec.Vector) > 0 {
			v := pgvector.NewVector(rec.Vector)
			vec = &v
		}
		p := rec.Payload
		_, err = tx.Exec(ctx, `
INSERT INTO chunks (record_id, textbook_id, chapter_number, chunk_id, chunk_index, toc_section_id, section_title,
                    content_type, content_weight, is_activity, content, payload, similarity, flagged,
                    embedding_version, embedding)
VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14, $15, $16)`,
			rec.ID, textbookID, chapter, p.ChunkID, p.ChunkIndex, p.TOCSectionID, p.SectionTitle,
			p.ContentType, p.ContentWeight, p.IsActivity, rec.Content, string(payload), p.SimilarityScore, p.Flagged,
			embedVersion, vec,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", p.ChunkID, err)
		}
	}
	return nil
}

func (r *ChunkRepo) ListChunksByChapter(ctx context.Context, textbookID string, chapter int) ([]models.VectorRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT record_id::text, content, payload
FROM chunks
WHERE textbook_id=$1::uuid AND chapter_number=$2
ORDER BY chunk_id ASC`, textbookID, chapter)
	if err != nil {
		return nil, fmt.Errorf("list chunks by chapter: %w", err)
	}
	defer rows.Close()

	out := make([]models.VectorRecord, 0, 64)
	for rows.Next() {
		var rec models.VectorRecord
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.Content, &payload); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			return nil, fmt.Errorf("decode chunk payload: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// Lookup resolves activity, section and chapter references against chapters
// that are already published.
func (r *ChunkRepo) Lookup(ctx context.Context, textbookID string, ref models.Reference) (string, bool, error) {
	target := ref.Target()
	if target == "" {
		return "", false, nil
	}
	var (
		content string
		err     error
	)
	switch ref.Type {
	case models.RefActivity, models.RefSection:
		err = r.db.Pool.QueryRow(ctx, `
SELECT COALESCE(string_agg(content, E'\n\n' ORDER BY chapter_number, chunk_index), '')
FROM chunks
WHERE textbook_id=$1::uuid AND toc_section_id=$2`, textbookID, target).Scan(&content)
	case models.RefChapter:
		var n int
		if _, scanErr := fmt.Sscanf(target, "chapter_%d", &n); scanErr != nil {
			return "", false, nil
		}
		err = r.db.Pool.QueryRow(ctx, `
SELECT content FROM chunks
WHERE textbook_id=$1::uuid AND chapter_number=$2
ORDER BY chunk_id ASC
LIMIT 1`, textbookID, n).Scan(&content)
	default:
		return "", false, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup %s %s: %w", ref.Type, target, err)
	}
	content = strings.TrimSpace(content)
	return content, content != "", nil
}

// ChunkLookup binds a ChunkRepo to one textbook.
type ChunkLookup struct {
	Repo       *ChunkRepo
	TextbookID string
}

func (l ChunkLookup) Lookup(ctx context.Context, ref models.Reference) (string, bool, error) {
	return l.Repo.Lookup(ctx, l.TextbookID, ref)
}
