package storage

import (
	"context"
	"fmt"

	"chapterflow/internal/models"
)

const (
	ChapterPending    = "pending"
	ChapterProcessing = "processing"
	ChapterPublished  = "published"
	ChapterFailed     = "failed"
)

type ChapterRepo struct {
	db *DB
}

func NewChapterRepo(db *DB) *ChapterRepo {
	return &ChapterRepo{db: db}
}

const chapterColumns = `chapter_id, textbook_id::text, filename, chapter_number, COALESCE(title,''), status,
       COALESCE(fail_reason,''), section_count, chunk_count, flagged_count, reference_count, dangling_count,
       created_at, updated_at`

func (r *ChapterRepo) UpsertChapter(ctx context.Context, c models.Chapter) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO chapters (chapter_id, textbook_id, filename, chapter_number, title, status, fail_reason)
VALUES ($1, $2::uuid, $3, $4, NULLIF($5,''), $6, NULLIF($7,''))
ON CONFLICT (chapter_id)
DO UPDATE SET
  filename = EXCLUDED.filename,
  chapter_number = CASE WHEN EXCLUDED.chapter_number > 0 THEN EXCLUDED.chapter_number ELSE chapters.chapter_number END,
  title = COALESCE(EXCLUDED.title, chapters.title),
  status = EXCLUDED.status,
  fail_reason = EXCLUDED.fail_reason,
  updated_at = NOW()`,
		c.ChapterID, c.TextbookID, c.Filename, c.Number, c.Title, c.Status, c.FailReason,
	)
	if err != nil {
		return fmt.Errorf("upsert chapter: %w", err)
	}
	return nil
}

func (r *ChapterRepo) UpdateChapterStatus(ctx context.Context, chapterID, status, failReason string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE chapters SET status=$2, fail_reason=NULLIF($3,''), updated_at=NOW() WHERE chapter_id=$1`, chapterID, status, failReason)
	if err != nil {
		return fmt.Errorf("update chapter status: %w", err)
	}
	return nil
}

// MarkPublished stores the final counts together with the published status.
func (r *ChapterRepo) MarkPublished(ctx context.Context, c models.Chapter) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE chapters SET
  status='published', fail_reason=NULL, chapter_number=$2, title=NULLIF($3,''),
  section_count=$4, chunk_count=$5, flagged_count=$6, reference_count=$7, dangling_count=$8,
  updated_at=NOW()
WHERE chapter_id=$1`,
		c.ChapterID, c.Number, c.Title, c.SectionCount, c.ChunkCount, c.FlaggedCount, c.ReferenceCount, c.DanglingCount)
	if err != nil {
		return fmt.Errorf("mark chapter published: %w", err)
	}
	return nil
}

func (r *ChapterRepo) GetChapter(ctx context.Context, chapterID string) (models.Chapter, error) {
	var c models.Chapter
	err := r.db.Pool.QueryRow(ctx, `SELECT `+chapterColumns+` FROM chapters WHERE chapter_id=$1`, chapterID).
		Scan(&c.ChapterID, &c.TextbookID, &c.Filename, &c.Number, &c.Title, &c.Status, &c.FailReason,
			&c.SectionCount, &c.ChunkCount, &c.FlaggedCount, &c.ReferenceCount, &c.DanglingCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return models.Chapter{}, fmt.Errorf("get chapter: %w", err)
	}
	return c, nil
}

func (r *ChapterRepo) ListChaptersByTextbook(ctx context.Context, textbookID string) ([]models.Chapter, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT `+chapterColumns+`
FROM chapters
WHERE textbook_id=$1::uuid
ORDER BY chapter_number ASC, filename ASC`, textbookID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	out := make([]models.Chapter, 0)
	for rows.Next() {
		var c models.Chapter
		if err := rows.Scan(&c.ChapterID, &c.TextbookID, &c.Filename, &c.Number, &c.Title, &c.Status, &c.FailReason,
			&c.SectionCount, &c.ChunkCount, &c.FlaggedCount, &c.ReferenceCount, &c.DanglingCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapters: %w", err)
	}
	return out, nil
}
