package vector

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"chapterflow/internal/models"
	"chapterflow/internal/util"
)

const snippetRunes = 420

type SearchFilters struct {
	Chapter          int
	ActivitiesOnly   bool
	EmbeddingVersion string
}

type Searcher struct {
	q Queryer
}

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func NewSearcher(q Queryer) *Searcher {
	return &Searcher{q: q}
}

// SearchChunks ranks a textbook's chunks by cosine similarity to queryVec,
// boosted by each chunk's content weight. Candidates are over-fetched so the
// boost can reorder them.
func (s *Searcher) SearchChunks(ctx context.Context, textbookID string, queryVec []float32, topK int, filters SearchFilters) ([]models.SearchResult, error) {
	if topK <= 0 {
		topK = 8
	}
	query, args := buildSearchQuery(textbookID, pgvector.NewVector(queryVec), topK, filters)

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	results := make([]models.SearchResult, 0, topK)
	for rows.Next() {
		var r models.SearchResult
		if err := rows.Scan(&r.RecordID, &r.ChapterNumber, &r.ChunkID, &r.SectionID, &r.SectionTitle, &r.ContentType,
			&r.ContentWeight, &r.Similarity, &r.Score, &r.Content); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		r.Snippet = util.DisplaySnippet(r.Content, snippetRunes)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return results, nil
}

func buildSearchQuery(textbookID string, vec pgvector.Vector, topK int, filters SearchFilters) (string, []any) {
	args := []any{textbookID, vec, topK}
	filterSQL := ""
	if filters.Chapter > 0 {
		args = append(args, filters.Chapter)
		filterSQL += fmt.Sprintf(" AND c.chapter_number = $%d", len(args))
	}
	if filters.ActivitiesOnly {
		filterSQL += " AND c.is_activity"
	}
	if filters.EmbeddingVersion != "" {
		args = append(args, filters.EmbeddingVersion)
		filterSQL += fmt.Sprintf(" AND c.embedding_version = $%d", len(args))
	}

	query := `
WITH candidates AS (
  SELECT c.record_id::text AS record_id, c.chapter_number, c.chunk_id, c.toc_section_id, c.section_title,
         c.content_type, c.content_weight, 1 - (c.embedding <=> $2) AS similarity, c.content
  FROM chunks c
  WHERE c.textbook_id = $1::uuid
    AND c.embedding IS NOT NULL` + filterSQL + `
  ORDER BY c.embedding <=> $2
  LIMIT $3 * 3
)
SELECT record_id, chapter_number, chunk_id, toc_section_id, section_title, content_type, content_weight,
       similarity, similarity * content_weight AS score, content
FROM candidates
ORDER BY score DESC, chunk_id ASC
LIMIT $3`
	return query, args
}
