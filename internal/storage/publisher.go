package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"chapterflow/internal/graph"
	"chapterflow/internal/logger"
	"chapterflow/internal/pipeline"
)

// Publisher writes a processed chapter in one transaction. A per-textbook
// advisory lock makes graph merges single-writer across worker processes.
type Publisher struct {
	db           *DB
	embedVersion string
	keepFlagged  bool
	log          *logger.Logger
}

func NewPublisher(db *DB, embedVersion string, keepFlagged bool, log *logger.Logger) *Publisher {
	return &Publisher{db: db, embedVersion: embedVersion, keepFlagged: keepFlagged, log: logger.OrNop(log)}
}

// Publish satisfies pipeline.Publisher; the collection is the textbook id.
func (p *Publisher) Publish(ctx context.Context, textbookID string, res pipeline.ChapterResult) (graph.Delta, error) {
	chapter := res.Chapter.Number
	var delta graph.Delta
	err := p.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "chapterflow:graph:"+textbookID); err != nil {
			return fmt.Errorf("lock textbook graph: %w", err)
		}
		snap, err := loadSnapshot(ctx, tx, textbookID)
		if err != nil {
			return err
		}
		g, err := graph.Restore(snap)
		if err != nil {
			return err
		}
		if delta, err = g.Merge(res.GraphInput()); err != nil {
			return err
		}
		if err := applyDelta(ctx, tx, textbookID, delta); err != nil {
			return err
		}
		if err := replaceChapterChunks(ctx, tx, textbookID, chapter, res.Records(textbookID, p.keepFlagged), p.embedVersion); err != nil {
			return err
		}
		if err := replaceValidationFlags(ctx, tx, textbookID, chapter, res.Validation.Flagged); err != nil {
			return err
		}
		return replaceChapterReferences(ctx, tx, textbookID, chapter, res.References, res.Resolution)
	})
	if err != nil {
		return graph.Delta{}, fmt.Errorf("publish chapter %d: %w", chapter, err)
	}
	p.log.Info("chapter published", "textbook_id", textbookID, "chapter", chapter,
		"new_nodes", len(delta.NewNodes), "edges", len(delta.Edges),
		"pending_added", len(delta.PendingAdded), "pending_resolved", len(delta.PendingResolved))
	return delta, nil
}

var _ pipeline.Publisher = (*Publisher)(nil)
