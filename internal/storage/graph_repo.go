package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"chapterflow/internal/graph"
	"chapterflow/internal/models"
)

type GraphRepo struct {
	db *DB
}

func NewGraphRepo(db *DB) *GraphRepo {
	return &GraphRepo{db: db}
}

// Load rebuilds a textbook's graph from its stored snapshot.
func (r *GraphRepo) Load(ctx context.Context, textbookID string) (*graph.Graph, error) {
	snap, err := loadSnapshot(ctx, r.db.Pool, textbookID)
	if err != nil {
		return nil, err
	}
	return graph.Restore(snap)
}

func (r *GraphRepo) LoadSnapshot(ctx context.Context, textbookID string) (graph.Snapshot, error) {
	return loadSnapshot(ctx, r.db.Pool, textbookID)
}

func loadSnapshot(ctx context.Context, q querier, textbookID string) (graph.Snapshot, error) {
	var snap graph.Snapshot

	nodeRows, err := q.Query(ctx, `
SELECT node_id, node_key, kind, label, COALESCE(chapter_number,0), COALESCE(section_id,''), COALESCE(section_type,'')
FROM graph_nodes WHERE textbook_id=$1::uuid ORDER BY node_id`, textbookID)
	if err != nil {
		return snap, fmt.Errorf("query graph nodes: %w", err)
	}
	for nodeRows.Next() {
		var (
			n           graph.Node
			kind, stype string
		)
		if err := nodeRows.Scan(&n.ID, &n.Key, &kind, &n.Label, &n.Chapter, &n.SectionID, &stype); err != nil {
			nodeRows.Close()
			return snap, fmt.Errorf("scan graph node: %w", err)
		}
		n.Kind = graph.NodeKind(kind)
		n.SectionType = models.SectionType(stype)
		snap.Nodes = append(snap.Nodes, n)
	}
	nodeRows.Close()
	if err := nodeRows.Err(); err != nil {
		return snap, fmt.Errorf("iterate graph nodes: %w", err)
	}

	edgeRows, err := q.Query(ctx, `
SELECT source_node_id, target_node_id, kind, weight
FROM graph_edges WHERE textbook_id=$1::uuid ORDER BY source_node_id, target_node_id, kind`, textbookID)
	if err != nil {
		return snap, fmt.Errorf("query graph edges: %w", err)
	}
	for edgeRows.Next() {
		var (
			e    graph.Edge
			kind string
		)
		if err := edgeRows.Scan(&e.From, &e.To, &kind, &e.Weight); err != nil {
			edgeRows.Close()
			return snap, fmt.Errorf("scan graph edge: %w", err)
		}
		e.Kind = graph.EdgeKind(kind)
		snap.Edges = append(snap.Edges, e)
	}
	edgeRows.Close()
	if err := edgeRows.Err(); err != nil {
		return snap, fmt.Errorf("iterate graph edges: %w", err)
	}

	pendingRows, err := q.Query(ctx, `
SELECT from_key, target_key, ref_count
FROM graph_pending_refs WHERE textbook_id=$1::uuid ORDER BY seq`, textbookID)
	if err != nil {
		return snap, fmt.Errorf("query pending references: %w", err)
	}
	for pendingRows.Next() {
		var p graph.PendingRef
		if err := pendingRows.Scan(&p.FromKey, &p.TargetKey, &p.Count); err != nil {
			pendingRows.Close()
			return snap, fmt.Errorf("scan pending reference: %w", err)
		}
		snap.Pending = append(snap.Pending, p)
	}
	pendingRows.Close()
	if err := pendingRows.Err(); err != nil {
		return snap, fmt.Errorf("iterate pending references: %w", err)
	}

	chapterRows, err := q.Query(ctx, `SELECT chapter_number, source FROM graph_chapters WHERE textbook_id=$1::uuid ORDER BY chapter_number`, textbookID)
	if err != nil {
		return snap, fmt.Errorf("query graph chapters: %w", err)
	}
	defer chapterRows.Close()
	for chapterRows.Next() {
		var ch graph.MergedChapter
		if err := chapterRows.Scan(&ch.Number, &ch.Source); err != nil {
			return snap, fmt.Errorf("scan graph chapter: %w", err)
		}
		snap.Chapters = append(snap.Chapters, ch)
	}
	if err := chapterRows.Err(); err != nil {
		return snap, fmt.Errorf("iterate graph chapters: %w", err)
	}
	return snap, nil
}

// applyDelta writes a merge result. Nodes are insert-only; edges carry
// their post-merge weight so an upsert is enough.
func applyDelta(ctx context.Context, tx pgx.Tx, textbookID string, d graph.Delta) error {
	if _, err := tx.Exec(ctx, `
INSERT INTO graph_chapters (textbook_id, chapter_number, source) VALUES ($1::uuid, $2, $3)
ON CONFLICT DO NOTHING`, textbookID, d.Chapter, d.Source); err != nil {
		return fmt.Errorf("record graph chapter: %w", err)
	}
	for _, n := range d.NewNodes {
		_, err := tx.Exec(ctx, `
INSERT INTO graph_nodes (textbook_id, node_id, node_key, kind, label, chapter_number, section_id, section_type)
VALUES ($1::uuid, $2, $3, $4, $5, NULLIF($6,0), NULLIF($7,''), NULLIF($8,''))`,
			textbookID, int(n.ID), n.Key, string(n.Kind), n.Label, n.Chapter, n.SectionID, string(n.SectionType))
		if err != nil {
			return fmt.Errorf("insert graph node %s: %w", n.Key, err)
		}
	}
	for _, e := range d.Edges {
		_, err := tx.Exec(ctx, `
INSERT INTO graph_edges (textbook_id, source_node_id, target_node_id, kind, weight)
VALUES ($1::uuid, $2, $3, $4, $5)
ON CONFLICT (textbook_id, source_node_id, target_node_id, kind)
DO UPDATE SET weight = EXCLUDED.weight`,
			textbookID, int(e.From), int(e.To), string(e.Kind), e.Weight)
		if err != nil {
			return fmt.Errorf("upsert graph edge %d->%d: %w", e.From, e.To, err)
		}
	}
	for _, p := range d.PendingResolved {
		if _, err := tx.Exec(ctx, `DELETE FROM graph_pending_refs WHERE textbook_id=$1::uuid AND from_key=$2 AND target_key=$3`,
			textbookID, p.FromKey, p.TargetKey); err != nil {
			return fmt.Errorf("delete pending reference: %w", err)
		}
	}
	for _, p := range d.PendingAdded {
		_, err := tx.Exec(ctx, `
INSERT INTO graph_pending_refs (textbook_id, from_key, target_key, ref_count)
VALUES ($1::uuid, $2, $3, $4)
ON CONFLICT (textbook_id, from_key, target_key)
DO UPDATE SET ref_count = graph_pending_refs.ref_count + EXCLUDED.ref_count`,
			textbookID, p.FromKey, p.TargetKey, p.Count)
		if err != nil {
			return fmt.Errorf("insert pending reference: %w", err)
		}
	}
	return nil
}
