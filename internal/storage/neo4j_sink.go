package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"chapterflow/internal/graph"
	"chapterflow/internal/neo4jdb"
)

// Neo4jGraphSink mirrors a textbook graph into Neo4j for ad-hoc traversal.
// Postgres stays the source of truth; the mirror is rewritten idempotently.
type Neo4jGraphSink struct {
	client *neo4jdb.Client
}

func NewNeo4jGraphSink(client *neo4jdb.Client) *Neo4jGraphSink {
	return &Neo4jGraphSink{client: client}
}

func (s *Neo4jGraphSink) Enabled() bool {
	return s != nil && s.client != nil && s.client.Driver != nil
}

// mirrorRows flattens a snapshot into UNWIND parameter rows.
func mirrorRows(textbookID string, snap graph.Snapshot, syncedAt string) (sections, concepts, covers, refs []map[string]any) {
	ids := make([]string, len(snap.Nodes))
	for i, n := range snap.Nodes {
		ids[i] = textbookID + ":" + n.Key
		row := map[string]any{
			"id":          ids[i],
			"textbook_id": textbookID,
			"key":         n.Key,
			"label":       n.Label,
			"synced_at":   syncedAt,
		}
		switch n.Kind {
		case graph.NodeSection:
			row["chapter"] = int64(n.Chapter)
			row["section_id"] = n.SectionID
			row["section_type"] = string(n.SectionType)
			sections = append(sections, row)
		case graph.NodeConcept:
			concepts = append(concepts, row)
		}
	}
	for _, e := range snap.Edges {
		if int(e.From) >= len(ids) || int(e.To) >= len(ids) {
			continue
		}
		row := map[string]any{"from_id": ids[e.From], "to_id": ids[e.To], "weight": e.Weight, "synced_at": syncedAt}
		switch e.Kind {
		case graph.EdgeCovers:
			covers = append(covers, row)
		case graph.EdgeReferences:
			refs = append(refs, row)
		}
	}
	return sections, concepts, covers, refs
}

func (s *Neo4jGraphSink) Sync(ctx context.Context, textbookID string, snap graph.Snapshot) error {
	if !s.Enabled() {
		return nil
	}
	log := s.client.Log()
	sections, concepts, covers, refs := mirrorRows(textbookID, snap, time.Now().UTC().Format(time.RFC3339Nano))

	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	for _, stmt := range []string{
		`CREATE CONSTRAINT section_id_unique IF NOT EXISTS FOR (s:Section) REQUIRE s.id IS UNIQUE`,
		`CREATE CONSTRAINT concept_id_unique IF NOT EXISTS FOR (c:Concept) REQUIRE c.id IS UNIQUE`,
	} {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			log.Warn("neo4j schema init failed (continuing)", "error", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}

	steps := []struct {
		cypher string
		rows   []map[string]any
	}{
		{`
UNWIND $rows AS n
MERGE (s:Section {id: n.id})
SET s += n`, sections},
		{`
UNWIND $rows AS n
MERGE (c:Concept {id: n.id})
SET c += n`, concepts},
		{`
UNWIND $rows AS r
MATCH (s:Section {id: r.from_id})
MATCH (c:Concept {id: r.to_id})
MERGE (s)-[e:COVERS]->(c)
SET e.weight = r.weight, e.synced_at = r.synced_at`, covers},
		{`
UNWIND $rows AS r
MATCH (a:Section {id: r.from_id})
MATCH (b:Section {id: r.to_id})
MERGE (a)-[e:REFERENCES]->(b)
SET e.weight = r.weight, e.synced_at = r.synced_at`, refs},
	}
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, st := range steps {
			if len(st.rows) == 0 {
				continue
			}
			res, err := tx.Run(ctx, st.cypher, map[string]any{"rows": st.rows})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j graph sync: %w", err)
	}
	log.Info("graph mirrored", "textbook_id", textbookID, "sections", len(sections), "concepts", len(concepts),
		"covers", len(covers), "references", len(refs))
	return nil
}
