package graph

import "chapterflow/internal/models"

type NodeKind string

const (
	NodeSection NodeKind = "section"
	NodeConcept NodeKind = "concept"
)

type EdgeKind string

const (
	EdgeCovers     EdgeKind = "covers"
	EdgeReferences EdgeKind = "references"
)

// NodeID is a stable index into the graph's node arena.
type NodeID int

type Node struct {
	ID          NodeID             `json:"id"`
	Kind        NodeKind           `json:"kind"`
	Key         string             `json:"key"`
	Label       string             `json:"label"`
	Chapter     int                `json:"chapter,omitempty"`
	SectionID   string             `json:"section_id,omitempty"`
	SectionType models.SectionType `json:"section_type,omitempty"`
}

type Edge struct {
	From   NodeID   `json:"from"`
	To     NodeID   `json:"to"`
	Kind   EdgeKind `json:"kind"`
	Weight float64  `json:"weight"`
}

// PendingRef is a section reference whose target section has not been
// merged yet.
type PendingRef struct {
	FromKey   string `json:"from_key"`
	TargetKey string `json:"target_key"`
	Count     int    `json:"count"`
}

// ChapterInput is everything one chapter contributes to the graph. Source
// identifies the document, so a rerun of the same document is recognised.
type ChapterInput struct {
	Source     string
	TOC        models.TOC
	Chunks     []models.Chunk
	References map[int][]models.Reference
}

// Delta lists what a merge changed. Edges carry their weight after the merge.
type Delta struct {
	Chapter         int          `json:"chapter"`
	Source          string       `json:"source,omitempty"`
	NewNodes        []Node       `json:"new_nodes"`
	Edges           []Edge       `json:"edges"`
	PendingAdded    []PendingRef `json:"pending_added"`
	PendingResolved []PendingRef `json:"pending_resolved"`
}

func (d Delta) Empty() bool {
	return len(d.NewNodes) == 0 && len(d.Edges) == 0 && len(d.PendingAdded) == 0 && len(d.PendingResolved) == 0
}

type Stats struct {
	Nodes     int     `json:"nodes"`
	Edges     int     `json:"edges"`
	Sections  int     `json:"sections"`
	Concepts  int     `json:"concepts"`
	Pending   int     `json:"pending_references"`
	Chapters  int     `json:"chapters"`
	Density   float64 `json:"density"`
	Connected bool    `json:"connected"`
}

type SectionRef struct {
	Key       string             `json:"key"`
	Chapter   int                `json:"chapter"`
	SectionID string             `json:"section_id"`
	Title     string             `json:"title"`
	Type      models.SectionType `json:"type"`
}

type RankedSection struct {
	SectionRef
	Score float64 `json:"score"`
}

// Snapshot is the serializable form of a graph.
type Snapshot struct {
	Nodes    []Node          `json:"nodes"`
	Edges    []Edge          `json:"edges"`
	Pending  []PendingRef    `json:"pending"`
	Chapters []MergedChapter `json:"chapters"`
}

type MergedChapter struct {
	Number int    `json:"number"`
	Source string `json:"source,omitempty"`
}
