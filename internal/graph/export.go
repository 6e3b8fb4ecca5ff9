package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// DOT renders the graph in Graphviz format.
func (g *Graph) DOT() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var b strings.Builder
	b.WriteString("digraph chapterflow {\n")
	b.WriteString("  rankdir=LR;\n")
	for _, n := range g.nodes {
		shape := "box"
		if n.Kind == NodeConcept {
			shape = "ellipse"
		}
		fmt.Fprintf(&b, "  n%d [label=%s, shape=%s];\n", n.ID, strconv.Quote(n.Label), shape)
	}
	for _, e := range g.edges {
		style := "solid"
		if e.Kind == EdgeCovers {
			style = "dashed"
		}
		fmt.Fprintf(&b, "  n%d -> n%d [label=%q, weight=%s, style=%s];\n",
			e.From, e.To, string(e.Kind), strconv.FormatFloat(e.Weight, 'f', -1, 64), style)
	}
	b.WriteString("}\n")
	return b.String()
}

// Snapshot copies the whole graph for persistence.
func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Snapshot{
		Nodes:    append([]Node(nil), g.nodes...),
		Edges:    append([]Edge(nil), g.edges...),
		Pending:  g.pendingList(),
		Chapters: g.mergedChapters(),
	}
}

// Restore rebuilds a graph from a snapshot. Node ids must be dense and in
// order, as Snapshot produces them.
func Restore(s Snapshot) (*Graph, error) {
	g := New()
	for i, n := range s.Nodes {
		if int(n.ID) != i {
			return nil, fmt.Errorf("restore graph: node %q has id %d at position %d", n.Key, n.ID, i)
		}
		if _, dup := g.byKey[n.Key]; dup {
			return nil, fmt.Errorf("restore graph: duplicate node key %q", n.Key)
		}
		g.nodes = append(g.nodes, n)
		g.byKey[n.Key] = n.ID
	}
	for _, e := range s.Edges {
		if int(e.From) >= len(g.nodes) || int(e.To) >= len(g.nodes) || e.From < 0 || e.To < 0 {
			return nil, fmt.Errorf("restore graph: edge %d->%d out of range", e.From, e.To)
		}
		k := edgeKey{from: e.From, to: e.To, kind: e.Kind}
		if i, ok := g.edgeIndex[k]; ok {
			g.edges[i].Weight += e.Weight
			continue
		}
		g.addEdge(k, e.Weight)
	}
	for _, p := range s.Pending {
		pk := pendingKey{from: p.FromKey, target: p.TargetKey}
		if _, ok := g.pending[pk]; !ok {
			g.pendingOrder = append(g.pendingOrder, pk)
		}
		g.pending[pk] += p.Count
	}
	for _, ch := range s.Chapters {
		g.chapters[ch.Number] = ch.Source
	}
	return g, nil
}

func (g *Graph) mergedChapters() []MergedChapter {
	out := make([]MergedChapter, 0, len(g.chapters))
	for _, ch := range g.chapterList() {
		out = append(out, MergedChapter{Number: ch, Source: g.chapters[ch]})
	}
	return out
}
