package graph

import (
	"math"
	"sort"
	"strings"
)

const (
	centralityIterations = 200
	centralityTolerance  = 1e-10
	DefaultRelatedDepth  = 2
)

type neighbor struct {
	id     NodeID
	weight float64
}

// adjacency is the undirected weighted projection; parallel edges add up.
func (g *Graph) adjacency() [][]neighbor {
	adj := make([][]neighbor, len(g.nodes))
	for _, e := range g.edges {
		adj[e.From] = append(adj[e.From], neighbor{id: e.To, weight: e.Weight})
		adj[e.To] = append(adj[e.To], neighbor{id: e.From, weight: e.Weight})
	}
	return adj
}

// MostImportantSections ranks sections by eigenvector centrality. The
// iteration runs on A+I so bipartite or disconnected graphs still converge.
// Equal scores keep insertion order.
func (g *Graph) MostImportantSections(limit int) []RankedSection {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := len(g.nodes)
	if n == 0 || limit <= 0 {
		return nil
	}
	adj := g.adjacency()
	x := make([]float64, n)
	for i := range x {
		x[i] = 1 / math.Sqrt(float64(n))
	}
	next := make([]float64, n)
	for it := 0; it < centralityIterations; it++ {
		var norm float64
		for i := range next {
			v := x[i]
			for _, nb := range adj[i] {
				v += nb.weight * x[nb.id]
			}
			next[i] = v
			norm += v * v
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			break
		}
		var diff float64
		for i := range next {
			next[i] /= norm
			diff += math.Abs(next[i] - x[i])
		}
		x, next = next, x
		if diff < centralityTolerance {
			break
		}
	}

	var out []RankedSection
	for _, node := range g.nodes {
		if node.Kind != NodeSection {
			continue
		}
		out = append(out, RankedSection{
			SectionRef: sectionRef(node),
			Score:      math.Round(x[node.ID]*1e9) / 1e9,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FindSectionsByConcept returns the sections covering a concept. An exact
// canonical match wins; otherwise every concept containing the query counts.
func (g *Graph) FindSectionsByConcept(concept string) []SectionRef {
	g.mu.RLock()
	defer g.mu.RUnlock()

	canon := CanonicalName(concept)
	if canon == "" {
		return nil
	}
	var concepts []NodeID
	if id, ok := g.byKey[conceptKey(canon)]; ok {
		concepts = []NodeID{id}
	} else {
		for _, n := range g.nodes {
			if n.Kind == NodeConcept && strings.Contains(strings.TrimPrefix(n.Key, "concept:"), canon) {
				concepts = append(concepts, n.ID)
			}
		}
	}
	if len(concepts) == 0 {
		return nil
	}
	want := make(map[NodeID]bool, len(concepts))
	for _, id := range concepts {
		want[id] = true
	}
	hit := map[NodeID]bool{}
	for _, e := range g.edges {
		if e.Kind == EdgeCovers && want[e.To] {
			hit[e.From] = true
		}
	}
	var out []SectionRef
	for _, n := range g.nodes {
		if hit[n.ID] {
			out = append(out, sectionRef(n))
		}
	}
	return out
}

func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{
		Nodes:    len(g.nodes),
		Edges:    len(g.edges),
		Pending:  len(g.pendingOrder),
		Chapters: len(g.chapters),
	}
	for _, n := range g.nodes {
		switch n.Kind {
		case NodeSection:
			s.Sections++
		case NodeConcept:
			s.Concepts++
		}
	}
	if s.Nodes > 1 {
		s.Density = float64(s.Edges) / float64(s.Nodes*(s.Nodes-1))
	}
	if s.Nodes > 0 {
		seen := g.reach(0, -1, g.adjacency())
		s.Connected = len(seen) == s.Nodes
	}
	return s
}

// reach walks the undirected projection breadth-first up to maxDepth hops
// (unbounded when negative) and returns each reached node's depth.
func (g *Graph) reach(start NodeID, maxDepth int, adj [][]neighbor) map[NodeID]int {
	seen := map[NodeID]int{start: 0}
	queue := []NodeID{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if maxDepth >= 0 && seen[cur] >= maxDepth {
			continue
		}
		for _, nb := range adj[cur] {
			if _, ok := seen[nb.id]; ok {
				continue
			}
			seen[nb.id] = seen[cur] + 1
			queue = append(queue, nb.id)
		}
	}
	return seen
}

// RelatedSections lists sections within depth hops of sectionKey, through
// shared concepts or references, nearest first.
func (g *Graph) RelatedSections(sectionKey string, depth int) []SectionRef {
	g.mu.RLock()
	defer g.mu.RUnlock()

	start, ok := g.byKey[sectionKey]
	if !ok {
		return nil
	}
	if depth <= 0 {
		depth = DefaultRelatedDepth
	}
	seen := g.reach(start, depth, g.adjacency())
	ids := make([]NodeID, 0, len(seen))
	for id := range seen {
		if id != start && g.nodes[id].Kind == NodeSection {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if seen[ids[i]] != seen[ids[j]] {
			return seen[ids[i]] < seen[ids[j]]
		}
		return ids[i] < ids[j]
	})
	out := make([]SectionRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, sectionRef(g.nodes[id]))
	}
	return out
}

// PrerequisitePath is the shortest undirected path between two sections,
// as node keys from start to goal inclusive.
func (g *Graph) PrerequisitePath(fromKey, toKey string) ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	from, ok := g.byKey[fromKey]
	if !ok {
		return nil, false
	}
	to, ok := g.byKey[toKey]
	if !ok {
		return nil, false
	}
	if from == to {
		return []string{fromKey}, true
	}
	adj := g.adjacency()
	prev := map[NodeID]NodeID{from: from}
	queue := []NodeID{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range adj[cur] {
			if _, ok := prev[nb.id]; ok {
				continue
			}
			prev[nb.id] = cur
			if nb.id == to {
				return g.walkBack(prev, from, to), true
			}
			queue = append(queue, nb.id)
		}
	}
	return nil, false
}

func (g *Graph) walkBack(prev map[NodeID]NodeID, from, to NodeID) []string {
	var rev []string
	for cur := to; ; cur = prev[cur] {
		rev = append(rev, g.nodes[cur].Key)
		if cur == from {
			break
		}
	}
	out := make([]string, len(rev))
	for i, k := range rev {
		out[len(rev)-1-i] = k
	}
	return out
}
