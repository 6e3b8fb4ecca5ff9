package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"chapterflow/internal/models"
)

type edgeKey struct {
	from, to NodeID
	kind     EdgeKind
}

type pendingKey struct {
	from, target string
}

// Graph is an append-only arena of section and concept nodes shared by every
// chapter of a textbook. Merges take the write lock; queries read a
// consistent view under the read lock.
type Graph struct {
	mu sync.RWMutex

	nodes []Node
	edges []Edge

	byKey     map[string]NodeID
	edgeIndex map[edgeKey]int
	pending   map[pendingKey]int
	// pendingOrder keeps pending refs in arrival order for snapshots.
	pendingOrder []pendingKey
	// chapters maps each merged chapter number to the document it came from.
	chapters map[int]string
}

// ErrChapterConflict means a different document already owns the chapter
// number being merged.
var ErrChapterConflict = errors.New("chapter number already merged from another document")

func New() *Graph {
	return &Graph{
		byKey:     map[string]NodeID{},
		edgeIndex: map[edgeKey]int{},
		pending:   map[pendingKey]int{},
		chapters:  map[int]string{},
	}
}

// Build creates a graph holding a single chapter.
func Build(toc models.TOC, chunks []models.Chunk, refs map[int][]models.Reference) *Graph {
	g := New()
	_, _ = g.Merge(ChapterInput{TOC: toc, Chunks: chunks, References: refs})
	return g
}

// Merge adds one chapter. Nodes and edges are never removed or renumbered;
// merging the same document a second time changes nothing and returns an
// empty Delta. A different document under an already merged chapter number
// is rejected with ErrChapterConflict and leaves the graph untouched.
func (g *Graph) Merge(in ChapterInput) (Delta, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	chapter := in.TOC.Chapter
	d := Delta{Chapter: chapter, Source: in.Source}
	if owner, ok := g.chapters[chapter]; ok {
		if owner != in.Source {
			return Delta{}, fmt.Errorf("merge chapter %d from %q (owned by %q): %w", chapter, in.Source, owner, ErrChapterConflict)
		}
		return d, nil
	}
	g.chapters[chapter] = in.Source

	touched := map[int]bool{}
	added := map[string]bool{}

	for _, s := range in.TOC.Sections {
		key := SectionKey(chapter, s.ID)
		if _, ok := g.byKey[key]; ok {
			continue
		}
		n := g.addNode(Node{
			Kind:        NodeSection,
			Key:         key,
			Label:       s.Title,
			Chapter:     chapter,
			SectionID:   s.ID,
			SectionType: s.Type,
		})
		d.NewNodes = append(d.NewNodes, n)
		added[key] = true
	}

	for _, s := range in.TOC.Sections {
		from := g.byKey[SectionKey(chapter, s.ID)]
		for _, c := range s.KeyConcepts {
			canon := CanonicalName(c)
			if canon == "" {
				continue
			}
			ck := conceptKey(canon)
			to, ok := g.byKey[ck]
			if !ok {
				n := g.addNode(Node{Kind: NodeConcept, Key: ck, Label: strings.TrimSpace(c)})
				d.NewNodes = append(d.NewNodes, n)
				to = n.ID
			}
			ek := edgeKey{from: from, to: to, kind: EdgeCovers}
			if _, ok := g.edgeIndex[ek]; ok {
				continue
			}
			touched[g.addEdge(ek, 1)] = true
		}
	}

	// Earlier chapters may have been waiting for these sections.
	for _, pk := range g.pendingOrder {
		if !added[pk.target] {
			continue
		}
		count := g.pending[pk]
		touched[g.bumpReference(pk.from, pk.target, count)] = true
		d.PendingResolved = append(d.PendingResolved, PendingRef{FromKey: pk.from, TargetKey: pk.target, Count: count})
	}
	if len(d.PendingResolved) > 0 {
		g.dropPending(added)
	}

	sectionOf := make(map[int]string, len(in.Chunks))
	for _, c := range in.Chunks {
		sectionOf[c.ID] = c.SectionID
	}
	for _, pair := range referenceCounts(chapter, sectionOf, in.References) {
		if _, ok := g.byKey[pair.target]; ok {
			touched[g.bumpReference(pair.from, pair.target, pair.count)] = true
			continue
		}
		pk := pendingKey{from: pair.from, target: pair.target}
		if _, ok := g.pending[pk]; !ok {
			g.pendingOrder = append(g.pendingOrder, pk)
		}
		g.pending[pk] += pair.count
		d.PendingAdded = append(d.PendingAdded, PendingRef{FromKey: pair.from, TargetKey: pair.target, Count: pair.count})
	}

	idx := make([]int, 0, len(touched))
	for i := range touched {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		d.Edges = append(d.Edges, g.edges[i])
	}
	return d, nil
}

func (g *Graph) addNode(n Node) Node {
	n.ID = NodeID(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.byKey[n.Key] = n.ID
	return n
}

func (g *Graph) addEdge(k edgeKey, w float64) int {
	i := len(g.edges)
	g.edges = append(g.edges, Edge{From: k.from, To: k.to, Kind: k.kind, Weight: w})
	g.edgeIndex[k] = i
	return i
}

func (g *Graph) bumpReference(fromKey, targetKey string, count int) int {
	k := edgeKey{from: g.byKey[fromKey], to: g.byKey[targetKey], kind: EdgeReferences}
	if i, ok := g.edgeIndex[k]; ok {
		g.edges[i].Weight += float64(count)
		return i
	}
	return g.addEdge(k, float64(count))
}

func (g *Graph) dropPending(resolvedTargets map[string]bool) {
	kept := g.pendingOrder[:0]
	for _, pk := range g.pendingOrder {
		if resolvedTargets[pk.target] {
			delete(g.pending, pk)
			continue
		}
		kept = append(kept, pk)
	}
	g.pendingOrder = kept
}

type refCount struct {
	from, target string
	count        int
}

// referenceCounts aggregates chunk-level activity and section references
// into section pairs, in order of first appearance.
func referenceCounts(chapter int, sectionOf map[int]string, refs map[int][]models.Reference) []refCount {
	sources := make([]int, 0, len(refs))
	for id := range refs {
		sources = append(sources, id)
	}
	sort.Ints(sources)

	var out []refCount
	at := map[pendingKey]int{}
	for _, src := range sources {
		sectionID, ok := sectionOf[src]
		if !ok {
			continue
		}
		from := SectionKey(chapter, sectionID)
		for _, r := range refs[src] {
			target, ok := referenceTargetKey(r)
			if !ok || target == from {
				continue
			}
			pk := pendingKey{from: from, target: target}
			if i, ok := at[pk]; ok {
				out[i].count++
				continue
			}
			at[pk] = len(out)
			out = append(out, refCount{from: from, target: target, count: 1})
		}
	}
	return out
}

// Chapters returns the merged chapter numbers in ascending order.
func (g *Graph) Chapters() []int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.chapterList()
}

func (g *Graph) chapterList() []int {
	out := make([]int, 0, len(g.chapters))
	for ch := range g.chapters {
		out = append(out, ch)
	}
	sort.Ints(out)
	return out
}

func (g *Graph) HasChapter(chapter int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.chapters[chapter]
	return ok
}

func (g *Graph) Section(key string) (SectionRef, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.byKey[key]
	if !ok || g.nodes[id].Kind != NodeSection {
		return SectionRef{}, false
	}
	return sectionRef(g.nodes[id]), true
}

func (g *Graph) Pending() []PendingRef {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pendingList()
}

func (g *Graph) pendingList() []PendingRef {
	out := make([]PendingRef, 0, len(g.pendingOrder))
	for _, pk := range g.pendingOrder {
		out = append(out, PendingRef{FromKey: pk.from, TargetKey: pk.target, Count: g.pending[pk]})
	}
	return out
}

func sectionRef(n Node) SectionRef {
	return SectionRef{Key: n.Key, Chapter: n.Chapter, SectionID: n.SectionID, Title: n.Label, Type: n.SectionType}
}
