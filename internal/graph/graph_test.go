package graph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chapterflow/internal/models"
)

func ptr(s string) *string { return &s }

func chapterOne() ChapterInput {
	return ChapterInput{
		Source: "ch1.pdf",
		TOC: models.TOC{Chapter: 1, Title: "Life Processes", Sections: []models.Section{
			{ID: "1.1", Title: "Nutrition", Type: models.SectionTeachingText, KeyConcepts: []string{"Photosynthesis", "chlorophyll"}},
			{ID: "activity_1.1", Title: "Activity 1.1", Type: models.SectionActivity, KeyConcepts: []string{"photosynthesis"}},
		}},
		Chunks: []models.Chunk{
			{ID: 1, SectionID: "1.1"},
			{ID: 2, SectionID: "activity_1.1"},
		},
		References: map[int][]models.Reference{
			1: {{Type: models.RefSection, SourceID: 1, TargetID: ptr("1.1"), Chapter: 1}},
		},
	}
}

func chapterTwo() ChapterInput {
	return ChapterInput{
		Source: "ch2.pdf",
		TOC: models.TOC{Chapter: 2, Title: "Plants", Sections: []models.Section{
			{ID: "2.1", Title: "Leaves", Type: models.SectionTeachingText, KeyConcepts: []string{" PHOTOSYNTHESIS "}},
		}},
		Chunks: []models.Chunk{{ID: 1, SectionID: "2.1"}},
		References: map[int][]models.Reference{
			1: {
				{Type: models.RefActivity, SourceID: 1, TargetID: ptr("activity_1.1"), Chapter: 2},
				{Type: models.RefActivity, SourceID: 1, TargetID: ptr("activity_1.1"), Chapter: 2},
				{Type: models.RefFigure, SourceID: 1, TargetID: ptr("fig_1_2"), Chapter: 2},
				{Type: models.RefImplicit, SourceID: 1, Chapter: 2},
			},
		},
	}
}

func mustMerge(t *testing.T, g *Graph, in ChapterInput) Delta {
	t.Helper()
	d, err := g.Merge(in)
	require.NoError(t, err)
	return d
}

func keys(refs []SectionRef) []string {
	var out []string
	for _, r := range refs {
		out = append(out, r.Key)
	}
	return out
}

func referenceWeight(t *testing.T, g *Graph, from, to string) float64 {
	t.Helper()
	s := g.Snapshot()
	byKey := map[string]NodeID{}
	for _, n := range s.Nodes {
		byKey[n.Key] = n.ID
	}
	for _, e := range s.Edges {
		if e.Kind == EdgeReferences && e.From == byKey[from] && e.To == byKey[to] {
			return e.Weight
		}
	}
	return 0
}

func TestSharedConceptAcrossChapters(t *testing.T) {
	g := New()
	mustMerge(t, g, chapterOne())
	mustMerge(t, g, chapterTwo())

	var concepts []Node
	for _, n := range g.Snapshot().Nodes {
		if n.Kind == NodeConcept && n.Key == "concept:photosynthesis" {
			concepts = append(concepts, n)
		}
	}
	require.Len(t, concepts, 1)
	assert.Equal(t, "Photosynthesis", concepts[0].Label)

	assert.Equal(t, []string{"1/1.1", "1/activity_1.1", "2/2.1"}, keys(g.FindSectionsByConcept("photosynthesis")))
}

func TestStats(t *testing.T) {
	g := New()
	mustMerge(t, g, chapterOne())
	mustMerge(t, g, chapterTwo())

	s := g.Stats()
	assert.Equal(t, 5, s.Nodes)
	assert.Equal(t, 5, s.Edges)
	assert.Equal(t, 3, s.Sections)
	assert.Equal(t, 2, s.Concepts)
	assert.Equal(t, 2, s.Chapters)
	assert.Zero(t, s.Pending)
	assert.InDelta(t, 0.25, s.Density, 1e-9)
	assert.True(t, s.Connected)
}

func TestEmptyGraphStats(t *testing.T) {
	s := New().Stats()
	assert.Zero(t, s.Nodes)
	assert.Zero(t, s.Density)
	assert.False(t, s.Connected)
}

func TestReferenceEdgesOnlyForSectionTargets(t *testing.T) {
	g := New()
	mustMerge(t, g, chapterOne())
	d := mustMerge(t, g, chapterTwo())

	assert.Equal(t, 2.0, referenceWeight(t, g, "2/2.1", "1/activity_1.1"))
	assert.Empty(t, d.PendingAdded)

	// the self reference in chapter one produced nothing
	assert.Zero(t, referenceWeight(t, g, "1/1.1", "1/1.1"))
}

func TestMergeOrderIndependence(t *testing.T) {
	forward := New()
	mustMerge(t, forward, chapterOne())
	mustMerge(t, forward, chapterTwo())

	backward := New()
	d2 := mustMerge(t, backward, chapterTwo())
	require.Len(t, d2.PendingAdded, 1)
	assert.Equal(t, PendingRef{FromKey: "2/2.1", TargetKey: "1/activity_1.1", Count: 2}, d2.PendingAdded[0])
	assert.Equal(t, 1, backward.Stats().Pending)

	d1 := mustMerge(t, backward, chapterOne())
	require.Len(t, d1.PendingResolved, 1)
	assert.Empty(t, backward.Pending())

	assert.Equal(t, forward.Stats(), backward.Stats())
	assert.Equal(t, referenceWeight(t, forward, "2/2.1", "1/activity_1.1"), referenceWeight(t, backward, "2/2.1", "1/activity_1.1"))
	assert.ElementsMatch(t, keys(forward.FindSectionsByConcept("photosynthesis")), keys(backward.FindSectionsByConcept("photosynthesis")))
}

func TestMergeIsAppendOnly(t *testing.T) {
	g := New()
	mustMerge(t, g, chapterOne())
	before := g.Snapshot()

	mustMerge(t, g, chapterTwo())
	after := g.Snapshot()

	require.GreaterOrEqual(t, len(after.Nodes), len(before.Nodes))
	assert.Equal(t, before.Nodes, after.Nodes[:len(before.Nodes)])
	require.GreaterOrEqual(t, len(after.Edges), len(before.Edges))
	for i, e := range before.Edges {
		assert.Equal(t, e.From, after.Edges[i].From)
		assert.Equal(t, e.To, after.Edges[i].To)
		assert.Equal(t, e.Kind, after.Edges[i].Kind)
	}
}

func TestRemergeIsNoop(t *testing.T) {
	g := New()
	mustMerge(t, g, chapterOne())
	stats := g.Stats()

	d := mustMerge(t, g, chapterOne())
	assert.True(t, d.Empty())
	assert.Equal(t, 1, d.Chapter)
	assert.Equal(t, stats, g.Stats())
}

func TestMergeRejectsOtherDocumentWithSameNumber(t *testing.T) {
	g := New()
	mustMerge(t, g, chapterOne())
	before := g.Snapshot()

	other := ChapterInput{
		Source: "glossary.pdf",
		TOC: models.TOC{Chapter: 1, Sections: []models.Section{
			{ID: "1.1", Title: "Animals"},
			{ID: "1.2", Title: "Habitats"},
		}},
	}
	d, err := g.Merge(other)
	require.ErrorIs(t, err, ErrChapterConflict)
	assert.True(t, d.Empty())
	assert.Equal(t, before, g.Snapshot())
	_, ok := g.Section("1/1.2")
	assert.False(t, ok)

	// the owning document can still be re-merged after a restore
	restored, err := Restore(g.Snapshot())
	require.NoError(t, err)
	assert.True(t, mustMerge(t, restored, chapterOne()).Empty())
	_, err = restored.Merge(other)
	assert.ErrorIs(t, err, ErrChapterConflict)
}

func TestDeltaListsNewNodesAndEdges(t *testing.T) {
	g := New()
	mustMerge(t, g, chapterOne())
	d := mustMerge(t, g, chapterTwo())

	var newKeys []string
	for _, n := range d.NewNodes {
		newKeys = append(newKeys, n.Key)
	}
	assert.Equal(t, []string{"2/2.1"}, newKeys)
	require.Len(t, d.Edges, 2)
	assert.Equal(t, EdgeCovers, d.Edges[0].Kind)
	assert.Equal(t, EdgeReferences, d.Edges[1].Kind)
	assert.Equal(t, 2.0, d.Edges[1].Weight)
}

func TestMostImportantSections(t *testing.T) {
	toc := models.TOC{Chapter: 3, Sections: []models.Section{
		{ID: "3.1", Title: "Edge", KeyConcepts: []string{"a"}},
		{ID: "3.2", Title: "Hub", KeyConcepts: []string{"a", "b", "c"}},
		{ID: "3.3", Title: "Other edge", KeyConcepts: []string{"c"}},
	}}
	g := Build(toc, nil, nil)

	ranked := g.MostImportantSections(2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "3/3.2", ranked[0].Key)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
	assert.Equal(t, "3/3.1", ranked[1].Key)
}

func TestMostImportantSectionsTiesKeepInsertionOrder(t *testing.T) {
	toc := models.TOC{Chapter: 1, Sections: []models.Section{
		{ID: "1.3", Title: "C"},
		{ID: "1.1", Title: "A"},
		{ID: "1.2", Title: "B"},
	}}
	g := Build(toc, nil, nil)

	assert.Equal(t, []string{"1/1.3", "1/1.1", "1/1.2"}, keys(sectionRefs(g.MostImportantSections(10))))
	assert.Nil(t, g.MostImportantSections(0))
}

func sectionRefs(in []RankedSection) []SectionRef {
	out := make([]SectionRef, len(in))
	for i, r := range in {
		out[i] = r.SectionRef
	}
	return out
}

func TestFindSectionsByConceptSubstring(t *testing.T) {
	toc := models.TOC{Chapter: 4, Sections: []models.Section{
		{ID: "4.1", Title: "Cells", KeyConcepts: []string{"cell membrane"}},
		{ID: "4.2", Title: "Walls", KeyConcepts: []string{"Cell_Wall"}},
		{ID: "4.3", Title: "Energy", KeyConcepts: []string{"energy"}},
	}}
	g := Build(toc, nil, nil)

	assert.Equal(t, []string{"4/4.1", "4/4.2"}, keys(g.FindSectionsByConcept("cell")))
	assert.Equal(t, []string{"4/4.2"}, keys(g.FindSectionsByConcept("cell-wall")))
	assert.Empty(t, g.FindSectionsByConcept("mitochondria"))
	assert.Empty(t, g.FindSectionsByConcept("  "))
}

func TestRelatedSections(t *testing.T) {
	g := New()
	mustMerge(t, g, chapterOne())
	mustMerge(t, g, chapterTwo())

	assert.Equal(t, []string{"1/activity_1.1"}, keys(g.RelatedSections("2/2.1", 1)))
	assert.Equal(t, []string{"1/activity_1.1", "1/1.1"}, keys(g.RelatedSections("2/2.1", 2)))
	assert.Nil(t, g.RelatedSections("9/9.9", 2))
}

func TestPrerequisitePath(t *testing.T) {
	g := New()
	mustMerge(t, g, chapterOne())
	mustMerge(t, g, chapterTwo())

	path, ok := g.PrerequisitePath("1/1.1", "2/2.1")
	require.True(t, ok)
	assert.Equal(t, []string{"1/1.1", "concept:photosynthesis", "2/2.1"}, path)

	path, ok = g.PrerequisitePath("1/1.1", "1/1.1")
	require.True(t, ok)
	assert.Equal(t, []string{"1/1.1"}, path)

	_, ok = g.PrerequisitePath("1/1.1", "missing")
	assert.False(t, ok)
}

func TestPrerequisitePathDisconnected(t *testing.T) {
	g := Build(models.TOC{Chapter: 1, Sections: []models.Section{{ID: "1.1"}, {ID: "1.2"}}}, nil, nil)
	_, ok := g.PrerequisitePath("1/1.1", "1/1.2")
	assert.False(t, ok)
	assert.False(t, g.Stats().Connected)
}

func TestSnapshotRestore(t *testing.T) {
	g := New()
	mustMerge(t, g, chapterTwo())
	mustMerge(t, g, chapterOne())

	restored, err := Restore(g.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, g.Stats(), restored.Stats())
	assert.Equal(t, g.DOT(), restored.DOT())
	assert.True(t, restored.HasChapter(1))
	assert.Equal(t, []int{1, 2}, restored.Chapters())

	// restored graphs keep merging as usual
	d := mustMerge(t, restored, chapterOne())
	assert.True(t, d.Empty())
}

func TestRestorePendingThenResolve(t *testing.T) {
	g := New()
	mustMerge(t, g, chapterTwo())

	restored, err := Restore(g.Snapshot())
	require.NoError(t, err)
	d := mustMerge(t, restored, chapterOne())
	require.Len(t, d.PendingResolved, 1)
	assert.Equal(t, 2.0, referenceWeight(t, restored, "2/2.1", "1/activity_1.1"))
}

func TestRestoreRejectsBadSnapshots(t *testing.T) {
	_, err := Restore(Snapshot{Nodes: []Node{{ID: 1, Key: "x"}}})
	assert.Error(t, err)

	_, err = Restore(Snapshot{Nodes: []Node{{ID: 0, Key: "x"}}, Edges: []Edge{{From: 0, To: 3}}})
	assert.Error(t, err)
}

func TestDOT(t *testing.T) {
	g := New()
	mustMerge(t, g, chapterOne())

	dot := g.DOT()
	assert.Contains(t, dot, "digraph chapterflow {")
	assert.Contains(t, dot, `label="Photosynthesis", shape=ellipse`)
	assert.Contains(t, dot, `label="Nutrition", shape=box`)
	assert.Contains(t, dot, `[label="covers", weight=1, style=dashed]`)
}

func TestConcurrentMergeAndRead(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	for ch := 1; ch <= 8; ch++ {
		wg.Add(2)
		go func(ch int) {
			defer wg.Done()
			_, _ = g.Merge(ChapterInput{TOC: models.TOC{Chapter: ch, Sections: []models.Section{
				{ID: "x", KeyConcepts: []string{"shared"}},
			}}})
		}(ch)
		go func() {
			defer wg.Done()
			_ = g.Stats()
			_ = g.MostImportantSections(3)
		}()
	}
	wg.Wait()

	s := g.Stats()
	assert.Equal(t, 9, s.Nodes)
	assert.Len(t, g.FindSectionsByConcept("shared"), 8)
	assert.True(t, s.Connected)
}
