package references

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chapterflow/internal/models"
)

func TestDetectFigure(t *testing.T) {
	refs := DetectText("See Figure 3.2 for details", 3, 7)
	require.Len(t, refs, 1)
	r := refs[0]
	assert.Equal(t, models.RefFigure, r.Type)
	require.NotNil(t, r.TargetID)
	assert.Equal(t, "fig_3_2", *r.TargetID)
	assert.Equal(t, "Figure 3.2", r.ReferenceText)
	assert.Equal(t, 4, r.Position)
	assert.Equal(t, 7, r.SourceID)
	assert.False(t, r.RequiresResolution)
}

func TestDetectImplicit(t *testing.T) {
	refs := DetectText("As we discussed earlier, plants need light.", 1, 2)
	require.Len(t, refs, 1)
	assert.Equal(t, models.RefImplicit, refs[0].Type)
	assert.Nil(t, refs[0].TargetID)
	assert.True(t, refs[0].RequiresResolution)
}

func TestDetectAllFamiliesInOrder(t *testing.T) {
	text := "Do Activity 2 and Exercise 4.3, then read Section 4.1 of Chapter 5. " +
		"Compare Fig. 4.7 with Tab. 2 on page 12. Recall that heat flows."
	refs := DetectText(text, 4, 1)

	var got []string
	for _, r := range refs {
		got = append(got, string(r.Type)+"="+r.Target())
	}
	assert.Equal(t, []string{
		"activity=activity_4.2",
		"activity=activity_4.3",
		"section=4.1",
		"chapter=chapter_5",
		"figure=fig_4_7",
		"table=table_2",
		"page=page_12",
		"implicit=",
	}, got)
	for i := 1; i < len(refs); i++ {
		assert.Less(t, refs[i-1].Position, refs[i].Position)
	}
}

func TestDetectLetteredActivity(t *testing.T) {
	refs := DetectText("Try Activity B at home.", 2, 1)
	require.Len(t, refs, 1)
	assert.Equal(t, "activity_2.B", refs[0].Target())
}

func TestPositionCountsRunes(t *testing.T) {
	refs := DetectText("Température — voir Figure 1.1", 1, 1)
	require.Len(t, refs, 1)
	assert.Equal(t, len([]rune("Température — voir ")), refs[0].Position)
}

func TestContextIsWindowedAndNormalized(t *testing.T) {
	text := strings.Repeat("a ", 200) + "see   Table 1.1\n\nnow" + strings.Repeat(" b", 200)
	refs := DetectText(text, 1, 1)
	require.Len(t, refs, 1)
	assert.NotContains(t, refs[0].Context, "  ")
	assert.Contains(t, refs[0].Context, "see Table 1.1 now")
	assert.LessOrEqual(t, len([]rune(refs[0].Context)), 100+len("Table 1.1")+100)
}

func TestDetectKeysByChunkAndSkipsEmpty(t *testing.T) {
	chunks := []models.Chunk{
		{ID: 1, Content: "Nothing here."},
		{ID: 2, Content: "Look at Figure 2.", Metadata: models.ChunkMetadata{Chapter: 6}},
	}
	refs := Detect(chunks, 1)
	require.Len(t, refs, 1)
	assert.Equal(t, "fig_2", refs[2][0].Target())
	assert.Equal(t, 6, refs[2][0].Chapter)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	cases := []struct {
		typ models.ReferenceType
		raw string
	}{
		{models.RefActivity, "3.1"},
		{models.RefActivity, "4"},
		{models.RefFigure, "3.2"},
		{models.RefTable, "1.1"},
		{models.RefChapter, "2"},
		{models.RefPage, "7"},
		{models.RefSection, "5.3"},
	}
	for _, c := range cases {
		once := Normalize(c.typ, c.raw, 3)
		require.NotNil(t, once)
		twice := Normalize(c.typ, *once, 3)
		require.NotNil(t, twice)
		assert.Equal(t, *once, *twice, "%s %s", c.typ, c.raw)
	}
	assert.Equal(t, "activity_3.1", *Normalize(models.RefActivity, "activity_3.1", 9))
	assert.Equal(t, "activity_3.4", *Normalize(models.RefActivity, "4", 3))
	assert.Nil(t, Normalize(models.RefImplicit, "anything", 3))
	assert.Nil(t, Normalize("bogus", "1", 3))
}

func TestReverseIndex(t *testing.T) {
	fig := "fig_1_1"
	act := "activity_1.1"
	refs := map[int][]models.Reference{
		5: {{TargetID: &fig}, {TargetID: &fig}, {TargetID: &act}},
		2: {{TargetID: &fig}, {Type: models.RefImplicit}},
	}
	idx := ReverseIndex(refs)
	assert.Equal(t, map[string][]int{fig: {2, 5}, act: {5}}, idx)
}

func TestResolveAllWithDocumentIndex(t *testing.T) {
	doc := models.RawDocument{
		Pages:    []models.Page{{Number: 12, Text: "page twelve text"}},
		FullText: "Intro\nFigure 4.7 A magnet attracting pins\nBody text",
	}
	toc := models.TOC{Chapter: 4, Title: "Magnets"}
	chunks := []models.Chunk{
		{ID: 1, SectionID: "4.1", ChunkIndex: 0, Content: "first"},
		{ID: 2, SectionID: "4.1", ChunkIndex: 1, Content: "second"},
	}
	refs := Detect([]models.Chunk{{ID: 9, Content: "Section 4.1, Fig. 4.7, page 12, Chapter 4, Figure 9.9 and as noted earlier."}}, 4)
	res := ResolveAll(context.Background(), refs, NewDocumentIndex(doc, toc, chunks))

	resolved := map[string]string{}
	for _, r := range res.Resolved {
		resolved[r.Reference.Target()] = r.Content
	}
	assert.Equal(t, "first\n\nsecond", resolved["4.1"])
	assert.Equal(t, "Figure 4.7 A magnet attracting pins", resolved["fig_4_7"])
	assert.Equal(t, "page twelve text", resolved["page_12"])
	assert.Equal(t, "Chapter 4 Magnets", resolved["chapter_4"])
	require.Len(t, res.Dangling, 1)
	assert.Equal(t, "fig_9_9", res.Dangling[0].Target())
	require.Len(t, res.Unresolvable, 1)
}

func TestChainLookupAndErrors(t *testing.T) {
	target := "activity_2.1"
	ref := models.Reference{Type: models.RefActivity, TargetID: &target}
	failing := LookupFunc(func(ctx context.Context, r models.Reference) (string, bool, error) {
		return "", false, errors.New("db down")
	})
	found := LookupFunc(func(ctx context.Context, r models.Reference) (string, bool, error) {
		return "activity body", true, nil
	})

	content, ok, err := Resolve(context.Background(), ref, ChainLookup{failing, found})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "activity body", content)

	_, ok, err = Resolve(context.Background(), ref, ChainLookup{failing})
	assert.False(t, ok)
	assert.Error(t, err)

	res := ResolveAll(context.Background(), map[int][]models.Reference{1: {ref, ref}}, failing)
	assert.Len(t, res.Dangling, 2)
}

func TestReport(t *testing.T) {
	assert.Equal(t, "No references detected.", Report(nil))

	refs := Detect([]models.Chunk{
		{ID: 1, Content: "Figure 1.1, Figure 1.2, Figure 1.3 and Activity 1.1"},
		{ID: 2, Content: "Recall that Table 1.1 lists them."},
	}, 1)
	r := Report(refs)
	assert.Contains(t, r, "Total references: 6")
	assert.Contains(t, r, "Chunks with references: 2")
	assert.Less(t, strings.Index(r, "figure: 3"), strings.Index(r, "activity: 1"))
	assert.Equal(t, 2, strings.Count(r, "chunk 1:"))
	assert.Contains(t, r, "(unresolved)")
}
