package toc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chapterflow/internal/models"
	"chapterflow/internal/providers"
)

func TestOracleExtractorValidatesReply(t *testing.T) {
	reply := `{"sections":[
		{"id":"3.1","title":"Kinds of Materials","type":"Teaching Text","content_priority":"HIGH","start_text":"Materials around us"},
		{"id":"3.1","title":"Duplicate","type":"activity"},
		{"id":"","title":"No id"},
		{"id":"activity_3.1","title":"Record materials","type":"lab","content_priority":"urgent"}
	]}`
	x := NewOracleExtractor(&stubLLM{reply: reply}, nil, 0, nil)
	toc, err := x.Extract(context.Background(), activityChapter, models.ChapterInfo{Number: 3, Title: "Materials"})
	require.NoError(t, err)
	require.Len(t, toc.Sections, 2)
	assert.Equal(t, models.SectionTeachingText, toc.Sections[0].Type)
	assert.Equal(t, models.PriorityHigh, toc.Sections[0].ContentPriority)
	assert.Equal(t, "Materials around us", toc.Sections[0].AnchorText)
	assert.Equal(t, models.SectionTeachingText, toc.Sections[1].Type)
	assert.Equal(t, models.PriorityMedium, toc.Sections[1].ContentPriority)
}

func TestOracleExtractorFallsBackToHeuristic(t *testing.T) {
	for name, llm := range map[string]providers.LLMProvider{
		"error": &stubLLM{err: errors.New("timeout")},
		"empty": providers.NewMockProvider(8),
		"junk":  &stubLLM{reply: "no json here"},
	} {
		t.Run(name, func(t *testing.T) {
			toc, err := NewOracleExtractor(llm, nil, 0, nil).Extract(context.Background(), activityChapter, models.ChapterInfo{Number: 3})
			require.NoError(t, err)
			require.Len(t, toc.Sections, 3)
			assert.Equal(t, "activity_3.1", toc.Sections[1].ID)
		})
	}
}
