package toc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chapterflow/internal/models"
	"chapterflow/internal/providers"
)

type stubLLM struct {
	reply    string
	err      error
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *stubLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	if s.err != nil {
		return providers.GenerateResponse{}, providers.ProviderInfo{Name: "stub"}, s.err
	}
	return providers.GenerateResponse{Text: s.reply}, providers.ProviderInfo{Name: "stub"}, nil
}

func sampleTOC(n int) models.TOC {
	toc := models.TOC{Chapter: 3, Title: "Materials"}
	for i := 0; i < n; i++ {
		toc.Sections = append(toc.Sections, models.Section{
			ID: "3." + string(rune('1'+i)), Title: "Section", Type: models.SectionTeachingText, ContentPriority: models.PriorityHigh,
		})
	}
	return toc
}

func TestExpandWithFailingOracleDefaultsEveryField(t *testing.T) {
	e := NewExpander(&stubLLM{err: errors.New("connection refused")}, ExpanderOptions{})
	out, report := e.Expand(context.Background(), sampleTOC(4), "raw text")

	assert.Equal(t, ExpandReport{Sections: 4, Defaulted: 4}, report)
	for _, s := range out.Sections {
		assert.NotNil(t, s.KeyConcepts)
		assert.Empty(t, s.KeyConcepts)
		assert.NotNil(t, s.LearningObjectives)
		assert.NotNil(t, s.RelatedActivities)
		assert.Equal(t, "beginner", s.DifficultyLevel)
		assert.Equal(t, "understand", s.CognitiveLevel)
	}
}

func TestExpandAppliesOracleMetadata(t *testing.T) {
	reply := "```json\n" + `{"expanded_description":"Kinds of materials.","key_concepts":["Wood","metal","wood"],"learning_objectives":["Sort objects"],"difficulty_level":"Intermediate","cognitive_level":"apply","related_activities":["activity_3.1"]}` + "\n```"
	in := sampleTOC(2)
	out, report := NewExpander(&stubLLM{reply: reply}, ExpanderOptions{}).Expand(context.Background(), in, "raw")

	assert.Equal(t, 2, report.Enriched)
	s := out.Sections[0]
	assert.Equal(t, []string{"Wood", "metal"}, s.KeyConcepts)
	assert.Equal(t, "intermediate", s.DifficultyLevel)
	assert.Equal(t, "apply", s.CognitiveLevel)
	assert.Equal(t, "Kinds of materials.", s.ExpandedDescription)
	assert.Nil(t, in.Sections[0].KeyConcepts, "input must not be mutated")
}

func TestExpandDefaultsInvalidFieldsIndependently(t *testing.T) {
	reply := `{"key_concepts":["density"],"difficulty_level":"expert","cognitive_level":"memorise"}`
	out, report := NewExpander(&stubLLM{reply: reply}, ExpanderOptions{}).Expand(context.Background(), sampleTOC(1), "raw")

	assert.Equal(t, 1, report.Partial)
	s := out.Sections[0]
	assert.Equal(t, []string{"density"}, s.KeyConcepts)
	assert.Equal(t, "beginner", s.DifficultyLevel)
	assert.Equal(t, "understand", s.CognitiveLevel)
	assert.Equal(t, []string{}, s.LearningObjectives)
}

func TestExpandGarbageReplyIsDefaulted(t *testing.T) {
	_, report := NewExpander(&stubLLM{reply: "I cannot help with that."}, ExpanderOptions{}).Expand(context.Background(), sampleTOC(2), "raw")
	assert.Equal(t, 2, report.Defaulted)
}

func TestExpandBoundsConcurrency(t *testing.T) {
	llm := &stubLLM{reply: `{}`}
	_, report := NewExpander(llm, ExpanderOptions{Concurrency: 2}).Expand(context.Background(), sampleTOC(7), "raw")
	require.Equal(t, 7, report.Sections)
	assert.LessOrEqual(t, llm.peak.Load(), int32(2))
}

func TestExpandWithMockProvider(t *testing.T) {
	in := sampleTOC(1)
	in.Sections[0].Title = "Properties of Metals"
	out, report := NewExpander(providers.NewMockProvider(8), ExpanderOptions{}).Expand(context.Background(), in, "Metals conduct heat.")
	assert.Equal(t, 1, report.Enriched)
	assert.Equal(t, []string{"properties", "metals"}, out.Sections[0].KeyConcepts)
}

func TestSectionExcerptStartsAtAnchor(t *testing.T) {
	raw := "intro words. Anchor begins here and continues."
	assert.Equal(t, "Anchor begins here and continues.", sectionExcerpt(raw, "Anchor begins"))
	assert.Equal(t, raw, sectionExcerpt(raw, "not present"))
}
