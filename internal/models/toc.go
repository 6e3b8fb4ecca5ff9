package models

import "strings"

type SectionType string

const (
	SectionTeachingText SectionType = "teaching_text"
	SectionActivity     SectionType = "activity"
	SectionExample      SectionType = "example"
	SectionPractice     SectionType = "practice"
)

func (t SectionType) Valid() bool {
	switch t {
	case SectionTeachingText, SectionActivity, SectionExample, SectionPractice:
		return true
	default:
		return false
	}
}

// ParseSectionType accepts loose oracle spellings ("Teaching Text", "ACTIVITY").
func ParseSectionType(raw string) (SectionType, bool) {
	t := SectionType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_"))
	return t, t.Valid()
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

func ParsePriority(raw string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(raw)))
	return p, p.Valid()
}

// DefaultPriority is the priority a section type gets when nothing better is known.
func DefaultPriority(t SectionType) Priority {
	switch t {
	case SectionTeachingText:
		return PriorityHigh
	case SectionActivity, SectionExample:
		return PriorityMedium
	case SectionPractice:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

const (
	DefaultDifficulty     = "beginner"
	DefaultCognitiveLevel = "understand"
)

type Section struct {
	ID                  string      `json:"id"`
	Title               string      `json:"title"`
	Type                SectionType `json:"type"`
	ContentPriority     Priority    `json:"content_priority"`
	AnchorText          string      `json:"anchor_text"`
	KeyConcepts         []string    `json:"key_concepts"`
	LearningObjectives  []string    `json:"learning_objectives"`
	DifficultyLevel     string      `json:"difficulty_level"`
	CognitiveLevel      string      `json:"cognitive_level"`
	RelatedActivities   []string    `json:"related_activities"`
	ExpandedDescription string      `json:"expanded_description,omitempty"`
}

// ApplyMetadataDefaults fills every pedagogical field the oracle left empty.
func (s *Section) ApplyMetadataDefaults() {
	if s.KeyConcepts == nil {
		s.KeyConcepts = []string{}
	}
	if s.LearningObjectives == nil {
		s.LearningObjectives = []string{}
	}
	if s.RelatedActivities == nil {
		s.RelatedActivities = []string{}
	}
	if s.DifficultyLevel == "" {
		s.DifficultyLevel = DefaultDifficulty
	}
	if s.CognitiveLevel == "" {
		s.CognitiveLevel = DefaultCognitiveLevel
	}
}

type TOC struct {
	Chapter  int       `json:"chapter"`
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
}

func (t TOC) IndexOf(id string) int {
	for i := range t.Sections {
		if t.Sections[i].ID == id {
			return i
		}
	}
	return -1
}

func (t TOC) SectionByID(id string) (Section, bool) {
	if i := t.IndexOf(id); i >= 0 {
		return t.Sections[i], true
	}
	return Section{}, false
}

// Clone deep-copies the TOC so stages can enrich it without aliasing the caller's slices.
func (t TOC) Clone() TOC {
	out := TOC{Chapter: t.Chapter, Title: t.Title, Sections: make([]Section, len(t.Sections))}
	for i, s := range t.Sections {
		s.KeyConcepts = cloneStrings(s.KeyConcepts)
		s.LearningObjectives = cloneStrings(s.LearningObjectives)
		s.RelatedActivities = cloneStrings(s.RelatedActivities)
		out.Sections[i] = s
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
