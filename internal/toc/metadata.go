package toc

import (
	"encoding/json"
	"strings"

	"chapterflow/internal/models"
)

var (
	difficultyLevels = map[string]bool{"beginner": true, "intermediate": true, "advanced": true}
	bloomLevels      = map[string]bool{
		"remember": true, "understand": true, "apply": true,
		"analyze": true, "evaluate": true, "create": true,
	}
)

// sectionMetadata is the oracle reply. Pointer fields tell "absent" apart
// from "present but empty".
type sectionMetadata struct {
	ExpandedDescription *string   `json:"expanded_description"`
	KeyConcepts         *[]string `json:"key_concepts"`
	LearningObjectives  *[]string `json:"learning_objectives"`
	DifficultyLevel     *string   `json:"difficulty_level"`
	CognitiveLevel      *string   `json:"cognitive_level"`
	RelatedActivities   *[]string `json:"related_activities"`
}

type outcome int

const (
	outcomeDefaulted outcome = iota
	outcomePartial
	outcomeEnriched
)

func parseMetadata(raw string) (sectionMetadata, error) {
	var md sectionMetadata
	err := json.Unmarshal([]byte(jsonObject(raw)), &md)
	return md, err
}

// apply copies every valid field onto s and reports how many of the five
// pedagogical fields were usable. Invalid fields are left for the defaults.
func (md sectionMetadata) apply(s *models.Section) outcome {
	valid := 0
	if md.KeyConcepts != nil {
		s.KeyConcepts = cleanSet(*md.KeyConcepts)
		valid++
	}
	if md.LearningObjectives != nil {
		s.LearningObjectives = cleanList(*md.LearningObjectives)
		valid++
	}
	if md.DifficultyLevel != nil {
		if d := strings.ToLower(strings.TrimSpace(*md.DifficultyLevel)); difficultyLevels[d] {
			s.DifficultyLevel = d
			valid++
		}
	}
	if md.CognitiveLevel != nil {
		if c := strings.ToLower(strings.TrimSpace(*md.CognitiveLevel)); bloomLevels[c] {
			s.CognitiveLevel = c
			valid++
		}
	}
	if md.RelatedActivities != nil {
		s.RelatedActivities = cleanSet(*md.RelatedActivities)
		valid++
	}
	if md.ExpandedDescription != nil {
		s.ExpandedDescription = strings.TrimSpace(*md.ExpandedDescription)
	}
	s.ApplyMetadataDefaults()
	switch valid {
	case 5:
		return outcomeEnriched
	case 0:
		return outcomeDefaulted
	default:
		return outcomePartial
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// cleanSet keeps first-seen order and drops case-insensitive duplicates.
func cleanSet(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range cleanList(in) {
		k := strings.ToLower(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}
