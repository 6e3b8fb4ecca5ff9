package graph

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"chapterflow/internal/models"
)

var ws = regexp.MustCompile(`\s+`)

// CanonicalName is the dedup key for concepts: lower case, separators
// folded to single spaces.
func CanonicalName(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "-", " ")
	s = ws.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func SectionKey(chapter int, sectionID string) string {
	return fmt.Sprintf("%d/%s", chapter, sectionID)
}

func conceptKey(canonical string) string {
	return "concept:" + canonical
}

// referenceTargetKey maps an activity or section reference to the key of
// the section it names. The chapter comes from the numeral's leading
// component, falling back to the reference's own chapter.
func referenceTargetKey(r models.Reference) (string, bool) {
	if r.TargetID == nil {
		return "", false
	}
	target := *r.TargetID
	switch r.Type {
	case models.RefActivity, models.RefSection:
	default:
		return "", false
	}
	numeral := strings.TrimPrefix(target, "activity_")
	chapter := r.Chapter
	if head, _, ok := strings.Cut(numeral, "."); ok {
		if n, err := strconv.Atoi(head); err == nil {
			chapter = n
		}
	}
	if chapter <= 0 {
		return "", false
	}
	return SectionKey(chapter, target), true
}
