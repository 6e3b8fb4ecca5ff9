package references

import (
	"fmt"
	"strings"

	"chapterflow/internal/models"
)

// Normalize maps a raw numeral to the canonical target id. Already
// normalized ids map to themselves. Implicit references have no target.
func Normalize(t models.ReferenceType, raw string, chapter int) *string {
	raw = strings.TrimSpace(raw)
	if raw == "" && t != models.RefImplicit {
		return nil
	}
	var id string
	switch t {
	case models.RefActivity:
		n := trimPrefixFold(raw, "activity_")
		if !strings.Contains(n, ".") {
			n = fmt.Sprintf("%d.%s", chapter, n)
		}
		id = "activity_" + n
	case models.RefSection:
		id = raw
	case models.RefChapter:
		id = "chapter_" + trimPrefixFold(raw, "chapter_")
	case models.RefFigure:
		id = "fig_" + strings.ReplaceAll(trimPrefixFold(raw, "fig_"), ".", "_")
	case models.RefTable:
		id = "table_" + strings.ReplaceAll(trimPrefixFold(raw, "table_"), ".", "_")
	case models.RefPage:
		id = "page_" + trimPrefixFold(raw, "page_")
	case models.RefImplicit:
		return nil
	default:
		return nil
	}
	return &id
}

func trimPrefixFold(s, prefix string) string {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):]
	}
	return s
}
