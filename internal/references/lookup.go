package references

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"chapterflow/internal/models"
)

var captionLine = regexp.MustCompile(`(?i)^\s*(fig(?:ure)?\.?|table|tab\.)\s*(\d+(?:\.\d+)?)\b`)

// DocumentIndex resolves references against one chapter's own material:
// sections and activities via their chunks, pages via the raw pages,
// figures and tables via caption lines, and the chapter itself.
type DocumentIndex struct {
	chapter  int
	title    string
	sections map[string]string
	pages    map[string]string
	captions map[string]string
}

func NewDocumentIndex(doc models.RawDocument, toc models.TOC, chunks []models.Chunk) *DocumentIndex {
	idx := &DocumentIndex{
		chapter:  toc.Chapter,
		title:    toc.Title,
		sections: map[string]string{},
		pages:    map[string]string{},
		captions: map[string]string{},
	}

	ordered := append([]models.Chunk(nil), chunks...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	parts := map[string][]string{}
	for _, c := range ordered {
		parts[c.SectionID] = append(parts[c.SectionID], c.Content)
	}
	for id, p := range parts {
		idx.sections[id] = strings.Join(p, "\n\n")
	}

	for _, p := range doc.Pages {
		idx.pages[fmt.Sprintf("page_%d", p.Number)] = p.Text
	}

	for _, line := range strings.Split(doc.FullText, "\n") {
		m := captionLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		typ := models.RefFigure
		if strings.HasPrefix(strings.ToLower(m[1]), "tab") {
			typ = models.RefTable
		}
		if id := Normalize(typ, m[2], toc.Chapter); id != nil {
			if _, exists := idx.captions[*id]; !exists {
				idx.captions[*id] = strings.TrimSpace(line)
			}
		}
	}
	return idx
}

func (d *DocumentIndex) Lookup(_ context.Context, ref models.Reference) (string, bool, error) {
	if ref.TargetID == nil {
		return "", false, nil
	}
	target := *ref.TargetID
	var content string
	var ok bool
	switch ref.Type {
	case models.RefActivity, models.RefSection:
		content, ok = d.sections[target]
	case models.RefPage:
		content, ok = d.pages[target]
	case models.RefFigure, models.RefTable:
		content, ok = d.captions[target]
	case models.RefChapter:
		if target == fmt.Sprintf("chapter_%d", d.chapter) {
			content, ok = strings.TrimSpace(fmt.Sprintf("Chapter %d %s", d.chapter, d.title)), true
		}
	case models.RefImplicit:
	}
	return content, ok, nil
}
