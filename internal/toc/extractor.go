package toc

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"chapterflow/internal/models"
	"chapterflow/internal/util"
)

const anchorRunes = 50

// Extractor turns a chapter's raw text into its ordered sections.
type Extractor interface {
	Extract(ctx context.Context, rawText string, info models.ChapterInfo) (models.TOC, error)
}

var (
	paragraphSplit = regexp.MustCompile(`\n\s*\n`)

	activityHeading = regexp.MustCompile(`(?i)^activity\s+(\d+(?:\.\d+)?)\b`)
	practiceHeading = regexp.MustCompile(`(?i)^(?:exercises?|questions|let\s+us\s+practi[cs]e|review(?:\s+questions)?|what\s+you\s+have\s+learnt|key\s*words)\b`)
	letUsHeading    = regexp.MustCompile(`(?i)^let\s+us\s+[a-z]+`)
	exampleHeading  = regexp.MustCompile(`(?i)^(?:example\s+(\d+(?:\.\d+)?)|worked\s+example|illustration)\b`)
	subHeading      = regexp.MustCompile(`^(\d+\.\d+(?:\.\d+)?)\s+(\p{Lu}.*)$`)
	stepLine        = regexp.MustCompile(`(?i)^(?:\d+[.)]\s|[-•*]\s|\(?[a-z]\)\s|\(?[ivx]+\)\s|step\s+\d+)`)
)

// HeuristicExtractor classifies paragraphs by their first line. It never
// fails on non-empty input: without any structural marker it returns a
// single section spanning the chapter.
type HeuristicExtractor struct{}

func NewHeuristicExtractor() *HeuristicExtractor { return &HeuristicExtractor{} }

type marker struct {
	typ   models.SectionType
	id    string
	title string
}

func (h *HeuristicExtractor) Extract(_ context.Context, rawText string, info models.ChapterInfo) (models.TOC, error) {
	if strings.TrimSpace(rawText) == "" {
		return models.TOC{}, util.ErrEmptyDocument
	}
	chapter := info.Number
	if chapter <= 0 {
		chapter = 1
	}
	toc := models.TOC{Chapter: chapter, Title: info.Title}

	b := newSectionBuilder(chapter)
	sawMarker := false
	for _, para := range Paragraphs(rawText) {
		if m, ok := classify(para, chapter, b); ok {
			sawMarker = true
			b.open(m, para)
			continue
		}
		cur := b.current()
		switch {
		case cur == nil:
			b.openText(para)
		case cur.Type == models.SectionActivity && !isStep(para):
			b.openText(para)
		}
	}
	if !sawMarker {
		return FallbackTOC(info), nil
	}
	toc.Sections = b.sections
	return toc, nil
}

// FallbackTOC is the single-section TOC used when no structure can be recovered.
func FallbackTOC(info models.ChapterInfo) models.TOC {
	chapter := info.Number
	if chapter <= 0 {
		chapter = 1
	}
	title := strings.TrimSpace(info.Title)
	if title == "" {
		title = "Main Content"
	}
	return models.TOC{
		Chapter: chapter,
		Title:   info.Title,
		Sections: []models.Section{{
			ID:              fmt.Sprintf("%d.1", chapter),
			Title:           title,
			Type:            models.SectionTeachingText,
			ContentPriority: models.PriorityHigh,
		}},
	}
}

// Paragraphs splits text on blank lines and drops empty pieces.
func Paragraphs(text string) []string {
	parts := paragraphSplit.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstLine(para string) string {
	if i := strings.IndexByte(para, '\n'); i >= 0 {
		return strings.TrimSpace(para[:i])
	}
	return strings.TrimSpace(para)
}

func isStep(para string) bool {
	return stepLine.MatchString(firstLine(para))
}

func classify(para string, chapter int, b *sectionBuilder) (marker, bool) {
	line := firstLine(para)
	title := util.Truncate(line, 120)
	if m := activityHeading.FindStringSubmatch(line); m != nil {
		return marker{typ: models.SectionActivity, id: "activity_" + qualify(m[1], chapter), title: title}, true
	}
	// practice idioms come first: "Let us practise" is not an activity
	if practiceHeading.MatchString(line) {
		return marker{typ: models.SectionPractice, id: fmt.Sprintf("practice_%d_%d", chapter, b.count(models.SectionPractice)+1), title: title}, true
	}
	if letUsHeading.MatchString(line) {
		return marker{typ: models.SectionActivity, id: fmt.Sprintf("activity_%d_%d", chapter, b.count(models.SectionActivity)+1), title: title}, true
	}
	if m := exampleHeading.FindStringSubmatch(line); m != nil {
		id := fmt.Sprintf("example_%d_%d", chapter, b.count(models.SectionExample)+1)
		if m[1] != "" {
			id = "example_" + qualify(m[1], chapter)
		}
		return marker{typ: models.SectionExample, id: id, title: title}, true
	}
	if util.RuneLen(line) <= 100 {
		if m := subHeading.FindStringSubmatch(line); m != nil && sameChapter(m[1], chapter) {
			return marker{typ: models.SectionTeachingText, id: m[1], title: strings.TrimSpace(m[2])}, true
		}
	}
	return marker{}, false
}

// qualify prefixes a bare numeral with the chapter: "2" in chapter 3 is "3.2".
func qualify(numeral string, chapter int) string {
	if strings.Contains(numeral, ".") {
		return numeral
	}
	return fmt.Sprintf("%d.%s", chapter, numeral)
}

// sameChapter rejects numbered lines like "4.5 kg of salt" from other chapters'
// numbering, which are almost always quantities.
func sameChapter(numeral string, chapter int) bool {
	head, _, _ := strings.Cut(numeral, ".")
	n, err := strconv.Atoi(head)
	return err == nil && n == chapter
}

type sectionBuilder struct {
	chapter  int
	sections []models.Section
	ids      map[string]int
	textSeq  int
	byType   map[models.SectionType]int
}

func newSectionBuilder(chapter int) *sectionBuilder {
	return &sectionBuilder{chapter: chapter, ids: map[string]int{}, byType: map[models.SectionType]int{}}
}

func (b *sectionBuilder) count(t models.SectionType) int { return b.byType[t] }

func (b *sectionBuilder) current() *models.Section {
	if len(b.sections) == 0 {
		return nil
	}
	return &b.sections[len(b.sections)-1]
}

func (b *sectionBuilder) open(m marker, para string) {
	b.byType[m.typ]++
	b.add(m, para)
}

func (b *sectionBuilder) add(m marker, para string) {
	b.sections = append(b.sections, models.Section{
		ID:              b.unique(m.id),
		Title:           m.title,
		Type:            m.typ,
		ContentPriority: models.DefaultPriority(m.typ),
		AnchorText:      anchor(para),
	})
}

// openText starts a synthetic teaching section for unmarked prose.
func (b *sectionBuilder) openText(para string) {
	b.textSeq++
	b.add(marker{
		typ:   models.SectionTeachingText,
		id:    fmt.Sprintf("text_%d_%d", b.chapter, b.textSeq),
		title: util.Truncate(firstLine(para), 60),
	}, para)
}

func (b *sectionBuilder) unique(id string) string {
	b.ids[id]++
	if n := b.ids[id]; n > 1 {
		return fmt.Sprintf("%s_%d", id, n)
	}
	return id
}

func anchor(para string) string {
	r := []rune(para)
	if len(r) > anchorRunes {
		r = r[:anchorRunes]
	}
	return string(r)
}
