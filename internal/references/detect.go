package references

import (
	"regexp"
	"sort"
	"unicode/utf8"

	"chapterflow/internal/models"
	"chapterflow/internal/util"
)

const (
	contextWindow         = 100
	implicitContextWindow = 150
)

type family struct {
	typ      models.ReferenceType
	patterns []*regexp.Regexp
}

// families is checked in order; every explicit pattern captures the raw
// target in group 1.
var families = []family{
	{models.RefActivity, compile(
		`(?i)\bactivity\s+(\d+(?:\.\d+)?)`,
		`(?i:\bactivity)\s+([A-Z])\b`,
		`(?i)\bexercise\s+(\d+(?:\.\d+)?)`,
	)},
	{models.RefSection, compile(
		`(?i)\bsection\s+(\d+\.\d+)`,
		`(?i)\bsec\.\s*(\d+\.\d+)`,
	)},
	{models.RefChapter, compile(
		`(?i)\bchapter\s+(\d+)`,
		`(?i)\bch\.\s*(\d+)`,
	)},
	{models.RefFigure, compile(
		`(?i)\bfigure\s+(\d+(?:\.\d+)?)`,
		`(?i)\bfig\.\s*(\d+(?:\.\d+)?)`,
	)},
	{models.RefTable, compile(
		`(?i)\btable\s+(\d+(?:\.\d+)?)`,
		`(?i)\btab\.\s*(\d+(?:\.\d+)?)`,
	)},
	{models.RefPage, compile(
		`(?i)\bpage\s+(\d+)`,
	)},
	{models.RefImplicit, compile(
		`(?i)\bas\s+(?:we\s+)?(?:saw|discussed|learned|learnt|mentioned)\s+(?:earlier|before|previously|above)`,
		`(?i)\b(?:recall|remember)\s+(?:that|from)`,
		`(?i)\b(?:refer|referring)\s+(?:back\s+)?to`,
		`(?i)\bas\s+(?:noted|stated|explained)\s+(?:earlier|before|previously|above)`,
	)},
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// Detect scans every chunk. Chunks without references are absent from the map.
// A chunk's own chapter number wins over the fallback chapter.
func Detect(chunks []models.Chunk, chapter int) map[int][]models.Reference {
	out := map[int][]models.Reference{}
	for _, c := range chunks {
		ch := c.Metadata.Chapter
		if ch <= 0 {
			ch = chapter
		}
		if refs := DetectText(c.Content, ch, c.ID); len(refs) > 0 {
			out[c.ID] = refs
		}
	}
	return out
}

type match struct {
	typ        models.ReferenceType
	start, end int
	raw        string
}

// DetectText returns the references found in text ordered by position.
// Overlapping matches of one type are reported once.
func DetectText(text string, chapter, sourceID int) []models.Reference {
	var matches []match
	for _, f := range families {
		var found []match
		for _, re := range f.patterns {
			for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
				m := match{typ: f.typ, start: loc[0], end: loc[1]}
				if len(loc) >= 4 && loc[2] >= 0 {
					m.raw = text[loc[2]:loc[3]]
				}
				if !overlaps(found, m) {
					found = append(found, m)
				}
			}
		}
		matches = append(matches, found...)
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].start < matches[j].start })

	refs := make([]models.Reference, 0, len(matches))
	for _, m := range matches {
		window := contextWindow
		if m.typ == models.RefImplicit {
			window = implicitContextWindow
		}
		refs = append(refs, models.Reference{
			Type:               m.typ,
			SourceID:           sourceID,
			TargetID:           Normalize(m.typ, m.raw, chapter),
			ReferenceText:      text[m.start:m.end],
			Context:            contextAround(text, m.start, m.end, window),
			Position:           utf8.RuneCountInString(text[:m.start]),
			Chapter:            chapter,
			RequiresResolution: m.typ == models.RefImplicit,
		})
	}
	return refs
}

func overlaps(found []match, m match) bool {
	for _, f := range found {
		if m.start < f.end && f.start < m.end {
			return true
		}
	}
	return false
}

// contextAround takes window runes either side of [start,end) and collapses whitespace.
func contextAround(text string, start, end, window int) string {
	lo := start
	for n := 0; n < window && lo > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(text[:lo])
		lo -= size
	}
	hi := end
	for n := 0; n < window && hi < len(text); n++ {
		_, size := utf8.DecodeRuneInString(text[hi:])
		hi += size
	}
	return util.NormalizeWhitespace(text[lo:hi])
}
