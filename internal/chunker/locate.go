package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"chapterflow/internal/models"
)

type MatchStrategy string

const (
	StrategyAnchor        MatchStrategy = "anchor"
	StrategyNumeral       MatchStrategy = "numeral"
	StrategyTitle         MatchStrategy = "title"
	StrategyTitlePrefix   MatchStrategy = "title_prefix"
	StrategyEqualDivision MatchStrategy = "equal_division"
)

const (
	anchorPrefixRunes = 50
	minAnchorRunes    = 10
)

// locator tries to find a section start at or after from. ok=false hands
// over to the next tier.
type locator struct {
	strategy MatchStrategy
	attempt  func(text string, s models.Section, from int) (pos int, ok bool)
}

var locators = []locator{
	{StrategyAnchor, byAnchor},
	{StrategyNumeral, byNumeral},
	{StrategyTitle, byTitle},
	{StrategyTitlePrefix, byTitlePrefix},
}

var numericID = regexp.MustCompile(`^\d+(?:\.\d+)*$`)

// locate never fails: when every tier misses, the section gets the start of
// its equal 1/n slice of the text.
func locate(text string, s models.Section, idx, count, from int) (int, MatchStrategy) {
	if from <= len(text) {
		for _, l := range locators {
			if pos, ok := l.attempt(text, s, from); ok {
				return pos, l.strategy
			}
		}
	}
	return equalDivision(text, idx, count, from), StrategyEqualDivision
}

func byAnchor(text string, s models.Section, from int) (int, bool) {
	a := []rune(strings.TrimSpace(s.AnchorText))
	if len(a) <= minAnchorRunes {
		return 0, false
	}
	if len(a) > anchorPrefixRunes {
		a = a[:anchorPrefixRunes]
	}
	i := strings.Index(text[from:], string(a))
	if i < 0 {
		return 0, false
	}
	return from + i, true
}

func byNumeral(text string, s models.Section, from int) (int, bool) {
	id := strings.TrimPrefix(s.ID, "activity_")
	if !numericID.MatchString(id) {
		return 0, false
	}
	q := regexp.QuoteMeta(id)
	patterns := []string{
		`(?i)\b` + q + `\s`,
		`(?i)Activity\s+` + q + `\b`,
		`(?i)\b` + q + `:`,
		`(?i)\b` + q + `\.`,
	}
	best := -1
	for _, p := range patterns {
		loc := regexp.MustCompile(p).FindStringIndex(text[from:])
		if loc != nil && (best < 0 || loc[0] < best) {
			best = loc[0]
		}
	}
	if best < 0 {
		return 0, false
	}
	return from + best, true
}

func byTitle(text string, s models.Section, from int) (int, bool) {
	return findWords(text, strings.Fields(s.Title), from)
}

func byTitlePrefix(text string, s models.Section, from int) (int, bool) {
	words := strings.Fields(s.Title)
	if len(words) < 2 {
		return 0, false
	}
	if len(words) > 3 {
		words = words[:3]
	}
	return findWords(text, words, from)
}

// findWords matches words case-insensitively with any whitespace between them.
func findWords(text string, words []string, from int) (int, bool) {
	if len(words) == 0 {
		return 0, false
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	re, err := regexp.Compile(`(?i)` + strings.Join(quoted, `\s+`))
	if err != nil {
		return 0, false
	}
	loc := re.FindStringIndex(text[from:])
	if loc == nil {
		return 0, false
	}
	return from + loc[0], true
}

func equalDivision(text string, idx, count, from int) int {
	if count <= 0 {
		count = 1
	}
	pos := idx * len(text) / count
	if pos < from {
		pos = from
	}
	if pos > len(text) {
		pos = len(text)
	}
	for pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos++
	}
	return pos
}
