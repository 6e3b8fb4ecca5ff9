package util

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitSentences splits on terminal punctuation followed by whitespace.
// Abbreviation-level accuracy is not attempted.
func SplitSentences(s string) []string {
	out := make([]string, 0, 8)
	start := 0
	for i, r := range s {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		next := i + utf8.RuneLen(r)
		if next < len(s) {
			nr, _ := utf8.DecodeRuneInString(s[next:])
			if !unicode.IsSpace(nr) {
				continue
			}
		}
		if part := strings.TrimSpace(s[start:next]); part != "" {
			out = append(out, part)
		}
		start = next
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// Truncate cuts s to at most maxRunes runes, appending "..." when it had to cut.
func Truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:maxRunes])) + "..."
}

// SplitRuneWindows cuts text into pieces of at most size runes, preferring to cut
// after whitespace in the second half of a window. Joining the pieces reproduces text.
func SplitRuneWindows(text string, size int) []string {
	if size <= 0 {
		size = 800
	}
	runes := []rune(text)
	out := make([]string, 0, len(runes)/size+1)
	for len(runes) > 0 {
		if len(runes) <= size {
			out = append(out, string(runes))
			break
		}
		cut := size
		for i := size - 1; i >= size/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i + 1
				break
			}
		}
		out = append(out, string(runes[:cut]))
		runes = runes[cut:]
	}
	return out
}

// DisplaySnippet returns a single-line, whitespace-normalized snippet of at most maxRunes.
func DisplaySnippet(s string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = 420
	}
	return Truncate(NormalizeWhitespace(SanitizeText(s)), maxRunes)
}

// EvidenceSnippet picks the sentence(s) of text that share the most terms with query.
func EvidenceSnippet(text, query string, maxRunes int) string {
	text = NormalizeWhitespace(SanitizeText(text))
	if text == "" {
		return ""
	}
	terms := meaningfulTerms(query)
	sentences := SplitSentences(text)
	if len(terms) == 0 || len(sentences) == 0 {
		return DisplaySnippet(text, maxRunes)
	}

	type scored struct {
		sentence string
		score    int
	}
	list := make([]scored, 0, len(sentences))
	for _, s := range sentences {
		low := strings.ToLower(s)
		score := 0
		for _, term := range terms {
			if strings.Contains(low, term) {
				score++
			}
		}
		list = append(list, scored{sentence: s, score: score})
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].score > list[j].score
	})
	best := list[0].sentence
	if len(list) > 1 && list[1].score > 0 {
		best += " " + list[1].sentence
	}
	return DisplaySnippet(best, maxRunes)
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "to": {}, "of": {}, "in": {}, "on": {},
	"for": {}, "is": {}, "are": {}, "was": {}, "were": {}, "what": {}, "how": {}, "why": {},
	"which": {}, "that": {}, "this": {}, "these": {}, "those": {}, "with": {}, "from": {},
	"does": {}, "do": {}, "can": {}, "we": {}, "us": {}, "let": {},
}

func meaningfulTerms(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	seen := map[string]struct{}{}
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ",.;:!?()[]{}\"'`")
		if len(f) < 3 {
			continue
		}
		if _, ok := stopWords[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
