package chunker

import (
	"regexp"
	"strings"

	"chapterflow/internal/toc"
	"chapterflow/internal/util"
)

var definitionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Z][a-z]+\s+is\s+(?:a|an|the)\s+[a-z]+`),
	regexp.MustCompile(`[A-Z][a-z]+\s+refers\s+to`),
	regexp.MustCompile(`[A-Z][a-z]+\s+means`),
	regexp.MustCompile(`We\s+(?:define|call)\s+[a-z]+\s+as`),
	regexp.MustCompile(`The\s+definition\s+of`),
}

func isDefinition(para string) bool {
	for _, re := range definitionPatterns {
		if re.MatchString(para) {
			return true
		}
	}
	return false
}

// segmenter accumulates paragraphs into chunks between minSize and maxSize
// runes. Paragraphs holding a definition are never split.
type segmenter struct {
	minSize, maxSize int

	chunks []string
	cur    strings.Builder
	curLen int
}

const (
	paraSep     = "\n\n"
	sentenceSep = " "
)

func segment(span string, minSize, maxSize int) []string {
	s := &segmenter{minSize: minSize, maxSize: maxSize}
	for _, p := range toc.Paragraphs(span) {
		s.add(p)
	}
	s.finish()
	return s.chunks
}

func (s *segmenter) add(p string) {
	plen := util.RuneLen(p)
	if s.curLen == 0 {
		s.startWith(p, plen)
		return
	}
	if s.curLen+len(paraSep)+plen <= s.maxSize {
		s.append(p, plen, paraSep)
		return
	}
	switch {
	case isDefinition(p):
		if s.curLen < s.minSize && len(s.chunks) > 0 {
			s.mergeIntoPrevious()
		} else {
			s.flush()
		}
		s.startWith(p, plen)
	case s.curLen >= s.minSize:
		s.flush()
		s.startWith(p, plen)
	default:
		s.fold(p)
	}
}

// startWith opens a chunk with p. An oversize non-definition paragraph is
// packed by sentences; its last piece stays open.
func (s *segmenter) startWith(p string, plen int) {
	if plen <= s.maxSize || isDefinition(p) {
		s.append(p, plen, "")
		return
	}
	pieces := packSentences(util.SplitSentences(p), s.maxSize)
	if len(pieces) == 0 {
		return
	}
	s.chunks = append(s.chunks, pieces[:len(pieces)-1]...)
	last := pieces[len(pieces)-1]
	s.append(last, util.RuneLen(last), "")
}

// fold tops up a short open chunk with leading sentences of p, then closes it.
func (s *segmenter) fold(p string) {
	sentences := util.SplitSentences(p)
	taken := 0
	for _, sent := range sentences {
		l := util.RuneLen(sent)
		sep := sentenceSep
		if taken == 0 {
			sep = paraSep
		}
		if s.curLen+len(sep)+l > s.maxSize {
			break
		}
		s.append(sent, l, sep)
		taken++
	}
	s.flush()
	if rest := strings.Join(sentences[taken:], sentenceSep); rest != "" {
		s.startWith(rest, util.RuneLen(rest))
	}
}

func (s *segmenter) append(p string, plen int, sep string) {
	if p == "" {
		return
	}
	if s.curLen > 0 {
		s.cur.WriteString(sep)
		s.curLen += len(sep)
	}
	s.cur.WriteString(p)
	s.curLen += plen
}

func (s *segmenter) take() string {
	out := strings.TrimSpace(s.cur.String())
	s.cur.Reset()
	s.curLen = 0
	return out
}

func (s *segmenter) flush() {
	if s.curLen > 0 {
		s.chunks = append(s.chunks, s.take())
	}
}

func (s *segmenter) mergeIntoPrevious() {
	last := len(s.chunks) - 1
	s.chunks[last] += paraSep + s.take()
}

func (s *segmenter) finish() {
	if s.curLen == 0 {
		return
	}
	if s.curLen < s.minSize && len(s.chunks) > 0 {
		s.mergeIntoPrevious()
		return
	}
	s.flush()
}

// packSentences greedily groups sentences into pieces of at most maxSize
// runes; a single longer sentence is cut into rune windows.
func packSentences(sentences []string, maxSize int) []string {
	var out []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, sent := range sentences {
		l := util.RuneLen(sent)
		if l > maxSize {
			flush()
			for _, w := range util.SplitRuneWindows(sent, maxSize) {
				if w = strings.TrimSpace(w); w != "" {
					out = append(out, w)
				}
			}
			continue
		}
		if curLen > 0 && curLen+1+l > maxSize {
			flush()
		}
		if curLen > 0 {
			cur.WriteString(" ")
			curLen++
		}
		cur.WriteString(sent)
		curLen += l
	}
	flush()
	return out
}
