package util

import "strings"

// SanitizeText removes bytes and control characters that Postgres text columns reject
// (NUL from some PDF extractors) and normalizes line endings to "\n".
func SanitizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		switch {
		case ch == '\n' || ch == '\t':
			b.WriteRune(ch)
		case ch < 0x20, ch == 0x7f, ch == '�':
			continue
		default:
			b.WriteRune(ch)
		}
	}
	return strings.TrimSpace(b.String())
}
