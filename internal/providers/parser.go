package providers

import "strings"

// ProviderRef is one entry of a provider list such as "openai:work|ollama".
// KeyAlias selects a per-alias API key or model override.
type ProviderRef struct {
	Raw      string
	Name     string
	KeyAlias string
}

var mockRef = ProviderRef{Raw: "mock", Name: "mock"}

// ParseProviderList accepts "|" or "," separators. Names are lower-cased and
// repeated entries are dropped. An empty list means the mock provider.
func ParseProviderList(raw string) []ProviderRef {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == '|' || r == ',' })
	out := make([]ProviderRef, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		name, alias, _ := strings.Cut(f, ":")
		out = append(out, ProviderRef{
			Raw:      f,
			Name:     strings.ToLower(strings.TrimSpace(name)),
			KeyAlias: strings.TrimSpace(alias),
		})
	}
	if len(out) == 0 {
		out = append(out, mockRef)
	}
	return out
}
