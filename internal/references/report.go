package references

import (
	"fmt"
	"sort"
	"strings"

	"chapterflow/internal/models"
	"chapterflow/internal/util"
)

const (
	samplesPerChunk = 2
	samplesTotal    = 10
)

// Report renders totals, a per-type breakdown (most frequent first) and a few samples.
func Report(refs map[int][]models.Reference) string {
	total := Count(refs)
	if total == 0 {
		return "No references detected."
	}
	counts := map[models.ReferenceType]int{}
	for _, list := range refs {
		for _, r := range list {
			counts[r.Type]++
		}
	}
	types := make([]models.ReferenceType, 0, len(counts))
	for _, t := range models.ReferenceTypes {
		if counts[t] > 0 {
			types = append(types, t)
		}
	}
	sort.SliceStable(types, func(i, j int) bool { return counts[types[i]] > counts[types[j]] })

	rule := strings.Repeat("=", 60)
	thin := strings.Repeat("-", 60)
	var b strings.Builder
	b.WriteString(rule + "\nCROSS-REFERENCE REPORT\n" + rule + "\n")
	fmt.Fprintf(&b, "Chunks with references: %d\nTotal references: %d\n", len(refs), total)
	b.WriteString(thin + "\nBY TYPE\n" + thin + "\n")
	for _, t := range types {
		fmt.Fprintf(&b, "  %s: %d\n", t, counts[t])
	}
	b.WriteString(thin + "\nSAMPLES\n" + thin + "\n")

	sources := make([]int, 0, len(refs))
	for id := range refs {
		sources = append(sources, id)
	}
	sort.Ints(sources)
	shown := 0
	for _, id := range sources {
		for i, r := range refs[id] {
			if i == samplesPerChunk || shown == samplesTotal {
				break
			}
			target := r.Target()
			if target == "" {
				target = "(unresolved)"
			}
			fmt.Fprintf(&b, "  chunk %d: %s -> %s %q\n    %s\n", id, r.Type, target, r.ReferenceText, util.DisplaySnippet(r.Context, 100))
			shown++
		}
		if shown == samplesTotal {
			break
		}
	}
	b.WriteString(rule + "\n")
	return b.String()
}
