package references

import (
	"sort"

	"chapterflow/internal/models"
)

// ReverseIndex maps each target id to the sorted, distinct chunk ids that
// point at it. References without a target are skipped.
func ReverseIndex(refs map[int][]models.Reference) map[string][]int {
	sets := map[string]map[int]struct{}{}
	for source, list := range refs {
		for _, r := range list {
			if r.TargetID == nil {
				continue
			}
			if sets[*r.TargetID] == nil {
				sets[*r.TargetID] = map[int]struct{}{}
			}
			sets[*r.TargetID][source] = struct{}{}
		}
	}
	out := make(map[string][]int, len(sets))
	for target, set := range sets {
		ids := make([]int, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		out[target] = ids
	}
	return out
}

// Flatten lists all references ordered by source chunk then position.
func Flatten(refs map[int][]models.Reference) []models.Reference {
	sources := make([]int, 0, len(refs))
	for id := range refs {
		sources = append(sources, id)
	}
	sort.Ints(sources)
	var out []models.Reference
	for _, id := range sources {
		out = append(out, refs[id]...)
	}
	return out
}

func Count(refs map[int][]models.Reference) int {
	n := 0
	for _, list := range refs {
		n += len(list)
	}
	return n
}
