package validator

import (
	"fmt"
	"sort"
	"strings"

	"chapterflow/internal/models"
)

const topFlags = 3

// Report summarizes the flagged count and the three lowest-scoring flags.
func Report(flagged []models.ValidationResult) string {
	if len(flagged) == 0 {
		return "All chunks passed validation!"
	}
	worst := append([]models.ValidationResult(nil), flagged...)
	sort.SliceStable(worst, func(i, j int) bool { return score(worst[i]) < score(worst[j]) })
	if len(worst) > topFlags {
		worst = worst[:topFlags]
	}

	rule := strings.Repeat("=", 60)
	var b strings.Builder
	b.WriteString(rule + "\nCHUNK VALIDATION REPORT\n" + rule + "\n")
	fmt.Fprintf(&b, "Total flagged chunks: %d\n", len(flagged))
	for i, f := range worst {
		fmt.Fprintf(&b, "\n%d. Chunk ID: %d\n   TOC Section: %s\n   Reason: %s\n", i+1, f.ChunkID, f.SectionID, f.Reason)
		if f.SimilarityScore != nil {
			fmt.Fprintf(&b, "   Similarity Score: %.2f\n", *f.SimilarityScore)
		}
	}
	b.WriteString(rule + "\n")
	return b.String()
}

func score(r models.ValidationResult) float64 {
	if r.SimilarityScore == nil {
		return 1
	}
	return *r.SimilarityScore
}
