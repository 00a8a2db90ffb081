package diff

import "strings"

// DefaultSimilarityThreshold is the score at which two files count as
// near-duplicates.
const DefaultSimilarityThreshold = 0.6

// Similarity scores a and b as 1 - levenshtein(a, b) / max(len(a), len(b)),
// measured in runes. Two empty strings score 1 and a single empty side
// scores 0.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	score := 1 - float64(levenshtein(ra, rb))/float64(max(len(ra), len(rb)))
	return min(1, max(0, score))
}

// levenshtein keeps two rows of the distance table.
func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1]
			} else {
				cur[j] = 1 + min(prev[j], cur[j-1], prev[j-1])
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// SimilarLines flattens both sides as newline-terminated text and reports
// whether their similarity reaches threshold.
func SimilarLines(a, b []string, threshold float64) bool {
	return Similarity(flatten(a), flatten(b)) >= threshold
}

func flatten(lines []string) string {
	var sb strings.Builder
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return sb.String()
}
