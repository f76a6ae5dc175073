// Package matcher adapts library_service/internal/matcher's Levenshtein
// utilities into the search indexer's secondary ranking signal: a
// token-Jaccard overlap scorer used as the semantic-pass fallback when no
// Embedder capability is configured.
package matcher

// JaccardSimilarity returns |a ∩ b| / |a ∪ b| for two token sets, 0 when
// both are empty.
func JaccardSimilarity(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// LevenshteinDistance computes the edit distance between a and b, adapted
// from library_service/internal/matcher.LevenshteinDistance for reuse as a
// secondary fuzzy-matching signal (e.g. near-duplicate label collapsing).
func LevenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}

// LevenshteinSimilarity normalizes LevenshteinDistance to [0,1], 1 meaning
// identical strings.
func LevenshteinSimilarity(a, b string) float64 {
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}
	dist := LevenshteinDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
