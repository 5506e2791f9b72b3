package textmatch

import "github.com/agext/levenshtein"

// Similarity returns an edit-distance similarity score in [0,1] between two
// strings, with a common-prefix bonus (Winkler adjustment). The bonus matters
// for near-miss digit strings: a single trailing-digit error on a five-digit
// registry number still scores above the suspicion floor instead of falling
// through to not-found.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	return levenshtein.Match(a, b, nil)
}

// BestLineSimilarity returns the highest similarity between target and any of
// the given lines, along with the index of the best line (-1 if lines is empty).
func BestLineSimilarity(target string, lines []string) (float64, int) {
	best, bestIdx := 0.0, -1
	for i, line := range lines {
		if sim := Similarity(target, line); sim > best {
			best, bestIdx = sim, i
		}
	}
	return best, bestIdx
}
