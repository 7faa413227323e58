package embedding

import (
	"math"
	"strings"
	"unicode"
)

// CosineSimilarity computes the cosine similarity between two vectors.
//
// Returns a value in [-1, 1]: 1 for identical direction, 0 for
// orthogonal, -1 for opposite. Mismatched lengths yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}

	if magA == 0.0 || magB == 0.0 {
		return 0.0
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// Tokenize splits text into lowercase alphanumeric tokens, dropping
// tokens shorter than two runes.
func Tokenize(text string) []string {
	text = strings.ToLower(text)

	var tokens []string
	var current strings.Builder
	runeCount := 0

	flush := func() {
		if runeCount >= 2 {
			tokens = append(tokens, current.String())
		}
		current.Reset()
		runeCount = 0
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			_, _ = current.WriteRune(r)
			runeCount++
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

// TokenSetSimilarity computes the Jaccard similarity of the token sets
// of two texts: |A ∩ B| / |A ∪ B|, in [0, 1]. Two empty texts are
// considered identical.
func TokenSetSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for token := range setA {
		if setB[token] {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(text string) map[string]bool {
	tokens := Tokenize(text)
	set := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		set[token] = true
	}
	return set
}
