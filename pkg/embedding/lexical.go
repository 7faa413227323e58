package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
)

// LexicalEmbedder produces fixed-dimension vectors from BM25 term
// scores with feature hashing. It is the fallback when no neural
// embedding service is reachable: no semantic understanding, but
// reasonable results for exact term overlap.
//
// Generate is a pure function of its input and the corpus statistics
// loaded via Train: the same text always embeds to the same vector, so
// fingerprint-keyed cache entries stay valid. Train is optional; an
// untrained embedder scores every term with the smoothed default IDF.
type LexicalEmbedder struct {
	dimensions int
	k1         float64 // term frequency saturation, typically 1.2-2.0
	b          float64 // length normalization, typically 0.75

	mu             sync.RWMutex
	docCount       int
	avgDocLength   float64
	termDocCount   map[string]int
	totalDocLength int
}

// LexicalConfig configures the lexical embedder.
type LexicalConfig struct {
	// Dimensions is the output embedding dimension (default: 384).
	Dimensions int

	// K1 controls term frequency saturation (default: 1.5).
	K1 float64

	// B controls document length normalization (default: 0.75).
	B float64
}

// NewLexicalEmbedder creates a BM25-based embedder.
func NewLexicalEmbedder(cfg LexicalConfig) *LexicalEmbedder {
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.K1 == 0 {
		cfg.K1 = 1.5
	}
	if cfg.B == 0 {
		cfg.B = 0.75
	}

	return &LexicalEmbedder{
		dimensions:   cfg.Dimensions,
		k1:           cfg.K1,
		b:            cfg.B,
		termDocCount: make(map[string]int),
	}
}

// Generate creates lexical embeddings for the given texts.
func (l *LexicalEmbedder) Generate(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	embeddings := make([][]float32, len(texts))

	for i, text := range texts {
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		tokens := Tokenize(text)
		if len(tokens) == 0 {
			embeddings[i] = make([]float32, l.dimensions)
			continue
		}

		termFreq := make(map[string]int, len(tokens))
		for _, token := range tokens {
			termFreq[token]++
		}

		embeddings[i] = l.scoreVector(termFreq, len(tokens))
	}

	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings.
func (l *LexicalEmbedder) Dimensions() int {
	return l.dimensions
}

// Model returns the model identifier.
func (l *LexicalEmbedder) Model() string {
	return fmt.Sprintf("bm25-k%.1f-b%.2f", l.k1, l.b)
}

// Close releases resources (no-op).
func (l *LexicalEmbedder) Close() error {
	return nil
}

// Train folds a corpus into the IDF and document length statistics.
// Query-side Generate calls never touch them.
func (l *LexicalEmbedder) Train(texts []string) {
	for _, text := range texts {
		if tokens := Tokenize(text); len(tokens) > 0 {
			l.updateStats(tokens)
		}
	}
}

// updateStats folds one document into the corpus statistics.
func (l *LexicalEmbedder) updateStats(tokens []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.docCount++
	l.totalDocLength += len(tokens)
	l.avgDocLength = float64(l.totalDocLength) / float64(l.docCount)

	seen := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		if !seen[token] {
			l.termDocCount[token]++
			seen[token] = true
		}
	}
}

// scoreVector hashes each term to a dimension and accumulates its BM25
// score, then L2-normalizes for cosine similarity compatibility.
func (l *LexicalEmbedder) scoreVector(termFreq map[string]int, docLength int) []float32 {
	vector := make([]float32, l.dimensions)

	l.mu.RLock()
	defer l.mu.RUnlock()

	avgDocLen := l.avgDocLength
	if avgDocLen == 0 {
		avgDocLen = float64(docLength)
	}

	for term, tf := range termFreq {
		idf := l.idf(term)

		// BM25(t,d) = IDF(t) * (tf * (k1+1)) / (tf + k1 * (1 - b + b*|d|/avgdl))
		numerator := float64(tf) * (l.k1 + 1)
		denominator := float64(tf) + l.k1*(1-l.b+l.b*(float64(docLength)/avgDocLen))

		dim := l.hashTerm(term)
		vector[dim] += float32(idf * numerator / denominator)
	}

	l2Normalize(vector)
	return vector
}

// idf computes the Robertson-Sparck Jones inverse document frequency,
// clamped to a small positive value. Caller holds at least a read lock.
func (l *LexicalEmbedder) idf(term string) float64 {
	if l.docCount == 0 {
		return 1.0
	}

	df := l.termDocCount[term]
	if df == 0 {
		df = 1 // smoothing for unseen terms
	}

	idf := math.Log((float64(l.docCount-df) + 0.5) / (float64(df) + 0.5))
	if idf < 0.01 {
		idf = 0.01
	}
	return idf
}

// hashTerm maps a term to a dimension using FNV-1a.
func (l *LexicalEmbedder) hashTerm(term string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(term))
	return int(h.Sum32() % uint32(l.dimensions))
}

func l2Normalize(vector []float32) {
	var sumSquares float64
	for _, v := range vector {
		sumSquares += float64(v * v)
	}

	if sumSquares == 0 {
		return
	}

	norm := math.Sqrt(sumSquares)
	for i := range vector {
		vector[i] /= float32(norm)
	}
}
