package rank

import (
	"math"
	"sort"

	"github.com/a-marczewski/mnemo/internal/memory"
)

// EmbeddingRanker scores candidates by cosine similarity against a query
// vector.
type EmbeddingRanker struct{}

// NewEmbeddingRanker returns a cosine-similarity ranker.
func NewEmbeddingRanker() *EmbeddingRanker {
	return &EmbeddingRanker{}
}

// Rank scores candidates against the query vector. Candidates without an
// embedding, or with a mismatched dimension, are excluded entirely rather
// than scored zero, so they cannot drag down a fused ranking.
func (r *EmbeddingRanker) Rank(queryVec []float32, candidates []*memory.Memory, limit int) []Scored {
	if len(queryVec) == 0 {
		return nil
	}
	scored := make([]Scored, 0, len(candidates))
	for _, mem := range candidates {
		if len(mem.Embedding) != len(queryVec) {
			continue
		}
		scored = append(scored, Scored{
			Memory: mem,
			Score:  CosineSimilarity(queryVec, mem.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// CosineSimilarity returns the cosine of the angle between two equal-length
// vectors, or 0 when either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
