// Package rank implements in-memory cosine-similarity ranking.
//
// The ranker is pure: no I/O, no randomness. Candidates with a nil or empty
// vector are excluded before scoring, never scored as zero, and exact score
// ties keep the original candidate order (stable sort) so identical inputs
// always produce identical output.
package rank

import (
	"math"
	"sort"

	"github.com/google/uuid"
)

// Candidate pairs an article identifier with its stored embedding.
type Candidate struct {
	ID     uuid.UUID
	Vector []float32
}

// Scored is a ranked candidate. Score is cosine similarity in [-1, 1].
type Scored struct {
	ID    uuid.UUID
	Score float64
}

// TopK scores candidates against the query vector and returns up to topK
// results sorted by descending similarity. The result length is
// min(topK, number of candidates with a usable vector); an all-excluded
// candidate set yields an empty result, not an error.
func TopK(query []float32, candidates []Candidate, topK int) []Scored {
	if topK <= 0 || len(query) == 0 {
		return nil
	}

	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) == 0 {
			continue
		}
		scored = append(scored, Scored{ID: c.ID, Score: Cosine(query, c.Vector)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// Cosine returns the cosine similarity of a and b: dot(a,b) / (|a|*|b|).
// Accumulation is in float64; embeddings arrive as float32 and near-tie
// ordering is unstable at single precision. Mismatched lengths or a zero
// vector yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
