package utils

import (
	"fmt"
	"math"
	"sort"
)

// dotProduct calculates the dot product of two vectors.
func dotProduct(vec1, vec2 []float32) (float32, error) {
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension")
	}
	var product float32
	for i := range vec1 {
		product += vec1[i] * vec2[i]
	}
	return product, nil
}

// magnitude calculates the L2 norm (magnitude) of a vector.
func magnitude(vec []float32) float32 {
	var sumOfSquares float32
	for _, val := range vec {
		sumOfSquares += val * val
	}
	return float32(math.Sqrt(float64(sumOfSquares)))
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	dot, err := dotProduct(vec1, vec2)
	if err != nil {
		return 0, err
	}

	mag1 := magnitude(vec1)
	mag2 := magnitude(vec2)

	if mag1 == 0 || mag2 == 0 {
		return 0, nil
	}

	return dot / (mag1 * mag2), nil
}

// Scored pairs an index into some candidate slice with its similarity score.
type Scored struct {
	Index int
	Score float32
}

// RankBySimilarity scores every candidate against the query vector and
// returns the indices of the best matches, highest score first, bounded by
// limit. Candidates with mismatched or missing embeddings are skipped.
func RankBySimilarity(query []float32, candidates [][]float32, limit int) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for i, candidate := range candidates {
		if len(candidate) == 0 {
			continue
		}
		score, err := CosineSimilarity(query, candidate)
		if err != nil {
			continue
		}
		scored = append(scored, Scored{Index: i, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
