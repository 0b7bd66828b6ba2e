package rerank

import (
	"errors"
	"fmt"
)

// ErrInvalidWeights is returned at construction when the factor weights do
// not sum to approximately 1.0.
var ErrInvalidWeights = errors.New("rerank: weights must sum to ~1.0")

// Weights configures the contribution of each scoring factor to the
// composite rerank score. The four weights must sum to 1.0 within ±0.01.
type Weights struct {
	Similarity float64 `json:"similarity"`
	Recency    float64 `json:"recency"`
	Hierarchy  float64 `json:"hierarchy"`
	Adjacency  float64 `json:"adjacency"`
}

// DefaultWeights favors raw similarity, with recency and hierarchy as
// secondary signals and adjacency as a small coherence bonus.
func DefaultWeights() Weights {
	return Weights{
		Similarity: 0.6,
		Recency:    0.15,
		Hierarchy:  0.15,
		Adjacency:  0.1,
	}
}

func (w Weights) validate() error {
	total := w.Similarity + w.Recency + w.Hierarchy + w.Adjacency
	if total < 0.99 || total > 1.01 {
		return fmt.Errorf("%w, got %.3f", ErrInvalidWeights, total)
	}
	return nil
}
