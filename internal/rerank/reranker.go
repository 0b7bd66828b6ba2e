// Package rerank reorders similarity-search candidates with a multi-factor
// composite score and trims the result to a token budget.
//
// The composite score combines the external similarity score with recency,
// section-hierarchy importance, and neighborhood coherence:
//
//	score = similarity·w1 + recency·w2 + hierarchy·w3 + adjacency·w4
//
// Candidates scoring above a threshold pull their immediate neighbors into
// the result set at a discount, so high-confidence hits arrive with context.
// All operations are pure batch transforms; a Reranker is safe for
// concurrent use.
package rerank

import (
	"sort"
	"strings"

	"citerag/internal/chunk"
)

const (
	// AdjacencyDiscount is applied to a neighbor chunk's score when it is
	// pulled in by adjacent expansion.
	AdjacencyDiscount = 0.85

	// DefaultAdjacencyThreshold is the minimum rerank score at which a
	// candidate's neighbors are pulled into the result.
	DefaultAdjacencyThreshold = 0.7
)

// RecencyScorer computes the recency factor for one candidate against the
// whole batch. The production scorer normalizes ingestion timestamps; it is
// a replaceable strategy so deployments with no meaningful timestamps can
// pin the factor.
type RecencyScorer func(c chunk.Candidate, batch []chunk.Candidate) float64

// Reranker scores and reorders candidate batches.
type Reranker struct {
	weights Weights
	recency RecencyScorer
}

// Option is a functional option for configuring a Reranker.
type Option func(*Reranker)

// WithRecencyScorer replaces the default timestamp-normalizing recency
// strategy.
func WithRecencyScorer(s RecencyScorer) Option {
	return func(r *Reranker) {
		r.recency = s
	}
}

// New creates a Reranker. It fails fast when weights do not sum to ~1.0;
// this is the only fatal misconfiguration in the package.
func New(weights Weights, opts ...Option) (*Reranker, error) {
	if err := weights.validate(); err != nil {
		return nil, err
	}
	r := &Reranker{
		weights: weights,
		recency: NormalizedTimestampRecency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Rerank scores all candidates, sorts them descending (ties keep input
// order), expands high scorers with their neighbors, and applies the topK
// cut last. topK <= 0 means no cut. The input slice is not modified.
func (r *Reranker) Rerank(candidates []chunk.Candidate, topK int, adjacencyThreshold float64) []chunk.Candidate {
	if len(candidates) == 0 {
		return nil
	}

	scored := make([]chunk.Candidate, len(candidates))
	for i, c := range candidates {
		scored[i] = r.score(c, candidates)
	}

	sortByScore(scored)
	result := r.expandAdjacent(scored, candidates, adjacencyThreshold)
	sortByScore(result)

	if topK > 0 && len(result) > topK {
		result = result[:topK]
	}
	return result
}

func sortByScore(cands []chunk.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].RerankScore > cands[j].RerankScore
	})
}

// score computes the composite score and its breakdown for one candidate.
func (r *Reranker) score(c chunk.Candidate, batch []chunk.Candidate) chunk.Candidate {
	breakdown := chunk.ScoreBreakdown{
		Similarity: c.Score,
		Recency:    r.recency(c, batch),
		Hierarchy:  hierarchyScore(c),
		Adjacency:  adjacencyScore(c, batch),
	}

	c.RerankScore = breakdown.Similarity*r.weights.Similarity +
		breakdown.Recency*r.weights.Recency +
		breakdown.Hierarchy*r.weights.Hierarchy +
		breakdown.Adjacency*r.weights.Adjacency
	c.ScoreBreakdown = &breakdown

	return c
}

// NormalizedTimestampRecency is the default recency strategy: it normalizes
// the candidate's creation timestamp to [0,1] across the batch. It returns
// a neutral 0.5 when the candidate has no timestamp or the batch holds
// fewer than two distinct timestamps (normalization is undefined).
func NormalizedTimestampRecency(c chunk.Candidate, batch []chunk.Candidate) float64 {
	createdAt := c.Metadata.CreatedAt
	if createdAt == 0 {
		return 0.5
	}

	minTS, maxTS := int64(0), int64(0)
	seen := 0
	for _, other := range batch {
		ts := other.Metadata.CreatedAt
		if ts == 0 {
			continue
		}
		if seen == 0 || ts < minTS {
			minTS = ts
		}
		if seen == 0 || ts > maxTS {
			maxTS = ts
		}
		seen++
	}
	if seen < 2 || minTS == maxTS {
		return 0.5
	}

	score := float64(createdAt-minTS) / float64(maxTS-minTS)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// FixedRecency returns a recency strategy pinning the factor to a constant,
// for corpora where ingestion time carries no signal.
func FixedRecency(value float64) RecencyScorer {
	return func(chunk.Candidate, []chunk.Candidate) float64 {
		return value
	}
}

// hierarchyScore boosts chunks from important sections and structured
// content. Baseline 0.5; keyword tiers override it, structural boosts are
// additive and capped at 1.0.
func hierarchyScore(c chunk.Candidate) float64 {
	section := strings.ToLower(strings.Join(c.Metadata.SectionHierarchy, " "))

	score := 0.5
	switch {
	case containsAny(section, "definition", "terminology"):
		score = 1.0
	case containsAny(section, "overview", "introduction", "summary"):
		score = 0.9
	case containsAny(section, "conclusion", "key points"):
		score = 0.8
	}

	switch c.Metadata.PrimaryType {
	case "table":
		score = min1(score + 0.1)
	case "numbered_list":
		score = min1(score + 0.05)
	}

	return score
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func min1(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	return v
}

// adjacencyScore rewards candidates whose neighbors are also in the batch:
// 0.3 isolated, 0.65 one neighbor, 1.0 both.
func adjacencyScore(c chunk.Candidate, batch []chunk.Candidate) float64 {
	if c.DocumentID == "" {
		return 0.3
	}

	neighbors := 0
	for _, other := range batch {
		if other.DocumentID != c.DocumentID {
			continue
		}
		delta := other.ChunkIndex - c.ChunkIndex
		if delta == 1 || delta == -1 {
			neighbors++
		}
	}

	switch {
	case neighbors == 0:
		return 0.3
	case neighbors == 1:
		return 0.65
	default:
		return 1.0
	}
}

// expandAdjacent pulls the ±1 neighbors of high-scoring candidates into the
// result at a discounted score, flagged as adjacent context. Only chunks
// already present in the batch can be pulled in; the reranker never fetches.
func (r *Reranker) expandAdjacent(scored, batch []chunk.Candidate, threshold float64) []chunk.Candidate {
	result := make([]chunk.Candidate, len(scored))
	copy(result, scored)

	type key struct {
		doc   string
		index int
	}
	included := make(map[key]bool, len(result))
	for _, c := range result {
		included[key{c.DocumentID, c.ChunkIndex}] = true
	}

	for _, c := range scored {
		if c.RerankScore < threshold || c.DocumentID == "" {
			continue
		}
		for _, other := range batch {
			if other.DocumentID != c.DocumentID {
				continue
			}
			delta := other.ChunkIndex - c.ChunkIndex
			if delta != 1 && delta != -1 {
				continue
			}
			k := key{other.DocumentID, other.ChunkIndex}
			if included[k] {
				continue
			}
			adjacent := other
			adjacent.RerankScore = c.RerankScore * AdjacencyDiscount
			adjacent.IsAdjacent = true
			result = append(result, adjacent)
			included[k] = true
		}
	}

	return result
}
