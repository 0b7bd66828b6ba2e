package rerank

import "citerag/internal/chunk"

const (
	// DefaultCharsPerToken is the character/token ratio used when the
	// caller passes a non-positive value. Coarse, but consistent with what
	// embedding and generation backends report for English prose.
	DefaultCharsPerToken = 4

	// minUsefulChars is the smallest remaining budget worth filling with a
	// truncated chunk. Anything shorter is cut-off noise in the prompt.
	minUsefulChars = 200
)

// EnforceTokenBudget walks the ranked candidate list and keeps whole chunks
// while they fit within maxTokens·charsPerToken characters. When the next
// chunk would overflow but the remaining budget is still useful, a
// truncated copy of it is included and the walk stops. The returned subset
// preserves score order.
func EnforceTokenBudget(candidates []chunk.Candidate, maxTokens, charsPerToken int) []chunk.Candidate {
	if maxTokens <= 0 || len(candidates) == 0 {
		return nil
	}
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}

	budget := maxTokens * charsPerToken
	var out []chunk.Candidate
	used := 0

	for _, c := range candidates {
		length := len(c.Text)
		if used+length <= budget {
			out = append(out, c)
			used += length
			continue
		}

		if remaining := budget - used; remaining > minUsefulChars {
			truncated := c
			truncated.Text = chunk.CutHead(c.Text, remaining)
			truncated.Truncated = true
			truncated.Metadata.CharCount = len(truncated.Text)
			out = append(out, truncated)
		}
		break
	}

	return out
}
