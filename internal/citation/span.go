package citation

import (
	"strings"

	"citerag/internal/chunk"
)

// ExtractBestSpan picks the sentence of chunkText with the highest word
// overlap against the claim, then fits it into [minLen, maxLen]: short
// matches are expanded with following context, long ones truncated with an
// ellipsis. With no matching sentence the leading maxLen characters stand
// in.
func ExtractBestSpan(chunkText, claimText string, minLen, maxLen int) string {
	claimWords := wordSet(claimText)

	best := ""
	bestScore := 0
	for _, sentence := range strings.Split(chunkText, ".") {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		score := 0
		for w := range wordSet(sentence) {
			if claimWords[w] {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = sentence
		}
	}

	if best != "" {
		if len(best) < minLen {
			if idx := strings.Index(chunkText, best); idx != -1 {
				return strings.TrimSpace(chunk.CutHead(chunkText[idx:], maxLen))
			}
		} else if len(best) > maxLen {
			return strings.TrimSpace(chunk.CutHead(best, maxLen)) + "..."
		}
		return best
	}

	return strings.TrimSpace(chunk.CutHead(chunkText, maxLen))
}
