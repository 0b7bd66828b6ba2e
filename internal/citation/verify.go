package citation

import "strings"

// Verify checks a citation against the text of its source chunk.
//
// An exact substring match scores 1.0. Otherwise the span is fuzzy-matched
// against the source: a ratio of at least 0.7 is flagged as a fuzzy match,
// below that the span is considered missing. Independently, low word
// overlap between the claim and the source flags low relevance and caps the
// confidence. A citation is accurate only at confidence >= 0.7 with no
// issues raised.
func Verify(c Citation, sourceText string) Verification {
	var issues []string
	confidence := 1.0

	if !strings.Contains(sourceText, c.TextSpan) {
		ratio := matchRatio(strings.ToLower(c.TextSpan), strings.ToLower(sourceText))
		confidence = ratio
		if ratio < 0.7 {
			issues = append(issues, IssueSpanNotFound)
		} else {
			issues = append(issues, IssueSpanFuzzyMatch)
		}
	}

	overlap := wordOverlap(c.ClaimText, sourceText)
	if overlap < 0.3 {
		issues = append(issues, IssueLowClaimRelevance)
		if capped := overlap + 0.3; capped < confidence {
			confidence = capped
		}
	}

	return Verification{
		SourceText:      sourceText,
		Context:         sourceText,
		ConfidenceScore: confidence,
		IsAccurate:      confidence >= 0.7 && len(issues) == 0,
		Citation:        &c,
		Issues:          issues,
	}
}

// wordOverlap is the fraction of the claim's distinct words that also occur
// in the source.
func wordOverlap(claim, source string) float64 {
	claimWords := wordSet(claim)
	if len(claimWords) == 0 {
		return 0
	}
	sourceWords := wordSet(source)

	shared := 0
	for w := range claimWords {
		if sourceWords[w] {
			shared++
		}
	}
	return float64(shared) / float64(len(claimWords))
}

func wordSet(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// matchRatio measures the similarity of two strings as
// 2·LCS(a,b) / (len(a)+len(b)), in [0,1]. Equal strings score 1.0,
// disjoint strings 0.0.
func matchRatio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	// Single-row LCS table; the spans involved are a few hundred runes.
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}

	lcs := prev[len(rb)]
	return 2.0 * float64(lcs) / float64(len(ra)+len(rb))
}
