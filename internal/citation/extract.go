package citation

import (
	"encoding/json"
	"strings"

	"citerag/internal/chunk"
)

// RawCitation is one entry of the model's extraction output. ChunkIndex is
// an ordinal into the prompted chunk list, not a document chunk index.
type RawCitation struct {
	ChunkIndex int    `json:"chunk_index"`
	TextSpan   string `json:"text_span"`
	ClaimText  string `json:"claim_text"`
	Type       Type   `json:"citation_type"`
}

type extractionResponse struct {
	Citations []RawCitation `json:"citations"`
}

// ParseExtraction parses the model's citation extraction output, tolerating
// a markdown code fence around the JSON. A malformed response yields zero
// citations rather than an error: a missing citation list degrades the
// answer, it must not fail it.
func ParseExtraction(response string) []RawCitation {
	response = stripCodeFence(response)

	var parsed extractionResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil
	}
	return parsed.Citations
}

// stripCodeFence unwraps JSON the model wrapped in a markdown code block.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)

	if idx := strings.Index(s, "```json"); idx != -1 {
		start := idx + len("```json")
		if end := strings.Index(s[start:], "```"); end != -1 {
			s = s[start : start+end]
		}
	} else if idx := strings.Index(s, "```"); idx != -1 {
		start := idx + len("```")
		if end := strings.Index(s[start:], "```"); end != -1 {
			s = s[start : start+end]
		}
	}

	return strings.TrimSpace(s)
}

// DocumentNamer resolves a document ID to its display name. Unknown IDs may
// return "".
type DocumentNamer func(documentID string) string

// MapCitations resolves raw extraction entries against the chunk list that
// was prompted, in the same order. Entries pointing outside the list are
// dropped silently; the model hallucinated them and there is nothing to
// attach. Unknown citation types degrade to inference, the weakest claim.
func MapCitations(raw []RawCitation, prompted []chunk.Candidate, nameOf DocumentNamer) []Citation {
	if len(raw) == 0 || len(prompted) == 0 {
		return nil
	}

	citations := make([]Citation, 0, len(raw))
	for _, rc := range raw {
		if rc.ChunkIndex < 0 || rc.ChunkIndex >= len(prompted) {
			continue
		}
		src := prompted[rc.ChunkIndex]

		ctype := rc.Type
		if !ctype.Valid() {
			ctype = TypeInference
		}

		span := strings.TrimSpace(rc.TextSpan)
		if len(span) < MinSpanLen {
			span = ExtractBestSpan(src.Text, rc.ClaimText, 50, 200)
		}

		name := ""
		if nameOf != nil {
			name = nameOf(src.DocumentID)
		}
		if name == "" {
			name = src.DocumentID
		}

		citations = append(citations, FromChunk(src, rc.ClaimText, ctype, name, span, 1.0))
	}

	if len(citations) == 0 {
		return nil
	}
	return citations
}
