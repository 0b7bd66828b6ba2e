// Package citation links generated answer claims back to the source chunks
// that support them. It builds the extraction prompt, parses the model's
// structured output, maps chunk ordinals back onto real chunks, and verifies
// each citation's text span against the source.
package citation

import (
	"strings"

	"citerag/internal/chunk"
)

// Type records how a cited claim uses its source.
type Type string

const (
	TypeDirectQuote Type = "direct_quote"
	TypeParaphrase  Type = "paraphrase"
	TypeInference   Type = "inference"
)

// Valid reports whether t is one of the known citation types.
func (t Type) Valid() bool {
	switch t {
	case TypeDirectQuote, TypeParaphrase, TypeInference:
		return true
	}
	return false
}

// Span length limits. Extraction asks the model for 50-200 character spans;
// mapping tolerates a wider range before repairing the span from the chunk.
const (
	MinSpanLen = 10
	MaxSpanLen = 300
)

// Citation links a claim in a generated answer to the chunk it came from.
type Citation struct {
	DocumentName    string  `json:"document_name"`
	DocumentID      string  `json:"document_id"`
	DocumentURL     string  `json:"document_url,omitempty"`
	PageNumber      int     `json:"page_number"`
	Section         string  `json:"section,omitempty"`
	TextSpan        string  `json:"text_span"`
	ClaimText       string  `json:"claim_text"`
	Type            Type    `json:"citation_type"`
	ChunkIndex      int     `json:"chunk_index"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Issues reported by Verify.
const (
	IssueSpanNotFound      = "text_span_not_found_in_source"
	IssueSpanFuzzyMatch    = "text_span_fuzzy_match"
	IssueLowClaimRelevance = "low_claim_relevance"
)

// Verification is the result of checking a citation against its source
// chunk. IsAccurate requires a confidence of at least 0.7 and no issues.
type Verification struct {
	SourceText      string    `json:"source_text"`
	Context         string    `json:"context"`
	ConfidenceScore float64   `json:"confidence_score"`
	IsAccurate      bool      `json:"is_accurate"`
	Citation        *Citation `json:"citation,omitempty"`
	Issues          []string  `json:"issues"`
}

// FromChunk builds a citation for a claim against a retrieved chunk. When
// textSpan is empty a leading excerpt of the chunk stands in for it.
func FromChunk(c chunk.Candidate, claim string, citationType Type, documentName, textSpan string, confidence float64) Citation {
	if textSpan == "" {
		textSpan = leadingSpan(c.Text)
	}
	// A span shorter than the floor carries no verifiable signal; replace
	// it with an excerpt when the chunk has one to give.
	if len(textSpan) < MinSpanLen && len(c.Text) >= MinSpanLen {
		textSpan = leadingSpan(c.Text)
	}
	if len(textSpan) > MaxSpanLen {
		textSpan = strings.TrimSpace(chunk.CutHead(textSpan, MaxSpanLen))
	}

	return Citation{
		DocumentName:    documentName,
		DocumentID:      c.DocumentID,
		PageNumber:      c.Page,
		Section:         c.Section(" > "),
		TextSpan:        textSpan,
		ClaimText:       claim,
		Type:            citationType,
		ChunkIndex:      c.ChunkIndex,
		ConfidenceScore: confidence,
	}
}

func leadingSpan(text string) string {
	if len(text) > 150 {
		return strings.TrimSpace(chunk.CutHead(text, 150)) + "..."
	}
	return strings.TrimSpace(text)
}
