package citation

import (
	"fmt"
	"strings"

	"citerag/internal/chunk"
)

// BuildExtractionPrompt numbers the context chunks and instructs the model
// to return supporting citations as structured JSON. The chunk numbering is
// positional; ParseExtraction and MapCitations resolve it back to real
// chunks.
func BuildExtractionPrompt(query string, chunks []chunk.Candidate) string {
	var sb strings.Builder

	sb.WriteString("You are a citation extraction assistant. Analyze the user's question and the provided context chunks to identify which specific parts of the context support potential claims in an answer.\n\n")
	sb.WriteString("For each relevant piece of information, create a citation with:\n")
	sb.WriteString("1. The chunk number it comes from\n")
	sb.WriteString("2. The exact text span (50-200 characters) from that chunk\n")
	sb.WriteString("3. What claim this supports\n")
	sb.WriteString("4. Citation type: \"direct_quote\", \"paraphrase\", or \"inference\"\n\n")

	sb.WriteString("User Question: ")
	sb.WriteString(query)
	sb.WriteString("\n\nContext Chunks:\n")

	for i, c := range chunks {
		fmt.Fprintf(&sb, "[Chunk %d]\n", i)
		fmt.Fprintf(&sb, "Document: %s\n", c.DocumentID)
		fmt.Fprintf(&sb, "Page: %d\n", c.Page)
		if section := c.Section(" > "); section != "" {
			fmt.Fprintf(&sb, "Section: %s\n", section)
		}
		fmt.Fprintf(&sb, "Text: %s\n", c.Text)
		if i < len(chunks)-1 {
			sb.WriteString("\n")
		}
	}

	sb.WriteString(`
Return ONLY a valid JSON object with a "citations" array in this exact format:
{
  "citations": [
    {
      "chunk_index": 0,
      "text_span": "exact text from chunk (50-200 chars)",
      "claim_text": "the claim this supports",
      "citation_type": "direct_quote"
    }
  ]
}

Guidelines:
- For direct quotes, use exact wording from the source
- For paraphrases, the claim should closely match the source meaning
- For inferences, the claim should be a logical conclusion from the source
- Be thorough and identify all relevant citations that would support a complete answer
- Ensure text_span is between 50-200 characters
- Return valid JSON only, no additional text`)

	return sb.String()
}
