// Package chunk defines the record types shared by the segmenter, reranker,
// and citation engine. Every component exchanges the same tagged Chunk and
// Candidate shapes; there is no untyped metadata drift between stages.
package chunk

// Kind classifies the structural role of a span of source text.
type Kind string

const (
	KindHeading      Kind = "heading"
	KindTable        Kind = "table"
	KindNumberedList Kind = "numbered_list"
	KindBulletList   Kind = "bullet_list"
	KindCodeBlock    Kind = "code_block"
	KindParagraph    Kind = "paragraph"

	// PrimaryTypeMixed is used when no single kind dominates a chunk.
	PrimaryTypeMixed = "mixed"
)

// Page is one page of extracted document text, as produced by the parser.
type Page struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

// Metadata carries the structural facts recorded for a chunk at
// segmentation time. PrevChunkIndex/NextChunkIndex are nil at the ends of
// a document.
type Metadata struct {
	CharCount        int      `json:"char_count"`
	ChunkTypes       []string `json:"chunk_types,omitempty"`
	PrimaryType      string   `json:"primary_type,omitempty"`
	SectionHierarchy []string `json:"section_hierarchy,omitempty"`

	HasTable           bool `json:"has_table,omitempty"`
	HasList            bool `json:"has_list,omitempty"`
	HasCode            bool `json:"has_code,omitempty"`
	HasCrossReferences bool `json:"has_cross_references,omitempty"`

	PrevChunkIndex *int `json:"prev_chunk_index,omitempty"`
	NextChunkIndex *int `json:"next_chunk_index,omitempty"`

	// CreatedAt is a unix timestamp recorded at ingestion time.
	// Zero means unknown; the reranker treats it as absent.
	CreatedAt int64 `json:"created_at,omitempty"`
}

// Chunk is a bounded, retrievable span of document text with location and
// structural metadata. ChunkIndex is monotonic within one document's
// segmentation pass.
type Chunk struct {
	Text       string   `json:"text"`
	Page       int      `json:"page"`
	ChunkIndex int      `json:"chunk_index"`
	Metadata   Metadata `json:"metadata"`
}

// ScoreBreakdown records the individual factors behind a rerank score.
type ScoreBreakdown struct {
	Similarity float64 `json:"similarity"`
	Recency    float64 `json:"recency"`
	Hierarchy  float64 `json:"hierarchy"`
	Adjacency  float64 `json:"adjacency"`
}

// Candidate is a chunk returned by similarity search, carrying the search
// score and, after reranking, the composite score and its breakdown.
type Candidate struct {
	Chunk

	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`

	RerankScore    float64         `json:"rerank_score,omitempty"`
	ScoreBreakdown *ScoreBreakdown `json:"score_breakdown,omitempty"`
	IsAdjacent     bool            `json:"is_adjacent,omitempty"`
	Truncated      bool            `json:"truncated,omitempty"`
}

// Section joins the chunk's section hierarchy into a display path, e.g.
// "Returns > Refund Policy". Empty when the chunk has no enclosing headings.
func (c *Chunk) Section(sep string) string {
	if len(c.Metadata.SectionHierarchy) == 0 {
		return ""
	}
	out := c.Metadata.SectionHierarchy[0]
	for _, s := range c.Metadata.SectionHierarchy[1:] {
		out += sep + s
	}
	return out
}
