package segmenter

import (
	"fmt"
	"strings"

	"citerag/internal/chunk"
)

// DocumentChunker is the strategy interface the ingestion pipeline consumes.
// Both the semantic Segmenter and the FixedSegmenter implement it.
type DocumentChunker interface {
	ChunkDocuments(pages []chunk.Page) []chunk.Chunk
}

// FixedSegmenter chunks pages with fixed-size character windows and overlap.
// It ignores document structure entirely; kept as the cheap fallback
// strategy for content where structure-aware segmentation buys nothing.
type FixedSegmenter struct {
	chunkSize int
	overlap   int
}

// NewFixed creates a fixed-window segmenter. Overlap must be smaller than
// the chunk size.
func NewFixed(chunkSize, overlap int) (*FixedSegmenter, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultMaxChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		return nil, ErrInvalidConfig
	}
	return &FixedSegmenter{chunkSize: chunkSize, overlap: overlap}, nil
}

// ChunkDocuments slides a fixed window over every page's text. Indexes are
// monotonic across the document and adjacency links are assigned at the end.
func (f *FixedSegmenter) ChunkDocuments(pages []chunk.Page) []chunk.Chunk {
	var all []chunk.Chunk
	index := 0

	for _, page := range pages {
		step := f.chunkSize - f.overlap
		for start := 0; start < len(page.Text); start += step {
			end := start + f.chunkSize
			if end > len(page.Text) {
				end = len(page.Text)
			}
			text := page.Text[start:end]
			if strings.TrimSpace(text) == "" {
				continue
			}
			all = append(all, chunk.Chunk{
				Text:       text,
				Page:       page.Page,
				ChunkIndex: index,
				Metadata: chunk.Metadata{
					CharCount:   len(text),
					PrimaryType: string(chunk.KindParagraph),
					ChunkTypes:  []string{string(chunk.KindParagraph)},
				},
			})
			index++
		}
	}

	linkAdjacency(all)
	return all
}

// ForStrategy returns the chunker for a named strategy ("semantic" or
// "fixed"). Unknown names are an error rather than a silent default.
func ForStrategy(name string, cfg Config) (DocumentChunker, error) {
	switch name {
	case "", "semantic":
		return New(cfg)
	case "fixed":
		return NewFixed(cfg.MaxChunkSize, cfg.Overlap)
	default:
		return nil, fmt.Errorf("unknown chunking strategy: %q", name)
	}
}
