// Package vectorstore provides interfaces and implementations for vector
// similarity search over document chunks.
package vectorstore

import (
	"context"

	"citerag/internal/chunk"
)

// Point is one embedded chunk ready for indexing.
type Point struct {
	ID         string
	DocumentID string
	Vector     []float32
	Chunk      chunk.Chunk
}

// VectorStore defines the interface for vector storage operations.
type VectorStore interface {
	// EnsureCollection creates the chunk collection if it does not exist.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert inserts or updates embedded chunks.
	Upsert(ctx context.Context, points []Point) error

	// Search performs similarity search and returns candidates with their
	// similarity scores and full chunk payloads.
	Search(ctx context.Context, vector []float32, limit int, minScore float32) ([]chunk.Candidate, error)

	// ScrollDocument returns the stored chunks of one document, without
	// scoring. Used for citation verification lookups.
	ScrollDocument(ctx context.Context, documentID string, limit int) ([]chunk.Candidate, error)

	// DeleteDocument removes all chunks of a document.
	DeleteDocument(ctx context.Context, documentID string) error
}
