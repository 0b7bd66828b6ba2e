// Package repository defines domain models and data access interfaces for
// ingested documents.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Document statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Document represents an ingested document
type Document struct {
	ID           uuid.UUID
	Name         string
	ContentType  string
	ContentHash  string
	SizeBytes    int64
	StorageKey   string
	PageCount    int
	ChunkCount   int
	Status       string
	ErrorMessage string
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DocumentRepository defines operations for document persistence
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	GetByHash(ctx context.Context, hash string) (*Document, error)
	List(ctx context.Context, status string, limit, offset int) ([]*Document, int, error)
	Update(ctx context.Context, doc *Document) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status, errorMessage string) error
	Delete(ctx context.Context, id uuid.UUID) error
}
