// Package service wires the ingestion and question-answering pipelines
// together on top of the storage, embedding, and model clients.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"citerag/internal/embedder"
	"citerag/internal/objectstore"
	"citerag/internal/parser"
	"citerag/internal/repository"
	"citerag/internal/segmenter"
	"citerag/internal/vectorstore"
)

var (
	// ErrEmptyDocument is returned when an upload contains no content.
	ErrEmptyDocument = errors.New("document is empty")

	// ErrUnsupportedType is returned for file types no parser handles.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// DocumentService handles document ingestion: parse, segment, embed, index.
type DocumentService struct {
	docRepo   repository.DocumentRepository
	embedder  embedder.Embedder
	vectorDB  vectorstore.VectorStore
	segmenter segmenter.DocumentChunker
	blobs     *objectstore.Store
	logger    *slog.Logger

	embedBatchSize int
}

// DocumentServiceOption is a functional option for configuring DocumentService.
type DocumentServiceOption func(*DocumentService)

// WithBlobStore enables raw upload storage and presigned source URLs.
func WithBlobStore(store *objectstore.Store) DocumentServiceOption {
	return func(s *DocumentService) {
		s.blobs = store
	}
}

// WithEmbedBatchSize overrides the embedding batch size.
func WithEmbedBatchSize(n int) DocumentServiceOption {
	return func(s *DocumentService) {
		if n > 0 {
			s.embedBatchSize = n
		}
	}
}

// NewDocumentService creates a new DocumentService.
func NewDocumentService(
	docRepo repository.DocumentRepository,
	emb embedder.Embedder,
	vectorDB vectorstore.VectorStore,
	seg segmenter.DocumentChunker,
	logger *slog.Logger,
	opts ...DocumentServiceOption,
) *DocumentService {
	s := &DocumentService{
		docRepo:        docRepo,
		embedder:       emb,
		vectorDB:       vectorDB,
		segmenter:      seg,
		logger:         logger,
		embedBatchSize: 32,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest accepts an uploaded document, stores its record, and processes it
// synchronously: parse into pages, segment, embed, and index. Duplicate
// content (same hash) returns the existing document without reprocessing.
func (s *DocumentService) Ingest(ctx context.Context, filename, contentType string, data []byte) (*repository.Document, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	if !parser.IsSupportedExtension(filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, filename)
	}

	contentHash := hashContent(data)
	if existing, err := s.docRepo.GetByHash(ctx, contentHash); err == nil {
		s.logger.Info("duplicate document", "document_id", existing.ID, "name", filename)
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}

	now := time.Now()
	doc := &repository.Document{
		ID:          uuid.New(),
		Name:        filename,
		ContentType: contentType,
		ContentHash: contentHash,
		SizeBytes:   int64(len(data)),
		Status:      repository.StatusProcessing,
		Metadata:    map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if s.blobs != nil {
		doc.StorageKey = doc.ID.String() + "/" + filename
		if err := s.blobs.Put(ctx, doc.StorageKey, contentType, data); err != nil {
			// The blob is a convenience copy; ingestion proceeds without it.
			s.logger.Warn("blob upload failed", "document_id", doc.ID, "error", err)
			doc.StorageKey = ""
		}
	}

	if err := s.docRepo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	if err := s.process(ctx, doc, filename, data); err != nil {
		if updateErr := s.docRepo.UpdateStatus(ctx, doc.ID, repository.StatusFailed, err.Error()); updateErr != nil {
			s.logger.Error("status update failed", "document_id", doc.ID, "error", updateErr)
		}
		doc.Status = repository.StatusFailed
		doc.ErrorMessage = err.Error()
		return doc, err
	}

	doc.Status = repository.StatusCompleted
	return doc, nil
}

// process runs the parse → segment → embed → index pipeline.
func (s *DocumentService) process(ctx context.Context, doc *repository.Document, filename string, data []byte) error {
	p, err := parser.ForFile(filename)
	if err != nil {
		return err
	}

	pages, err := p.Parse(data, filename)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(pages) == 0 {
		return ErrEmptyDocument
	}

	chunks := s.segmenter.ChunkDocuments(pages)
	if len(chunks) == 0 {
		return ErrEmptyDocument
	}
	// The recency rerank factor reads this timestamp back out of the index.
	ingestedAt := doc.CreatedAt.Unix()
	for i := range chunks {
		chunks[i].Metadata.CreatedAt = ingestedAt
	}

	s.logger.Info("document segmented",
		"document_id", doc.ID, "pages", len(pages), "chunks", len(chunks))

	if err := s.vectorDB.EnsureCollection(ctx, s.embedder.Dimension()); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	for start := 0; start < len(chunks); start += s.embedBatchSize {
		end := start + s.embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch at %d: %w", start, err)
		}

		points := make([]vectorstore.Point, len(batch))
		for i, c := range batch {
			points[i] = vectorstore.Point{
				ID:         uuid.New().String(),
				DocumentID: doc.ID.String(),
				Vector:     vectors[i],
				Chunk:      c,
			}
		}
		if err := s.vectorDB.Upsert(ctx, points); err != nil {
			return fmt.Errorf("upsert batch at %d: %w", start, err)
		}
	}

	doc.PageCount = len(pages)
	doc.ChunkCount = len(chunks)
	doc.Status = repository.StatusCompleted
	if err := s.docRepo.Update(ctx, doc); err != nil {
		return fmt.Errorf("finalize document: %w", err)
	}
	return nil
}

// Get retrieves a document record by ID.
func (s *DocumentService) Get(ctx context.Context, id uuid.UUID) (*repository.Document, error) {
	return s.docRepo.GetByID(ctx, id)
}

// List retrieves document records with pagination.
func (s *DocumentService) List(ctx context.Context, status string, limit, offset int) ([]*repository.Document, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.docRepo.List(ctx, status, limit, offset)
}

// Delete removes a document, its vectors, and its stored blob.
func (s *DocumentService) Delete(ctx context.Context, id uuid.UUID) error {
	doc, err := s.docRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := s.vectorDB.DeleteDocument(ctx, id.String()); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if s.blobs != nil && doc.StorageKey != "" {
		if err := s.blobs.Delete(ctx, doc.StorageKey); err != nil {
			s.logger.Warn("blob delete failed", "document_id", id, "error", err)
		}
	}
	return s.docRepo.Delete(ctx, id)
}

// SourceURL returns a presigned download URL for the document's original
// upload, or "" when blob storage is not configured.
func (s *DocumentService) SourceURL(ctx context.Context, doc *repository.Document) string {
	if s.blobs == nil || doc.StorageKey == "" {
		return ""
	}
	url, err := s.blobs.PresignedURL(ctx, doc.StorageKey)
	if err != nil {
		s.logger.Warn("presign failed", "document_id", doc.ID, "error", err)
		return ""
	}
	return url
}

func hashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
