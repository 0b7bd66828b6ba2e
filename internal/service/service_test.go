package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"citerag/internal/chunk"
	"citerag/internal/llm"
	"citerag/internal/repository"
	"citerag/internal/vectorstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRepo is an in-memory DocumentRepository.
type fakeRepo struct {
	mu        sync.Mutex
	docs      map[uuid.UUID]*repository.Document
	lastLimit int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{docs: make(map[uuid.UUID]*repository.Document)}
}

func (r *fakeRepo) Create(_ context.Context, doc *repository.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*repository.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (r *fakeRepo) GetByHash(_ context.Context, hash string) (*repository.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doc := range r.docs {
		if doc.ContentHash == hash {
			cp := *doc
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) List(_ context.Context, status string, limit, offset int) ([]*repository.Document, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastLimit = limit
	var out []*repository.Document
	for _, doc := range r.docs {
		if status == "" || doc.Status == status {
			cp := *doc
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (r *fakeRepo) Update(_ context.Context, doc *repository.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *doc
	r.docs[doc.ID] = &cp
	return nil
}

func (r *fakeRepo) UpdateStatus(_ context.Context, id uuid.UUID, status, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return repository.ErrNotFound
	}
	doc.Status = status
	doc.ErrorMessage = errorMessage
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

// fakeEmbedder returns deterministic vectors.
type fakeEmbedder struct {
	dim        int
	err        error
	batchSizes []int
}

func (e *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	v := make([]float32, e.dim)
	v[0] = 1
	return v, nil
}

func (e *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.batchSizes = append(e.batchSizes, len(texts))
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, e.dim)
		v[0] = 1
		out[i] = v
	}
	return out, nil
}

func (e *fakeEmbedder) Dimension() int    { return e.dim }
func (e *fakeEmbedder) ModelName() string { return "fake-embedder" }

// fakeVectorStore records upserts and serves canned search results.
type fakeVectorStore struct {
	mu            sync.Mutex
	ensuredDim    int
	points        []vectorstore.Point
	searchResults []chunk.Candidate
	scrollResults []chunk.Candidate
	deleted       []string
}

func (v *fakeVectorStore) EnsureCollection(_ context.Context, dimension int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ensuredDim = dimension
	return nil
}

func (v *fakeVectorStore) Upsert(_ context.Context, points []vectorstore.Point) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.points = append(v.points, points...)
	return nil
}

func (v *fakeVectorStore) Search(_ context.Context, _ []float32, limit int, _ float32) ([]chunk.Candidate, error) {
	if len(v.searchResults) > limit {
		return v.searchResults[:limit], nil
	}
	return v.searchResults, nil
}

func (v *fakeVectorStore) ScrollDocument(_ context.Context, documentID string, _ int) ([]chunk.Candidate, error) {
	var out []chunk.Candidate
	for _, c := range v.scrollResults {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (v *fakeVectorStore) DeleteDocument(_ context.Context, documentID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deleted = append(v.deleted, documentID)
	return nil
}

// fakeLLM serves a canned answer for answer prompts and a canned extraction
// response for citation prompts.
type fakeLLM struct {
	answer     string
	tokens     []string
	extraction string
	genErr     error
	prompts    []string
}

const extractionMarker = "citation extraction assistant"

func (l *fakeLLM) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	if l.genErr != nil {
		return "", l.genErr
	}
	l.prompts = append(l.prompts, prompt)
	if strings.Contains(prompt, extractionMarker) {
		return l.extraction, nil
	}
	return l.answer, nil
}

func (l *fakeLLM) GenerateStream(_ context.Context, prompt string, _ llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	if l.genErr != nil {
		return nil, l.genErr
	}
	l.prompts = append(l.prompts, prompt)
	ch := make(chan llm.StreamChunk, len(l.tokens)+1)
	for _, tok := range l.tokens {
		ch <- llm.StreamChunk{Token: tok}
	}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

// fakeResolver maps document IDs to names.
type fakeResolver struct {
	names map[uuid.UUID]string
}

func (r *fakeResolver) Get(_ context.Context, id uuid.UUID) (*repository.Document, error) {
	name, ok := r.names[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &repository.Document{ID: id, Name: name, StorageKey: id.String() + "/" + name}, nil
}

func (r *fakeResolver) SourceURL(_ context.Context, doc *repository.Document) string {
	return fmt.Sprintf("http://blobs.local/%s", doc.StorageKey)
}

var errBoom = errors.New("boom")
