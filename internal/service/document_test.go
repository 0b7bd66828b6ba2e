package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"citerag/internal/repository"
	"citerag/internal/segmenter"
)

const sampleText = `Refund Policy.

All products may be returned within 30 days of purchase for a full refund.
Shipping costs are non-refundable. Items must be in original condition.

Contact support with your order number to start a return.`

func newDocService(t *testing.T, repo *fakeRepo, emb *fakeEmbedder, store *fakeVectorStore, opts ...DocumentServiceOption) *DocumentService {
	t.Helper()
	seg, err := segmenter.NewFixed(120, 0)
	if err != nil {
		t.Fatalf("NewFixed: %v", err)
	}
	return NewDocumentService(repo, emb, store, seg, discardLogger(), opts...)
}

func TestIngest_RejectsEmptyAndUnsupported(t *testing.T) {
	svc := newDocService(t, newFakeRepo(), &fakeEmbedder{dim: 4}, &fakeVectorStore{})

	if _, err := svc.Ingest(context.Background(), "a.txt", "text/plain", nil); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("empty upload: got %v, want ErrEmptyDocument", err)
	}
	if _, err := svc.Ingest(context.Background(), "a.exe", "application/octet-stream", []byte("x")); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("unsupported type: got %v, want ErrUnsupportedType", err)
	}
}

func TestIngest_ProcessesDocument(t *testing.T) {
	repo := newFakeRepo()
	emb := &fakeEmbedder{dim: 4}
	store := &fakeVectorStore{}
	svc := newDocService(t, repo, emb, store)

	doc, err := svc.Ingest(context.Background(), "policy.txt", "text/plain", []byte(sampleText))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if doc.Status != repository.StatusCompleted {
		t.Errorf("status = %q, want %q", doc.Status, repository.StatusCompleted)
	}
	if doc.PageCount != 1 {
		t.Errorf("PageCount = %d, want 1", doc.PageCount)
	}
	if doc.ChunkCount == 0 {
		t.Error("ChunkCount = 0, want > 0")
	}
	if len(store.points) != doc.ChunkCount {
		t.Errorf("indexed %d points, want %d", len(store.points), doc.ChunkCount)
	}
	for _, p := range store.points {
		if p.DocumentID != doc.ID.String() {
			t.Errorf("point DocumentID = %q, want %q", p.DocumentID, doc.ID)
		}
		if p.ID == "" {
			t.Error("point has empty ID")
		}
	}
	if store.ensuredDim != 4 {
		t.Errorf("collection dimension = %d, want 4", store.ensuredDim)
	}

	stored, err := repo.GetByID(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetByID after ingest: %v", err)
	}
	if stored.Status != repository.StatusCompleted {
		t.Errorf("persisted status = %q, want completed", stored.Status)
	}
	if stored.ContentHash == "" {
		t.Error("persisted document has no content hash")
	}
}

func TestIngest_StampsChunkIngestionTime(t *testing.T) {
	store := &fakeVectorStore{}
	svc := newDocService(t, newFakeRepo(), &fakeEmbedder{dim: 4}, store)

	doc, err := svc.Ingest(context.Background(), "policy.txt", "text/plain", []byte(sampleText))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	want := doc.CreatedAt.Unix()
	if want == 0 {
		t.Fatal("document has no creation time")
	}
	for i, p := range store.points {
		if got := p.Chunk.Metadata.CreatedAt; got != want {
			t.Errorf("point %d CreatedAt = %d, want %d", i, got, want)
		}
	}
}

func TestIngest_DeduplicatesByContentHash(t *testing.T) {
	repo := newFakeRepo()
	store := &fakeVectorStore{}
	svc := newDocService(t, repo, &fakeEmbedder{dim: 4}, store)

	first, err := svc.Ingest(context.Background(), "policy.txt", "text/plain", []byte(sampleText))
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	indexed := len(store.points)

	second, err := svc.Ingest(context.Background(), "policy-copy.txt", "text/plain", []byte(sampleText))
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("duplicate upload got new ID %s, want %s", second.ID, first.ID)
	}
	if len(store.points) != indexed {
		t.Errorf("duplicate upload re-indexed: %d points, want %d", len(store.points), indexed)
	}
}

func TestIngest_EmbedFailureMarksFailed(t *testing.T) {
	repo := newFakeRepo()
	svc := newDocService(t, repo, &fakeEmbedder{dim: 4, err: errBoom}, &fakeVectorStore{})

	doc, err := svc.Ingest(context.Background(), "policy.txt", "text/plain", []byte(sampleText))
	if err == nil {
		t.Fatal("Ingest succeeded with failing embedder")
	}
	if doc.Status != repository.StatusFailed {
		t.Errorf("status = %q, want failed", doc.Status)
	}

	stored, err := repo.GetByID(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != repository.StatusFailed {
		t.Errorf("persisted status = %q, want failed", stored.Status)
	}
	if !strings.Contains(stored.ErrorMessage, "boom") {
		t.Errorf("error message %q does not carry the cause", stored.ErrorMessage)
	}
}

func TestIngest_BatchesEmbeddings(t *testing.T) {
	emb := &fakeEmbedder{dim: 4}
	svc := newDocService(t, newFakeRepo(), emb, &fakeVectorStore{}, WithEmbedBatchSize(2))

	doc, err := svc.Ingest(context.Background(), "policy.txt", "text/plain", []byte(sampleText))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if doc.ChunkCount < 3 {
		t.Skipf("need at least 3 chunks to observe batching, got %d", doc.ChunkCount)
	}
	for i, size := range emb.batchSizes {
		if size > 2 {
			t.Errorf("batch %d has size %d, want <= 2", i, size)
		}
	}
	total := 0
	for _, size := range emb.batchSizes {
		total += size
	}
	if total != doc.ChunkCount {
		t.Errorf("embedded %d texts, want %d", total, doc.ChunkCount)
	}
}

func TestDelete_CascadesToVectors(t *testing.T) {
	repo := newFakeRepo()
	store := &fakeVectorStore{}
	svc := newDocService(t, repo, &fakeEmbedder{dim: 4}, store)

	doc, err := svc.Ingest(context.Background(), "policy.txt", "text/plain", []byte(sampleText))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if err := svc.Delete(context.Background(), doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := repo.GetByID(context.Background(), doc.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("document still present after delete: %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != doc.ID.String() {
		t.Errorf("vector delete calls = %v, want [%s]", store.deleted, doc.ID)
	}
}

func TestList_ClampsPageSize(t *testing.T) {
	repo := newFakeRepo()
	svc := newDocService(t, repo, &fakeEmbedder{dim: 4}, &fakeVectorStore{})

	tests := []struct {
		limit int
		want  int
	}{
		{0, 20},
		{-5, 20},
		{50, 50},
		{500, 100},
	}
	for _, tt := range tests {
		if _, _, err := svc.List(context.Background(), "", tt.limit, 0); err != nil {
			t.Fatalf("List(%d): %v", tt.limit, err)
		}
		if repo.lastLimit != tt.want {
			t.Errorf("List(%d) used limit %d, want %d", tt.limit, repo.lastLimit, tt.want)
		}
	}
}
