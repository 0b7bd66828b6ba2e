package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"citerag/internal/auth"
	"citerag/internal/chunk"
	"citerag/internal/citation"
	"citerag/internal/memory"
	"citerag/internal/repository"
	"citerag/internal/service"
)

var testDocID = uuid.MustParse("15b2c9a7-0d8e-4f4f-86a7-8f6e9f2f4e01")

type stubDocs struct {
	doc       *repository.Document
	ingestErr error
	deleted   []uuid.UUID
}

func (d *stubDocs) Ingest(_ context.Context, filename, contentType string, _ []byte) (*repository.Document, error) {
	if d.ingestErr != nil {
		return nil, d.ingestErr
	}
	doc := *d.doc
	doc.Name = filename
	doc.ContentType = contentType
	return &doc, nil
}

func (d *stubDocs) Get(_ context.Context, id uuid.UUID) (*repository.Document, error) {
	if d.doc != nil && d.doc.ID == id {
		cp := *d.doc
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (d *stubDocs) List(_ context.Context, _ string, _, _ int) ([]*repository.Document, int, error) {
	if d.doc == nil {
		return nil, 0, nil
	}
	return []*repository.Document{d.doc}, 1, nil
}

func (d *stubDocs) Delete(_ context.Context, id uuid.UUID) error {
	if d.doc == nil || d.doc.ID != id {
		return repository.ErrNotFound
	}
	d.deleted = append(d.deleted, id)
	return nil
}

func (d *stubDocs) SourceURL(_ context.Context, doc *repository.Document) string {
	return "http://blobs.local/" + doc.ID.String()
}

type stubAnswers struct {
	result    *service.QueryResult
	queryErr  error
	verify    *citation.Verification
	verifyErr error
}

func (a *stubAnswers) Query(_ context.Context, _ service.QueryRequest) (*service.QueryResult, error) {
	return a.result, a.queryErr
}

func (a *stubAnswers) QueryStream(_ context.Context, _ service.QueryRequest) (<-chan service.StreamEvent, error) {
	if a.queryErr != nil {
		return nil, a.queryErr
	}
	ch := make(chan service.StreamEvent, 5)
	ch <- service.StreamEvent{Sources: []chunk.Candidate{{DocumentID: testDocID.String()}}}
	ch <- service.StreamEvent{Token: "Thirty"}
	ch <- service.StreamEvent{Token: " days."}
	ch <- service.StreamEvent{Citations: []citation.Citation{}}
	ch <- service.StreamEvent{Done: true}
	close(ch)
	return ch, nil
}

func (a *stubAnswers) VerifyCitation(_ context.Context, _ string, _ int, _, _ string) (*citation.Verification, error) {
	return a.verify, a.verifyErr
}

func testServer(docs DocumentAPI, answers AnswerAPI, jwt *auth.JWTManager) *Server {
	return New(Config{
		Port:      0,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Documents: docs,
		Answers:   answers,
		Sessions:  memory.NewStore(10, time.Minute),
		Auth:      jwt,
	})
}

func testDocument() *repository.Document {
	now := time.Now()
	return &repository.Document{
		ID:          testDocID,
		Name:        "policy.txt",
		ContentType: "text/plain",
		Status:      repository.StatusCompleted,
		PageCount:   1,
		ChunkCount:  3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func doRequest(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	s := testServer(&stubDocs{}, &stubAnswers{}, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s returned %d", path, rec.Code)
		}
	}
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	jwt := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret"))
	s := testServer(&stubDocs{doc: testDocument()}, &stubAnswers{}, jwt)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request returned %d, want 401", rec.Code)
	}
}

func TestAuth_TokenRoundTrip(t *testing.T) {
	jwt := auth.NewJWTManager(auth.DefaultJWTConfig("test-secret"))
	s := testServer(&stubDocs{doc: testDocument()}, &stubAnswers{}, jwt)

	body := strings.NewReader(`{"client_name":"cli"}`)
	rec := doRequest(t, s, httptest.NewRequest(http.MethodPost, "/v1/auth/token", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("token issuance returned %d: %s", rec.Code, rec.Body)
	}

	var tokenResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &tokenResp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/documents", nil)
	req.Header.Set("Authorization", "Bearer "+tokenResp["token"])
	rec = doRequest(t, s, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated request returned %d: %s", rec.Code, rec.Body)
	}
}

func TestUploadDocument(t *testing.T) {
	s := testServer(&stubDocs{doc: testDocument()}, &stubAnswers{}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "policy.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write([]byte("Returns are accepted within 30 days.")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := doRequest(t, s, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload returned %d: %s", rec.Code, rec.Body)
	}

	var resp documentResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Name != "policy.txt" {
		t.Errorf("name = %q", resp.Name)
	}
	if resp.Status != repository.StatusCompleted {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestUploadDocument_BadRequests(t *testing.T) {
	s := testServer(&stubDocs{doc: testDocument(), ingestErr: service.ErrUnsupportedType}, &stubAnswers{}, nil)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader("not multipart")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-multipart body returned %d, want 400", rec.Code)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "binary.exe")
	fw.Write([]byte{0x4d, 0x5a})
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = doRequest(t, s, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported type returned %d, want 400", rec.Code)
	}
}

func TestGetDocument(t *testing.T) {
	s := testServer(&stubDocs{doc: testDocument()}, &stubAnswers{}, nil)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodGet, "/v1/documents/"+testDocID.String(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get returned %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, s, httptest.NewRequest(http.MethodGet, "/v1/documents/not-a-uuid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id returned %d, want 400", rec.Code)
	}

	rec = doRequest(t, s, httptest.NewRequest(http.MethodGet, "/v1/documents/"+uuid.NewString(), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id returned %d, want 404", rec.Code)
	}
}

func TestDeleteDocument(t *testing.T) {
	docs := &stubDocs{doc: testDocument()}
	s := testServer(docs, &stubAnswers{}, nil)

	rec := doRequest(t, s, httptest.NewRequest(http.MethodDelete, "/v1/documents/"+testDocID.String(), nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete returned %d", rec.Code)
	}
	if len(docs.deleted) != 1 {
		t.Errorf("delete calls = %d, want 1", len(docs.deleted))
	}
}

func TestQuery(t *testing.T) {
	answers := &stubAnswers{result: &service.QueryResult{Answer: "Thirty days."}}
	s := testServer(&stubDocs{}, answers, nil)

	body := strings.NewReader(`{"question":"Return window?"}`)
	rec := doRequest(t, s, httptest.NewRequest(http.MethodPost, "/v1/query", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("query returned %d: %s", rec.Code, rec.Body)
	}

	var resp service.QueryResult
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "Thirty days." {
		t.Errorf("answer = %q", resp.Answer)
	}

	rec = doRequest(t, s, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing question returned %d, want 400", rec.Code)
	}
}

func TestQueryStream_SSE(t *testing.T) {
	s := testServer(&stubDocs{}, &stubAnswers{}, nil)

	body := strings.NewReader(`{"question":"Return window?"}`)
	rec := doRequest(t, s, httptest.NewRequest(http.MethodPost, "/v1/query/stream", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("stream returned %d: %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	out := rec.Body.String()
	for _, want := range []string{"event: sources", "event: token", "event: citations", "event: done"} {
		if !strings.Contains(out, want) {
			t.Errorf("stream missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, `"token":"Thirty"`) {
		t.Errorf("stream missing first token:\n%s", out)
	}
}

func TestVerifyCitation(t *testing.T) {
	answers := &stubAnswers{verify: &citation.Verification{ConfidenceScore: 1.0, IsAccurate: true}}
	s := testServer(&stubDocs{}, answers, nil)

	body := strings.NewReader(`{"document_id":"` + testDocID.String() + `","chunk_index":0,"claim_text":"thirty days"}`)
	rec := doRequest(t, s, httptest.NewRequest(http.MethodPost, "/v1/citations/verify", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("verify returned %d: %s", rec.Code, rec.Body)
	}

	var v citation.Verification
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !v.IsAccurate {
		t.Error("verification not accurate")
	}

	answers.verify = nil
	answers.verifyErr = service.ErrChunkNotFound
	rec = doRequest(t, s, httptest.NewRequest(http.MethodPost, "/v1/citations/verify", strings.NewReader(`{"document_id":"x","claim_text":"y"}`)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing chunk returned %d, want 404", rec.Code)
	}
}

func TestClearSession(t *testing.T) {
	s := testServer(&stubDocs{}, &stubAnswers{}, nil)

	s.sessions.AddUserMessage("s1", "hello")
	rec := doRequest(t, s, httptest.NewRequest(http.MethodDelete, "/v1/sessions/s1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear session returned %d", rec.Code)
	}
	if got := s.sessions.GetHistory("s1"); len(got) != 0 {
		t.Errorf("history not cleared: %d messages", len(got))
	}
}
