package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"citerag/internal/repository"
	"citerag/internal/service"
)

// maxUploadBytes caps document uploads at 32 MiB.
const maxUploadBytes = 32 << 20

type documentResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	ContentType  string            `json:"content_type"`
	SizeBytes    int64             `json:"size_bytes"`
	PageCount    int               `json:"page_count"`
	ChunkCount   int               `json:"chunk_count"`
	Status       string            `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	SourceURL    string            `json:"source_url,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func (s *Server) documentResponse(r *http.Request, doc *repository.Document) documentResponse {
	return documentResponse{
		ID:           doc.ID.String(),
		Name:         doc.Name,
		ContentType:  doc.ContentType,
		SizeBytes:    doc.SizeBytes,
		PageCount:    doc.PageCount,
		ChunkCount:   doc.ChunkCount,
		Status:       doc.Status,
		ErrorMessage: doc.ErrorMessage,
		SourceURL:    s.docs.SourceURL(r.Context(), doc),
		Metadata:     doc.Metadata,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
		return
	}

	doc, err := s.docs.Ingest(r.Context(), header.Filename, header.Header.Get("Content-Type"), data)
	switch {
	case errors.Is(err, service.ErrEmptyDocument), errors.Is(err, service.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("document ingestion failed", "name", header.Filename, "error", err)
		if doc != nil {
			// The record exists with a failed status; report it.
			writeJSON(w, http.StatusUnprocessableEntity, s.documentResponse(r, doc))
			return
		}
		writeError(w, http.StatusInternalServerError, "ingestion failed")
		return
	}

	writeJSON(w, http.StatusCreated, s.documentResponse(r, doc))
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	docs, total, err := s.docs.List(r.Context(), q.Get("status"), limit, offset)
	if err != nil {
		s.logger.Error("list documents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, s.documentResponse(r, doc))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": out,
		"total":     total,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	doc, err := s.docs.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.logger.Error("get document failed", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, s.documentResponse(r, doc))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	err = s.docs.Delete(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		s.logger.Error("delete document failed", "document_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type queryRequest struct {
	Question  string  `json:"question"`
	SessionID string  `json:"session_id,omitempty"`
	TopK      int     `json:"top_k,omitempty"`
	MinScore  float32 `json:"min_score,omitempty"`
}

func (q queryRequest) toService() service.QueryRequest {
	return service.QueryRequest{
		Question:  q.Question,
		SessionID: q.SessionID,
		TopK:      q.TopK,
		MinScore:  q.MinScore,
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	result, err := s.answers.Query(r.Context(), req.toService())
	if err != nil {
		s.logger.Error("query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	events, err := s.answers.QueryStream(r.Context(), req.toService())
	if err != nil {
		s.logger.Error("query stream failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	for ev := range events {
		var writeErr error
		switch {
		case ev.Err != nil:
			writeErr = sse.Send("error", map[string]string{"message": ev.Err.Error()})
		case ev.Done:
			writeErr = sse.Send("done", map[string]bool{"done": true})
		case ev.Sources != nil:
			writeErr = sse.Send("sources", map[string]any{"sources": ev.Sources})
		case ev.Citations != nil:
			writeErr = sse.Send("citations", map[string]any{"citations": ev.Citations})
		default:
			writeErr = sse.Send("token", map[string]string{"token": ev.Token})
		}
		if writeErr != nil {
			// Client went away; the service goroutine stops on ctx cancel.
			return
		}
	}
}

type verifyRequest struct {
	DocumentID       string `json:"document_id"`
	ChunkIndex       int    `json:"chunk_index"`
	ClaimText        string `json:"claim_text"`
	ExpectedTextSpan string `json:"expected_text_span,omitempty"`
}

func (s *Server) handleVerifyCitation(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DocumentID == "" || req.ClaimText == "" {
		writeError(w, http.StatusBadRequest, "document_id and claim_text are required")
		return
	}

	v, err := s.answers.VerifyCitation(r.Context(), req.DocumentID, req.ChunkIndex, req.ClaimText, req.ExpectedTextSpan)
	if errors.Is(err, service.ErrChunkNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("citation verification failed", "document_id", req.DocumentID, "error", err)
		writeError(w, http.StatusInternalServerError, "verification failed")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusNotFound, "sessions not enabled")
		return
	}
	s.sessions.ClearSession(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

type tokenRequest struct {
	ClientName string `json:"client_name"`
	Role       string `json:"role,omitempty"`
}

func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil {
		writeError(w, http.StatusNotFound, "auth not enabled")
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ClientName == "" {
		writeError(w, http.StatusBadRequest, "client_name is required")
		return
	}
	if req.Role == "" {
		req.Role = "client"
	}

	token, err := s.auth.GenerateToken(req.ClientName, req.Role)
	if err != nil {
		s.logger.Error("token generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
