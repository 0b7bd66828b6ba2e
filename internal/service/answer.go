package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"citerag/internal/chunk"
	"citerag/internal/citation"
	"citerag/internal/embedder"
	"citerag/internal/llm"
	"citerag/internal/memory"
	"citerag/internal/rerank"
	"citerag/internal/repository"
	"citerag/internal/vectorstore"
)

// ErrChunkNotFound is returned when a citation points at a chunk index the
// document does not have.
var ErrChunkNotFound = errors.New("chunk not found in document")

// defaultSystemPrompt instructs the model to answer strictly from the
// retrieved context.
const defaultSystemPrompt = `You are a helpful assistant that answers questions based on the provided context documents.

Rules:
1. Answer ONLY based on the information in the context documents below.
2. When quoting or referencing specific facts, stay faithful to the source text.
3. If the context does not contain enough information to answer, say so explicitly.
4. Be concise and direct.
5. Do not mention that you are reading from context documents.`

// DocumentResolver resolves document records and source URLs for attaching
// names and links to citations.
type DocumentResolver interface {
	Get(ctx context.Context, id uuid.UUID) (*repository.Document, error)
	SourceURL(ctx context.Context, doc *repository.Document) string
}

// QueryRequest is a question against the indexed corpus.
type QueryRequest struct {
	Question  string
	SessionID string

	// TopK and MinScore override the service defaults when positive.
	TopK     int
	MinScore float32
}

// QueryResult is a complete answer with its supporting evidence.
type QueryResult struct {
	Answer        string                  `json:"answer"`
	Sources       []chunk.Candidate       `json:"sources"`
	Citations     []citation.Citation     `json:"citations"`
	Verifications []citation.Verification `json:"verifications,omitempty"`
	RetrievalMS   int64                   `json:"retrieval_ms"`
	GenerationMS  int64                   `json:"generation_ms"`
}

// StreamEvent is one server-side event of a streaming query. Exactly one
// field group is set per event: Sources first, then Token events, then
// Citations, then Done (or Err at any point).
type StreamEvent struct {
	Sources   []chunk.Candidate
	Token     string
	Citations []citation.Citation
	Done      bool
	Err       error
}

// AnswerConfig carries the retrieval and generation tunables.
type AnswerConfig struct {
	TopK               int
	MinScore           float32
	RetrievalLimit     int
	AdjacencyThreshold float64
	MaxContextTokens   int
	CharsPerToken      int
	Model              string
}

func (c *AnswerConfig) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.MinScore <= 0 {
		c.MinScore = 0.35
	}
	if c.RetrievalLimit <= 0 {
		c.RetrievalLimit = 20
	}
	if c.AdjacencyThreshold <= 0 {
		c.AdjacencyThreshold = rerank.DefaultAdjacencyThreshold
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = 2000
	}
	if c.CharsPerToken <= 0 {
		c.CharsPerToken = rerank.DefaultCharsPerToken
	}
}

// AnswerService runs the retrieval, reranking, generation, and citation
// pipeline for user questions.
type AnswerService struct {
	embedder embedder.Embedder
	vectorDB vectorstore.VectorStore
	llm      llm.LLM
	reranker *rerank.Reranker
	docs     DocumentResolver
	memory   *memory.Store
	logger   *slog.Logger
	cfg      AnswerConfig
}

// NewAnswerService creates a new AnswerService.
func NewAnswerService(
	emb embedder.Embedder,
	vectorDB vectorstore.VectorStore,
	llmClient llm.LLM,
	reranker *rerank.Reranker,
	docs DocumentResolver,
	mem *memory.Store,
	logger *slog.Logger,
	cfg AnswerConfig,
) *AnswerService {
	cfg.applyDefaults()
	if mem == nil {
		mem = memory.DefaultStore()
	}
	return &AnswerService{
		embedder: emb,
		vectorDB: vectorDB,
		llm:      llmClient,
		reranker: reranker,
		docs:     docs,
		memory:   mem,
		logger:   logger,
		cfg:      cfg,
	}
}

// Query answers a question in one shot: retrieve, rerank, generate, cite.
func (s *AnswerService) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.New("question is required")
	}

	retrievalStart := time.Now()
	contexts, err := s.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	retrievalMS := time.Since(retrievalStart).Milliseconds()

	history := s.history(req.SessionID)
	if req.SessionID != "" {
		s.memory.AddUserMessage(req.SessionID, req.Question)
	}

	generationStart := time.Now()
	answer, err := s.llm.Generate(ctx, s.buildAnswerPrompt(ctx, req.Question, contexts, history), llm.GenerateOptions{
		Model:        s.cfg.Model,
		SystemPrompt: defaultSystemPrompt,
		Temperature:  0.3,
		MaxTokens:    2048,
	})
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	generationMS := time.Since(generationStart).Milliseconds()

	citations, verifications := s.extractCitations(ctx, req.Question, contexts)

	if req.SessionID != "" {
		s.memory.AddAssistantMessage(req.SessionID, answer, citations)
	}

	return &QueryResult{
		Answer:        answer,
		Sources:       contexts,
		Citations:     citations,
		Verifications: verifications,
		RetrievalMS:   retrievalMS,
		GenerationMS:  generationMS,
	}, nil
}

// QueryStream answers a question incrementally. The returned channel emits
// a Sources event, then Token events, then a Citations event, then Done.
// The channel is closed after Done or an Err event.
func (s *AnswerService) QueryStream(ctx context.Context, req QueryRequest) (<-chan StreamEvent, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.New("question is required")
	}

	contexts, err := s.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	history := s.history(req.SessionID)
	if req.SessionID != "" {
		s.memory.AddUserMessage(req.SessionID, req.Question)
	}

	tokens, err := s.llm.GenerateStream(ctx, s.buildAnswerPrompt(ctx, req.Question, contexts, history), llm.GenerateOptions{
		Model:        s.cfg.Model,
		SystemPrompt: defaultSystemPrompt,
		Temperature:  0.3,
		MaxTokens:    2048,
	})
	if err != nil {
		return nil, fmt.Errorf("start generation: %w", err)
	}

	events := make(chan StreamEvent)
	go func() {
		defer close(events)

		sources := contexts
		if sources == nil {
			sources = []chunk.Candidate{}
		}
		if !send(ctx, events, StreamEvent{Sources: sources}) {
			return
		}

		var answer strings.Builder
		for tok := range tokens {
			if tok.Error != nil {
				send(ctx, events, StreamEvent{Err: tok.Error})
				return
			}
			if tok.Token != "" {
				answer.WriteString(tok.Token)
				if !send(ctx, events, StreamEvent{Token: tok.Token}) {
					return
				}
			}
			if tok.Done {
				break
			}
		}

		citations, _ := s.extractCitations(ctx, req.Question, contexts)
		if req.SessionID != "" {
			s.memory.AddAssistantMessage(req.SessionID, answer.String(), citations)
		}

		if citations == nil {
			citations = []citation.Citation{}
		}
		if !send(ctx, events, StreamEvent{Citations: citations}) {
			return
		}
		send(ctx, events, StreamEvent{Done: true})
	}()

	return events, nil
}

func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// retrieve embeds the question, searches, reranks, and enforces the context
// budget. The result is the exact chunk set the prompt will carry.
func (s *AnswerService) retrieve(ctx context.Context, req QueryRequest) ([]chunk.Candidate, error) {
	topK := s.cfg.TopK
	if req.TopK > 0 {
		topK = req.TopK
	}
	minScore := s.cfg.MinScore
	if req.MinScore > 0 {
		minScore = req.MinScore
	}

	vector, err := s.embedder.Embed(ctx, req.Question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	candidates, err := s.vectorDB.Search(ctx, vector, s.cfg.RetrievalLimit, minScore)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	reranked := s.reranker.Rerank(candidates, topK, s.cfg.AdjacencyThreshold)
	return rerank.EnforceTokenBudget(reranked, s.cfg.MaxContextTokens, s.cfg.CharsPerToken), nil
}

func (s *AnswerService) history(sessionID string) []memory.Message {
	if sessionID == "" {
		return nil
	}
	return s.memory.GetRecentHistory(sessionID, 10)
}

// buildAnswerPrompt assembles history, context chunks, and the question
// into a single generation prompt.
func (s *AnswerService) buildAnswerPrompt(ctx context.Context, question string, contexts []chunk.Candidate, history []memory.Message) string {
	var sb strings.Builder

	sb.WriteString(defaultSystemPrompt)
	sb.WriteString("\n\n")

	if len(history) > 0 {
		sb.WriteString("## Conversation History\n")
		sb.WriteString("(Previous exchanges in this session for context)\n\n")
		sb.WriteString(memory.FormatForPrompt(history))
		sb.WriteString("\n")
	}

	sb.WriteString("## Context Documents\n\n")
	for i, c := range contexts {
		fmt.Fprintf(&sb, "[Doc %d]", i+1)
		if name := s.documentName(ctx, c.DocumentID); name != "" {
			fmt.Fprintf(&sb, " (Source: %s)", name)
		}
		if section := c.Section(" > "); section != "" {
			fmt.Fprintf(&sb, " (Section: %s)", section)
		}
		sb.WriteString("\n")
		sb.WriteString(c.Text)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Question\n")
	sb.WriteString(question)
	sb.WriteString("\n\n")
	sb.WriteString("## Answer (be brief and direct)\n")

	return sb.String()
}

// extractCitations runs a second, deterministic model pass over the prompted
// chunks, maps the returned chunk ordinals back to real chunks, and verifies
// each span against its source. A malformed extraction response degrades to
// zero citations rather than failing the query.
func (s *AnswerService) extractCitations(ctx context.Context, question string, contexts []chunk.Candidate) ([]citation.Citation, []citation.Verification) {
	if len(contexts) == 0 {
		return nil, nil
	}

	response, err := s.llm.Generate(ctx, citation.BuildExtractionPrompt(question, contexts), llm.GenerateOptions{
		Model:       s.cfg.Model,
		Temperature: 0,
		MaxTokens:   1024,
	})
	if err != nil {
		s.logger.Warn("citation extraction failed", "error", err)
		return nil, nil
	}

	raw := citation.ParseExtraction(response)
	if len(raw) == 0 {
		return nil, nil
	}

	citations := citation.MapCitations(raw, contexts, func(documentID string) string {
		return s.documentName(ctx, documentID)
	})

	verifications := make([]citation.Verification, 0, len(citations))
	for i := range citations {
		c := &citations[i]
		c.DocumentURL = s.documentURL(ctx, c.DocumentID)

		src, ok := findChunk(contexts, c.DocumentID, c.ChunkIndex)
		if !ok {
			continue
		}
		v := citation.Verify(*c, src.Text)
		c.ConfidenceScore = v.ConfidenceScore
		verifications = append(verifications, v)
	}
	return citations, verifications
}

// VerifyCitation re-checks a stored citation against the indexed document
// text, for client-initiated audits after an answer is delivered.
func (s *AnswerService) VerifyCitation(ctx context.Context, documentID string, chunkIndex int, claimText, expectedSpan string) (*citation.Verification, error) {
	chunks, err := s.vectorDB.ScrollDocument(ctx, documentID, 1000)
	if err != nil {
		return nil, fmt.Errorf("load document chunks: %w", err)
	}

	src, ok := findChunk(chunks, documentID, chunkIndex)
	if !ok {
		return nil, fmt.Errorf("%w: document %s chunk %d", ErrChunkNotFound, documentID, chunkIndex)
	}

	c := citation.FromChunk(src, claimText, citation.TypeParaphrase, s.documentName(ctx, documentID), expectedSpan, 1.0)
	v := citation.Verify(c, src.Text)
	return &v, nil
}

func findChunk(chunks []chunk.Candidate, documentID string, index int) (chunk.Candidate, bool) {
	for _, c := range chunks {
		if c.DocumentID == documentID && c.ChunkIndex == index {
			return c, true
		}
	}
	return chunk.Candidate{}, false
}

func (s *AnswerService) documentName(ctx context.Context, documentID string) string {
	doc := s.document(ctx, documentID)
	if doc == nil {
		return ""
	}
	return doc.Name
}

func (s *AnswerService) documentURL(ctx context.Context, documentID string) string {
	doc := s.document(ctx, documentID)
	if doc == nil {
		return ""
	}
	return s.docs.SourceURL(ctx, doc)
}

func (s *AnswerService) document(ctx context.Context, documentID string) *repository.Document {
	if s.docs == nil {
		return nil
	}
	id, err := uuid.Parse(documentID)
	if err != nil {
		return nil
	}
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return nil
	}
	return doc
}
