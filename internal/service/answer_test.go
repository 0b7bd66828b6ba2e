package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"citerag/internal/chunk"
	"citerag/internal/memory"
	"citerag/internal/rerank"
)

var testDocID = uuid.MustParse("3f2e6a51-9f0f-4f31-9a49-06c35a2c9d10")

func answerCandidates() []chunk.Candidate {
	return []chunk.Candidate{
		{
			Chunk: chunk.Chunk{
				Text:       "All products may be returned within 30 days of purchase for a full refund.",
				Page:       1,
				ChunkIndex: 0,
				Metadata:   chunk.Metadata{SectionHierarchy: []string{"Refund Policy"}},
			},
			DocumentID: testDocID.String(),
			Score:      0.9,
		},
		{
			Chunk: chunk.Chunk{
				Text:       "Shipping costs are non-refundable and items must be in original condition.",
				Page:       1,
				ChunkIndex: 1,
			},
			DocumentID: testDocID.String(),
			Score:      0.7,
		},
	}
}

func newAnswerService(t *testing.T, store *fakeVectorStore, model *fakeLLM, mem *memory.Store) *AnswerService {
	t.Helper()
	rr, err := rerank.New(rerank.DefaultWeights())
	if err != nil {
		t.Fatalf("rerank.New: %v", err)
	}
	resolver := &fakeResolver{names: map[uuid.UUID]string{testDocID: "policy.txt"}}
	return NewAnswerService(&fakeEmbedder{dim: 4}, store, model, rr, resolver, mem, discardLogger(), AnswerConfig{})
}

func TestQuery_RequiresQuestion(t *testing.T) {
	svc := newAnswerService(t, &fakeVectorStore{}, &fakeLLM{}, nil)
	if _, err := svc.Query(context.Background(), QueryRequest{Question: "   "}); err == nil {
		t.Fatal("blank question accepted")
	}
}

func TestQuery_NoResults(t *testing.T) {
	model := &fakeLLM{answer: "I don't have that information."}
	svc := newAnswerService(t, &fakeVectorStore{}, model, nil)

	res, err := svc.Query(context.Background(), QueryRequest{Question: "What is the refund policy?"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Answer != model.answer {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Sources) != 0 || len(res.Citations) != 0 {
		t.Errorf("empty retrieval produced sources=%d citations=%d", len(res.Sources), len(res.Citations))
	}
}

func TestQuery_FullPipeline(t *testing.T) {
	store := &fakeVectorStore{searchResults: answerCandidates()}
	model := &fakeLLM{
		answer: "Products may be returned within 30 days of purchase.",
		extraction: `{"citations":[{"chunk_index":0,` +
			`"text_span":"returned within 30 days of purchase for a full refund",` +
			`"claim_text":"Products may be returned within 30 days of purchase",` +
			`"citation_type":"direct_quote"}]}`,
	}
	svc := newAnswerService(t, store, model, nil)

	res, err := svc.Query(context.Background(), QueryRequest{Question: "What is the refund policy?"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	if res.Answer != model.answer {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Sources) == 0 {
		t.Fatal("no sources returned")
	}
	if len(res.Citations) != 1 {
		t.Fatalf("citations = %d, want 1", len(res.Citations))
	}

	c := res.Citations[0]
	if c.DocumentName != "policy.txt" {
		t.Errorf("DocumentName = %q, want policy.txt", c.DocumentName)
	}
	if c.DocumentURL == "" {
		t.Error("citation has no source URL")
	}
	if c.ChunkIndex != 0 {
		t.Errorf("ChunkIndex = %d, want 0", c.ChunkIndex)
	}
	if c.ConfidenceScore != 1.0 {
		t.Errorf("ConfidenceScore = %v, want 1.0 for exact span", c.ConfidenceScore)
	}

	if len(res.Verifications) != 1 {
		t.Fatalf("verifications = %d, want 1", len(res.Verifications))
	}
	if v := res.Verifications[0]; !v.IsAccurate || len(v.Issues) != 0 {
		t.Errorf("verification = accurate=%v issues=%v, want accurate with no issues", v.IsAccurate, v.Issues)
	}
}

func TestQuery_MalformedExtractionDegrades(t *testing.T) {
	store := &fakeVectorStore{searchResults: answerCandidates()}
	model := &fakeLLM{answer: "Thirty days.", extraction: "I could not find any citations."}
	svc := newAnswerService(t, store, model, nil)

	res, err := svc.Query(context.Background(), QueryRequest{Question: "How long is the return window?"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Citations) != 0 {
		t.Errorf("citations = %d, want 0 for malformed extraction", len(res.Citations))
	}
	if res.Answer != "Thirty days." {
		t.Errorf("answer = %q", res.Answer)
	}
}

func TestQuery_RecordsConversation(t *testing.T) {
	mem := memory.NewStore(10, time.Minute)
	store := &fakeVectorStore{searchResults: answerCandidates()}
	svc := newAnswerService(t, store, &fakeLLM{answer: "Thirty days."}, mem)

	_, err := svc.Query(context.Background(), QueryRequest{Question: "Return window?", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	history := mem.GetHistory("s1")
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Errorf("history roles = %q, %q", history[0].Role, history[1].Role)
	}
	if history[1].Content != "Thirty days." {
		t.Errorf("assistant content = %q", history[1].Content)
	}
}

func TestQueryStream_EventOrder(t *testing.T) {
	mem := memory.NewStore(10, time.Minute)
	store := &fakeVectorStore{searchResults: answerCandidates()}
	model := &fakeLLM{tokens: []string{"Thirty", " days."}, extraction: "not json"}
	svc := newAnswerService(t, store, model, mem)

	events, err := svc.QueryStream(context.Background(), QueryRequest{Question: "Return window?", SessionID: "s1"})
	if err != nil {
		t.Fatalf("QueryStream: %v", err)
	}

	var (
		got       []StreamEvent
		answer    strings.Builder
		sawTokens bool
	)
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("stream error: %v", ev.Err)
		}
		got = append(got, ev)
		if ev.Token != "" {
			answer.WriteString(ev.Token)
			sawTokens = true
		}
	}

	if len(got) < 3 {
		t.Fatalf("got %d events, want at least sources, tokens, done", len(got))
	}
	if len(got[0].Sources) == 0 {
		t.Error("first event is not a sources event")
	}
	if !sawTokens {
		t.Error("no token events")
	}
	if !got[len(got)-1].Done {
		t.Error("last event is not done")
	}
	if answer.String() != "Thirty days." {
		t.Errorf("streamed answer = %q", answer.String())
	}

	history := mem.GetHistory("s1")
	if len(history) != 2 || history[1].Content != "Thirty days." {
		t.Errorf("session history = %+v, want user+assistant", history)
	}
}

func TestQueryStream_GenerationError(t *testing.T) {
	store := &fakeVectorStore{searchResults: answerCandidates()}
	svc := newAnswerService(t, store, &fakeLLM{genErr: errBoom}, nil)

	if _, err := svc.QueryStream(context.Background(), QueryRequest{Question: "Return window?"}); !errors.Is(err, errBoom) {
		t.Fatalf("got %v, want errBoom", err)
	}
}

func TestVerifyCitation(t *testing.T) {
	store := &fakeVectorStore{scrollResults: answerCandidates()}
	svc := newAnswerService(t, store, &fakeLLM{}, nil)

	v, err := svc.VerifyCitation(context.Background(), testDocID.String(), 0,
		"Products may be returned within 30 days",
		"returned within 30 days of purchase")
	if err != nil {
		t.Fatalf("VerifyCitation: %v", err)
	}
	if !v.IsAccurate {
		t.Errorf("exact span not accurate: confidence=%v issues=%v", v.ConfidenceScore, v.Issues)
	}
	if v.Citation == nil || v.Citation.DocumentName != "policy.txt" {
		t.Errorf("verification citation = %+v", v.Citation)
	}

	if _, err := svc.VerifyCitation(context.Background(), testDocID.String(), 99, "claim", ""); !errors.Is(err, ErrChunkNotFound) {
		t.Errorf("missing chunk: got %v, want ErrChunkNotFound", err)
	}
}
