// Package llm abstracts text generation over Ollama and OpenAI-compatible
// backends. Answer generation streams tokens; citation extraction uses the
// blocking call with temperature zero.
package llm

import "context"

// GenerateOptions configures a generation request. Zero values fall back to
// the client's defaults.
type GenerateOptions struct {
	Model        string
	SystemPrompt string
	Temperature  float32
	MaxTokens    int
}

// StreamChunk is one fragment of a streamed response. Done marks the final
// chunk; Error, when set, ends the stream.
type StreamChunk struct {
	Token string
	Done  bool
	Error error
}

// LLM is the text generation interface.
type LLM interface {
	// Generate blocks until the full response is available.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)

	// GenerateStream returns a channel of response chunks. The channel is
	// closed when generation completes, errors, or the context is
	// cancelled. Callers must check StreamChunk.Error.
	GenerateStream(ctx context.Context, prompt string, opts GenerateOptions) (<-chan StreamChunk, error)
}
