// Package llm defines the chat-completion Provider interface used by the
// analysis stage and the research consensus checks.
//
// A provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance) behind a uniform non-streaming interface. The pipeline
// asks for structured output: when CompletionRequest.JSONMode is set, the
// backend must guarantee the reply parses as a single JSON value, either
// natively (response_format) or by constraining the prompt.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Message is one turn of the conversation sent to the model.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and may differ between providers for the same
// text.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message drives the
	// response.
	Messages []Message

	// SystemPrompt is injected before the conversation. Providers without
	// a dedicated system channel prepend it as a "system"-role message.
	SystemPrompt string

	// Temperature controls randomness in [0.0, 2.0]. Zero requests the
	// provider default.
	Temperature float64

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int

	// JSONMode requires the reply to be a single valid JSON value.
	JSONMode bool
}

// CompletionResponse is the full model reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// ModelInfo is static metadata about the backing model, assumed constant for
// the lifetime of the Provider.
type ModelInfo struct {
	// Provider names the backend ("openai", "anthropic", "ollama", ...).
	Provider string

	// Model is the concrete model identifier.
	Model string

	// ContextWindow is the prompt budget in tokens. The analyzer chunks
	// long transcripts to stay inside it.
	ContextWindow int

	// MaxOutputTokens bounds a single completion.
	MaxOutputTokens int
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req and waits for the full reply. When req.JSONMode
	// is set the returned Content parses as one JSON value.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many context-window tokens the messages
	// consume. The estimate may be rough but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Info describes the backing model.
	Info() ModelInfo
}

// EstimateTokens is the shared local approximation used by backends without
// a tokenisation API: ~4 characters per token plus per-message overhead.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}
