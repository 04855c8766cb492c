// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o,
// Google Gemini, or a local Ollama instance) and exposes a uniform interface
// for the VocaHire evaluator to request completions, optionally constrained by
// a JSON schema, without coupling to any specific SDK.
//
// Implementors must be safe for concurrent use. A single Provider is built at
// process start and shared by every pipeline invocation.
package llm

import (
	"context"
	"errors"
)

// ErrTruncated is returned when the backend stopped generating because it hit
// the token limit. A cut-off JSON document cannot be parsed, so callers treat
// it as a failed completion rather than a short answer.
var ErrTruncated = errors.New("llm: completion truncated at token limit")

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages must
// be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is typically from
	// the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// means use the provider default.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation. Providers without a dedicated system field prepend it as a
	// "system"-role message.
	SystemPrompt string

	// ResponseSchema, when non-nil, asks the backend to return a JSON object
	// conforming to the schema. Backends without native structured output
	// append the schema to the system prompt instead.
	ResponseSchema *ResponseSchema
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. With a ResponseSchema
	// this is the raw JSON document; the caller owns parsing and validation.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must return promptly when ctx is cancelled.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens that the given message list
	// would consume in the model's context window. The result need not be exact
	// but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata describing the underlying model.
	Capabilities() ModelCapabilities
}

// EstimateTokens is the shared ~4 characters per token approximation used by
// providers without a tokenizer endpoint.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		// Per-message overhead (role + formatting tokens).
		total += 4
	}
	return total
}
