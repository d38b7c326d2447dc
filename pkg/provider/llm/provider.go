// Package llm defines the Provider interface for text-only language model
// backends.
//
// DeafCare drives Gemini for everything multimodal. Plain text completions
// (instruction sentences, post refinement, gloss) can additionally be served
// by any backend reachable through this interface, which lets the resilience
// layer fail over when the primary key is rate limited or exhausted.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is usually from
	// the "user" role.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction sent before
	// Messages.
	SystemPrompt string

	// Temperature overrides the backend default when non-nil.
	Temperature *float64

	// MaxTokens caps the completion length. Zero uses the backend default.
	MaxTokens int

	// JSON asks for a reply that is a single JSON object.
	JSON bool
}

// CompletionResponse is the reply to a [CompletionRequest].
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any text LLM backend.
type Provider interface {
	// Complete sends req and waits for the full response. It returns
	// promptly when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() ModelCapabilities
}
