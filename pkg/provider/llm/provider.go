// Package llm defines the Provider interface for the text-generation stage.
//
// A provider wraps a chat-completion API (a hosted model or a local
// OpenAI-compatible server such as LM Studio) behind one request/response
// method. The chunked transport calls it once per utterance with the running
// conversation context.
//
// Implementations must be safe for concurrent use and classify errors with
// callerr kinds at origin.
package llm

import "context"

// Message is one turn of conversation context.
type Message struct {
	// Role is "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// Request carries everything the model needs to produce a response.
type Request struct {
	// ConversationID ties the request to a stored conversation. Informational
	// for providers; persistence is handled by the caller.
	ConversationID string

	// SystemPrompt is an optional instruction injected before the history.
	SystemPrompt string

	// Messages is the ordered conversation history; the last entry is the
	// user's transcribed utterance.
	Messages []Message

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int
}

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// Complete generates one response for the given request.
	Complete(ctx context.Context, req Request) (string, error)
}
