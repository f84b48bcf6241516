// Package llm defines the Provider interface for chat-completion backends.
//
// A Provider turns a list of chat messages into a single reply. Cashier turns
// are short and spoken back in one piece, so only blocking completion is
// modelled; there is no streaming or tool calling.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a chat-completion conversation.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the message text.
	Content string
}

// Usage reports token consumption for a single request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest is the input to [Provider.Complete].
type CompletionRequest struct {
	// SystemPrompt, when non-empty, is sent as a leading system message.
	SystemPrompt string

	// Messages is the conversation in chronological order.
	Messages []Message

	// Model overrides the provider's configured model when non-empty.
	Model string

	// Temperature is always sent as given; zero means deterministic sampling.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the provider default.
	MaxTokens int
}

// CompletionResponse is a finished reply.
type CompletionResponse struct {
	// Content is the reply text. It may be empty when the model produced none.
	Content string

	Usage Usage
}

// Provider is the abstraction over chat-completion backends.
type Provider interface {
	// Complete sends req and blocks until the full reply is available or ctx
	// is done. Exactly one upstream request is made; implementations do not
	// retry.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
