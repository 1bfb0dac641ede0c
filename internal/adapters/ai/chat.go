package ai

import "context"

// ChatProvider is the contract for LLM chat completion backends.
type ChatProvider interface {
	// Name returns the provider identifier (e.g., "openai").
	Name() string

	// Chat sends a chat completion request. When req.ResponseSchema is set the
	// provider constrains the output to that JSON schema.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	Model          string
	Messages       []Message
	Temperature    float64
	MaxTokens      int
	ResponseSchema *ResponseSchema // Optional structured-output constraint
}

// ResponseSchema names a JSON schema the completion must conform to.
type ResponseSchema struct {
	Name   string
	Schema map[string]interface{}
}

// Message represents a single message in the conversation.
type Message struct {
	Role    MessageRole
	Content string
}

// MessageRole defines the role of a message sender.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ChatResponse represents the response from a chat completion.
type ChatResponse struct {
	ID      string
	Model   string
	Content string
	Usage   Usage
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
