// Package llm abstracts the completion capability the pipeline needs: given
// system/user messages, produce text and report token usage.
package llm

import "context"

// Role values mirror the chat wire roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is the input for one completion call.
type GenerateRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`       // override default
	MaxTokens   int       `json:"maxTokens,omitempty"`   // override default
	Temperature *float32  `json:"temperature,omitempty"` // override default
	JSONMode    bool      `json:"jsonMode,omitempty"`    // constrain output to a JSON object
}

// Usage tracks token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// GenerateResponse is the result of a completion call.
type GenerateResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Client is the completion capability. Implementations are shared,
// thread-safe, and own their retry/backoff.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	DefaultModel() string
}
