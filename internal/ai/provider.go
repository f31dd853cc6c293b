package ai

import (
	"context"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one completion call. Parameters are provider options such
// as temperature or max_tokens and are passed through untouched.
type ChatRequest struct {
	Model      string
	Messages   []Message
	Parameters map[string]any
}

// Completion is the provider's answer plus the metadata persisted with it.
type Completion struct {
	Created          int64 // unix seconds
	Content          string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*Completion, error)
}

// APIError is a non-2xx answer from a provider endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: status %d: %s: %s", e.Provider, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}
