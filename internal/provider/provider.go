package provider

import (
	"context"
)

type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// Metadata for tracing and audit
	RequestID string
}

type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	ID       string
	Content  string
	Usage    Usage
	Model    string
	Provider string
}

// Provider is a thin transport adapter over one upstream completion API.
// Pricing and capability metadata live in the model catalog, not here.
type Provider interface {
	Send(ctx context.Context, req *Request) (*Response, error)
	Name() string
}
