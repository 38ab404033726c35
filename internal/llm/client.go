package llm

import "context"

// Client is the interface that all model providers implement.
type Client interface {
	// Chat sends one chat completion request and returns the reply.
	// A rate-limited request fails with an *APIError whose StatusCode
	// is 429.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
