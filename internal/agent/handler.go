package agent

import "context"

// Handler turns one inbound message into a reply. Handlers never fail:
// errors are logged and replaced with a fixed fallback reply.
type Handler interface {
	Name() string
	Handle(ctx context.Context, message, conversationID string) string
}
