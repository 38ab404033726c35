package memory

import (
	"context"
	"fmt"
)

// SampleConversationID identifies the demo conversation written by Seed.
const SampleConversationID = "conv1"

// Seed writes the demo conversation unless it already has messages.
func Seed(ctx context.Context, s MemoryStore) error {
	existing, err := s.History(ctx, SampleConversationID)
	if err != nil {
		return fmt.Errorf("check sample conversation: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	msgs := []struct{ role, content string }{
		{"user", "Hello, I need help with my order"},
		{"assistant", "Hi! I'd be happy to help you with your order. Could you please provide your order ID?"},
	}
	for _, m := range msgs {
		if err := s.AddMessage(ctx, SampleConversationID, m.role, m.content); err != nil {
			return fmt.Errorf("seed sample conversation: %w", err)
		}
	}
	return nil
}
