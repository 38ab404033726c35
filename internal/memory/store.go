// Package memory stores conversations and their append-only message logs.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is implemented by every conversation backend.
type MemoryStore interface {
	// AddMessage appends a message, creating the conversation if needed.
	AddMessage(ctx context.Context, conversationID, role, content string) error

	// History returns a conversation's messages oldest first. Unknown
	// conversations have an empty history.
	History(ctx context.Context, conversationID string) ([]Message, error)

	// Conversation returns the conversation with all its messages, or nil
	// if it does not exist.
	Conversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations returns every conversation, most recently updated
	// first, each carrying only its latest message.
	ListConversations(ctx context.Context) ([]Conversation, error)

	// DeleteConversation removes a conversation and its messages.
	DeleteConversation(ctx context.Context, id string) error

	Close() error
}

// Message is one persisted conversation message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"` // system, user, assistant, tool
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Conversation holds the state of a single conversation.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// newMessageID returns a time-ordered message ID.
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Store is an in-memory MemoryStore, used by tests and the one-shot CLI.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

var _ MemoryStore = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{conversations: make(map[string]*Conversation)}
}

// AddMessage appends a message to a conversation.
func (s *Store) AddMessage(_ context.Context, conversationID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &Conversation{ID: conversationID, CreatedAt: now}
		s.conversations[conversationID] = conv
	}

	conv.Messages = append(conv.Messages, Message{
		ID:             newMessageID(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	})
	conv.UpdatedAt = now
	return nil
}

// History returns a copy of the conversation's messages.
func (s *Store) History(_ context.Context, conversationID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return []Message{}, nil
	}
	return slices.Clone(conv.Messages), nil
}

// Conversation returns a copy of the conversation, or nil.
func (s *Store) Conversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, nil
	}
	return conv.copy(), nil
}

// ListConversations returns conversation summaries, newest first.
func (s *Store) ListConversations(_ context.Context) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		summary := Conversation{ID: conv.ID, CreatedAt: conv.CreatedAt, UpdatedAt: conv.UpdatedAt}
		if n := len(conv.Messages); n > 0 {
			summary.Messages = []Message{conv.Messages[n-1]}
		}
		out = append(out, summary)
	}
	slices.SortFunc(out, func(a, b Conversation) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out, nil
}

// DeleteConversation removes a conversation.
func (s *Store) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

func (c *Conversation) copy() *Conversation {
	return &Conversation{
		ID:        c.ID,
		Messages:  slices.Clone(c.Messages),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}
