// Package chat turns inbound user messages into persisted assistant
// replies.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kaustubhduse/support-agent/internal/llm"
	"github.com/kaustubhduse/support-agent/internal/memory"
	"github.com/kaustubhduse/support-agent/internal/tools"
)

// Replies returned when a message could not be handled.
const (
	InternalErrorReply = "I'm sorry, I encountered an internal error. Please try again."
	RoutingErrorReply  = "Something went wrong while processing your request. Please try again later."
)

// MessageStore persists conversation messages.
type MessageStore interface {
	AddMessage(ctx context.Context, conversationID, role, content string) error
	History(ctx context.Context, conversationID string) ([]memory.Message, error)
}

// Router picks an agent for a message and returns its reply.
type Router interface {
	Route(ctx context.Context, message, conversationID string) string
}

// Service handles one message at a time per call; calls may run
// concurrently.
type Service struct {
	store  MessageStore
	router Router
	logger *slog.Logger
}

// NewService creates a chat service.
func NewService(store MessageStore, router Router, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		router: router,
		logger: logger.With("component", "chat"),
	}
}

// HandleIncomingMessage routes text to an agent, records the exchange, and
// returns the reply. It never fails: problems are logged and replaced with
// a fixed reply.
//
// The user message is stored after routing so the support agent's history
// does not already contain it.
func (s *Service) HandleIncomingMessage(ctx context.Context, conversationID, text string) string {
	if strings.TrimSpace(conversationID) == "" {
		s.logger.Error("message without conversation ID")
		return InternalErrorReply
	}

	ctx = tools.WithConversationID(ctx, conversationID)
	start := time.Now()

	reply, err := s.route(ctx, text, conversationID)
	if err != nil {
		s.logger.Error("routing failed", "conversation_id", conversationID, "error", err)
		reply = RoutingErrorReply
	}

	if err := s.store.AddMessage(ctx, conversationID, llm.RoleUser, text); err != nil {
		s.logger.Error("failed to store user message", "conversation_id", conversationID, "error", err)
		return InternalErrorReply
	}
	if err := s.store.AddMessage(ctx, conversationID, llm.RoleAssistant, reply); err != nil {
		s.logger.Error("failed to store reply", "conversation_id", conversationID, "error", err)
		return InternalErrorReply
	}

	s.logger.Info("message handled",
		"conversation_id", conversationID,
		"reply_len", len(reply),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return reply
}

// route calls the router, converting a panic into an error.
func (s *Service) route(ctx context.Context, text, conversationID string) (reply string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("router panic: %v", r)
		}
	}()
	return s.router.Route(ctx, text, conversationID), nil
}

// History returns the stored messages for a conversation.
func (s *Service) History(ctx context.Context, conversationID string) ([]memory.Message, error) {
	return s.store.History(ctx, conversationID)
}
