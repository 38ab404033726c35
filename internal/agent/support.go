package agent

import (
	"context"
	"log/slog"

	"github.com/kaustubhduse/support-agent/internal/history"
	"github.com/kaustubhduse/support-agent/internal/llm"
	"github.com/kaustubhduse/support-agent/internal/memory"
)

// SupportSystemPrompt is the support agent's system prompt.
const SupportSystemPrompt = "You are a helpful customer support agent. You assist customers with general inquiries, FAQs, troubleshooting, and product questions. Be friendly, professional, and concise. If you don't know something, admit it and offer to connect them with a specialist."

// SupportFallback is returned when the model cannot be reached.
const SupportFallback = "I apologize, but I'm having trouble connecting to my AI service right now. Please try again in a moment, or contact human support if the issue persists."

// HistorySource loads a conversation's stored messages, oldest first.
type HistorySource interface {
	History(ctx context.Context, conversationID string) ([]memory.Message, error)
}

// SupportAgent answers general questions with the conversation's prior
// messages as context. It has no tools.
type SupportAgent struct {
	invoker   Invoker
	history   HistorySource
	maxTokens int
	logger    *slog.Logger
}

var _ Handler = (*SupportAgent)(nil)

// NewSupportAgent creates a support agent. maxContextTokens bounds the
// replayed history; zero or less means history.DefaultMaxTokens.
func NewSupportAgent(invoker Invoker, src HistorySource, maxContextTokens int, logger *slog.Logger) *SupportAgent {
	if logger == nil {
		logger = slog.Default()
	}
	if maxContextTokens <= 0 {
		maxContextTokens = history.DefaultMaxTokens
	}
	return &SupportAgent{
		invoker:   invoker,
		history:   src,
		maxTokens: maxContextTokens,
		logger:    logger.With("agent", "support"),
	}
}

// Name implements Handler.
func (a *SupportAgent) Name() string { return "support" }

// Handle implements Handler.
func (a *SupportAgent) Handle(ctx context.Context, message, conversationID string) string {
	prior := a.loadHistory(ctx, conversationID)
	window := history.Truncate(prior, a.maxTokens)
	a.logger.Info("context prepared",
		"conversation_id", conversationID,
		"stored", len(prior),
		"stats", history.ContextStats(window, a.maxTokens),
	)

	msgs := make([]llm.Message, 0, len(window)+1)
	msgs = append(msgs, window...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: message})

	res, err := a.invoker.Invoke(ctx, Invocation{System: SupportSystemPrompt, Messages: msgs})
	if err != nil {
		a.logger.Error("invocation failed", "conversation_id", conversationID, "error", err)
		return SupportFallback
	}
	return res.Text
}

// loadHistory maps stored messages to chat turns. Assistant messages keep
// their role; everything else is replayed as user input. A load failure
// degrades to no history.
func (a *SupportAgent) loadHistory(ctx context.Context, conversationID string) []llm.Message {
	if a.history == nil || conversationID == "" {
		return nil
	}
	stored, err := a.history.History(ctx, conversationID)
	if err != nil {
		a.logger.Warn("history unavailable, continuing without it", "conversation_id", conversationID, "error", err)
		return nil
	}

	out := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		role := llm.RoleUser
		if m.Role == llm.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}
