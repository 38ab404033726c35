package agent

import (
	"context"
	"log/slog"

	"github.com/kaustubhduse/support-agent/internal/tools"
)

// BillingSystemPrompt is the billing agent's system prompt.
const BillingSystemPrompt = "You are a billing and payment specialist. Help customers with invoices, payment issues, refunds, and subscription queries. Be professional and clear about financial matters."

// BillingFallback is returned when the model cannot be reached.
const BillingFallback = "I'm currently running in offline mode due to API limits. I can't check invoice details right now, but normally I would help you with that!"

// BillingAgent answers invoice and refund questions with the billing tools.
// It does not replay conversation history.
type BillingAgent struct {
	invoker Invoker
	store   tools.BillingStore
	logger  *slog.Logger
}

var _ Handler = (*BillingAgent)(nil)

// NewBillingAgent creates a billing agent backed by store.
func NewBillingAgent(invoker Invoker, store tools.BillingStore, logger *slog.Logger) *BillingAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingAgent{invoker: invoker, store: store, logger: logger.With("agent", "billing")}
}

// Name implements Handler.
func (a *BillingAgent) Name() string { return "billing" }

// Handle implements Handler.
func (a *BillingAgent) Handle(ctx context.Context, message, conversationID string) string {
	res, err := a.invoker.Invoke(ctx, Invocation{
		System: BillingSystemPrompt,
		Prompt: message,
		Tools:  tools.BillingTools(a.store),
	})
	if err != nil {
		a.logger.Error("invocation failed", "conversation_id", conversationID, "error", err)
		return BillingFallback
	}
	return res.Text
}
