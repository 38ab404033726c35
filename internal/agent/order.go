package agent

import (
	"context"
	"log/slog"

	"github.com/kaustubhduse/support-agent/internal/tools"
)

// OrderSystemPrompt is the order agent's system prompt.
const OrderSystemPrompt = "You are an order management specialist. Help customers with order status, tracking information, modifications, and cancellations. Be clear and informative about order details."

// OrderFallback is returned when the model cannot be reached.
const OrderFallback = "I'm currently running in offline mode due to API limits. I can't look up live orders right now, but normally I would help you with that!"

// OrderAgent answers order questions with the fetchOrder tool. It does not
// replay conversation history.
type OrderAgent struct {
	invoker Invoker
	store   tools.OrderStore
	logger  *slog.Logger
}

var _ Handler = (*OrderAgent)(nil)

// NewOrderAgent creates an order agent backed by store.
func NewOrderAgent(invoker Invoker, store tools.OrderStore, logger *slog.Logger) *OrderAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderAgent{invoker: invoker, store: store, logger: logger.With("agent", "order")}
}

// Name implements Handler.
func (a *OrderAgent) Name() string { return "order" }

// Handle implements Handler.
func (a *OrderAgent) Handle(ctx context.Context, message, conversationID string) string {
	res, err := a.invoker.Invoke(ctx, Invocation{
		System: OrderSystemPrompt,
		Prompt: message,
		Tools:  tools.OrderTools(a.store),
	})
	if err != nil {
		a.logger.Error("invocation failed", "conversation_id", conversationID, "error", err)
		return OrderFallback
	}
	return res.Text
}
