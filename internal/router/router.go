// Package router classifies inbound messages and dispatches them to the
// specialized agent for their intent, keeping an audit trail of every
// decision.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kaustubhduse/support-agent/internal/agent"
	"github.com/kaustubhduse/support-agent/internal/observe"
)

// Intent names the agent a message is routed to.
type Intent string

// Intents.
const (
	IntentSupport Intent = "support"
	IntentOrder   Intent = "order"
	IntentBilling Intent = "billing"
)

// DefaultMaxAuditLog is how many decisions are kept when Config leaves it
// unset.
const DefaultMaxAuditLog = 1000

const classificationPrompt = `You are a router agent for a customer support system. Analyze this user message and determine which specialized agent should handle it.

User message: %q

Available agents:
- support: For general inquiries, FAQs, troubleshooting, product questions
- order: For order status, tracking, modifications, cancellations
- billing: For payment issues, refunds, invoices, subscription queries

Respond with ONLY the agent name (support, order, or billing). Do not add any other text.`

// Decision records how one message was classified.
type Decision struct {
	RequestID      string    `json:"request_id"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID string    `json:"conversation_id"`

	// Raw is the model's classification reply; Normalized is Raw after
	// Normalize.
	Raw        string `json:"raw"`
	Normalized string `json:"normalized"`
	Intent     Intent `json:"intent"`

	// Fallback is set when classification failed and the message went to
	// support by default.
	Fallback bool   `json:"fallback"`
	Error    string `json:"error,omitempty"`

	LatencyMs int64 `json:"latency_ms"`
}

// Config holds router configuration.
type Config struct {
	// Model overrides the loop's default model for classification.
	Model       string
	MaxAuditLog int
}

// Stats tracks routing statistics.
type Stats struct {
	TotalRequests int64            `json:"total_requests"`
	IntentCounts  map[Intent]int64 `json:"intent_counts"`
	Fallbacks     int64            `json:"fallbacks"`
	AvgLatencyMs  int64            `json:"avg_latency_ms"`
}

// Router classifies messages with one model call and hands them to the
// matching agent.
type Router struct {
	logger   *slog.Logger
	invoker  agent.Invoker
	handlers map[Intent]agent.Handler
	config   Config
	metrics  *observe.Metrics

	mu           sync.RWMutex
	auditLog     []Decision
	stats        Stats
	totalLatency int64
}

// NewRouter creates a router. handlers must include one agent per intent,
// matched by the agent's Name.
func NewRouter(logger *slog.Logger, invoker agent.Invoker, handlers []agent.Handler, config Config) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if invoker == nil {
		return nil, errors.New("router: invoker is required")
	}
	if config.MaxAuditLog <= 0 {
		config.MaxAuditLog = DefaultMaxAuditLog
	}

	byIntent := make(map[Intent]agent.Handler, len(handlers))
	for _, h := range handlers {
		byIntent[Intent(h.Name())] = h
	}
	for _, want := range []Intent{IntentSupport, IntentOrder, IntentBilling} {
		if byIntent[want] == nil {
			return nil, fmt.Errorf("router: no handler for intent %q", want)
		}
	}

	return &Router{
		logger:   logger.With("component", "router"),
		invoker:  invoker,
		handlers: byIntent,
		config:   config,
		metrics:  observe.DefaultMetrics(),
		auditLog: make([]Decision, 0, min(config.MaxAuditLog, 64)),
		stats:    Stats{IntentCounts: make(map[Intent]int64)},
	}, nil
}

// SetMetrics replaces the instruments the router records to.
func (r *Router) SetMetrics(m *observe.Metrics) {
	if m != nil {
		r.metrics = m
	}
}

// Route classifies message and returns the chosen agent's reply.
func (r *Router) Route(ctx context.Context, message, conversationID string) string {
	intent, _ := r.Classify(ctx, message, conversationID)
	return r.handlers[intent].Handle(ctx, message, conversationID)
}

// Classify asks the model which agent should handle message. Any failure
// routes to support and is recorded as a fallback.
func (r *Router) Classify(ctx context.Context, message, conversationID string) (Intent, *Decision) {
	start := time.Now()
	decision := &Decision{
		RequestID:      generateRequestID(),
		Timestamp:      start,
		ConversationID: conversationID,
		Intent:         IntentSupport,
	}

	ctx, span := observe.StartSpan(ctx, "router.classify")
	res, err := r.invoker.Invoke(ctx, agent.Invocation{
		System: fmt.Sprintf(classificationPrompt, message),
		Prompt: message,
		Model:  r.config.Model,
	})
	if err != nil {
		decision.Fallback = true
		decision.Error = err.Error()
		r.logger.Warn("classification failed, defaulting to support",
			"request_id", decision.RequestID,
			"conversation_id", conversationID,
			"error", err,
		)
	} else {
		decision.Raw = res.Text
		decision.Normalized = Normalize(res.Text)
		decision.Intent = intentFor(decision.Normalized)
	}
	decision.LatencyMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.String("intent", string(decision.Intent)),
		attribute.Bool("fallback", decision.Fallback),
	)
	observe.EndSpan(span, err)

	r.recordDecision(*decision)
	r.metrics.RecordRoutingDecision(ctx, string(decision.Intent), decision.Fallback)

	r.logger.Info("message routed",
		"request_id", decision.RequestID,
		"conversation_id", conversationID,
		"intent", decision.Intent,
		"raw", decision.Raw,
		"latency_ms", decision.LatencyMs,
	)

	return decision.Intent, decision
}

// Normalize lowercases s and drops every rune outside a-z.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r
		}
		return -1
	}, strings.ToLower(s))
}

// intentFor maps a normalized reply to an intent. "order" is checked
// before "billing"; anything else is support.
func intentFor(normalized string) Intent {
	switch {
	case strings.Contains(normalized, string(IntentOrder)):
		return IntentOrder
	case strings.Contains(normalized, string(IntentBilling)):
		return IntentBilling
	default:
		return IntentSupport
	}
}

// recordDecision adds a decision to the audit log.
func (r *Router) recordDecision(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.auditLog) >= r.config.MaxAuditLog {
		r.auditLog = r.auditLog[1:]
	}
	r.auditLog = append(r.auditLog, d)

	r.stats.TotalRequests++
	r.stats.IntentCounts[d.Intent]++
	if d.Fallback {
		r.stats.Fallbacks++
	}
	r.totalLatency += d.LatencyMs
	r.stats.AvgLatencyMs = r.totalLatency / r.stats.TotalRequests
}

// AuditLog returns up to limit of the most recent decisions, oldest
// first. A limit of zero or less returns all of them.
func (r *Router) AuditLog(limit int) []Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.auditLog) {
		limit = len(r.auditLog)
	}

	start := len(r.auditLog) - limit
	result := make([]Decision, limit)
	copy(result, r.auditLog[start:])
	return result
}

// Stats returns routing statistics.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := r.stats
	out.IntentCounts = make(map[Intent]int64, len(r.stats.IntentCounts))
	for k, v := range r.stats.IntentCounts {
		out.IntentCounts[k] = v
	}
	return out
}

// Explain returns the decision recorded for requestID, or nil once it has
// aged out of the audit log.
func (r *Router) Explain(requestID string) *Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.auditLog) - 1; i >= 0; i-- {
		if r.auditLog[i].RequestID == requestID {
			d := r.auditLog[i]
			return &d
		}
	}
	return nil
}

func generateRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
