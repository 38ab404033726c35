// Package agent runs the bounded tool-calling loop against a model
// endpoint and implements the specialized support, order and billing
// agents on top of it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kaustubhduse/support-agent/internal/llm"
	"github.com/kaustubhduse/support-agent/internal/observe"
	"github.com/kaustubhduse/support-agent/internal/tools"
)

// MaxTurnsReply is returned when the model is still requesting tools after
// the turn cap.
const MaxTurnsReply = "Max turns reached without final response."

// Loop defaults.
const (
	DefaultMaxTurns     = 5
	DefaultMaxAttempts  = 3
	DefaultRetryBackoff = time.Second
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 1024
)

// LoopConfig holds the request options and limits of a Loop. Zero values
// take the package defaults, except DefaultModel which must be set.
type LoopConfig struct {
	DefaultModel string

	// Temperature defaults to DefaultTemperature when nil; a zero value
	// is sent as zero.
	Temperature *float64
	MaxTokens   int

	// MaxTurns caps model round trips per invocation.
	MaxTurns int

	// MaxAttempts is the total number of tries for one turn when the
	// endpoint answers 429. Attempt n waits n×RetryBackoff before the next.
	MaxAttempts  int
	RetryBackoff time.Duration
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	return c
}

// Invocation is one request to the loop.
type Invocation struct {
	// System is the system prompt. Required.
	System string

	// Messages seeds the turn verbatim when non-nil. Otherwise Prompt is
	// sent as a single user message.
	Messages []llm.Message
	Prompt   string

	// Model overrides LoopConfig.DefaultModel.
	Model string

	// Tools may be nil for a tool-free invocation.
	Tools *tools.Registry
}

// Result is the outcome of a completed invocation.
type Result struct {
	Text         string
	Model        string
	Turns        int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
}

// Invoker runs invocations. *Loop is the production implementation.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (*Result, error)
}

// Loop drives the multi-turn tool-calling protocol. It holds no
// per-invocation state and is safe for concurrent use.
type Loop struct {
	logger  *slog.Logger
	llm     llm.Client
	cfg     LoopConfig
	metrics *observe.Metrics

	// sleep waits out a retry backoff; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Invoker = (*Loop)(nil)

// NewLoop creates a loop over client.
func NewLoop(logger *slog.Logger, client llm.Client, cfg LoopConfig) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger:  logger.With("component", "agent"),
		llm:     client,
		cfg:     cfg.withDefaults(),
		metrics: observe.DefaultMetrics(),
		sleep:   sleepContext,
	}
}

// SetMetrics replaces the instruments the loop records to.
func (l *Loop) SetMetrics(m *observe.Metrics) {
	if m != nil {
		l.metrics = m
	}
}

// Invoke runs the tool-calling loop until the model replies without tool
// calls or the turn cap is reached. Tool failures are reported back to the
// model and never abort the invocation; endpoint failures do.
func (l *Loop) Invoke(ctx context.Context, inv Invocation) (result *Result, err error) {
	if inv.System == "" {
		return nil, errors.New("system prompt is required")
	}
	model := inv.Model
	if model == "" {
		model = l.cfg.DefaultModel
	}

	ctx, span := observe.StartSpan(ctx, "agent.invoke", trace.WithAttributes(
		attribute.String("model", model),
		attribute.Int("tools", inv.Tools.Len()),
	))
	defer func() { observe.EndSpan(span, err) }()

	log := observe.WithTrace(ctx, l.logger).With(
		"conversation_id", tools.ConversationIDFromContext(ctx),
		"model", model,
	)

	messages := make([]llm.Message, 0, len(inv.Messages)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: inv.System})
	if inv.Messages != nil {
		messages = append(messages, inv.Messages...)
	} else if inv.Prompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: inv.Prompt})
	}

	req := llm.ChatRequest{
		Model:       model,
		Tools:       inv.Tools.Definitions(),
		Temperature: l.cfg.Temperature,
		MaxTokens:   l.cfg.MaxTokens,
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = llm.ToolChoiceAuto
	}

	res := &Result{Model: model}
	for turn := 1; turn <= l.cfg.MaxTurns; turn++ {
		req.Messages = messages
		log.Debug("sending turn", "turn", turn, "messages", len(messages), "tools", len(req.Tools))

		resp, err := l.chatWithRetry(ctx, req, log)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", turn, err)
		}

		res.Turns = turn
		res.InputTokens += resp.InputTokens
		res.OutputTokens += resp.OutputTokens
		if resp.Model != "" {
			res.Model = resp.Model
		}

		reply := resp.Message
		reply.Role = llm.RoleAssistant
		messages = append(messages, reply)

		if len(reply.ToolCalls) == 0 {
			res.Text = reply.Content
			l.metrics.RecordInvocation(ctx, turn, false)
			log.Info("invocation complete",
				"turns", turn,
				"tool_calls", res.ToolCalls,
				"input_tokens", res.InputTokens,
				"output_tokens", res.OutputTokens,
			)
			return res, nil
		}

		log.Debug("tool calls requested", "turn", turn, "count", len(reply.ToolCalls))
		messages = append(messages, l.executeTools(ctx, inv.Tools, reply.ToolCalls, log)...)
		res.ToolCalls += len(reply.ToolCalls)
	}

	l.metrics.RecordInvocation(ctx, l.cfg.MaxTurns, true)
	log.Warn("turn cap reached without final response", "max_turns", l.cfg.MaxTurns, "tool_calls", res.ToolCalls)
	res.Text = MaxTurnsReply
	return res, nil
}

// executeTools runs one turn's tool calls concurrently and returns one
// tool message per call, in call order.
func (l *Loop) executeTools(ctx context.Context, reg *tools.Registry, calls []llm.ToolCall, log *slog.Logger) []llm.Message {
	out := make([]llm.Message, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			start := time.Now()
			res := reg.Execute(ctx, call.Function.Name, call.Function.Arguments)
			elapsed := time.Since(start)

			status := "ok"
			if res.Failed() {
				status = "error"
				log.Warn("tool failed", "tool", call.Function.Name, "call_id", call.ID, "error", res.Err)
			} else {
				log.Debug("tool executed", "tool", call.Function.Name, "call_id", call.ID, "elapsed", elapsed)
			}
			l.metrics.RecordToolCall(ctx, call.Function.Name, status, elapsed.Seconds())

			out[i] = llm.Message{
				Role:       llm.RoleTool,
				Content:    res.String(),
				ToolCallID: call.ID,
				Name:       call.Function.Name,
			}
			return nil
		})
	}
	g.Wait()

	return out
}
