package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kaustubhduse/support-agent/internal/llm"
)

// mockLLM returns scripted replies in sequence and records each request.
// A step with a non-nil err fails that call.
type mockLLM struct {
	mu    sync.Mutex
	steps []mockStep
	calls []llm.ChatRequest
}

type mockStep struct {
	resp *llm.ChatResponse
	err  error
}

func (m *mockLLM) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req.Messages = slices.Clone(req.Messages)
	m.calls = append(m.calls, req)

	i := len(m.calls) - 1
	if i >= len(m.steps) {
		return nil, fmt.Errorf("mockLLM: no more responses (call %d)", i)
	}
	return m.steps[i].resp, m.steps[i].err
}

func (m *mockLLM) Ping(context.Context) error { return nil }

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func textReply(s string) mockStep {
	return mockStep{resp: &llm.ChatResponse{
		Model:        "test-model",
		Message:      llm.Message{Role: llm.RoleAssistant, Content: s},
		InputTokens:  10,
		OutputTokens: 5,
	}}
}

func toolReply(calls ...llm.ToolCall) mockStep {
	return mockStep{resp: &llm.ChatResponse{
		Model:   "test-model",
		Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: calls},
	}}
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Function: llm.FunctionCall{Name: name, Arguments: args}}
}

func rateLimited() mockStep {
	return mockStep{err: &llm.APIError{Provider: "openai", StatusCode: 429, Message: "slow down"}}
}

func failure(msg string) mockStep {
	return mockStep{err: errors.New(msg)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestLoop builds a loop whose backoff waits are recorded, not slept.
func newTestLoop(mock *mockLLM) (*Loop, *[]time.Duration) {
	l := NewLoop(discardLogger(), mock, LoopConfig{DefaultModel: "test-model"})
	var waits []time.Duration
	l.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	return l, &waits
}
