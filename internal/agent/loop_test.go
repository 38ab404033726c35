package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/kaustubhduse/support-agent/internal/llm"
	"github.com/kaustubhduse/support-agent/internal/tools"
)

func registryWith(ts ...*tools.Tool) *tools.Registry {
	return tools.NewRegistry().MustRegister(ts...)
}

func lookupTool(calls *atomic.Int32) *tools.Tool {
	return &tools.Tool{
		Name:        "lookup",
		Description: "Look something up",
		Parameters: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"id": {Type: "string"}},
			Required:   []string{"id"},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			calls.Add(1)
			return map[string]any{"id": args["id"], "found": true}, nil
		},
	}
}

func TestInvoke_NoToolCalls(t *testing.T) {
	mock := &mockLLM{steps: []mockStep{textReply("Hello there")}}
	loop, _ := newTestLoop(mock)

	res, err := loop.Invoke(context.Background(), Invocation{System: "sys", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Text != "Hello there" {
		t.Errorf("Text = %q", res.Text)
	}
	if mock.callCount() != 1 || res.Turns != 1 {
		t.Errorf("calls = %d, turns = %d; want 1, 1", mock.callCount(), res.Turns)
	}

	req := mock.calls[0]
	if len(req.Messages) != 2 || req.Messages[0].Role != llm.RoleSystem || req.Messages[0].Content != "sys" ||
		req.Messages[1].Role != llm.RoleUser || req.Messages[1].Content != "hi" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.Model != "test-model" || req.Temperature == nil || *req.Temperature != 0.7 || req.MaxTokens != 1024 {
		t.Errorf("request options = model %q temp %v max %d", req.Model, req.Temperature, req.MaxTokens)
	}
	if len(req.Tools) != 0 || req.ToolChoice != "" {
		t.Errorf("tool-free invocation declared tools: %+v / %q", req.Tools, req.ToolChoice)
	}
	if res.InputTokens != 10 || res.OutputTokens != 5 {
		t.Errorf("tokens = %d/%d", res.InputTokens, res.OutputTokens)
	}
}

func TestInvoke_MessagesUsedVerbatim(t *testing.T) {
	mock := &mockLLM{steps: []mockStep{textReply("ok")}}
	loop, _ := newTestLoop(mock)

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: "second"},
		{Role: llm.RoleUser, Content: "third"},
	}
	_, err := loop.Invoke(context.Background(), Invocation{
		System:   "sys",
		Messages: history,
		Prompt:   "ignored",
		Model:    "other-model",
	})
	if err != nil {
		t.Fatal(err)
	}

	got := mock.calls[0]
	if got.Model != "other-model" {
		t.Errorf("Model = %q, want override", got.Model)
	}
	if len(got.Messages) != 4 {
		t.Fatalf("got %d messages, want system + 3", len(got.Messages))
	}
	for i, m := range history {
		if got.Messages[i+1].Content != m.Content || got.Messages[i+1].Role != m.Role {
			t.Errorf("message %d = %+v, want %+v", i+1, got.Messages[i+1], m)
		}
	}
}

func TestInvoke_RequiresSystemPrompt(t *testing.T) {
	mock := &mockLLM{}
	loop, _ := newTestLoop(mock)
	if _, err := loop.Invoke(context.Background(), Invocation{Prompt: "hi"}); err == nil {
		t.Fatal("expected error for empty system prompt")
	}
	if mock.callCount() != 0 {
		t.Errorf("endpoint called %d times", mock.callCount())
	}
}

func TestInvoke_OneToolCall(t *testing.T) {
	var executed atomic.Int32
	mock := &mockLLM{steps: []mockStep{
		toolReply(call("call_1", "lookup", `{"id":"X1"}`)),
		textReply("Found X1"),
	}}
	loop, _ := newTestLoop(mock)

	res, err := loop.Invoke(context.Background(), Invocation{
		System: "sys",
		Prompt: "find X1",
		Tools:  registryWith(lookupTool(&executed)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if mock.callCount() != 2 {
		t.Fatalf("calls = %d, want 2", mock.callCount())
	}
	if res.Text != "Found X1" || res.Turns != 2 || res.ToolCalls != 1 {
		t.Errorf("result = %+v", res)
	}
	if executed.Load() != 1 {
		t.Errorf("tool executed %d times", executed.Load())
	}

	first := mock.calls[0]
	if len(first.Tools) != 1 || first.Tools[0].Name != "lookup" || first.ToolChoice != llm.ToolChoiceAuto {
		t.Errorf("first request tools = %+v, choice %q", first.Tools, first.ToolChoice)
	}

	second := mock.calls[1].Messages
	if len(second) != 4 {
		t.Fatalf("second request has %d messages, want 4", len(second))
	}
	asst, toolMsg := second[2], second[3]
	if asst.Role != llm.RoleAssistant || len(asst.ToolCalls) != 1 {
		t.Errorf("assistant turn = %+v", asst)
	}
	if toolMsg.Role != llm.RoleTool || toolMsg.ToolCallID != "call_1" || toolMsg.Name != "lookup" {
		t.Errorf("tool message = %+v", toolMsg)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(toolMsg.Content), &payload); err != nil || payload["found"] != true {
		t.Errorf("tool content = %s", toolMsg.Content)
	}
}

func TestInvoke_TurnCap(t *testing.T) {
	var executed atomic.Int32
	steps := make([]mockStep, 0, 6)
	for i := range 6 {
		steps = append(steps, toolReply(call("c"+string(rune('0'+i)), "lookup", `{"id":"A"}`)))
	}
	mock := &mockLLM{steps: steps}
	loop, _ := newTestLoop(mock)

	res, err := loop.Invoke(context.Background(), Invocation{
		System: "sys",
		Prompt: "loop forever",
		Tools:  registryWith(lookupTool(&executed)),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != MaxTurnsReply {
		t.Errorf("Text = %q, want %q", res.Text, MaxTurnsReply)
	}
	if mock.callCount() != 5 {
		t.Errorf("calls = %d, want exactly 5", mock.callCount())
	}
	if res.Turns != 5 || res.ToolCalls != 5 {
		t.Errorf("turns = %d, tool calls = %d", res.Turns, res.ToolCalls)
	}
}

func TestInvoke_ToolFailuresContinue(t *testing.T) {
	failing := &tools.Tool{
		Name: "explode",
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("kaboom")
		},
	}
	mock := &mockLLM{steps: []mockStep{
		toolReply(
			call("a", "explode", `{}`),
			call("b", "missing", `{}`),
			call("c", "explode", `{not json`),
		),
		textReply("Sorry about that"),
	}}
	loop, _ := newTestLoop(mock)

	res, err := loop.Invoke(context.Background(), Invocation{
		System: "sys",
		Prompt: "go",
		Tools:  registryWith(failing),
	})
	if err != nil {
		t.Fatalf("tool failures aborted the loop: %v", err)
	}
	if res.Text != "Sorry about that" {
		t.Errorf("Text = %q", res.Text)
	}

	msgs := mock.calls[1].Messages
	toolMsgs := msgs[len(msgs)-3:]
	wantIDs := []string{"a", "b", "c"}
	wantErr := []string{"kaboom", "Tool not found", "invalid arguments"}
	for i, m := range toolMsgs {
		if m.Role != llm.RoleTool || m.ToolCallID != wantIDs[i] {
			t.Errorf("tool msg %d = %+v, want call %s", i, m, wantIDs[i])
		}
		var payload map[string]string
		if err := json.Unmarshal([]byte(m.Content), &payload); err != nil {
			t.Fatalf("tool msg %d content %q: %v", i, m.Content, err)
		}
		if !strings.Contains(payload["error"], wantErr[i]) {
			t.Errorf("tool msg %d error = %q, want containing %q", i, payload["error"], wantErr[i])
		}
	}
	if toolMsgs[1].Content != `{"error":"Tool not found"}` {
		t.Errorf("unknown tool content = %s", toolMsgs[1].Content)
	}
}

func TestInvoke_ToolPanicContinues(t *testing.T) {
	var lookups atomic.Int32
	panicking := &tools.Tool{
		Name: "crash",
		Handler: func(context.Context, map[string]any) (any, error) {
			var counts map[string]int
			counts["hit"]++
			return counts, nil
		},
	}
	mock := &mockLLM{steps: []mockStep{
		toolReply(
			call("a", "crash", `{}`),
			call("b", "lookup", `{"id":"ORD1"}`),
		),
		textReply("Recovered"),
	}}
	loop, _ := newTestLoop(mock)

	res, err := loop.Invoke(context.Background(), Invocation{
		System: "sys",
		Prompt: "go",
		Tools:  registryWith(panicking, lookupTool(&lookups)),
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Text != "Recovered" || mock.callCount() != 2 {
		t.Errorf("Text = %q after %d calls, want Recovered after 2", res.Text, mock.callCount())
	}
	if lookups.Load() != 1 {
		t.Errorf("sibling tool ran %d times, want 1", lookups.Load())
	}

	msgs := mock.calls[1].Messages
	crashed := msgs[len(msgs)-2]
	var payload map[string]string
	if err := json.Unmarshal([]byte(crashed.Content), &payload); err != nil {
		t.Fatalf("content %q: %v", crashed.Content, err)
	}
	if crashed.ToolCallID != "a" || !strings.Contains(payload["error"], "tool panicked") {
		t.Errorf("panicking tool message = %+v", crashed)
	}
	if last := msgs[len(msgs)-1]; last.ToolCallID != "b" || strings.Contains(last.Content, "error") {
		t.Errorf("sibling tool message = %+v", last)
	}
}

func TestInvoke_ConcurrentToolCalls(t *testing.T) {
	const n = 3
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	slow := &tools.Tool{
		Name: "slow",
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			cur := inFlight.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			if cur == n {
				close(release)
			}
			select {
			case <-release:
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
			}
			inFlight.Add(-1)
			return "done", nil
		},
	}

	calls := make([]llm.ToolCall, n)
	for i := range calls {
		calls[i] = call(string(rune('x'+i)), "slow", `{}`)
	}
	mock := &mockLLM{steps: []mockStep{toolReply(calls...), textReply("all done")}}
	loop, _ := newTestLoop(mock)

	res, err := loop.Invoke(context.Background(), Invocation{System: "sys", Prompt: "go", Tools: registryWith(slow)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "all done" {
		t.Errorf("Text = %q", res.Text)
	}
	if peak.Load() != n {
		t.Errorf("peak concurrency = %d, want %d", peak.Load(), n)
	}

	msgs := mock.calls[1].Messages
	for i, m := range msgs[len(msgs)-n:] {
		if m.ToolCallID != calls[i].ID {
			t.Errorf("result %d belongs to %s, want %s (call order)", i, m.ToolCallID, calls[i].ID)
		}
	}
}

func TestInvoke_RateLimitRetry(t *testing.T) {
	tests := []struct {
		name      string
		steps     []mockStep
		wantErr   bool
		wantCalls int
		wantWaits []time.Duration
	}{
		{
			name:      "recovers on second attempt",
			steps:     []mockStep{rateLimited(), textReply("ok")},
			wantCalls: 2,
			wantWaits: []time.Duration{time.Second},
		},
		{
			name:      "recovers on third attempt",
			steps:     []mockStep{rateLimited(), rateLimited(), textReply("ok")},
			wantCalls: 3,
			wantWaits: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:      "gives up after three attempts",
			steps:     []mockStep{rateLimited(), rateLimited(), rateLimited(), textReply("never")},
			wantErr:   true,
			wantCalls: 3,
			wantWaits: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:      "other errors are not retried",
			steps:     []mockStep{failure("connection refused"), textReply("never")},
			wantErr:   true,
			wantCalls: 1,
		},
		{
			name:      "non-429 API errors are not retried",
			steps:     []mockStep{{err: &llm.APIError{Provider: "openai", StatusCode: 500}}},
			wantErr:   true,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockLLM{steps: tt.steps}
			loop, waits := newTestLoop(mock)

			res, err := loop.Invoke(context.Background(), Invocation{System: "sys", Prompt: "hi"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && res.Text != "ok" {
				t.Errorf("Text = %q", res.Text)
			}
			if mock.callCount() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", mock.callCount(), tt.wantCalls)
			}
			if len(*waits) != len(tt.wantWaits) {
				t.Fatalf("waits = %v, want %v", *waits, tt.wantWaits)
			}
			var total time.Duration
			for i, w := range *waits {
				total += w
				if w != tt.wantWaits[i] {
					t.Errorf("wait %d = %v, want %v", i, w, tt.wantWaits[i])
				}
			}
			if total > 3*time.Second {
				t.Errorf("cumulative backoff %v exceeds 3s", total)
			}
		})
	}
}

func TestInvoke_RateLimitedErrorIsWrapped(t *testing.T) {
	mock := &mockLLM{steps: []mockStep{rateLimited(), rateLimited(), rateLimited()}}
	loop, _ := newTestLoop(mock)

	_, err := loop.Invoke(context.Background(), Invocation{System: "sys", Prompt: "hi"})
	if !llm.IsRateLimited(err) {
		t.Errorf("exhausted retries should still report rate limiting, got %v", err)
	}
}

func TestInvoke_CancelDuringBackoff(t *testing.T) {
	mock := &mockLLM{steps: []mockStep{rateLimited(), textReply("never")}}
	loop := NewLoop(discardLogger(), mock, LoopConfig{DefaultModel: "m", RetryBackoff: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for mock.callCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	start := time.Now()
	_, err := loop.Invoke(ctx, Invocation{System: "sys", Prompt: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("backoff wait ignored cancellation")
	}
}

func TestLoopConfig_Defaults(t *testing.T) {
	got := LoopConfig{DefaultModel: "m"}.withDefaults()
	if got.MaxTurns != 5 || got.MaxAttempts != 3 || got.RetryBackoff != time.Second ||
		got.Temperature == nil || *got.Temperature != 0.7 || got.MaxTokens != 1024 {
		t.Errorf("defaults = %+v", got)
	}

	temp := 0.1
	custom := LoopConfig{MaxTurns: 2, MaxAttempts: 1, RetryBackoff: time.Millisecond, Temperature: &temp, MaxTokens: 64}.withDefaults()
	if custom.MaxTurns != 2 || custom.MaxAttempts != 1 || custom.RetryBackoff != time.Millisecond ||
		*custom.Temperature != 0.1 || custom.MaxTokens != 64 {
		t.Errorf("custom config overwritten: %+v", custom)
	}

	zero := 0.0
	if got := (LoopConfig{Temperature: &zero}).withDefaults(); *got.Temperature != 0 {
		t.Errorf("explicit zero temperature replaced with %v", *got.Temperature)
	}
}
