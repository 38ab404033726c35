package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kaustubhduse/support-agent/internal/httpkit"
)

// DefaultOllamaURL is where a local Ollama listens by default.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaClient is a client for the Ollama chat API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(5*time.Minute),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// ollamaRequest is the /api/chat request body.
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ToolDefinition `json:"function"`
}

// ollamaMessage differs from Message only in tool call arguments, which
// Ollama sends and expects as a JSON object rather than a string.
type ollamaMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
}

type ollamaToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// ollamaWireResponse is the /api/chat response body.
type ollamaWireResponse struct {
	Model           string        `json:"model"`
	CreatedAt       string        `json:"created_at"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

func (w *ollamaWireResponse) toChatResponse() *ChatResponse {
	resp := &ChatResponse{
		Model:        w.Model,
		FinishReason: w.DoneReason,
		InputTokens:  w.PromptEvalCount,
		OutputTokens: w.EvalCount,
		Message: Message{
			Role:    RoleAssistant,
			Content: w.Message.Content,
		},
	}
	if t, err := time.Parse(time.RFC3339Nano, w.CreatedAt); err == nil {
		resp.CreatedAt = t
	}
	for i, tc := range w.Message.ToolCalls {
		resp.Message.ToolCalls = append(resp.Message.ToolCalls, fromOllamaToolCall(tc, i))
	}
	return resp
}

func fromOllamaToolCall(tc ollamaToolCall, index int) ToolCall {
	args := "{}"
	if tc.Function.Arguments != nil {
		if b, err := json.Marshal(tc.Function.Arguments); err == nil {
			args = string(b)
		}
	}
	id := tc.ID
	if id == "" {
		id = fmt.Sprintf("call_%d", index)
	}
	return ToolCall{ID: id, Function: FunctionCall{Name: tc.Function.Name, Arguments: args}}
}

func toOllamaMessage(m Message) (ollamaMessage, error) {
	out := ollamaMessage{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		ToolName:   m.Name,
	}
	for _, tc := range m.ToolCalls {
		var call ollamaToolCall
		call.ID = tc.ID
		call.Function.Name = tc.Function.Name
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &call.Function.Arguments); err != nil {
				return ollamaMessage{}, fmt.Errorf("tool call %s arguments: %w", tc.ID, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}

// Chat sends a non-streaming chat request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	wireReq := ollamaRequest{
		Model:  req.Model,
		Stream: false,
	}
	for _, m := range req.Messages {
		om, err := toOllamaMessage(m)
		if err != nil {
			return nil, fmt.Errorf("ollama: %w", err)
		}
		wireReq.Messages = append(wireReq.Messages, om)
	}
	for _, td := range req.Tools {
		wireReq.Tools = append(wireReq.Tools, ollamaTool{Type: "function", Function: td})
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		wireReq.Options = &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	}

	jsonData, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "ollama request", "model", req.Model, "payload", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Provider:   "ollama",
			StatusCode: resp.StatusCode,
			Message:    httpkit.ReadErrorBody(resp.Body, 512),
		}
	}

	var wire ollamaWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	chatResp := wire.toChatResponse()

	// Smaller local models often emit tool calls as JSON text instead of
	// using the native field.
	if len(chatResp.Message.ToolCalls) == 0 && len(req.Tools) > 0 {
		if parsed := parseTextToolCalls(chatResp.Message.Content, toolNames(req.Tools)); len(parsed) > 0 {
			c.logger.Debug("parsed tool calls from text", "count", len(parsed))
			chatResp.Message.ToolCalls = parsed
			chatResp.Message.Content = ""
		}
	}

	return chatResp, nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama: request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return &APIError{Provider: "ollama", StatusCode: resp.StatusCode}
	}
	return nil
}

func toolNames(tools []ToolDefinition) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}

// textToolCall is the shape models use when writing a call as text.
type textToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// parseTextToolCalls extracts tool calls written into message content.
// Handled forms:
//   - {"name": "...", "arguments": {...}}
//   - [{"name": ..., "arguments": ...}, ...]
//   - concatenated objects {...}{...} with optional trailing prose
//   - <tool_call>...</tool_call> wrapping any of the above
//
// Calls naming a tool outside validTools are dropped. An empty validTools
// accepts every name.
func parseTextToolCalls(content string, validTools []string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		rest := content[start+len("<tool_call>"):]
		if end := strings.Index(rest, "</tool_call>"); end != -1 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}

	var raw []textToolCall
	if strings.HasPrefix(content, "[") {
		if err := json.Unmarshal([]byte(content), &raw); err != nil {
			return nil
		}
	} else if strings.HasPrefix(content, "{") {
		dec := json.NewDecoder(strings.NewReader(content))
		for {
			var call textToolCall
			if err := dec.Decode(&call); err != nil {
				break
			}
			raw = append(raw, call)
		}
	}

	valid := make(map[string]bool, len(validTools))
	for _, name := range validTools {
		valid[name] = true
	}

	var calls []ToolCall
	for _, c := range raw {
		if c.Name == "" {
			continue
		}
		if len(valid) > 0 && !valid[c.Name] {
			continue
		}
		var tc ollamaToolCall
		tc.Function.Name = c.Name
		tc.Function.Arguments = c.Arguments
		calls = append(calls, fromOllamaToolCall(tc, len(calls)))
	}
	return calls
}
