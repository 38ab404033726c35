package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/kaustubhduse/support-agent/internal/httpkit"
)

// DefaultOpenAIBaseURL is Together's OpenAI-compatible endpoint.
const DefaultOpenAIBaseURL = "https://api.together.xyz/v1"

// OpenAIClient talks to any OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client oai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates a client for baseURL. The SDK's own retry loop
// is disabled: rate-limit handling belongs to the caller.
func NewOpenAIClient(baseURL, apiKey string, logger *slog.Logger, opts ...option.RequestOption) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(httpkit.NewClient(
			httpkit.WithTimeout(2*time.Minute),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		)),
		option.WithMaxRetries(0),
	}
	reqOpts = append(reqOpts, opts...)

	return &OpenAIClient{
		client: oai.NewClient(reqOpts...),
		logger: logger,
	}
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params, err := buildOpenAIParams(req)
	if err != nil {
		return nil, err
	}

	if c.logger.Enabled(ctx, LevelTrace) {
		if payload, err := json.Marshal(params); err == nil {
			c.logger.Log(ctx, LevelTrace, "openai request", "model", req.Model, "payload", string(payload))
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, convertOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Model:        resp.Model,
		CreatedAt:    time.Unix(resp.Created, 0),
		FinishReason: string(choice.FinishReason),
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		Message: Message{
			Role:    RoleAssistant,
			Content: choice.Message.Content,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.Message.ToolCalls = append(out.Message.ToolCalls, ToolCall{
			ID: tc.ID,
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	c.logger.Debug("openai response",
		"model", out.Model,
		"finish_reason", out.FinishReason,
		"tool_calls", len(out.Message.ToolCalls),
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
	)

	return out, nil
}

// Ping lists models to check the endpoint and credentials.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx); err != nil {
		return convertOpenAIError(err)
	}
	return nil
}

// convertOpenAIError maps SDK errors onto *APIError so callers can test
// for rate limiting without importing the SDK.
func convertOpenAIError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return &APIError{
			Provider:   "openai",
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	return fmt.Errorf("openai: request failed: %w", err)
}

func buildOpenAIParams(req ChatRequest) (oai.ChatCompletionNewParams, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg, err := convertToOpenAI(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}

	for _, td := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}
	if len(params.Tools) > 0 && req.ToolChoice != "" {
		params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: oai.String(req.ToolChoice),
		}
	}

	return params, nil
}

func convertToOpenAI(m Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case RoleSystem:
		return oai.SystemMessage(m.Content), nil

	case RoleUser:
		return oai.UserMessage(m.Content), nil

	case RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
