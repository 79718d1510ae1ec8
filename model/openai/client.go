// Package openai implements model.Client on top of the OpenAI Chat
// Completions API. Grounded on features/model/openai/client.go, adapted to
// this module's message.Message/model.Settings shape and extended with
// tool results, tool_choice, and streaming support the original adapter
// lacked.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"goa.design/agentcore/message"
	"goa.design/agentcore/model"
)

// ChatClient captures the subset of the go-openai client used by the adapter.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	chat ChatClient
}

// New builds an adapter from an existing go-openai client.
func New(chat ChatClient) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	return &Client{chat: chat}, nil
}

// NewFromAPIKey constructs an adapter using go-openai's default HTTP client.
func NewFromAPIKey(apiKey string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	return New(openai.NewClient(apiKey))
}

func (c *Client) Complete(ctx context.Context, req model.Request) (message.Message, message.Usage, error) {
	request, err := encodeRequest(req)
	if err != nil {
		return message.Message{}, message.Usage{}, model.NewBadRequest(err.Error())
	}
	resp, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		return message.Message{}, message.Usage{}, classifyError(err)
	}
	return translateResponse(resp)
}

// Stream returns raw frames from the OpenAI SSE stream for normalization via
// stream.Normalizer with this package's FrameTranslator.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	request, err := encodeRequest(req)
	if err != nil {
		return nil, model.NewBadRequest(err.Error())
	}
	request.Stream = true
	s, err := c.chat.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, classifyError(err)
	}
	return &streamer{inner: s}, nil
}

func encodeRequest(req model.Request) (openai.ChatCompletionRequest, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionRequest{}, errors.New("messages are required")
	}
	if req.Model == "" {
		return openai.ChatCompletionRequest{}, errors.New("model identifier is required")
	}
	msgs, err := encodeMessages(req.Messages)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Settings.Temperature,
		TopP:        req.Settings.TopP,
		MaxTokens:   req.Settings.MaxTokens,
		Stop:        req.Settings.StopSequences,
	}
	if len(req.Settings.Tools) > 0 {
		tools, err := encodeTools(req.Settings.Tools)
		if err != nil {
			return openai.ChatCompletionRequest{}, err
		}
		out.Tools = tools
	}
	switch req.Settings.ToolChoice.Mode {
	case model.ToolChoiceNone:
		out.ToolChoice = "none"
	case model.ToolChoiceRequired:
		out.ToolChoice = "required"
	case model.ToolChoiceNamed:
		out.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: req.Settings.ToolChoice.Name},
		}
	}
	if req.Settings.ResponseFormat == "json_object" {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return out, nil
}

func encodeMessages(msgs []message.Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		case message.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case message.RoleAssistant:
			cm := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				cm.ToolCalls = append(cm.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: tc.ArgumentsJSON,
					},
				})
			}
			out = append(out, cm)
		case message.RoleTool:
			if m.ToolResult == nil {
				continue
			}
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    string(m.ToolResult.Value),
				ToolCallID: m.ToolResult.CallID,
			})
		}
	}
	if len(out) == 0 {
		return nil, errors.New("at least one message is required")
	}
	return out, nil
}

func encodeTools(defs []model.ToolDefinition) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(def.InputSchema),
			},
		})
	}
	return out, nil
}

func translateResponse(resp openai.ChatCompletionResponse) (message.Message, message.Usage, error) {
	if len(resp.Choices) == 0 {
		return message.Message{}, message.Usage{}, model.NewParse("response has no choices", nil)
	}
	choice := resp.Choices[0]
	out := message.Message{Role: message.RoleAssistant, Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, message.ToolCall{
			ID:            tc.ID,
			Name:          tc.Function.Name,
			ArgumentsJSON: tc.Function.Arguments,
		})
	}
	usage := message.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return out, usage, nil
}

// classifyError maps a go-openai error into the closed model.Kind taxonomy.
func classifyError(err error) *model.ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429:
			return model.NewRateLimited("")
		case 401, 403:
			return model.NewAuth(apiErr.Message)
		case 400, 404, 422:
			return model.NewBadRequest(apiErr.Message)
		default:
			if apiErr.HTTPStatusCode >= 500 {
				return model.NewServer(apiErr.HTTPStatusCode, err)
			}
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return model.NewTransport(fmt.Sprintf("http %d", reqErr.HTTPStatusCode), err)
	}
	return model.NewTransport(err.Error(), err)
}
