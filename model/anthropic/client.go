// Package anthropic implements model.Client on top of the Anthropic Claude
// Messages API. Grounded on features/model/anthropic/client.go, adapted from
// that package's model.Request/Response/Part sum types to this module's
// message.Message/model.Settings shape.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"goa.design/agentcore/message"
	"goa.design/agentcore/model"
)

// MessagesClient is the subset of the Anthropic SDK client the adapter uses.
// Satisfied by *sdk.MessageService; tests may supply a stub.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the adapter's defaults.
type Options struct {
	// MaxTokens is used when a request does not specify Settings.MaxTokens.
	MaxTokens int
}

// Client implements model.Client against Anthropic Claude Messages.
type Client struct {
	msg    MessagesClient
	maxTok int
}

// New builds an Anthropic adapter from an existing Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	return &Client{msg: msg, maxTok: opts.MaxTokens}, nil
}

// NewFromAPIKey constructs an adapter using the SDK's default HTTP client,
// authenticated with apiKey.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// Complete issues a non-streaming Messages.New call.
func (c *Client) Complete(ctx context.Context, req model.Request) (message.Message, message.Usage, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return message.Message{}, message.Usage{}, model.NewBadRequest(err.Error())
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return message.Message{}, message.Usage{}, classifyError(err)
	}
	out, usage := translateResponse(msg)
	return out, usage, nil
}

// Stream issues a Messages.NewStreaming call and returns a Streamer whose raw
// frames are JSON-encoded SSE event payloads, intended for normalization via
// stream.Normalizer with the FrameTranslator in this package.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, model.NewBadRequest(err.Error())
	}
	s := c.msg.NewStreaming(ctx, *params)
	if err := s.Err(); err != nil {
		return nil, classifyError(err)
	}
	return &streamer{inner: s}, nil
}

func (c *Client) prepareRequest(req model.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("messages are required")
	}
	if req.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	maxTokens := req.Settings.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens <= 0 {
		return nil, errors.New("max_tokens must be positive")
	}

	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(req.Model),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Settings.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Settings.Temperature))
	}
	if req.Settings.TopP > 0 {
		params.TopP = sdk.Float(float64(req.Settings.TopP))
	}
	if len(req.Settings.StopSequences) > 0 {
		params.StopSequences = req.Settings.StopSequences
	}
	if len(req.Settings.Tools) > 0 {
		tools, err := encodeTools(req.Settings.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	if tc, err := encodeToolChoice(req.Settings.ToolChoice); err != nil {
		return nil, err
	} else if tc != nil {
		params.ToolChoice = *tc
	}
	return &params, nil
}

func encodeMessages(msgs []message.Message) (conversation []sdk.MessageParam, system string, err error) {
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			if m.Content != "" {
				system = m.Content
			}
		case message.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case message.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if tc.ArgumentsJSON != "" {
					if err := json.Unmarshal([]byte(tc.ArgumentsJSON), &input); err != nil {
						return nil, "", fmt.Errorf("tool call %q: decode arguments: %w", tc.ID, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		case message.RoleTool:
			if m.ToolResult == nil {
				continue
			}
			conversation = append(conversation, sdk.NewUserMessage(
				sdk.NewToolResultBlock(m.ToolResult.CallID, string(m.ToolResult.Value), false),
			))
		}
	}
	if len(conversation) == 0 {
		return nil, "", errors.New("at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []model.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schemaMap map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &schemaMap); err != nil {
				return nil, fmt.Errorf("tool %q: decode schema: %w", def.Name, err)
			}
		}
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schemaMap}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func encodeToolChoice(tc model.ToolChoice) (*sdk.ToolChoiceUnionParam, error) {
	switch tc.Mode {
	case model.ToolChoiceAuto:
		return nil, nil
	case model.ToolChoiceNone:
		none := sdk.NewToolChoiceNoneParam()
		return &sdk.ToolChoiceUnionParam{OfNone: &none}, nil
	case model.ToolChoiceRequired:
		return &sdk.ToolChoiceUnionParam{OfAny: &sdk.ToolChoiceAnyParam{}}, nil
	case model.ToolChoiceNamed:
		if tc.Name == "" {
			return nil, errors.New("named tool choice requires a tool name")
		}
		choice := sdk.ToolChoiceParamOfTool(tc.Name)
		return &choice, nil
	default:
		return nil, fmt.Errorf("unsupported tool choice mode %v", tc.Mode)
	}
}

func translateResponse(msg *sdk.Message) (message.Message, message.Usage) {
	out := message.Message{Role: message.RoleAssistant}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			argsJSON, _ := json.Marshal(block.Input)
			out.ToolCalls = append(out.ToolCalls, message.ToolCall{
				ID:            block.ID,
				Name:          block.Name,
				ArgumentsJSON: string(argsJSON),
			})
		}
	}
	usage := message.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return out, usage
}

// classifyError maps a raw Anthropic SDK error into the closed model.Kind
// taxonomy so the runner's retry policy stays provider-agnostic.
func classifyError(err error) *model.ProviderError {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return model.NewRateLimited(apiErr.Response.Header.Get("Retry-After"))
		case 401, 403:
			return model.NewAuth(apiErr.Error())
		case 400, 404, 422:
			return model.NewBadRequest(apiErr.Error())
		default:
			if apiErr.StatusCode >= 500 {
				return model.NewServer(apiErr.StatusCode, err)
			}
		}
	}
	return model.NewTransport(err.Error(), err)
}
