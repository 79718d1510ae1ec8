// Package bedrock implements model.Client on top of the AWS Bedrock Converse
// API. Grounded on features/model/bedrock/client.go, adapted to this
// module's message.Message/model.Settings shape; model-class resolution,
// ledger rehydration, and citation/reasoning handling are dropped since the
// provider-agnostic contract here has no equivalents for them.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"goa.design/agentcore/message"
	"goa.design/agentcore/model"
)

// RuntimeClient captures the subset of *bedrockruntime.Client the adapter
// calls, narrowed for substitution in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Client implements model.Client via the Bedrock Converse/ConverseStream API.
type Client struct {
	runtime RuntimeClient
}

// New builds an adapter from an existing Bedrock runtime client.
func New(runtime RuntimeClient) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	return &Client{runtime: runtime}, nil
}

func (c *Client) Complete(ctx context.Context, req model.Request) (message.Message, message.Usage, error) {
	input, err := encodeConverseInput(req)
	if err != nil {
		return message.Message{}, message.Usage{}, model.NewBadRequest(err.Error())
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return message.Message{}, message.Usage{}, classifyError(err)
	}
	return translateResponse(out)
}

// Stream returns raw frames from the Bedrock Converse event stream for
// normalization via stream.Normalizer with this package's FrameTranslator.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	input, err := encodeConverseStreamInput(req)
	if err != nil {
		return nil, model.NewBadRequest(err.Error())
	}
	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, classifyError(err)
	}
	es := out.GetStream()
	if es == nil {
		return nil, model.NewTransport("bedrock: stream output missing event stream", nil)
	}
	return &streamer{inner: es}, nil
}

func encodeConverseInput(req model.Request) (*bedrockruntime.ConverseInput, error) {
	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.Model),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if cfg := inferenceConfig(req.Settings); cfg != nil {
		input.InferenceConfig = cfg
	}
	if len(req.Settings.Tools) > 0 {
		tc, err := encodeTools(req.Settings)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = tc
	}
	return input, nil
}

func encodeConverseStreamInput(req model.Request) (*bedrockruntime.ConverseStreamInput, error) {
	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(req.Model),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if cfg := inferenceConfig(req.Settings); cfg != nil {
		input.InferenceConfig = cfg
	}
	if len(req.Settings.Tools) > 0 {
		tc, err := encodeTools(req.Settings)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = tc
	}
	return input, nil
}

func inferenceConfig(s model.Settings) *brtypes.InferenceConfiguration {
	if s.MaxTokens == 0 && s.Temperature == 0 && s.TopP == 0 && len(s.StopSequences) == 0 {
		return nil
	}
	cfg := &brtypes.InferenceConfiguration{}
	if s.MaxTokens > 0 {
		mt := int32(s.MaxTokens)
		cfg.MaxTokens = &mt
	}
	if s.Temperature > 0 {
		t := s.Temperature
		cfg.Temperature = &t
	}
	if s.TopP > 0 {
		p := s.TopP
		cfg.TopP = &p
	}
	if len(s.StopSequences) > 0 {
		cfg.StopSequences = s.StopSequences
	}
	return cfg
}

func encodeMessages(msgs []message.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var system []brtypes.SystemContentBlock
	out := make([]brtypes.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case message.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		case message.RoleUser:
			out = append(out, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case message.RoleAssistant:
			blocks := []brtypes.ContentBlock{}
			if m.Content != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				doc, err := jsonToDocument(tc.ArgumentsJSON)
				if err != nil {
					return nil, nil, err
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
					Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     doc,
					},
				})
			}
			out = append(out, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
		case message.RoleTool:
			if m.ToolResult == nil {
				continue
			}
			out = append(out, brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(m.ToolResult.CallID),
						Status:    brtypes.ToolResultStatusSuccess,
						Content: []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{
							Value: string(m.ToolResult.Value),
						}},
					},
				}},
			})
		}
	}
	if len(out) == 0 {
		return nil, nil, errors.New("at least one message is required")
	}
	return out, system, nil
}

func encodeTools(s model.Settings) (*brtypes.ToolConfiguration, error) {
	specs := make([]brtypes.Tool, 0, len(s.Tools))
	for _, def := range s.Tools {
		doc, err := jsonToDocument(string(def.InputSchema))
		if err != nil {
			return nil, err
		}
		specs = append(specs, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpec{
				Name:        aws.String(def.Name),
				Description: aws.String(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: doc},
			},
		})
	}
	cfg := &brtypes.ToolConfiguration{Tools: specs}
	switch s.ToolChoice.Mode {
	case model.ToolChoiceRequired:
		cfg.ToolChoice = &brtypes.ToolChoiceMemberAny{}
	case model.ToolChoiceNamed:
		cfg.ToolChoice = &brtypes.ToolChoiceMemberTool{Value: brtypes.SpecificToolChoice{Name: aws.String(s.ToolChoice.Name)}}
	default:
		cfg.ToolChoice = &brtypes.ToolChoiceMemberAuto{}
	}
	return cfg, nil
}

func translateResponse(out *bedrockruntime.ConverseOutput) (message.Message, message.Usage, error) {
	member, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return message.Message{}, message.Usage{}, model.NewParse("bedrock: response has no message output", nil)
	}
	result := message.Message{Role: message.RoleAssistant}
	for _, block := range member.Value.Content {
		switch b := block.(type) {
		case *brtypes.ContentBlockMemberText:
			result.Content += b.Value
		case *brtypes.ContentBlockMemberToolUse:
			result.ToolCalls = append(result.ToolCalls, message.ToolCall{
				ID:            aws.ToString(b.Value.ToolUseId),
				Name:          aws.ToString(b.Value.Name),
				ArgumentsJSON: string(documentToJSON(b.Value.Input)),
			})
		}
	}
	var usage message.Usage
	if out.Usage != nil {
		usage = message.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return result, usage, nil
}

// classifyError maps a Bedrock runtime error into the closed model.Kind
// taxonomy, following the same smithy.APIError/ResponseError inspection
// features/model/bedrock/client.go uses for isRateLimited.
func classifyError(err error) *model.ProviderError {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		switch status {
		case 429:
			return model.NewRateLimited("")
		case 401, 403:
			return model.NewAuth(err.Error())
		case 400, 404, 422:
			return model.NewBadRequest(err.Error())
		default:
			if status >= 500 {
				return model.NewServer(status, err)
			}
		}
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return model.NewRateLimited("")
		case "AccessDeniedException", "UnrecognizedClientException":
			return model.NewAuth(apiErr.ErrorMessage())
		case "ValidationException", "ModelErrorException":
			return model.NewBadRequest(apiErr.ErrorMessage())
		}
	}
	return model.NewTransport(err.Error(), err)
}

func jsonToDocument(raw string) (document.Interface, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, err
	}
	return document.NewLazyDocument(&decoded), nil
}

func documentToJSON(doc document.Interface) json.RawMessage {
	if doc == nil {
		return json.RawMessage("{}")
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return json.RawMessage("{}")
	}
	return json.RawMessage(data)
}
