// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API. It encodes the normalized conversation and tool
// catalog into Converse inputs and translates responses (text + tool_use
// blocks) back into orchestrator-friendly structures.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"goa.design/voz/model"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter. It matches *bedrockruntime.Client so callers can pass either
// the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock client adapter.
type Options struct {
	// Runtime provides access to the Bedrock runtime. Required.
	Runtime RuntimeClient

	// Model is the model identifier (e.g.
	// "anthropic.claude-3-5-sonnet-20241022-v2:0"). Required.
	Model string

	// MaxTokens sets the default completion cap when a request does not
	// specify MaxTokens. When zero or negative, the cap is omitted so Bedrock
	// uses its own default.
	MaxTokens int
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	modelID string
	maxTok  int
}

// ErrUnavailable marks completions that failed because the provider was
// unreachable or returned a server-side error. The request boundary maps it to
// a fixed apologetic message; it is never retried here.
var ErrUnavailable = errors.New("bedrock: service unavailable")

// New initializes a Bedrock-powered model client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	return &Client{
		runtime: opts.Runtime,
		modelID: opts.Model,
		maxTok:  opts.MaxTokens,
	}, nil
}

// Complete issues a chat completion request to the configured Bedrock model
// using the Converse API.
func (c *Client) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	input, err := c.buildConverseInput(req)
	if err != nil {
		return nil, err
	}
	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return nil, wrapBedrockError(err)
	}
	return translateResponse(output)
}

func (c *Client) buildConverseInput(req model.Request) (*bedrockruntime.ConverseInput, error) {
	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.modelID),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if cfg := encodeTools(req.Tools); cfg != nil {
		input.ToolConfig = cfg
	}
	if tokens := c.effectiveMaxTokens(req.MaxTokens); tokens > 0 {
		input.InferenceConfig = &brtypes.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(tokens)), //nolint:gosec // AWS SDK requires int32
		}
	}
	return input, nil
}

func (c *Client) effectiveMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return c.maxTok
}

func encodeMessages(msgs []*model.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	system := make([]brtypes.SystemContentBlock, 0, 1)
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.RoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: v.Text})
				}
			}
			continue
		}
		blocks := make([]brtypes.ContentBlock, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case model.ToolUsePart:
				if v.Name == "" {
					return nil, nil, errors.New("bedrock: tool_use part missing name")
				}
				tb := brtypes.ToolUseBlock{
					Name:  aws.String(v.Name),
					Input: toDocument(v.Input),
				}
				if v.ID != "" {
					tb.ToolUseId = aws.String(v.ID)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
			case model.ToolResultPart:
				// Bedrock expects tool_result blocks in user messages,
				// correlated to a prior tool_use.
				tr := brtypes.ToolResultBlock{
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: v.Content},
					},
				}
				if v.ToolUseID != "" {
					tr.ToolUseId = aws.String(v.ToolUseID)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{Value: tr})
			default:
				return nil, nil, fmt.Errorf("bedrock: unsupported content part %T", part)
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == model.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(defs []*model.ToolDefinition) *brtypes.ToolConfiguration {
	if len(defs) == 0 {
		return nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		if def == nil || def.Name == "" {
			continue
		}
		schema := def.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		spec := brtypes.ToolSpecification{
			Name:        aws.String(def.Name),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocument(schema)},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	if len(toolList) == 0 {
		return nil
	}
	return &brtypes.ToolConfiguration{Tools: toolList}
}

func translateResponse(output *bedrockruntime.ConverseOutput) (*model.Response, error) {
	if output == nil {
		return nil, errors.New("bedrock: response is nil")
	}
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("bedrock: unexpected output type %T", output.Output)
	}
	assistant := &model.Message{Role: model.RoleAssistant}
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			if v.Value == "" {
				continue
			}
			assistant.Parts = append(assistant.Parts, model.TextPart{Text: v.Value})
		case *brtypes.ContentBlockMemberToolUse:
			use := model.ToolUsePart{Input: decodeDocument(v.Value.Input)}
			if v.Value.Name != nil {
				use.Name = *v.Value.Name
			}
			if v.Value.ToolUseId != nil {
				use.ID = *v.Value.ToolUseId
			}
			assistant.Parts = append(assistant.Parts, use)
		}
	}
	return &model.Response{
		Message:    assistant,
		StopReason: string(output.StopReason),
	}, nil
}

func toDocument(v map[string]any) document.Interface {
	var doc any = v
	if v == nil {
		doc = map[string]any{}
	}
	return document.NewLazyDocument(&doc)
}

func decodeDocument(doc document.Interface) map[string]any {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func wrapBedrockError(err error) error {
	status := 0
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ServiceUnavailableException", "ThrottlingException", "ModelNotReadyException":
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	if status >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return fmt.Errorf("bedrock: converse: %w", err)
}
