package bedrock_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"goa.design/voz/model"
	"goa.design/voz/model/bedrock"
)

type fakeRuntime struct {
	inputs []bedrockruntime.ConverseInput
	output *bedrockruntime.ConverseOutput
	err    error
}

func (f *fakeRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.inputs = append(f.inputs, *params)
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func textOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
			},
		},
		StopReason: brtypes.StopReasonEndTurn,
	}
}

func newClient(t *testing.T, runtime *fakeRuntime, maxTokens int) *bedrock.Client {
	t.Helper()
	c, err := bedrock.New(bedrock.Options{
		Runtime:   runtime,
		Model:     "anthropic.claude-3-5-sonnet-20241022-v2:0",
		MaxTokens: maxTokens,
	})
	require.NoError(t, err)
	return c
}

func TestCompleteEncodesConversation(t *testing.T) {
	runtime := &fakeRuntime{output: textOutput("hola")}
	c := newClient(t, runtime, 1000)

	resp, err := c.Complete(context.Background(), model.Request{
		Messages: []*model.Message{
			model.Text(model.RoleSystem, "eres un asistente"),
			model.Text(model.RoleUser, "pregunta"),
			{Role: model.RoleAssistant, Parts: []model.Part{
				model.ToolUsePart{ID: "use-1", Name: "lookup", Input: map[string]any{"query": "q"}},
			}},
			{Role: model.RoleUser, Parts: []model.Part{
				model.ToolResultPart{ToolUseID: "use-1", Content: "passage"},
			}},
		},
		Tools: []*model.ToolDefinition{{
			Name:        "lookup",
			Description: "looks things up",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, "hola", model.FirstText(resp.Message))
	require.Equal(t, "end_turn", resp.StopReason)

	require.Len(t, runtime.inputs, 1)
	in := runtime.inputs[0]
	require.Equal(t, "anthropic.claude-3-5-sonnet-20241022-v2:0", *in.ModelId)
	require.Equal(t, int32(1000), *in.InferenceConfig.MaxTokens)

	// System text is hoisted out of the message list.
	require.Len(t, in.System, 1)
	sys, ok := in.System[0].(*brtypes.SystemContentBlockMemberText)
	require.True(t, ok)
	require.Equal(t, "eres un asistente", sys.Value)

	require.Len(t, in.Messages, 3)
	require.Equal(t, brtypes.ConversationRoleUser, in.Messages[0].Role)
	require.Equal(t, brtypes.ConversationRoleAssistant, in.Messages[1].Role)
	use, ok := in.Messages[1].Content[0].(*brtypes.ContentBlockMemberToolUse)
	require.True(t, ok)
	require.Equal(t, "use-1", *use.Value.ToolUseId)
	require.Equal(t, "lookup", *use.Value.Name)
	result, ok := in.Messages[2].Content[0].(*brtypes.ContentBlockMemberToolResult)
	require.True(t, ok)
	require.Equal(t, "use-1", *result.Value.ToolUseId)

	require.Len(t, in.ToolConfig.Tools, 1)
	spec, ok := in.ToolConfig.Tools[0].(*brtypes.ToolMemberToolSpec)
	require.True(t, ok)
	require.Equal(t, "lookup", *spec.Value.Name)
}

func TestCompleteRequestMaxTokensOverridesDefault(t *testing.T) {
	runtime := &fakeRuntime{output: textOutput("ok")}
	c := newClient(t, runtime, 4096)

	_, err := c.Complete(context.Background(), model.Request{
		Messages:  []*model.Message{model.Text(model.RoleUser, "q")},
		MaxTokens: 1000,
	})
	require.NoError(t, err)
	require.Equal(t, int32(1000), *runtime.inputs[0].InferenceConfig.MaxTokens)
}

func TestCompleteTranslatesToolUse(t *testing.T) {
	runtime := &fakeRuntime{output: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role: brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: "déjame buscar"},
					&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
						ToolUseId: aws.String("use-9"),
						Name:      aws.String("search_knowledge_base"),
						Input:     lazyInput(t, map[string]any{"query": "cobertura"}),
					}},
				},
			},
		},
		StopReason: brtypes.StopReasonToolUse,
	}}
	c := newClient(t, runtime, 0)

	resp, err := c.Complete(context.Background(), model.Request{
		Messages: []*model.Message{model.Text(model.RoleUser, "q")},
	})
	require.NoError(t, err)
	require.Equal(t, "tool_use", resp.StopReason)
	require.Equal(t, "déjame buscar", model.FirstText(resp.Message))
	use := model.FirstToolUse(resp.Message)
	require.NotNil(t, use)
	require.Equal(t, "use-9", use.ID)
	require.Equal(t, "search_knowledge_base", use.Name)
	require.Equal(t, map[string]any{"query": "cobertura"}, use.Input)
}

func TestCompleteClassifiesUnavailable(t *testing.T) {
	runtime := &fakeRuntime{err: &smithy.GenericAPIError{
		Code:    "ThrottlingException",
		Message: "slow down",
	}}
	c := newClient(t, runtime, 0)

	_, err := c.Complete(context.Background(), model.Request{
		Messages: []*model.Message{model.Text(model.RoleUser, "q")},
	})
	require.ErrorIs(t, err, bedrock.ErrUnavailable)
}

func TestCompleteOtherErrorIsNotUnavailable(t *testing.T) {
	runtime := &fakeRuntime{err: &smithy.GenericAPIError{
		Code:    "ValidationException",
		Message: "bad input",
	}}
	c := newClient(t, runtime, 0)

	_, err := c.Complete(context.Background(), model.Request{
		Messages: []*model.Message{model.Text(model.RoleUser, "q")},
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, bedrock.ErrUnavailable)
}

func TestCompleteRequiresMessages(t *testing.T) {
	c := newClient(t, &fakeRuntime{output: textOutput("x")}, 0)
	_, err := c.Complete(context.Background(), model.Request{})
	require.Error(t, err)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := bedrock.New(bedrock.Options{Model: "m"})
	require.Error(t, err)
	_, err = bedrock.New(bedrock.Options{Runtime: &fakeRuntime{}})
	require.Error(t, err)
}

// lazyInput mirrors how the adapter encodes tool inputs so decoded values
// round-trip through the same document representation.
func lazyInput(t *testing.T, m map[string]any) document.Interface {
	t.Helper()
	var v any = m
	return document.NewLazyDocument(&v)
}
