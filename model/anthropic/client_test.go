package anthropic_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"goa.design/voz/model"
	"goa.design/voz/model/anthropic"
)

type fakeMessages struct {
	params []sdk.MessageNewParams
	msg    *sdk.Message
	err    error
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.params = append(f.params, body)
	if f.err != nil {
		return nil, f.err
	}
	return f.msg, nil
}

func newClient(t *testing.T, messages *fakeMessages, maxTokens int) *anthropic.Client {
	t.Helper()
	c, err := anthropic.New(anthropic.Options{
		Messages:  messages,
		Model:     "claude-3-5-sonnet-latest",
		MaxTokens: maxTokens,
	})
	require.NoError(t, err)
	return c
}

func TestCompleteEncodesRequest(t *testing.T) {
	messages := &fakeMessages{msg: &sdk.Message{
		Role:       "assistant",
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "hola"}},
		StopReason: "end_turn",
	}}
	c := newClient(t, messages, 1000)

	resp, err := c.Complete(context.Background(), model.Request{
		Messages: []*model.Message{
			model.Text(model.RoleSystem, "eres un asistente"),
			model.Text(model.RoleUser, "pregunta"),
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

	require.Len(t, messages.params, 1)
	params := messages.params[0]
	require.Equal(t, sdk.Model("claude-3-5-sonnet-latest"), params.Model)
	require.Equal(t, int64(1000), params.MaxTokens)
	require.Len(t, params.System, 1)
	require.Equal(t, "eres un asistente", params.System[0].Text)
	require.Len(t, params.Messages, 1)
	require.Len(t, params.Tools, 1)
	require.NotNil(t, params.Tools[0].OfTool)
	require.Equal(t, "lookup", params.Tools[0].OfTool.Name)
}

func TestCompleteTranslatesToolUse(t *testing.T) {
	messages := &fakeMessages{msg: &sdk.Message{
		Role: "assistant",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "déjame buscar"},
			{
				Type:  "tool_use",
				ID:    "use-7",
				Name:  "search_knowledge_base",
				Input: json.RawMessage(`{"query":"cobertura"}`),
			},
		},
		StopReason: "tool_use",
	}}
	c := newClient(t, messages, 1000)

	resp, err := c.Complete(context.Background(), model.Request{
		Messages: []*model.Message{model.Text(model.RoleUser, "q")},
	})
	require.NoError(t, err)
	require.Equal(t, "tool_use", resp.StopReason)
	use := model.FirstToolUse(resp.Message)
	require.NotNil(t, use)
	require.Equal(t, "use-7", use.ID)
	require.Equal(t, "search_knowledge_base", use.Name)
	require.Equal(t, map[string]any{"query": "cobertura"}, use.Input)
}

func TestCompleteRequiresPositiveMaxTokens(t *testing.T) {
	c := newClient(t, &fakeMessages{}, 0)
	_, err := c.Complete(context.Background(), model.Request{
		Messages: []*model.Message{model.Text(model.RoleUser, "q")},
	})
	require.Error(t, err)
}

func TestCompletePropagatesError(t *testing.T) {
	boom := errors.New("rate limited")
	c := newClient(t, &fakeMessages{err: boom}, 1000)
	_, err := c.Complete(context.Background(), model.Request{
		Messages: []*model.Message{model.Text(model.RoleUser, "q")},
	})
	require.ErrorIs(t, err, boom)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := anthropic.New(anthropic.Options{Model: "m"})
	require.Error(t, err)
	_, err = anthropic.New(anthropic.Options{Messages: &fakeMessages{}})
	require.Error(t, err)
	_, err = anthropic.NewFromAPIKey("", "m", 1000)
	require.Error(t, err)
}
