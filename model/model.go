// Package model defines the provider-agnostic contract between the
// conversational orchestrator and hosted LLM endpoints. Concrete adapters
// (Bedrock Converse, Anthropic Messages) translate these normalized types into
// provider-specific formats so the orchestrator never couples to an SDK.
package model

import "context"

// Conversation roles. The orchestrator only produces user and assistant
// messages; adapters additionally accept the system role and hoist it into the
// provider's system slot.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type (
	// Client is the contract the orchestrator uses to invoke the inference
	// endpoint. Implementations must be safe for concurrent use across
	// requests and must not retry failed completions on their own.
	Client interface {
		// Complete sends the full conversation plus the advertised tool catalog
		// to the model and returns the assistant's next message. Errors are
		// returned as-is so the request boundary can collapse them into a fixed
		// user-facing message.
		Complete(ctx context.Context, req Request) (*Response, error)
	}

	// Request captures one model invocation: the ordered conversation so far,
	// the tools the model may request, and the completion token cap.
	Request struct {
		// Messages is the ordered conversation history. The first message is
		// always a user message.
		Messages []*Message

		// Tools is the catalog advertised to the model. Empty disables tool
		// calling for the request.
		Tools []*ToolDefinition

		// MaxTokens caps completion tokens. Zero lets the adapter apply its
		// configured default.
		MaxTokens int
	}

	// Response carries the assistant message produced by the model. The
	// message's parts preserve provider block order so callers can locate the
	// first text or tool-use block deterministically.
	Response struct {
		// Message is the assistant turn, never nil on success.
		Message *Message

		// StopReason is the provider's termination reason (for example
		// "end_turn", "tool_use", "max_tokens"). Provider-specific, may be empty.
		StopReason string
	}

	// Message is one conversation turn attributed to a role, carrying an
	// ordered sequence of typed content parts.
	Message struct {
		Role  string
		Parts []Part
	}

	// Part is a typed unit of message content. Exactly the three kinds the
	// protocol knows are representable; adapters reject anything else with a
	// typed error instead of guessing.
	Part interface {
		part()
	}

	// TextPart is plain assistant or user text.
	TextPart struct {
		Text string
	}

	// ToolUsePart is a tool invocation requested by the model. ID correlates
	// the eventual ToolResultPart back to this request.
	ToolUsePart struct {
		ID    string
		Name  string
		Input map[string]any
	}

	// ToolResultPart carries a tool's result text back to the model inside a
	// user message, correlated by the originating tool-use ID.
	ToolResultPart struct {
		ToolUseID string
		Content   string
	}

	// ToolDefinition describes a tool schema advertised to the model. The
	// model uses Name and Description to decide when to invoke the tool and
	// InputSchema (a JSON Schema object) to shape its arguments.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema map[string]any
	}
)

func (TextPart) part()       {}
func (ToolUsePart) part()    {}
func (ToolResultPart) part() {}

// Text is a convenience constructor for a single-text-part message.
func Text(role, text string) *Message {
	return &Message{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// FirstText returns the text of the first TextPart in m, or "" when the
// message carries no text block.
func FirstText(m *Message) string {
	if m == nil {
		return ""
	}
	for _, p := range m.Parts {
		if v, ok := p.(TextPart); ok {
			return v.Text
		}
	}
	return ""
}

// FirstToolUse returns the first ToolUsePart in m, or nil. Only the first
// tool request per assistant turn is honored even if the model emits several;
// callers rely on this documented single-tool-per-turn policy.
func FirstToolUse(m *Message) *ToolUsePart {
	if m == nil {
		return nil
	}
	for _, p := range m.Parts {
		if v, ok := p.(ToolUsePart); ok {
			return &v
		}
	}
	return nil
}
