// Package assistant drives the conversational tool-orchestration loop: it
// feeds the conversation and tool catalog to the inference endpoint, executes
// requested tools through the registry, and loops until the model produces a
// final natural-language answer.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"goa.design/clue/log"

	"goa.design/voz/model"
)

const (
	defaultMaxTurns  = 10
	defaultMaxTokens = 1000

	// fallbackAnswer is returned when a final assistant turn carries no text
	// block at all. Degrading to a fixed string beats surfacing a protocol
	// error to the end user.
	fallbackAnswer = "No response generated"
)

// systemPrompt is the fixed instruction preamble prepended to every question.
// The assistant fronts a Spanish-language telecom support desk.
const systemPrompt = `Eres un agente de atención al cliente en telecomunicaciones, amable y profesional.
Tu función es ayudar a los usuarios con consultas sobre servicios de telecomunicaciones, planes, facturación, soporte técnico y preguntas frecuentes.
No comiences tus respuestas con frases impersonales o genéricas como "Basado en la información disponible" o "Según la información que tengo".
Responde directamente al usuario de forma natural y cercana, como lo haría un agente humano.

Pautas de comportamiento:
- Responde de forma clara y sencilla; evita tecnicismos.
- Cuando se trate de soporte técnico, explica los pasos de manera simple y ordenada.
- Mantén siempre un tono cordial y de apoyo; el cliente puede estar frustrado.
- Da respuestas que ayuden a resolver el problema de la forma más rápida posible.
- Si no tienes una respuesta confiable, brinda una orientación general y, si denota frustración, indica que derivarás el caso a un representante humano.
- No inventes información.
- Cuando la solución fue brindada correctamente, cierra con un mensaje breve de encuesta de satisfacción.

Estilo: respuestas cortas, directas y útiles. Usa listas o pasos numerados solo cuando ayuden a la claridad.`

// ErrMaxTurnsExceeded is returned when the model keeps requesting tools past
// the configured turn ceiling without producing a final answer.
var ErrMaxTurnsExceeded = errors.New("assistant: max turns exceeded")

type (
	// Registry is the tool dispatch contract the loop depends on; satisfied by
	// *tools.Registry.
	Registry interface {
		Catalog() []*model.ToolDefinition
		Invoke(ctx context.Context, name string, params map[string]any) (string, error)
	}

	// Options configures the assistant.
	Options struct {
		// Model is the inference endpoint. Required.
		Model model.Client

		// Tools dispatches tool invocations. Required.
		Tools Registry

		// MaxTurns bounds the tool-call cycle so a misbehaving model cannot
		// loop forever. Defaults to 10.
		MaxTurns int

		// MaxTokens is the per-completion output token budget. Defaults to 1000.
		MaxTokens int

		// Timeout is the overall deadline applied to each Answer call,
		// propagated to every remote call. Zero disables the deadline.
		Timeout time.Duration
	}

	// Assistant owns no cross-request state: each Answer call builds its own
	// conversation and discards it on return.
	Assistant struct {
		model     model.Client
		tools     Registry
		maxTurns  int
		maxTokens int
		timeout   time.Duration
	}
)

// New builds an Assistant.
func New(opts Options) (*Assistant, error) {
	if opts.Model == nil {
		return nil, errors.New("model client is required")
	}
	if opts.Tools == nil {
		return nil, errors.New("tool registry is required")
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Assistant{
		model:     opts.Model,
		tools:     opts.Tools,
		maxTurns:  maxTurns,
		maxTokens: maxTokens,
		timeout:   opts.Timeout,
	}, nil
}

// Answer runs the orchestration loop for one question and returns the model's
// final answer text. Inference and tool failures are not retried; they
// propagate so the request boundary can return its fixed apologetic message.
func (a *Assistant) Answer(ctx context.Context, question string) (string, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	catalog := a.tools.Catalog()
	conversation := []*model.Message{
		model.Text(model.RoleUser, systemPrompt+"\n\nUser question: "+question),
	}
	for turn := 0; turn < a.maxTurns; turn++ {
		resp, err := a.model.Complete(ctx, model.Request{
			Messages:  conversation,
			Tools:     catalog,
			MaxTokens: a.maxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("complete: %w", err)
		}
		conversation = append(conversation, resp.Message)

		use := model.FirstToolUse(resp.Message)
		if use == nil {
			if text := model.FirstText(resp.Message); text != "" {
				return text, nil
			}
			return fallbackAnswer, nil
		}

		log.Info(ctx, log.KV{K: "msg", V: "tool requested"},
			log.KV{K: "tool", V: use.Name},
			log.KV{K: "turn", V: turn + 1})
		result, err := a.tools.Invoke(ctx, use.Name, use.Input)
		if err != nil {
			return "", fmt.Errorf("invoke tool: %w", err)
		}
		conversation = append(conversation, &model.Message{
			Role:  model.RoleUser,
			Parts: []model.Part{model.ToolResultPart{ToolUseID: use.ID, Content: result}},
		})
	}
	return "", fmt.Errorf("%w after %d turns", ErrMaxTurnsExceeded, a.maxTurns)
}
