// Package tools holds the registry of named capabilities the model may invoke
// mid-conversation. Tools are registered once at process start; the registry
// is read-mostly thereafter and safe for concurrent lookups.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"goa.design/clue/log"

	"goa.design/voz/model"
)

type (
	// Tool is a named capability with a machine-readable parameter schema and
	// an execution contract. The description is sent to the model to aid tool
	// selection, so it should spell out when the tool applies.
	Tool struct {
		// Name is the unique registry key.
		Name string
		// Description documents the tool for prompting purposes.
		Description string
		// InputSchema is the JSON Schema object describing accepted params.
		InputSchema map[string]any
		// Execute runs the tool and returns its result text.
		Execute func(ctx context.Context, params map[string]any) (string, error)
	}

	// Registry dispatches tool invocations by exact name match. Registration
	// order is preserved so the catalog advertised to the model is
	// deterministic across runs.
	Registry struct {
		mu      sync.RWMutex
		entries map[string]*entry
		order   []string
	}

	entry struct {
		tool   *Tool
		schema *jsonschema.Schema
	}

	// NotFoundError is returned by Invoke when the requested name is absent
	// from the registry. This is a fatal protocol error for the turn.
	NotFoundError struct {
		Name string
	}

	// InvalidInputError is returned by Invoke when the params do not conform
	// to the tool's input schema.
	InvalidInputError struct {
		Name string
		Err  error
	}

	// ExecutionError wraps a failure raised by the tool itself.
	ExecutionError struct {
		Name string
		Err  error
	}
)

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("tool %q: invalid input: %s", e.Name, e.Err)
}

func (e *InvalidInputError) Unwrap() error { return e.Err }

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %q: %s", e.Name, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register inserts or replaces the entry keyed by tool.Name. Last registration
// wins; a replaced tool keeps its original catalog position so repeated
// registration cannot reorder model prompts. The tool's input schema is
// compiled here so invalid schemas fail at startup rather than mid-turn.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Execute == nil {
		return fmt.Errorf("tool %q: execute function is required", tool.Name)
	}
	schema, err := compileSchema(tool.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %q: compile schema: %w", tool.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.entries[tool.Name] = &entry{tool: tool, schema: schema}
	return nil
}

// Catalog returns the tool definitions advertised to the model, in
// registration order.
func (r *Registry) Catalog() []*model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*model.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		defs = append(defs, &model.ToolDefinition{
			Name:        e.tool.Name,
			Description: e.tool.Description,
			InputSchema: e.tool.InputSchema,
		})
	}
	return defs
}

// Invoke validates params against the tool's schema and executes it, returning
// the result text verbatim. Unknown names fail with *NotFoundError, schema
// violations with *InvalidInputError, and tool failures with *ExecutionError.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (string, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return "", &NotFoundError{Name: name}
	}
	if e.schema != nil {
		if err := e.schema.Validate(normalizeParams(params)); err != nil {
			return "", &InvalidInputError{Name: name, Err: err}
		}
	}
	start := time.Now()
	result, err := e.tool.Execute(ctx, params)
	if err != nil {
		return "", &ExecutionError{Name: name, Err: err}
	}
	log.Info(ctx, log.KV{K: "msg", V: "tool executed"},
		log.KV{K: "tool", V: name},
		log.KV{K: "duration_ms", V: time.Since(start).Milliseconds()})
	return result, nil
}

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}
	// Round-trip through JSON so schema values use the decoded forms the
	// validator expects.
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// normalizeParams round-trips params through JSON so validation sees the same
// generic shapes the model produces (float64 numbers, map[string]any objects).
func normalizeParams(params map[string]any) any {
	if params == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return params
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return params
	}
	return doc
}
