// Package tools defines the tools the agents expose to the model and the
// registry that resolves and executes them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/kaustubhduse/support-agent/internal/llm"
)

// Handler executes a tool with arguments already decoded and validated
// against the tool's schema. A returned error becomes the tool's failure
// payload; it never aborts the calling loop.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
	Handler     Handler

	resolved *jsonschema.Resolved
	params   map[string]any
}

// Registry holds available tools in registration order. A registry is
// built per agent invocation and is read-only once handed to the loop.
type Registry struct {
	order []string
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. The parameter schema is resolved up front so that
// a malformed schema fails here rather than on the first call.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return errors.New("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", t.Name)
	}
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("tool %s: already registered", t.Name)
	}

	schema := t.Parameters
	if schema == nil {
		schema = &jsonschema.Schema{Type: "object"}
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("tool %s: resolve schema: %w", t.Name, err)
	}
	params, err := schemaMap(schema)
	if err != nil {
		return fmt.Errorf("tool %s: %w", t.Name, err)
	}
	t.resolved = resolved
	t.params = params

	r.order = append(r.order, t.Name)
	r.tools[t.Name] = t
	return nil
}

// MustRegister is Register for the fixed tool sets built at startup.
func (r *Registry) MustRegister(tools ...*Tool) *Registry {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	if r == nil {
		return nil
	}
	return r.tools[name]
}

// Lookup returns the named tool or an *ErrToolUnavailable.
func (r *Registry) Lookup(name string) (*Tool, error) {
	if t := r.Get(name); t != nil {
		return t, nil
	}
	return nil, &ErrToolUnavailable{ToolName: name}
}

// Len reports the number of registered tools. A nil registry is empty.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns the tool declarations sent to the model.
func (r *Registry) Definitions() []llm.ToolDefinition {
	if r.Len() == 0 {
		return nil
	}
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.params,
		})
	}
	return defs
}

// Execute runs a tool by name with the model-supplied JSON arguments. Every
// outcome, including an unknown tool or bad arguments, is reported in the
// returned Result.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) Result {
	t, err := r.Lookup(name)
	if err != nil {
		return Failure(toolNotFoundMessage)
	}

	args := map[string]any{}
	if s := strings.TrimSpace(argsJSON); s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			return Failure(fmt.Sprintf("invalid arguments: %v", err))
		}
	}
	if err := t.resolved.Validate(args); err != nil {
		return Failure(fmt.Sprintf("invalid arguments: %v", err))
	}

	return t.call(ctx, args)
}

// call runs the handler, turning a panic into a failed result.
func (t *Tool) call(ctx context.Context, args map[string]any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failure(fmt.Sprintf("tool panicked: %v", r))
		}
	}()

	value, err := t.Handler(ctx, args)
	if err != nil {
		return Failure(err.Error())
	}
	return Success(value)
}

// schemaMap converts a schema to the generic map form used in
// llm.ToolDefinition.
func schemaMap(s *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return m, nil
}

// stringArg returns a required string argument. Schema validation has
// already checked presence and type; this guards handlers called directly.
func stringArg(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}
