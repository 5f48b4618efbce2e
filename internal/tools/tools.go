// Package tools defines the tools available to the agent: the registry,
// the execution context every call runs under, the shared argument
// validation layer, and the task tools themselves.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	compiler "github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                       `json:"name"`
	Description string                                                       `json:"description"`
	Parameters  map[string]any                                               `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`

	args *compiler.Schema
}

// Registry holds available tools. It is built once at startup and is
// read-only afterwards.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry. The parameter schema must
// compile; Execute checks arguments against it.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" || t.Handler == nil {
		return fmt.Errorf("register tool: name and handler are required")
	}
	if t.Parameters == nil {
		t.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("register tool: %q already registered", t.Name)
	}
	schema, err := compileArguments(t.Name, t.Parameters)
	if err != nil {
		return err
	}
	t.args = schema
	r.tools[t.Name] = t
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all tools in OpenAI function format, sorted by name.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with given arguments.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", invalidArgument("invalid arguments: %v", err)
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := tool.args.Validate(args); err != nil {
		return "", argumentError(err)
	}

	return tool.Handler(ctx, args)
}
