// Package tools is the Tool Registry: a name-to-Tool lookup used only by
// the Agent Loop to resolve tool calls the model emits.
package tools

import (
	"context"
	"encoding/json"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolContext is constructed fresh per tool call from the ambient
// process working directory and the session id.
type ToolContext struct {
	SessionID        string
	WorkingDirectory string
}

// Result is a tool's execution outcome.
type Result struct {
	Content string
}

// Tool is the uniform interface the Agent Loop invokes to resolve a
// model's tool call. Individual implementations (filesystem, shell,
// browser, memory, notification, code-analysis) are out of the core's
// scope — this interface is all the loop ever sees.
type Tool interface {
	Name() string
	// Schema returns the tool's JSON Schema for argument validation, or
	// nil if the tool accepts unchecked arguments.
	Schema() *Schema
	Execute(ctx context.Context, args json.RawMessage, toolCtx ToolContext) (Result, error)
}

// Schema wraps a compiled JSON Schema document used to validate a tool's
// arguments before Execute is called.
type Schema struct {
	Raw      json.RawMessage
	compiled *jsonschema.Schema
}

// Registry is a read-mostly, lock-free concurrent name→Tool map, per the
// core's shared-resource policy for registries.
type Registry struct {
	tools *xsync.MapOf[string, Tool]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: xsync.NewMapOf[string, Tool]()}
}

// Register adds or replaces a tool by its own Name().
func (r *Registry) Register(t Tool) {
	r.tools.Store(t.Name(), t)
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.tools.Delete(name)
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	return r.tools.Load(name)
}

// List returns the names of every registered tool.
func (r *Registry) List() []string {
	out := make([]string, 0, r.tools.Size())
	r.tools.Range(func(name string, _ Tool) bool {
		out = append(out, name)
		return true
	})
	return out
}
