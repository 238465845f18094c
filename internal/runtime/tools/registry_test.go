package tools

import (
	"context"
	"encoding/json"
	"testing"
)

type echoTool struct{}

func (echoTool) Name() string  { return "echo" }
func (echoTool) Schema() *Schema { return nil }
func (echoTool) Execute(ctx context.Context, args json.RawMessage, toolCtx ToolContext) (Result, error) {
	return Result{Content: string(args)}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool{})

	tool, ok := r.Get("echo")
	if !ok {
		t.Fatal("expected echo tool to be registered")
	}
	if tool.Name() != "echo" {
		t.Errorf("Name() = %q, want echo", tool.Name())
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("missing"); ok {
		t.Error("expected missing tool lookup to fail")
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool{})
	list := r.List()
	if len(list) != 1 || list[0] != "echo" {
		t.Errorf("List() = %v, want [echo]", list)
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register(echoTool{})
	r.Unregister("echo")
	if _, ok := r.Get("echo"); ok {
		t.Error("expected echo tool to be unregistered")
	}
}

func TestCompileSchemaAndValidateArguments(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {"path": {"type": "string"}},
		"required": ["path"]
	}`)
	schema, err := CompileSchema(raw)
	if err != nil {
		t.Fatalf("CompileSchema: %v", err)
	}

	if err := ValidateArguments(schema, json.RawMessage(`{"path": "/tmp/x"}`)); err != nil {
		t.Errorf("expected valid arguments to pass: %v", err)
	}
	if err := ValidateArguments(schema, json.RawMessage(`{}`)); err == nil {
		t.Error("expected missing required field to fail validation")
	}
}

func TestValidateArgumentsNilSchemaAlwaysPasses(t *testing.T) {
	if err := ValidateArguments(nil, json.RawMessage(`{"anything": true}`)); err != nil {
		t.Errorf("nil schema should always pass: %v", err)
	}
}
