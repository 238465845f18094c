package multiagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexus-run/nexus-core/internal/runtime/tools"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// spawnSubagentSchema is the JSON Schema for SpawnTool's arguments.
var spawnSubagentSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"agent_id": {"type": "string"},
		"task": {"type": "string"},
		"tools": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["agent_id", "task"]
}`)

// SpawnTool exposes Manager.Spawn as a model-callable tool action, letting
// an agent delegate part of its task to a child agent without blocking its
// own turn loop on the child's completion.
type SpawnTool struct {
	manager *Manager
	schema  *tools.Schema
}

var _ tools.Tool = (*SpawnTool)(nil)

// NewSpawnTool returns a Tool backed by manager. Schema compilation is
// fallible (the Go standard library has no panic-free way to precompile
// a malformed literal at init time), so construction can fail.
func NewSpawnTool(manager *Manager) (*SpawnTool, error) {
	schema, err := tools.CompileSchema(spawnSubagentSchema)
	if err != nil {
		return nil, fmt.Errorf("multiagent: compile spawn_subagent schema: %w", err)
	}
	return &SpawnTool{manager: manager, schema: schema}, nil
}

func (t *SpawnTool) Name() string { return "spawn_subagent" }

func (t *SpawnTool) Schema() *tools.Schema { return t.schema }

type spawnSubagentArgs struct {
	AgentID string   `json:"agent_id"`
	Task    string   `json:"task"`
	Tools   []string `json:"tools"`
}

// Execute spawns a child agent and returns immediately with its spawn id;
// the child continues running in the background under the Task Spawner.
func (t *SpawnTool) Execute(ctx context.Context, args json.RawMessage, toolCtx tools.ToolContext) (tools.Result, error) {
	var parsed spawnSubagentArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return tools.Result{}, fmt.Errorf("multiagent: decode spawn_subagent arguments: %w", err)
	}

	spawned, err := t.manager.Spawn(ctx, parsed.AgentID, parsed.Task, toolCtx.SessionID, parsed.Tools, nil)
	if err != nil {
		return tools.Result{}, err
	}
	return tools.Result{Content: fmt.Sprintf("spawned %s (status: %s)", spawned.ID, spawned.Status)}, nil
}

// statusSubagentSchema is the JSON Schema for StatusTool's arguments.
var statusSubagentSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"spawn_id": {"type": "string"}
	},
	"required": ["spawn_id"]
}`)

// StatusTool exposes Manager.GetStatus/GetResult as a model-callable tool
// action, letting a parent agent check in on a child it previously spawned.
type StatusTool struct {
	manager *Manager
	schema  *tools.Schema
}

var _ tools.Tool = (*StatusTool)(nil)

// NewStatusTool returns a Tool backed by manager.
func NewStatusTool(manager *Manager) (*StatusTool, error) {
	schema, err := tools.CompileSchema(statusSubagentSchema)
	if err != nil {
		return nil, fmt.Errorf("multiagent: compile subagent_status schema: %w", err)
	}
	return &StatusTool{manager: manager, schema: schema}, nil
}

func (t *StatusTool) Name() string { return "subagent_status" }

func (t *StatusTool) Schema() *tools.Schema { return t.schema }

type statusSubagentArgs struct {
	SpawnID string `json:"spawn_id"`
}

func (t *StatusTool) Execute(ctx context.Context, args json.RawMessage, toolCtx tools.ToolContext) (tools.Result, error) {
	var parsed statusSubagentArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return tools.Result{}, fmt.Errorf("multiagent: decode subagent_status arguments: %w", err)
	}

	spawned, err := t.manager.GetStatus(parsed.SpawnID)
	if err != nil {
		return tools.Result{}, err
	}
	if spawned.Status != corekit.SpawnedAgentCompleted && spawned.Status != corekit.SpawnedAgentFailed {
		return tools.Result{Content: fmt.Sprintf("status: %s", spawned.Status)}, nil
	}

	result, err := t.manager.GetResult(parsed.SpawnID)
	if err != nil {
		return tools.Result{Content: fmt.Sprintf("status: %s (error: %v)", spawned.Status, err)}, nil
	}
	return tools.Result{Content: fmt.Sprintf("status: %s\nresult: %s", spawned.Status, result)}, nil
}
