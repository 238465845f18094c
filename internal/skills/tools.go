package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/nexus-run/nexus-core/internal/runtime/tools"
)

// SkillToolSpec defines a tool a skill exposes to the agent. Each spec
// runs as a subprocess rather than an in-process handler, so a skill
// directory is the unit of both content and capability.
type SkillToolSpec struct {
	Name           string         `json:"name" yaml:"name"`
	Description    string         `json:"description" yaml:"description"`
	Schema         map[string]any `json:"schema" yaml:"schema"`
	Command        string         `json:"command" yaml:"command"`
	Script         string         `json:"script" yaml:"script"`
	TimeoutSeconds int            `json:"timeout_seconds" yaml:"timeout_seconds"`
	WorkingDir     string         `json:"cwd" yaml:"cwd"`
}

const defaultSkillToolTimeout = 30 * time.Second

// BuildSkillTools creates one runtime tool per spec a skill declares.
// It returns nil for a skill with no tool specs, so callers can range
// over every eligible skill without filtering first.
func BuildSkillTools(skill *SkillEntry) []tools.Tool {
	if skill == nil || skill.Metadata == nil || len(skill.Metadata.Tools) == 0 {
		return nil
	}

	out := make([]tools.Tool, 0, len(skill.Metadata.Tools))
	for _, spec := range skill.Metadata.Tools {
		if strings.TrimSpace(spec.Name) == "" {
			continue
		}
		schema, err := compileSkillToolSchema(spec)
		if err != nil {
			continue
		}
		out = append(out, &skillTool{skill: skill, spec: spec, schema: schema})
	}
	return out
}

func compileSkillToolSchema(spec SkillToolSpec) (*tools.Schema, error) {
	if spec.Schema == nil {
		return tools.CompileSchema(json.RawMessage(`{"type":"object"}`))
	}
	raw, err := json.Marshal(spec.Schema)
	if err != nil {
		return nil, fmt.Errorf("skills: marshal tool schema for %q: %w", spec.Name, err)
	}
	return tools.CompileSchema(raw)
}

// skillTool runs a skill's declared command (or script) as a subprocess,
// implementing the core's runtime/tools.Tool interface.
type skillTool struct {
	skill  *SkillEntry
	spec   SkillToolSpec
	schema *tools.Schema
}

var _ tools.Tool = (*skillTool)(nil)

func (t *skillTool) Name() string { return t.spec.Name }

func (t *skillTool) Schema() *tools.Schema { return t.schema }

func (t *skillTool) Execute(ctx context.Context, args json.RawMessage, toolCtx tools.ToolContext) (tools.Result, error) {
	command := strings.TrimSpace(t.spec.Command)
	if command == "" {
		command = "bash"
	}

	cwd := strings.TrimSpace(t.spec.WorkingDir)
	if cwd == "" {
		cwd = t.skill.Path
	}

	input := string(args)
	if script := strings.TrimSpace(t.spec.Script); script != "" {
		content, err := os.ReadFile(filepath.Join(t.skill.Path, script))
		if err != nil {
			return tools.Result{}, fmt.Errorf("skills: read script for tool %q: %w", t.spec.Name, err)
		}
		input = string(content)
	}

	timeout := time.Duration(t.spec.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultSkillToolTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command, "-c", input)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(),
		"NEXUS_TOOL_INPUT="+string(args),
		"NEXUS_TOOL_NAME="+t.spec.Name,
		"NEXUS_SKILL_NAME="+t.skill.Name,
		"NEXUS_SKILL_DIR="+t.skill.Path,
		"NEXUS_SESSION_ID="+toolCtx.SessionID,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return tools.Result{}, fmt.Errorf("skills: tool %q failed: %w: %s", t.spec.Name, err, stderr.String())
	}
	return tools.Result{Content: stdout.String()}, nil
}
