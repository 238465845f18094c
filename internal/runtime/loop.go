package runtime

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/nexus-run/nexus-core/internal/checkpoint"
	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/internal/runtime/tools"
	"github.com/nexus-run/nexus-core/internal/transcript"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// LoopConfig configures a single Agent Loop invocation.
type LoopConfig struct {
	// MaxTurns is the hard ceiling on turns per invocation.
	MaxTurns int

	// TimeoutSeconds bounds the whole invocation; 0 means no timeout.
	TimeoutSeconds int

	// CheckpointEnabled turns on the should_checkpoint policy check
	// after each turn.
	CheckpointEnabled bool

	// CheckpointEvery checkpoints every Nth turn when CheckpointEnabled
	// is set. 0 or 1 checkpoints every turn.
	CheckpointEvery int
}

// DefaultLoopConfig returns a conservative configuration: 25 turns, no
// timeout, checkpointing on.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxTurns:          25,
		CheckpointEnabled: true,
		CheckpointEvery:   1,
	}
}

func (c LoopConfig) shouldCheckpoint(turn int) bool {
	if !c.CheckpointEnabled {
		return false
	}
	every := c.CheckpointEvery
	if every <= 1 {
		return true
	}
	return turn%every == 0
}

// Loop drives a single Agent through successive turns, resolving tool
// calls against a Tool Registry and recording transcript/checkpoint
// state as it goes.
type Loop struct {
	registry   *tools.Registry
	checkpoint checkpoint.Store
	transcript *transcript.Manager
	log        *observability.Logger
	metrics    *observability.Metrics
	config     LoopConfig
}

// NewLoop returns a Loop. transcript may be nil to disable transcript
// recording; checkpoint may be nil to disable checkpointing regardless
// of config.CheckpointEnabled.
func NewLoop(registry *tools.Registry, store checkpoint.Store, tm *transcript.Manager, log *observability.Logger, metrics *observability.Metrics, config LoopConfig) *Loop {
	return &Loop{
		registry:   registry,
		checkpoint: store,
		transcript: tm,
		log:        log,
		metrics:    metrics,
		config:     config,
	}
}

// Run executes agent starting from workingDir/session-id held in
// agentCtx, seeded with the given initial message, and returns the full
// working message list or a typed error.
func (l *Loop) Run(ctx context.Context, agent *Agent, agentCtx *AgentContext, initial corekit.Message) ([]corekit.Message, error) {
	working := make([]corekit.Message, len(agentCtx.History))
	copy(working, agentCtx.History)
	working = append(working, initial)

	w, err := l.writerFor(agentCtx.SessionID)
	if err != nil {
		return nil, err
	}
	if w != nil {
		if _, err := w.RecordUserMessage(initial.Content); err != nil {
			l.warn("record user message failed", "error", err)
		}
	}

	return l.runFrom(ctx, agent, agentCtx, working, 0, w)
}

// RunWithRecovery restores the latest checkpoint for the session, if one
// exists, and resumes from its turn using its message list as the
// working list. If no checkpoint exists, it behaves like Run.
func (l *Loop) RunWithRecovery(ctx context.Context, agent *Agent, agentCtx *AgentContext, initial corekit.Message) ([]corekit.Message, error) {
	if l.checkpoint == nil {
		return l.Run(ctx, agent, agentCtx, initial)
	}

	cp, err := l.checkpoint.GetLatest(ctx, agentCtx.SessionID)
	if err != nil && err != errs.ErrNotFound {
		return nil, errs.CheckpointError(err)
	}
	if cp == nil {
		return l.Run(ctx, agent, agentCtx, initial)
	}

	agentCtx.Data = cp.Context
	working := make([]corekit.Message, len(cp.Messages))
	copy(working, cp.Messages)

	w, err := l.writerFor(agentCtx.SessionID)
	if err != nil {
		return nil, err
	}

	return l.runFrom(ctx, agent, agentCtx, working, cp.Turn, w)
}

func (l *Loop) runFrom(ctx context.Context, agent *Agent, agentCtx *AgentContext, working []corekit.Message, turn int, w *transcript.Writer) ([]corekit.Message, error) {
	if l.config.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(l.config.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	for {
		if agentCtx.AbortSignal != nil && agentCtx.AbortSignal.Aborted() {
			l.endSession(w, "aborted", nil, turn)
			return working, errs.ErrAborted
		}
		if turn >= l.config.MaxTurns {
			l.endSession(w, "max_turns", nil, turn)
			return working, &errs.MaxTurnsExceededError{Turns: turn}
		}
		select {
		case <-ctx.Done():
			l.endSession(w, "aborted", nil, turn)
			return working, errs.ErrTimeout
		default:
		}

		turn++

		var lastMessage corekit.Message
		if len(working) > 0 {
			lastMessage = working[len(working)-1]
		}
		agentCtx.History = working

		response, err := agent.Executor.Execute(ctx, agent, lastMessage, agentCtx)
		if err != nil {
			// Executor failures are not fatal: the conversation records the
			// failure and the loop gives the model another turn to recover.
			// max_turns remains the hard ceiling.
			l.warn("agent executor failed", "session_id", agentCtx.SessionID, "turn", turn, "error", err)
			if l.metrics != nil {
				l.metrics.RecordError("agent_loop", "executor_failed")
			}
			working = append(working, corekit.Message{
				Role:    corekit.RoleAssistant,
				Content: "Error: " + err.Error(),
			})
			continue
		}

		if w != nil {
			stopReason := ""
			if response.IsComplete {
				stopReason = "end_turn"
			}
			if _, err := w.RecordAssistantMessage(response.Message.Content, &stopReason); err != nil {
				l.warn("record assistant message failed", "error", err)
			}
		}

		working = append(working, response.Message)

		if l.config.shouldCheckpoint(turn) && l.checkpoint != nil {
			cp := corekit.Checkpoint{
				SessionID: agentCtx.SessionID,
				Turn:      turn,
				Messages:  working,
				Context:   agentCtx.Data,
				CreatedAt: time.Now(),
			}
			if err := l.checkpoint.Save(ctx, cp); err != nil {
				l.warn("checkpoint save failed", "session_id", agentCtx.SessionID, "turn", turn, "error", err)
			}
		}

		if response.IsComplete {
			l.endSession(w, "completed", nil, turn)
			return working, nil
		}

		for _, call := range response.ToolCalls {
			if w != nil {
				if _, err := w.RecordToolUse(call.ID, call.Name, call.Arguments); err != nil {
					l.warn("record tool use failed", "error", err)
				}
			}

			start := time.Now()
			result := l.invokeTool(ctx, call, agentCtx.SessionID)
			elapsedDuration := time.Since(start)
			elapsed := elapsedDuration.Milliseconds()

			success := !strings.HasPrefix(result, "Error:")
			if l.metrics != nil {
				status := "ok"
				if !success {
					status = "error"
				}
				l.metrics.RecordToolExecution(call.Name, status, elapsedDuration.Seconds())
			}
			if w != nil {
				var errMsg *string
				if !success {
					m := result
					errMsg = &m
				}
				output := result
				if _, err := w.RecordToolResult(call.ID, call.Name, success, &output, errMsg, &elapsed); err != nil {
					l.warn("record tool result failed", "error", err)
				}
			}

			working = append(working, corekit.Message{
				Role:       corekit.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}
}

// invokeTool resolves and executes a single tool call, returning the
// exact string to carry forward in the tool-role message.
func (l *Loop) invokeTool(ctx context.Context, call corekit.ToolCall, sessionID string) string {
	if l.registry == nil {
		return "Tool not found: " + call.Name
	}
	tool, ok := l.registry.Get(call.Name)
	if !ok {
		return "Tool not found: " + call.Name
	}

	if err := tools.ValidateArguments(tool.Schema(), call.Arguments); err != nil {
		return "Tool error: " + err.Error()
	}

	wd, err := os.Getwd()
	if err != nil {
		wd = ""
	}
	toolCtx := tools.ToolContext{SessionID: sessionID, WorkingDirectory: wd}
	result, err := tool.Execute(ctx, call.Arguments, toolCtx)
	if err != nil {
		return "Tool error: " + err.Error()
	}
	return result.Content
}

func (l *Loop) writerFor(sessionID string) (*transcript.Writer, error) {
	if l.transcript == nil {
		return nil, nil
	}
	w, err := l.transcript.GetWriter(sessionID)
	if err != nil {
		return nil, errs.ExecutionFailed("failed to open transcript writer", err)
	}
	return w, nil
}

func (l *Loop) endSession(w *transcript.Writer, status string, errMsg *string, turns int) {
	if w == nil {
		return
	}
	if err := w.RecordSessionEnd(status, errMsg, turns, nil); err != nil {
		l.warn("record session end failed", "error", err)
	}
}

func (l *Loop) warn(msg string, args ...any) {
	if l.log == nil {
		return
	}
	l.log.Warn(msg, args...)
}
