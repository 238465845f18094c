// Package runtime implements the Agent Loop and Agent Runtime: the
// turn-by-turn driver that calls an Agent Executor, resolves the tool
// calls it emits against a Tool Registry, and persists transcript and
// checkpoint state at each step.
package runtime

import (
	"context"
	"sync/atomic"

	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// Agent is a registered capability: a name, an executor that turns a
// prompt plus context into a response, and the tool names it is allowed
// to call. The loop never constructs an Agent itself; callers register
// one through a Runtime.
type Agent struct {
	ID           string
	Name         string
	SystemPrompt string
	Tools        []string
	Executor     AgentExecutor
}

// AgentResponse is what an AgentExecutor returns for a single turn.
type AgentResponse struct {
	Message    corekit.Message
	IsComplete bool
	ToolCalls  []corekit.ToolCall
	Metadata   map[string]any
}

// AgentExecutor turns a prompt and the accumulated context into a single
// turn's response. Implementations talk to a model provider; they never
// invoke a tool themselves, only request one through ToolCalls.
type AgentExecutor interface {
	Execute(ctx context.Context, agent *Agent, lastMessage corekit.Message, agentCtx *AgentContext) (AgentResponse, error)
}

// AgentContext carries the mutable state threaded through a run: the
// working message history, arbitrary session data a tool or executor may
// stash between turns, and the abort handle the Runtime uses to cancel a
// running session cooperatively.
type AgentContext struct {
	SessionID   string
	History     []corekit.Message
	Data        any
	AbortSignal *AbortSignal
}

// NewAgentContext returns an AgentContext seeded with the given history.
func NewAgentContext(sessionID string, history []corekit.Message) *AgentContext {
	return &AgentContext{
		SessionID:   sessionID,
		History:     history,
		AbortSignal: NewAbortSignal(),
	}
}

// AbortSignal is a cooperative cancellation flag checked between turns
// and between tool calls. It is distinct from context cancellation: an
// aborted session still gets to persist whatever it has accumulated so
// far before the loop returns.
type AbortSignal struct {
	aborted atomic.Bool
}

// NewAbortSignal returns a signal in the not-aborted state.
func NewAbortSignal() *AbortSignal {
	return &AbortSignal{}
}

// Abort marks the signal aborted. Safe to call more than once.
func (s *AbortSignal) Abort() {
	s.aborted.Store(true)
}

// Aborted reports whether Abort has been called.
func (s *AbortSignal) Aborted() bool {
	return s.aborted.Load()
}
