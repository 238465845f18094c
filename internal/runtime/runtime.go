package runtime

import (
	"context"
	"sync"

	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/internal/transcript"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// RuntimeConfig configures a Runtime.
type RuntimeConfig struct {
	// MaxConcurrent bounds simultaneous Execute calls across all
	// sessions. Must be positive.
	MaxConcurrent int

	DefaultLoopConfig LoopConfig
}

// Runtime is a thin front over the Agent Loop: it owns agent
// registration, per-session abort handles, a fixed concurrency
// semaphore, and per-session history.
type Runtime struct {
	mu     sync.RWMutex
	agents map[string]*Agent

	runningMu sync.Mutex
	running   map[string]*AbortSignal

	history *HistoryManager
	loop    *Loop
	sem     chan struct{}
	log     *observability.Logger
}

// NewRuntime returns a Runtime backed by loop for turn execution.
func NewRuntime(loop *Loop, config RuntimeConfig, log *observability.Logger) *Runtime {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	return &Runtime{
		agents:  make(map[string]*Agent),
		running: make(map[string]*AbortSignal),
		history: NewHistoryManager(),
		loop:    loop,
		sem:     make(chan struct{}, config.MaxConcurrent),
		log:     log,
	}
}

// RegisterAgent adds or replaces an agent by its ID.
func (r *Runtime) RegisterAgent(agent *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.ID] = agent
}

// UnregisterAgent removes an agent by ID.
func (r *Runtime) UnregisterAgent(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// ListAgents returns the IDs of every registered agent.
func (r *Runtime) ListAgents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	return out
}

func (r *Runtime) agentByID(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return agent, nil
}

// Execute looks up agentID, acquires a concurrency permit, and runs the
// Agent Loop for sessionID with message as the new turn's input. On
// return, every message the loop produced (including message itself) is
// appended to the session's history.
func (r *Runtime) Execute(ctx context.Context, agentID, sessionID string, message corekit.Message) ([]corekit.Message, error) {
	return r.execute(ctx, agentID, sessionID, message, false)
}

// ExecuteWithTranscript behaves like Execute but additionally guarantees
// a transcript writer is opened for sessionID, so channel-facing callers
// can surface the recorded path to the user.
func (r *Runtime) ExecuteWithTranscript(ctx context.Context, agentID, sessionID string, message corekit.Message) ([]corekit.Message, error) {
	return r.execute(ctx, agentID, sessionID, message, true)
}

func (r *Runtime) execute(ctx context.Context, agentID, sessionID string, message corekit.Message, requireTranscript bool) ([]corekit.Message, error) {
	agent, err := r.agentByID(agentID)
	if err != nil {
		return nil, err
	}

	select {
	case r.sem <- struct{}{}:
	default:
		return nil, errs.ExecutionFailed("Failed to acquire concurrency permit", nil)
	}
	defer func() { <-r.sem }()

	signal := NewAbortSignal()
	r.runningMu.Lock()
	r.running[sessionID] = signal
	r.runningMu.Unlock()
	defer func() {
		r.runningMu.Lock()
		delete(r.running, sessionID)
		r.runningMu.Unlock()
	}()

	history := r.history.Get(sessionID)
	agentCtx := NewAgentContext(sessionID, history)
	agentCtx.AbortSignal = signal

	r.history.Append(sessionID, message)

	loop := r.loop
	if requireTranscript && loop.transcript == nil {
		return nil, errs.ExecutionFailed("transcript recording requested but no transcript manager is configured", nil)
	}

	produced, runErr := loop.Run(ctx, agent, agentCtx, message)
	if len(produced) > len(history)+1 {
		r.history.Append(sessionID, produced[len(history)+1:]...)
	}
	return produced, runErr
}

// Abort signals the running session's AbortSignal, if one exists. It
// returns false if the session is not currently running.
func (r *Runtime) Abort(sessionID string) bool {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	signal, ok := r.running[sessionID]
	if !ok {
		return false
	}
	signal.Abort()
	return true
}

// IsRunning reports whether sessionID currently has an Execute call in
// flight.
func (r *Runtime) IsRunning(sessionID string) bool {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	_, ok := r.running[sessionID]
	return ok
}

// RunningCount returns the number of sessions currently executing.
func (r *Runtime) RunningCount() int {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	return len(r.running)
}

// ClearHistory drops sessionID's accumulated history.
func (r *Runtime) ClearHistory(sessionID string) {
	r.history.Clear(sessionID)
}

// TranscriptManager exposes the Loop's transcript manager, if any, so
// callers can resolve a session's recorded path.
func (r *Runtime) TranscriptManager() *transcript.Manager {
	return r.loop.transcript
}
