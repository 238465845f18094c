// Package multiagent implements the Sub-Agent Manager: it lets an agent
// spawn child agents as tool actions, tracks each child's lifecycle, and
// lets a parent fetch status, results, or terminate a child early.
package multiagent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/internal/runtime"
	"github.com/nexus-run/nexus-core/internal/spawner"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// ManagerConfig bounds how many children may be in flight at once.
type ManagerConfig struct {
	// MaxConcurrent caps the number of children in {Starting, Running}.
	MaxConcurrent int
}

// Manager spawns and tracks child agents launched as tool actions by an
// ancestor agent.
type Manager struct {
	runtime *runtime.Runtime
	spawner *spawner.Spawner
	log     *observability.Logger
	metrics *observability.Metrics
	config  ManagerConfig

	spawns *xsync.MapOf[string, *corekit.SpawnedAgent]
}

// New returns a Manager that executes children through rt and tracks
// their background goroutines through sp.
func New(rt *runtime.Runtime, sp *spawner.Spawner, config ManagerConfig, log *observability.Logger, metrics *observability.Metrics) *Manager {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 5
	}
	return &Manager{
		runtime: rt,
		spawner: sp,
		log:     log,
		metrics: metrics,
		config:  config,
		spawns:  xsync.NewMapOf[string, *corekit.SpawnedAgent](),
	}
}

func (m *Manager) activeCount() int {
	count := 0
	m.spawns.Range(func(_ string, a *corekit.SpawnedAgent) bool {
		if a.Status == corekit.SpawnedAgentStarting || a.Status == corekit.SpawnedAgentRunning {
			count++
		}
		return true
	})
	return count
}

// Spawn launches a child agent running agentID against task, recorded as
// a descendant of parentID (empty for a top-level spawn). It returns
// immediately with the SpawnedAgent in the Starting state; the agent
// runs in a background goroutine owned by the Spawner.
func (m *Manager) Spawn(ctx context.Context, agentID, task, parentID string, tools []string, metadata map[string]any) (*corekit.SpawnedAgent, error) {
	if m.activeCount() >= m.config.MaxConcurrent {
		return nil, errs.SpawnFailed(fmt.Sprintf("Max concurrent agents (%d) reached", m.config.MaxConcurrent))
	}

	spawned := &corekit.SpawnedAgent{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		SessionID: "subagent:" + uuid.NewString(),
		ParentID:  parentID,
		Status:    corekit.SpawnedAgentStarting,
		Task:      task,
		SpawnedAt: time.Now(),
		Tools:     tools,
		Metadata:  metadata,
	}
	m.spawns.Store(spawned.ID, spawned)

	m.spawner.SpawnCancellable(ctx, "subagent:"+spawned.ID, func(ctx context.Context) error {
		m.run(ctx, spawned)
		return nil
	})

	return spawned, nil
}

func (m *Manager) run(ctx context.Context, spawned *corekit.SpawnedAgent) {
	m.setStatus(spawned.ID, corekit.SpawnedAgentRunning, "")

	messages, err := m.runtime.Execute(ctx, spawned.AgentID, spawned.SessionID, corekit.Message{
		Role:    corekit.RoleUser,
		Content: spawned.Task,
	})

	current, ok := m.spawns.Load(spawned.ID)
	if !ok {
		return
	}
	now := time.Now()
	current.CompletedAt = &now

	if err != nil {
		current.Status = corekit.SpawnedAgentFailed
		current.Error = err.Error()
		m.spawns.Store(spawned.ID, current)
		if m.metrics != nil {
			m.metrics.RecordError("multiagent", "spawn_failed")
		}
		if m.log != nil {
			m.log.Warn("subagent run failed", "spawn_id", spawned.ID, "agent_id", spawned.AgentID, "error", err)
		}
		return
	}

	current.Status = corekit.SpawnedAgentCompleted
	if len(messages) > 0 {
		current.LastMessage = messages[len(messages)-1].Content
	}
	m.spawns.Store(spawned.ID, current)
}

func (m *Manager) setStatus(id string, status corekit.SpawnedAgentStatus, errMsg string) {
	current, ok := m.spawns.Load(id)
	if !ok {
		return
	}
	current.Status = status
	if errMsg != "" {
		current.Error = errMsg
	}
	m.spawns.Store(id, current)
}

// GetStatus returns the current SpawnedAgent record for spawnID.
func (m *Manager) GetStatus(spawnID string) (*corekit.SpawnedAgent, error) {
	a, ok := m.spawns.Load(spawnID)
	if !ok {
		return nil, errs.ErrNotFound
	}
	return a, nil
}

// GetResult returns the child's final message, or an error if it has not
// reached a terminal state.
func (m *Manager) GetResult(spawnID string) (string, error) {
	a, ok := m.spawns.Load(spawnID)
	if !ok {
		return "", errs.ErrNotFound
	}
	switch a.Status {
	case corekit.SpawnedAgentCompleted:
		return a.LastMessage, nil
	case corekit.SpawnedAgentFailed:
		return "", errs.ExecutionFailed(a.Error, nil)
	default:
		return "", errs.ExecutionFailed("subagent has not completed", nil)
	}
}

// SendMessage delivers an additional message to a running child's
// session, driving another turn of its Agent Loop.
func (m *Manager) SendMessage(ctx context.Context, spawnID string, message string) error {
	a, ok := m.spawns.Load(spawnID)
	if !ok {
		return errs.ErrNotFound
	}
	if a.Status != corekit.SpawnedAgentRunning && a.Status != corekit.SpawnedAgentIdle {
		return errs.ExecutionFailed("subagent is not running", nil)
	}

	messages, err := m.runtime.Execute(ctx, a.AgentID, a.SessionID, corekit.Message{
		Role:    corekit.RoleUser,
		Content: message,
	})
	if err != nil {
		return err
	}
	if current, ok := m.spawns.Load(spawnID); ok && len(messages) > 0 {
		current.LastMessage = messages[len(messages)-1].Content
		m.spawns.Store(spawnID, current)
	}
	return nil
}

// Terminate aborts a running child via the Runtime's cooperative abort
// handle and marks it Terminated.
func (m *Manager) Terminate(spawnID string) error {
	a, ok := m.spawns.Load(spawnID)
	if !ok {
		return errs.ErrNotFound
	}
	m.runtime.Abort(a.SessionID)
	m.setStatus(spawnID, corekit.SpawnedAgentTerminated, "")
	return nil
}

// List returns every tracked SpawnedAgent.
func (m *Manager) List() []*corekit.SpawnedAgent {
	out := make([]*corekit.SpawnedAgent, 0, m.spawns.Size())
	m.spawns.Range(func(_ string, a *corekit.SpawnedAgent) bool {
		out = append(out, a)
		return true
	})
	return out
}

// ListByParent returns every tracked SpawnedAgent whose ParentID matches.
func (m *Manager) ListByParent(parentID string) []*corekit.SpawnedAgent {
	var out []*corekit.SpawnedAgent
	m.spawns.Range(func(_ string, a *corekit.SpawnedAgent) bool {
		if a.ParentID == parentID {
			out = append(out, a)
		}
		return true
	})
	return out
}

// CleanupOld removes terminal SpawnedAgents whose CompletedAt is older
// than maxAge, returning the number removed.
func (m *Manager) CleanupOld(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	var toDelete []string
	m.spawns.Range(func(id string, a *corekit.SpawnedAgent) bool {
		if a.CompletedAt != nil && a.CompletedAt.Before(cutoff) {
			toDelete = append(toDelete, id)
		}
		return true
	})
	for _, id := range toDelete {
		m.spawns.Delete(id)
	}
	return len(toDelete)
}
