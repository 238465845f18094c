package corekit

import "time"

// TaskState is the lifecycle state of a spawned task. A task present in
// the Spawner's active set always has state Running; any other state
// implies removal.
type TaskState string

const (
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskCancelled TaskState = "cancelled"
	TaskFailed    TaskState = "failed"

	// TaskCancelledButRunning is the redesign option spec.md §9 names for
	// the "leaky" cancel_all invariant: a non-cancellable task that was
	// marked Cancelled while it continues to execute. Defined but not
	// produced by default (see DESIGN.md Open Questions).
	TaskCancelledButRunning TaskState = "cancelled_but_running"
)

// TaskInfo describes a task tracked by the Spawner. Created when a task is
// spawned; reaches a terminal state exactly once; removed from the active
// set on any terminal transition.
type TaskInfo struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	CorrelationID       string    `json:"correlation_id,omitempty"`
	ParentCorrelationID string    `json:"parent_correlation_id,omitempty"`
	State               TaskState `json:"state"`
	SpawnedAt           time.Time `json:"spawned_at"`
	Cancellable         bool      `json:"cancellable"`
}

// SpawnedAgentStatus is the lifecycle state of a child agent launched by
// the Sub-Agent Manager.
type SpawnedAgentStatus string

const (
	SpawnedAgentStarting   SpawnedAgentStatus = "starting"
	SpawnedAgentRunning    SpawnedAgentStatus = "running"
	SpawnedAgentIdle       SpawnedAgentStatus = "idle"
	SpawnedAgentCompleted  SpawnedAgentStatus = "completed"
	SpawnedAgentFailed     SpawnedAgentStatus = "failed"
	SpawnedAgentTerminated SpawnedAgentStatus = "terminated"
)

// SpawnedAgent describes a child agent launched as a tool action by an
// ancestor agent.
type SpawnedAgent struct {
	ID          string             `json:"id"`
	AgentID     string             `json:"agent_id"`
	SessionID   string             `json:"session_id"`
	ParentID    string             `json:"parent_id,omitempty"`
	Status      SpawnedAgentStatus `json:"status"`
	Task        string             `json:"task"`
	SpawnedAt   time.Time          `json:"spawned_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	LastMessage string             `json:"last_message,omitempty"`
	Error       string             `json:"error,omitempty"`
	Tools       []string           `json:"tools,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}
