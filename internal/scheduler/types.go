// Package scheduler runs cron-scheduled submissions against the
// RunLoop's single entry point, generalizing the notion of a scheduled
// task onto the core's one-message-in/one-reply-out contract rather
// than any particular channel or agent.
package scheduler

import (
	"encoding/json"
	"time"
)

// TaskStatus is the lifecycle state of a ScheduledTask.
type TaskStatus string

const (
	TaskStatusActive   TaskStatus = "active"
	TaskStatusPaused   TaskStatus = "paused"
	TaskStatusDisabled TaskStatus = "disabled"
)

// ExecutionStatus is the lifecycle state of a single TaskExecution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusTimedOut  ExecutionStatus = "timed_out"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// ScheduledTask defines a recurring RunLoop submission.
type ScheduledTask struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Schedule is a standard 5-field or seconds-optional 6-field cron
	// expression, or "@at <RFC3339 timestamp>"/"@once" for a one-shot
	// run with no recurrence.
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`

	// Prompt is submitted as the content of a corekit.InboundMessage
	// each time the task fires.
	Prompt string `json:"prompt"`

	// ReplyChannelID and ReplyTarget address where the eventual reply
	// is delivered, via the same channels.Registry every other inbound
	// message uses. Left empty, replies are only recorded on the
	// TaskExecution, not delivered anywhere.
	ReplyChannelID string `json:"reply_channel_id,omitempty"`
	ReplyTarget    string `json:"reply_target,omitempty"`

	Config TaskConfig `json:"config"`
	Status TaskStatus `json:"status"`

	NextRunAt       time.Time  `json:"next_run_at"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastExecutionID string     `json:"last_execution_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskConfig holds per-task execution tuning.
type TaskConfig struct {
	Timeout      time.Duration `json:"timeout,omitempty"`
	MaxRetries   int           `json:"max_retries,omitempty"`
	RetryDelay   time.Duration `json:"retry_delay,omitempty"`
	AllowOverlap bool          `json:"allow_overlap,omitempty"`
}

// DefaultTaskConfig returns a TaskConfig with sensible defaults.
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		Timeout:    5 * time.Minute,
		RetryDelay: 30 * time.Second,
	}
}

// MarshalConfig marshals a TaskConfig to JSON.
func (c TaskConfig) MarshalConfig() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalConfig unmarshals JSON into a TaskConfig.
func UnmarshalConfig(data []byte) (TaskConfig, error) {
	var c TaskConfig
	if len(data) == 0 {
		return c, nil
	}
	err := json.Unmarshal(data, &c)
	return c, err
}

// TaskExecution is a single firing of a ScheduledTask.
type TaskExecution struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`

	Status      ExecutionStatus `json:"status"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`

	Prompt   string `json:"prompt"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`

	AttemptNumber int `json:"attempt_number"`

	WorkerID    string     `json:"worker_id,omitempty"`
	LockedAt    *time.Time `json:"locked_at,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`

	Duration time.Duration  `json:"duration,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsTerminal reports whether e is in a state the scheduler will not
// transition out of on its own.
func (e *TaskExecution) IsTerminal() bool {
	switch e.Status {
	case ExecutionStatusSucceeded, ExecutionStatusFailed, ExecutionStatusTimedOut, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}
