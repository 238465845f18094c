package scheduler

import (
	"context"
	"time"
)

// Store persists ScheduledTasks and their TaskExecutions.
type Store interface {
	CreateTask(ctx context.Context, task *ScheduledTask) error
	GetTask(ctx context.Context, id string) (*ScheduledTask, error)
	UpdateTask(ctx context.Context, task *ScheduledTask) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, opts ListTasksOptions) ([]*ScheduledTask, error)

	CreateExecution(ctx context.Context, exec *TaskExecution) error
	GetExecution(ctx context.Context, id string) (*TaskExecution, error)
	ListExecutions(ctx context.Context, taskID string, opts ListExecutionsOptions) ([]*TaskExecution, error)

	// GetDueTasks returns active tasks whose NextRunAt is at or before now.
	GetDueTasks(ctx context.Context, now time.Time, limit int) ([]*ScheduledTask, error)

	// AcquireExecution locks one pending execution for workerID, or
	// returns nil if none are available. Implementations backed by a
	// shared database use SELECT ... FOR UPDATE SKIP LOCKED so that
	// multiple scheduler instances divide the work without double-running
	// an execution.
	AcquireExecution(ctx context.Context, workerID string, lockDuration time.Duration) (*TaskExecution, error)

	// CompleteExecution marks an execution terminal with its outcome.
	CompleteExecution(ctx context.Context, executionID string, status ExecutionStatus, response, errMsg string) error

	// GetRunningExecutions returns in-flight executions for taskID, used
	// to enforce TaskConfig.AllowOverlap.
	GetRunningExecutions(ctx context.Context, taskID string) ([]*TaskExecution, error)

	// CleanupStaleExecutions marks executions running longer than
	// timeout as timed out, returning how many were cleaned up.
	CleanupStaleExecutions(ctx context.Context, timeout time.Duration) (int, error)
}

// ListTasksOptions filters ListTasks.
type ListTasksOptions struct {
	Status          *TaskStatus
	Limit           int
	Offset          int
	IncludeDisabled bool
}

// ListExecutionsOptions filters ListExecutions.
type ListExecutionsOptions struct {
	Status *ExecutionStatus
	Limit  int
	Offset int
}

// Closer is implemented by stores holding resources that need releasing.
type Closer interface {
	Close() error
}
