package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nexus-run/nexus-core/internal/errs"
)

// MemoryStore is an in-process Store backed by maps, suitable for a
// single scheduler instance with no external coordination.
type MemoryStore struct {
	mu         sync.Mutex
	tasks      map[string]*ScheduledTask
	executions map[string]*TaskExecution
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      make(map[string]*ScheduledTask),
		executions: make(map[string]*TaskExecution),
	}
}

func cloneTask(t *ScheduledTask) *ScheduledTask {
	clone := *t
	return &clone
}

func cloneExecution(e *TaskExecution) *TaskExecution {
	clone := *e
	return &clone
}

func (s *MemoryStore) CreateTask(ctx context.Context, task *ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return cloneTask(task), nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, task *ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return errs.ErrNotFound
	}
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *MemoryStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, opts ListTasksOptions) ([]*ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ScheduledTask
	for _, task := range s.tasks {
		if opts.Status != nil && task.Status != *opts.Status {
			continue
		}
		if !opts.IncludeDisabled && task.Status == TaskStatusDisabled {
			continue
		}
		out = append(out, cloneTask(task))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return paginateTasks(out, opts.Offset, opts.Limit), nil
}

func paginateTasks(tasks []*ScheduledTask, offset, limit int) []*ScheduledTask {
	if offset > 0 {
		if offset >= len(tasks) {
			return nil
		}
		tasks = tasks[offset:]
	}
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks
}

func (s *MemoryStore) CreateExecution(ctx context.Context, exec *TaskExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = cloneExecution(exec)
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, id string) (*TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return cloneExecution(exec), nil
}

func (s *MemoryStore) ListExecutions(ctx context.Context, taskID string, opts ListExecutionsOptions) ([]*TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*TaskExecution
	for _, exec := range s.executions {
		if exec.TaskID != taskID {
			continue
		}
		if opts.Status != nil && exec.Status != *opts.Status {
			continue
		}
		out = append(out, cloneExecution(exec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	return paginateExecutions(out, opts.Offset, opts.Limit), nil
}

func paginateExecutions(execs []*TaskExecution, offset, limit int) []*TaskExecution {
	if offset > 0 {
		if offset >= len(execs) {
			return nil
		}
		execs = execs[offset:]
	}
	if limit > 0 && limit < len(execs) {
		execs = execs[:limit]
	}
	return execs
}

func (s *MemoryStore) GetDueTasks(ctx context.Context, now time.Time, limit int) ([]*ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*ScheduledTask
	for _, task := range s.tasks {
		if task.Status != TaskStatusActive {
			continue
		}
		if task.NextRunAt.After(now) {
			continue
		}
		out = append(out, cloneTask(task))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AcquireExecution(ctx context.Context, workerID string, lockDuration time.Duration) (*TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var candidate *TaskExecution
	for _, exec := range s.executions {
		if exec.Status != ExecutionStatusPending {
			continue
		}
		if exec.LockedUntil != nil && exec.LockedUntil.After(now) {
			continue
		}
		if candidate == nil || exec.ScheduledAt.Before(candidate.ScheduledAt) {
			candidate = exec
		}
	}
	if candidate == nil {
		return nil, nil
	}

	lockUntil := now.Add(lockDuration)
	candidate.Status = ExecutionStatusRunning
	candidate.WorkerID = workerID
	candidate.LockedAt = &now
	candidate.LockedUntil = &lockUntil
	candidate.StartedAt = &now

	return cloneExecution(candidate), nil
}

func (s *MemoryStore) CompleteExecution(ctx context.Context, executionID string, status ExecutionStatus, response, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, ok := s.executions[executionID]
	if !ok {
		return errs.ErrNotFound
	}
	now := time.Now()
	exec.Status = status
	exec.Response = response
	exec.Error = errMsg
	exec.FinishedAt = &now
	if exec.StartedAt != nil {
		exec.Duration = now.Sub(*exec.StartedAt)
	}
	return nil
}

func (s *MemoryStore) GetRunningExecutions(ctx context.Context, taskID string) ([]*TaskExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*TaskExecution
	for _, exec := range s.executions {
		if exec.TaskID == taskID && exec.Status == ExecutionStatusRunning {
			out = append(out, cloneExecution(exec))
		}
	}
	return out, nil
}

func (s *MemoryStore) CleanupStaleExecutions(ctx context.Context, timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for _, exec := range s.executions {
		if exec.Status != ExecutionStatusRunning || exec.StartedAt == nil {
			continue
		}
		if now.Sub(*exec.StartedAt) <= timeout {
			continue
		}
		exec.Status = ExecutionStatusTimedOut
		exec.Error = "execution exceeded stale timeout"
		exec.FinishedAt = &now
		exec.Duration = now.Sub(*exec.StartedAt)
		count++
	}
	return count, nil
}
