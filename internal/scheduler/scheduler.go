package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions, 6-field expressions
// with a leading seconds field, and the predefined @hourly/@daily/...
// descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Executor runs a single TaskExecution and returns its response text.
type Executor interface {
	Execute(ctx context.Context, task *ScheduledTask, exec *TaskExecution) (response string, err error)
}

// Config configures a Scheduler.
type Config struct {
	// WorkerID distinguishes this scheduler instance for distributed
	// locking. Defaults to a generated UUID.
	WorkerID string

	// PollInterval is how often due tasks are turned into pending
	// executions. Defaults to 10 seconds.
	PollInterval time.Duration

	// AcquireInterval is how often the scheduler tries to claim a
	// pending execution. Defaults to 1 second.
	AcquireInterval time.Duration

	// LockDuration bounds how long an acquired execution stays locked
	// to this worker before another worker can reclaim it. Should
	// exceed the longest expected execution. Defaults to 10 minutes.
	LockDuration time.Duration

	// MaxConcurrency caps in-flight executions on this instance.
	// Defaults to 5.
	MaxConcurrency int

	// CleanupInterval is how often stale running executions are swept.
	// Defaults to 1 minute.
	CleanupInterval time.Duration

	// StaleTimeout is how long an execution may run before the
	// cleanup loop marks it timed out. Defaults to 30 minutes.
	StaleTimeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns a Config with production-sane defaults.
func DefaultConfig() Config {
	return Config{
		WorkerID:        uuid.NewString(),
		PollInterval:    10 * time.Second,
		AcquireInterval: 1 * time.Second,
		LockDuration:    10 * time.Minute,
		MaxConcurrency:  5,
		CleanupInterval: time.Minute,
		StaleTimeout:    30 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	if c.WorkerID == "" {
		c.WorkerID = uuid.NewString()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.AcquireInterval <= 0 {
		c.AcquireInterval = time.Second
	}
	if c.LockDuration <= 0 {
		c.LockDuration = 10 * time.Minute
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = 30 * time.Minute
	}
}

// Scheduler turns ScheduledTasks into TaskExecutions on their cron
// schedule and drives them through an Executor, coordinating with any
// other Scheduler sharing the same Store through Store's locking
// primitives.
type Scheduler struct {
	store    Store
	executor Executor
	config   Config
	logger   *slog.Logger

	sem    chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.RWMutex
	running bool
}

// New builds a Scheduler over store, driving due executions through
// executor.
func New(store Store, executor Executor, config Config) *Scheduler {
	config.applyDefaults()

	logger := config.Logger
	if logger == nil {
		logger = slog.Default().With("component", "scheduler")
	}

	return &Scheduler{
		store:    store,
		executor: executor,
		config:   config,
		logger:   logger,
		sem:      make(chan struct{}, config.MaxConcurrency),
	}
}

// Start launches the poll, acquire, and cleanup loops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.logger.Info("starting scheduler",
		"worker_id", s.config.WorkerID,
		"poll_interval", s.config.PollInterval,
		"max_concurrency", s.config.MaxConcurrency,
	)

	s.wg.Add(3)
	go s.pollLoop(ctx)
	go s.acquireLoop(ctx)
	go s.cleanupLoop(ctx)

	return nil
}

// Stop signals every loop to exit and waits for in-flight executions
// to finish, up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping scheduler", "worker_id", s.config.WorkerID)

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// WorkerID returns this scheduler instance's worker identity.
func (s *Scheduler) WorkerID() string {
	return s.config.WorkerID
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.pollDueTasks(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollDueTasks(ctx)
		}
	}
}

func (s *Scheduler) pollDueTasks(ctx context.Context) {
	now := time.Now()

	tasks, err := s.store.GetDueTasks(ctx, now, 100)
	if err != nil {
		s.logger.Error("get due tasks", "error", err)
		return
	}

	for _, task := range tasks {
		if err := s.scheduleTask(ctx, task, now); err != nil {
			s.logger.Error("schedule task", "task_id", task.ID, "task_name", task.Name, "error", err)
		}
	}
}

func (s *Scheduler) scheduleTask(ctx context.Context, task *ScheduledTask, now time.Time) error {
	if !task.Config.AllowOverlap {
		running, err := s.store.GetRunningExecutions(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("check running executions: %w", err)
		}
		if len(running) > 0 {
			s.logger.Debug("skipping task, execution already running", "task_id", task.ID, "running", len(running))
			return s.updateNextRun(ctx, task, now)
		}
	}

	exec := &TaskExecution{
		ID:            uuid.NewString(),
		TaskID:        task.ID,
		Status:        ExecutionStatusPending,
		ScheduledAt:   task.NextRunAt,
		Prompt:        task.Prompt,
		AttemptNumber: 1,
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return fmt.Errorf("create execution: %w", err)
	}

	s.logger.Info("scheduled execution", "task_id", task.ID, "task_name", task.Name, "execution_id", exec.ID)

	return s.updateNextRun(ctx, task, now)
}

func (s *Scheduler) updateNextRun(ctx context.Context, task *ScheduledTask, lastRun time.Time) error {
	nextRun, err := calculateNextRun(task.Schedule, task.Timezone, lastRun, s.logger)
	if err != nil {
		s.logger.Error("invalid schedule, disabling task", "task_id", task.ID, "schedule", task.Schedule, "error", err)
		task.Status = TaskStatusDisabled
		task.UpdatedAt = time.Now()
		return s.store.UpdateTask(ctx, task)
	}

	if nextRun.IsZero() {
		s.logger.Info("one-shot task completed, disabling", "task_id", task.ID, "task_name", task.Name)
		task.Status = TaskStatusDisabled
		task.LastRunAt = &lastRun
		task.UpdatedAt = time.Now()
		return s.store.UpdateTask(ctx, task)
	}

	task.NextRunAt = nextRun
	task.LastRunAt = &lastRun
	task.UpdatedAt = time.Now()
	return s.store.UpdateTask(ctx, task)
}

// NextRun returns the next time schedule fires after "after". For
// "@at <RFC3339>" that is the timestamp itself while it is still after
// "after"; "@once" and a passed "@at" timestamp yield the zero time.
// Callers creating a ScheduledTask use this to populate its initial
// NextRunAt.
func NextRun(schedule, timezone string, after time.Time, logger *slog.Logger) (time.Time, error) {
	return calculateNextRun(schedule, timezone, after, logger)
}

// calculateNextRun returns the next time schedule fires after "after",
// or the zero time for a one-shot "@at <RFC3339>"/"@once" schedule
// that has now run.
func calculateNextRun(schedule, timezone string, after time.Time, logger *slog.Logger) (time.Time, error) {
	if strings.HasPrefix(schedule, "@at ") {
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(strings.TrimPrefix(schedule, "@at ")))
		if err != nil {
			return time.Time{}, fmt.Errorf("parse schedule: %w", err)
		}
		if at.After(after) {
			return at, nil
		}
		return time.Time{}, nil
	}
	if strings.HasPrefix(schedule, "@once") {
		return time.Time{}, nil
	}

	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule: %w", err)
	}

	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			logger.Warn("invalid timezone, using UTC", "timezone", timezone, "error", err)
		} else {
			loc = l
		}
	}

	return sched.Next(after.In(loc)), nil
}

func (s *Scheduler) acquireLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.AcquireInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tryAcquireExecution(ctx)
		}
	}
}

func (s *Scheduler) tryAcquireExecution(ctx context.Context) {
	select {
	case s.sem <- struct{}{}:
	default:
		return
	}

	exec, err := s.store.AcquireExecution(ctx, s.config.WorkerID, s.config.LockDuration)
	if err != nil {
		<-s.sem
		s.logger.Error("acquire execution", "error", err)
		return
	}
	if exec == nil {
		<-s.sem
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		s.executeTask(ctx, exec)
	}()
}

func (s *Scheduler) executeTask(ctx context.Context, exec *TaskExecution) {
	s.logger.Info("executing task", "execution_id", exec.ID, "task_id", exec.TaskID, "attempt", exec.AttemptNumber)

	task, err := s.store.GetTask(ctx, exec.TaskID)
	if err != nil || task == nil {
		s.completeExecution(ctx, exec, ExecutionStatusFailed, "", "task not found")
		return
	}

	timeout := task.Config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	response, execErr := s.executor.Execute(execCtx, task, exec)

	var status ExecutionStatus
	var errMsg string
	switch {
	case execCtx.Err() == context.DeadlineExceeded:
		status = ExecutionStatusTimedOut
		errMsg = "execution timed out"
	case execErr != nil:
		status = ExecutionStatusFailed
		errMsg = execErr.Error()
	default:
		status = ExecutionStatusSucceeded
	}

	s.completeExecution(ctx, exec, status, response, errMsg)

	task.LastExecutionID = exec.ID
	now := time.Now()
	task.LastRunAt = &now
	task.UpdatedAt = now
	if err := s.store.UpdateTask(ctx, task); err != nil {
		s.logger.Error("update task after execution", "task_id", task.ID, "error", err)
	}

	if status == ExecutionStatusFailed && task.Config.MaxRetries > 0 && exec.AttemptNumber <= task.Config.MaxRetries {
		s.scheduleRetry(ctx, task, exec)
	}
}

func (s *Scheduler) completeExecution(ctx context.Context, exec *TaskExecution, status ExecutionStatus, response, errMsg string) {
	if err := s.store.CompleteExecution(ctx, exec.ID, status, response, errMsg); err != nil {
		s.logger.Error("complete execution", "execution_id", exec.ID, "error", err)
		return
	}
	s.logger.Info("completed execution", "execution_id", exec.ID, "task_id", exec.TaskID, "status", status)
}

func (s *Scheduler) scheduleRetry(ctx context.Context, task *ScheduledTask, failedExec *TaskExecution) {
	delay := task.Config.RetryDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}

	retry := &TaskExecution{
		ID:            uuid.NewString(),
		TaskID:        task.ID,
		Status:        ExecutionStatusPending,
		ScheduledAt:   time.Now().Add(delay),
		Prompt:        failedExec.Prompt,
		AttemptNumber: failedExec.AttemptNumber + 1,
	}
	if err := s.store.CreateExecution(ctx, retry); err != nil {
		s.logger.Error("schedule retry", "task_id", task.ID, "attempt", retry.AttemptNumber, "error", err)
		return
	}
	s.logger.Info("scheduled retry", "task_id", task.ID, "execution_id", retry.ID, "attempt", retry.AttemptNumber, "delay", delay)
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupStaleExecutions(ctx)
		}
	}
}

func (s *Scheduler) cleanupStaleExecutions(ctx context.Context) {
	count, err := s.store.CleanupStaleExecutions(ctx, s.config.StaleTimeout)
	if err != nil {
		s.logger.Error("cleanup stale executions", "error", err)
		return
	}
	if count > 0 {
		s.logger.Warn("cleaned up stale executions", "count", count)
	}
}
