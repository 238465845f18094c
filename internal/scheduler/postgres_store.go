package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/nexus-run/nexus-core/internal/errs"
)

// PostgresConfig configures the connection pool backing PostgresStore.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sensible pool defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore implements Store against a shared Postgres/CockroachDB
// database, letting multiple scheduler instances divide work through
// SELECT ... FOR UPDATE SKIP LOCKED.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens dsn and verifies connectivity.
func NewPostgresStore(dsn string, config PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errs.ProviderError(fmt.Errorf("scheduler: postgres dsn is required"))
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("scheduler: open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("scheduler: ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the scheduled_tasks/task_executions tables if
// they do not already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			schedule TEXT NOT NULL,
			timezone TEXT,
			prompt TEXT NOT NULL,
			reply_channel_id TEXT,
			reply_target TEXT,
			config JSONB NOT NULL,
			status TEXT NOT NULL,
			next_run_at TIMESTAMPTZ NOT NULL,
			last_run_at TIMESTAMPTZ,
			last_execution_id TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			metadata JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due ON scheduled_tasks (status, next_run_at);

		CREATE TABLE IF NOT EXISTS task_executions (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			status TEXT NOT NULL,
			scheduled_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			prompt TEXT NOT NULL,
			response TEXT,
			error TEXT,
			attempt_number INTEGER NOT NULL,
			worker_id TEXT,
			locked_at TIMESTAMPTZ,
			locked_until TIMESTAMPTZ,
			duration BIGINT NOT NULL DEFAULT 0,
			metadata JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_task_executions_task ON task_executions (task_id);
		CREATE INDEX IF NOT EXISTS idx_task_executions_pending ON task_executions (status, scheduled_at);
	`)
	if err != nil {
		return fmt.Errorf("scheduler: ensure schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *ScheduledTask) error {
	configJSON, err := task.Config.MarshalConfig()
	if err != nil {
		return fmt.Errorf("scheduler: marshal config: %w", err)
	}
	metadataJSON, err := json.Marshal(task.Metadata)
	if err != nil {
		return fmt.Errorf("scheduler: marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (
			id, name, description, schedule, timezone, prompt,
			reply_channel_id, reply_target, config, status,
			next_run_at, last_run_at, last_execution_id,
			created_at, updated_at, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		task.ID, task.Name, nullableString(task.Description), task.Schedule,
		nullableString(task.Timezone), task.Prompt,
		nullableString(task.ReplyChannelID), nullableString(task.ReplyTarget),
		configJSON, string(task.Status), task.NextRunAt, nullableTime(task.LastRunAt),
		nullableString(task.LastExecutionID), task.CreatedAt, task.UpdatedAt, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("scheduler: create task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, schedule, timezone, prompt,
			   reply_channel_id, reply_target, config, status,
			   next_run_at, last_run_at, last_execution_id, created_at, updated_at, metadata
		FROM scheduled_tasks WHERE id = $1
	`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task *ScheduledTask) error {
	configJSON, err := task.Config.MarshalConfig()
	if err != nil {
		return fmt.Errorf("scheduler: marshal config: %w", err)
	}
	metadataJSON, err := json.Marshal(task.Metadata)
	if err != nil {
		return fmt.Errorf("scheduler: marshal metadata: %w", err)
	}
	task.UpdatedAt = time.Now()

	_, err = s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET
			name=$2, description=$3, schedule=$4, timezone=$5, prompt=$6,
			reply_channel_id=$7, reply_target=$8, config=$9, status=$10,
			next_run_at=$11, last_run_at=$12, last_execution_id=$13,
			updated_at=$14, metadata=$15
		WHERE id = $1
	`,
		task.ID, task.Name, nullableString(task.Description), task.Schedule,
		nullableString(task.Timezone), task.Prompt,
		nullableString(task.ReplyChannelID), nullableString(task.ReplyTarget),
		configJSON, string(task.Status), task.NextRunAt, nullableTime(task.LastRunAt),
		nullableString(task.LastExecutionID), task.UpdatedAt, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("scheduler: update task: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("scheduler: delete task: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, opts ListTasksOptions) ([]*ScheduledTask, error) {
	query := `
		SELECT id, name, description, schedule, timezone, prompt,
			   reply_channel_id, reply_target, config, status,
			   next_run_at, last_run_at, last_execution_id, created_at, updated_at, metadata
		FROM scheduled_tasks WHERE 1=1
	`
	var args []any
	argPos := 1

	if opts.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(*opts.Status))
		argPos++
	}
	if !opts.IncludeDisabled {
		query += fmt.Sprintf(" AND status != $%d", argPos)
		args = append(args, string(TaskStatusDisabled))
		argPos++
	}
	query += " ORDER BY next_run_at ASC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, opts.Limit)
		argPos++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduler: scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) CreateExecution(ctx context.Context, exec *TaskExecution) error {
	metadataJSON, err := json.Marshal(exec.Metadata)
	if err != nil {
		return fmt.Errorf("scheduler: marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_executions (
			id, task_id, status, scheduled_at, started_at, finished_at,
			prompt, response, error, attempt_number, worker_id,
			locked_at, locked_until, duration, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		exec.ID, exec.TaskID, string(exec.Status), exec.ScheduledAt,
		nullableTime(exec.StartedAt), nullableTime(exec.FinishedAt), exec.Prompt,
		nullableString(exec.Response), nullableString(exec.Error), exec.AttemptNumber,
		nullableString(exec.WorkerID), nullableTime(exec.LockedAt), nullableTime(exec.LockedUntil),
		int64(exec.Duration), metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("scheduler: create execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*TaskExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, status, scheduled_at, started_at, finished_at,
			   prompt, response, error, attempt_number, worker_id,
			   locked_at, locked_until, duration, metadata
		FROM task_executions WHERE id = $1
	`, id)

	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: get execution: %w", err)
	}
	return exec, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, taskID string, opts ListExecutionsOptions) ([]*TaskExecution, error) {
	query := `
		SELECT id, task_id, status, scheduled_at, started_at, finished_at,
			   prompt, response, error, attempt_number, worker_id,
			   locked_at, locked_until, duration, metadata
		FROM task_executions WHERE task_id = $1
	`
	args := []any{taskID}
	argPos := 2

	if opts.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(*opts.Status))
		argPos++
	}
	query += " ORDER BY scheduled_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, opts.Limit)
		argPos++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list executions: %w", err)
	}
	defer rows.Close()

	var execs []*TaskExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduler: scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func (s *PostgresStore) GetDueTasks(ctx context.Context, now time.Time, limit int) ([]*ScheduledTask, error) {
	query := `
		SELECT id, name, description, schedule, timezone, prompt,
			   reply_channel_id, reply_target, config, status,
			   next_run_at, last_run_at, last_execution_id, created_at, updated_at, metadata
		FROM scheduled_tasks
		WHERE status = $1 AND next_run_at <= $2
		ORDER BY next_run_at ASC
	`
	args := []any{string(TaskStatusActive), now}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scheduler: get due tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduler: scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) AcquireExecution(ctx context.Context, workerID string, lockDuration time.Duration) (*TaskExecution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("scheduler: begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	lockUntil := now.Add(lockDuration)

	row := tx.QueryRowContext(ctx, `
		SELECT id, task_id, status, scheduled_at, started_at, finished_at,
			   prompt, response, error, attempt_number, worker_id,
			   locked_at, locked_until, duration, metadata
		FROM task_executions
		WHERE status = $1 AND (locked_until IS NULL OR locked_until < $2)
		ORDER BY scheduled_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, string(ExecutionStatusPending), now)

	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scheduler: scan execution: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE task_executions SET status=$1, worker_id=$2, locked_at=$3, locked_until=$4, started_at=$5
		WHERE id = $6
	`, string(ExecutionStatusRunning), workerID, now, lockUntil, now, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: update execution lock: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("scheduler: commit transaction: %w", err)
	}

	exec.Status = ExecutionStatusRunning
	exec.WorkerID = workerID
	exec.LockedAt = &now
	exec.LockedUntil = &lockUntil
	exec.StartedAt = &now
	return exec, nil
}

func (s *PostgresStore) CompleteExecution(ctx context.Context, executionID string, status ExecutionStatus, response, errMsg string) error {
	exec, err := s.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	now := time.Now()
	var duration time.Duration
	if exec.StartedAt != nil {
		duration = now.Sub(*exec.StartedAt)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE task_executions SET
			status=$1, finished_at=$2, response=$3, error=$4, duration=$5,
			locked_at=NULL, locked_until=NULL
		WHERE id = $6
	`, string(status), now, nullableString(response), nullableString(errMsg), int64(duration), executionID)
	if err != nil {
		return fmt.Errorf("scheduler: complete execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRunningExecutions(ctx context.Context, taskID string) ([]*TaskExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, status, scheduled_at, started_at, finished_at,
			   prompt, response, error, attempt_number, worker_id,
			   locked_at, locked_until, duration, metadata
		FROM task_executions WHERE task_id = $1 AND status = $2
	`, taskID, string(ExecutionStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("scheduler: get running executions: %w", err)
	}
	defer rows.Close()

	var execs []*TaskExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduler: scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func (s *PostgresStore) CleanupStaleExecutions(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := time.Now().Add(-timeout)
	result, err := s.db.ExecContext(ctx, `
		UPDATE task_executions SET status=$1, finished_at=NOW(), error=$2
		WHERE status = $3 AND started_at < $4
	`, string(ExecutionStatusTimedOut), "execution exceeded stale timeout", string(ExecutionStatusRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("scheduler: cleanup stale executions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("scheduler: rows affected: %w", err)
	}
	return int(count), nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*ScheduledTask, error) {
	var task ScheduledTask
	var (
		description     sql.NullString
		timezone        sql.NullString
		replyChannelID  sql.NullString
		replyTarget     sql.NullString
		configJSON      []byte
		status          string
		lastRunAt       sql.NullTime
		lastExecutionID sql.NullString
		metadataJSON    []byte
	)

	err := row.Scan(
		&task.ID, &task.Name, &description, &task.Schedule, &timezone, &task.Prompt,
		&replyChannelID, &replyTarget, &configJSON, &status,
		&task.NextRunAt, &lastRunAt, &lastExecutionID, &task.CreatedAt, &task.UpdatedAt, &metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	task.Status = TaskStatus(status)
	if description.Valid {
		task.Description = description.String
	}
	if timezone.Valid {
		task.Timezone = timezone.String
	}
	if replyChannelID.Valid {
		task.ReplyChannelID = replyChannelID.String
	}
	if replyTarget.Valid {
		task.ReplyTarget = replyTarget.String
	}
	if lastRunAt.Valid {
		task.LastRunAt = &lastRunAt.Time
	}
	if lastExecutionID.Valid {
		task.LastExecutionID = lastExecutionID.String
	}
	if len(configJSON) > 0 {
		var err error
		task.Config, err = UnmarshalConfig(configJSON)
		if err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &task.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &task, nil
}

func scanExecution(row rowScanner) (*TaskExecution, error) {
	var exec TaskExecution
	var (
		status       string
		startedAt    sql.NullTime
		finishedAt   sql.NullTime
		response     sql.NullString
		errorMsg     sql.NullString
		workerID     sql.NullString
		lockedAt     sql.NullTime
		lockedUntil  sql.NullTime
		duration     int64
		metadataJSON []byte
	)

	err := row.Scan(
		&exec.ID, &exec.TaskID, &status, &exec.ScheduledAt, &startedAt, &finishedAt,
		&exec.Prompt, &response, &errorMsg, &exec.AttemptNumber, &workerID,
		&lockedAt, &lockedUntil, &duration, &metadataJSON,
	)
	if err != nil {
		return nil, err
	}

	exec.Status = ExecutionStatus(status)
	exec.Duration = time.Duration(duration)
	if startedAt.Valid {
		exec.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		exec.FinishedAt = &finishedAt.Time
	}
	if response.Valid {
		exec.Response = response.String
	}
	if errorMsg.Valid {
		exec.Error = errorMsg.String
	}
	if workerID.Valid {
		exec.WorkerID = workerID.String
	}
	if lockedAt.Valid {
		exec.LockedAt = &lockedAt.Time
	}
	if lockedUntil.Valid {
		exec.LockedUntil = &lockedUntil.Time
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &exec.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &exec, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
