package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/google/uuid"

	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// PostgresConfig configures the connection pool behind a PostgresStore.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns conservative pool defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// PostgresStore is a durable Store backed by a Postgres (or
// Postgres-wire-compatible) database. Checkpoints are stored one row
// per (id), with Messages and Context serialized as JSON.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens dsn and verifies connectivity. Call
// EnsureSchema once before first use against a fresh database.
func NewPostgresStore(dsn string, config PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errs.CheckpointError(fmt.Errorf("checkpoint: postgres dsn is required"))
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errs.CheckpointError(fmt.Errorf("checkpoint: open database: %w", err))
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errs.CheckpointError(fmt.Errorf("checkpoint: ping database: %w", err))
	}
	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the checkpoints table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			turn       INTEGER NOT NULL,
			messages   JSONB NOT NULL,
			context    JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (session_id, turn)
		)
	`)
	if err != nil {
		return errs.CheckpointError(fmt.Errorf("checkpoint: ensure schema: %w", err))
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS checkpoints_session_idx ON checkpoints (session_id, turn DESC)
	`)
	if err != nil {
		return errs.CheckpointError(fmt.Errorf("checkpoint: ensure index: %w", err))
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

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) Save(ctx context.Context, cp corekit.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	messages, err := json.Marshal(cp.Messages)
	if err != nil {
		return errs.CheckpointError(fmt.Errorf("checkpoint: marshal messages: %w", err))
	}
	contextJSON, err := json.Marshal(cp.Context)
	if err != nil {
		return errs.CheckpointError(fmt.Errorf("checkpoint: marshal context: %w", err))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, session_id, turn, messages, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			turn = EXCLUDED.turn, messages = EXCLUDED.messages, context = EXCLUDED.context
	`, cp.ID, cp.SessionID, cp.Turn, messages, contextJSON, cp.CreatedAt)
	if err != nil {
		return errs.CheckpointError(fmt.Errorf("checkpoint: save: %w", err))
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*corekit.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, turn, messages, context, created_at
		FROM checkpoints WHERE id = $1
	`, id)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.CheckpointError(fmt.Errorf("checkpoint: get: %w", err))
	}
	return cp, nil
}

func (s *PostgresStore) GetLatest(ctx context.Context, sessionID string) (*corekit.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, turn, messages, context, created_at
		FROM checkpoints WHERE session_id = $1
		ORDER BY turn DESC LIMIT 1
	`, sessionID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.CheckpointError(fmt.Errorf("checkpoint: get latest: %w", err))
	}
	return cp, nil
}

func (s *PostgresStore) List(ctx context.Context, sessionID string) ([]corekit.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, turn, messages, context, created_at
		FROM checkpoints WHERE session_id = $1
		ORDER BY turn ASC
	`, sessionID)
	if err != nil {
		return nil, errs.CheckpointError(fmt.Errorf("checkpoint: list: %w", err))
	}
	defer rows.Close()

	var out []corekit.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, errs.CheckpointError(fmt.Errorf("checkpoint: scan: %w", err))
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = $1`, id)
	if err != nil {
		return errs.CheckpointError(fmt.Errorf("checkpoint: delete: %w", err))
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = $1`, sessionID)
	if err != nil {
		return errs.CheckpointError(fmt.Errorf("checkpoint: delete session: %w", err))
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*corekit.Checkpoint, error) {
	var cp corekit.Checkpoint
	var messages, contextJSON []byte
	if err := row.Scan(&cp.ID, &cp.SessionID, &cp.Turn, &messages, &contextJSON, &cp.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(messages, &cp.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &cp.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	return &cp, nil
}
