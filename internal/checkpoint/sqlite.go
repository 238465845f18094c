package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"

	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// SQLiteStore is a durable Store backed by a local sqlite file, for
// single-node deployments that want crash-safe persistence without
// running a separate database server.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the sqlite file at path and
// ensures the checkpoints table exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errs.CheckpointError(fmt.Errorf("checkpoint: open sqlite: %w", err))
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			turn       INTEGER NOT NULL,
			messages   TEXT NOT NULL,
			context    TEXT,
			created_at TEXT NOT NULL,
			UNIQUE (session_id, turn)
		)
	`); err != nil {
		_ = db.Close()
		return nil, errs.CheckpointError(fmt.Errorf("checkpoint: ensure schema: %w", err))
	}
	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS checkpoints_session_idx ON checkpoints (session_id, turn DESC)
	`); err != nil {
		_ = db.Close()
		return nil, errs.CheckpointError(fmt.Errorf("checkpoint: ensure index: %w", err))
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Save(ctx context.Context, cp corekit.Checkpoint) error {
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
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			turn = excluded.turn, messages = excluded.messages, context = excluded.context
	`, cp.ID, cp.SessionID, cp.Turn, string(messages), string(contextJSON), cp.CreatedAt)
	if err != nil {
		return errs.CheckpointError(fmt.Errorf("checkpoint: save: %w", err))
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*corekit.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, turn, messages, context, created_at
		FROM checkpoints WHERE id = ?
	`, id)
	cp, err := scanSQLiteCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.CheckpointError(fmt.Errorf("checkpoint: get: %w", err))
	}
	return cp, nil
}

func (s *SQLiteStore) GetLatest(ctx context.Context, sessionID string) (*corekit.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, turn, messages, context, created_at
		FROM checkpoints WHERE session_id = ?
		ORDER BY turn DESC LIMIT 1
	`, sessionID)
	cp, err := scanSQLiteCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.CheckpointError(fmt.Errorf("checkpoint: get latest: %w", err))
	}
	return cp, nil
}

func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]corekit.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, turn, messages, context, created_at
		FROM checkpoints WHERE session_id = ?
		ORDER BY turn ASC
	`, sessionID)
	if err != nil {
		return nil, errs.CheckpointError(fmt.Errorf("checkpoint: list: %w", err))
	}
	defer rows.Close()

	var out []corekit.Checkpoint
	for rows.Next() {
		cp, err := scanSQLiteCheckpoint(rows)
		if err != nil {
			return nil, errs.CheckpointError(fmt.Errorf("checkpoint: scan: %w", err))
		}
		out = append(out, *cp)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id)
	if err != nil {
		return errs.CheckpointError(fmt.Errorf("checkpoint: delete: %w", err))
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID)
	if err != nil {
		return errs.CheckpointError(fmt.Errorf("checkpoint: delete session: %w", err))
	}
	return nil
}

func scanSQLiteCheckpoint(row rowScanner) (*corekit.Checkpoint, error) {
	var cp corekit.Checkpoint
	var messages, contextJSON string
	if err := row.Scan(&cp.ID, &cp.SessionID, &cp.Turn, &messages, &contextJSON, &cp.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messages), &cp.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal messages: %w", err)
	}
	if contextJSON != "" && contextJSON != "null" {
		if err := json.Unmarshal([]byte(contextJSON), &cp.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	return &cp, nil
}
