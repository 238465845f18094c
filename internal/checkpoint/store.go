// Package checkpoint implements the durable per-session append-log of
// (turn, messages, context) that supplies the Agent Loop's recovery
// semantics. It provides an in-memory variant for tests and a file-backed
// variant for the daemon.
package checkpoint

import (
	"context"

	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// Store is the polymorphic checkpoint persistence interface. All four
// implementations in this package (MemoryStore, FileStore, SQLiteStore,
// PostgresStore) satisfy it.
type Store interface {
	Save(ctx context.Context, cp corekit.Checkpoint) error
	Get(ctx context.Context, id string) (*corekit.Checkpoint, error)
	GetLatest(ctx context.Context, sessionID string) (*corekit.Checkpoint, error)
	List(ctx context.Context, sessionID string) ([]corekit.Checkpoint, error)
	Delete(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, sessionID string) error
}
