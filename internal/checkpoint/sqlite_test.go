package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStoreSaveAndGet(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	cp := corekit.Checkpoint{
		SessionID: "s1",
		Turn:      1,
		Messages:  []corekit.Message{{Role: corekit.RoleUser, Content: "hi"}},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := store.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	latest, err := store.GetLatest(ctx, "s1")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if latest.Turn != 1 || len(latest.Messages) != 1 || latest.Messages[0].Content != "hi" {
		t.Errorf("unexpected checkpoint: %+v", latest)
	}

	got, err := store.Get(ctx, latest.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", got.SessionID)
	}
}

func TestSQLiteStoreGetMissingReturnsNotFound(t *testing.T) {
	store := newTestSQLiteStore(t)
	if _, err := store.Get(context.Background(), "missing"); err != errs.ErrNotFound {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreListOrdersByTurn(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for turn := 1; turn <= 3; turn++ {
		cp := corekit.Checkpoint{SessionID: "s1", Turn: turn, CreatedAt: time.Now().UTC()}
		if err := store.Save(ctx, cp); err != nil {
			t.Fatalf("Save turn %d: %v", turn, err)
		}
	}

	list, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len(list) = %d, want 3", len(list))
	}
	for i, cp := range list {
		if cp.Turn != i+1 {
			t.Errorf("list[%d].Turn = %d, want %d", i, cp.Turn, i+1)
		}
	}
}

func TestSQLiteStoreDeleteSession(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, corekit.Checkpoint{SessionID: "s1", Turn: 1, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.GetLatest(ctx, "s1"); err != errs.ErrNotFound {
		t.Errorf("GetLatest after delete = %v, want ErrNotFound", err)
	}
}
