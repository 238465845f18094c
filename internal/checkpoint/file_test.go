package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	dir := t.TempDir()
	return NewFileStore(dir, nil, nil)
}

func TestFileStoreSaveAndGetLatest(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	sessionID := "session-1"
	for turn := 0; turn < 3; turn++ {
		cp := corekit.Checkpoint{
			ID:        "",
			SessionID: sessionID,
			Turn:      turn,
			Messages:  []corekit.Message{{Role: corekit.RoleUser, Content: "hi"}},
			CreatedAt: time.Now(),
		}
		if err := store.Save(ctx, cp); err != nil {
			t.Fatalf("Save turn %d: %v", turn, err)
		}
	}

	latest, err := store.GetLatest(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if latest.Turn != 2 {
		t.Errorf("GetLatest turn = %d, want 2", latest.Turn)
	}
}

func TestFileStoreListOrdersByTurn(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)
	sessionID := "session-list"

	for _, turn := range []int{2, 0, 1} {
		cp := corekit.Checkpoint{SessionID: sessionID, Turn: turn}
		if err := store.Save(ctx, cp); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	list, err := store.List(ctx, sessionID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("len(list) = %d, want 3", len(list))
	}
	for i, cp := range list {
		if cp.Turn != i {
			t.Errorf("list[%d].Turn = %d, want %d", i, cp.Turn, i)
		}
	}
}

func TestFileStoreSessionIDSanitization(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)

	sessionID := "discord:1234/weird name"
	cp := corekit.Checkpoint{SessionID: sessionID, Turn: 0}
	if err := store.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(store.root)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one session dir, got %d", len(entries))
	}
	if filepath.Base(entries[0].Name()) != sanitizeSessionID(sessionID) {
		t.Errorf("dir name = %q, want %q", entries[0].Name(), sanitizeSessionID(sessionID))
	}

	list, err := store.List(ctx, sessionID)
	if err != nil || len(list) != 1 {
		t.Fatalf("List after sanitized save: %v, %d results", err, len(list))
	}
}

func TestFileStoreSkipsCorruptFiles(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)
	sessionID := "session-corrupt"

	good := corekit.Checkpoint{SessionID: sessionID, Turn: 0}
	if err := store.Save(ctx, good); err != nil {
		t.Fatalf("Save: %v", err)
	}

	dir := store.sessionDir(sessionID)
	corrupt := filepath.Join(dir, checkpointFilename("not-a-real-uuid", 1))
	if err := os.WriteFile(corrupt, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	list, err := store.List(ctx, sessionID)
	if err != nil {
		t.Fatalf("List should not fail on corrupt file: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len(list) = %d, want 1 (corrupt file skipped)", len(list))
	}
}

func TestFileStoreDeleteAndDeleteSession(t *testing.T) {
	ctx := context.Background()
	store := newTestFileStore(t)
	sessionID := "session-delete"

	cp := corekit.Checkpoint{SessionID: sessionID, Turn: 0}
	if err := store.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	saved, err := store.GetLatest(ctx, sessionID)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}

	if err := store.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.GetLatest(ctx, sessionID); err != errs.ErrNotFound {
		t.Errorf("GetLatest after delete = %v, want ErrNotFound", err)
	}

	if err := store.Save(ctx, corekit.Checkpoint{SessionID: sessionID, Turn: 0}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.DeleteSession(ctx, sessionID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := os.Stat(store.sessionDir(sessionID)); !os.IsNotExist(err) {
		t.Errorf("session dir should be removed, stat err = %v", err)
	}
}

func TestFileStoreDeleteNonExistentIsNoOp(t *testing.T) {
	store := newTestFileStore(t)
	if err := store.Delete(context.Background(), "does-not-exist"); err != nil {
		t.Errorf("Delete of non-existent id should be a no-op, got %v", err)
	}
}
