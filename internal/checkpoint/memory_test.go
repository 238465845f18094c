package checkpoint

import (
	"context"
	"testing"

	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil, nil)

	cp := corekit.Checkpoint{ID: "cp-1", SessionID: "s1", Turn: 0}
	if err := store.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "cp-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", got.SessionID)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore(nil, nil)
	if _, err := store.Get(context.Background(), "missing"); err != errs.ErrNotFound {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreListOrderedByTurn(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil, nil)
	for _, turn := range []int{3, 1, 2} {
		cp := corekit.Checkpoint{ID: string(rune('a' + turn)), SessionID: "s1", Turn: turn}
		if err := store.Save(ctx, cp); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	list, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Turn > list[i].Turn {
			t.Errorf("list not ordered by turn: %v", list)
		}
	}
}

func TestMemoryStoreDeleteSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil, nil)
	store.Save(ctx, corekit.Checkpoint{ID: "cp-1", SessionID: "s1", Turn: 0})
	store.Save(ctx, corekit.Checkpoint{ID: "cp-2", SessionID: "s1", Turn: 1})

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.GetLatest(ctx, "s1"); err != errs.ErrNotFound {
		t.Errorf("GetLatest after DeleteSession = %v, want ErrNotFound", err)
	}
}
