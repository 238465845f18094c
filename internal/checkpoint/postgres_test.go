package checkpoint

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/nexus-run/nexus-core/pkg/corekit"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PostgresStore{db: db}, mock
}

func TestPostgresStoreSaveExecutesUpsert(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectExec("INSERT INTO checkpoints").WillReturnResult(sqlmock.NewResult(0, 1))

	cp := corekit.Checkpoint{
		ID:        "cp1",
		SessionID: "s1",
		Turn:      1,
		Messages:  []corekit.Message{{Role: corekit.RoleUser, Content: "hi"}},
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Save(context.Background(), cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreGetReturnsNotFoundOnNoRows(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	mock.ExpectQuery("SELECT (.+) FROM checkpoints WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "turn", "messages", "context", "created_at"}))

	if _, err := store.Get(context.Background(), "missing"); err == nil {
		t.Error("expected an error for a missing checkpoint")
	}
}

func TestPostgresStoreGetLatestScansRow(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "session_id", "turn", "messages", "context", "created_at"}).
		AddRow("cp1", "s1", 2, []byte(`[{"role":"user","content":"hi"}]`), []byte(`null`), now)
	mock.ExpectQuery("SELECT (.+) FROM checkpoints WHERE session_id").
		WithArgs("s1").
		WillReturnRows(rows)

	cp, err := store.GetLatest(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if cp.Turn != 2 || len(cp.Messages) != 1 {
		t.Errorf("unexpected checkpoint: %+v", cp)
	}
}
