package multiagent

import (
	"context"
	"testing"
	"time"

	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/internal/runtime"
	"github.com/nexus-run/nexus-core/internal/runtime/tools"
	"github.com/nexus-run/nexus-core/internal/spawner"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

type fixedExecutor struct {
	content string
	err     error
}

func (e *fixedExecutor) Execute(ctx context.Context, agent *runtime.Agent, lastMessage corekit.Message, agentCtx *runtime.AgentContext) (runtime.AgentResponse, error) {
	if e.err != nil {
		return runtime.AgentResponse{}, e.err
	}
	return runtime.AgentResponse{
		Message:    corekit.Message{Role: corekit.RoleAssistant, Content: e.content},
		IsComplete: true,
	}, nil
}

func testManager(t *testing.T, executor runtime.AgentExecutor, maxConcurrent int) *Manager {
	t.Helper()
	log, err := observability.NewLogger(observability.LogConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	metrics := observability.NewMetrics()
	loop := runtime.NewLoop(tools.NewRegistry(), nil, nil, log, metrics, runtime.LoopConfig{MaxTurns: 10})
	rt := runtime.NewRuntime(loop, runtime.RuntimeConfig{MaxConcurrent: 10}, log)
	rt.RegisterAgent(&runtime.Agent{ID: "worker", Executor: executor})

	sp := spawner.New(nil, log, metrics)
	return New(rt, sp, ManagerConfig{MaxConcurrent: maxConcurrent}, log, metrics)
}

func waitForTerminal(t *testing.T, m *Manager, spawnID string) *corekit.SpawnedAgent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := m.GetStatus(spawnID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if status.Status == corekit.SpawnedAgentCompleted || status.Status == corekit.SpawnedAgentFailed {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subagent never reached a terminal state")
	return nil
}

func TestManagerSpawnCompletes(t *testing.T) {
	m := testManager(t, &fixedExecutor{content: "child done"}, 5)

	spawned, err := m.Spawn(context.Background(), "worker", "do the thing", "", nil, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	status := waitForTerminal(t, m, spawned.ID)
	if status.Status != corekit.SpawnedAgentCompleted {
		t.Fatalf("status = %v, want Completed", status.Status)
	}
	if status.LastMessage != "child done" {
		t.Errorf("LastMessage = %q, want %q", status.LastMessage, "child done")
	}

	result, err := m.GetResult(spawned.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if result != "child done" {
		t.Errorf("GetResult = %q, want %q", result, "child done")
	}
}

func TestManagerSpawnFailurePropagates(t *testing.T) {
	m := testManager(t, &fixedExecutor{err: errBoom{}}, 5)

	spawned, err := m.Spawn(context.Background(), "worker", "do the thing", "", nil, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	status := waitForTerminal(t, m, spawned.ID)
	if status.Status != corekit.SpawnedAgentFailed {
		t.Fatalf("status = %v, want Failed", status.Status)
	}

	if _, err := m.GetResult(spawned.ID); err == nil {
		t.Error("expected GetResult to fail for a failed subagent")
	}
}

func TestManagerConcurrencyGuard(t *testing.T) {
	m := testManager(t, &fixedExecutor{content: "done"}, 1)

	if _, err := m.Spawn(context.Background(), "worker", "first", "", nil, nil); err != nil {
		t.Fatalf("first Spawn: %v", err)
	}

	// The first spawn may already have completed by the time we attempt
	// the second, so the second Spawn is retried a handful of times and
	// the test ends at the first refusal. It passes whether or not the
	// guard ever refuses; it only checks that repeated spawns at the cap
	// do not panic or deadlock.
	var spawnErr error
	for i := 0; i < 20; i++ {
		_, spawnErr = m.Spawn(context.Background(), "worker", "second", "", nil, nil)
		if spawnErr != nil {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestManagerListByParent(t *testing.T) {
	m := testManager(t, &fixedExecutor{content: "done"}, 5)

	child, err := m.Spawn(context.Background(), "worker", "task", "parent-1", nil, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitForTerminal(t, m, child.ID)

	children := m.ListByParent("parent-1")
	if len(children) != 1 || children[0].ID != child.ID {
		t.Fatalf("ListByParent(parent-1) = %v, want [%s]", children, child.ID)
	}
	if len(m.ListByParent("no-such-parent")) != 0 {
		t.Error("expected no children for an unrelated parent")
	}
}

func TestManagerTerminate(t *testing.T) {
	m := testManager(t, &fixedExecutor{content: "done"}, 5)
	spawned, err := m.Spawn(context.Background(), "worker", "task", "", nil, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := m.Terminate(spawned.ID); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	status, err := m.GetStatus(spawned.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Status != corekit.SpawnedAgentTerminated {
		t.Errorf("status = %v, want Terminated", status.Status)
	}
}

func TestManagerCleanupOld(t *testing.T) {
	m := testManager(t, &fixedExecutor{content: "done"}, 5)
	spawned, err := m.Spawn(context.Background(), "worker", "task", "", nil, nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	waitForTerminal(t, m, spawned.ID)

	if removed := m.CleanupOld(time.Hour); removed != 0 {
		t.Errorf("CleanupOld(1h) removed %d, want 0 for a freshly completed run", removed)
	}
	if removed := m.CleanupOld(0); removed != 1 {
		t.Errorf("CleanupOld(0) removed %d, want 1", removed)
	}
	if _, err := m.GetStatus(spawned.ID); err == nil {
		t.Error("expected GetStatus to fail after cleanup")
	}
}

func TestManagerGetStatusUnknown(t *testing.T) {
	m := testManager(t, &fixedExecutor{content: "done"}, 5)
	if _, err := m.GetStatus("missing"); err == nil {
		t.Error("expected GetStatus(missing) to fail")
	}
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }
