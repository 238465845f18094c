// Package spawner is the process-wide coordination structure for in-flight
// async work: every goroutine the runtime starts off the request path goes
// through a Spawner so it is traceable by correlation id, cancellable, and
// counted.
package spawner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// StateProvider lets the Spawner check RunLoop state without an import
// cycle back into internal/runloop.
type StateProvider interface {
	// Stopping reports whether the RunLoop is stopping or stopped; the
	// Spawner still honors new spawns in that state, but logs a warning.
	Stopping() bool
}

// Metrics is a snapshot of the spawner's lifetime counters.
type Metrics struct {
	TotalSpawned   uint64
	TotalCompleted uint64
	TotalCancelled uint64
	TotalFailed    uint64
	ActiveTasks    int
}

type trackedTask struct {
	info   corekit.TaskInfo
	cancel context.CancelFunc // non-nil only for cancellable tasks
}

// Spawner tracks every task it spawns in a concurrent map (xsync.MapOf,
// the Go analogue of the correlation-tracking DashMap<Uuid, TaskInfo> this
// package is grounded on), with atomic lifetime counters.
type Spawner struct {
	tasks *xsync.MapOf[string, *trackedTask]

	totalSpawned   atomic.Uint64
	totalCompleted atomic.Uint64
	totalCancelled atomic.Uint64
	totalFailed    atomic.Uint64

	correlationMu sync.RWMutex
	correlation   string

	state StateProvider
	log   *observability.Logger
	met   *observability.Metrics
}

// New returns a standalone Spawner. state may be nil if the caller has no
// RunLoop state to consult; log and met may be nil.
func New(state StateProvider, log *observability.Logger, met *observability.Metrics) *Spawner {
	return &Spawner{
		tasks: xsync.NewMapOf[string, *trackedTask](),
		state: state,
		log:   log,
		met:   met,
	}
}

// SetCorrelationContext scopes the correlation id that subsequently spawned
// tasks inherit.
func (s *Spawner) SetCorrelationContext(id string) {
	s.correlationMu.Lock()
	defer s.correlationMu.Unlock()
	s.correlation = id
}

// CorrelationContext returns the current scoped correlation id, or "" if
// none is set.
func (s *Spawner) CorrelationContext() string {
	s.correlationMu.RLock()
	defer s.correlationMu.RUnlock()
	return s.correlation
}

func (s *Spawner) register(name string, cancellable bool, cancel context.CancelFunc) *trackedTask {
	if s.state != nil && s.state.Stopping() && s.log != nil {
		s.log.Warn("spawning task while RunLoop is stopping", "name", name)
	}

	t := &trackedTask{
		info: corekit.TaskInfo{
			ID:            uuid.NewString(),
			Name:          name,
			CorrelationID: s.CorrelationContext(),
			State:         corekit.TaskRunning,
			SpawnedAt:     time.Now(),
			Cancellable:   cancellable,
		},
		cancel: cancel,
	}
	s.tasks.Store(t.info.ID, t)
	s.totalSpawned.Add(1)
	if s.met != nil {
		s.met.TaskSpawned(name)
		s.met.SetActiveTasks(s.tasks.Size())
	}
	return t
}

func (s *Spawner) finish(id string, state corekit.TaskState) {
	t, ok := s.tasks.LoadAndDelete(id)
	if !ok {
		return
	}
	t.info.State = state
	switch state {
	case corekit.TaskCompleted:
		s.totalCompleted.Add(1)
	case corekit.TaskCancelled, corekit.TaskCancelledButRunning:
		s.totalCancelled.Add(1)
	case corekit.TaskFailed:
		s.totalFailed.Add(1)
	}
	if s.met != nil {
		s.met.TaskTerminal(string(state))
		s.met.SetActiveTasks(s.tasks.Size())
	}
}

// Handle is a reference to a spawned goroutine, matching the spawner's
// bookkeeping with a future in the language this package is modeled on.
type Handle struct {
	ID   string
	Done <-chan struct{}
	err  *error
}

// Wait blocks until the spawned function returns and yields its error, if
// any. Calling Wait more than once is safe.
func (h *Handle) Wait() error {
	<-h.Done
	if h.err == nil {
		return nil
	}
	return *h.err
}

// Spawn runs fn in a new goroutine tracked under name, inheriting the
// current correlation context. Matches the source's spawn(name, future).
func (s *Spawner) Spawn(ctx context.Context, name string, fn func(ctx context.Context) error) *Handle {
	t := s.register(name, false, nil)
	done := make(chan struct{})
	var runErr error
	h := &Handle{ID: t.info.ID, Done: done, err: &runErr}

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				runErr = errRecovered(r)
			}
			if runErr != nil {
				s.finish(t.info.ID, corekit.TaskFailed)
			} else {
				s.finish(t.info.ID, corekit.TaskCompleted)
			}
		}()
		runErr = fn(ctx)
	}()
	return h
}

// SpawnBlocking runs fn, a function expected to block on I/O or CPU work,
// in a new goroutine tracked under name. Go's scheduler has no separate
// blocking-task pool to opt into, so this is identical to Spawn's
// mechanics; the distinct name preserves the source API's two spawn kinds
// for callers migrating a mental model from it.
func (s *Spawner) SpawnBlocking(name string, fn func() error) *Handle {
	return s.Spawn(context.Background(), name, func(context.Context) error { return fn() })
}

// SpawnCancellable runs fn in a new goroutine tracked under name, handing
// fn a context that CancelTask/CancelAll will cancel cooperatively.
func (s *Spawner) SpawnCancellable(ctx context.Context, name string, fn func(ctx context.Context) error) *Handle {
	childCtx, cancel := context.WithCancel(ctx)
	t := s.register(name, true, cancel)
	done := make(chan struct{})
	var runErr error
	h := &Handle{ID: t.info.ID, Done: done, err: &runErr}

	go func() {
		defer close(done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				runErr = errRecovered(r)
			}
			if runErr != nil {
				s.finish(t.info.ID, corekit.TaskFailed)
			} else {
				s.finish(t.info.ID, corekit.TaskCompleted)
			}
		}()
		runErr = fn(childCtx)
	}()
	return h
}

// CancelTask triggers the cancellation token for a cancellable task and
// removes it from the active set. Returns false if the task does not
// exist or is not cancellable (matching the source's cancel_task
// semantics — attempts on an already-terminal task are no-ops).
func (s *Spawner) CancelTask(id string) bool {
	t, ok := s.tasks.Load(id)
	if !ok || t.cancel == nil {
		return false
	}
	t.cancel()
	s.finish(id, corekit.TaskCancelled)
	return true
}

// CancelAll triggers every cancellable task's cancellation and marks every
// remaining (non-cancellable) task Cancelled in the tracking set without
// stopping it — the documented "leaky" invariant: a non-cancellable task
// keeps running until it exits on its own, even though the spawner no
// longer reports it as active. Returns the count of tasks that were
// actually cancelled cooperatively (had a cancel function).
func (s *Spawner) CancelAll() int {
	type idTask struct {
		id string
		t  *trackedTask
	}
	var all []idTask
	s.tasks.Range(func(id string, t *trackedTask) bool {
		all = append(all, idTask{id, t})
		return true
	})

	cancelled := 0
	for _, it := range all {
		if it.t.cancel != nil {
			it.t.cancel()
			cancelled++
		}
		s.finish(it.id, corekit.TaskCancelled)
	}
	if cancelled > 0 && s.log != nil {
		s.log.Info("cancelled all cancellable tasks", "count", cancelled)
	}
	return cancelled
}

// Metrics returns a snapshot of the spawner's lifetime counters.
func (s *Spawner) Metrics() Metrics {
	return Metrics{
		TotalSpawned:   s.totalSpawned.Load(),
		TotalCompleted: s.totalCompleted.Load(),
		TotalCancelled: s.totalCancelled.Load(),
		TotalFailed:    s.totalFailed.Load(),
		ActiveTasks:    s.tasks.Size(),
	}
}

// ActiveTasks returns a snapshot of every currently tracked task.
func (s *Spawner) ActiveTasks() []corekit.TaskInfo {
	out := make([]corekit.TaskInfo, 0, s.tasks.Size())
	s.tasks.Range(func(_ string, t *trackedTask) bool {
		out = append(out, t.info)
		return true
	})
	return out
}

type panicError struct{ v any }

func (e panicError) Error() string { return fmt.Sprintf("panic in spawned task: %v", e.v) }

func errRecovered(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return panicError{r}
}
