// Package runloop implements the RunLoop: the top-level orchestrator
// that owns the task spawner and the channel bridge behind a single
// submission surface, driven by an explicit
// Idle -> Starting -> Running -> Stopping -> Stopped state machine.
package runloop

import (
	"context"
	"sync"
	"time"

	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/observability"
	replytok "github.com/nexus-run/nexus-core/internal/reply"
	"github.com/nexus-run/nexus-core/internal/runtime"
	"github.com/nexus-run/nexus-core/internal/spawner"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// State is a position in the RunLoop's lifecycle state machine.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Mode names a run profile. Every mode shares the same submission
// contract. Start records the mode in its log line and applies no
// mode-specific backpressure or concurrency configuration.
type Mode string

const (
	// ModeDefault runs with whatever concurrency the Agent Runtime and
	// Spawner were already configured with.
	ModeDefault Mode = "default"
	// ModeBatch labels bounded, scripted runs (e.g. replaying a fixture
	// set through RunInMode). It logs, submits and executes identically
	// to ModeDefault.
	ModeBatch Mode = "batch"
)

// Bridge is what the RunLoop needs from the channel fabric: start
// forwarding inbound messages into Submit, stop doing so, and deliver
// a reply back to wherever it came from. The concrete bridge lives in
// the channel package and is handed in here so this package never
// imports channel adapters directly.
type Bridge interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, dest corekit.ReplyAddress, msg corekit.OutboundMessage) error
}

// Config configures a RunLoop.
type Config struct {
	// DefaultAgentID is the agent every Submit call is routed to. The
	// source spec does not define a channel-to-agent routing policy
	// beyond the session derived from the ReplyAddress, so a RunLoop
	// instance is scoped to a single agent; run multiple RunLoops
	// (one per agent) for a multi-agent deployment.
	DefaultAgentID string
}

// RunLoop is the process-wide singleton-by-convention orchestrator. It
// is safe to construct more than one for tests; only the binary's own
// wiring makes it a true singleton.
type RunLoop struct {
	mu    sync.Mutex
	state State

	config  Config
	spawner *spawner.Spawner
	runtime *runtime.Runtime
	bridge  Bridge
	log     *observability.Logger
	metrics *observability.Metrics
}

// New returns a RunLoop in the Idle state.
func New(sp *spawner.Spawner, rt *runtime.Runtime, bridge Bridge, config Config, log *observability.Logger, metrics *observability.Metrics) *RunLoop {
	return &RunLoop{
		state:   StateIdle,
		config:  config,
		spawner: sp,
		runtime: rt,
		bridge:  bridge,
		log:     log,
		metrics: metrics,
	}
}

// State returns the current lifecycle state.
func (rl *RunLoop) State() State {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.state
}

// Stopping reports whether the RunLoop is winding down, satisfying
// spawner.StateProvider.
func (rl *RunLoop) Stopping() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.state == StateStopping || rl.state == StateStopped
}

func (rl *RunLoop) transition(from []State, to State) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	ok := false
	for _, s := range from {
		if rl.state == s {
			ok = true
			break
		}
	}
	if !ok {
		return &errs.InvalidStateTransitionError{From: string(rl.state), To: string(to)}
	}
	prev := rl.state
	rl.state = to
	if rl.log != nil {
		rl.log.Info("runloop state transition", "from", string(prev), "to", string(to))
	}
	return nil
}

// Start moves Idle -> Starting -> Running and starts the channel
// bridge forwarding inbound messages into Submit.
func (rl *RunLoop) Start(ctx context.Context, mode Mode) error {
	if err := rl.transition([]State{StateIdle, StateStopped}, StateStarting); err != nil {
		return err
	}
	if rl.log != nil {
		rl.log.Info("runloop starting", "mode", string(mode))
	}
	if rl.bridge != nil {
		if err := rl.bridge.Start(ctx); err != nil {
			rl.mu.Lock()
			rl.state = StateStopped
			rl.mu.Unlock()
			return errs.ExecutionFailed("failed to start channel bridge", err)
		}
	}
	return rl.transition([]State{StateStarting}, StateRunning)
}

// Stop moves Running -> Stopping -> Stopped, stops the channel bridge,
// and cancels every in-flight task the Spawner is still tracking.
func (rl *RunLoop) Stop(ctx context.Context) error {
	if err := rl.transition([]State{StateRunning, StateStarting}, StateStopping); err != nil {
		return err
	}
	if rl.log != nil {
		rl.log.Info("runloop stopping")
	}
	if rl.bridge != nil {
		if err := rl.bridge.Stop(ctx); err != nil && rl.log != nil {
			rl.log.Warn("channel bridge stop failed", "error", err)
		}
	}
	if rl.spawner != nil {
		rl.spawner.CancelAll()
	}
	return rl.transition([]State{StateStopping}, StateStopped)
}

// RunInMode starts the RunLoop in mode, runs for up to duration (or
// until ctx is canceled, whichever comes first), then stops and
// returns the terminal state.
func (rl *RunLoop) RunInMode(ctx context.Context, mode Mode, duration time.Duration) (State, error) {
	if err := rl.Start(ctx, mode); err != nil {
		return rl.State(), err
	}

	runCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()
	<-runCtx.Done()

	if err := rl.Stop(context.Background()); err != nil {
		return rl.State(), err
	}
	return rl.State(), nil
}

// Submit builds a session id from inbound's reply address and spawns a
// cancellable task running the Agent Loop for that session. It returns
// immediately; the eventual reply is delivered through the channel
// registry, not through this call's return value.
func (rl *RunLoop) Submit(ctx context.Context, inbound corekit.InboundMessage) error {
	if rl.State() != StateRunning {
		return errs.ExecutionFailed("runloop is not running", nil)
	}

	sessionID := inbound.ReplyTo.SessionKey()
	message := corekit.Message{Role: corekit.RoleUser, Content: inbound.Content}

	rl.spawner.SpawnCancellable(ctx, "submit:"+sessionID, func(taskCtx context.Context) error {
		reply, err := rl.runtime.ExecuteWithTranscript(taskCtx, rl.config.DefaultAgentID, sessionID, message)
		if err != nil {
			if rl.metrics != nil {
				rl.metrics.RecordError("runloop", "submit_failed")
			}
			if rl.log != nil {
				rl.log.Warn("submitted task failed", "session_id", sessionID, "error", err)
			}
			return err
		}
		if rl.bridge == nil || len(reply) == 0 {
			return nil
		}
		last := reply[len(reply)-1]
		if replytok.IsSilentReplyText(last.Content) {
			return nil
		}
		if err := rl.bridge.Send(taskCtx, inbound.ReplyTo, corekit.ReplyMessage(replytok.StripSilentToken(last.Content), inbound.ID)); err != nil {
			if rl.metrics != nil {
				rl.metrics.RecordError("runloop", "reply_delivery_failed")
			}
			if rl.log != nil {
				rl.log.Warn("reply delivery failed", "session_id", sessionID, "error", err)
			}
			return err
		}
		return nil
	})
	return nil
}
