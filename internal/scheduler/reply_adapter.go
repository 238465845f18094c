package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// ChannelID is the synthetic channel registered for scheduler
// submissions. RunLoop.Submit only ever delivers a reply through the
// channels.Registry, so every scheduled submission addresses itself to
// this channel with the owning TaskExecution's ID as the target; the
// ReplyAdapter then hands that text back to whichever goroutine is
// waiting on it instead of delivering it anywhere external.
const ChannelID = "scheduler"

// ReplyAdapter is a channels.Adapter/channels.OutboundAdapter that
// captures RunLoop replies addressed to the scheduler channel and
// routes them back to the Executor call that is waiting on a specific
// execution ID, rather than delivering to an external platform.
type ReplyAdapter struct {
	mu      sync.Mutex
	waiters map[string]chan corekit.OutboundMessage
}

var (
	_ channels.Adapter         = (*ReplyAdapter)(nil)
	_ channels.OutboundAdapter = (*ReplyAdapter)(nil)
)

// NewReplyAdapter returns an empty ReplyAdapter ready to register.
func NewReplyAdapter() *ReplyAdapter {
	return &ReplyAdapter{waiters: make(map[string]chan corekit.OutboundMessage)}
}

// Type satisfies channels.Adapter.
func (a *ReplyAdapter) Type() string { return ChannelID }

// Await registers executionID as awaiting a reply and returns the
// channel the reply arrives on. Release must be called once the
// caller stops waiting, successfully or not, to avoid leaking waiters.
func (a *ReplyAdapter) Await(executionID string) <-chan corekit.OutboundMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan corekit.OutboundMessage, 1)
	a.waiters[executionID] = ch
	return ch
}

// Release discards a waiter, whether or not it was ever delivered to.
func (a *ReplyAdapter) Release(executionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.waiters, executionID)
}

// Send delivers msg to whichever Await call is waiting on dest.Target
// (the execution ID), or drops it if nothing is waiting anymore.
func (a *ReplyAdapter) Send(ctx context.Context, dest corekit.ReplyAddress, msg corekit.OutboundMessage) error {
	a.mu.Lock()
	ch, ok := a.waiters[dest.Target]
	if ok {
		delete(a.waiters, dest.Target)
	}
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("scheduler: no waiter registered for execution %s", dest.Target)
	}
	select {
	case ch <- msg:
	default:
	}
	return nil
}
