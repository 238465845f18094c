package channels

import (
	"context"
	"sync"

	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// Submitter is the RunLoop's inbound entry point. The bridge depends
// on this narrow interface, not the concrete RunLoop type, so channels
// never imports runloop (runloop already depends on this package's
// Bridge the other way around).
type Submitter interface {
	Submit(ctx context.Context, inbound corekit.InboundMessage) error
}

// Bridge wires a Registry of channel adapters to a Submitter: it
// starts every adapter, forwards their aggregated inbound stream into
// Submit, and routes outbound replies back through the Registry to
// whichever adapter originated the conversation. It satisfies
// runloop.Bridge.
type Bridge struct {
	registry  *Registry
	submitter Submitter
	log       *observability.Logger
	metrics   *observability.Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBridge returns a Bridge over registry, forwarding inbound traffic
// to submitter.
func NewBridge(registry *Registry, submitter Submitter, log *observability.Logger, metrics *observability.Metrics) *Bridge {
	return &Bridge{registry: registry, submitter: submitter, log: log, metrics: metrics}
}

// Start starts every registered adapter and begins forwarding their
// combined inbound stream into the submitter until Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.registry.StartAll(ctx); err != nil {
		return err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.cancel = cancel
	b.done = make(chan struct{})
	b.mu.Unlock()

	go b.pump(pumpCtx)
	return nil
}

func (b *Bridge) pump(ctx context.Context) {
	defer close(b.done)
	for msg := range b.registry.AggregateMessages(ctx) {
		if err := b.submitter.Submit(ctx, msg); err != nil {
			if b.metrics != nil {
				b.metrics.RecordError("channel_bridge", "submit_failed")
			}
			if b.log != nil {
				b.log.Warn("bridge failed to submit inbound message", "channel", msg.ReplyTo.ChannelID, "error", err)
			}
		}
	}
}

// Stop cancels the inbound pump and stops every registered adapter.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return b.registry.StopAll(ctx)
}

// Send delivers an outbound reply through whichever adapter owns
// dest's channel.
func (b *Bridge) Send(ctx context.Context, dest corekit.ReplyAddress, msg corekit.OutboundMessage) error {
	adapter, ok := b.registry.GetOutbound(dest.ChannelID)
	if !ok {
		if b.log != nil {
			b.log.Warn("no outbound adapter registered for channel", "channel", dest.ChannelID)
		}
		return nil
	}
	return adapter.Send(ctx, dest, msg)
}
