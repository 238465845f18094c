// Package channels defines the channel adapter contract and the
// registry/bridge that connect concrete chat platforms to the
// RunLoop's single submission surface.
package channels

import (
	"context"
	"sync"
	"time"

	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// Adapter is the minimal contract every channel connector satisfies.
type Adapter interface {
	// Type returns the channel identity (discord, telegram, slack, ...).
	Type() string
}

// LifecycleAdapter represents adapters that can start and stop.
type LifecycleAdapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// OutboundAdapter represents adapters that can deliver a reply.
type OutboundAdapter interface {
	Send(ctx context.Context, dest corekit.ReplyAddress, msg corekit.OutboundMessage) error
}

// InboundAdapter represents adapters that emit inbound messages.
type InboundAdapter interface {
	Messages() <-chan corekit.InboundMessage
}

// HealthAdapter represents adapters that expose status and metrics.
type HealthAdapter interface {
	Status() Status
	HealthCheck(ctx context.Context) HealthStatus
}

// FullAdapter aggregates every adapter capability for convenience.
type FullAdapter interface {
	Adapter
	LifecycleAdapter
	OutboundAdapter
	InboundAdapter
	HealthAdapter
}

// Status is the connection status of a channel.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"`
}

// HealthStatus is the result of a health check against an adapter.
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
	Degraded  bool      `json:"degraded,omitempty"`
}

// Registry tracks every registered channel adapter, indexed by its
// capability so callers can ask for exactly the slice of behavior
// they need without type-asserting a concrete adapter themselves.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	inbound   map[string]InboundAdapter
	outbound  map[string]OutboundAdapter
	lifecycle map[string]LifecycleAdapter
	health    map[string]HealthAdapter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters:  make(map[string]Adapter),
		inbound:   make(map[string]InboundAdapter),
		outbound:  make(map[string]OutboundAdapter),
		lifecycle: make(map[string]LifecycleAdapter),
		health:    make(map[string]HealthAdapter),
	}
}

// Register adds an adapter, wiring it into every capability map it
// satisfies. Registering the same channel type again replaces it.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channelType := adapter.Type()
	r.adapters[channelType] = adapter

	if inbound, ok := adapter.(InboundAdapter); ok {
		r.inbound[channelType] = inbound
	} else {
		delete(r.inbound, channelType)
	}
	if outbound, ok := adapter.(OutboundAdapter); ok {
		r.outbound[channelType] = outbound
	} else {
		delete(r.outbound, channelType)
	}
	if lifecycle, ok := adapter.(LifecycleAdapter); ok {
		r.lifecycle[channelType] = lifecycle
	} else {
		delete(r.lifecycle, channelType)
	}
	if health, ok := adapter.(HealthAdapter); ok {
		r.health[channelType] = health
	} else {
		delete(r.health, channelType)
	}
}

// Get returns the adapter registered for channelType, if any.
func (r *Registry) Get(channelType string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[channelType]
	return adapter, ok
}

// GetOutbound returns the outbound half of the adapter for channelType.
func (r *Registry) GetOutbound(channelType string) (OutboundAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.outbound[channelType]
	return adapter, ok
}

// HealthAdapters returns a snapshot of every adapter that reports health.
func (r *Registry) HealthAdapters() map[string]HealthAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]HealthAdapter, len(r.health))
	for channelType, adapter := range r.health {
		out[channelType] = adapter
	}
	return out
}

// All returns every registered adapter in no particular order.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapters := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	return adapters
}

// StartAll starts every lifecycle-capable adapter, returning the first
// error encountered. Adapters already started are left running; the
// caller decides whether a partial start is acceptable.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.RLock()
	adapters := make([]LifecycleAdapter, 0, len(r.lifecycle))
	for _, a := range r.lifecycle {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	for _, adapter := range adapters {
		if err := adapter.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every lifecycle-capable adapter, continuing past
// errors and returning the last one seen.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	adapters := make([]LifecycleAdapter, 0, len(r.lifecycle))
	for _, a := range r.lifecycle {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	var lastErr error
	for _, adapter := range adapters {
		if err := adapter.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// AggregateMessages fans every inbound adapter's message stream into a
// single channel, closed once ctx is canceled or every adapter's
// stream has closed.
func (r *Registry) AggregateMessages(ctx context.Context) <-chan corekit.InboundMessage {
	r.mu.RLock()
	adapters := make([]InboundAdapter, 0, len(r.inbound))
	for _, a := range r.inbound {
		adapters = append(adapters, a)
	}
	r.mu.RUnlock()

	out := make(chan corekit.InboundMessage)
	var wg sync.WaitGroup

	for _, adapter := range adapters {
		wg.Add(1)
		go func(a InboundAdapter) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-a.Messages():
					if !ok {
						return
					}
					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}(adapter)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
