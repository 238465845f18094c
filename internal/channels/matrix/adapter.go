// Package matrix adapts a mautrix client/sync session to the channel
// Adapter contract.
package matrix

import (
	"context"
	"fmt"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// Config configures the Matrix adapter.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
}

func (c *Config) validate() error {
	if c.Homeserver == "" || c.UserID == "" || c.AccessToken == "" {
		return errs.ChannelError(fmt.Errorf("matrix: homeserver, user_id and access_token are required"))
	}
	return nil
}

// sendClient is the slice of *mautrix.Client this adapter calls.
type sendClient interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON any, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
}

// Adapter implements channels.FullAdapter over a Matrix sync session.
type Adapter struct {
	config Config
	client *mautrix.Client
	send   sendClient
	log    *observability.Logger
	metrics *observability.Metrics

	mu        sync.RWMutex
	connected bool

	messages chan corekit.InboundMessage
	stop     chan struct{}
}

var _ channels.FullAdapter = (*Adapter)(nil)

// New returns a Matrix adapter for config.
func New(config Config, log *observability.Logger, metrics *observability.Metrics) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	client, err := mautrix.NewClient(config.Homeserver, id.UserID(config.UserID), config.AccessToken)
	if err != nil {
		return nil, errs.ChannelError(fmt.Errorf("matrix: create client: %w", err))
	}
	return &Adapter{
		config:   config,
		client:   client,
		send:     client,
		log:      log,
		metrics:  metrics,
		messages: make(chan corekit.InboundMessage, 100),
	}, nil
}

func (a *Adapter) Type() string { return channels.Matrix }

// Start registers the room-message handler and launches the
// background /sync loop.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return errs.ChannelError(fmt.Errorf("matrix adapter already started"))
	}

	syncer, ok := a.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errs.ChannelError(fmt.Errorf("matrix: unexpected syncer type"))
	}
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		a.handleMessage(evt)
	})

	a.stop = make(chan struct{})
	go a.syncLoop(ctx, a.stop)

	a.connected = true
	if a.log != nil {
		a.log.Info("matrix adapter started", "homeserver", a.config.Homeserver)
	}
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil
	}
	close(a.stop)
	a.client.StopSync()
	a.connected = false
	close(a.messages)
	return nil
}

// Send posts msg to the Matrix room recorded on dest.Target.
func (a *Adapter) Send(ctx context.Context, dest corekit.ReplyAddress, msg corekit.OutboundMessage) error {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return errs.ChannelError(fmt.Errorf("matrix adapter not connected"))
	}

	content := &event.MessageEventContent{MsgType: event.MsgText, Body: msg.Content}
	_, err := a.send.SendMessageEvent(ctx, id.RoomID(dest.Target), event.EventMessage, content)
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordError("matrix", "send_failed")
		}
		return errs.ChannelError(fmt.Errorf("matrix: send message: %w", err))
	}
	return nil
}

func (a *Adapter) Messages() <-chan corekit.InboundMessage { return a.messages }

func (a *Adapter) Status() channels.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return channels.Status{Connected: a.connected, LastPing: time.Now().Unix()}
}

func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	start := time.Now()
	_, err := a.client.Whoami(ctx)
	return channels.HealthStatus{Healthy: err == nil, Latency: time.Since(start), LastCheck: time.Now()}
}

func (a *Adapter) syncLoop(ctx context.Context, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		if err := a.client.SyncWithContext(ctx); err != nil {
			if a.log != nil {
				a.log.Warn("matrix sync error", "error", err)
			}
			select {
			case <-time.After(5 * time.Second):
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *Adapter) handleMessage(evt *event.Event) {
	if string(evt.Sender) == a.config.UserID {
		return
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return
	}
	if content.MsgType != event.MsgText && content.MsgType != event.MsgNotice {
		return
	}

	inbound := corekit.InboundMessage{
		ID:        string(evt.ID),
		Content:   content.Body,
		ReplyTo:   corekit.NewReplyAddress(channels.Matrix, string(evt.RoomID)),
		Timestamp: time.UnixMilli(evt.Timestamp),
		Metadata: map[string]any{
			"matrix_sender": string(evt.Sender),
		},
	}

	select {
	case a.messages <- inbound:
	default:
		if a.log != nil {
			a.log.Warn("matrix inbound queue full, dropping message", "room_id", evt.RoomID)
		}
	}
}
