// Package mattermost adapts a Mattermost server connection (REST for
// sending, WebSocket for receiving) to the channel Adapter contract.
package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/internal/channels/chunk"
	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// Config configures the Mattermost adapter.
type Config struct {
	ServerURL string
	Token     string
}

func (c *Config) validate() error {
	if c.ServerURL == "" || c.Token == "" {
		return errs.ChannelError(fmt.Errorf("mattermost: server_url and token are required"))
	}
	return nil
}

// restClient is the slice of *model.Client4 this adapter calls.
type restClient interface {
	CreatePost(ctx context.Context, post *model.Post) (*model.Post, *model.Response, error)
}

// Adapter implements channels.FullAdapter over a Mattermost server.
type Adapter struct {
	config   Config
	client   restClient
	wsClient *model.WebSocketClient
	log      *observability.Logger
	metrics  *observability.Metrics

	mu        sync.RWMutex
	connected bool

	messages chan corekit.InboundMessage
	done     chan struct{}
}

var _ channels.FullAdapter = (*Adapter)(nil)

// New returns a Mattermost adapter for config.
func New(config Config, log *observability.Logger, metrics *observability.Metrics) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	client := model.NewAPIv4Client(config.ServerURL)
	client.SetToken(config.Token)
	return &Adapter{
		config:   config,
		client:   client,
		log:      log,
		metrics:  metrics,
		messages: make(chan corekit.InboundMessage, 100),
	}, nil
}

func (a *Adapter) Type() string { return channels.Mattermost }

// Start opens the WebSocket event stream and begins translating
// posted events into inbound messages.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return errs.ChannelError(fmt.Errorf("mattermost adapter already started"))
	}

	wsURL := buildWebSocketURL(a.config.ServerURL)
	wsClient, err := model.NewWebSocketClient4(wsURL, a.config.Token)
	if err != nil {
		return errs.ChannelError(fmt.Errorf("mattermost: websocket connect: %w", err))
	}
	wsClient.Listen()
	a.wsClient = wsClient

	a.done = make(chan struct{})
	go a.handleEvents(a.done)

	a.connected = true
	if a.log != nil {
		a.log.Info("mattermost adapter started")
	}
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil
	}
	if a.wsClient != nil {
		a.wsClient.Close()
	}
	close(a.done)
	a.connected = false
	close(a.messages)
	return nil
}

// Send posts msg to the Mattermost channel recorded on dest.Target.
func (a *Adapter) Send(ctx context.Context, dest corekit.ReplyAddress, msg corekit.OutboundMessage) error {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return errs.ChannelError(fmt.Errorf("mattermost adapter not connected"))
	}
	for _, part := range chunk.ForChannel(msg.Content, "mattermost") {
		if _, _, err := a.client.CreatePost(ctx, &model.Post{ChannelId: dest.Target, Message: part}); err != nil {
			if a.metrics != nil {
				a.metrics.RecordError("mattermost", "send_failed")
			}
			return errs.ChannelError(fmt.Errorf("mattermost: create post: %w", err))
		}
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
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	return channels.HealthStatus{Healthy: connected, LastCheck: time.Now()}
}

func (a *Adapter) handleEvents(done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-a.wsClient.EventChannel:
			if !ok {
				return
			}
			a.handleEvent(event)
		}
	}
}

func (a *Adapter) handleEvent(event *model.WebSocketEvent) {
	if event.EventType() != model.WebsocketEventPosted {
		return
	}
	postJSON, ok := event.GetData()["post"].(string)
	if !ok || postJSON == "" {
		return
	}
	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return
	}
	if post.Message == "" {
		return
	}

	inbound := corekit.InboundMessage{
		ID:        post.Id,
		Content:   post.Message,
		ReplyTo:   corekit.NewReplyAddress(channels.Mattermost, post.ChannelId),
		Timestamp: time.UnixMilli(post.CreateAt),
		Metadata: map[string]any{
			"mattermost_user_id": post.UserId,
			"mattermost_root_id": post.RootId,
		},
	}

	select {
	case a.messages <- inbound:
	default:
		if a.log != nil {
			a.log.Warn("mattermost inbound queue full, dropping message", "channel", post.ChannelId)
		}
	}
}

func buildWebSocketURL(serverURL string) string {
	switch {
	case len(serverURL) >= 8 && serverURL[:8] == "https://":
		return "wss://" + serverURL[8:]
	case len(serverURL) >= 7 && serverURL[:7] == "http://":
		return "ws://" + serverURL[7:]
	default:
		return serverURL
	}
}
