// Package slack adapts a slack-go Socket Mode client to the channel
// Adapter contract.
package slack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nexus-run/nexus-core/internal/channels"
	chandelivery "github.com/nexus-run/nexus-core/internal/channels/context"
	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// apiClient is the slice of *slack.Client this adapter calls.
type apiClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Config configures the Slack adapter.
type Config struct {
	BotToken string // xoxb-...
	AppToken string // xapp-...
}

func (c *Config) validate() error {
	if c.BotToken == "" || c.AppToken == "" {
		return errs.ChannelError(fmt.Errorf("slack: both bot and app tokens are required"))
	}
	return nil
}

// Adapter implements channels.FullAdapter over Slack Socket Mode.
type Adapter struct {
	config  Config
	api     apiClient
	socket  *socketmode.Client
	log     *observability.Logger
	metrics *observability.Metrics

	mu        sync.RWMutex
	connected bool

	messages chan corekit.InboundMessage
	cancel   context.CancelFunc
}

var _ channels.FullAdapter = (*Adapter)(nil)

// New returns a Slack adapter for config.
func New(config Config, log *observability.Logger, metrics *observability.Metrics) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	client := slack.New(config.BotToken, slack.OptionAppLevelToken(config.AppToken))
	return &Adapter{
		config:   config,
		api:      client,
		socket:   socketmode.New(client),
		log:      log,
		metrics:  metrics,
		messages: make(chan corekit.InboundMessage, 100),
	}, nil
}

func (a *Adapter) Type() string { return channels.Slack }

// Start launches the Socket Mode event loop in the background and
// begins translating slack events into inbound messages.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return errs.ChannelError(fmt.Errorf("slack adapter already started"))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.handleEvents(runCtx)
	go func() {
		if err := a.socket.Run(); err != nil && a.log != nil {
			a.log.Warn("slack socket mode run exited", "error", err)
		}
	}()

	a.connected = true
	if a.log != nil {
		a.log.Info("slack adapter started")
	}
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.connected = false
	close(a.messages)
	if a.log != nil {
		a.log.Info("slack adapter stopped")
	}
	return nil
}

// Send posts msg to the Slack channel recorded on dest.Target.
func (a *Adapter) Send(ctx context.Context, dest corekit.ReplyAddress, msg corekit.OutboundMessage) error {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return errs.ChannelError(fmt.Errorf("slack adapter not connected"))
	}

	_, _, err := a.api.PostMessageContext(ctx, dest.Target, slack.MsgOptionText(chandelivery.ToSlackMarkdown(msg.Content), false))
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordError("slack", "send_failed")
		}
		return errs.ChannelError(fmt.Errorf("slack: post message: %w", err))
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
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	return channels.HealthStatus{Healthy: connected, Latency: time.Since(start), LastCheck: time.Now()}
}

func (a *Adapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.handleEvent(evt)
		}
	}
}

func (a *Adapter) handleEvent(evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	inner, ok := eventsAPI.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok || inner.BotID != "" {
		return
	}

	inbound := corekit.InboundMessage{
		ID:        inner.TimeStamp,
		Content:   inner.Text,
		ReplyTo:   corekit.NewReplyAddress(channels.Slack, inner.Channel),
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"slack_user_id":   inner.User,
			"slack_thread_ts": inner.ThreadTimeStamp,
		},
	}

	select {
	case a.messages <- inbound:
	default:
		if a.log != nil {
			a.log.Warn("slack inbound queue full, dropping message", "channel", inner.Channel)
		}
	}
}
