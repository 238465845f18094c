// Package discord adapts a discordgo session to the channel Adapter
// contract.
package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// session is the slice of *discordgo.Session this adapter calls,
// narrowed so tests can substitute a fake.
type session interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// Config configures the Discord adapter.
type Config struct {
	Token            string
	ReconnectBackoff time.Duration
	MaxReconnects    int
}

func (c *Config) validate() error {
	if c.Token == "" {
		return errs.ChannelError(fmt.Errorf("discord: token is required"))
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = 60 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 5
	}
	return nil
}

// Adapter implements channels.FullAdapter over a Discord bot session.
type Adapter struct {
	config  Config
	session session
	log     *observability.Logger
	metrics *observability.Metrics

	mu        sync.RWMutex
	connected bool
	lastErr   string

	messages chan corekit.InboundMessage
	cancel   context.CancelFunc
}

var _ channels.FullAdapter = (*Adapter)(nil)

// New returns a Discord adapter for config, which must carry a bot
// token.
func New(config Config, log *observability.Logger, metrics *observability.Metrics) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Adapter{
		config:   config,
		log:      log,
		metrics:  metrics,
		messages: make(chan corekit.InboundMessage, 100),
	}, nil
}

func (a *Adapter) Type() string { return channels.Discord }

// Start opens the Discord gateway connection and registers the
// message handler. Reconnection is left to discordgo's own session
// management; this adapter reflects connected/disconnected state as
// discordgo reports it through the Ready/Disconnect events.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return errs.ChannelError(fmt.Errorf("discord adapter already started"))
	}

	if a.session == nil {
		dg, err := discordgo.New("Bot " + a.config.Token)
		if err != nil {
			return errs.ChannelError(fmt.Errorf("discord: create session: %w", err))
		}
		dg.AddHandler(a.handleReady)
		dg.AddHandler(a.handleDisconnect)
		dg.AddHandler(a.handleMessageCreate)
		a.session = dg
	}

	if err := a.session.Open(); err != nil {
		return errs.ChannelError(fmt.Errorf("discord: open gateway: %w", err))
	}

	_, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.connected = true
	if a.log != nil {
		a.log.Info("discord adapter started")
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
	if err := a.session.Close(); err != nil {
		return errs.ChannelError(fmt.Errorf("discord: close session: %w", err))
	}
	a.connected = false
	close(a.messages)
	if a.log != nil {
		a.log.Info("discord adapter stopped")
	}
	return nil
}

// Send posts msg to the Discord channel recorded on dest.Target.
// discordMaxMessageLen is Discord's hard cap on a single message body.
const discordMaxMessageLen = 2000

func (a *Adapter) Send(ctx context.Context, dest corekit.ReplyAddress, msg corekit.OutboundMessage) error {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return errs.ChannelError(fmt.Errorf("discord adapter not connected"))
	}

	chunker := channels.NewMessageChunker(discordMaxMessageLen)
	for _, part := range chunker.ChunkMarkdown(msg.Content) {
		if _, err := a.session.ChannelMessageSend(dest.Target, part); err != nil {
			if a.metrics != nil {
				a.metrics.RecordError("discord", "send_failed")
			}
			return errs.ChannelError(fmt.Errorf("discord: send message: %w", err))
		}
	}
	return nil
}

func (a *Adapter) Messages() <-chan corekit.InboundMessage { return a.messages }

func (a *Adapter) Status() channels.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return channels.Status{Connected: a.connected, Error: a.lastErr, LastPing: time.Now().Unix()}
}

func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	start := time.Now()
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	return channels.HealthStatus{
		Healthy:   connected,
		Latency:   time.Since(start),
		LastCheck: time.Now(),
	}
}

func (a *Adapter) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	a.mu.Lock()
	a.connected = true
	a.lastErr = ""
	a.mu.Unlock()
	if a.log != nil {
		a.log.Info("discord gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
	}
}

func (a *Adapter) handleDisconnect(s *discordgo.Session, d *discordgo.Disconnect) {
	a.mu.Lock()
	a.connected = false
	a.lastErr = "disconnected"
	a.mu.Unlock()
	if a.log != nil {
		a.log.Warn("discord gateway disconnected")
	}
}

func (a *Adapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	inbound := corekit.InboundMessage{
		ID:        m.ID,
		Content:   m.Content,
		ReplyTo:   corekit.NewReplyAddress(channels.Discord, m.ChannelID),
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"discord_user_id":  m.Author.ID,
			"discord_username": m.Author.Username,
		},
	}

	select {
	case a.messages <- inbound:
	default:
		if a.log != nil {
			a.log.Warn("discord inbound queue full, dropping message", "channel_id", m.ChannelID)
		}
	}
}
