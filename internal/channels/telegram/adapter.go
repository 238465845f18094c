// Package telegram adapts go-telegram/bot's long-polling client to the
// channel Adapter contract.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// botClient is the slice of *bot.Bot this adapter drives, narrowed so
// tests can substitute a fake.
type botClient interface {
	Start(ctx context.Context)
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*models.Message, error)
}

// Config configures the Telegram adapter.
type Config struct {
	Token string
}

func (c *Config) validate() error {
	if c.Token == "" {
		return errs.ChannelError(fmt.Errorf("telegram: token is required"))
	}
	return nil
}

// Adapter implements channels.FullAdapter over a Telegram bot in
// long-polling mode.
type Adapter struct {
	config  Config
	bot     botClient
	log     *observability.Logger
	metrics *observability.Metrics

	mu        sync.RWMutex
	connected bool

	messages chan corekit.InboundMessage
	cancel   context.CancelFunc
}

var _ channels.FullAdapter = (*Adapter)(nil)

// New returns a Telegram adapter for config.
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

func (a *Adapter) Type() string { return channels.Telegram }

// Start creates the bot client, registers the text-message handler,
// and begins long polling in the background. Start returns once
// polling has begun; Stop cancels it.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return errs.ChannelError(fmt.Errorf("telegram adapter already started"))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.bot == nil {
		b, err := tgbot.New(a.config.Token, tgbot.WithDefaultHandler(a.handleUpdate))
		if err != nil {
			cancel()
			return errs.ChannelError(fmt.Errorf("telegram: create bot: %w", err))
		}
		a.bot = b
	}

	go a.bot.Start(runCtx)
	a.connected = true
	if a.log != nil {
		a.log.Info("telegram adapter started")
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
		a.log.Info("telegram adapter stopped")
	}
	return nil
}

// Send posts msg to the chat id recorded on dest.Target.
func (a *Adapter) Send(ctx context.Context, dest corekit.ReplyAddress, msg corekit.OutboundMessage) error {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return errs.ChannelError(fmt.Errorf("telegram adapter not connected"))
	}

	_, err := a.bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: dest.Target, Text: msg.Content})
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordError("telegram", "send_failed")
		}
		return errs.ChannelError(fmt.Errorf("telegram: send message: %w", err))
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

func (a *Adapter) handleUpdate(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.From.IsBot {
		return
	}
	if strings.TrimSpace(update.Message.Text) == "" {
		return
	}

	chatID := fmt.Sprintf("%d", update.Message.Chat.ID)
	inbound := corekit.InboundMessage{
		ID:        fmt.Sprintf("%d", update.Message.ID),
		Content:   update.Message.Text,
		ReplyTo:   corekit.NewReplyAddress(channels.Telegram, chatID),
		Timestamp: time.Unix(int64(update.Message.Date), 0),
		Metadata: map[string]any{
			"telegram_user_id":  update.Message.From.ID,
			"telegram_username": update.Message.From.Username,
		},
	}

	select {
	case a.messages <- inbound:
	default:
		if a.log != nil {
			a.log.Warn("telegram inbound queue full, dropping message", "chat_id", chatID)
		}
	}
}
