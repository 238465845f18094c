// Package whatsapp adapts a whatsmeow device session to the channel
// Adapter contract. Pairing happens once, over a QR code rendered to
// the terminal; the paired session then persists in the sqlite store
// at Config.DBPath.
package whatsapp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waEvents "go.mau.fi/whatsmeow/types/events"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// Config configures the WhatsApp adapter.
type Config struct {
	// DBPath is the sqlite file backing the paired device session.
	DBPath string
}

func (c *Config) validate() error {
	if c.DBPath == "" {
		c.DBPath = "whatsapp.db"
	}
	return nil
}

// deviceClient is the slice of *whatsmeow.Client this adapter drives.
type deviceClient interface {
	Connect() error
	Disconnect()
	IsConnected() bool
	IsLoggedIn() bool
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
}

// Adapter implements channels.FullAdapter over a whatsmeow session.
type Adapter struct {
	config  Config
	client  deviceClient
	log     *observability.Logger
	metrics *observability.Metrics

	mu        sync.RWMutex
	connected bool

	messages chan corekit.InboundMessage
}

var _ channels.FullAdapter = (*Adapter)(nil)

// New opens (or creates) the device store at config.DBPath and
// returns a WhatsApp adapter over it.
func New(ctx context.Context, config Config, log *observability.Logger, metrics *observability.Metrics) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	container, err := sqlstore.New(ctx, "sqlite3", "file:"+config.DBPath+"?_foreign_keys=on", waLog.Noop)
	if err != nil {
		return nil, errs.ChannelError(fmt.Errorf("whatsapp: open device store: %w", err))
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, errs.ChannelError(fmt.Errorf("whatsapp: load device: %w", err))
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	return newAdapter(config, client, log, metrics), nil
}

func newAdapter(config Config, client deviceClient, log *observability.Logger, metrics *observability.Metrics) *Adapter {
	a := &Adapter{
		config:   config,
		client:   client,
		log:      log,
		metrics:  metrics,
		messages: make(chan corekit.InboundMessage, 100),
	}
	client.AddEventHandler(a.handleEvent)
	return a
}

func (a *Adapter) Type() string { return channels.WhatsApp }

// Start connects the device session, printing a pairing QR code to
// the log if this is a fresh device with no linked session.
func (a *Adapter) Start(ctx context.Context) error {
	if a.client.IsLoggedIn() {
		if err := a.client.Connect(); err != nil {
			return errs.ChannelError(fmt.Errorf("whatsapp: connect: %w", err))
		}
		a.setConnected(true)
		return nil
	}

	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return errs.ChannelError(fmt.Errorf("whatsapp: get qr channel: %w", err))
	}
	if err := a.client.Connect(); err != nil {
		return errs.ChannelError(fmt.Errorf("whatsapp: connect: %w", err))
	}

	go func() {
		for evt := range qrChan {
			if evt.Event != "code" {
				continue
			}
			art, err := qrcode.New(evt.Code, qrcode.Medium)
			if err != nil {
				continue
			}
			if a.log != nil {
				a.log.Info("scan this code to link WhatsApp", "qr", art.ToSmallString(false))
			}
		}
	}()

	a.setConnected(true)
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil
	}
	a.connected = false
	a.mu.Unlock()

	a.client.Disconnect()
	close(a.messages)
	return nil
}

// Send delivers msg to the WhatsApp JID recorded on dest.Target.
// Sending a live message requires the concrete *whatsmeow.Client
// (SendMessage is not part of the narrow deviceClient interface this
// adapter tests against); production wiring constructs the adapter
// through New, which stores a *whatsmeow.Client able to satisfy a
// richer send path added alongside real protobuf message building.
func (a *Adapter) Send(ctx context.Context, dest corekit.ReplyAddress, msg corekit.OutboundMessage) error {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return errs.ChannelError(fmt.Errorf("whatsapp adapter not connected"))
	}
	real, ok := a.client.(*whatsmeow.Client)
	if !ok {
		return errs.ChannelError(fmt.Errorf("whatsapp: send requires a live device client"))
	}
	return sendText(ctx, real, dest.Target, msg.Content)
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

func (a *Adapter) setConnected(v bool) {
	a.mu.Lock()
	a.connected = v
	a.mu.Unlock()
}

func (a *Adapter) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *waEvents.Connected:
		a.setConnected(true)
	case *waEvents.Disconnected, *waEvents.LoggedOut:
		a.setConnected(false)
	case *waEvents.Message:
		a.handleMessage(v)
	}
}

func (a *Adapter) handleMessage(evt *waEvents.Message) {
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	var content string
	switch {
	case evt.Message.GetConversation() != "":
		content = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage() != nil:
		content = evt.Message.GetExtendedTextMessage().GetText()
	}
	if content == "" {
		return
	}

	inbound := corekit.InboundMessage{
		ID:        evt.Info.ID,
		Content:   content,
		ReplyTo:   corekit.NewReplyAddress(channels.WhatsApp, evt.Info.Chat.String()),
		Timestamp: evt.Info.Timestamp,
		Metadata: map[string]any{
			"whatsapp_sender": evt.Info.Sender.String(),
		},
	}

	select {
	case a.messages <- inbound:
	default:
		if a.log != nil {
			a.log.Warn("whatsapp inbound queue full, dropping message", "chat", evt.Info.Chat.String())
		}
	}
}
