// Package nostr adapts Nostr relay connections, carrying NIP-04
// encrypted direct messages, to the channel Adapter contract.
package nostr

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// DefaultRelays are commonly used Nostr relays.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
}

// Config configures the Nostr adapter.
type Config struct {
	// PrivateKey is the bot's private key in hex or nsec format.
	PrivateKey string
	Relays     []string
}

func (c *Config) validate() error {
	if c.PrivateKey == "" {
		return errs.ChannelError(fmt.Errorf("nostr: private_key is required"))
	}
	if _, err := parsePrivateKey(c.PrivateKey); err != nil {
		return errs.ChannelError(fmt.Errorf("nostr: invalid private key: %w", err))
	}
	if len(c.Relays) == 0 {
		c.Relays = DefaultRelays
	}
	return nil
}

// Adapter implements channels.FullAdapter over a set of Nostr relay
// connections, exchanging NIP-04 encrypted direct messages.
type Adapter struct {
	config     Config
	privateKey string
	publicKey  string
	relays     []*nostr.Relay
	log        *observability.Logger
	metrics    *observability.Metrics

	mu        sync.RWMutex
	connected bool
	seen      sync.Map

	messages chan corekit.InboundMessage
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

var _ channels.FullAdapter = (*Adapter)(nil)

// New returns a Nostr adapter for config.
func New(config Config, log *observability.Logger, metrics *observability.Metrics) (*Adapter, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	privateKey, err := parsePrivateKey(config.PrivateKey)
	if err != nil {
		return nil, errs.ChannelError(fmt.Errorf("nostr: parse private key: %w", err))
	}
	publicKey, err := nostr.GetPublicKey(privateKey)
	if err != nil {
		return nil, errs.ChannelError(fmt.Errorf("nostr: derive public key: %w", err))
	}
	return &Adapter{
		config:     config,
		privateKey: privateKey,
		publicKey:  publicKey,
		log:        log,
		metrics:    metrics,
		messages:   make(chan corekit.InboundMessage, 100),
	}, nil
}

func (a *Adapter) Type() string { return channels.Nostr }

// Start connects to every configured relay and subscribes each to
// encrypted DMs addressed to this adapter's public key.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return errs.ChannelError(fmt.Errorf("nostr adapter already started"))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	for _, url := range a.config.Relays {
		relay, err := nostr.RelayConnect(runCtx, url)
		if err != nil {
			if a.log != nil {
				a.log.Warn("failed to connect to relay", "relay", url, "error", err)
			}
			continue
		}
		a.relays = append(a.relays, relay)
	}
	if len(a.relays) == 0 {
		cancel()
		return errs.ChannelError(fmt.Errorf("nostr: failed to connect to any relay"))
	}

	for _, relay := range a.relays {
		a.wg.Add(1)
		go a.subscribeToRelay(runCtx, relay)
	}

	a.connected = true
	if a.log != nil {
		a.log.Info("nostr adapter started", "connected_relays", len(a.relays))
	}
	return nil
}

func (a *Adapter) subscribeToRelay(ctx context.Context, relay *nostr.Relay) {
	defer a.wg.Done()

	since := nostr.Timestamp(time.Now().Add(-2 * time.Minute).Unix())
	filters := nostr.Filters{{
		Kinds: []int{4},
		Tags:  nostr.TagMap{"p": []string{a.publicKey}},
		Since: &since,
	}}

	sub, err := relay.Subscribe(ctx, filters)
	if err != nil {
		if a.log != nil {
			a.log.Warn("failed to subscribe to relay", "relay", relay.URL, "error", err)
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			sub.Unsub()
			return
		case event := <-sub.Events:
			if event == nil {
				continue
			}
			a.handleEvent(event)
		}
	}
}

func (a *Adapter) handleEvent(event *nostr.Event) {
	if _, loaded := a.seen.LoadOrStore(event.ID, true); loaded {
		return
	}
	if event.PubKey == a.publicKey {
		return
	}
	if ok, err := event.CheckSignature(); err != nil || !ok {
		return
	}

	sharedSecret, err := nip04.ComputeSharedSecret(event.PubKey, a.privateKey)
	if err != nil {
		return
	}
	plaintext, err := nip04.Decrypt(event.Content, sharedSecret)
	if err != nil {
		return
	}

	inbound := corekit.InboundMessage{
		ID:        event.ID,
		Content:   plaintext,
		ReplyTo:   corekit.NewReplyAddress(channels.Nostr, event.PubKey),
		Timestamp: time.Unix(int64(event.CreatedAt), 0),
		Metadata: map[string]any{
			"nostr_pubkey": event.PubKey,
		},
	}

	select {
	case a.messages <- inbound:
	default:
		if a.log != nil {
			a.log.Warn("nostr inbound queue full, dropping message", "event_id", event.ID)
		}
	}
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
	for _, relay := range a.relays {
		_ = relay.Close()
	}
	a.wg.Wait()
	a.connected = false
	close(a.messages)
	return nil
}

// Send encrypts msg under NIP-04 and publishes it as a kind-4 DM to
// the pubkey recorded on dest.Target.
func (a *Adapter) Send(ctx context.Context, dest corekit.ReplyAddress, msg corekit.OutboundMessage) error {
	a.mu.RLock()
	connected := a.connected
	a.mu.RUnlock()
	if !connected {
		return errs.ChannelError(fmt.Errorf("nostr adapter not connected"))
	}

	toPubkey, err := normalizePubkey(dest.Target)
	if err != nil {
		return errs.ChannelError(fmt.Errorf("nostr: invalid recipient pubkey: %w", err))
	}

	sharedSecret, err := nip04.ComputeSharedSecret(toPubkey, a.privateKey)
	if err != nil {
		return errs.ChannelError(fmt.Errorf("nostr: compute shared secret: %w", err))
	}
	ciphertext, err := nip04.Encrypt(msg.Content, sharedSecret)
	if err != nil {
		return errs.ChannelError(fmt.Errorf("nostr: encrypt message: %w", err))
	}

	event := nostr.Event{
		PubKey:    a.publicKey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      4,
		Tags:      nostr.Tags{{"p", toPubkey}},
		Content:   ciphertext,
	}
	if err := event.Sign(a.privateKey); err != nil {
		return errs.ChannelError(fmt.Errorf("nostr: sign event: %w", err))
	}

	var lastErr error
	for _, relay := range a.relays {
		if err := relay.Publish(ctx, event); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if a.metrics != nil {
		a.metrics.RecordError("nostr", "send_failed")
	}
	return errs.ChannelError(fmt.Errorf("nostr: failed to publish to any relay: %w", lastErr))
}

func (a *Adapter) Messages() <-chan corekit.InboundMessage { return a.messages }

func (a *Adapter) Status() channels.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return channels.Status{Connected: a.connected, LastPing: time.Now().Unix()}
}

func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	start := time.Now()
	connectedCount := 0
	for _, relay := range a.relays {
		if relay.IsConnected() {
			connectedCount++
		}
	}
	healthy := connectedCount > 0
	message := "no connected relays"
	if healthy {
		message = fmt.Sprintf("healthy: %d/%d relays connected", connectedCount, len(a.relays))
	}
	return channels.HealthStatus{
		Healthy:   healthy,
		Degraded:  healthy && connectedCount < len(a.relays),
		Latency:   time.Since(start),
		Message:   message,
		LastCheck: time.Now(),
	}
}

// parsePrivateKey parses a private key in hex or nsec format.
func parsePrivateKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if strings.HasPrefix(trimmed, "nsec1") {
		prefix, data, err := nip19.Decode(trimmed)
		if err != nil {
			return "", fmt.Errorf("invalid nsec key: %w", err)
		}
		if prefix != "nsec" {
			return "", fmt.Errorf("invalid key type: expected nsec, got %s", prefix)
		}
		hexKey, ok := data.(string)
		if !ok {
			return "", fmt.Errorf("invalid nsec key type: %T", data)
		}
		return hexKey, nil
	}
	if len(trimmed) != 64 {
		return "", fmt.Errorf("private key must be 64 hex characters or nsec format")
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return "", fmt.Errorf("invalid hex key: %w", err)
	}
	return trimmed, nil
}

// normalizePubkey normalizes a pubkey to hex format.
func normalizePubkey(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "npub1") {
		prefix, data, err := nip19.Decode(trimmed)
		if err != nil {
			return "", fmt.Errorf("invalid npub key: %w", err)
		}
		if prefix != "npub" {
			return "", fmt.Errorf("invalid key type: expected npub, got %s", prefix)
		}
		pubkey, ok := data.(string)
		if !ok {
			return "", fmt.Errorf("invalid npub key type: %T", data)
		}
		return pubkey, nil
	}
	if len(trimmed) != 64 {
		return "", fmt.Errorf("pubkey must be 64 hex characters or npub format")
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return "", fmt.Errorf("invalid hex pubkey: %w", err)
	}
	return strings.ToLower(trimmed), nil
}
