// Package webhook exposes a bare HTTP POST endpoint as a channel
// Adapter: any system that can speak JSON over HTTP can submit a task
// without running a platform-specific client.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// inboundPayload is the JSON body a caller POSTs.
type inboundPayload struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Target  string `json:"target"`
}

// Adapter implements channels.Adapter/InboundAdapter/OutboundAdapter
// over an http.Handler. It has no lifecycle of its own: the handler
// is mounted on the caller's *http.ServeMux (see internal/gateway),
// and Send records the reply for the caller's own delivery mechanism
// (typically a webhook response URL posted back out via net/http).
type Adapter struct {
	log     *observability.Logger
	metrics *observability.Metrics

	messages chan corekit.InboundMessage

	mu   sync.Mutex
	sent map[string]corekit.OutboundMessage
}

var _ channels.Adapter = (*Adapter)(nil)
var _ channels.InboundAdapter = (*Adapter)(nil)
var _ channels.OutboundAdapter = (*Adapter)(nil)

// New returns a webhook Adapter.
func New(log *observability.Logger, metrics *observability.Metrics) *Adapter {
	return &Adapter{
		log:      log,
		metrics:  metrics,
		messages: make(chan corekit.InboundMessage, 100),
		sent:     make(map[string]corekit.OutboundMessage),
	}
}

func (a *Adapter) Type() string { return channels.Webhook }

func (a *Adapter) Messages() <-chan corekit.InboundMessage { return a.messages }

// Send records the outbound reply for dest.Target, which is the
// webhook id the inbound request was POSTed under. A caller that
// wants the reply synchronously should instead poll Reply.
func (a *Adapter) Send(ctx context.Context, dest corekit.ReplyAddress, msg corekit.OutboundMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent[dest.Target] = msg
	return nil
}

// Reply returns (and clears) the reply recorded for a given webhook id.
func (a *Adapter) Reply(id string) (corekit.OutboundMessage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	msg, ok := a.sent[id]
	if ok {
		delete(a.sent, id)
	}
	return msg, ok
}

// Handler returns an http.HandlerFunc that accepts
// POST /webhook/{id} and enqueues the body as an inbound message for
// that id's ReplyAddress target.
func (a *Adapter) Handler(webhookID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var payload inboundPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		if payload.Content == "" {
			http.Error(w, "content is required", http.StatusBadRequest)
			return
		}
		target := payload.Target
		if target == "" {
			target = webhookID
		}

		inbound := corekit.InboundMessage{
			ID:        payload.ID,
			Content:   payload.Content,
			ReplyTo:   corekit.NewReplyAddress(channels.Webhook, target),
			Timestamp: time.Now(),
		}

		select {
		case a.messages <- inbound:
		default:
			if a.log != nil {
				a.log.Warn("webhook inbound queue full, dropping request", "webhook_id", webhookID)
			}
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintln(w, `{"status":"accepted"}`)
	}
}

func (a *Adapter) Status() channels.Status { return channels.Status{Connected: true} }

func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	return channels.HealthStatus{Healthy: true, LastCheck: time.Now()}
}
