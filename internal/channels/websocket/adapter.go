// Package websocket backs the interactive UI channel: a duplex feed
// over gorilla/websocket where each connection is its own session.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/internal/errs"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wireMessage struct {
	Content string `json:"content"`
}

// Adapter implements channels.FullAdapter over a set of concurrently
// connected websocket clients, each identified by a connection id
// used as the ReplyAddress target.
type Adapter struct {
	log     *observability.Logger
	metrics *observability.Metrics

	messages chan corekit.InboundMessage

	mu      sync.RWMutex
	conns   map[string]*websocket.Conn
	nextID  int
	running bool
}

var _ channels.FullAdapter = (*Adapter)(nil)

// New returns a websocket Adapter.
func New(log *observability.Logger, metrics *observability.Metrics) *Adapter {
	return &Adapter{
		log:      log,
		metrics:  metrics,
		messages: make(chan corekit.InboundMessage, 100),
		conns:    make(map[string]*websocket.Conn),
	}
}

func (a *Adapter) Type() string { return channels.WebSocket }

func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	for id, conn := range a.conns {
		_ = conn.Close()
		delete(a.conns, id)
	}
	close(a.messages)
	return nil
}

func (a *Adapter) Messages() <-chan corekit.InboundMessage { return a.messages }

// Send writes msg to the connection identified by dest.Target.
func (a *Adapter) Send(ctx context.Context, dest corekit.ReplyAddress, msg corekit.OutboundMessage) error {
	a.mu.RLock()
	conn, ok := a.conns[dest.Target]
	a.mu.RUnlock()
	if !ok {
		return errs.ChannelError(fmt.Errorf("websocket: no connection registered for %q", dest.Target))
	}
	return conn.WriteJSON(wireMessage{Content: msg.Content})
}

func (a *Adapter) Status() channels.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return channels.Status{Connected: a.running, LastPing: time.Now().Unix()}
}

func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	a.mu.RLock()
	running := a.running
	a.mu.RUnlock()
	return channels.HealthStatus{Healthy: running, LastCheck: time.Now()}
}

// Handler upgrades the HTTP request to a websocket connection, reads
// every JSON text frame as an inbound message, and keeps the
// connection registered for outbound Send calls until it closes.
func (a *Adapter) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if a.log != nil {
				a.log.Warn("websocket upgrade failed", "error", err)
			}
			return
		}

		connID := a.register(conn)
		defer a.unregister(connID, conn)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var wire wireMessage
			if err := json.Unmarshal(data, &wire); err != nil || wire.Content == "" {
				continue
			}

			inbound := corekit.InboundMessage{
				Content:   wire.Content,
				ReplyTo:   corekit.NewReplyAddress(channels.WebSocket, connID),
				Timestamp: time.Now(),
			}

			select {
			case a.messages <- inbound:
			default:
				if a.log != nil {
					a.log.Warn("websocket inbound queue full, dropping message", "conn_id", connID)
				}
			}
		}
	}
}

func (a *Adapter) register(conn *websocket.Conn) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := connIDFor(a.nextID)
	a.conns[id] = conn
	return id
}

func (a *Adapter) unregister(id string, conn *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conns, id)
	_ = conn.Close()
}

func connIDFor(n int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if n == 0 {
		return "conn-0"
	}
	digits := make([]byte, 0, 8)
	for n > 0 {
		digits = append([]byte{alphabet[n%len(alphabet)]}, digits...)
		n /= len(alphabet)
	}
	return "conn-" + string(digits)
}
