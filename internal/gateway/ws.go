package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nexus-run/nexus-core/pkg/corekit"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 45 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// wsFrame is the control-plane wire format: a client sends {type:"send",
// content:...} to submit a message, and receives {type:"message",
// message:...} frames as channel adapters produce inbound traffic.
type wsFrame struct {
	Type    string                 `json:"type"`
	Content string                 `json:"content,omitempty"`
	Message *corekit.InboundMessage `json:"message,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

type controlPlane struct {
	server   *Server
	upgrader websocket.Upgrader
}

func (s *Server) newControlPlane() http.Handler {
	return &controlPlane{
		server: s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (cp *controlPlane) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := cp.upgrader.Upgrade(w, r, nil)
	if err != nil {
		cp.server.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if cp.server.registry != nil {
		go cp.streamInbound(ctx, conn)
	}
	cp.readLoop(ctx, conn)
}

// streamInbound forwards every message the Channel Registry aggregates
// from its wired adapters to this websocket client.
func (cp *controlPlane) streamInbound(ctx context.Context, conn *websocket.Conn) {
	for msg := range cp.server.registry.AggregateMessages(ctx) {
		frame := wsFrame{Type: "message", Message: &msg}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
	}
}

// readLoop accepts "send" frames from the client and submits them to
// the RunLoop under a ReplyAddress scoped to this connection.
func (cp *controlPlane) readLoop(ctx context.Context, conn *websocket.Conn) {
	connID := uuid.NewString()
	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != "send" || cp.server.submitter == nil {
			continue
		}

		inbound := corekit.InboundMessage{
			ID:        uuid.NewString(),
			Content:   frame.Content,
			ReplyTo:   corekit.NewReplyAddress("ws", connID),
			Timestamp: time.Now(),
		}
		if err := cp.server.submitter.Submit(ctx, inbound); err != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteJSON(wsFrame{Type: "error", Error: err.Error()})
		}
	}
}
