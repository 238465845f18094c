package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	log, err := observability.NewLogger(observability.LogConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	a := New(log, observability.NewMetrics())
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return a
}

func TestAdapterRoundTripsInboundAndOutbound(t *testing.T) {
	a := testAdapter(t)
	server := httptest.NewServer(a.Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(wireMessage{Content: "hello"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var inbound corekit.InboundMessage
	select {
	case inbound = <-a.messages:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
	if inbound.Content != "hello" {
		t.Errorf("Content = %q, want %q", inbound.Content, "hello")
	}
	if inbound.ReplyTo.ChannelID != channels.WebSocket {
		t.Errorf("ChannelID = %q, want %q", inbound.ReplyTo.ChannelID, channels.WebSocket)
	}

	if err := a.Send(context.Background(), inbound.ReplyTo, corekit.TextMessage("reply")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got wireMessage
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Content != "reply" {
		t.Errorf("reply content = %q, want %q", got.Content, "reply")
	}
}

func TestSendToUnknownConnectionFails(t *testing.T) {
	a := testAdapter(t)
	dest := corekit.NewReplyAddress(channels.WebSocket, "conn-missing")
	if err := a.Send(context.Background(), dest, corekit.TextMessage("hi")); err == nil {
		t.Error("expected Send to an unregistered connection to fail")
	}
}
