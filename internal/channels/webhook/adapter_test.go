package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

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
	return New(log, observability.NewMetrics())
}

func TestHandlerRejectsNonPost(t *testing.T) {
	a := testAdapter(t)
	req := httptest.NewRequest(http.MethodGet, "/webhook/hook-1", nil)
	rec := httptest.NewRecorder()
	a.Handler("hook-1")(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandlerRejectsMissingContent(t *testing.T) {
	a := testAdapter(t)
	req := httptest.NewRequest(http.MethodPost, "/webhook/hook-1", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	a.Handler("hook-1")(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandlerQueuesInboundAndAccepts(t *testing.T) {
	a := testAdapter(t)
	body := `{"id":"req-1","content":"run the build"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/hook-1", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	a.Handler("hook-1")(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}

	select {
	case msg := <-a.messages:
		if msg.Content != "run the build" || msg.ReplyTo.Target != "hook-1" {
			t.Errorf("unexpected inbound message: %+v", msg)
		}
	default:
		t.Fatal("expected an inbound message to be queued")
	}
}

func TestSendAndReplyRoundTrip(t *testing.T) {
	a := testAdapter(t)
	dest := corekit.NewReplyAddress(channels.Webhook, "hook-1")
	if err := a.Send(context.Background(), dest, corekit.TextMessage("done")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	msg, ok := a.Reply("hook-1")
	if !ok || msg.Content != "done" {
		t.Fatalf("Reply = (%+v, %v), want (done, true)", msg, ok)
	}

	if _, ok := a.Reply("hook-1"); ok {
		t.Error("expected Reply to clear the recorded reply after reading it")
	}
}
