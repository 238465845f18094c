package slack

import (
	"context"
	"testing"

	slackgo "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nexus-run/nexus-core/internal/channels"
	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

type mockAPIClient struct {
	channelID string
	text      string
	err       error
}

func (m *mockAPIClient) PostMessageContext(ctx context.Context, channelID string, options ...slackgo.MsgOption) (string, string, error) {
	m.channelID = channelID
	if m.err != nil {
		return "", "", m.err
	}
	return channelID, "1700000000.000100", nil
}

func testAdapter(t *testing.T) (*Adapter, *mockAPIClient) {
	t.Helper()
	log, err := observability.NewLogger(observability.LogConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	mock := &mockAPIClient{}
	return &Adapter{
		config:   Config{BotToken: "xoxb-test", AppToken: "xapp-test"},
		api:      mock,
		log:      log,
		metrics:  observability.NewMetrics(),
		messages: make(chan corekit.InboundMessage, 10),
	}, mock
}

func TestConfigValidateRequiresBothTokens(t *testing.T) {
	if err := (&Config{}).validate(); err == nil {
		t.Error("expected missing tokens to fail validation")
	}
	if err := (&Config{BotToken: "b"}).validate(); err == nil {
		t.Error("expected a missing app token to fail validation")
	}
}

func TestAdapterSendRequiresConnection(t *testing.T) {
	a, _ := testAdapter(t)
	dest := corekit.NewReplyAddress(channels.Slack, "C1")
	if err := a.Send(context.Background(), dest, corekit.TextMessage("hi")); err == nil {
		t.Error("expected Send before Start to fail")
	}
}

func TestAdapterSendDeliversContent(t *testing.T) {
	a, mock := testAdapter(t)
	a.connected = true
	dest := corekit.NewReplyAddress(channels.Slack, "C1")
	if err := a.Send(context.Background(), dest, corekit.TextMessage("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if mock.channelID != "C1" {
		t.Errorf("channelID = %q, want C1", mock.channelID)
	}
}

func TestHandleEventIgnoresNonMessageAndBotEvents(t *testing.T) {
	a, _ := testAdapter(t)
	a.handleEvent(socketmode.Event{Type: socketmode.EventTypeHello})
	select {
	case <-a.messages:
		t.Fatal("expected non-events-api events to be ignored")
	default:
	}

	a.handleEvent(socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{BotID: "B1", Text: "hi", Channel: "C1"},
			},
		},
	})
	select {
	case <-a.messages:
		t.Fatal("expected bot-originated messages to be ignored")
	default:
	}
}

func TestHandleEventQueuesInbound(t *testing.T) {
	a, _ := testAdapter(t)
	a.handleEvent(socketmode.Event{
		Type: socketmode.EventTypeEventsAPI,
		Data: slackevents.EventsAPIEvent{
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Data: &slackevents.MessageEvent{Text: "hello", Channel: "C1", User: "U1", TimeStamp: "1700000000.000100"},
			},
		},
	})

	select {
	case msg := <-a.messages:
		if msg.Content != "hello" || msg.ReplyTo.Target != "C1" {
			t.Errorf("unexpected inbound message: %+v", msg)
		}
	default:
		t.Fatal("expected an inbound message to be queued")
	}
}
