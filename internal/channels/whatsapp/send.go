package whatsapp

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/nexus-run/nexus-core/internal/errs"
)

// sendText parses target as a WhatsApp JID and delivers content as a
// plain-text conversation message.
func sendText(ctx context.Context, client *whatsmeow.Client, target, content string) error {
	jid, err := types.ParseJID(target)
	if err != nil {
		return errs.ChannelError(fmt.Errorf("whatsapp: parse jid %q: %w", target, err))
	}
	msg := &waE2E.Message{Conversation: proto.String(content)}
	if _, err := client.SendMessage(ctx, jid, msg); err != nil {
		return errs.ChannelError(fmt.Errorf("whatsapp: send message: %w", err))
	}
	return nil
}
