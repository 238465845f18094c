package channels

import "github.com/nexus-run/nexus-core/pkg/corekit"

// Channel identities. These are the string keys Adapter.Type returns
// and the Registry indexes adapters by.
const (
	Discord   = "discord"
	Telegram  = "telegram"
	WhatsApp  = "whatsapp"
	Slack     = "slack"
	Mattermost = "mattermost"
	Matrix    = "matrix"
	Nostr     = "nostr"
	Webhook   = "webhook"
	WebSocket = "websocket"
)

// Meta carries display and setup metadata for a channel, independent
// of whether an adapter for it is currently registered.
type Meta struct {
	ID       string
	Label    string
	DocsPath string
	Blurb    string
	Aliases  []string
}

// Order is the preferred display ordering, easiest setup first.
var Order = []string{
	Telegram, WhatsApp, Discord, Slack, Mattermost, Matrix, Nostr, Webhook, WebSocket,
}

var catalog = map[string]*Meta{
	Telegram: {
		ID: Telegram, Label: "Telegram", DocsPath: "/channels/telegram",
		Blurb: "register a bot with @BotFather and paste its token", Aliases: []string{"tg"},
	},
	WhatsApp: {
		ID: WhatsApp, Label: "WhatsApp", DocsPath: "/channels/whatsapp",
		Blurb: "pairs with a phone number over a scanned QR code", Aliases: []string{"wa"},
	},
	Discord: {
		ID: Discord, Label: "Discord", DocsPath: "/channels/discord",
		Blurb: "invite a bot application to a server", Aliases: nil,
	},
	Slack: {
		ID: Slack, Label: "Slack", DocsPath: "/channels/slack",
		Blurb: "install a Slack app with Socket Mode enabled", Aliases: nil,
	},
	Mattermost: {
		ID: Mattermost, Label: "Mattermost", DocsPath: "/channels/mattermost",
		Blurb: "connect with a bot account's personal access token", Aliases: []string{"mm"},
	},
	Matrix: {
		ID: Matrix, Label: "Matrix", DocsPath: "/channels/matrix",
		Blurb: "log in as a dedicated bot user on a homeserver", Aliases: nil,
	},
	Nostr: {
		ID: Nostr, Label: "Nostr", DocsPath: "/channels/nostr",
		Blurb: "listens for direct messages across a set of relays", Aliases: nil,
	},
	Webhook: {
		ID: Webhook, Label: "Webhook", DocsPath: "/channels/webhook",
		Blurb: "a bare HTTP endpoint for systems that speak JSON over POST", Aliases: []string{"http"},
	},
	WebSocket: {
		ID: WebSocket, Label: "WebSocket", DocsPath: "/channels/websocket",
		Blurb: "an interactive duplex feed for a browser-based console", Aliases: []string{"ws"},
	},
}

// GetMeta returns the catalog entry for a channel id.
func GetMeta(id string) (*Meta, bool) {
	m, ok := catalog[id]
	return m, ok
}

// ListMeta returns every catalog entry in display order.
func ListMeta() []*Meta {
	out := make([]*Meta, 0, len(Order))
	for _, id := range Order {
		if m, ok := catalog[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Normalize resolves a raw user-typed channel name (including an
// alias) to its canonical id, or returns the input unchanged if it
// matches nothing.
func Normalize(raw string) string {
	for _, m := range catalog {
		if raw == m.ID {
			return m.ID
		}
		for _, alias := range m.Aliases {
			if raw == alias {
				return m.ID
			}
		}
	}
	return raw
}

// defaultCapabilities is a fallback capability set for an adapter that
// does not describe its own; nothing in this repository refers to it.
var defaultCapabilities = corekit.ChannelCapabilities{MaxMessageLen: 4096}
