package corekit

import "time"

// ReplyAddress is an opaque, hashable, serializable triple that names a
// destination inside a channel without the channel holding any
// session-scoped state of its own. It is the only handle the core ever
// retains for addressing a user.
type ReplyAddress struct {
	ChannelID string `json:"channel_id"`
	Target    string `json:"target"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// NewReplyAddress builds a ReplyAddress with no thread scoping.
func NewReplyAddress(channelID, target string) ReplyAddress {
	return ReplyAddress{ChannelID: channelID, Target: target}
}

// WithThread returns a copy of the address scoped to a thread.
func (r ReplyAddress) WithThread(threadID string) ReplyAddress {
	r.ThreadID = threadID
	return r
}

// SessionKey derives the session-id convention this runtime uses for a
// ReplyAddress: channel_id and target joined by a colon. This resolves the
// "session-id derivation from ReplyAddress" open question by picking one
// separator and applying it uniformly (see DESIGN.md).
func (r ReplyAddress) SessionKey() string {
	return r.ChannelID + ":" + r.Target
}

// InboundMessage is what a channel adapter hands to the Channel Bridge.
type InboundMessage struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	ReplyTo     ReplyAddress   `json:"reply_to"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
}

// OutboundMessage is what the Channel Registry hands back to a channel
// adapter for delivery to a ReplyAddress.
type OutboundMessage struct {
	Content           string         `json:"content"`
	ReplyToMessageID  string         `json:"reply_to_message_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Attachments       []Attachment   `json:"attachments,omitempty"`
}

// TextMessage builds a plain OutboundMessage.
func TextMessage(content string) OutboundMessage {
	return OutboundMessage{Content: content}
}

// ReplyMessage builds an OutboundMessage that replies to a specific
// inbound message id.
func ReplyMessage(content, replyToMessageID string) OutboundMessage {
	return OutboundMessage{Content: content, ReplyToMessageID: replyToMessageID}
}

// WithMetadata returns a copy of the message with a metadata key set.
func (m OutboundMessage) WithMetadata(key string, value any) OutboundMessage {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any, 1)
	}
	m.Metadata[key] = value
	return m
}

// WithAttachment returns a copy of the message with an attachment appended.
func (m OutboundMessage) WithAttachment(a Attachment) OutboundMessage {
	m.Attachments = append(m.Attachments, a)
	return m
}

// SentMessage is returned by a channel's Send on success.
type SentMessage struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// ChannelCapabilities enumerates what a channel adapter can do. A channel
// that cannot edit messages, for instance, leaves Editing false rather than
// failing at call time.
type ChannelCapabilities struct {
	Images        bool `json:"images"`
	Files         bool `json:"files"`
	Reactions     bool `json:"reactions"`
	Threads       bool `json:"threads"`
	Editing       bool `json:"editing"`
	MaxMessageLen int  `json:"max_message_len,omitempty"`
}
