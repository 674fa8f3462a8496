package bus

import (
	"context"
	"time"
)

// InboundMessage is a chat message normalized by a channel (Telegram, Discord, etc.)
type InboundMessage struct {
	Channel      string            `json:"channel"`
	ChatID       string            `json:"chat_id"`    // platform chat id
	MessageID    string            `json:"message_id"` // platform message id
	SenderID     string            `json:"sender_id"`
	SenderName   string            `json:"sender_name,omitempty"`
	Content      string            `json:"content"`             // text or caption, empty when none
	PeerKind     string            `json:"peer_kind,omitempty"` // "direct" or "group"
	ReplyToSelf  bool              `json:"reply_to_self,omitempty"`
	MentionsSelf bool              `json:"mentions_self,omitempty"`
	ReceivedAt   time.Time         `json:"received_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Peer kinds.
const (
	PeerDirect = "direct"
	PeerGroup  = "group"
)

// IsPrivate reports whether the message came from a one-to-one chat.
func (m InboundMessage) IsPrivate() bool { return m.PeerKind == PeerDirect }

// Key returns the transport-scoped chat key.
func (m InboundMessage) Key() string { return ChatKey(m.Channel, m.ChatID) }

// OutboundMessage represents a message to be sent to a channel.
type OutboundMessage struct {
	Channel   string            `json:"channel"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	ReplyToID string            `json:"reply_to_id,omitempty"` // platform message id to reply to
	Metadata  map[string]string `json:"metadata,omitempty"`    // channel-specific metadata
}

// ChatKey builds the id chat state is keyed by. Chat ids are only unique
// within one transport.
func ChatKey(channel, chatID string) string {
	return channel + ":" + chatID
}

// MessageRouter abstracts inbound routing between channels and the agent runtime.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
}
