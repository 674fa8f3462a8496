// Package channels provides the transport abstraction for chat platforms.
// Channels connect external platforms (Telegram, Discord) to the agent loop
// via the message bus, and deliver replies back.
package channels

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/replygate/internal/bus"
)

// DMPolicy controls how DMs from unknown senders are handled.
type DMPolicy string

const (
	DMPolicyAllowlist DMPolicy = "allowlist" // Only whitelisted senders
	DMPolicyOpen      DMPolicy = "open"      // Accept all
	DMPolicyDisabled  DMPolicy = "disabled"  // Reject all DMs
)

// GroupPolicy controls how group messages are handled.
type GroupPolicy string

const (
	GroupPolicyOpen      GroupPolicy = "open"      // Accept all groups
	GroupPolicyAllowlist GroupPolicy = "allowlist" // Only whitelisted groups
	GroupPolicyDisabled  GroupPolicy = "disabled"  // No group messages
)

// Channel defines the interface that all channel implementations must satisfy.
type Channel interface {
	// Name returns the channel identifier (e.g., "telegram", "discord").
	Name() string

	// Start begins listening for messages. Should be non-blocking after setup.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop(ctx context.Context) error

	// Send delivers one outbound message and returns the platform message id.
	// Content must already fit MaxMessageLength.
	Send(ctx context.Context, msg bus.OutboundMessage) (string, error)

	// MaxMessageLength is the platform's per-message limit, in runes unless
	// the channel implements TextMeasurer.
	MaxMessageLength() int

	// IsRunning returns whether the channel is actively processing messages.
	IsRunning() bool

	// IsAllowed checks if a sender is permitted by the channel's allowlist.
	IsAllowed(senderID string) bool
}

// TextMeasurer is implemented by channels whose platform counts message
// length in units other than runes.
type TextMeasurer interface {
	MeasureText(text string) int
}

// BaseChannel provides shared functionality for all channel implementations.
// Channel implementations should embed this struct.
type BaseChannel struct {
	name      string
	bus       bus.MessageRouter
	running   atomic.Bool
	allowList []string
	limiter   *InboundLimiter
	now       func() time.Time
}

// NewBaseChannel creates a new BaseChannel with the given parameters.
func NewBaseChannel(name string, router bus.MessageRouter, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       router,
		allowList: allowList,
		limiter:   NewInboundLimiter(DefaultInboundWindow, DefaultInboundMaxHits),
		now:       time.Now,
	}
}

// Name returns the channel name.
func (c *BaseChannel) Name() string { return c.name }

// IsRunning returns whether the channel is running.
func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

// SetRunning updates the running state.
func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

// Bus returns the message router messages are published to.
func (c *BaseChannel) Bus() bus.MessageRouter { return c.bus }

// HasAllowList returns true if an allowlist is configured (non-empty).
func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }

// IsAllowed checks if a sender is permitted by the allowlist.
// Supports compound senderID format: "123456|username".
// Empty allowlist means all senders are allowed.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart, userPart := senderID, ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		allowed = strings.TrimPrefix(allowed, "@")
		allowedID, allowedUser := allowed, allowed
		if idx := strings.Index(allowed, "|"); idx > 0 {
			allowedID, allowedUser = allowed[:idx], allowed[idx+1:]
		}
		if idPart == allowedID || strings.EqualFold(idPart, allowedUser) ||
			(userPart != "" && strings.EqualFold(userPart, allowedUser)) {
			return true
		}
	}
	return false
}

// CheckPolicy evaluates DM/Group policy for a message.
// peerKind is bus.PeerDirect or bus.PeerGroup; an empty policy means open.
func (c *BaseChannel) CheckPolicy(peerKind string, dmPolicy DMPolicy, groupPolicy GroupPolicy, senderID string) bool {
	policy := string(dmPolicy)
	if peerKind == bus.PeerGroup {
		policy = string(groupPolicy)
	}

	switch policy {
	case "disabled":
		return false
	case "allowlist":
		return c.IsAllowed(senderID)
	default: // "open"
		return true
	}
}

// HandleMessage stamps msg with the channel name and receipt time and
// publishes it. Messages from senders that are not allowed, or that flood
// a chat, are dropped.
func (c *BaseChannel) HandleMessage(msg bus.InboundMessage) bool {
	if !c.IsAllowed(msg.SenderID) {
		return false
	}
	msg.Channel = c.name
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = c.now()
	}
	if c.limiter != nil && !c.limiter.Allow(msg.Key()+"/"+msg.SenderID) {
		return false
	}
	c.bus.PublishInbound(msg)
	return true
}

// Truncate shortens a string to maxLen runes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
