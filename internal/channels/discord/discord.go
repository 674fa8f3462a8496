package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/replygate/internal/bus"
	"github.com/nextlevelbuilder/replygate/internal/channels"
	"github.com/nextlevelbuilder/replygate/internal/config"
)

// maxMessageLength is Discord's content limit per message.
const maxMessageLength = 2000

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session     *discordgo.Session
	config      config.DiscordConfig
	botUserID   string // populated on start
	botUsername string
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, router bus.MessageRouter) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	// Request necessary intents
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", router, cfg.AllowFrom),
		session:     session,
		config:      cfg,
	}, nil
}

// BotUsername returns the bot's username once connected.
func (c *Channel) BotUsername() string { return c.botUsername }

// MaxMessageLength implements channels.Channel.
func (c *Channel) MaxMessageLength() int { return maxMessageLength }

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	// Fetch bot identity
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID
	c.botUsername = user.Username

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)

	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// Send delivers one message to a Discord channel and returns its id.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) (string, error) {
	if !c.IsRunning() {
		return "", errors.New("discord bot not running")
	}
	if msg.ChatID == "" {
		return "", errors.New("empty chat ID for discord send")
	}

	data := &discordgo.MessageSend{Content: msg.Content}
	if msg.ReplyToID != "" {
		data.Reference = &discordgo.MessageReference{
			MessageID: msg.ReplyToID,
			ChannelID: msg.ChatID,
		}
	}

	sent, err := c.session.ChannelMessageSendComplex(msg.ChatID, data, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send discord message: %w", err)
	}
	return sent.ID, nil
}

// handleMessage processes incoming Discord messages.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	msg, ok := normalizeMessage(m.Message, c.botUserID, c.config.AllowBots)
	if !ok {
		return
	}
	if m.Member != nil && m.Member.Nick != "" {
		msg.SenderName = m.Member.Nick
	}

	if !c.CheckPolicy(msg.PeerKind, channels.DMPolicy(c.config.DMPolicy), channels.GroupPolicy(c.config.GroupPolicy), msg.SenderID) {
		slog.Debug("discord message rejected by policy",
			"user_id", msg.SenderID,
			"username", msg.SenderName,
		)
		return
	}

	slog.Debug("discord message received",
		"sender_id", msg.SenderID,
		"channel_id", msg.ChatID,
		"is_dm", msg.IsPrivate(),
		"preview", channels.Truncate(msg.Content, 50),
	)

	c.HandleMessage(msg)
}

// normalizeMessage converts a Discord message to the bus shape. The bot's
// own messages are dropped; other bots pass only when allowBots is set so
// teammates on the same server stay visible.
func normalizeMessage(m *discordgo.Message, botUserID string, allowBots bool) (bus.InboundMessage, bool) {
	if m == nil || m.Author == nil || m.Author.ID == botUserID {
		return bus.InboundMessage{}, false
	}
	if m.Author.Bot && !allowBots {
		return bus.InboundMessage{}, false
	}

	peerKind := bus.PeerGroup
	if m.GuildID == "" {
		peerKind = bus.PeerDirect
	}

	mentioned := false
	for _, u := range m.Mentions {
		if u != nil && u.ID == botUserID {
			mentioned = true
			break
		}
	}

	replyToSelf := false
	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil {
		replyToSelf = ref.Author.ID == botUserID
	}

	// Mentions arrive as <@id>; the gate matches @username.
	content := m.ContentWithMentionsReplaced()

	metadata := map[string]string{
		"username": m.Author.Username,
		"guild_id": m.GuildID,
	}
	if m.Author.Bot {
		metadata["is_bot"] = "true"
	}

	return bus.InboundMessage{
		ChatID:       m.ChannelID,
		MessageID:    m.ID,
		SenderID:     m.Author.ID,
		SenderName:   resolveDisplayName(m.Author),
		Content:      content,
		PeerKind:     peerKind,
		ReplyToSelf:  replyToSelf,
		MentionsSelf: mentioned,
		ReceivedAt:   m.Timestamp,
		Metadata:     metadata,
	}, true
}

// resolveDisplayName returns the best available display name for a Discord
// author: global display name, then username. Server nicknames are applied
// by the caller when the member is known.
func resolveDisplayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}
