package telegram

import (
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/replygate/internal/bus"
	"github.com/nextlevelbuilder/replygate/internal/channels"
)

// handleMessage processes an incoming Telegram message.
func (c *Channel) handleMessage(message *telego.Message) {
	// Skip service messages (member added/removed, title changed, etc.).
	if isServiceMessage(message) {
		slog.Debug("telegram service message skipped", "chat_id", message.Chat.ID)
		return
	}

	msg, ok := normalizeMessage(message, c.bot.Username())
	if !ok {
		return
	}

	slog.Debug("telegram message received",
		"chat_type", message.Chat.Type,
		"chat_id", msg.ChatID,
		"sender_id", msg.SenderID,
		"mentions_self", msg.MentionsSelf,
		"text_preview", channels.Truncate(msg.Content, 60),
	)

	if !c.CheckPolicy(msg.PeerKind, channels.DMPolicy(c.config.DMPolicy), channels.GroupPolicy(c.config.GroupPolicy), msg.SenderID) {
		slog.Debug("telegram message rejected by policy", "chat_id", msg.ChatID, "sender_id", msg.SenderID)
		return
	}
	c.HandleMessage(msg)
}

// normalizeMessage converts a Telegram message to the bus shape. Text and
// caption are joined; a message with neither keeps empty Content.
func normalizeMessage(message *telego.Message, botUsername string) (bus.InboundMessage, bool) {
	user := message.From
	if user == nil {
		return bus.InboundMessage{}, false
	}

	content := message.Text
	if message.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += message.Caption
	}

	peerKind := bus.PeerDirect
	if message.Chat.Type == "group" || message.Chat.Type == "supergroup" {
		peerKind = bus.PeerGroup
	}

	name := user.FirstName
	if user.Username != "" {
		name = "@" + user.Username
	}

	replyToSelf := false
	if r := message.ReplyToMessage; r != nil && r.From != nil && botUsername != "" {
		replyToSelf = strings.EqualFold(r.From.Username, botUsername)
	}

	metadata := map[string]string{
		"username":   user.Username,
		"first_name": user.FirstName,
	}
	if user.IsBot {
		metadata["is_bot"] = "true"
	}

	return bus.InboundMessage{
		ChatID:       strconv.FormatInt(message.Chat.ID, 10),
		MessageID:    strconv.Itoa(message.MessageID),
		SenderID:     strconv.FormatInt(user.ID, 10),
		SenderName:   name,
		Content:      content,
		PeerKind:     peerKind,
		ReplyToSelf:  replyToSelf,
		MentionsSelf: detectMention(message, botUsername),
		ReceivedAt:   time.Now(),
		Metadata:     metadata,
	}, true
}

// detectMention checks if a Telegram message mentions the bot through a
// mention or bot_command entity, in text or caption.
func detectMention(msg *telego.Message, botUsername string) bool {
	if botUsername == "" {
		return false
	}
	lowerBot := "@" + strings.ToLower(botUsername)

	for _, pair := range []struct {
		entities []telego.MessageEntity
		text     string
	}{
		{msg.Entities, msg.Text},
		{msg.CaptionEntities, msg.Caption},
	} {
		if pair.text == "" {
			continue
		}
		for _, entity := range pair.entities {
			switch entity.Type {
			case "mention":
				if strings.EqualFold(entityText(pair.text, entity), lowerBot) {
					return true
				}
			case "bot_command":
				if strings.HasSuffix(strings.ToLower(entityText(pair.text, entity)), lowerBot) {
					return true
				}
			}
		}
	}
	return false
}

// entityText extracts an entity's text. Telegram offsets count UTF-16 code units.
func entityText(text string, e telego.MessageEntity) string {
	units := utf16.Encode([]rune(text))
	if e.Offset < 0 || e.Length < 0 || e.Offset+e.Length > len(units) {
		return ""
	}
	return string(utf16.Decode(units[e.Offset : e.Offset+e.Length]))
}

// isServiceMessage returns true if the Telegram message is a service/system message
// (member added/removed, title changed, pinned, etc.) rather than a user-sent message.
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}

	if msg.Photo != nil || msg.Audio != nil || msg.Video != nil ||
		msg.Document != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Sticker != nil || msg.Animation != nil || msg.Contact != nil ||
		msg.Location != nil || msg.Venue != nil || msg.Poll != nil {
		return false
	}

	return true
}
