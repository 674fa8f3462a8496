package telegram

import (
	"testing"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/replygate/internal/bus"
)

func TestDetectMention(t *testing.T) {
	tests := []struct {
		name string
		msg  telego.Message
		want bool
	}{
		{
			name: "mention entity",
			msg: telego.Message{
				Text:     "hey @Helper_Bot what's up",
				Entities: []telego.MessageEntity{{Type: "mention", Offset: 4, Length: 11}},
			},
			want: true,
		},
		{
			name: "other mention",
			msg: telego.Message{
				Text:     "hey @someone",
				Entities: []telego.MessageEntity{{Type: "mention", Offset: 4, Length: 8}},
			},
		},
		{
			name: "bot command addressed to bot",
			msg: telego.Message{
				Text:     "/status@helper_bot",
				Entities: []telego.MessageEntity{{Type: "bot_command", Offset: 0, Length: 18}},
			},
			want: true,
		},
		{
			name: "caption mention",
			msg: telego.Message{
				Caption:         "look @helper_bot",
				CaptionEntities: []telego.MessageEntity{{Type: "mention", Offset: 5, Length: 11}},
			},
			want: true,
		},
		{
			name: "offsets count utf16 units",
			msg: telego.Message{
				Text:     "😀 @helper_bot",
				Entities: []telego.MessageEntity{{Type: "mention", Offset: 3, Length: 11}},
			},
			want: true,
		},
		{
			name: "entity out of range",
			msg: telego.Message{
				Text:     "@helper_bot",
				Entities: []telego.MessageEntity{{Type: "mention", Offset: 5, Length: 40}},
			},
		},
		{
			name: "plain text without entity",
			msg:  telego.Message{Text: "@helper_bot hi"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectMention(&tt.msg, "helper_bot"); got != tt.want {
				t.Errorf("detectMention() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeMessage(t *testing.T) {
	msg := &telego.Message{
		MessageID: 42,
		From:      &telego.User{ID: 7, Username: "alice", FirstName: "Alice"},
		Chat:      telego.Chat{ID: -100123, Type: "supergroup"},
		Text:      "what about the cache",
		Caption:   "and this",
		ReplyToMessage: &telego.Message{
			From: &telego.User{ID: 99, Username: "Helper_Bot", IsBot: true},
		},
	}

	got, ok := normalizeMessage(msg, "helper_bot")
	if !ok {
		t.Fatal("normalizeMessage() rejected a user message")
	}
	if got.ChatID != "-100123" || got.MessageID != "42" || got.SenderID != "7" {
		t.Errorf("ids = %q/%q/%q", got.ChatID, got.MessageID, got.SenderID)
	}
	if got.PeerKind != bus.PeerGroup {
		t.Errorf("PeerKind = %q, want group", got.PeerKind)
	}
	if got.Content != "what about the cache\nand this" {
		t.Errorf("Content = %q", got.Content)
	}
	if got.SenderName != "@alice" {
		t.Errorf("SenderName = %q", got.SenderName)
	}
	if !got.ReplyToSelf {
		t.Error("ReplyToSelf = false, want true")
	}
	if got.MentionsSelf {
		t.Error("MentionsSelf = true without a mention entity")
	}

	if _, ok := normalizeMessage(&telego.Message{Chat: telego.Chat{ID: 1}}, "helper_bot"); ok {
		t.Error("normalizeMessage() accepted a message without sender")
	}

	private, _ := normalizeMessage(&telego.Message{
		From: &telego.User{ID: 7, FirstName: "Alice"},
		Chat: telego.Chat{ID: 7, Type: "private"},
		Text: "hi",
	}, "helper_bot")
	if private.PeerKind != bus.PeerDirect || private.SenderName != "Alice" {
		t.Errorf("private = %+v", private)
	}
}

func TestIsServiceMessage(t *testing.T) {
	if !isServiceMessage(&telego.Message{}) {
		t.Error("empty message should be a service message")
	}
	if isServiceMessage(&telego.Message{Text: "hi"}) {
		t.Error("text message is not a service message")
	}
	if isServiceMessage(&telego.Message{Sticker: &telego.Sticker{}}) {
		t.Error("sticker is not a service message")
	}
}

func TestMeasureText(t *testing.T) {
	c := &Channel{}
	tests := []struct {
		text string
		want int
	}{
		{"hello", 5},
		{"привет", 6},
		{"ok 🙂", 5},
	}
	for _, tt := range tests {
		if got := c.MeasureText(tt.text); got != tt.want {
			t.Errorf("MeasureText(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}
