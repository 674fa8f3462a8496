package discord

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/replygate/internal/bus"
)

func TestNormalizeMessage(t *testing.T) {
	self := &discordgo.User{ID: "100", Username: "helper_bot", Bot: true}
	alice := &discordgo.User{ID: "1", Username: "alice", GlobalName: "Alice"}
	teammate := &discordgo.User{ID: "200", Username: "lead_bot", Bot: true}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name      string
		msg       *discordgo.Message
		allowBots bool
		wantOK    bool
		check     func(t *testing.T, got bus.InboundMessage)
	}{
		{
			name:   "own message dropped",
			msg:    &discordgo.Message{ID: "m1", ChannelID: "c1", GuildID: "g1", Author: self, Content: "hi"},
			wantOK: false,
		},
		{
			name:   "other bot dropped by default",
			msg:    &discordgo.Message{ID: "m1", ChannelID: "c1", GuildID: "g1", Author: teammate, Content: "hi"},
			wantOK: false,
		},
		{
			name:      "other bot kept when allowed",
			msg:       &discordgo.Message{ID: "m1", ChannelID: "c1", GuildID: "g1", Author: teammate, Content: "hi"},
			allowBots: true,
			wantOK:    true,
			check: func(t *testing.T, got bus.InboundMessage) {
				if got.Metadata["is_bot"] != "true" {
					t.Errorf("is_bot metadata = %q", got.Metadata["is_bot"])
				}
			},
		},
		{
			name: "guild mention",
			msg: &discordgo.Message{
				ID: "m2", ChannelID: "c1", GuildID: "g1", Author: alice,
				Content:   "<@100> what now",
				Mentions:  []*discordgo.User{self},
				Timestamp: at,
			},
			wantOK: true,
			check: func(t *testing.T, got bus.InboundMessage) {
				if !got.MentionsSelf {
					t.Error("MentionsSelf = false")
				}
				if got.Content != "@helper_bot what now" {
					t.Errorf("Content = %q", got.Content)
				}
				if got.PeerKind != bus.PeerGroup {
					t.Errorf("PeerKind = %q", got.PeerKind)
				}
				if got.SenderName != "Alice" {
					t.Errorf("SenderName = %q", got.SenderName)
				}
				if !got.ReceivedAt.Equal(at) {
					t.Errorf("ReceivedAt = %v", got.ReceivedAt)
				}
			},
		},
		{
			name: "direct reply to bot",
			msg: &discordgo.Message{
				ID: "m3", ChannelID: "dm1", Author: alice, Content: "thanks",
				ReferencedMessage: &discordgo.Message{Author: self},
			},
			wantOK: true,
			check: func(t *testing.T, got bus.InboundMessage) {
				if got.PeerKind != bus.PeerDirect {
					t.Errorf("PeerKind = %q", got.PeerKind)
				}
				if !got.ReplyToSelf {
					t.Error("ReplyToSelf = false")
				}
				if got.MentionsSelf {
					t.Error("MentionsSelf = true")
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalizeMessage(tt.msg, self.ID, tt.allowBots)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

func TestResolveDisplayName(t *testing.T) {
	if got := resolveDisplayName(&discordgo.User{Username: "bob"}); got != "bob" {
		t.Errorf("resolveDisplayName() = %q, want bob", got)
	}
	if got := resolveDisplayName(&discordgo.User{Username: "bob", GlobalName: "Bobby"}); got != "Bobby" {
		t.Errorf("resolveDisplayName() = %q, want Bobby", got)
	}
}
