package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nextlevelbuilder/replygate/internal/bus"
)

type recordingSender struct {
	maxLength int
	length    func(string) int // nil counts runes
	failAt    int              // 1-based send that fails, 0 for none
	sent      []bus.OutboundMessage
}

func (s *recordingSender) MaxMessageLength(string) int { return s.maxLength }

func (s *recordingSender) MessageLength(string) func(string) int { return s.length }

func (s *recordingSender) Send(_ context.Context, msg bus.OutboundMessage) (string, error) {
	if s.failAt > 0 && len(s.sent)+1 == s.failAt {
		return "", errors.New("rate limited")
	}
	s.sent = append(s.sent, msg)
	return fmt.Sprintf("m%d", len(s.sent)), nil
}

func TestDispatch(t *testing.T) {
	s := &recordingSender{maxLength: 6}
	d := NewDispatcher(s, 0, 1)

	ids, err := d.Dispatch(context.Background(), bus.OutboundMessage{
		Channel:   "telegram",
		ChatID:    "1",
		Content:   "aa\nbb\ncc\n",
		ReplyToID: "99",
	})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(ids) != 2 || ids[0] != "m1" || ids[1] != "m2" {
		t.Errorf("ids = %v", ids)
	}
	if s.sent[0].ReplyToID != "99" || s.sent[1].ReplyToID != "" {
		t.Errorf("reply-to = %q, %q; want only the first chunk to reply", s.sent[0].ReplyToID, s.sent[1].ReplyToID)
	}
	if s.sent[0].Content != "aa\nbb\n" || s.sent[1].Content != "cc\n" {
		t.Errorf("contents = %q, %q", s.sent[0].Content, s.sent[1].Content)
	}
}

func TestDispatch_SkipsBlankChunks(t *testing.T) {
	s := &recordingSender{maxLength: 3}
	d := NewDispatcher(s, 0, 1)

	if _, err := d.Dispatch(context.Background(), bus.OutboundMessage{ChatID: "1", Content: "ab\n   \n\ncd"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	for _, m := range s.sent {
		if m.Content == "   \n" || m.Content == "\n" {
			t.Errorf("blank chunk sent: %q", m.Content)
		}
	}
}

func TestDispatch_StopsOnError(t *testing.T) {
	s := &recordingSender{maxLength: 3, failAt: 2}
	d := NewDispatcher(s, 0, 1)

	ids, err := d.Dispatch(context.Background(), bus.OutboundMessage{ChatID: "1", Content: "aa\nbb\ncc\n"})
	if err == nil {
		t.Fatal("Dispatch succeeded despite send failure")
	}
	if len(ids) != 1 || len(s.sent) != 1 {
		t.Errorf("sent %d chunks (ids %v), want 1 before failure", len(s.sent), ids)
	}
}

func TestDispatch_Cancelled(t *testing.T) {
	s := &recordingSender{maxLength: 3}
	d := NewDispatcher(s, 0, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Dispatch(ctx, bus.OutboundMessage{ChatID: "1", Content: "aa\nbb\n"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDispatch_TransportLength(t *testing.T) {
	// Four emoji are four runes but eight UTF-16 units.
	content := "🙂🙂🙂🙂"
	tests := []struct {
		name   string
		length func(string) int
		want   int
	}{
		{"runes", nil, 1},
		{"utf-16", UTF16Length, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &recordingSender{maxLength: 4, length: tt.length}
			d := NewDispatcher(s, 0, 1)
			if _, err := d.Dispatch(context.Background(), bus.OutboundMessage{ChatID: "1", Content: content}); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}
			if len(s.sent) != tt.want {
				t.Fatalf("sent %d chunks, want %d: %+v", len(s.sent), tt.want, s.sent)
			}
			for _, m := range s.sent {
				if n := UTF16Length(m.Content); tt.length != nil && n > 4 {
					t.Errorf("chunk %q is %d UTF-16 units, limit 4", m.Content, n)
				}
			}
		})
	}
}
