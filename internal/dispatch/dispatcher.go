package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/replygate/internal/bus"
)

// Sender delivers one message to a transport. channels.Manager satisfies it.
type Sender interface {
	Send(ctx context.Context, msg bus.OutboundMessage) (messageID string, err error)
	MaxMessageLength(channel string) int
	// MessageLength returns how channel counts MaxMessageLength.
	MessageLength(channel string) func(string) int
}

// Dispatcher sends replies chunk by chunk.
type Dispatcher struct {
	sender  Sender
	limiter *rate.Limiter
}

// NewDispatcher paces sends to one per interval, allowing burst at once.
// A zero interval disables pacing.
func NewDispatcher(sender Sender, interval time.Duration, burst int) *Dispatcher {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Dispatcher{sender: sender, limiter: rate.NewLimiter(limit, burst)}
}

// Dispatch splits msg.Content to the transport's limit and sends the chunks
// in order. Only the first chunk carries msg.ReplyToID; whitespace-only
// chunks are skipped. Returns the ids of the chunks sent before any failure.
func (d *Dispatcher) Dispatch(ctx context.Context, msg bus.OutboundMessage) ([]string, error) {
	chunks := SplitMessageFunc(msg.Content, d.sender.MaxMessageLength(msg.Channel), d.sender.MessageLength(msg.Channel))
	ids := make([]string, 0, len(chunks))
	replyTo := msg.ReplyToID

	for i, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return ids, fmt.Errorf("wait for send slot: %w", err)
		}
		out := msg
		out.Content = chunk
		out.ReplyToID = replyTo
		replyTo = ""

		id, err := d.sender.Send(ctx, out)
		if err != nil {
			return ids, fmt.Errorf("send chunk %d/%d to %s: %w", i+1, len(chunks), msg.ChatID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
