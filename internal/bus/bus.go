package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultInboundBuffer = 256

// MessageBus is the in-process queue between channels and the agent loop.
type MessageBus struct {
	inbound chan InboundMessage
	dedupe  *DedupeCache

	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a bus with the default buffer and a 20 minute dedupe window.
func New() *MessageBus {
	return NewWithBuffer(defaultInboundBuffer)
}

// NewWithBuffer creates a bus whose inbound queue holds size messages.
func NewWithBuffer(size int) *MessageBus {
	if size <= 0 {
		size = defaultInboundBuffer
	}
	return &MessageBus{
		inbound: make(chan InboundMessage, size),
		dedupe:  NewDedupeCache(20*time.Minute, 5000),
		done:    make(chan struct{}),
	}
}

// PublishInbound enqueues msg. Redeliveries of a message already seen are
// dropped. Blocks while the queue is full.
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	if msg.MessageID != "" && b.dedupe.Seen(msg.Key()+"/"+msg.MessageID) {
		slog.Debug("bus: duplicate inbound dropped", "channel", msg.Channel, "chat", msg.ChatID, "message", msg.MessageID)
		return
	}
	select {
	case b.inbound <- msg:
	case <-b.done:
	}
}

// ConsumeInbound waits for the next message. It reports false once ctx is
// done or the bus is closed and drained.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg, ok := <-b.inbound:
		return msg, ok
	}
}

// Close stops accepting messages. Queued messages can still be consumed.
func (b *MessageBus) Close() {
	b.closeOnce.Do(func() {
		close(b.done) // release publishers blocked on a full queue
		b.mu.Lock()
		b.closed = true
		close(b.inbound)
		b.mu.Unlock()
	})
}
