package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/replygate/internal/bus"
)

// defaultLaneSize bounds the backlog of one chat.
const defaultLaneSize = 64

// lanes runs one FIFO worker per chat. Messages of a chat are handled in
// arrival order; different chats run in parallel. A worker exits as soon
// as its chat has no backlog.
type lanes struct {
	mu     sync.Mutex
	byChat map[string]*lane
	size   int
	wg     sync.WaitGroup
	handle func(ctx context.Context, msg bus.InboundMessage)
}

type lane struct {
	pending []bus.InboundMessage
}

func newLanes(size int, handle func(context.Context, bus.InboundMessage)) *lanes {
	if size <= 0 {
		size = defaultLaneSize
	}
	return &lanes{byChat: make(map[string]*lane), size: size, handle: handle}
}

// enqueue appends msg to its chat's lane, starting a worker when idle.
// A full lane drops its oldest message.
func (ls *lanes) enqueue(ctx context.Context, msg bus.InboundMessage) {
	key := msg.Key()

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ln, running := ls.byChat[key]
	if !running {
		ln = &lane{}
		ls.byChat[key] = ln
	}
	if len(ln.pending) >= ls.size {
		dropped := ln.pending[0]
		ln.pending = ln.pending[1:]
		slog.Warn("chat backlog full, dropping oldest message",
			"chat", key, "message_id", dropped.MessageID)
	}
	ln.pending = append(ln.pending, msg)

	if !running {
		ls.wg.Add(1)
		go ls.drain(ctx, key, ln)
	}
}

func (ls *lanes) drain(ctx context.Context, key string, ln *lane) {
	defer ls.wg.Done()
	for {
		ls.mu.Lock()
		if len(ln.pending) == 0 || ctx.Err() != nil {
			delete(ls.byChat, key)
			ls.mu.Unlock()
			return
		}
		msg := ln.pending[0]
		ln.pending = ln.pending[1:]
		ls.mu.Unlock()

		ls.handle(ctx, msg)
	}
}

// active reports the number of chats with a running worker.
func (ls *lanes) active() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.byChat)
}

// wait blocks until every worker has exited.
func (ls *lanes) wait() { ls.wg.Wait() }
