package gating

import (
	"context"
	"sync"
)

// chatLocks serializes evaluations per chat. Acquisition honours ctx so a
// queued evaluation can be abandoned; entries are dropped once unreferenced.
type chatLocks struct {
	mu    sync.Mutex
	locks map[string]*chatLock
}

type chatLock struct {
	sem  chan struct{}
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[string]*chatLock)}
}

func (l *chatLocks) acquire(ctx context.Context, chatID string) (func(), error) {
	l.mu.Lock()
	cl, ok := l.locks[chatID]
	if !ok {
		cl = &chatLock{sem: make(chan struct{}, 1)}
		l.locks[chatID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	select {
	case cl.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-cl.sem
				l.release(chatID, cl)
			})
		}, nil
	case <-ctx.Done():
		l.release(chatID, cl)
		return nil, ctx.Err()
	}
}

func (l *chatLocks) release(chatID string, cl *chatLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cl.refs--
	if cl.refs == 0 {
		delete(l.locks, chatID)
	}
}

// size reports the number of chats with a pending or held lock.
func (l *chatLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
