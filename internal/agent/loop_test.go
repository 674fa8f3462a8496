package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nextlevelbuilder/replygate/internal/bus"
	"github.com/nextlevelbuilder/replygate/internal/gating"
	"github.com/nextlevelbuilder/replygate/internal/store"
	"github.com/nextlevelbuilder/replygate/internal/team"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeResponder struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []ReplyRequest
}

func (f *fakeResponder) Respond(_ context.Context, req ReplyRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

func (f *fakeResponder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []bus.OutboundMessage
	ids  []string
	err  error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, msg bus.OutboundMessage) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.ids, f.err
}

func (f *fakeDispatcher) messages() []bus.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bus.OutboundMessage(nil), f.sent...)
}

type fakeRecorder struct {
	mu   sync.Mutex
	recs []store.Record
}

func (f *fakeRecorder) Append(_ context.Context, rec store.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeRecorder) records() []store.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Record(nil), f.recs...)
}

type loopFixture struct {
	loop       *Loop
	engine     *gating.Engine
	responder  *fakeResponder
	dispatcher *fakeDispatcher
	recorder   *fakeRecorder
}

func newLoopFixture(t *testing.T, router bus.MessageRouter) *loopFixture {
	t.Helper()
	engine, err := gating.New(gating.Options{
		Policy: team.NewPolicy(team.Config{}, "helper", "helper_bot"),
		Rand:   func() float64 { return 0 },
		Sleep:  func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	if err != nil {
		t.Fatalf("gating.New: %v", err)
	}
	t.Cleanup(engine.Close)

	if router == nil {
		router = bus.New()
	}
	f := &loopFixture{
		engine:     engine,
		responder:  &fakeResponder{reply: "hi there"},
		dispatcher: &fakeDispatcher{ids: []string{"900"}},
		recorder:   &fakeRecorder{},
	}
	f.loop, err = NewLoop(LoopConfig{
		AgentName:  "Helper",
		Engine:     engine,
		Router:     router,
		Responder:  f.responder,
		Dispatcher: f.dispatcher,
		Recorder:   f.recorder,
		Now:        func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return f
}

func TestNewLoop_RequiresDependencies(t *testing.T) {
	if _, err := NewLoop(LoopConfig{}); err == nil {
		t.Error("NewLoop with empty config succeeded")
	}
}

func TestNewLoop_DefaultsAgentIDFromPolicy(t *testing.T) {
	f := newLoopFixture(t, nil)
	if f.loop.agentID != "helper" {
		t.Errorf("agent id = %q, want helper", f.loop.agentID)
	}
}

func TestHandle_PrivateMessageIsAnswered(t *testing.T) {
	f := newLoopFixture(t, nil)
	msg := bus.InboundMessage{
		Channel:    "telegram",
		ChatID:     "42",
		MessageID:  "7",
		SenderID:   "u1",
		SenderName: "alice",
		Content:    "hello",
		PeerKind:   bus.PeerDirect,
		ReceivedAt: time.Date(2024, 3, 1, 11, 59, 0, 0, time.UTC),
	}

	f.loop.handle(context.Background(), msg)

	sent := f.dispatcher.messages()
	if len(sent) != 1 {
		t.Fatalf("dispatched %d messages, want 1", len(sent))
	}
	if sent[0].ChatID != "42" || sent[0].Channel != "telegram" || sent[0].Content != "hi there" {
		t.Errorf("outbound = %+v", sent[0])
	}
	if sent[0].ReplyToID != "" {
		t.Errorf("private reply quoted message %q", sent[0].ReplyToID)
	}

	st, ok := f.engine.Store().Get("telegram:42")
	if !ok {
		t.Fatal("no chat state after reply")
	}
	if own, ok := st.LastOwn(); !ok || own.Text != "hi there" {
		t.Errorf("reply not recorded in chat state: %+v", st.Messages)
	}
	if f.loop.Replies() != 1 {
		t.Errorf("Replies() = %d, want 1", f.loop.Replies())
	}

	recs := f.recorder.records()
	if len(recs) != 2 {
		t.Fatalf("recorded %d messages, want 2", len(recs))
	}
	if recs[0].Own || recs[0].MessageID != "7" || recs[0].ChatID != "telegram:42" {
		t.Errorf("inbound record = %+v", recs[0])
	}
	if !recs[1].Own || recs[1].MessageID != "900" || recs[1].UserID != "helper" {
		t.Errorf("own record = %+v", recs[1])
	}
}

func TestHandle_GroupReplyQuotesMessage(t *testing.T) {
	f := newLoopFixture(t, nil)
	f.loop.handle(context.Background(), bus.InboundMessage{
		Channel:      "discord",
		ChatID:       "c1",
		MessageID:    "m1",
		SenderID:     "u1",
		Content:      "@helper_bot what time is it",
		PeerKind:     bus.PeerGroup,
		MentionsSelf: true,
	})

	sent := f.dispatcher.messages()
	if len(sent) != 1 || sent[0].ReplyToID != "m1" {
		t.Fatalf("outbound = %+v, want one reply to m1", sent)
	}
}

func TestHandle_NotAnswered(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		msg   bus.InboundMessage
	}{
		{
			name:  "uninterested group",
			reply: "hi",
			msg:   bus.InboundMessage{Channel: "discord", ChatID: "c1", MessageID: "1", SenderID: "u1", Content: "anyone around", PeerKind: bus.PeerGroup},
		},
		{
			name:  "silent reply",
			reply: "NO_REPLY",
			msg:   bus.InboundMessage{Channel: "telegram", ChatID: "1", MessageID: "1", SenderID: "u1", Content: "ok", PeerKind: bus.PeerDirect},
		},
		{
			name:  "empty after sanitizing",
			reply: "<think>nothing to add</think>",
			msg:   bus.InboundMessage{Channel: "telegram", ChatID: "1", MessageID: "1", SenderID: "u1", Content: "ok", PeerKind: bus.PeerDirect},
		},
		{
			name: "responder error",
			err:  errors.New("provider down"),
			msg:  bus.InboundMessage{Channel: "telegram", ChatID: "1", MessageID: "1", SenderID: "u1", Content: "ok", PeerKind: bus.PeerDirect},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLoopFixture(t, nil)
			f.responder.reply = tt.reply
			f.responder.err = tt.err

			f.loop.handle(context.Background(), tt.msg)

			if n := len(f.dispatcher.messages()); n != 0 {
				t.Errorf("dispatched %d messages, want 0", n)
			}
			if f.loop.Replies() != 0 {
				t.Errorf("Replies() = %d, want 0", f.loop.Replies())
			}
			if st, ok := f.engine.Store().Get(tt.msg.Key()); ok {
				if own, found := st.LastOwn(); found {
					t.Errorf("own message recorded: %+v", own)
				}
			}
		})
	}
}

func TestHandle_DispatchFailure(t *testing.T) {
	t.Run("nothing sent", func(t *testing.T) {
		f := newLoopFixture(t, nil)
		f.dispatcher.ids = nil
		f.dispatcher.err = errors.New("network")

		f.loop.handle(context.Background(), bus.InboundMessage{Channel: "telegram", ChatID: "1", MessageID: "1", SenderID: "u1", Content: "hey", PeerKind: bus.PeerDirect})

		if st, ok := f.engine.Store().Get("telegram:1"); ok {
			if _, found := st.LastOwn(); found {
				t.Error("failed delivery recorded as reply")
			}
		}
	})

	t.Run("partial delivery", func(t *testing.T) {
		f := newLoopFixture(t, nil)
		f.dispatcher.ids = []string{"10"}
		f.dispatcher.err = errors.New("second chunk failed")

		f.loop.handle(context.Background(), bus.InboundMessage{Channel: "telegram", ChatID: "1", MessageID: "1", SenderID: "u1", Content: "hey", PeerKind: bus.PeerDirect})

		st, ok := f.engine.Store().Get("telegram:1")
		if !ok {
			t.Fatal("no chat state")
		}
		if _, found := st.LastOwn(); !found {
			t.Error("partially delivered reply not recorded")
		}
	})
}

func TestHandle_HistoryPassedToResponder(t *testing.T) {
	f := newLoopFixture(t, nil)
	first := bus.InboundMessage{Channel: "telegram", ChatID: "1", MessageID: "1", SenderID: "u1", Content: "first", PeerKind: bus.PeerDirect}
	second := first
	second.MessageID, second.Content = "2", "second"

	f.loop.handle(context.Background(), first)
	f.loop.handle(context.Background(), second)

	if f.responder.calls() != 2 {
		t.Fatalf("responder calls = %d, want 2", f.responder.calls())
	}
	req := f.responder.reqs[1]
	if req.Message.Text != "second" || req.AgentName != "Helper" {
		t.Errorf("request = %+v", req)
	}
	var texts []string
	for _, m := range req.History {
		texts = append(texts, m.Text)
	}
	if len(texts) < 2 || texts[0] != "first" || texts[1] != "hi there" {
		t.Errorf("history = %q, want first exchange", texts)
	}
}

func TestRun_ProcessesUntilClosed(t *testing.T) {
	mb := bus.New()
	f := newLoopFixture(t, mb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()

	mb.PublishInbound(bus.InboundMessage{Channel: "telegram", ChatID: "1", MessageID: "1", SenderID: "u1", Content: "hi", PeerKind: bus.PeerDirect})
	mb.PublishInbound(bus.InboundMessage{Channel: "telegram", ChatID: "2", MessageID: "1", SenderID: "u2", Content: "hi", PeerKind: bus.PeerDirect})
	mb.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after bus close")
	}
	if n := len(f.dispatcher.messages()); n != 2 {
		t.Errorf("dispatched %d replies, want 2", n)
	}
	if f.loop.ActiveChats() != 0 {
		t.Errorf("ActiveChats() = %d after Run returned", f.loop.ActiveChats())
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newLoopFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.loop.Run(ctx) }()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
