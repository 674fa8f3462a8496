// Package agent runs the per-message pipeline: observe, decide, generate,
// dispatch and record.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/replygate/internal/bus"
	"github.com/nextlevelbuilder/replygate/internal/gating"
	"github.com/nextlevelbuilder/replygate/internal/interest"
	"github.com/nextlevelbuilder/replygate/internal/store"
)

// Dispatcher delivers a reply, returning the ids of the sent chunks.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg bus.OutboundMessage) ([]string, error)
}

// MessageRecorder persists chat messages. store.MessageLog satisfies it.
type MessageRecorder interface {
	Append(ctx context.Context, rec store.Record) error
}

// LoopConfig configures a new Loop.
type LoopConfig struct {
	AgentID      string
	AgentName    string
	Engine       *gating.Engine
	Router       bus.MessageRouter
	Responder    Responder
	Dispatcher   Dispatcher
	Recorder     MessageRecorder // optional
	HistoryLimit int             // tracked messages handed to the responder (default 20)
	LaneSize     int             // per-chat backlog (default 64)
	ReplyTimeout time.Duration   // bound on reply generation (default 60s)
	Now          func() time.Time
}

// Loop consumes inbound messages and answers the ones the engine lets through.
type Loop struct {
	agentID      string
	agentName    string
	engine       *gating.Engine
	router       bus.MessageRouter
	responder    Responder
	dispatcher   Dispatcher
	recorder     MessageRecorder
	historyLimit int
	replyTimeout time.Duration
	now          func() time.Time
	tracer       trace.Tracer

	lanes   *lanes
	replies atomic.Int64 // replies sent, for status output
}

func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Engine == nil || cfg.Router == nil || cfg.Responder == nil || cfg.Dispatcher == nil {
		return nil, errors.New("agent loop: engine, router, responder and dispatcher are required")
	}
	if cfg.AgentID == "" {
		cfg.AgentID = cfg.Engine.Policy().SelfID()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	l := &Loop{
		agentID:      cfg.AgentID,
		agentName:    cfg.AgentName,
		engine:       cfg.Engine,
		router:       cfg.Router,
		responder:    cfg.Responder,
		dispatcher:   cfg.Dispatcher,
		recorder:     cfg.Recorder,
		historyLimit: cfg.HistoryLimit,
		replyTimeout: cfg.ReplyTimeout,
		now:          cfg.Now,
		tracer:       otel.Tracer(tracerName),
	}
	l.lanes = newLanes(cfg.LaneSize, l.handle)
	return l, nil
}

// Replies returns the number of replies sent so far.
func (l *Loop) Replies() int64 { return l.replies.Load() }

// ActiveChats returns the number of chats with a message in flight.
func (l *Loop) ActiveChats() int { return l.lanes.active() }

// Run consumes the router until ctx is cancelled, then waits for in-flight
// chats to finish their current message.
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("agent loop started", "agent", l.agentID)
	defer func() {
		l.lanes.wait()
		slog.Info("agent loop stopped", "agent", l.agentID, "replies", l.replies.Load())
	}()

	for {
		msg, ok := l.router.ConsumeInbound(ctx)
		if !ok {
			return nil
		}
		// Sightings are recorded before queueing so a delayed decision in
		// this chat can see a teammate that answered meanwhile.
		l.engine.Observe(toGatingMessage(msg))
		l.lanes.enqueue(ctx, msg)
	}
}

func (l *Loop) handle(ctx context.Context, msg bus.InboundMessage) {
	gm := toGatingMessage(msg)
	ctx, span := l.startHandleSpan(ctx, msg)
	defer span.End()

	if gm.UserID != l.agentID {
		l.record(ctx, store.Record{
			ChatID:      gm.ChatID,
			MessageID:   gm.MessageID,
			UserID:      gm.UserID,
			DisplayName: gm.DisplayName,
			Text:        gm.Text,
			At:          gm.At,
		})
	}

	dec, err := l.engine.Decide(ctx, gm)
	if err != nil {
		if errors.Is(err, gating.ErrClosed) || errors.Is(err, context.Canceled) {
			slog.Debug("decision abandoned", "chat", gm.ChatID, "error", err)
		} else {
			slog.Warn("gating decision failed", "chat", gm.ChatID, "message_id", gm.MessageID, "error", err)
		}
		endSpan(span, "error", err)
		return
	}
	if dec.Action != gating.Respond {
		endSpan(span, dec.Rule, nil)
		return
	}

	text, err := l.generate(ctx, gm)
	if err != nil {
		slog.Warn("reply generation failed", "chat", gm.ChatID, "error", err)
		endSpan(span, "generate_error", err)
		return
	}
	if text == "" || IsSilentReply(text) {
		slog.Info("reply suppressed by model", "chat", gm.ChatID)
		endSpan(span, "silent", nil)
		return
	}

	out := bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: text}
	if !msg.IsPrivate() {
		out.ReplyToID = msg.MessageID
	}
	ids, err := l.dispatcher.Dispatch(ctx, out)
	if err != nil {
		slog.Warn("reply delivery failed", "chat", gm.ChatID, "sent_chunks", len(ids), "error", err)
		if len(ids) == 0 {
			endSpan(span, "send_error", err)
			return
		}
	}

	// The partial or complete reply is now visible in the chat.
	l.engine.RecordReply(gm.ChatID, text)
	l.replies.Add(1)
	var firstID string
	if len(ids) > 0 {
		firstID = ids[0]
	}
	l.record(ctx, store.Record{
		ChatID:      gm.ChatID,
		MessageID:   firstID,
		UserID:      l.agentID,
		DisplayName: l.agentName,
		Text:        text,
		Own:         true,
		At:          l.now(),
	})

	slog.Info("reply sent", "chat", gm.ChatID, "rule", dec.Rule, "chunks", len(ids))
	endSpan(span, dec.Rule, err)
}

func (l *Loop) generate(ctx context.Context, gm gating.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.replyTimeout)
	defer cancel()

	var history []interest.TrackedMessage
	if st, ok := l.engine.Store().Get(gm.ChatID); ok {
		history = st.Recent(l.historyLimit)
	}

	text, err := l.responder.Respond(ctx, ReplyRequest{
		AgentID:   l.agentID,
		AgentName: l.agentName,
		Message:   gm,
		History:   history,
	})
	if err != nil {
		return "", err
	}
	return SanitizeReply(text, l.agentName), nil
}

func (l *Loop) record(ctx context.Context, rec store.Record) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Append(ctx, rec); err != nil {
		slog.Warn("message log append failed", "chat", rec.ChatID, "error", err)
	}
}

// toGatingMessage converts a bus message; the chat id is made
// transport-scoped since raw ids collide across platforms.
func toGatingMessage(msg bus.InboundMessage) gating.Message {
	return gating.Message{
		ChatID:       msg.Key(),
		MessageID:    msg.MessageID,
		UserID:       msg.SenderID,
		DisplayName:  msg.SenderName,
		Text:         msg.Content,
		IsPrivate:    msg.IsPrivate(),
		ReplyToSelf:  msg.ReplyToSelf,
		MentionsSelf: msg.MentionsSelf,
		At:           msg.ReceivedAt,
	}
}

// String implements fmt.Stringer for status output.
func (l *Loop) String() string {
	return fmt.Sprintf("agent %s: %d replies, %d active chats", l.agentID, l.Replies(), l.ActiveChats())
}
