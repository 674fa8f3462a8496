// Package gating decides, for every inbound chat message, whether this agent
// should answer it, stay quiet, or leave the conversation.
//
// Evaluations are serialized per chat and run concurrently across chats.
// Rules are applied in a fixed order and the first one that resolves wins.
package gating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/replygate/internal/interest"
	"github.com/nextlevelbuilder/replygate/internal/relevance"
	"github.com/nextlevelbuilder/replygate/internal/team"
)

const tracerName = "github.com/nextlevelbuilder/replygate/internal/gating"

// ownHistoryLimit bounds the persisted own messages fetched for the
// context check.
const ownHistoryLimit = 5

// Options configures an Engine. Policy is required; everything else has a
// usable zero value.
type Options struct {
	Policy     *team.Policy
	Tuning     Tuning
	Store      *interest.Store // created from Tuning when nil
	Classifier Classifier      // nil: ambiguous messages are ignored
	Memory     MemoryReader    // optional
	AgentName  string

	Now   func() time.Time
	Rand  func() float64 // uniform in [0,1)
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine is the response gate for one agent.
type Engine struct {
	self       string
	agentName  string
	policy     *team.Policy
	tuning     Tuning
	store      *interest.Store
	classifier Classifier
	memory     MemoryReader

	now   func() time.Time
	rand  func() float64
	sleep func(ctx context.Context, d time.Duration) error

	locks  *chatLocks
	tracer trace.Tracer

	base      context.Context // cancelled by Close
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New builds an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Policy == nil {
		return nil, errors.New("gating: policy is required")
	}
	if opts.Policy.SelfID() == "" {
		return nil, errors.New("gating: policy has no agent id")
	}
	t := opts.Tuning.withDefaults()

	e := &Engine{
		self:       opts.Policy.SelfID(),
		agentName:  opts.AgentName,
		policy:     opts.Policy,
		tuning:     t,
		store:      opts.Store,
		classifier: opts.Classifier,
		memory:     opts.Memory,
		now:        opts.Now,
		rand:       opts.Rand,
		sleep:      opts.Sleep,
		locks:      newChatLocks(),
		tracer:     otel.Tracer(tracerName),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.rand == nil {
		e.rand = rand.Float64
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	if e.store == nil {
		e.store = interest.NewStore(interest.Options{
			MaxMessages: t.MaxMessages,
			DecayAfter:  t.DecayAfter,
			Now:         e.now,
		})
	}
	if e.agentName == "" {
		e.agentName = e.self
	}
	e.base, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Store exposes the interest store, e.g. for a sweeper.
func (e *Engine) Store() *interest.Store { return e.store }

// Policy returns the team policy the engine evaluates with.
func (e *Engine) Policy() *team.Policy { return e.policy }

// Close aborts pending delays. Decide returns ErrClosed afterwards.
func (e *Engine) Close() {
	e.closeOnce.Do(e.cancel)
}

// Observe records that a message was seen, before its evaluation is queued.
// Teammate activity is what a delayed evaluation consults to learn whether
// someone else already answered, so transports call Observe as soon as a
// message arrives.
func (e *Engine) Observe(msg Message) {
	if msg.UserID == "" || msg.UserID == e.self || !e.policy.IsTeamMember(msg.UserID) {
		return
	}
	at := msg.At
	if at.IsZero() {
		at = e.now()
	}
	e.store.NoteActivity(msg.ChatID, msg.UserID, at)
	if _, ok := e.store.Get(msg.ChatID); ok {
		e.store.Claim(msg.ChatID, msg.UserID)
	}
}

// RecordReply tracks a message this agent sent to chatID and keeps the
// agent as the chat's handler.
func (e *Engine) RecordReply(chatID, text string) {
	text = strings.TrimSpace(text)
	if chatID == "" || text == "" {
		return
	}
	e.store.Touch(chatID, interest.TrackedMessage{
		UserID:      e.self,
		DisplayName: e.agentName,
		Text:        text,
		Own:         true,
	})
	e.store.Claim(chatID, e.self)
}

// Decide evaluates msg. It blocks while another evaluation for the same chat
// is running and may sleep before answering. On error the decision is
// Ignore; the error reports cancellation, closing or a classifier failure.
func (e *Engine) Decide(ctx context.Context, msg Message) (dec Decision, err error) {
	ctx, span := e.tracer.Start(ctx, "gating.decide", trace.WithAttributes(
		attribute.String("chat.id", msg.ChatID),
		attribute.String("message.id", msg.MessageID),
		attribute.String("agent.id", e.self),
	))
	defer func() {
		span.SetAttributes(
			attribute.String("gating.action", dec.Action.String()),
			attribute.String("gating.rule", dec.Rule),
			attribute.Int64("gating.delay_ms", dec.Delay.Milliseconds()),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if e.base.Err() != nil {
		return Decision{Action: Ignore, Rule: RuleCancelled}, ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.base, cancel)
	defer func() {
		stop()
		cancel()
	}()

	unlock, err := e.locks.acquire(ctx, msg.ChatID)
	if err != nil {
		return Decision{Action: Ignore, Rule: RuleCancelled}, e.interrupted(err)
	}
	defer unlock()

	dec, err = e.evaluate(ctx, msg)
	slog.Debug("gating decision",
		"agent", e.self,
		"chat", msg.ChatID,
		"message", msg.MessageID,
		"action", dec.Action.String(),
		"rule", dec.Rule,
		"delay", dec.Delay,
	)
	return dec, err
}

func (e *Engine) evaluate(ctx context.Context, msg Message) (dec Decision, err error) {
	now := e.now()
	if msg.At.IsZero() {
		msg.At = now
	}
	chatID := msg.ChatID
	text := strings.TrimSpace(msg.Text)
	tracked := interest.TrackedMessage{
		UserID:      msg.UserID,
		DisplayName: msg.DisplayName,
		Text:        text,
		At:          msg.At,
	}

	// Our own messages only feed history.
	if msg.UserID == e.self {
		if text != "" {
			if _, ok := e.store.Get(chatID); ok {
				tracked.Own = true
				e.store.Touch(chatID, tracked)
			}
		}
		return Decision{Action: Ignore, Rule: RuleSelf}, nil
	}

	mentioned := text != "" && (msg.MentionsSelf || e.policy.IsDirectMention(text, msg.ReplyToSelf))

	// 1. Mentions-only mode.
	if e.policy.MentionsOnly() {
		if !mentioned {
			return Decision{Action: Ignore, Rule: RuleMentionsOnly}, nil
		}
		e.store.Touch(chatID, tracked)
		e.store.Claim(chatID, e.self)
		return Decision{Action: Respond, Rule: RuleMention}, nil
	}

	// 2. Nothing to read.
	if text == "" {
		e.store.EvictIfStale(chatID, now)
		return Decision{Action: Ignore, Rule: RuleNoText}, nil
	}

	e.store.EvictIfStale(chatID, now)
	_, hasState := e.store.Get(chatID)

	// The message reaches the store only when the evaluation ends without
	// error; rules below read it through view.
	track := hasState || mentioned || msg.IsPrivate
	hasState = track
	var restored *interest.TrackedMessage
	defer func() {
		if !track || err != nil {
			return
		}
		if restored != nil {
			e.store.Touch(chatID, *restored)
			e.store.Claim(chatID, e.self)
		}
		e.store.Touch(chatID, tracked)
	}()

	// 3. Addressed directly.
	if mentioned || msg.IsPrivate {
		e.store.Claim(chatID, e.self)
		rule := RuleMention
		if !mentioned {
			rule = RulePrivate
		}
		return Decision{Action: Respond, Rule: rule}, nil
	}

	inTeam := e.policy.InTeam()
	leader := inTeam && e.policy.IsTeamLeader(e.self)

	if inTeam {
		// Teammates talk among themselves through mentions; never answer
		// another agent's message on our own initiative.
		if e.policy.IsTeamMember(msg.UserID) {
			return Decision{Action: Ignore, Rule: RuleTeammate}, nil
		}
		// 3a. Someone explicitly asked a teammate.
		if id, ok := e.policy.MentionedTeammate(text); ok {
			track = false
			e.store.Delete(chatID)
			slog.Debug("gating: teammate addressed, relinquishing", "chat", chatID, "teammate", id)
			return Decision{Action: Ignore, Rule: RuleTeammateMentioned}, nil
		}
	}

	coordination := inTeam && e.policy.IsCoordinationRequest(text)

	// 4. Coordination requests: the leader first, members after.
	if coordination {
		if leader {
			track = true
			e.store.Claim(chatID, e.self)
			return Decision{Action: Respond, Rule: RuleCoordination}, nil
		}
		d := e.jitter(e.tuning.MemberDelayMin, e.tuning.MemberDelayMax)
		if err := e.wait(ctx, d); err != nil {
			return Decision{Action: Ignore, Rule: RuleCancelled, Delay: d}, err
		}
		track = true
		e.store.Claim(chatID, e.self)
		return Decision{Action: Respond, Rule: RuleCoordination, Delay: d}, nil
	}

	st, _ := e.view(chatID, tracked, track)
	var lastOwn *interest.TrackedMessage
	var ownAge time.Duration
	if own, ok := st.LastOwn(); ok {
		lastOwn = &own
		ownAge = now.Sub(own.At)
	}
	relevant := inTeam && e.policy.IsRelevantToTeamMember(text, lastOwn, ownAge)

	var delay time.Duration

	// 5. Member with relevant expertise.
	if inTeam && !leader && relevant {
		delay = e.tuning.TeamMemberDelay
		if err := e.wait(ctx, delay); err != nil {
			return Decision{Action: Ignore, Rule: RuleCancelled, Delay: delay}, err
		}
		if e.leaderRespondedSince(chatID, e.now().Add(-e.tuning.LeaderResponseWindow)) {
			if e.rand() >= e.tuning.AfterLeaderChance {
				return Decision{Action: Ignore, Rule: RuleAfterLeader, Delay: delay}, nil
			}
		}
		track = true
		e.store.Claim(chatID, e.self)
		return Decision{Action: Respond, Rule: RuleRelevant, Delay: delay}, nil
	}

	// 6. Leader yields to members for messages outside its area.
	if leader && !relevant {
		delay = e.jitter(e.tuning.LeaderDelayMin, e.tuning.LeaderDelayMax)
		if err := e.wait(ctx, delay); err != nil {
			return Decision{Action: Ignore, Rule: RuleCancelled, Delay: delay}, err
		}
		if e.teammateRespondedSince(chatID, msg.At) {
			return Decision{Action: Ignore, Rule: RuleTeammateResponded, Delay: delay}, nil
		}
		now = e.now()
		st, hasState = e.view(chatID, tracked, track)
	}

	// 7. Another team member holds the conversation.
	if inTeam && st.CurrentHandler != "" && st.CurrentHandler != e.self &&
		e.policy.IsTeamMember(st.CurrentHandler) && e.handlerActive(chatID, st.CurrentHandler, now) {
		return Decision{Action: Ignore, Rule: RuleOtherHandler, Delay: delay}, nil
	}

	// 8. No interest in this chat, unless memory shows we spoke here
	// recently and the state was lost with a restart.
	if !hasState {
		own, ok := e.restoreOwn(ctx, chatID, now)
		if !ok {
			return Decision{Action: Ignore, Rule: RuleNoInterest, Delay: delay}, nil
		}
		slog.Debug("gating: interest restored from memory", "chat", chatID, "own_at", own.At)
		restored = &own
		track = true
		st = interest.ChatState{
			ChatID:         chatID,
			CurrentHandler: e.self,
			LastActivityAt: now,
			Messages:       []interest.TrackedMessage{own, tracked},
		}
	}

	// 9. Dampen runaway self-talk.
	own := 0
	for _, m := range st.Recent(e.tuning.ChatHistoryCount) {
		if m.Own {
			own++
		}
	}
	if own > 2 {
		survival := math.Pow(0.5, float64(own-2))
		if e.rand() >= survival {
			return Decision{Action: Ignore, Rule: RuleDampened, Delay: delay}, nil
		}
	}

	// 10. Re-engagement needs context continuity.
	if st.CurrentHandler != "" {
		if st.CurrentHandler != e.self {
			return Decision{Action: Ignore, Rule: RuleOtherHandler, Delay: delay}, nil
		}
		var score float64
		prior, ok := priorOtherMessage(st.Messages, e.self)
		switch {
		case ok:
			ownLast, hasOwn := st.LastOwn()
			if !hasOwn {
				ownLast, hasOwn = e.persistedOwn(ctx, chatID)
			}
			ref := prior.At
			if hasOwn && !ownLast.At.IsZero() {
				ref = ownLast.At
			}
			score = relevance.ContextSimilarity(text, prior.Text, ownLast.Text, now.Sub(ref))
		case restored != nil:
			// only our own words survived the restart
			score = relevance.ContextSimilarity(text, restored.Text, "", now.Sub(restored.At))
		default:
			return Decision{Action: Ignore, Rule: RuleNoContext, Delay: delay}, nil
		}
		threshold := e.threshold(st)
		if score < threshold {
			slog.Debug("gating: context below threshold",
				"chat", chatID, "score", score, "threshold", threshold)
			return Decision{Action: Ignore, Rule: RuleLowContext, Delay: delay}, nil
		}
	}

	// 11. Ask the classifier.
	if e.classifier == nil {
		return Decision{Action: Ignore, Rule: RuleNoClassifier, Delay: delay}, nil
	}
	cctx, cancel := context.WithTimeout(ctx, e.tuning.ClassifierTimeout)
	defer cancel()
	verdict, err := e.classifier.Classify(cctx, ClassifyRequest{
		AgentID:   e.self,
		AgentName: e.agentName,
		Message:   msg,
		Recent:    st.Recent(e.tuning.ChatHistoryCount),
	})
	if err != nil {
		if e.base.Err() != nil {
			err = ErrClosed
		}
		return Decision{Action: Ignore, Rule: RuleClassifierError, Delay: delay},
			fmt.Errorf("classify message in chat %s: %w", chatID, err)
	}
	switch verdict {
	case Respond:
		e.store.Claim(chatID, e.self)
	case Stop:
		track = false
		e.store.Delete(chatID)
	}
	return Decision{Action: verdict, Rule: RuleClassifier, Delay: delay}, nil
}

// view returns the chat's state as it will look once msg is committed.
func (e *Engine) view(chatID string, msg interest.TrackedMessage, pending bool) (interest.ChatState, bool) {
	st, ok := e.store.Get(chatID)
	if !pending {
		return st, ok
	}
	st.ChatID = chatID
	st.Messages = append(st.Messages, msg)
	if over := len(st.Messages) - e.store.MaxMessages(); over > 0 {
		st.Messages = st.Messages[over:]
	}
	return st, true
}

func (e *Engine) threshold(st interest.ChatState) float64 {
	if st.ThresholdOverride != nil {
		return *st.ThresholdOverride
	}
	if t := e.policy.SimilarityThreshold(); t > 0 {
		return t
	}
	return e.tuning.DefaultSimilarityThreshold
}

func (e *Engine) leaderRespondedSince(chatID string, since time.Time) bool {
	leader := e.policy.Config().LeaderID
	if leader == "" || leader == e.self {
		return false
	}
	return e.spokeSince(chatID, since, func(id string) bool { return id == leader })
}

func (e *Engine) teammateRespondedSince(chatID string, since time.Time) bool {
	return e.spokeSince(chatID, since, func(id string) bool {
		return id != e.self && e.policy.IsTeamMember(id)
	})
}

// spokeSince checks both the tracked window and the sightings recorded by
// Observe, which arrive while an evaluation is sleeping.
func (e *Engine) spokeSince(chatID string, since time.Time, match func(string) bool) bool {
	if st, ok := e.store.Get(chatID); ok {
		for _, m := range st.Recent(e.tuning.RecentMessageCount) {
			if match(m.UserID) && !m.At.Before(since) {
				return true
			}
		}
	}
	for _, id := range e.policy.Config().AgentIDs {
		if !match(id) {
			continue
		}
		if at, ok := e.store.LastSeen(chatID, id); ok && !at.Before(since) {
			return true
		}
	}
	return false
}

func (e *Engine) handlerActive(chatID, handler string, now time.Time) bool {
	at, ok := e.store.LastSeen(chatID, handler)
	if !ok {
		return true
	}
	return now.Sub(at) <= e.tuning.DecayAfter
}

func (e *Engine) persistedOwn(ctx context.Context, chatID string) (interest.TrackedMessage, bool) {
	if e.memory == nil {
		return interest.TrackedMessage{}, false
	}
	msgs, err := e.memory.RecentOwnMessages(ctx, chatID, ownHistoryLimit)
	if err != nil {
		slog.Warn("gating: read own history failed", "chat", chatID, "error", err)
		return interest.TrackedMessage{}, false
	}
	var newest interest.TrackedMessage
	found := false
	for _, m := range msgs {
		if !found || m.At.After(newest.At) {
			newest, found = m, true
		}
	}
	return newest, found
}

// restoreOwn returns the newest persisted own message when it is recent
// enough that the chat would still be of interest had the state survived.
func (e *Engine) restoreOwn(ctx context.Context, chatID string, now time.Time) (interest.TrackedMessage, bool) {
	own, ok := e.persistedOwn(ctx, chatID)
	if !ok || own.At.IsZero() || now.Sub(own.At) > e.store.DecayAfter() {
		return interest.TrackedMessage{}, false
	}
	own.Own = true
	if own.UserID == "" {
		own.UserID = e.self
	}
	return own, true
}

// priorOtherMessage returns the newest message before the last one that was
// not written by self.
func priorOtherMessage(msgs []interest.TrackedMessage, self string) (interest.TrackedMessage, bool) {
	for i := len(msgs) - 2; i >= 0; i-- {
		if !msgs[i].Own && msgs[i].UserID != self {
			return msgs[i], true
		}
	}
	return interest.TrackedMessage{}, false
}

func (e *Engine) jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(e.rand()*float64(hi-lo))
}

func (e *Engine) wait(ctx context.Context, d time.Duration) error {
	if err := e.sleep(ctx, d); err != nil {
		return e.interrupted(err)
	}
	if err := ctx.Err(); err != nil {
		return e.interrupted(err)
	}
	return nil
}

func (e *Engine) interrupted(err error) error {
	if e.base.Err() != nil {
		return ErrClosed
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
