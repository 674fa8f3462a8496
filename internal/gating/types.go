package gating

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nextlevelbuilder/replygate/internal/interest"
)

// ErrClosed is returned by Decide once the engine has been closed.
var ErrClosed = errors.New("gating engine closed")

// Action is the outcome of a gating decision.
type Action int

const (
	Ignore Action = iota
	Respond
	Stop // leave the conversation until mentioned again
)

func (a Action) String() string {
	switch a {
	case Respond:
		return "RESPOND"
	case Stop:
		return "STOP"
	default:
		return "IGNORE"
	}
}

// ParseAction maps "RESPOND", "IGNORE" and "STOP" (any case) to an Action.
func ParseAction(s string) (Action, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RESPOND":
		return Respond, true
	case "IGNORE":
		return Ignore, true
	case "STOP":
		return Stop, true
	}
	return Ignore, false
}

// Rule names attached to decisions.
const (
	RuleSelf              = "self"
	RuleMentionsOnly      = "mentions_only"
	RuleNoText            = "no_text"
	RuleMention           = "mention"
	RulePrivate           = "private"
	RuleTeammate          = "teammate_message"
	RuleTeammateMentioned = "teammate_mentioned"
	RuleCoordination      = "coordination"
	RuleRelevant          = "relevant"
	RuleAfterLeader       = "after_leader"
	RuleTeammateResponded = "teammate_responded"
	RuleOtherHandler      = "other_handler"
	RuleNoInterest        = "no_interest"
	RuleDampened          = "dampened"
	RuleNoContext         = "no_context"
	RuleLowContext        = "low_context"
	RuleClassifier        = "classifier"
	RuleClassifierError   = "classifier_error"
	RuleNoClassifier      = "no_classifier"
	RuleCancelled         = "cancelled"
)

// Decision is the result of evaluating one message.
type Decision struct {
	Action Action
	Rule   string        // rule that resolved the decision
	Delay  time.Duration // time slept before committing
}

// Message is the transport-neutral shape of an inbound chat message.
// Transports normalize text and captions into Text; an empty Text means
// the message carried no text at all.
type Message struct {
	ChatID       string
	MessageID    string
	UserID       string
	DisplayName  string
	Text         string
	IsPrivate    bool
	ReplyToSelf  bool // the message replies to one of this agent's messages
	MentionsSelf bool // the transport resolved a structured mention of this agent
	At           time.Time
}

// ClassifyRequest is the context handed to the should-respond classifier.
type ClassifyRequest struct {
	AgentID   string
	AgentName string
	Message   Message
	Recent    []interest.TrackedMessage
}

// Classifier decides ambiguous cases, usually with a language model.
type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (Action, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, req ClassifyRequest) (Action, error)

func (f ClassifierFunc) Classify(ctx context.Context, req ClassifyRequest) (Action, error) {
	return f(ctx, req)
}

// MemoryReader gives access to the agent's own messages persisted across
// restarts. Used only when in-process state has no own message to compare.
type MemoryReader interface {
	RecentOwnMessages(ctx context.Context, chatID string, limit int) ([]interest.TrackedMessage, error)
}
