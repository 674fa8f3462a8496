package gating

import (
	"time"

	"github.com/nextlevelbuilder/replygate/internal/interest"
)

// Tuning holds the numeric knobs of the decision rules.
type Tuning struct {
	MaxMessages                int           // rolling window per chat
	RecentMessageCount         int           // window checked for leader/teammate replies
	ChatHistoryCount           int           // window checked for dampening and classifier context
	DefaultSimilarityThreshold float64       // context re-engagement threshold
	DecayAfter                 time.Duration // idle time before interest is dropped
	LeaderResponseWindow       time.Duration
	TeamMemberDelay            time.Duration
	LeaderDelayMin             time.Duration
	LeaderDelayMax             time.Duration
	MemberDelayMin             time.Duration
	MemberDelayMax             time.Duration
	AfterLeaderChance          float64 // survival probability after the leader replied
	ClassifierTimeout          time.Duration
}

// DefaultTuning returns the stock values.
func DefaultTuning() Tuning {
	return Tuning{
		MaxMessages:                interest.DefaultMaxMessages,
		RecentMessageCount:         5,
		ChatHistoryCount:           10,
		DefaultSimilarityThreshold: 0.6,
		DecayAfter:                 interest.DefaultDecayAfter,
		LeaderResponseWindow:       3 * time.Second,
		TeamMemberDelay:            1500 * time.Millisecond,
		LeaderDelayMin:             2 * time.Second,
		LeaderDelayMax:             4 * time.Second,
		MemberDelayMin:             1 * time.Second,
		MemberDelayMax:             3 * time.Second,
		AfterLeaderChance:          0.5,
		ClassifierTimeout:          15 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultTuning.
// A zero AfterLeaderChance therefore means "default", not "never".
func (t Tuning) withDefaults() Tuning {
	d := DefaultTuning()
	if t.MaxMessages <= 0 {
		t.MaxMessages = d.MaxMessages
	}
	if t.RecentMessageCount <= 0 {
		t.RecentMessageCount = d.RecentMessageCount
	}
	if t.ChatHistoryCount <= 0 {
		t.ChatHistoryCount = d.ChatHistoryCount
	}
	if t.DefaultSimilarityThreshold <= 0 {
		t.DefaultSimilarityThreshold = d.DefaultSimilarityThreshold
	}
	if t.DecayAfter <= 0 {
		t.DecayAfter = d.DecayAfter
	}
	if t.LeaderResponseWindow <= 0 {
		t.LeaderResponseWindow = d.LeaderResponseWindow
	}
	if t.TeamMemberDelay <= 0 {
		t.TeamMemberDelay = d.TeamMemberDelay
	}
	if t.LeaderDelayMin <= 0 {
		t.LeaderDelayMin = d.LeaderDelayMin
	}
	if t.LeaderDelayMax < t.LeaderDelayMin {
		t.LeaderDelayMax = max(d.LeaderDelayMax, t.LeaderDelayMin)
	}
	if t.MemberDelayMin <= 0 {
		t.MemberDelayMin = d.MemberDelayMin
	}
	if t.MemberDelayMax < t.MemberDelayMin {
		t.MemberDelayMax = max(d.MemberDelayMax, t.MemberDelayMin)
	}
	if t.AfterLeaderChance <= 0 || t.AfterLeaderChance > 1 {
		t.AfterLeaderChance = d.AfterLeaderChance
	}
	if t.ClassifierTimeout <= 0 {
		t.ClassifierTimeout = d.ClassifierTimeout
	}
	return t
}
