// Package team holds the coordination rules agents of one team share when
// they sit in the same chat.
//
// Every predicate is pure: the policy reads its Config and the message text
// and never touches chat state.
package team

import (
	"strings"
	"time"

	"github.com/nextlevelbuilder/replygate/internal/interest"
	"github.com/nextlevelbuilder/replygate/internal/relevance"
)

// Config is the per-agent team configuration. Read-only once loaded.
type Config struct {
	IsPartOfTeam         bool              `json:"is_part_of_team"`
	LeaderID             string            `json:"team_leader_id,omitempty"`
	AgentIDs             []string          `json:"team_agent_ids,omitempty"`
	InterestKeywords     []string          `json:"team_member_interest_keywords,omitempty"`
	CoordinationKeywords []string          `json:"coordination_keywords,omitempty"`
	MemberUsernames      map[string]string `json:"member_usernames,omitempty"` // agent ID → chat username
	MentionsOnly         bool              `json:"should_respond_only_to_mentions,omitempty"`
	SimilarityThreshold  float64           `json:"similarity_threshold,omitempty"`
	FollowUpThreshold    float64           `json:"similarity_threshold_follow_ups,omitempty"`
}

// DefaultCoordinationKeywords are used when a team config lists none.
var DefaultCoordinationKeywords = []string{
	"everyone please explain",
	"everyone explain",
	"team update",
	"all agents",
	"team, please",
	"update from everyone",
}

// Policy evaluates team rules for one agent.
type Policy struct {
	cfg         Config
	selfID      string
	botUsername string
	coordKeys   []string
	interest    []string
	members     map[string]bool
}

// NewPolicy builds the policy for the agent selfID, known in chat as botUsername.
func NewPolicy(cfg Config, selfID, botUsername string) *Policy {
	coord := cfg.CoordinationKeywords
	if len(coord) == 0 {
		coord = DefaultCoordinationKeywords
	}
	members := make(map[string]bool, len(cfg.AgentIDs))
	for _, id := range cfg.AgentIDs {
		members[id] = true
	}
	return &Policy{
		cfg:         cfg,
		selfID:      selfID,
		botUsername: strings.TrimPrefix(botUsername, "@"),
		coordKeys:   lowerAll(coord),
		interest:    lowerAll(cfg.InterestKeywords),
		members:     members,
	}
}

// Config returns the policy's team configuration.
func (p *Policy) Config() Config { return p.cfg }

// SelfID returns the agent this policy evaluates for.
func (p *Policy) SelfID() string { return p.selfID }

// BotUsername returns the agent's chat username without the leading "@".
func (p *Policy) BotUsername() string { return p.botUsername }

// InTeam reports whether the agent runs with team coordination.
func (p *Policy) InTeam() bool { return p.cfg.IsPartOfTeam }

// MentionsOnly reports whether the agent only answers direct mentions.
func (p *Policy) MentionsOnly() bool { return p.cfg.MentionsOnly }

// IsDirectMention reports whether text (or the reply it belongs to) addresses
// this agent: a reply to one of its messages, an "@username" mention, or,
// unless mentions-only mode is on, the bare username anywhere in the text.
func (p *Policy) IsDirectMention(text string, replyToSelf bool) bool {
	if replyToSelf {
		return true
	}
	if p.botUsername == "" || text == "" {
		return false
	}
	lower := strings.ToLower(text)
	user := strings.ToLower(p.botUsername)
	if strings.Contains(lower, "@"+user) {
		return true
	}
	return !p.cfg.MentionsOnly && strings.Contains(lower, user)
}

// IsCoordinationRequest reports whether text contains a coordination keyword.
func (p *Policy) IsCoordinationRequest(text string) bool {
	return containsAny(strings.ToLower(text), p.coordKeys)
}

// IsRelevantToTeamMember reports whether text falls in this agent's area.
// lastOwn is the agent's newest message in the chat, if any, and elapsed
// its age.
//
// The leader has no keyword area of its own: when it spoke recently in the
// chat, a follow-up is relevant if it scores above the follow-up threshold
// against that last utterance. Everyone else matches interest keywords.
func (p *Policy) IsRelevantToTeamMember(text string, lastOwn *interest.TrackedMessage, elapsed time.Duration) bool {
	if !p.cfg.IsPartOfTeam {
		return false
	}
	if p.IsTeamLeader(p.selfID) && lastOwn != nil {
		score := relevance.ContextSimilarity(text, lastOwn.Text, "", elapsed)
		return score >= p.followUpThreshold()
	}
	return containsAny(strings.ToLower(text), p.interest)
}

// IsTeamLeader reports whether id is the configured team leader.
func (p *Policy) IsTeamLeader(id string) bool {
	return p.cfg.LeaderID != "" && id == p.cfg.LeaderID
}

// IsTeamMember reports whether id is one of the team's agents.
func (p *Policy) IsTeamMember(id string) bool {
	return p.members[id]
}

// MentionedTeammate returns the first other team member whose @username
// appears in text.
func (p *Policy) MentionedTeammate(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, id := range p.cfg.AgentIDs {
		if id == p.selfID {
			continue
		}
		name := strings.TrimPrefix(p.cfg.MemberUsernames[id], "@")
		if name != "" && strings.Contains(lower, "@"+strings.ToLower(name)) {
			return id, true
		}
	}
	return "", false
}

// SimilarityThreshold returns the configured context threshold, or 0 when unset.
func (p *Policy) SimilarityThreshold() float64 { return p.cfg.SimilarityThreshold }

func (p *Policy) followUpThreshold() float64 {
	if p.cfg.FollowUpThreshold > 0 {
		return p.cfg.FollowUpThreshold
	}
	return DefaultFollowUpThreshold
}

// DefaultFollowUpThreshold applies when the config leaves it unset.
const DefaultFollowUpThreshold = 0.4

func containsAny(lower string, keys []string) bool {
	for _, k := range keys {
		if k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
