// Package interest tracks an agent's decaying participation in chats.
//
// A chat has state only while the agent is interested in it: the state is
// created on the first qualifying message, updated on every tracked message,
// and removed entirely once it has been idle longer than the decay window.
package interest

import (
	"sync"
	"time"
)

const (
	DefaultMaxMessages = 50
	DefaultDecayAfter  = 5 * time.Minute
)

// TrackedMessage is one entry of a chat's rolling window.
type TrackedMessage struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Text        string    `json:"text"`
	Own         bool      `json:"own,omitempty"` // authored by this agent
	At          time.Time `json:"at"`
}

// ChatState is the interest state of one conversation.
type ChatState struct {
	ChatID            string           `json:"chat_id"`
	CurrentHandler    string           `json:"current_handler,omitempty"`
	LastActivityAt    time.Time        `json:"last_activity_at"`
	Messages          []TrackedMessage `json:"messages"`
	ThresholdOverride *float64         `json:"threshold_override,omitempty"`
}

// Recent returns up to n of the newest messages, oldest first.
func (s ChatState) Recent(n int) []TrackedMessage {
	if n <= 0 || len(s.Messages) == 0 {
		return nil
	}
	if n > len(s.Messages) {
		n = len(s.Messages)
	}
	return s.Messages[len(s.Messages)-n:]
}

// LastOwn returns the newest message authored by this agent.
func (s ChatState) LastOwn() (TrackedMessage, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Own {
			return s.Messages[i], true
		}
	}
	return TrackedMessage{}, false
}

func (s ChatState) clone() ChatState {
	c := s
	c.Messages = make([]TrackedMessage, len(s.Messages))
	copy(c.Messages, s.Messages)
	if s.ThresholdOverride != nil {
		v := *s.ThresholdOverride
		c.ThresholdOverride = &v
	}
	return c
}

// Options configures a Store. Zero values fall back to defaults.
type Options struct {
	MaxMessages int
	DecayAfter  time.Duration
	// Overrides seeds ThresholdOverride when a chat's state is created.
	Overrides map[string]float64
	Now       func() time.Time
}

// Store holds interest state for every chat of one agent process.
// Safe for concurrent use; cross-chat operations do not interact.
type Store struct {
	mu        sync.Mutex
	chats     map[string]*ChatState
	sightings map[string]map[string]time.Time // chatID → userID → last seen

	maxMessages int
	decayAfter  time.Duration
	overrides   map[string]float64
	now         func() time.Time
}

// NewStore creates an empty interest store.
func NewStore(opts Options) *Store {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if opts.DecayAfter <= 0 {
		opts.DecayAfter = DefaultDecayAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		chats:       make(map[string]*ChatState),
		sightings:   make(map[string]map[string]time.Time),
		maxMessages: opts.MaxMessages,
		decayAfter:  opts.DecayAfter,
		overrides:   opts.Overrides,
		now:         opts.Now,
	}
}

// MaxMessages returns the rolling window size.
func (s *Store) MaxMessages() int { return s.maxMessages }

// DecayAfter returns the idle duration after which a chat's state is dropped.
func (s *Store) DecayAfter() time.Duration { return s.decayAfter }

// Get returns a copy of the chat's state. Decayed state is removed and
// reported as absent.
func (s *Store) Get(chatID string) (ChatState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.live(chatID, s.now())
	if !ok {
		return ChatState{}, false
	}
	return st.clone(), true
}

// Touch appends msg to the chat's window, creating the state if absent.
// The oldest messages are evicted beyond MaxMessages.
func (s *Store) Touch(chatID string, msg TrackedMessage) ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if msg.At.IsZero() {
		msg.At = now
	}
	st := s.getOrCreate(chatID, now)
	st.Messages = append(st.Messages, msg)
	if over := len(st.Messages) - s.maxMessages; over > 0 {
		// copy down so the backing array does not grow without bound
		n := copy(st.Messages, st.Messages[over:])
		clear(st.Messages[n:])
		st.Messages = st.Messages[:n]
	}
	st.LastActivityAt = now
	return st.clone()
}

// Claim marks agentID as the chat's current handler.
func (s *Store) Claim(chatID, agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st := s.getOrCreate(chatID, now)
	st.CurrentHandler = agentID
	st.LastActivityAt = now
}

// SetThresholdOverride sets a per-chat relevance threshold.
func (s *Store) SetThresholdOverride(chatID string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreate(chatID, s.now())
	st.ThresholdOverride = &v
}

// EvictIfStale deletes the chat's state if it decayed before now.
func (s *Store) EvictIfStale(chatID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.chats[chatID]
	if !ok || !s.stale(st, now) {
		return false
	}
	delete(s.chats, chatID)
	return true
}

// Delete removes the chat's state unconditionally.
func (s *Store) Delete(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
}

// Len returns the number of chats with state, including not yet swept ones.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chats)
}

// Sweep removes every decayed chat and sighting. Returns the number of chats removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, st := range s.chats {
		if s.stale(st, now) {
			delete(s.chats, id)
			removed++
		}
	}
	for chatID, seen := range s.sightings {
		for userID, at := range seen {
			if now.Sub(at) > s.decayAfter {
				delete(seen, userID)
			}
		}
		if len(seen) == 0 {
			delete(s.sightings, chatID)
		}
	}
	return removed
}

// NoteActivity records that userID posted in chatID at the given time.
// Sightings live outside ChatState so they can be recorded while an
// evaluation of the same chat is in flight, and survive state decay.
func (s *Store) NoteActivity(chatID, userID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, ok := s.sightings[chatID]
	if !ok {
		seen = make(map[string]time.Time)
		s.sightings[chatID] = seen
	}
	if prev, ok := seen[userID]; !ok || at.After(prev) {
		seen[userID] = at
	}
}

// LastSeen returns when userID was last sighted in chatID.
func (s *Store) LastSeen(chatID, userID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at, ok := s.sightings[chatID][userID]
	return at, ok
}

func (s *Store) stale(st *ChatState, now time.Time) bool {
	return now.Sub(st.LastActivityAt) > s.decayAfter
}

// live returns the chat's state, deleting it first when decayed. Caller holds mu.
func (s *Store) live(chatID string, now time.Time) (*ChatState, bool) {
	st, ok := s.chats[chatID]
	if !ok {
		return nil, false
	}
	if s.stale(st, now) {
		delete(s.chats, chatID)
		return nil, false
	}
	return st, true
}

// getOrCreate returns live state, recreating it fresh after decay. Caller holds mu.
func (s *Store) getOrCreate(chatID string, now time.Time) *ChatState {
	if st, ok := s.live(chatID, now); ok {
		return st
	}
	st := &ChatState{ChatID: chatID, LastActivityAt: now}
	if v, ok := s.overrides[chatID]; ok {
		st.ThresholdOverride = &v
	}
	s.chats[chatID] = st
	return st
}
