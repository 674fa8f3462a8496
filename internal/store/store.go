// Package store persists the message log the agent consults when its
// in-memory interest state has been evicted.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/replygate/internal/interest"
)

// ErrUnknownDriver is returned for a database driver other than sqlite or postgres.
var ErrUnknownDriver = errors.New("store: unknown database driver")

// Record is one logged chat message.
type Record struct {
	ID          uuid.UUID
	ChatID      string // bus.ChatKey of the conversation
	MessageID   string // platform message id, empty for some own messages
	UserID      string
	DisplayName string
	Text        string
	Own         bool // authored by this agent
	At          time.Time
}

// Tracked converts r to the interest store's message shape.
func (r Record) Tracked() interest.TrackedMessage {
	return interest.TrackedMessage{
		UserID:      r.UserID,
		DisplayName: r.DisplayName,
		Text:        r.Text,
		Own:         r.Own,
		At:          r.At,
	}
}

// MessageLog is the persistent message history. Implementations satisfy
// gating.MemoryReader through RecentOwnMessages.
type MessageLog interface {
	// Append stores rec. A zero ID is replaced with a new UUIDv7.
	Append(ctx context.Context, rec Record) error

	// Recent returns up to limit messages of chatID, oldest first.
	Recent(ctx context.Context, chatID string, limit int) ([]Record, error)

	// RecentOwnMessages returns up to limit messages this agent sent in chatID, oldest first.
	RecentOwnMessages(ctx context.Context, chatID string, limit int) ([]interest.TrackedMessage, error)

	// Prune deletes messages older than before and reports how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// GenNewID returns a time-ordered UUIDv7.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// Prepare fills the defaults Append relies on.
func Prepare(rec Record) Record {
	if rec.ID == uuid.Nil {
		rec.ID = GenNewID()
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	return rec
}

// Reverse flips recs in place, turning newest-first query results into
// chronological order.
func Reverse[T any](recs []T) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}
