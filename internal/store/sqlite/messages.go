// Package sqlite implements store.MessageLog on an embedded SQLite file
// (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/replygate/internal/interest"
	"github.com/nextlevelbuilder/replygate/internal/store"
)

// Log is a SQLite-backed message log.
type Log struct {
	db *sql.DB
}

var _ store.MessageLog = (*Log)(nil)

// OpenDB opens (creating if needed) the database file at path.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// Open opens the database at path and applies migrations.
func Open(path string) (*Log, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(db, "sqlite"); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db}, nil
}

func (l *Log) Append(ctx context.Context, rec store.Record) error {
	rec = store.Prepare(rec)
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, message_id, user_id, display_name, text, own, at_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.ChatID, rec.MessageID, rec.UserID, rec.DisplayName, rec.Text,
		boolToInt(rec.Own), rec.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (l *Log) Recent(ctx context.Context, chatID string, limit int) ([]store.Record, error) {
	return l.query(ctx,
		`SELECT id, chat_id, message_id, user_id, display_name, text, own, at_ms
		 FROM messages WHERE chat_id = ? ORDER BY at_ms DESC, id DESC LIMIT ?`,
		chatID, limit)
}

func (l *Log) RecentOwnMessages(ctx context.Context, chatID string, limit int) ([]interest.TrackedMessage, error) {
	recs, err := l.query(ctx,
		`SELECT id, chat_id, message_id, user_id, display_name, text, own, at_ms
		 FROM messages WHERE chat_id = ? AND own = 1 ORDER BY at_ms DESC, id DESC LIMIT ?`,
		chatID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]interest.TrackedMessage, len(recs))
	for i, r := range recs {
		out[i] = r.Tracked()
	}
	return out, nil
}

func (l *Log) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM messages WHERE at_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	return res.RowsAffected()
}

func (l *Log) Close() error { return l.db.Close() }

func (l *Log) query(ctx context.Context, q string, chatID string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx, q, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var recs []store.Record
	for rows.Next() {
		var (
			r    store.Record
			id   string
			own  int
			atMS int64
		)
		if err := rows.Scan(&id, &r.ChatID, &r.MessageID, &r.UserID, &r.DisplayName, &r.Text, &own, &atMS); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		r.ID, _ = uuid.Parse(id)
		r.Own = own != 0
		r.At = time.UnixMilli(atMS)
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	store.Reverse(recs)
	return recs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
