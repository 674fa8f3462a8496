// Package pg implements store.MessageLog on Postgres through the pgx
// database/sql driver.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/replygate/internal/interest"
	"github.com/nextlevelbuilder/replygate/internal/store"
)

// Log is a Postgres-backed message log.
type Log struct {
	db *sql.DB
}

var _ store.MessageLog = (*Log)(nil)

// OpenDB opens and pings a pgx-backed *sql.DB.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Open connects to dsn and applies migrations.
func Open(dsn string) (*Log, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := store.Migrate(db, "postgres"); err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db}, nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Log { return &Log{db: db} }

func (l *Log) Append(ctx context.Context, rec store.Record) error {
	rec = store.Prepare(rec)
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, message_id, user_id, display_name, text, own, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.ChatID, rec.MessageID, rec.UserID, rec.DisplayName, rec.Text, rec.Own, rec.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (l *Log) Recent(ctx context.Context, chatID string, limit int) ([]store.Record, error) {
	return l.query(ctx,
		`SELECT id, chat_id, message_id, user_id, display_name, text, own, at
		 FROM messages WHERE chat_id = $1 ORDER BY at DESC, id DESC LIMIT $2`,
		chatID, limit)
}

func (l *Log) RecentOwnMessages(ctx context.Context, chatID string, limit int) ([]interest.TrackedMessage, error) {
	recs, err := l.query(ctx,
		`SELECT id, chat_id, message_id, user_id, display_name, text, own, at
		 FROM messages WHERE chat_id = $1 AND own ORDER BY at DESC, id DESC LIMIT $2`,
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
	res, err := l.db.ExecContext(ctx, `DELETE FROM messages WHERE at < $1`, before.UTC())
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
		var r store.Record
		if err := rows.Scan(&r.ID, &r.ChatID, &r.MessageID, &r.UserID, &r.DisplayName, &r.Text, &r.Own, &r.At); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	store.Reverse(recs)
	return recs, nil
}
