// Package store persists Telegram subscribers and their last search keyword.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/eventwire/eventwire/pkg/models"
)

// Store is a SQLite-backed subscriber registry.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const createTable = `
CREATE TABLE IF NOT EXISTS subscribers (
	chat_id INTEGER PRIMARY KEY,
	keyword TEXT NOT NULL DEFAULT '',
	subscribed INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);
`

// New opens the database at dbPath and runs auto-migration.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Subscribe registers chatID for digests. Registering twice is a no-op.
func (s *Store) Subscribe(ctx context.Context, chatID int64) error {
	query, args, err := sq.Insert("subscribers").
		Columns("chat_id", "subscribed", "created_at").
		Values(chatID, 1, s.now().UTC()).
		Suffix("ON CONFLICT(chat_id) DO UPDATE SET subscribed = 1").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("subscribe %d: %w", chatID, err)
	}
	return nil
}

// Unsubscribe stops digests for chatID. Its keyword is kept.
func (s *Store) Unsubscribe(ctx context.Context, chatID int64) error {
	query, args, err := sq.Update("subscribers").
		Set("subscribed", 0).
		Where(sq.Eq{"chat_id": chatID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("unsubscribe %d: %w", chatID, err)
	}
	return nil
}

// Subscribers lists every subscribed chat, oldest first.
func (s *Store) Subscribers(ctx context.Context) ([]models.Subscriber, error) {
	query, args, err := sq.Select("chat_id", "keyword", "created_at").
		From("subscribers").
		Where(sq.Eq{"subscribed": 1}).
		OrderBy("created_at", "chat_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscriber
	for rows.Next() {
		var sub models.Subscriber
		if err := rows.Scan(&sub.ChatID, &sub.Keyword, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ChatIDs lists the chat IDs of all subscribers.
func (s *Store) ChatIDs(ctx context.Context) ([]int64, error) {
	subs, err := s.Subscribers(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(subs))
	for _, sub := range subs {
		ids = append(ids, sub.ChatID)
	}
	return ids, nil
}

// SetKeyword stores the last search keyword for chatID. It does not
// subscribe the chat.
func (s *Store) SetKeyword(ctx context.Context, chatID int64, keyword string) error {
	query, args, err := sq.Insert("subscribers").
		Columns("chat_id", "keyword", "created_at").
		Values(chatID, keyword, s.now().UTC()).
		Suffix("ON CONFLICT(chat_id) DO UPDATE SET keyword = excluded.keyword").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set keyword for %d: %w", chatID, err)
	}
	return nil
}

// Keyword returns the last keyword for chatID. ok is false when the chat is
// unknown or has no keyword yet.
func (s *Store) Keyword(ctx context.Context, chatID int64) (keyword string, ok bool, err error) {
	query, args, err := sq.Select("keyword").
		From("subscribers").
		Where(sq.Eq{"chat_id": chatID}).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build query: %w", err)
	}

	err = s.db.QueryRowContext(ctx, query, args...).Scan(&keyword)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("keyword for %d: %w", chatID, err)
	}
	return keyword, keyword != "", nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
