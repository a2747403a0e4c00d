package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/eventwire/eventwire/pkg/models"
)

// Tracker records and queries language-model invocations.
type Tracker interface {
	// Record stores one invocation record.
	Record(ctx context.Context, rec models.InvocationRecord) error
	// Recent returns the newest records, newest first.
	Recent(ctx context.Context, limit uint64) ([]models.InvocationRecord, error)
	// TotalSince returns total tokens used since a given time.
	TotalSince(ctx context.Context, since time.Time) (int64, error)
	// Summary returns aggregates per provider and model, optionally filtered
	// by provider.
	Summary(ctx context.Context, provider string) ([]models.UsageSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS invocations (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	outcome TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	latency_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invocations_time ON invocations(created_at);
CREATE INDEX IF NOT EXISTS idx_invocations_provider ON invocations(provider, model);
`

var columns = []string{
	"id", "provider", "model", "outcome", "attempts", "status_code",
	"prompt_tokens", "completion_tokens", "total_tokens", "latency_ms", "created_at",
}

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

func dsn(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)"
}

// Record stores an invocation record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.InvocationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	query, args, err := sq.Insert("invocations").
		Columns(columns...).
		Values(rec.ID, rec.Provider, rec.Model, string(rec.Outcome), rec.Attempts, rec.StatusCode,
			rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.LatencyMs, rec.CreatedAt.UTC()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := t.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record invocation: %w", err)
	}
	return nil
}

// Recent returns the newest records, newest first.
func (t *SQLiteTracker) Recent(ctx context.Context, limit uint64) ([]models.InvocationRecord, error) {
	query, args, err := sq.Select(columns...).
		From("invocations").
		OrderBy("created_at DESC").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query invocations: %w", err)
	}
	defer rows.Close()

	var records []models.InvocationRecord
	for rows.Next() {
		var r models.InvocationRecord
		var outcome string
		if err := rows.Scan(&r.ID, &r.Provider, &r.Model, &outcome, &r.Attempts, &r.StatusCode,
			&r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		r.Outcome = models.Outcome(outcome)
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalSince returns total tokens used since a given time.
func (t *SQLiteTracker) TotalSince(ctx context.Context, since time.Time) (int64, error) {
	query, args, err := sq.Select("COALESCE(SUM(total_tokens), 0)").
		From("invocations").
		Where(sq.GtOrEq{"created_at": since.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var total int64
	if err := t.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("total usage: %w", err)
	}
	return total, nil
}

// Summary returns aggregated invocations grouped by provider and model.
func (t *SQLiteTracker) Summary(ctx context.Context, provider string) ([]models.UsageSummary, error) {
	b := sq.Select(
		"provider", "model", "COUNT(*)",
		"SUM(CASE WHEN outcome = 'ok' THEN 1 ELSE 0 END)",
		"SUM(CASE WHEN outcome = 'rate_limited' THEN 1 ELSE 0 END)",
		"SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END)",
		"COALESCE(SUM(total_tokens), 0)",
		"CAST(COALESCE(AVG(latency_ms), 0) AS INTEGER)",
	).From("invocations")
	if provider != "" {
		b = b.Where(sq.Eq{"provider": provider})
	}
	query, args, err := b.GroupBy("provider", "model").OrderBy("provider", "model").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var s models.UsageSummary
		if err := rows.Scan(&s.Provider, &s.Model, &s.Invocations, &s.Succeeded, &s.RateLimited,
			&s.Failed, &s.TotalTokens, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
