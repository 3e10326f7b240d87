// Package postgres provides a PostgreSQL-backed QuotaTracker.
//
// Usage state lives in a single row read under FOR UPDATE, so
// check-and-consume and the lazy daily reset stay atomic across any
// number of processes sharing the budget.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LouisLau-art/arktrans"
)

// Tracker is a PostgreSQL-backed QuotaTracker.
type Tracker struct {
	pool       *pgxpool.Pool
	table      string
	dailyLimit int
	now        func() time.Time
}

var _ arktrans.QuotaTracker = (*Tracker)(nil)

// Option configures Tracker.
type Option func(*Tracker)

// WithTable sets the usage table name (default "arktrans_token_usage").
func WithTable(name string) Option {
	return func(t *Tracker) { t.table = name }
}

// New creates a tracker on an existing connection pool. The pool remains
// owned by the caller. Call EnsureSchema before first use.
func New(pool *pgxpool.Pool, dailyLimit int, opts ...Option) *Tracker {
	t := &Tracker{
		pool:       pool,
		table:      "arktrans_token_usage",
		dailyLimit: dailyLimit,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// EnsureSchema creates the usage table if needed and seeds its row.
func (t *Tracker) EnsureSchema(ctx context.Context) error {
	_, err := t.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			used_today BIGINT NOT NULL DEFAULT 0,
			last_reset TIMESTAMPTZ NOT NULL
		)`, t.table))
	if err != nil {
		return fmt.Errorf("arktrans/postgres: ensure schema: %w", err)
	}
	_, err = t.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, used_today, last_reset)
		VALUES (1, 0, $1)
		ON CONFLICT (id) DO NOTHING`, t.table),
		t.now().UTC())
	if err != nil {
		return fmt.Errorf("arktrans/postgres: seed row: %w", err)
	}
	return nil
}

// loadTx reads the usage row under FOR UPDATE and applies the UTC day
// rollover inside the caller's transaction. The row lock serializes
// concurrent consumers.
func (t *Tracker) loadTx(ctx context.Context, tx pgx.Tx) (arktrans.TokenUsage, error) {
	var usedToday int
	var lastReset time.Time
	err := tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT used_today, last_reset FROM %s WHERE id = 1 FOR UPDATE`, t.table),
	).Scan(&usedToday, &lastReset)
	if err != nil {
		return arktrans.TokenUsage{}, fmt.Errorf("arktrans/postgres: load usage: %w", err)
	}

	now := t.now().UTC()
	ly, lm, ld := lastReset.UTC().Date()
	ny, nm, nd := now.Date()
	if ly != ny || lm != nm || ld != nd {
		if _, err := tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET used_today = 0, last_reset = $1 WHERE id = 1`, t.table),
			now,
		); err != nil {
			return arktrans.TokenUsage{}, fmt.Errorf("arktrans/postgres: daily reset: %w", err)
		}
		usedToday = 0
		lastReset = now
	}

	return arktrans.TokenUsage{
		DailyLimit: t.dailyLimit,
		UsedToday:  usedToday,
		LastReset:  lastReset,
	}, nil
}

// CanUse reports whether n tokens fit in today's remaining budget.
// Postgres failures fail closed: an unreadable budget admits nothing.
func (t *Tracker) CanUse(ctx context.Context, n int) bool {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return false
	}
	defer tx.Rollback(ctx)

	usage, err := t.loadTx(ctx, tx)
	if err != nil {
		return false
	}
	if err := tx.Commit(ctx); err != nil {
		return false
	}
	return usage.CanUse(n)
}

// UseTokens atomically consumes n tokens from today's budget.
func (t *Tracker) UseTokens(ctx context.Context, n int) error {
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("arktrans/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	usage, err := t.loadTx(ctx, tx)
	if err != nil {
		return err
	}
	if !usage.CanUse(n) {
		return &arktrans.Error{
			Kind:    arktrans.KindQuotaExceeded,
			Message: fmt.Sprintf("requested %d tokens, %d remaining today", n, usage.Remaining()),
		}
	}

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET used_today = used_today + $1 WHERE id = 1`, t.table), n,
	); err != nil {
		return fmt.Errorf("arktrans/postgres: consume tokens: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("arktrans/postgres: commit: %w", err)
	}
	return nil
}

// Usage returns a snapshot of today's accounting without touching the
// rollover state.
func (t *Tracker) Usage(ctx context.Context) arktrans.TokenUsage {
	var usedToday int
	var lastReset time.Time
	err := t.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT used_today, last_reset FROM %s WHERE id = 1`, t.table),
	).Scan(&usedToday, &lastReset)
	if err != nil {
		return arktrans.TokenUsage{DailyLimit: t.dailyLimit}
	}
	return arktrans.TokenUsage{
		DailyLimit: t.dailyLimit,
		UsedToday:  usedToday,
		LastReset:  lastReset,
	}
}

// Reset zeroes today's usage.
func (t *Tracker) Reset(ctx context.Context) {
	t.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET used_today = 0, last_reset = $1 WHERE id = 1`, t.table),
		t.now().UTC())
}
