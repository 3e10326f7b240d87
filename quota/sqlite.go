// Package quota provides durable QuotaTracker backends.
//
// Token usage is stored transactionally so the daily budget stays honest
// across restarts and between short-lived CLI runs sharing one database
// file.
package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/LouisLau-art/arktrans"
)

// SQLiteTracker is a file-backed QuotaTracker.
type SQLiteTracker struct {
	db         *sql.DB
	dailyLimit int
	now        func() time.Time
}

var _ arktrans.QuotaTracker = (*SQLiteTracker)(nil)

// NewSQLiteTracker opens (creating if needed) the usage database at path.
func NewSQLiteTracker(path string, dailyLimit int) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("arktrans/quota: open database: %w", err)
	}
	// A single connection serializes writers; readers queue behind the
	// busy timeout instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	t := &SQLiteTracker{db: db, dailyLimit: dailyLimit, now: time.Now}
	if err := t.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *SQLiteTracker) ensureSchema(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS token_usage (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			used_today INTEGER NOT NULL DEFAULT 0,
			last_reset TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("arktrans/quota: ensure schema: %w", err)
	}
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO token_usage (id, used_today, last_reset)
		VALUES (1, 0, ?)
		ON CONFLICT (id) DO NOTHING`,
		t.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("arktrans/quota: seed row: %w", err)
	}
	return nil
}

// loadTx reads the usage row and applies the UTC day rollover inside the
// caller's transaction.
func (t *SQLiteTracker) loadTx(ctx context.Context, tx *sql.Tx) (arktrans.TokenUsage, error) {
	var usedToday int
	var lastResetStr string
	err := tx.QueryRowContext(ctx,
		`SELECT used_today, last_reset FROM token_usage WHERE id = 1`,
	).Scan(&usedToday, &lastResetStr)
	if err != nil {
		return arktrans.TokenUsage{}, fmt.Errorf("arktrans/quota: load usage: %w", err)
	}

	lastReset, err := time.Parse(time.RFC3339Nano, lastResetStr)
	if err != nil {
		return arktrans.TokenUsage{}, fmt.Errorf("arktrans/quota: parse last_reset: %w", err)
	}

	now := t.now().UTC()
	ly, lm, ld := lastReset.UTC().Date()
	ny, nm, nd := now.Date()
	if ly != ny || lm != nm || ld != nd {
		if _, err := tx.ExecContext(ctx,
			`UPDATE token_usage SET used_today = 0, last_reset = ? WHERE id = 1`,
			now.Format(time.RFC3339Nano),
		); err != nil {
			return arktrans.TokenUsage{}, fmt.Errorf("arktrans/quota: daily reset: %w", err)
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
// Storage failures fail closed: an unreadable budget admits nothing.
func (t *SQLiteTracker) CanUse(ctx context.Context, n int) bool {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return false
	}
	defer tx.Rollback()

	usage, err := t.loadTx(ctx, tx)
	if err != nil {
		return false
	}
	if err := tx.Commit(); err != nil {
		return false
	}
	return usage.CanUse(n)
}

// UseTokens atomically consumes n tokens from today's budget.
func (t *SQLiteTracker) UseTokens(ctx context.Context, n int) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("arktrans/quota: begin tx: %w", err)
	}
	defer tx.Rollback()

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

	if _, err := tx.ExecContext(ctx,
		`UPDATE token_usage SET used_today = used_today + ? WHERE id = 1`, n,
	); err != nil {
		return fmt.Errorf("arktrans/quota: consume tokens: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("arktrans/quota: commit: %w", err)
	}
	return nil
}

// Usage returns a snapshot of today's accounting without touching the
// rollover state.
func (t *SQLiteTracker) Usage(ctx context.Context) arktrans.TokenUsage {
	var usedToday int
	var lastResetStr string
	err := t.db.QueryRowContext(ctx,
		`SELECT used_today, last_reset FROM token_usage WHERE id = 1`,
	).Scan(&usedToday, &lastResetStr)
	if err != nil {
		return arktrans.TokenUsage{DailyLimit: t.dailyLimit}
	}

	lastReset, _ := time.Parse(time.RFC3339Nano, lastResetStr)
	return arktrans.TokenUsage{
		DailyLimit: t.dailyLimit,
		UsedToday:  usedToday,
		LastReset:  lastReset,
	}
}

// Reset zeroes today's usage.
func (t *SQLiteTracker) Reset(ctx context.Context) {
	t.db.ExecContext(ctx,
		`UPDATE token_usage SET used_today = 0, last_reset = ? WHERE id = 1`,
		t.now().UTC().Format(time.RFC3339Nano))
}

// Close releases the underlying database handle.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
