package arktrans

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// QuotaTracker gates and accounts for daily token consumption under
// concurrent access. Implementations must evaluate the UTC calendar-day
// rollover lazily on every touch; there is no background timer.
type QuotaTracker interface {
	// CanUse reports whether n tokens fit in today's remaining budget.
	// May mutate state as part of the day-rollover check.
	CanUse(ctx context.Context, n int) bool

	// UseTokens atomically consumes n tokens. Fails with a
	// KindQuotaExceeded error and leaves state unchanged when the
	// budget does not allow it.
	UseTokens(ctx context.Context, n int) error

	// Usage returns a snapshot of today's accounting.
	Usage(ctx context.Context) TokenUsage

	// Reset zeroes today's usage and stamps the reset time.
	Reset(ctx context.Context)
}

// MemoryTracker is the in-process QuotaTracker. It is the default used by
// NewTranslator and safe for concurrent use.
type MemoryTracker struct {
	mu    sync.RWMutex
	usage TokenUsage
	now   func() time.Time
}

var _ QuotaTracker = (*MemoryTracker)(nil)

// NewMemoryTracker creates a tracker with the given daily token limit.
func NewMemoryTracker(dailyLimit int) *MemoryTracker {
	return &MemoryTracker{
		usage: TokenUsage{
			DailyLimit: dailyLimit,
			LastReset:  time.Now().UTC(),
		},
		now: time.Now,
	}
}

// resetIfNeeded zeroes the counter when the UTC calendar date has moved on
// since the last reset. Callers must hold the write lock.
func (t *MemoryTracker) resetIfNeeded() {
	now := t.now().UTC()
	ly, lm, ld := t.usage.LastReset.UTC().Date()
	ny, nm, nd := now.Date()
	if ly != ny || lm != nm || ld != nd {
		t.usage.UsedToday = 0
		t.usage.LastReset = now
	}
}

// CanUse reports whether n tokens fit in today's remaining budget.
func (t *MemoryTracker) CanUse(_ context.Context, n int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfNeeded()
	return t.usage.CanUse(n)
}

// UseTokens atomically consumes n tokens from today's budget.
func (t *MemoryTracker) UseTokens(_ context.Context, n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetIfNeeded()
	if !t.usage.CanUse(n) {
		return &Error{
			Kind:    KindQuotaExceeded,
			Message: fmt.Sprintf("requested %d tokens, %d remaining today", n, t.usage.Remaining()),
		}
	}
	t.usage.UsedToday += n
	return nil
}

// Usage returns a snapshot of today's accounting.
func (t *MemoryTracker) Usage(_ context.Context) TokenUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.usage
}

// Reset zeroes today's usage.
func (t *MemoryTracker) Reset(_ context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.UsedToday = 0
	t.usage.LastReset = t.now().UTC()
}
