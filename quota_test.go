package arktrans

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTracker_UseTokens(t *testing.T) {
	tr := NewMemoryTracker(100)
	ctx := context.Background()

	require.NoError(t, tr.UseTokens(ctx, 40))
	require.NoError(t, tr.UseTokens(ctx, 60))

	usage := tr.Usage(ctx)
	assert.Equal(t, 100, usage.UsedToday)
	assert.Equal(t, 0, usage.Remaining())

	err := tr.UseTokens(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, KindQuotaExceeded, KindOf(err))

	// A failed consume leaves the counter untouched.
	assert.Equal(t, 100, tr.Usage(ctx).UsedToday)
}

func TestMemoryTracker_CanUse(t *testing.T) {
	tr := NewMemoryTracker(50)
	ctx := context.Background()

	assert.True(t, tr.CanUse(ctx, 50))
	assert.False(t, tr.CanUse(ctx, 51))

	require.NoError(t, tr.UseTokens(ctx, 30))
	assert.True(t, tr.CanUse(ctx, 20))
	assert.False(t, tr.CanUse(ctx, 21))
}

// Atomicity: with budget R and N concurrent consumers of t tokens each,
// exactly floor(R/t) succeed and the total never exceeds R.
func TestMemoryTracker_ConcurrentConsume(t *testing.T) {
	const (
		budget = 100
		per    = 7
		calls  = 50
	)
	tr := NewMemoryTracker(budget)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = tr.UseTokens(ctx, per)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}

	assert.Equal(t, budget/per, succeeded)
	usage := tr.Usage(ctx)
	assert.Equal(t, succeeded*per, usage.UsedToday)
	assert.LessOrEqual(t, usage.UsedToday, budget)
}

// Rollover: usage from yesterday is zeroed before the next evaluation.
func TestMemoryTracker_DayRollover(t *testing.T) {
	tr := NewMemoryTracker(100)
	ctx := context.Background()

	require.NoError(t, tr.UseTokens(ctx, 90))
	assert.False(t, tr.CanUse(ctx, 20))

	tr.mu.Lock()
	tr.usage.LastReset = tr.usage.LastReset.Add(-24 * time.Hour)
	tr.mu.Unlock()

	assert.True(t, tr.CanUse(ctx, 20))
	usage := tr.Usage(ctx)
	assert.Equal(t, 0, usage.UsedToday)
	assert.True(t, usage.LastReset.After(time.Now().UTC().Add(-time.Minute)))
}

func TestMemoryTracker_RolloverAtUTCMidnight(t *testing.T) {
	tr := NewMemoryTracker(100)
	ctx := context.Background()

	base := time.Date(2026, time.March, 1, 23, 59, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }
	tr.usage.LastReset = base

	require.NoError(t, tr.UseTokens(ctx, 80))
	assert.Equal(t, 80, tr.Usage(ctx).UsedToday)

	// Seconds short of midnight: same day, no reset.
	tr.now = func() time.Time { return base.Add(58 * time.Second) }
	assert.False(t, tr.CanUse(ctx, 50))

	// Past midnight: new UTC date, counter resets.
	tr.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.True(t, tr.CanUse(ctx, 50))
	assert.Equal(t, 0, tr.Usage(ctx).UsedToday)
}

func TestMemoryTracker_Reset(t *testing.T) {
	tr := NewMemoryTracker(100)
	ctx := context.Background()

	require.NoError(t, tr.UseTokens(ctx, 70))
	tr.Reset(ctx)

	usage := tr.Usage(ctx)
	assert.Equal(t, 0, usage.UsedToday)
	assert.Equal(t, 100, usage.DailyLimit)
}

func TestTokenUsage_Remaining(t *testing.T) {
	u := TokenUsage{DailyLimit: 100, UsedToday: 30}
	assert.Equal(t, 70, u.Remaining())

	// Over-consumption saturates at zero rather than going negative.
	u.UsedToday = 130
	assert.Equal(t, 0, u.Remaining())
}

func TestTokenUsage_IsLow(t *testing.T) {
	u := TokenUsage{DailyLimit: 100, UsedToday: 89}
	assert.False(t, u.IsLow())

	u.UsedToday = 91
	assert.True(t, u.IsLow())
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 0, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 3, EstimateTokens("Hello, world!"))
	// Multi-byte text counts bytes, not runes.
	assert.Equal(t, 4, EstimateTokens("你好，世界！"))
}
