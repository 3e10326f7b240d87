// Package redis provides a Redis-backed QuotaTracker for arktrans.
//
// Usage state lives in one Redis hash, mutated through Lua scripts so
// check-and-consume and the lazy daily reset stay atomic across any number
// of processes sharing the budget.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/LouisLau-art/arktrans"
)

const dateLayout = "2006-01-02"

// Tracker is a Redis-backed QuotaTracker.
type Tracker struct {
	client     goredis.Cmdable
	key        string
	dailyLimit int
	now        func() time.Time
}

var _ arktrans.QuotaTracker = (*Tracker)(nil)

// Option configures Tracker.
type Option func(*Tracker)

// WithKey sets the Redis key holding the usage hash (default
// "arktrans:quota").
func WithKey(key string) Option {
	return func(t *Tracker) { t.key = key }
}

// New creates a Redis-backed tracker with the given daily token limit.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, dailyLimit int, opts ...Option) *Tracker {
	t := &Tracker{
		client:     client,
		key:        "arktrans:quota",
		dailyLimit: dailyLimit,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// checkScript applies the lazy daily reset, then reports whether the
// requested amount fits.
// KEYS[1] = usage hash key
// ARGV[1] = amount
// ARGV[2] = today (UTC date)
// ARGV[3] = daily limit
//
// Returns 1 when the amount fits, 0 otherwise.
var checkScript = goredis.NewScript(`
local key = KEYS[1]
local amount = tonumber(ARGV[1])
local today = ARGV[2]
local limit = tonumber(ARGV[3])

local date = redis.call("HGET", key, "date")
if date ~= today then
    redis.call("HSET", key, "used", "0", "date", today)
end

local used = tonumber(redis.call("HGET", key, "used") or "0")
local remaining = limit - used
if remaining < 0 then
    remaining = 0
end
if remaining >= amount then
    return 1
end
return 0
`)

// consumeScript applies the lazy daily reset, then consumes the amount if
// it fits. Same arguments as checkScript.
//
// Returns {1, used_after} on success, {0, remaining} when the budget does
// not allow it.
var consumeScript = goredis.NewScript(`
local key = KEYS[1]
local amount = tonumber(ARGV[1])
local today = ARGV[2]
local limit = tonumber(ARGV[3])

local date = redis.call("HGET", key, "date")
if date ~= today then
    redis.call("HSET", key, "used", "0", "date", today)
end

local used = tonumber(redis.call("HGET", key, "used") or "0")
local remaining = limit - used
if remaining < 0 then
    remaining = 0
end
if amount > remaining then
    return {0, remaining}
end

redis.call("HINCRBY", key, "used", amount)
return {1, used + amount}
`)

// CanUse reports whether n tokens fit in today's remaining budget.
// Redis failures fail closed: an unreadable budget admits nothing.
func (t *Tracker) CanUse(ctx context.Context, n int) bool {
	res, err := checkScript.Run(ctx, t.client,
		[]string{t.key}, n, t.today(), t.dailyLimit,
	).Int64()
	if err != nil {
		return false
	}
	return res == 1
}

// UseTokens atomically consumes n tokens from today's budget.
func (t *Tracker) UseTokens(ctx context.Context, n int) error {
	res, err := consumeScript.Run(ctx, t.client,
		[]string{t.key}, n, t.today(), t.dailyLimit,
	).Int64Slice()
	if err != nil {
		return fmt.Errorf("arktrans/redis: consume tokens: %w", err)
	}
	if len(res) != 2 {
		return fmt.Errorf("arktrans/redis: unexpected consume result: %v", res)
	}
	if res[0] == 0 {
		return &arktrans.Error{
			Kind:    arktrans.KindQuotaExceeded,
			Message: fmt.Sprintf("requested %d tokens, %d remaining today", n, res[1]),
		}
	}
	return nil
}

// Usage returns a snapshot of today's accounting without touching the
// rollover state.
func (t *Tracker) Usage(ctx context.Context) arktrans.TokenUsage {
	vals, err := t.client.HMGet(ctx, t.key, "used", "date").Result()
	if err != nil {
		return arktrans.TokenUsage{DailyLimit: t.dailyLimit}
	}

	usage := arktrans.TokenUsage{DailyLimit: t.dailyLimit}
	if s, ok := vals[0].(string); ok {
		usage.UsedToday, _ = strconv.Atoi(s)
	}
	if s, ok := vals[1].(string); ok {
		if d, err := time.Parse(dateLayout, s); err == nil {
			usage.LastReset = d
		}
	}
	return usage
}

// Reset zeroes today's usage.
func (t *Tracker) Reset(ctx context.Context) {
	t.client.HSet(ctx, t.key, "used", 0, "date", t.today())
}

func (t *Tracker) today() string {
	return t.now().UTC().Format(dateLayout)
}
