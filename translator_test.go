package arktrans_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LouisLau-art/arktrans"
	"github.com/LouisLau-art/arktrans/transport/mock"
)

func slowModel(id string) arktrans.Model {
	return arktrans.Model{ID: id, Lane: arktrans.LaneSlow, RPM: 5000, MaxConcurrent: 80, Enabled: true}
}

func fastModel(id string) arktrans.Model {
	return arktrans.Model{ID: id, Lane: arktrans.LaneFast, RPM: 30000, MaxConcurrent: 500, Enabled: true}
}

func newTestConfig(models ...arktrans.Model) *arktrans.Config {
	cfg := arktrans.DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.MaxRPS = 1000
	cfg.MaxRetries = 0
	cfg.RetryDelayMS = 0
	cfg.Models = models
	return cfg
}

func newTestTranslator(t *testing.T, cfg *arktrans.Config, tr arktrans.Transport, opts ...arktrans.Option) *arktrans.Translator {
	t.Helper()
	tl, err := arktrans.NewTranslator(cfg, tr, opts...)
	require.NoError(t, err)
	return tl
}

func apiFailure(msg string) error {
	return &arktrans.Error{Kind: arktrans.KindAPI, Status: 500, Message: msg}
}

// Test 1: slow lane wins when healthy
func TestTranslate_SlowLaneFirst(t *testing.T) {
	tr := mock.New(mock.WithResult(arktrans.TranslationResult{Translation: "你好", TokensUsed: 4}))
	tl := newTestTranslator(t, newTestConfig(slowModel("slow-1"), fastModel("fast-1")), tr)

	result, err := tl.Translate(context.Background(), arktrans.TranslationRequest{Text: "hello", TargetLang: "zh"})
	require.NoError(t, err)

	assert.Equal(t, "你好", result.Translation)
	assert.Equal(t, "slow-1", result.ModelUsed)
	assert.Equal(t, []string{"slow-1"}, tr.Calls())
	assert.Equal(t, "slow-1", tl.CurrentModel())
}

// Test 2: every slow model is attempted before the fast lane
func TestTranslate_LaneFallbackOrdering(t *testing.T) {
	tr := mock.New(mock.WithHandler(func(m arktrans.Model, req arktrans.TranslationRequest) (arktrans.TranslationResult, error) {
		if m.Lane == arktrans.LaneSlow {
			return arktrans.TranslationResult{}, apiFailure("slow lane down")
		}
		return arktrans.TranslationResult{Translation: "fast result", TokensUsed: 8}, nil
	}))
	tl := newTestTranslator(t, newTestConfig(slowModel("slow-1"), slowModel("slow-2"), fastModel("fast-1")), tr)

	result, err := tl.Translate(context.Background(), arktrans.TranslationRequest{Text: "hello", TargetLang: "zh"})
	require.NoError(t, err)

	assert.Equal(t, "fast result", result.Translation)
	assert.Equal(t, "fast-1", result.ModelUsed)
	assert.Equal(t, []string{"slow-1", "slow-2", "fast-1"}, tr.Calls())
	assert.Equal(t, "fast-1", tl.CurrentModel())
}

// Test 3: both lanes exhausted surfaces the slow lane's error
func TestTranslate_BothLanesFail_ReturnsSlowError(t *testing.T) {
	tr := mock.New(mock.WithError(apiFailure("everything down")))
	tl := newTestTranslator(t, newTestConfig(slowModel("slow-1"), fastModel("fast-1")), tr)

	_, err := tl.Translate(context.Background(), arktrans.TranslationRequest{Text: "hello", TargetLang: "zh"})
	require.Error(t, err)

	assert.Equal(t, arktrans.KindConfig, arktrans.KindOf(err))
	assert.Contains(t, err.Error(), "all models in lane slow failed")
	assert.Equal(t, []string{"slow-1", "fast-1"}, tr.Calls())
}

// Test 4: retry bound — max_retries 2 means exactly 3 attempts per model
func TestTranslate_RetryBound(t *testing.T) {
	tr := mock.New(mock.WithError(apiFailure("still down")))
	cfg := newTestConfig(slowModel("slow-1"), slowModel("slow-2"))
	cfg.MaxRetries = 2

	tl := newTestTranslator(t, cfg, tr)

	_, err := tl.Translate(context.Background(), arktrans.TranslationRequest{Text: "hello", TargetLang: "zh"})
	require.Error(t, err)

	assert.Equal(t, []string{
		"slow-1", "slow-1", "slow-1",
		"slow-2", "slow-2", "slow-2",
	}, tr.Calls())
}

// Test 5: quota exhaustion short-circuits before any wire call
func TestTranslate_QuotaShortCircuit(t *testing.T) {
	tr := mock.New()
	cfg := newTestConfig(slowModel("slow-1"))
	quota := arktrans.NewMemoryTracker(10)

	tl := newTestTranslator(t, cfg, tr, arktrans.WithQuotaTracker(quota))

	// 100 chars estimate to 25 tokens, over the 10-token budget.
	text := strings.Repeat("a", 100)
	_, err := tl.Translate(context.Background(), arktrans.TranslationRequest{Text: text, TargetLang: "zh"})
	require.Error(t, err)

	assert.Equal(t, arktrans.KindQuotaExceeded, arktrans.KindOf(err))
	assert.Equal(t, int64(0), tr.CallCount())
}

// Test 6: quota-exceeded from the wire is not retried
func TestTranslate_NoRetryOnQuotaExceeded(t *testing.T) {
	tr := mock.New(mock.WithError(&arktrans.Error{Kind: arktrans.KindQuotaExceeded, Status: 403}))
	cfg := newTestConfig(slowModel("slow-1"))
	cfg.MaxRetries = 3

	tl := newTestTranslator(t, cfg, tr)

	_, err := tl.Translate(context.Background(), arktrans.TranslationRequest{Text: "hello", TargetLang: "zh"})
	require.Error(t, err)
	assert.Equal(t, int64(1), tr.CallCount())
}

// Test 7: malformed responses are retryable
func TestTranslate_RetriesInvalidResponse(t *testing.T) {
	var calls int
	var mu sync.Mutex
	tr := mock.New(mock.WithHandler(func(m arktrans.Model, req arktrans.TranslationRequest) (arktrans.TranslationResult, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return arktrans.TranslationResult{}, &arktrans.Error{Kind: arktrans.KindInvalidResponse, Message: "garbled"}
		}
		return arktrans.TranslationResult{Translation: "ok", TokensUsed: 2}, nil
	}))
	cfg := newTestConfig(slowModel("slow-1"))
	cfg.MaxRetries = 2

	tl := newTestTranslator(t, cfg, tr)

	result, err := tl.Translate(context.Background(), arktrans.TranslationRequest{Text: "hello", TargetLang: "zh"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Translation)
	assert.Equal(t, int64(2), tr.CallCount())
}

// Test 8: admission ceiling — at most max_concurrent calls in flight
func TestTranslate_AdmissionCeiling(t *testing.T) {
	tr := mock.New(
		mock.WithLatency(50*time.Millisecond),
		mock.WithResult(arktrans.TranslationResult{Translation: "ok", TokensUsed: 2}),
	)
	cfg := newTestConfig(slowModel("slow-1"))
	cfg.MaxConcurrent = 2

	tl := newTestTranslator(t, cfg, tr)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = tl.Translate(context.Background(), arktrans.TranslationRequest{Text: "hello", TargetLang: "zh"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.LessOrEqual(t, tr.MaxInFlight(), int64(2))
	assert.Equal(t, int64(5), tr.CallCount())
}

// Test 9: end to end — result fields and token accounting
func TestTranslate_EndToEnd(t *testing.T) {
	tr := mock.New(mock.WithResult(arktrans.TranslationResult{
		Translation: "你好，世界！",
		TokensUsed:  12,
	}))
	cfg := newTestConfig(slowModel("doubao-seed-translation-250915"))
	quota := arktrans.NewMemoryTracker(1000)

	tl := newTestTranslator(t, cfg, tr, arktrans.WithQuotaTracker(quota))

	result, err := tl.Translate(context.Background(), arktrans.TranslationRequest{
		Text:       "Hello, world!",
		SourceLang: "en",
		TargetLang: "zh",
	})
	require.NoError(t, err)

	assert.Equal(t, "你好，世界！", result.Translation)
	assert.Equal(t, 12, result.TokensUsed)
	assert.Equal(t, "doubao-seed-translation-250915", result.ModelUsed)

	usage := tl.TokenUsage(context.Background())
	assert.Equal(t, 12, usage.UsedToday)
	assert.Equal(t, 988, usage.Remaining())
}

// Test 10: a failing usage write does not fail the translation
func TestTranslate_TokenAccountingFailureIsSwallowed(t *testing.T) {
	tr := mock.New(mock.WithResult(arktrans.TranslationResult{Translation: "ok", TokensUsed: 5}))
	tl := newTestTranslator(t, newTestConfig(slowModel("slow-1")), tr,
		arktrans.WithQuotaTracker(&brokenTracker{}))

	result, err := tl.Translate(context.Background(), arktrans.TranslationRequest{Text: "hello", TargetLang: "zh"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Translation)
}

// Test 11: rate-limit hints raise the retry delay
func TestTranslate_RetryAfterHintRaisesBackoff(t *testing.T) {
	var calls int
	var mu sync.Mutex
	tr := mock.New(mock.WithHandler(func(m arktrans.Model, req arktrans.TranslationRequest) (arktrans.TranslationResult, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return arktrans.TranslationResult{}, &arktrans.Error{
				Kind:       arktrans.KindRateLimited,
				Status:     429,
				RetryAfter: 60 * time.Millisecond,
			}
		}
		return arktrans.TranslationResult{Translation: "ok", TokensUsed: 2}, nil
	}))
	cfg := newTestConfig(slowModel("slow-1"))
	cfg.MaxRetries = 1
	cfg.RetryDelayMS = 1

	tl := newTestTranslator(t, cfg, tr)

	start := time.Now()
	_, err := tl.Translate(context.Background(), arktrans.TranslationRequest{Text: "hello", TargetLang: "zh"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

// Test 12: repeated failures trip the per-model health gate
func TestTranslate_HealthGateTripsAfterConsecutiveFailures(t *testing.T) {
	tr := mock.New(mock.WithError(apiFailure("hard down")))
	cfg := newTestConfig(slowModel("slow-1"))
	cfg.MaxRetries = 5

	tl := newTestTranslator(t, cfg, tr)

	_, err := tl.Translate(context.Background(), arktrans.TranslationRequest{Text: "hello", TargetLang: "zh"})
	require.Error(t, err)
	// Five calls reach the wire; the sixth attempt is refused by the gate.
	assert.Equal(t, int64(5), tr.CallCount())

	_, err = tl.Translate(context.Background(), arktrans.TranslationRequest{Text: "hello", TargetLang: "zh"})
	require.Error(t, err)
	assert.Equal(t, int64(5), tr.CallCount())
}

// Test 13: constructor validation
func TestNewTranslator_Validation(t *testing.T) {
	tr := mock.New()

	_, err := arktrans.NewTranslator(nil, tr)
	assert.Equal(t, arktrans.KindConfig, arktrans.KindOf(err))

	_, err = arktrans.NewTranslator(newTestConfig(slowModel("slow-1")), nil)
	assert.Equal(t, arktrans.KindConfig, arktrans.KindOf(err))

	cfg := newTestConfig(slowModel("slow-1"))
	cfg.APIKey = ""
	_, err = arktrans.NewTranslator(cfg, tr)
	assert.Equal(t, arktrans.KindConfig, arktrans.KindOf(err))
}

// Test 14: current model starts at the first configured model
func TestCurrentModel_InitiallyFirstConfigured(t *testing.T) {
	tl := newTestTranslator(t, newTestConfig(slowModel("slow-1"), fastModel("fast-1")), mock.New())
	assert.Equal(t, "slow-1", tl.CurrentModel())
}

// Test 15: empty lanes produce a config error naming the lane
func TestTranslate_EmptySlowLane(t *testing.T) {
	tr := mock.New(mock.WithResult(arktrans.TranslationResult{Translation: "ok", TokensUsed: 2}))
	tl := newTestTranslator(t, newTestConfig(fastModel("fast-1")), tr)

	result, err := tl.Translate(context.Background(), arktrans.TranslationRequest{Text: "hello", TargetLang: "zh"})
	require.NoError(t, err)
	// No slow models: the slow lane fails with a config error and the
	// fast lane serves the request.
	assert.Equal(t, "fast-1", result.ModelUsed)
	assert.Equal(t, []string{"fast-1"}, tr.Calls())
}

// Test 16: batch items fail independently
func TestTranslateBatch_IndependentItems(t *testing.T) {
	tr := mock.New(mock.WithHandler(func(m arktrans.Model, req arktrans.TranslationRequest) (arktrans.TranslationResult, error) {
		if req.Text == "bad" {
			return arktrans.TranslationResult{}, &arktrans.Error{Kind: arktrans.KindQuotaExceeded}
		}
		return arktrans.TranslationResult{Translation: "ok:" + req.Text, TokensUsed: 1}, nil
	}))
	tl := newTestTranslator(t, newTestConfig(slowModel("slow-1")), tr)

	items := tl.TranslateBatch(context.Background(), []arktrans.TranslationRequest{
		{Text: "one", TargetLang: "zh"},
		{Text: "bad", TargetLang: "zh"},
		{Text: "two", TargetLang: "zh"},
	})
	require.Len(t, items, 3)

	assert.NoError(t, items[0].Err)
	assert.Equal(t, "ok:one", items[0].Result.Translation)
	assert.Error(t, items[1].Err)
	assert.NoError(t, items[2].Err)
	assert.Equal(t, "ok:two", items[2].Result.Translation)
}

// Test 17: disabled models never receive traffic
func TestTranslate_SkipsDisabledModels(t *testing.T) {
	disabled := slowModel("slow-off")
	disabled.Enabled = false

	tr := mock.New(mock.WithResult(arktrans.TranslationResult{Translation: "ok", TokensUsed: 2}))
	tl := newTestTranslator(t, newTestConfig(disabled, slowModel("slow-1")), tr)

	result, err := tl.Translate(context.Background(), arktrans.TranslationRequest{Text: "hello", TargetLang: "zh"})
	require.NoError(t, err)
	assert.Equal(t, "slow-1", result.ModelUsed)
	assert.Equal(t, []string{"slow-1"}, tr.Calls())

	models := tl.AvailableModels()
	require.Len(t, models, 1)
	assert.Equal(t, "slow-1", models[0].ID)
}

// brokenTracker admits everything but cannot persist usage.
type brokenTracker struct{}

func (b *brokenTracker) CanUse(ctx context.Context, n int) bool { return true }
func (b *brokenTracker) UseTokens(ctx context.Context, n int) error {
	return errors.New("storage offline")
}
func (b *brokenTracker) Usage(ctx context.Context) arktrans.TokenUsage { return arktrans.TokenUsage{} }
func (b *brokenTracker) Reset(ctx context.Context)                     {}
