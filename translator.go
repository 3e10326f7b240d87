package arktrans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Translator routes translation requests across lanes of models under a
// daily token budget, a global concurrency ceiling, and per-model retry
// with exponential backoff. The slow lane is tried first; the fast lane
// is the fallback.
type Translator struct {
	cfg       *Config
	transport Transport
	quota     QuotaTracker
	meter     Meter
	logger    *slog.Logger

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	gate    *modelGate

	mu           sync.RWMutex
	currentModel string
}

// Option configures a Translator.
type Option func(*Translator)

// WithQuotaTracker sets the quota backend. The default is an in-memory
// tracker sized by the config's daily token limit.
func WithQuotaTracker(q QuotaTracker) Option {
	return func(t *Translator) { t.quota = q }
}

// WithMeter sets the attempt/result observer.
func WithMeter(m Meter) Option {
	return func(t *Translator) { t.meter = m }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(t *Translator) { t.logger = l }
}

// NewTranslator validates cfg and assembles a translator that sends wire
// calls through the given transport.
func NewTranslator(cfg *Config, transport Transport, opts ...Option) (*Translator, error) {
	if cfg == nil {
		return nil, &Error{Kind: KindConfig, Message: "config is required"}
	}
	if transport == nil {
		return nil, &Error{Kind: KindConfig, Message: "transport is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Translator{
		cfg:       cfg,
		transport: transport,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		limiter:   rate.NewLimiter(rate.Limit(cfg.MaxRPS), rpsBurst(cfg.MaxRPS)),
	}
	if len(cfg.Models) > 0 {
		t.currentModel = cfg.Models[0].ID
	}

	for _, opt := range opts {
		opt(t)
	}

	// Defaults for anything not supplied via options.
	if t.logger == nil {
		t.logger = slog.Default()
	}
	if t.quota == nil {
		t.quota = NewMemoryTracker(cfg.DailyTokenLimit)
	}
	if t.meter == nil {
		t.meter = noopMeter{}
	}
	t.gate = newModelGate(func(name string, from, to gobreaker.State) {
		t.logger.Warn("model health state changed",
			"model", name, "from", from.String(), "to", to.String())
	})

	if len(cfg.Models) == 0 {
		t.logger.Warn("no models configured")
	}

	return t, nil
}

// Translate routes one request through the pipeline: quota precheck (fail
// fast, no wire call), admission (one permit from the global pool, held
// until return), slow lane, then fast lane on slow-lane failure. When both
// lanes fail the slow lane's error is returned; the fast lane's failure is
// only logged.
func (t *Translator) Translate(ctx context.Context, req TranslationRequest) (TranslationResult, error) {
	logger := t.logger.With("request_id", uuid.NewString())

	estimated := EstimateTokens(req.Text)
	if !t.quota.CanUse(ctx, estimated) {
		usage := t.quota.Usage(ctx)
		logger.Warn("daily token budget exhausted",
			"estimated_tokens", estimated, "remaining", usage.Remaining())
		return TranslationResult{}, &Error{
			Kind:    KindQuotaExceeded,
			Message: fmt.Sprintf("estimated %d tokens, %d remaining today", estimated, usage.Remaining()),
		}
	}

	if err := t.sem.Acquire(ctx, 1); err != nil {
		return TranslationResult{}, &Error{Kind: KindInternal, Message: "admission wait aborted", Err: err}
	}
	defer t.sem.Release(1)

	result, slowErr := t.attemptLane(ctx, logger, req, LaneSlow)
	if slowErr != nil {
		logger.Warn("slow lane failed, trying fast lane", "error", slowErr)
		var fastErr error
		result, fastErr = t.attemptLane(ctx, logger, req, LaneFast)
		if fastErr != nil {
			logger.Warn("fast lane also failed", "error", fastErr)
			return TranslationResult{}, slowErr
		}
	}

	if err := t.quota.UseTokens(ctx, result.TokensUsed); err != nil {
		logger.Warn("failed to track token usage",
			"tokens", result.TokensUsed, "error", err)
	}
	t.setCurrentModel(result.ModelUsed)

	return result, nil
}

// attemptLane tries each enabled model of a lane in configured order and
// returns the first success. Individual model failures are logged and
// absorbed; only total lane exhaustion escapes.
func (t *Translator) attemptLane(ctx context.Context, logger *slog.Logger, req TranslationRequest, lane LaneType) (TranslationResult, error) {
	models := t.cfg.ModelsByLane(lane)
	if len(models) == 0 {
		return TranslationResult{}, &Error{
			Kind:    KindConfig,
			Message: fmt.Sprintf("no models available for lane: %s", lane),
		}
	}

	for _, model := range models {
		result, err := t.attemptModel(ctx, logger, req, model)
		if err == nil {
			return result, nil
		}
		logger.Warn("model failed", "model", model.ID, "lane", lane, "error", err)
	}

	return TranslationResult{}, &Error{
		Kind:    KindConfig,
		Message: fmt.Sprintf("all models in lane %s failed", lane),
	}
}

// attemptModel runs the bounded retry loop for one model: up to
// MaxRetries+1 attempts, sleeping retry_delay * 2^(n-1) before attempt n.
func (t *Translator) attemptModel(ctx context.Context, logger *slog.Logger, req TranslationRequest, model Model) (TranslationResult, error) {
	estimated := EstimateTokens(req.Text)

	var lastErr error
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := t.backoff(attempt, lastErr)
			logger.Debug("retrying model", "model", model.ID, "attempt", attempt, "delay", delay)
			if err := sleepContext(ctx, delay); err != nil {
				return TranslationResult{}, lastErr
			}
		}

		if err := t.limiter.Wait(ctx); err != nil {
			if lastErr != nil {
				return TranslationResult{}, lastErr
			}
			return TranslationResult{}, &Error{Kind: KindInternal, Message: "rate limit wait aborted", Err: err}
		}

		done, gateErr := t.gate.allow(model.ID)
		if gateErr != nil {
			if lastErr != nil {
				return TranslationResult{}, lastErr
			}
			return TranslationResult{}, &Error{
				Kind:    KindInternal,
				Message: fmt.Sprintf("model %s disabled by health gate", model.ID),
				Err:     gateErr,
			}
		}

		t.meter.OnAttempt(AttemptEvent{
			Model:           model.ID,
			Lane:            model.Lane,
			Attempt:         attempt,
			EstimatedTokens: estimated,
		})

		start := time.Now()
		result, err := t.transport.Translate(ctx, model, req)
		elapsed := time.Since(start)

		done(err == nil || errors.Is(err, context.Canceled))

		t.meter.OnResult(ResultEvent{
			Model:      model.ID,
			Lane:       model.Lane,
			Attempt:    attempt,
			Success:    err == nil,
			Duration:   elapsed,
			TokensUsed: result.TokensUsed,
			Error:      err,
		})

		if err == nil {
			if attempt > 0 {
				logger.Info("translation recovered after retries",
					"model", model.ID, "attempts", attempt)
			}
			return result, nil
		}

		lastErr = err
		if !shouldRetry(KindOf(err)) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	return TranslationResult{}, lastErr
}

// backoff computes the sleep before retry n: exponential growth on the
// configured base delay, raised to any upstream Retry-After hint carried
// by the previous failure.
func (t *Translator) backoff(attempt int, lastErr error) time.Duration {
	d := t.cfg.RetryDelay() * time.Duration(1<<uint(attempt-1))
	var te *Error
	if errors.As(lastErr, &te) && te.RetryAfter > d {
		d = te.RetryAfter
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func rpsBurst(rps float64) int {
	b := int(rps)
	if b < 1 {
		b = 1
	}
	return b
}

// TranslateBatch translates requests sequentially. Items are independent:
// a failure is recorded inline and does not abort the rest.
func (t *Translator) TranslateBatch(ctx context.Context, reqs []TranslationRequest) []BatchItem {
	items := make([]BatchItem, 0, len(reqs))
	for _, req := range reqs {
		result, err := t.Translate(ctx, req)
		items = append(items, BatchItem{Request: req, Result: result, Err: err})
	}
	return items
}

// TokenUsage returns a snapshot of today's token accounting.
func (t *Translator) TokenUsage(ctx context.Context) TokenUsage {
	return t.quota.Usage(ctx)
}

// AvailableModels returns the enabled models in configured order.
func (t *Translator) AvailableModels() []Model {
	return t.cfg.EnabledModels()
}

// CurrentModel returns the id of the model that served the most recent
// successful translation, or the first configured model before any
// success.
func (t *Translator) CurrentModel() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currentModel
}

func (t *Translator) setCurrentModel(id string) {
	t.mu.Lock()
	t.currentModel = id
	t.mu.Unlock()
}

// Config returns the shared, read-only configuration.
func (t *Translator) Config() *Config {
	return t.cfg
}

// noopMeter is the default Meter.
type noopMeter struct{}

func (noopMeter) OnAttempt(AttemptEvent) {}
func (noopMeter) OnResult(ResultEvent)   {}
