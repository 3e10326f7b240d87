// Package mock provides an in-memory Transport for tests.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LouisLau-art/arktrans"
)

// Transport is a scriptable Transport that records every call.
type Transport struct {
	latency   time.Duration
	staticErr error
	result    arktrans.TranslationResult
	handler   func(arktrans.Model, arktrans.TranslationRequest) (arktrans.TranslationResult, error)

	callCount   atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64

	mu    sync.Mutex
	calls []string
}

var _ arktrans.Transport = (*Transport)(nil)

// Option configures a mock Transport.
type Option func(*Transport)

// New creates a mock transport with the given options.
func New(opts ...Option) *Transport {
	t := &Transport{
		result: arktrans.TranslationResult{
			Translation:        "mock translation",
			DetectedSourceLang: "en",
			TokensUsed:         30,
			RequestID:          "mock-request-id",
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithResult sets the result returned on success.
func WithResult(r arktrans.TranslationResult) Option {
	return func(t *Transport) { t.result = r }
}

// WithError makes the transport always return this error.
func WithError(err error) Option {
	return func(t *Transport) { t.staticErr = err }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(t *Transport) { t.latency = d }
}

// WithHandler sets a custom per-call response function.
func WithHandler(fn func(arktrans.Model, arktrans.TranslationRequest) (arktrans.TranslationResult, error)) Option {
	return func(t *Transport) { t.handler = fn }
}

func (t *Transport) Translate(ctx context.Context, model arktrans.Model, req arktrans.TranslationRequest) (arktrans.TranslationResult, error) {
	t.callCount.Add(1)
	t.mu.Lock()
	t.calls = append(t.calls, model.ID)
	t.mu.Unlock()

	in := t.inFlight.Add(1)
	for {
		cur := t.maxInFlight.Load()
		if in <= cur || t.maxInFlight.CompareAndSwap(cur, in) {
			break
		}
	}
	defer t.inFlight.Add(-1)

	if t.latency > 0 {
		select {
		case <-time.After(t.latency):
		case <-ctx.Done():
			return arktrans.TranslationResult{}, ctx.Err()
		}
	}

	if t.handler != nil {
		res, err := t.handler(model, req)
		if err != nil {
			return arktrans.TranslationResult{}, err
		}
		if res.ModelUsed == "" {
			res.ModelUsed = model.ID
		}
		return res, nil
	}

	if t.staticErr != nil {
		return arktrans.TranslationResult{}, t.staticErr
	}

	res := t.result
	if res.ModelUsed == "" {
		res.ModelUsed = model.ID
	}
	return res, nil
}

// CallCount returns the number of calls made to the transport.
func (t *Transport) CallCount() int64 { return t.callCount.Load() }

// Calls returns the model ids of every call in order.
func (t *Transport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.calls))
	copy(out, t.calls)
	return out
}

// MaxInFlight returns the highest number of concurrent calls observed.
func (t *Transport) MaxInFlight() int64 { return t.maxInFlight.Load() }
