package arktrans

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Gate thresholds. The trip threshold sits above the retry budget of a
// single call so the gate only reacts to failures persisting across calls.
const (
	gateTripThreshold = 5
	gateOpenTimeout   = 30 * time.Second
)

// modelGate tracks a circuit breaker per model. A model whose breaker is
// open is skipped by the lane loop until the open timeout elapses.
type modelGate struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
	onChange func(name string, from, to gobreaker.State)
}

func newModelGate(onChange func(name string, from, to gobreaker.State)) *modelGate {
	return &modelGate{
		breakers: make(map[string]*gobreaker.TwoStepCircuitBreaker),
		onChange: onChange,
	}
}

func (g *modelGate) breaker(modelID string) *gobreaker.TwoStepCircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[modelID]
	if !ok {
		cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
			Name:        modelID,
			MaxRequests: 1,
			Timeout:     gateOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= gateTripThreshold
			},
			OnStateChange: g.onChange,
		})
		g.breakers[modelID] = cb
	}
	return cb
}

// allow reserves a slot on the model's breaker. The returned func must be
// called with the attempt outcome. A non-nil error means the breaker
// refused the attempt.
func (g *modelGate) allow(modelID string) (func(success bool), error) {
	return g.breaker(modelID).Allow()
}
