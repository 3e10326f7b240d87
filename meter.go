package arktrans

import "time"

// Meter observes translation attempts for monitoring/logging.
type Meter interface {
	// OnAttempt is called before each wire call.
	OnAttempt(event AttemptEvent)

	// OnResult is called when a wire call returns.
	OnResult(event ResultEvent)
}

// AttemptEvent describes one wire attempt about to be made.
type AttemptEvent struct {
	Model           string
	Lane            LaneType
	Attempt         int
	EstimatedTokens int
}

// ResultEvent describes the outcome of a wire attempt.
type ResultEvent struct {
	Model      string
	Lane       LaneType
	Attempt    int
	Success    bool
	Duration   time.Duration
	TokensUsed int
	Error      error
}
