package arktrans

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a translation failure. The retry policy in the
// orchestrator branches on the kind, never on message text.
type ErrorKind int

const (
	// KindInternal is an unexpected local failure.
	KindInternal ErrorKind = iota
	// KindAPI is a non-2xx upstream response that is not rate limiting
	// or quota exhaustion.
	KindAPI
	// KindRateLimited is an upstream 429.
	KindRateLimited
	// KindQuotaExceeded is daily budget exhaustion, local or upstream.
	KindQuotaExceeded
	// KindNetwork is a transport-level failure (connection, timeout).
	KindNetwork
	// KindInvalidResponse is a malformed or incomplete upstream payload.
	KindInvalidResponse
	// KindTimeout is a caller-imposed deadline expiry.
	KindTimeout
	// KindConfig is an invalid or exhausted configuration (bad settings,
	// empty lane, all models in a lane failed).
	KindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindAPI:
		return "api error"
	case KindRateLimited:
		return "rate limited"
	case KindQuotaExceeded:
		return "quota exceeded"
	case KindNetwork:
		return "network error"
	case KindInvalidResponse:
		return "invalid response"
	case KindTimeout:
		return "timeout"
	case KindConfig:
		return "config error"
	default:
		return "internal error"
	}
}

// Error is the tagged failure value for translation operations.
type Error struct {
	Kind    ErrorKind
	Message string

	// Status is the upstream HTTP status for KindAPI.
	Status int

	// RetryAfter is the upstream's retry hint for KindRateLimited;
	// zero when the upstream gave none.
	RetryAfter time.Duration

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindAPI && e.Status != 0:
		return fmt.Sprintf("arktrans: %s: status %d: %s", e.Kind, e.Status, e.Message)
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("arktrans: %s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("arktrans: %s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("arktrans: %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("arktrans: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err. Errors that are not (and do not
// wrap) *Error report KindInternal.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

// Retryable reports whether a failed attempt may be retried against the
// same model.
func Retryable(err error) bool {
	return shouldRetry(KindOf(err))
}

// shouldRetry is the retry policy consulted after each failed attempt.
// Quota exhaustion aborts immediately: retrying cannot help. Everything
// else, malformed responses included, retries until the attempt budget
// runs out.
func shouldRetry(k ErrorKind) bool {
	return k != KindQuotaExceeded
}
