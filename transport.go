package arktrans

import "context"

// Transport turns one (model, request) pair into a wire call. The real
// implementation lives in transport/ark; tests use transport/mock.
//
// Implementations classify failures into the error kinds of this package:
// transport-level failures (connection, timeout) as KindNetwork, upstream
// 429 as KindRateLimited, quota/limit markers as KindQuotaExceeded,
// malformed payloads as KindInvalidResponse, and any other non-2xx as
// KindAPI.
type Transport interface {
	Translate(ctx context.Context, model Model, req TranslationRequest) (TranslationResult, error)
}
