// Package arktrans is a batch translation client for the Volcengine Ark
// responses API. It routes requests across a slow (translation-tuned) and
// a fast (general) model lane with retry, rate limiting, bounded
// concurrency, and a daily token budget.
package arktrans

// Version is reported by the CLI and the HTTP front-end.
const Version = "0.1.0"
