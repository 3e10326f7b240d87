package meter

import (
	"log/slog"

	"github.com/LouisLau-art/arktrans"
)

// LogMeter logs translation attempts and results using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ arktrans.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAttempt(e arktrans.AttemptEvent) {
	m.Logger.Info("attempt",
		"model", e.Model,
		"lane", e.Lane,
		"attempt", e.Attempt,
		"estimated_tokens", e.EstimatedTokens,
	)
}

func (m *LogMeter) OnResult(e arktrans.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"model", e.Model,
			"lane", e.Lane,
			"attempt", e.Attempt,
			"duration_ms", e.Duration.Milliseconds(),
			"tokens_used", e.TokensUsed,
		)
	} else {
		m.Logger.Warn("result_error",
			"model", e.Model,
			"lane", e.Lane,
			"attempt", e.Attempt,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}
