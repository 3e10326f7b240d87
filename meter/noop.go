package meter

import "github.com/LouisLau-art/arktrans"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ arktrans.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnAttempt(arktrans.AttemptEvent) {}
func (m *NoopMeter) OnResult(arktrans.ResultEvent)   {}
