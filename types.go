package arktrans

import "time"

// LaneType names a tier of translation models.
type LaneType string

const (
	// LaneSlow is the free/low-cost tier, always tried first.
	LaneSlow LaneType = "slow"
	// LaneFast is the higher-capacity fallback tier.
	LaneFast LaneType = "fast"
)

// Model describes one upstream translation model. Immutable once loaded
// into the registry; identity is ID.
type Model struct {
	ID            string   `yaml:"id" json:"id"`
	Lane          LaneType `yaml:"lane" json:"lane"`
	RPM           int      `yaml:"rpm" json:"rpm"`
	MaxConcurrent int      `yaml:"max_concurrent" json:"max_concurrent"`
	Enabled       bool     `yaml:"enabled" json:"enabled"`
}

// Compatible reports whether the model can serve the given lane.
func (m Model) Compatible(lane LaneType) bool {
	return m.Lane == lane && m.Enabled
}

// TranslationRequest is a single unit of translation work. Text and
// TargetLang must be non-empty; SourceLang empty means auto-detect.
// Context is carried for callers but never sent on the wire.
type TranslationRequest struct {
	Text       string
	SourceLang string
	TargetLang string
	Context    string
}

// TranslationResult is produced exactly once per successful attempt,
// never partially filled.
type TranslationResult struct {
	Translation        string
	DetectedSourceLang string
	TokensUsed         int
	ModelUsed          string
	RequestID          string
}

// TokenUsage is a snapshot of the daily token accounting.
type TokenUsage struct {
	DailyLimit int       `json:"daily_limit"`
	UsedToday  int       `json:"used_today"`
	LastReset  time.Time `json:"last_reset"`
}

// Remaining returns the unconsumed budget for today, saturating at 0.
func (u TokenUsage) Remaining() int {
	if u.UsedToday >= u.DailyLimit {
		return 0
	}
	return u.DailyLimit - u.UsedToday
}

// CanUse reports whether n tokens fit in the remaining budget.
func (u TokenUsage) CanUse(n int) bool {
	return u.Remaining() >= n
}

// IsLow reports whether less than 10% of the daily budget remains.
func (u TokenUsage) IsLow() bool {
	return float64(u.Remaining()) < float64(u.DailyLimit)*0.1
}

// BatchItem pairs one request of a batch with its outcome. Err is nil on
// success; a failed item never aborts the rest of the batch.
type BatchItem struct {
	Request TranslationRequest
	Result  TranslationResult
	Err     error
}
