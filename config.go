package arktrans

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values, matching the upstream service's documented
// limits.
const (
	DefaultAPIEndpoint     = "https://ark.cn-beijing.volces.com/api/v3/responses"
	DefaultMaxConcurrent   = 20
	DefaultMaxRPS          = 10.0
	DefaultMaxRetries      = 3
	DefaultRetryDelayMS    = 1000
	DefaultMaxInputTokens  = 900
	DefaultTimeoutMS       = 30000
	DefaultDailyTokenLimit = 2000000
)

// Config is the translator configuration plus the model registry. Loaded
// once at startup and shared read-only thereafter.
type Config struct {
	APIKey      string  `yaml:"api_key"`
	APIEndpoint string  `yaml:"api_endpoint"`
	Models      []Model `yaml:"models"`

	MaxConcurrent   int     `yaml:"max_concurrent"`
	MaxRPS          float64 `yaml:"max_rps"`
	MaxRetries      int     `yaml:"max_retries"`
	RetryDelayMS    int     `yaml:"retry_delay_ms"`
	MaxInputTokens  int     `yaml:"max_input_tokens"`
	TimeoutMS       int     `yaml:"timeout_ms"`
	DailyTokenLimit int     `yaml:"daily_token_limit"`
}

// DefaultConfig returns a config with default limits, the default model
// catalog, and no API key.
func DefaultConfig() *Config {
	return &Config{
		APIEndpoint:     DefaultAPIEndpoint,
		Models:          DefaultModels(),
		MaxConcurrent:   DefaultMaxConcurrent,
		MaxRPS:          DefaultMaxRPS,
		MaxRetries:      DefaultMaxRetries,
		RetryDelayMS:    DefaultRetryDelayMS,
		MaxInputTokens:  DefaultMaxInputTokens,
		TimeoutMS:       DefaultTimeoutMS,
		DailyTokenLimit: DefaultDailyTokenLimit,
	}
}

// DefaultModels returns the built-in model catalog: one slow-lane
// translation model and the fast-lane fallbacks.
func DefaultModels() []Model {
	return []Model{
		{ID: "doubao-seed-translation-250915", Lane: LaneSlow, RPM: 5000, MaxConcurrent: 80, Enabled: true},
		{ID: "deepseek-v3-250324", Lane: LaneFast, RPM: 30000, MaxConcurrent: 500, Enabled: true},
		{ID: "doubao-seed-1-6-251015", Lane: LaneFast, RPM: 30000, MaxConcurrent: 500, Enabled: true},
		{ID: "doubao-1-5-vision-pro-32k-250115", Lane: LaneFast, RPM: 30000, MaxConcurrent: 500, Enabled: true},
		{ID: "deepseek-ai/DeepSeek-V3.2", Lane: LaneFast, RPM: 30000, MaxConcurrent: 500, Enabled: true},
	}
}

// FromEnv builds a config from defaults overridden by environment
// variables. Unparseable numeric values fall back to their defaults.
// Recognized variables: ARK_API_KEY, API_ENDPOINT, MAX_CONCURRENT,
// MAX_RPS, MAX_RETRIES, RETRY_DELAY_MS, MAX_INPUT_TOKENS,
// REQUEST_TIMEOUT_MS, DAILY_TOKEN_LIMIT.
func FromEnv() *Config {
	cfg := DefaultConfig()
	cfg.APIKey = os.Getenv("ARK_API_KEY")
	if v := os.Getenv("API_ENDPOINT"); v != "" {
		cfg.APIEndpoint = v
	}
	cfg.MaxConcurrent = envInt("MAX_CONCURRENT", cfg.MaxConcurrent)
	cfg.MaxRPS = envFloat("MAX_RPS", cfg.MaxRPS)
	cfg.MaxRetries = envInt("MAX_RETRIES", cfg.MaxRetries)
	cfg.RetryDelayMS = envInt("RETRY_DELAY_MS", cfg.RetryDelayMS)
	cfg.MaxInputTokens = envInt("MAX_INPUT_TOKENS", cfg.MaxInputTokens)
	cfg.TimeoutMS = envInt("REQUEST_TIMEOUT_MS", cfg.TimeoutMS)
	cfg.DailyTokenLimit = envInt("DAILY_TOKEN_LIMIT", cfg.DailyTokenLimit)
	return cfg
}

// LoadConfigFile reads a YAML config file. Environment variables in the
// format ${VAR} are expanded before parsing. Fields absent from the file
// keep their default values; an explicit empty models list keeps the
// default catalog.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("arktrans: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	cfg.Models = nil
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("arktrans: parse config: %w", err)
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultModels()
	}

	return cfg, nil
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// Validate checks the config for required fields and consistency. An empty
// model list is allowed (the caller is expected to warn); enabled models
// must carry positive rpm and concurrency limits.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return &Error{Kind: KindConfig, Message: "api key is required"}
	}
	if c.APIEndpoint == "" {
		return &Error{Kind: KindConfig, Message: "api endpoint is required"}
	}
	if c.MaxConcurrent <= 0 {
		return &Error{Kind: KindConfig, Message: "max_concurrent must be greater than 0"}
	}
	if c.MaxRPS <= 0 {
		return &Error{Kind: KindConfig, Message: "max_rps must be greater than 0"}
	}
	if c.MaxRetries < 0 {
		return &Error{Kind: KindConfig, Message: "max_retries must not be negative"}
	}
	if c.RetryDelayMS < 0 {
		return &Error{Kind: KindConfig, Message: "retry_delay_ms must not be negative"}
	}

	ids := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.ID == "" {
			return &Error{Kind: KindConfig, Message: fmt.Sprintf("model[%d]: id is required", i)}
		}
		if ids[m.ID] {
			return &Error{Kind: KindConfig, Message: fmt.Sprintf("duplicate model id %q", m.ID)}
		}
		ids[m.ID] = true

		if m.Lane != LaneSlow && m.Lane != LaneFast {
			return &Error{Kind: KindConfig, Message: fmt.Sprintf("model[%d] (%s): invalid lane %q", i, m.ID, m.Lane)}
		}
		if m.Enabled && m.RPM <= 0 {
			return &Error{Kind: KindConfig, Message: fmt.Sprintf("model[%d] (%s): rpm must be greater than 0", i, m.ID)}
		}
		if m.Enabled && m.MaxConcurrent <= 0 {
			return &Error{Kind: KindConfig, Message: fmt.Sprintf("model[%d] (%s): max_concurrent must be greater than 0", i, m.ID)}
		}
	}

	return nil
}

// ModelsByLane returns the enabled models of a lane in configured order.
// Configured order is attempt order: the first listed is tried first.
func (c *Config) ModelsByLane(lane LaneType) []Model {
	var out []Model
	for _, m := range c.Models {
		if m.Compatible(lane) {
			out = append(out, m)
		}
	}
	return out
}

// EnabledModels returns all enabled models in configured order.
func (c *Config) EnabledModels() []Model {
	var out []Model
	for _, m := range c.Models {
		if m.Enabled {
			out = append(out, m)
		}
	}
	return out
}

// FindModel looks up a model by id.
func (c *Config) FindModel(id string) (Model, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// ModelIDs returns the ids of all configured models in order.
func (c *Config) ModelIDs() []string {
	ids := make([]string, len(c.Models))
	for i, m := range c.Models {
		ids[i] = m.ID
	}
	return ids
}

// RetryDelay returns the base backoff delay as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// Timeout returns the per-request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}
