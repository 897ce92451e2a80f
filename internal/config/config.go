package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trusttag/trusttag/internal/verdict"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort     = 8080
	DefaultStorePath    = "./data/trusttag"
	DefaultHistoryLimit = 50
	DefaultLockTimeout  = 2 * time.Second
	DefaultViewerBuffer = 16
)

// HistoryLimit bounds accepted by validation. The dashboard shows at most the
// newest entries, so anything in this range is a display-retention choice.
const (
	MinHistoryLimit = 5
	MaxHistoryLimit = 50
)

// Config is the full trusttag-server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Verdict VerdictConfig `yaml:"verdict"`
	Cache   CacheConfig   `yaml:"cache"`
	Alerts  AlertsConfig  `yaml:"alerts"`
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	// HTTPPort serves the REST API, the WebSocket stream and /metrics.
	HTTPPort int `yaml:"http_port"`
}

// StoreConfig holds durable-store settings.
type StoreConfig struct {
	// Path is the Badger database directory.
	Path string `yaml:"path"`

	// HistoryLimit is how many history events each package retains.
	HistoryLimit int `yaml:"history_limit"`

	// LockTimeout bounds how long a reading waits for its per-package lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

// VerdictConfig holds the classification thresholds.
type VerdictConfig struct {
	// HardLimit is the open-circuit threshold in ohms.
	HardLimit int `yaml:"hard_limit"`

	// DriftLimit is the max tolerated drift from the baseline in ohms.
	DriftLimit int `yaml:"drift_limit"`
}

// Limits converts the configured thresholds to verdict.Limits.
func (v VerdictConfig) Limits() verdict.Limits {
	return verdict.Limits{HardLimit: v.HardLimit, DriftLimit: v.DriftLimit}
}

// CacheConfig holds live-cache fan-out settings.
type CacheConfig struct {
	// ViewerBuffer is the per-viewer update channel depth. A viewer that
	// falls this far behind is evicted and must resubscribe.
	ViewerBuffer int `yaml:"viewer_buffer"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression over package fields:
	// "status == TAMPERED", "drift > 3000", "current_res > 60000".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | pagerduty | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
		},
		Store: StoreConfig{
			Path:         DefaultStorePath,
			HistoryLimit: DefaultHistoryLimit,
			LockTimeout:  DefaultLockTimeout,
		},
		Verdict: VerdictConfig{
			HardLimit:  verdict.DefaultHardLimit,
			DriftLimit: verdict.DefaultDriftLimit,
		},
		Cache: CacheConfig{
			ViewerBuffer: DefaultViewerBuffer,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if cfg.Store.HistoryLimit < MinHistoryLimit || cfg.Store.HistoryLimit > MaxHistoryLimit {
		return fmt.Errorf("store.history_limit %d is out of range [%d, %d]",
			cfg.Store.HistoryLimit, MinHistoryLimit, MaxHistoryLimit)
	}
	if cfg.Store.LockTimeout <= 0 {
		return fmt.Errorf("store.lock_timeout must be positive")
	}
	if cfg.Verdict.HardLimit <= 0 {
		return fmt.Errorf("verdict.hard_limit must be positive")
	}
	if cfg.Verdict.DriftLimit <= 0 {
		return fmt.Errorf("verdict.drift_limit must be positive")
	}
	if cfg.Cache.ViewerBuffer <= 0 {
		return fmt.Errorf("cache.viewer_buffer must be positive")
	}
	for _, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts.rules: rule with empty name")
		}
		if r.Condition == "" {
			return fmt.Errorf("alerts.rules: rule %q has empty condition", r.Name)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("alerts.rules: rule %q severity %q unknown: want critical|warning|info", r.Name, r.Severity)
		}
	}
	return nil
}
