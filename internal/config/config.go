package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/danmuck/bridgectl/internal/logging"
)

// Config is the hub daemon's file-level configuration. Durations are
// strings in time.ParseDuration form so the file stays readable.
type Config struct {
	ListenAddr  string   `toml:"listen_addr"`
	AdminListen string   `toml:"admin_listen"`
	Token       string   `toml:"token"`
	CorsOrigins []string `toml:"cors_origins"`
	LogLevel    string   `toml:"log_level"`

	Cache     CacheConfig     `toml:"cache"`
	Resolver  ResolverConfig  `toml:"resolver"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Storage   StorageConfig   `toml:"storage"`
	Fetch     FetchConfig     `toml:"fetch"`
}

type CacheConfig struct {
	Capacity int  `toml:"capacity"`
	Force    bool `toml:"force"`
}

type ResolverConfig struct {
	Interval string `toml:"interval"`
}

// RateLimitConfig bounds per-pane inbound requests. RPS zero disables
// limiting entirely.
type RateLimitConfig struct {
	RPS     float64 `toml:"rps"`
	Burst   int     `toml:"burst"`
	IdleTTL string  `toml:"idle_ttl"`
}

// StorageConfig selects the store backing pane storage. A blank path
// keeps everything in memory; a passphrase seals the snapshot at rest.
type StorageConfig struct {
	Path       string `toml:"path"`
	Passphrase string `toml:"passphrase"`
}

type FetchConfig struct {
	Timeout      string `toml:"timeout"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// PaneConfig configures one panectl session.
type PaneConfig struct {
	Hub     string `toml:"hub"`
	Window  string `toml:"window"`
	Private bool   `toml:"private"`
	Token   string `toml:"token"`
}

func Default() Config {
	return Config{
		ListenAddr:  "127.0.0.1:7400",
		AdminListen: "127.0.0.1:7410",
		LogLevel:    "info",
		Cache: CacheConfig{
			Capacity: 128,
		},
		Resolver: ResolverConfig{
			Interval: "25ms",
		},
		RateLimit: RateLimitConfig{
			IdleTTL: "10m",
		},
		Fetch: FetchConfig{
			Timeout:      "30s",
			MaxBodyBytes: 4 * 1024 * 1024,
		},
	}
}

func DefaultPane() PaneConfig {
	return PaneConfig{
		Hub:    "127.0.0.1:7400",
		Window: "main",
	}
}

// Load reads path over the defaults; keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	if err := loadToml(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func LoadPane(path string) (PaneConfig, error) {
	cfg := DefaultPane()
	if err := loadToml(path, &cfg); err != nil {
		return PaneConfig{}, err
	}
	if err := ValidatePane(cfg); err != nil {
		return PaneConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("hub config missing listen_addr")
	}
	if cfg.LogLevel != "" {
		if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
			return fmt.Errorf("hub config invalid log_level %q", cfg.LogLevel)
		}
	}
	if cfg.Cache.Capacity < 1 {
		return fmt.Errorf("hub config cache capacity must be at least 1")
	}
	if _, err := parseInterval(cfg.Resolver.Interval, "resolver interval"); err != nil {
		return err
	}
	if cfg.RateLimit.RPS < 0 {
		return fmt.Errorf("hub config ratelimit rps must not be negative")
	}
	if cfg.RateLimit.RPS > 0 && cfg.RateLimit.Burst < 1 {
		return fmt.Errorf("hub config ratelimit burst must be at least 1 when rps is set")
	}
	if cfg.RateLimit.IdleTTL != "" {
		if _, err := parseInterval(cfg.RateLimit.IdleTTL, "ratelimit idle_ttl"); err != nil {
			return err
		}
	}
	if strings.TrimSpace(cfg.Storage.Passphrase) != "" &&
		strings.TrimSpace(cfg.Storage.Path) == "" {
		return fmt.Errorf("hub config storage passphrase requires a path")
	}
	if _, err := parseInterval(cfg.Fetch.Timeout, "fetch timeout"); err != nil {
		return err
	}
	if cfg.Fetch.MaxBodyBytes < 1 {
		return fmt.Errorf("hub config fetch max_body_bytes must be at least 1")
	}
	return nil
}

func ValidatePane(cfg PaneConfig) error {
	if strings.TrimSpace(cfg.Hub) == "" {
		return fmt.Errorf("pane config missing hub")
	}
	if strings.TrimSpace(cfg.Window) == "" {
		return fmt.Errorf("pane config missing window")
	}
	return nil
}

// ResolveInterval returns the parsed resolver cadence. Call Validate
// first; a malformed value comes back zero.
func (c Config) ResolveInterval() time.Duration {
	d, _ := time.ParseDuration(strings.TrimSpace(c.Resolver.Interval))
	return d
}

// RateLimitIdleTTL returns the parsed limiter idle eviction window.
func (c Config) RateLimitIdleTTL() time.Duration {
	d, _ := time.ParseDuration(strings.TrimSpace(c.RateLimit.IdleTTL))
	return d
}

// FetchTimeout returns the parsed outbound fetch deadline.
func (c Config) FetchTimeout() time.Duration {
	d, _ := time.ParseDuration(strings.TrimSpace(c.Fetch.Timeout))
	return d
}

func parseInterval(raw, what string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("hub config %s invalid: %w", what, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("hub config %s must be positive", what)
	}
	return d, nil
}
