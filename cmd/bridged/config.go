package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/danmuck/bridgectl/internal/config"
	"github.com/danmuck/bridgectl/internal/hub"
	"github.com/danmuck/bridgectl/internal/logging"
)

// localConfig carries operator overrides applied after the main config
// file. Only keys present in the file take effect.
type localConfig struct {
	HubID               string `toml:"hub_id"`
	ListenAddr          string `toml:"listen_addr"`
	AdminListen         string `toml:"admin_listen"`
	HeartbeatInterval   string `toml:"heartbeat_interval"`
	HeartbeatIntervalMS int64  `toml:"heartbeat_interval_ms"`
	ResolveInterval     string `toml:"resolve_interval"`
	LogLevel            string `toml:"log_level"`
}

// loadServiceConfig builds the runtime config: file config when given,
// defaults otherwise, then local overrides on top.
func loadServiceConfig(configPath, localPath string) (hub.ServiceConfig, zerolog.Level, error) {
	fileCfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return hub.ServiceConfig{}, zerolog.InfoLevel, err
		}
		fileCfg = loaded
	}

	cfg := buildServiceConfig(fileCfg)
	lvl, _ := logging.ParseLevel(fileCfg.LogLevel)

	if localPath != "" {
		overlay, err := applyLocalOverrides(&cfg, localPath)
		if err != nil {
			return hub.ServiceConfig{}, zerolog.InfoLevel, err
		}
		if overlay != "" {
			if parsed, ok := logging.ParseLevel(overlay); ok {
				lvl = parsed
			}
		}
	}
	return cfg, lvl, nil
}

func buildServiceConfig(fc config.Config) hub.ServiceConfig {
	cfg := hub.DefaultServiceConfig()
	cfg.ListenAddr = fc.ListenAddr
	cfg.AdminListen = fc.AdminListen
	cfg.Token = fc.Token
	cfg.CorsOrigins = fc.CorsOrigins
	cfg.CacheCapacity = fc.Cache.Capacity
	cfg.ForceCache = fc.Cache.Force
	cfg.ResolveInterval = fc.ResolveInterval()
	cfg.RateLimit = hub.RateLimitConfig{
		RPS:     fc.RateLimit.RPS,
		Burst:   fc.RateLimit.Burst,
		IdleTTL: fc.RateLimitIdleTTL(),
	}
	cfg.Storage = hub.StorageConfig{
		Path:       fc.Storage.Path,
		Passphrase: fc.Storage.Passphrase,
	}
	cfg.Fetch = hub.FetchConfig{
		Timeout:      fc.FetchTimeout(),
		MaxBodyBytes: fc.Fetch.MaxBodyBytes,
	}
	return cfg
}

// applyLocalOverrides decodes path onto cfg, honoring only keys the
// file defines. Returns the override log level, blank when unset.
func applyLocalOverrides(cfg *hub.ServiceConfig, path string) (string, error) {
	var raw localConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return "", fmt.Errorf("load local overrides: %w", err)
	}

	if meta.IsDefined("hub_id") {
		id := strings.TrimSpace(raw.HubID)
		if id != "" {
			cfg.HubID = id
		}
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("admin_listen") {
		cfg.AdminListen = strings.TrimSpace(raw.AdminListen)
	}
	if meta.IsDefined("heartbeat_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HeartbeatInterval))
		if err != nil {
			return "", fmt.Errorf("parse heartbeat_interval: %w", err)
		}
		cfg.HeartbeatInterval = d
	}
	if meta.IsDefined("heartbeat_interval_ms") {
		cfg.HeartbeatInterval = time.Duration(raw.HeartbeatIntervalMS) * time.Millisecond
	}
	if meta.IsDefined("resolve_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ResolveInterval))
		if err != nil {
			return "", fmt.Errorf("parse resolve_interval: %w", err)
		}
		cfg.ResolveInterval = d
	}
	if meta.IsDefined("log_level") {
		return strings.TrimSpace(raw.LogLevel), nil
	}
	return "", nil
}
