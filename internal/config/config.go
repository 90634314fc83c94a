// Package config carries the runtime settings for the sync engine.
// Everything has a sensible default; overrides come from BOCCHI_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"
)

// LCUConfig controls how the engine finds and polls the League client.
type LCUConfig struct {
	// LockfilePath overrides lockfile discovery when set.
	LockfilePath string
	// ConnectInterval is how often to retry finding the client.
	ConnectInterval time.Duration
}

// MonitorConfig controls the gameflow monitor.
type MonitorConfig struct {
	// AutoAccept enables accepting ready checks automatically.
	AutoAccept bool
	// AutoAcceptDelay is the grace period before accepting.
	AutoAcceptDelay time.Duration
	// WatchdogThreshold is how many consecutive push failures switch
	// the monitor to backup polling.
	WatchdogThreshold int
	// BackupPollInterval is the polling cadence while degraded.
	BackupPollInterval time.Duration
}

// PreselectConfig controls the preselect monitor.
type PreselectConfig struct {
	// RescanInterval is the lobby rescan cadence while selecting.
	RescanInterval time.Duration
	// MatchmakingPollInterval is the search poll cadence while queued.
	MatchmakingPollInterval time.Duration
	// DetectionTimeout reverts a queue-type-only detection that never
	// produced champion data.
	DetectionTimeout time.Duration
}

// CacheConfig controls the LCU request cache.
type CacheConfig struct {
	DefaultTTL time.Duration
}

// BridgeConfig controls the embedded NATS event bridge.
type BridgeConfig struct {
	Enabled bool
	Port    int
}

// Config is the full engine configuration.
type Config struct {
	LCU       LCUConfig
	Monitor   MonitorConfig
	Preselect PreselectConfig
	Cache     CacheConfig
	Bridge    BridgeConfig
	LogLevel  string
}

// DefaultConfig returns the configuration used when no overrides are
// set.
func DefaultConfig() Config {
	return Config{
		LCU: LCUConfig{
			ConnectInterval: 2 * time.Second,
		},
		Monitor: MonitorConfig{
			AutoAccept:         true,
			AutoAcceptDelay:    time.Second,
			WatchdogThreshold:  3,
			BackupPollInterval: 2 * time.Second,
		},
		Preselect: PreselectConfig{
			RescanInterval:          2 * time.Second,
			MatchmakingPollInterval: time.Second,
			DetectionTimeout:        30 * time.Second,
		},
		Cache: CacheConfig{
			DefaultTTL: time.Second,
		},
		Bridge: BridgeConfig{
			Enabled: false,
			Port:    4222,
		},
		LogLevel: "info",
	}
}

// FromEnv builds a Config from BOCCHI_* environment variables on top
// of the defaults. Unparseable values keep the default.
func FromEnv() Config {
	cfg := DefaultConfig()

	cfg.LCU.LockfilePath = getEnvString("BOCCHI_LOCKFILE_PATH", cfg.LCU.LockfilePath)
	cfg.LCU.ConnectInterval = getEnvDuration("BOCCHI_CONNECT_INTERVAL", cfg.LCU.ConnectInterval)

	cfg.Monitor.AutoAccept = getEnvBool("BOCCHI_AUTO_ACCEPT", cfg.Monitor.AutoAccept)
	cfg.Monitor.AutoAcceptDelay = getEnvDuration("BOCCHI_AUTO_ACCEPT_DELAY", cfg.Monitor.AutoAcceptDelay)
	cfg.Monitor.WatchdogThreshold = getEnvInt("BOCCHI_WATCHDOG_THRESHOLD", cfg.Monitor.WatchdogThreshold)
	cfg.Monitor.BackupPollInterval = getEnvDuration("BOCCHI_BACKUP_POLL_INTERVAL", cfg.Monitor.BackupPollInterval)

	cfg.Preselect.RescanInterval = getEnvDuration("BOCCHI_RESCAN_INTERVAL", cfg.Preselect.RescanInterval)
	cfg.Preselect.MatchmakingPollInterval = getEnvDuration("BOCCHI_MATCHMAKING_POLL_INTERVAL", cfg.Preselect.MatchmakingPollInterval)
	cfg.Preselect.DetectionTimeout = getEnvDuration("BOCCHI_DETECTION_TIMEOUT", cfg.Preselect.DetectionTimeout)

	cfg.Cache.DefaultTTL = getEnvDuration("BOCCHI_CACHE_TTL", cfg.Cache.DefaultTTL)

	cfg.Bridge.Enabled = getEnvBool("BOCCHI_BRIDGE_ENABLED", cfg.Bridge.Enabled)
	cfg.Bridge.Port = getEnvInt("BOCCHI_BRIDGE_PORT", cfg.Bridge.Port)

	cfg.LogLevel = getEnvString("BOCCHI_LOG_LEVEL", cfg.LogLevel)

	return cfg
}

// Validate checks the configuration for values the engine cannot run
// with.
func (c Config) Validate() error {
	if c.LCU.ConnectInterval <= 0 {
		return fmt.Errorf("connect interval must be positive, got %v", c.LCU.ConnectInterval)
	}
	if c.Monitor.AutoAcceptDelay < 0 {
		return fmt.Errorf("auto accept delay must not be negative, got %v", c.Monitor.AutoAcceptDelay)
	}
	if c.Monitor.WatchdogThreshold < 1 {
		return fmt.Errorf("watchdog threshold must be at least 1, got %d", c.Monitor.WatchdogThreshold)
	}
	if c.Monitor.BackupPollInterval <= 0 {
		return fmt.Errorf("backup poll interval must be positive, got %v", c.Monitor.BackupPollInterval)
	}
	if c.Preselect.RescanInterval <= 0 {
		return fmt.Errorf("rescan interval must be positive, got %v", c.Preselect.RescanInterval)
	}
	if c.Preselect.MatchmakingPollInterval <= 0 {
		return fmt.Errorf("matchmaking poll interval must be positive, got %v", c.Preselect.MatchmakingPollInterval)
	}
	if c.Preselect.DetectionTimeout <= 0 {
		return fmt.Errorf("detection timeout must be positive, got %v", c.Preselect.DetectionTimeout)
	}
	if c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %v", c.Cache.DefaultTTL)
	}
	if c.Bridge.Enabled && (c.Bridge.Port < 1 || c.Bridge.Port > 65535) {
		return fmt.Errorf("bridge port must be in 1-65535, got %d", c.Bridge.Port)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
