// Package config loads server and proxy settings from config files and
// environment variables via viper. Every knob has a default so a bare
// binary starts up for local play.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server holds the game-server configuration.
type Server struct {
	ListenAddr string `mapstructure:"listen_addr"`

	RoundsToWin int `mapstructure:"rounds_to_win"`

	TurnTimeout    time.Duration `mapstructure:"turn_timeout"`
	ReconnectGrace time.Duration `mapstructure:"reconnect_grace"`
	GameOverLinger time.Duration `mapstructure:"game_over_linger"`

	DataOpTimeout    time.Duration `mapstructure:"data_op_timeout"`
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`

	// Chat rate limiting (token bucket).
	ChatRatePerMinute int `mapstructure:"chat_rate_per_minute"`
	ChatBurst         int `mapstructure:"chat_burst"`

	// Sync queue sizing.
	SyncWorkersHigh   int `mapstructure:"sync_workers_high"`
	SyncWorkersMedium int `mapstructure:"sync_workers_medium"`
	SyncWorkersLow    int `mapstructure:"sync_workers_low"`
	SyncMaxRetries    int `mapstructure:"sync_max_retries"`
}

// Proxy holds the edge-proxy configuration.
type Proxy struct {
	ListenAddr string   `mapstructure:"listen_addr"`
	Backends   []string `mapstructure:"backends"` // ordered: primary first

	HealthInterval time.Duration `mapstructure:"health_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	FailoverAfter  int           `mapstructure:"failover_after"`

	// Per-client migration rate limiting.
	MigrationLimit  int           `mapstructure:"migration_limit"`
	MigrationWindow time.Duration `mapstructure:"migration_window"`
	MigrationMinGap time.Duration `mapstructure:"migration_min_gap"`
}

func newViper(prefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadServer reads the server config. path may be empty to use defaults
// plus HOKM_*-prefixed environment variables only.
func LoadServer(path string) (*Server, error) {
	v := newViper("HOKM")

	v.SetDefault("listen_addr", ":9100")
	v.SetDefault("rounds_to_win", 7)
	v.SetDefault("turn_timeout", "60s")
	v.SetDefault("reconnect_grace", "180s")
	v.SetDefault("game_over_linger", "5m")
	v.SetDefault("data_op_timeout", "5s")
	v.SetDefault("heartbeat_timeout", "30m")
	v.SetDefault("chat_rate_per_minute", 20)
	v.SetDefault("chat_burst", 5)
	v.SetDefault("sync_workers_high", 4)
	v.SetDefault("sync_workers_medium", 2)
	v.SetDefault("sync_workers_low", 1)
	v.SetDefault("sync_max_retries", 3)

	if err := readIn(v, path); err != nil {
		return nil, err
	}

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal server config: %w", err)
	}
	if cfg.RoundsToWin <= 0 {
		return nil, fmt.Errorf("rounds_to_win must be positive, got %d", cfg.RoundsToWin)
	}
	return &cfg, nil
}

// LoadProxy reads the edge-proxy config (HOKM_PROXY_* environment prefix).
func LoadProxy(path string) (*Proxy, error) {
	v := newViper("HOKM_PROXY")

	v.SetDefault("listen_addr", ":9000")
	v.SetDefault("backends", []string{"ws://localhost:9100/ws"})
	v.SetDefault("health_interval", "2s")
	v.SetDefault("probe_timeout", "3s")
	v.SetDefault("failover_after", 1)
	v.SetDefault("migration_limit", 3)
	v.SetDefault("migration_window", "60s")
	v.SetDefault("migration_min_gap", "5s")

	if err := readIn(v, path); err != nil {
		return nil, err
	}

	var cfg Proxy
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal proxy config: %w", err)
	}
	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	return &cfg, nil
}

func readIn(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}
