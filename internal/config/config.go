package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Remote store drivers
const (
	DriverREST = "rest"
	DriverSQL  = "sql"
)

// MinOversample is the smallest allowed top-N oversampling factor
const MinOversample = 3

// Config holds the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Remote       RemoteConfig       `yaml:"remote"`
	Policy       PolicyConfig       `yaml:"policy"`
	Cache        CacheConfig        `yaml:"cache"`
	Leaderboard  LeaderboardConfig  `yaml:"leaderboard"`
	Registration RegistrationConfig `yaml:"registration"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"SPINBOARD_LISTEN_ADDR"`
	HTTPPort   int    `yaml:"http_port" env:"SPINBOARD_HTTP_PORT"`
}

// RemoteConfig selects and configures the authoritative leaderboard store
type RemoteConfig struct {
	Driver       string        `yaml:"driver" env:"SPINBOARD_REMOTE_DRIVER"`
	URL          string        `yaml:"url" env:"SPINBOARD_REMOTE_URL"`
	APIKey       string        `yaml:"api_key" env:"SPINBOARD_REMOTE_API_KEY"`
	Table        string        `yaml:"table"`
	SQLDriver    string        `yaml:"sql_driver" env:"SPINBOARD_REMOTE_SQL_DRIVER"`
	DSN          string        `yaml:"dsn" env:"SPINBOARD_REMOTE_DSN"`
	CreateSchema bool          `yaml:"create_schema"`
	Oversample   int           `yaml:"oversample"`
	Timeout      time.Duration `yaml:"timeout"` // 0 keeps the transport default
}

// PolicyConfig configures the content-policy endpoint
type PolicyConfig struct {
	Endpoint string        `yaml:"endpoint" env:"SPINBOARD_POLICY_ENDPOINT"`
	Rate     float64       `yaml:"rate"` // checks per second; negative disables the limiter
	Burst    int           `yaml:"burst"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CacheConfig holds local cache settings
type CacheConfig struct {
	Path        string        `yaml:"path" env:"SPINBOARD_CACHE_PATH"`
	InMemory    bool          `yaml:"in_memory"`
	SyncWrites  bool          `yaml:"sync_writes"`
	LockTimeout time.Duration `yaml:"lock_timeout"` // wait for another process holding the cache
}

// LeaderboardConfig holds read path settings
type LeaderboardConfig struct {
	Limit           int           `yaml:"limit"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// RegistrationConfig holds handle admission settings
type RegistrationConfig struct {
	FlashDelay time.Duration `yaml:"flash_delay"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level" env:"SPINBOARD_LOG_LEVEL"`
	Format string `yaml:"format" env:"SPINBOARD_LOG_FORMAT"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads configuration from a YAML file. An empty path loads defaults only.
// SPINBOARD_* environment variables override file values.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}

	if cfg.Remote.Driver == "" {
		cfg.Remote.Driver = DriverREST
	}
	if cfg.Remote.Table == "" {
		cfg.Remote.Table = "leaderboard"
	}
	if cfg.Remote.SQLDriver == "" {
		cfg.Remote.SQLDriver = "postgres"
	}
	if cfg.Remote.Oversample == 0 {
		cfg.Remote.Oversample = MinOversample
	}

	if cfg.Policy.Endpoint == "" {
		cfg.Policy.Endpoint = "https://www.purgomalum.com/service/containsprofanity"
	}
	if cfg.Policy.Rate == 0 {
		cfg.Policy.Rate = 2
	}
	if cfg.Policy.Burst == 0 {
		cfg.Policy.Burst = 4
	}

	if cfg.Cache.Path == "" && !cfg.Cache.InMemory {
		cfg.Cache.Path = defaultCachePath()
	}
	if cfg.Cache.LockTimeout == 0 {
		cfg.Cache.LockTimeout = 2 * time.Second
	}

	if cfg.Leaderboard.Limit == 0 {
		cfg.Leaderboard.Limit = 10
	}
	if cfg.Leaderboard.RefreshInterval == 0 {
		cfg.Leaderboard.RefreshInterval = 20 * time.Second
	}

	if cfg.Registration.FlashDelay == 0 {
		cfg.Registration.FlashDelay = 900 * time.Millisecond
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate checks values that have no sensible fallback
func (cfg *Config) Validate() error {
	switch cfg.Remote.Driver {
	case DriverREST:
		if cfg.Remote.URL == "" {
			return fmt.Errorf("remote.url is required for the %s driver", DriverREST)
		}
	case DriverSQL:
		if cfg.Remote.DSN == "" {
			return fmt.Errorf("remote.dsn is required for the %s driver", DriverSQL)
		}
		if cfg.Remote.SQLDriver != "postgres" && cfg.Remote.SQLDriver != "sqlite" {
			return fmt.Errorf("unknown remote.sql_driver %q", cfg.Remote.SQLDriver)
		}
	default:
		return fmt.Errorf("unknown remote.driver %q", cfg.Remote.Driver)
	}
	if cfg.Remote.Oversample < MinOversample {
		return fmt.Errorf("remote.oversample must be at least %d", MinOversample)
	}
	if cfg.Leaderboard.Limit < 1 {
		return fmt.Errorf("leaderboard.limit must be positive")
	}
	if cfg.Policy.Rate > 0 && cfg.Policy.Burst < 1 {
		return fmt.Errorf("policy.burst must be positive when policy.rate is set")
	}
	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a config level name onto slog
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log.level %q", level)
}

// defaultCachePath places the cache under the user's data directory
func defaultCachePath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "spinboard")
	}
	return ".spinboard"
}
