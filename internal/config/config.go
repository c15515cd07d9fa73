package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Usage         UsageConfig         `mapstructure:"usage"`
	Enforcement   EnforcementConfig   `mapstructure:"enforcement"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Policy        PolicyConfig        `mapstructure:"policy"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	APIPort         int    `mapstructure:"api_port"`
	MetricsPort     int    `mapstructure:"metrics_port"`
	BindAddress     string `mapstructure:"bind_address"`
	RateLimit       int    `mapstructure:"rate_limit"` // requests per window per client
	RateLimitWindow string `mapstructure:"rate_limit_window"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "sqlite" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// UsageConfig defines usage accounting settings
type UsageConfig struct {
	TickInterval          string `mapstructure:"tick_interval"`
	PowerSaveTickInterval string `mapstructure:"power_save_tick_interval"`
	DailyResetTime        string `mapstructure:"daily_reset_time"` // HH:MM
	RetentionDays         int    `mapstructure:"retention_days"`
	PurgeDays             int    `mapstructure:"purge_days"`
}

// EnforcementConfig defines overlay and redirect timing
type EnforcementConfig struct {
	SelfPackage        string `mapstructure:"self_package"`
	OverlayEnabled     bool   `mapstructure:"overlay_enabled"`
	Debounce           string `mapstructure:"debounce"`
	Cooldown           string `mapstructure:"cooldown"`
	Countdown          string `mapstructure:"countdown"`
	ReinforceDelay     string `mapstructure:"reinforce_delay"`
	MaxConcurrentEvals int    `mapstructure:"max_concurrent_evals"`
}

// NotificationsConfig defines notification behavior
type NotificationsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DedupSize    int    `mapstructure:"dedup_size"`
	ScheduleLead string `mapstructure:"schedule_lead"`
}

// PolicyConfig defines where the decision policy is loaded from
type PolicyConfig struct {
	RegoDir string `mapstructure:"rego_dir"` // empty uses the built-in policy
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := New(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// New returns a viper instance carrying defaults, env binding and the config
// file path. It does not read the file.
func New(configPath string) *viper.Viper {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("TIMELOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.api_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.rate_limit", 120)
	v.SetDefault("server.rate_limit_window", "1m")

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.path", "/var/lib/timelock/timelock.db")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Usage defaults
	v.SetDefault("usage.tick_interval", "30s")
	v.SetDefault("usage.power_save_tick_interval", "120s")
	v.SetDefault("usage.daily_reset_time", "00:00")
	v.SetDefault("usage.retention_days", 30)
	v.SetDefault("usage.purge_days", 7)

	// Enforcement defaults
	v.SetDefault("enforcement.self_package", "com.johnivansn.timelock")
	v.SetDefault("enforcement.overlay_enabled", true)
	v.SetDefault("enforcement.debounce", "500ms")
	v.SetDefault("enforcement.cooldown", "2s")
	v.SetDefault("enforcement.countdown", "5s")
	v.SetDefault("enforcement.reinforce_delay", "80ms")
	v.SetDefault("enforcement.max_concurrent_evals", 4)

	// Notification defaults
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.dedup_size", 512)
	v.SetDefault("notifications.schedule_lead", "5m")

	// Policy defaults
	v.SetDefault("policy.rego_dir", "")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "":
		cfg.Storage.Type = "sqlite"
		fallthrough
	case "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	durations := map[string]string{
		"server.rate_limit_window":       cfg.Server.RateLimitWindow,
		"usage.tick_interval":            cfg.Usage.TickInterval,
		"usage.power_save_tick_interval": cfg.Usage.PowerSaveTickInterval,
		"enforcement.debounce":           cfg.Enforcement.Debounce,
		"enforcement.cooldown":           cfg.Enforcement.Cooldown,
		"enforcement.countdown":          cfg.Enforcement.Countdown,
		"enforcement.reinforce_delay":    cfg.Enforcement.ReinforceDelay,
		"notifications.schedule_lead":    cfg.Notifications.ScheduleLead,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", key)
		}
	}

	if _, _, err := ParseClock(cfg.Usage.DailyResetTime); err != nil {
		return fmt.Errorf("invalid usage.daily_reset_time: %w", err)
	}

	if cfg.Usage.RetentionDays < 1 {
		return fmt.Errorf("usage.retention_days must be at least 1")
	}
	if cfg.Usage.PurgeDays < 1 {
		return fmt.Errorf("usage.purge_days must be at least 1")
	}
	if cfg.Enforcement.MaxConcurrentEvals < 1 {
		cfg.Enforcement.MaxConcurrentEvals = 1
	}

	return nil
}

// ParseClock parses an "HH:MM" time of day
func ParseClock(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time out of range: %q", s)
	}
	return hour, minute, nil
}

// Duration parses a validated duration string, returning fallback when the
// string is empty or malformed
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
