package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	HTTPPort    int    `mapstructure:"http_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type     string         `mapstructure:"type"` // redis, postgres or memory
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"` // 0 when Host already carries the port
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// PostgresConfig defines PostgreSQL connection settings
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BillingConfig defines the parking tariff
type BillingConfig struct {
	GracePeriodMinutes float64 `mapstructure:"grace_period_minutes"`
	UnitRate           float64 `mapstructure:"unit_rate"`
	DailyCap           float64 `mapstructure:"daily_cap"`
}

// DedupConfig defines the repeated-detection filter for streaming sources
type DedupConfig struct {
	Window        string `mapstructure:"window"`
	MaxEntries    int    `mapstructure:"max_entries"`
	SweepInterval string `mapstructure:"sweep_interval"`
}

// ReconcileConfig defines store timeouts and conflict retries
type ReconcileConfig struct {
	StoreTimeout         string `mapstructure:"store_timeout"`
	MaxAttempts          int    `mapstructure:"max_attempts"`
	RetryInitialInterval string `mapstructure:"retry_initial_interval"`
}

// IngestConfig defines the result-file watcher
type IngestConfig struct {
	WatchDir string `mapstructure:"watch_dir"` // empty disables the watcher
}

// AdminConfig defines HTTP API access settings
type AdminConfig struct {
	JWTSecret    string   `mapstructure:"jwt_secret"` // empty disables token checks
	CORSOrigins  []string `mapstructure:"cors_origins"`
	Username     string   `mapstructure:"username"`
	PasswordHash string   `mapstructure:"password_hash"` // bcrypt; empty disables login
	TokenTTL     string   `mapstructure:"token_ttl"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("KPARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing file falls back to defaults and environment variables
	if _, err := os.Stat(configPath); configPath != "" && err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
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

// Default returns the configuration built from defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

// Keys returns every recognised configuration key, sorted.
func Keys() []string {
	v := viper.New()
	setDefaults(v)

	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9090)

	// Storage defaults
	v.SetDefault("storage.type", "redis")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.max_open_conns", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Billing defaults
	v.SetDefault("billing.grace_period_minutes", 10)
	v.SetDefault("billing.unit_rate", 2.00)
	v.SetDefault("billing.daily_cap", 10.00)

	// Dedup defaults
	v.SetDefault("dedup.window", "30s")
	v.SetDefault("dedup.max_entries", 10000)
	v.SetDefault("dedup.sweep_interval", "1m")

	// Reconcile defaults
	v.SetDefault("reconcile.store_timeout", "5s")
	v.SetDefault("reconcile.max_attempts", 3)
	v.SetDefault("reconcile.retry_initial_interval", "50ms")

	// Ingest defaults
	v.SetDefault("ingest.watch_dir", "")

	// Admin defaults
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.cors_origins", []string{})
	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.token_ttl", "24h")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required")
		}
	case "postgres":
		if cfg.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage type: %q", cfg.Storage.Type)
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown logging format: %q", cfg.Logging.Format)
	}

	if cfg.Billing.GracePeriodMinutes < 0 {
		return fmt.Errorf("billing.grace_period_minutes must not be negative")
	}
	if cfg.Billing.UnitRate < 0 || cfg.Billing.DailyCap < 0 {
		return fmt.Errorf("billing rates must not be negative")
	}

	if _, err := cfg.Dedup.WindowDuration(); err != nil {
		return err
	}
	if _, err := cfg.Dedup.SweepIntervalDuration(); err != nil {
		return err
	}
	if cfg.Dedup.MaxEntries <= 0 {
		return fmt.Errorf("dedup.max_entries must be positive")
	}

	if _, err := cfg.Reconcile.StoreTimeoutDuration(); err != nil {
		return err
	}
	if _, err := cfg.Reconcile.RetryInitialIntervalDuration(); err != nil {
		return err
	}
	if cfg.Reconcile.MaxAttempts < 1 {
		return fmt.Errorf("reconcile.max_attempts must be at least 1")
	}

	if _, err := cfg.Admin.TokenTTLDuration(); err != nil {
		return err
	}
	if cfg.Admin.PasswordHash != "" && cfg.Admin.JWTSecret == "" {
		return fmt.Errorf("admin.password_hash requires admin.jwt_secret")
	}

	return nil
}

func parsePositive(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

// WindowDuration parses dedup.window.
func (c DedupConfig) WindowDuration() (time.Duration, error) {
	return parsePositive("dedup.window", c.Window)
}

// SweepIntervalDuration parses dedup.sweep_interval.
func (c DedupConfig) SweepIntervalDuration() (time.Duration, error) {
	return parsePositive("dedup.sweep_interval", c.SweepInterval)
}

// StoreTimeoutDuration parses reconcile.store_timeout.
func (c ReconcileConfig) StoreTimeoutDuration() (time.Duration, error) {
	return parsePositive("reconcile.store_timeout", c.StoreTimeout)
}

// RetryInitialIntervalDuration parses reconcile.retry_initial_interval.
func (c ReconcileConfig) RetryInitialIntervalDuration() (time.Duration, error) {
	return parsePositive("reconcile.retry_initial_interval", c.RetryInitialInterval)
}

// TokenTTLDuration parses admin.token_ttl.
func (c AdminConfig) TokenTTLDuration() (time.Duration, error) {
	return parsePositive("admin.token_ttl", c.TokenTTL)
}
