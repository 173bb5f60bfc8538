package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. FETCHCACHE_CACHE_ROOT_DIR
const EnvPrefix = "FETCHCACHE"

// Config represents the entire application configuration
type Config struct {
	Cache       CacheConfig       `mapstructure:"cache"`
	Transfer    TransferConfig    `mapstructure:"transfer"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// CacheConfig contains file store settings
type CacheConfig struct {
	RootDir string `mapstructure:"root_dir"`

	// MemoryLimit caps file bodies a coordinator keeps after download,
	// e.g. "64MB". "0" disables the memo.
	MemoryLimit string `mapstructure:"memory_limit"`
}

// TransferConfig contains HTTP download settings
type TransferConfig struct {
	ResponseHeaderTimeout string `mapstructure:"response_header_timeout"`
	IdleTimeout           string `mapstructure:"idle_timeout"`
	SkipTLSVerify         bool   `mapstructure:"skip_tls_verify"`
	UserAgent             string `mapstructure:"user_agent"`
	MaxConnsPerHost       int    `mapstructure:"max_conns_per_host"`
	BufferSizeKB          int    `mapstructure:"buffer_size_kb"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr     string `mapstructure:"bind_addr"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
	IdleTimeout  string `mapstructure:"idle_timeout"`
	FetchTimeout string `mapstructure:"fetch_timeout"`

	// Basic auth for /debug; empty username leaves it open
	DebugUsername string `mapstructure:"debug_username"`
	DebugPassword string `mapstructure:"debug_password"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains attempt journal settings
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// MaintenanceConfig contains cleanup settings
type MaintenanceConfig struct {
	CleanupInterval string `mapstructure:"cleanup_interval"`
	TempFileMaxAge  string `mapstructure:"temp_file_max_age"`
	AttemptMaxAge   string `mapstructure:"attempt_max_age"`
}

// TelemetryConfig contains metrics settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load reads configuration from configPath, if set, with defaults and
// environment overrides applied.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.root_dir", "./data/files")
	v.SetDefault("cache.memory_limit", "64MB")
	v.SetDefault("transfer.response_header_timeout", "30s")
	v.SetDefault("transfer.idle_timeout", "60s")
	v.SetDefault("transfer.skip_tls_verify", false)
	v.SetDefault("transfer.user_agent", "fetchcache/1")
	v.SetDefault("transfer.max_conns_per_host", 16)
	v.SetDefault("transfer.buffer_size_kb", 256)
	v.SetDefault("http.bind_addr", "127.0.0.1:8080")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "15m")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("http.fetch_timeout", "10m")
	v.SetDefault("http.debug_username", "")
	v.SetDefault("http.debug_password", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.path", "./data/journal.db")
	v.SetDefault("maintenance.cleanup_interval", "1h")
	v.SetDefault("maintenance.temp_file_max_age", "24h")
	v.SetDefault("maintenance.attempt_max_age", "720h")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "fetchcache")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Cache.RootDir == "" {
		return fmt.Errorf("cache.root_dir is required")
	}
	if c.Cache.MemoryLimit != "" {
		if _, err := humanize.ParseBytes(c.Cache.MemoryLimit); err != nil {
			return fmt.Errorf("invalid cache.memory_limit: %w", err)
		}
	}
	if c.Transfer.MaxConnsPerHost < 1 {
		return fmt.Errorf("transfer.max_conns_per_host must be positive")
	}
	if c.Database.Enabled && c.Database.Path == "" {
		return fmt.Errorf("database.path is required when the journal is enabled")
	}

	durations := map[string]string{
		"transfer.response_header_timeout": c.Transfer.ResponseHeaderTimeout,
		"transfer.idle_timeout":            c.Transfer.IdleTimeout,
		"http.read_timeout":                c.HTTP.ReadTimeout,
		"http.write_timeout":               c.HTTP.WriteTimeout,
		"http.idle_timeout":                c.HTTP.IdleTimeout,
		"http.fetch_timeout":               c.HTTP.FetchTimeout,
		"maintenance.cleanup_interval":     c.Maintenance.CleanupInterval,
		"maintenance.temp_file_max_age":    c.Maintenance.TempFileMaxAge,
		"maintenance.attempt_max_age":      c.Maintenance.AttemptMaxAge,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetMemoryLimit returns the memo limit in bytes
func (c *CacheConfig) GetMemoryLimit() int64 {
	if c.MemoryLimit == "" {
		return 64 * 1000 * 1000
	}
	n, err := humanize.ParseBytes(c.MemoryLimit)
	if err != nil {
		return 64 * 1000 * 1000
	}
	return int64(n)
}

// GetResponseHeaderTimeout returns the response header timeout as time.Duration
func (c *TransferConfig) GetResponseHeaderTimeout() time.Duration {
	return parseDuration(c.ResponseHeaderTimeout, 30*time.Second)
}

// GetIdleTimeout returns the body idle timeout. Zero disables it.
func (c *TransferConfig) GetIdleTimeout() time.Duration {
	return parseDuration(c.IdleTimeout, 60*time.Second)
}

// GetBufferSize returns the transfer copy buffer size in bytes
func (c *TransferConfig) GetBufferSize() int {
	if c.BufferSizeKB <= 0 {
		return 256 * 1024
	}
	return c.BufferSizeKB * 1024
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	return parseDuration(c.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the write timeout as time.Duration
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	return parseDuration(c.WriteTimeout, 15*time.Minute)
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	return parseDuration(c.IdleTimeout, 60*time.Second)
}

// GetFetchTimeout returns how long /fetch waits for a download
func (c *HTTPConfig) GetFetchTimeout() time.Duration {
	return parseDuration(c.FetchTimeout, 10*time.Minute)
}

// GetCleanupInterval returns the cleanup interval as time.Duration
func (c *MaintenanceConfig) GetCleanupInterval() time.Duration {
	return parseDuration(c.CleanupInterval, time.Hour)
}

// GetTempFileMaxAge returns the staging file max age as time.Duration
func (c *MaintenanceConfig) GetTempFileMaxAge() time.Duration {
	return parseDuration(c.TempFileMaxAge, 24*time.Hour)
}

// GetAttemptMaxAge returns the journal retention as time.Duration
func (c *MaintenanceConfig) GetAttemptMaxAge() time.Duration {
	return parseDuration(c.AttemptMaxAge, 30*24*time.Hour)
}
