// Package config holds the server configuration and the secrets file
// loader.
//
// Configuration sources, in order of precedence: CLI flags, SWIFTNBD_*
// environment variables, an optional YAML configuration file, and built-in
// defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Built-in defaults. The auth URL points at the reference OpenStack Object
// Storage deployment; most installations override it.
const (
	DefaultAuthURL     = "https://auth.storage.memset.com/v1.0"
	DefaultSecretsFile = "/etc/swiftnbd/secrets.conf"
	DefaultBindAddress = "127.0.0.1"
	DefaultPort        = 10809
	DefaultCacheMB     = 64
	DefaultStatsDelay  = 300 * time.Second
)

// Config is the NBD server configuration.
type Config struct {
	// SecretsFile enumerates the exports and their credentials.
	SecretsFile string `mapstructure:"secrets" validate:"required"`

	// AuthURL is the default authentication URL for exports whose secrets
	// section does not carry one.
	AuthURL string `mapstructure:"auth_url" validate:"required,url"`

	// BindAddress is the IP address the NBD listener binds to.
	BindAddress string `mapstructure:"bind_address" validate:"required,ip"`

	// Port is the NBD listener port.
	Port int `mapstructure:"port" validate:"required,gt=0,lte=65535"`

	// CacheLimitMB bounds the per-export object cache, in MiB.
	CacheLimitMB int `mapstructure:"cache_limit" validate:"gte=1"`

	// StatsDelay is the period between STATS/CACHE log lines.
	StatsDelay time.Duration `mapstructure:"stats_delay" validate:"gt=0"`

	// MaxConnections limits concurrent NBD clients. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"gte=0"`

	// ShutdownTimeout bounds the graceful shutdown wait.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	// MetricsAddress enables the Prometheus endpoint when set
	// (host:port).
	MetricsAddress string `mapstructure:"metrics_address" validate:"omitempty,hostname_port"`

	// PIDFile, when set, is created at startup and removed on clean
	// shutdown. Startup fails if the file already exists.
	PIDFile string `mapstructure:"pid_file"`

	// LogFile redirects logging from stderr when set.
	LogFile string `mapstructure:"log_file"`

	// LogFormat selects the log encoding.
	LogFormat string `mapstructure:"log_format" validate:"oneof=text json"`

	// Verbose enables debug logging.
	Verbose bool `mapstructure:"verbose"`
}

// CacheBytes returns the configured cache limit in bytes.
func (c *Config) CacheBytes() int64 {
	return int64(c.CacheLimitMB) << 20
}

// LogLevel returns the logger level implied by the verbose flag.
func (c *Config) LogLevel() string {
	if c.Verbose {
		return "DEBUG"
	}
	return "INFO"
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("secrets", DefaultSecretsFile)
	v.SetDefault("auth_url", DefaultAuthURL)
	v.SetDefault("bind_address", DefaultBindAddress)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("cache_limit", DefaultCacheMB)
	v.SetDefault("stats_delay", DefaultStatsDelay)
	v.SetDefault("max_connections", 0)
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("log_format", "text")
}

// Load resolves the configuration from v, reading configFile when given,
// applying SWIFTNBD_* environment overrides and validating the result.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix("SWIFTNBD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
