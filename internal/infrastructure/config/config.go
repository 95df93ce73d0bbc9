package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all client configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	Store     StoreConfig
	Redis     RedisConfig
	Authority AuthorityConfig
	Session   SessionConfig
	Sync      SyncConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// StoreConfig holds persistent store settings
type StoreConfig struct {
	Path string // SQLite file shared by all contexts of one profile
}

// RedisConfig holds the broadcast channel transport settings.
// An empty host disables the Redis transport; contexts then rely on the
// in-process hub and the store-change fallback.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Channel  string
}

// AuthorityConfig holds remote authority endpoint settings
type AuthorityConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SessionConfig holds session synchronizer settings
type SessionConfig struct {
	RefreshInterval    time.Duration
	CacheTTL           time.Duration
	MaxRefreshFailures int

	// OperatorBootstrap enables the built-in operator directory: the listed
	// usernames are trusted from cache without remote confirmation. This is
	// a development/bootstrap seam and is rejected in production.
	OperatorBootstrap bool
	OperatorUsernames []string
}

// SyncConfig holds cross-context delivery settings
type SyncConfig struct {
	EnvelopeMaxAge    time.Duration
	StorePollInterval time.Duration
}

// Load loads configuration from TOML file and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with STOREFRONT_ prefix (e.g. STOREFRONT_REDIS_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.storefront")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Store: StoreConfig{
			Path: v.GetString("store.path"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Channel:  v.GetString("redis.channel"),
		},
		Authority: AuthorityConfig{
			BaseURL: v.GetString("authority.base_url"),
			Timeout: v.GetDuration("authority.timeout"),
		},
		Session: SessionConfig{
			RefreshInterval:    v.GetDuration("session.refresh_interval"),
			CacheTTL:           v.GetDuration("session.cache_ttl"),
			MaxRefreshFailures: v.GetInt("session.max_refresh_failures"),
			OperatorBootstrap:  v.GetBool("session.operator_bootstrap"),
			OperatorUsernames:  v.GetStringSlice("session.operator_usernames"),
		},
		Sync: SyncConfig{
			EnvelopeMaxAge:    v.GetDuration("sync.envelope_max_age"),
			StorePollInterval: v.GetDuration("sync.store_poll_interval"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "storefront-client"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "storefront.db"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "storefront:sync"
	}
	if cfg.Authority.BaseURL == "" {
		cfg.Authority.BaseURL = "http://localhost:8080"
	}
	if cfg.Authority.Timeout == 0 {
		cfg.Authority.Timeout = 15 * time.Second
	}
	if cfg.Session.RefreshInterval == 0 {
		cfg.Session.RefreshInterval = time.Minute
	}
	if cfg.Session.CacheTTL == 0 {
		cfg.Session.CacheTTL = 5 * time.Minute
	}
	if cfg.Session.MaxRefreshFailures == 0 {
		cfg.Session.MaxRefreshFailures = 3
	}
	if cfg.Sync.EnvelopeMaxAge == 0 {
		cfg.Sync.EnvelopeMaxAge = 30 * time.Second
	}
	if cfg.Sync.StorePollInterval == 0 {
		cfg.Sync.StorePollInterval = time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Authority.Timeout < 0 {
		return fmt.Errorf("authority.timeout cannot be negative")
	}
	if c.Session.MaxRefreshFailures <= 0 {
		return fmt.Errorf("session.max_refresh_failures must be positive")
	}
	if c.Sync.EnvelopeMaxAge <= 0 {
		return fmt.Errorf("sync.envelope_max_age must be positive")
	}
	if c.Sync.StorePollInterval <= 0 {
		return fmt.Errorf("sync.store_poll_interval must be positive")
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Session.OperatorBootstrap {
			return fmt.Errorf("session.operator_bootstrap must be disabled in production (cached operator identities bypass remote confirmation)")
		}
		if !strings.HasPrefix(c.Authority.BaseURL, "https://") {
			return fmt.Errorf("authority.base_url must use https in production")
		}
	}

	return nil
}

// Addr returns the Redis address in host:port form
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Enabled reports whether the Redis transport is configured
func (r *RedisConfig) Enabled() bool {
	return r.Host != ""
}
