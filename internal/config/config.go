// Package config loads and validates server configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds the process configuration.
type Config struct {
	// Port is the HTTP listen port, with or without a leading colon.
	Port string `mapstructure:"PORT"`
	// AllowedOrigins lists origins accepted on the WebSocket endpoint; "*" allows any.
	AllowedOrigins []string `mapstructure:"ALLOWED_ORIGINS"`
	// MaxMessageSize is the largest inbound frame in bytes.
	MaxMessageSize int64 `mapstructure:"MAX_MESSAGE_SIZE"`
	// RateLimitBurst is the number of frames a connection may send per refill interval.
	RateLimitBurst int `mapstructure:"RATE_LIMIT_BURST"`
	// RateLimitRefillSeconds is the refill interval in seconds.
	RateLimitRefillSeconds int `mapstructure:"RATE_LIMIT_REFILL_INTERVAL"`

	SessionTTL           time.Duration `mapstructure:"SESSION_TTL"`
	AuthPasswordRequired bool          `mapstructure:"AUTH_PASSWORD_REQUIRED"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int      `mapstructure:"BCRYPT_COST"`
	AvatarURLs []string `mapstructure:"AVATAR_URLS"`

	WorkerPoolSize  int `mapstructure:"WORKER_POOL_SIZE"`
	WorkerQueueSize int `mapstructure:"WORKER_QUEUE_SIZE"`

	// InstanceID names this process in the shared session store. A random
	// id is generated when unset.
	InstanceID string `mapstructure:"SERVER_INSTANCE_ID"`
	// DatabaseURL is the Postgres DSN; empty selects in-memory stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisAddr like "localhost:6379"; empty keeps sessions in process and
	// disables the relay.
	RedisAddr         string `mapstructure:"REDIS_ADDR"`
	RedisPassword     string `mapstructure:"REDIS_PASSWORD"`
	RedisDB           int    `mapstructure:"REDIS_DB"`
	SessionsKeyPrefix string `mapstructure:"SESSIONS_KEY_PREFIX"`

	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	LogDevelopment  bool          `mapstructure:"LOG_DEVELOPMENT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read .env: %w", err)
		}
	}

	v.AutomaticEnv()
	_ = v.BindEnv("PORT", "PORT", "SERVER_PORT")

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("MAX_MESSAGE_SIZE", 65536)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("RATE_LIMIT_REFILL_INTERVAL", 1)
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("AUTH_PASSWORD_REQUIRED", true)
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("AVATAR_URLS", []string{})
	v.SetDefault("WORKER_POOL_SIZE", 8)
	v.SetDefault("WORKER_QUEUE_SIZE", 256)
	v.SetDefault("SERVER_INSTANCE_ID", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SESSIONS_KEY_PREFIX", "socialchat:")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEVELOPMENT", false)
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.AllowedOrigins = splitList(cfg.AllowedOrigins)
	cfg.AvatarURLs = splitList(cfg.AvatarURLs)
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimPrefix(c.Port, ":") == "" {
		return errors.New("config: PORT must be set")
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("config: MAX_MESSAGE_SIZE must be positive")
	}
	if c.RateLimitBurst <= 0 {
		return errors.New("config: RATE_LIMIT_BURST must be positive")
	}
	if c.RateLimitRefillSeconds <= 0 {
		return errors.New("config: RATE_LIMIT_REFILL_INTERVAL must be a positive number of seconds")
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: SESSION_TTL must be positive")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.WorkerPoolSize <= 0 || c.WorkerQueueSize <= 0 {
		return errors.New("config: WORKER_POOL_SIZE and WORKER_QUEUE_SIZE must be positive")
	}
	if c.RedisDB < 0 {
		return errors.New("config: REDIS_DB must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("config: SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// Addr returns the listen address for http.Server.
func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") || strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// RefillInterval returns the rate limiter refill interval.
func (c *Config) RefillInterval() time.Duration {
	return time.Duration(c.RateLimitRefillSeconds) * time.Second
}

// splitList trims entries and expands comma separated values that arrive
// as a single string from the environment.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
