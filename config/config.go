package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Queue      QueueConfig      `yaml:"queue"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Counters   CountersConfig   `yaml:"counters"`
	Signature  SignatureConfig  `yaml:"signature"`
	Fanout     FanoutConfig     `yaml:"fanout"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// AuthConfig holds the JWT verification settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// QueueConfig holds the RabbitMQ settings for the dispatcher's queue tier.
// Leaving URL empty disables the tier entirely.
type QueueConfig struct {
	URL       string `yaml:"url"`
	QueueName string `yaml:"queue_name"`
}

// RealtimeConfig selects the broadcast backend. With an empty RedisURL the
// in-process hub is used, which is only correct for a single server process.
type RealtimeConfig struct {
	RedisURL string `yaml:"redis_url"`
}

// DispatchConfig controls the non-queue execution tiers.
type DispatchConfig struct {
	// AllowThread enables the detached-goroutine tier. Not safe for
	// production deployments that rely on request-scoped resources.
	AllowThread bool `yaml:"allow_thread"`
}

// CountersConfig holds the counter cache settings.
type CountersConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// SignatureConfig bounds repeated signature attempts.
type SignatureConfig struct {
	MaxAttempts          int `yaml:"max_attempts"`
	LockoutWindowMinutes int `yaml:"lockout_window_minutes"`
}

// FanoutConfig holds the delivery batching settings.
type FanoutConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// PushConfig holds the VAPID keys for web push notifications. Web push is
// optional; it stays disabled when the keys are empty.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the web push worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Queue.QueueName == "" {
		cfg.Queue.QueueName = "notification_fanout"
	}
	if cfg.Counters.CacheTTLSeconds <= 0 {
		cfg.Counters.CacheTTLSeconds = 15
	}
	if cfg.Signature.MaxAttempts <= 0 {
		cfg.Signature.MaxAttempts = 5
	}
	if cfg.Signature.LockoutWindowMinutes <= 0 {
		cfg.Signature.LockoutWindowMinutes = 15
	}
	if cfg.Fanout.BatchSize <= 0 {
		cfg.Fanout.BatchSize = 500
	}
	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}

// CacheTTL returns the counter cache TTL as a duration.
func (c *CountersConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// LockoutWindow returns the signature lockout window as a duration.
func (c *SignatureConfig) LockoutWindow() time.Duration {
	return time.Duration(c.LockoutWindowMinutes) * time.Minute
}
