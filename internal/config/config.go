package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Stores    StoresConfig    `mapstructure:"stores"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	JWTSecret string          `mapstructure:"jwt_secret"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type WebhookConfig struct {
	Secret          string `mapstructure:"secret"`
	TopicHeader     string `mapstructure:"topic_header"`
	SignatureHeader string `mapstructure:"signature_header"`
	DeliveryHeader  string `mapstructure:"delivery_header"`
	MaxBodyBytes    int64  `mapstructure:"max_body_bytes"`
	MaxDepth        int    `mapstructure:"max_depth"`
}

type RateLimitConfig struct {
	WindowMs    int         `mapstructure:"window_ms"`
	MaxRequests int         `mapstructure:"max_requests"`
	KeyPrefix   string      `mapstructure:"key_prefix"`
	Redis       RedisConfig `mapstructure:"redis"`
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// RedisConfig selects the shared limiter backend. An empty Addr keeps the
// limiter in-process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SyncConfig struct {
	FanoutTimeoutMs int           `mapstructure:"fanout_timeout_ms"`
	Retry           RetryConfig   `mapstructure:"retry"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

func (s SyncConfig) FanoutTimeout() time.Duration {
	return time.Duration(s.FanoutTimeoutMs) * time.Millisecond
}

type RetryConfig struct {
	MaxAttempts int     `mapstructure:"max_attempts"`
	BaseDelayMs int     `mapstructure:"base_delay_ms"`
	MaxDelayMs  int     `mapstructure:"max_delay_ms"`
	Multiplier  float64 `mapstructure:"multiplier"`
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	CooldownMs       int `mapstructure:"cooldown_ms"`
}

func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownMs) * time.Millisecond
}

type StoresConfig struct {
	Graph     GraphConfig     `mapstructure:"graph"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
}

// GraphConfig points at the graph store's HTTP API. Condition is an optional
// routing expression; events it rejects skip this target.
type GraphConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
	Condition string `mapstructure:"condition"`
}

func (g GraphConfig) Timeout() time.Duration {
	return time.Duration(g.TimeoutMs) * time.Millisecond
}

type VectorConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Collection string `mapstructure:"collection"`
	TimeoutMs  int    `mapstructure:"timeout_ms"`
	Condition  string `mapstructure:"condition"`
}

func (v VectorConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutMs) * time.Millisecond
}

type AnalyticsConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	Name      string `mapstructure:"name"`
	PoolSize  int    `mapstructure:"pool_size"`
	Condition string `mapstructure:"condition"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../..")

	viper.SetDefault("server.port", 8080)

	viper.SetDefault("webhook.topic_header", "X-Webhook-Topic")
	viper.SetDefault("webhook.signature_header", "X-Webhook-Signature")
	viper.SetDefault("webhook.delivery_header", "X-Webhook-Delivery")
	viper.SetDefault("webhook.max_body_bytes", 1048576)
	viper.SetDefault("webhook.max_depth", 32)

	viper.SetDefault("ratelimit.window_ms", 60000)
	viper.SetDefault("ratelimit.max_requests", 120)
	viper.SetDefault("ratelimit.key_prefix", "sync:")
	viper.SetDefault("ratelimit.redis.db", 0)

	viper.SetDefault("sync.fanout_timeout_ms", 10000)
	viper.SetDefault("sync.retry.max_attempts", 3)
	viper.SetDefault("sync.retry.base_delay_ms", 100)
	viper.SetDefault("sync.retry.max_delay_ms", 2000)
	viper.SetDefault("sync.retry.multiplier", 2.0)
	viper.SetDefault("sync.breaker.failure_threshold", 5)
	viper.SetDefault("sync.breaker.cooldown_ms", 30000)

	viper.SetDefault("stores.graph.base_url", "http://localhost:7474")
	viper.SetDefault("stores.graph.timeout_ms", 5000)
	viper.SetDefault("stores.vector.base_url", "http://localhost:6333")
	viper.SetDefault("stores.vector.collection", "entities")
	viper.SetDefault("stores.vector.timeout_ms", 5000)
	viper.SetDefault("stores.analytics.host", "localhost")
	viper.SetDefault("stores.analytics.port", 5432)
	viper.SetDefault("stores.analytics.user", "postgres")
	viper.SetDefault("stores.analytics.password", "postgres")
	viper.SetDefault("stores.analytics.name", "hermes")
	viper.SetDefault("stores.analytics.pool_size", 10)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("jwt_secret", "changeme-secret")

	viper.AutomaticEnv()

	// Config files are optional: defaults plus env vars are a complete
	// configuration for containers and tests.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
