// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Request   RequestConfig   `mapstructure:"request"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Proxy     ProxyConfig     `mapstructure:"proxy"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
}

// ServerConfig controls the HTTP front door.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// ClientRPS and ClientBurst bound inbound API calls per client IP.
	ClientRPS   float64 `mapstructure:"client_rps"`
	ClientBurst int     `mapstructure:"client_burst"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level overrides the default minimum level; empty means info in
	// production, debug in development.
	Level string `mapstructure:"level"`
}

// SchedulerConfig bounds queueing and task retry.
type SchedulerConfig struct {
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks"`
	MaxTasksPerHost    int `mapstructure:"max_tasks_per_host"`
	RetryDelaySeconds  int `mapstructure:"retry_delay_seconds"`
	StuckThresholdMin  int `mapstructure:"stuck_threshold_minutes"`
	HistoryTTLHours    int `mapstructure:"history_ttl_hours"`
}

// ExecutorConfig bounds the worker pool.
type ExecutorConfig struct {
	MaxWorkers          int     `mapstructure:"max_workers"`
	IdlePollMs          int     `mapstructure:"idle_poll_ms"`
	RequestTimeoutSec   int     `mapstructure:"request_timeout_seconds"`
	FailureRatioMax     float64 `mapstructure:"failure_ratio_max"`
	HealthIntervalSec   int     `mapstructure:"health_interval_seconds"`
	CleanupIntervalMin  int     `mapstructure:"cleanup_interval_minutes"`
}

// RequestConfig bounds attempt-level retry.
type RequestConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffBaseMs    int `mapstructure:"backoff_base_ms"`
	BackoffMaxSec    int `mapstructure:"backoff_max_seconds"`
	IdentityWaitSec  int `mapstructure:"identity_wait_seconds"`
}

// RateLimitConfig selects and bounds the per-host outbound gate.
type RateLimitConfig struct {
	// Algorithm picks the per-scope limiter: "adaptive" (feedback-driven
	// interval), "bucket" (fixed-rate token bucket), or "window" (sliding
	// window).
	Algorithm         string `mapstructure:"algorithm"`
	InitialIntervalMs int    `mapstructure:"initial_interval_ms"`
	FloorMs           int    `mapstructure:"floor_ms"`
	CeilingSec        int    `mapstructure:"ceiling_seconds"`
	// BucketCapacity and BucketFillRate apply to the bucket algorithm.
	BucketCapacity float64 `mapstructure:"bucket_capacity"`
	BucketFillRate float64 `mapstructure:"bucket_fill_rate"`
	// WindowSeconds and WindowMaxRequests apply to the window algorithm.
	WindowSeconds     int `mapstructure:"window_seconds"`
	WindowMaxRequests int `mapstructure:"window_max_requests"`
}

// IdentityConfig bounds cookie rotation.
type IdentityConfig struct {
	DailyCap           int    `mapstructure:"daily_cap"`
	InitialIntervalSec int    `mapstructure:"initial_interval_seconds"`
	MinIntervalSec     int    `mapstructure:"min_interval_seconds"`
	MaxIntervalSec     int    `mapstructure:"max_interval_seconds"`
	// Store selects persistence: "file" or "redis".
	Store     string `mapstructure:"store"`
	FilePath  string `mapstructure:"file_path"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key"`
}

// ProxyConfig seeds the proxy pool.
type ProxyConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	HealthFloor int      `mapstructure:"health_floor"`
}

// BreakerConfig controls per-host circuit breaking.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	ResetTimeoutSec  int `mapstructure:"reset_timeout_seconds"`
}

// CrawlerConfig controls the default collector.
type CrawlerConfig struct {
	UserAgent  string   `mapstructure:"user_agent"`
	TimeoutSec int      `mapstructure:"timeout_seconds"`
	Platforms  []string `mapstructure:"platforms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.client_rps", 10)
	v.SetDefault("server.client_burst", 20)
	v.SetDefault("logging.development", true)
	v.SetDefault("scheduler.max_concurrent_tasks", 10)
	v.SetDefault("scheduler.max_tasks_per_host", 3)
	v.SetDefault("scheduler.retry_delay_seconds", 60)
	v.SetDefault("scheduler.stuck_threshold_minutes", 60)
	v.SetDefault("scheduler.history_ttl_hours", 24)
	v.SetDefault("executor.max_workers", 10)
	v.SetDefault("executor.idle_poll_ms", 1000)
	v.SetDefault("executor.request_timeout_seconds", 30)
	v.SetDefault("executor.failure_ratio_max", 0.30)
	v.SetDefault("executor.health_interval_seconds", 30)
	v.SetDefault("executor.cleanup_interval_minutes", 60)
	v.SetDefault("request.max_attempts", 3)
	v.SetDefault("request.backoff_base_ms", 1000)
	v.SetDefault("request.backoff_max_seconds", 30)
	v.SetDefault("request.identity_wait_seconds", 2)
	v.SetDefault("ratelimit.algorithm", "adaptive")
	v.SetDefault("ratelimit.initial_interval_ms", 1000)
	v.SetDefault("ratelimit.floor_ms", 500)
	v.SetDefault("ratelimit.ceiling_seconds", 60)
	v.SetDefault("ratelimit.bucket_capacity", 5)
	v.SetDefault("ratelimit.bucket_fill_rate", 2)
	v.SetDefault("ratelimit.window_seconds", 60)
	v.SetDefault("ratelimit.window_max_requests", 30)
	v.SetDefault("identity.daily_cap", 300)
	v.SetDefault("identity.initial_interval_seconds", 5)
	v.SetDefault("identity.min_interval_seconds", 2)
	v.SetDefault("identity.max_interval_seconds", 30)
	v.SetDefault("identity.store", "file")
	v.SetDefault("identity.file_path", "data/identities.json")
	v.SetDefault("identity.redis_key", "crawld:identities")
	v.SetDefault("proxy.health_floor", 50)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_seconds", 60)
	v.SetDefault("crawler.user_agent", "crawld/0.1")
	v.SetDefault("crawler.timeout_seconds", 30)
	v.SetDefault("crawler.platforms", []string{"web"})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.MaxConcurrentTasks <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_tasks must be > 0")
	}
	if c.Scheduler.MaxTasksPerHost <= 0 {
		return fmt.Errorf("scheduler.max_tasks_per_host must be > 0")
	}
	if c.Executor.MaxWorkers <= 0 {
		return fmt.Errorf("executor.max_workers must be > 0")
	}
	if c.Request.MaxAttempts <= 0 {
		return fmt.Errorf("request.max_attempts must be > 0")
	}
	switch c.RateLimit.Algorithm {
	case "adaptive", "bucket", "window":
	default:
		return fmt.Errorf("ratelimit.algorithm must be adaptive, bucket, or window")
	}
	if c.Identity.Store != "file" && c.Identity.Store != "redis" {
		return fmt.Errorf("identity.store must be file or redis")
	}
	if c.Identity.Store == "redis" && c.Identity.RedisAddr == "" {
		return fmt.Errorf("identity.redis_addr must be set for redis store")
	}
	if c.Executor.FailureRatioMax <= 0 || c.Executor.FailureRatioMax >= 1 {
		return fmt.Errorf("executor.failure_ratio_max must be in (0, 1)")
	}
	return nil
}

// RetryDelay returns the task retry delay as a duration.
func (c SchedulerConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// StuckThreshold returns the stuck-task threshold as a duration.
func (c SchedulerConfig) StuckThreshold() time.Duration {
	return time.Duration(c.StuckThresholdMin) * time.Minute
}

// RequestTimeout returns the per-request timeout as a duration.
func (c ExecutorConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// IdlePoll returns the worker idle poll as a duration.
func (c ExecutorConfig) IdlePoll() time.Duration {
	return time.Duration(c.IdlePollMs) * time.Millisecond
}
