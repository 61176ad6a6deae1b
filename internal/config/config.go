// Package config loads runtime settings for the masking pipeline service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Masking  MaskingConfig  `mapstructure:"masking"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Backfill BackfillConfig `mapstructure:"backfill"`
	Audit    AuditConfig    `mapstructure:"audit"`
	DLQ      DLQConfig      `mapstructure:"dlq"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type NATSConfig struct {
	URL          string        `mapstructure:"url"`
	StreamName   string        `mapstructure:"stream_name"`
	ConsumerName string        `mapstructure:"consumer_name"`
	AckWait      time.Duration `mapstructure:"ack_wait"`
	MaxDeliver   int           `mapstructure:"max_deliver"`
}

type DatabaseConfig struct {
	URL           string `mapstructure:"url"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// MaskingConfig controls the worker pool and the external redaction service.
type MaskingConfig struct {
	ServiceURL     string        `mapstructure:"service_url"`
	PolicyPath     string        `mapstructure:"policy_path"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	BackfillShare  float64       `mapstructure:"backfill_share"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffCap     time.Duration `mapstructure:"backoff_cap"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// Aggregate request-rate guard against the external service's quota.
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

type SinkConfig struct {
	Table       string        `mapstructure:"table"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
}

type ConsumerConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	DedupWindow    int           `mapstructure:"dedup_window"`
	AckExtendAfter time.Duration `mapstructure:"ack_extend_after"`
}

type BackfillConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BatchSize   int           `mapstructure:"batch_size"`
	QuotaBudget int64         `mapstructure:"quota_budget"`
	Pause       time.Duration `mapstructure:"pause"`
}

type AuditConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold"`
	Interval           time.Duration `mapstructure:"interval"`
	SampleSize         int           `mapstructure:"sample_size"`
	WebhookURL         string        `mapstructure:"webhook_url"`
	SlackWebhookURL    string        `mapstructure:"slack_webhook_url"`
	NotifyTimeout      time.Duration `mapstructure:"notify_timeout"`
}

type DLQConfig struct {
	ArchiveEnabled       bool          `mapstructure:"archive_enabled"`
	ArchiveBatchSize     int           `mapstructure:"archive_batch_size"`
	ArchiveFlushInterval time.Duration `mapstructure:"archive_flush_interval"`
	OpenSearchURL        string        `mapstructure:"opensearch_url"`
	OpenSearchUsername   string        `mapstructure:"opensearch_username"`
	OpenSearchPassword   string        `mapstructure:"opensearch_password"`
	TLSSkipVerify        bool          `mapstructure:"tls_skip_verify"`
	IndexPrefix          string        `mapstructure:"index_prefix"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8098)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "EVENTS")
	v.SetDefault("nats.consumer_name", "masking-workers")
	v.SetDefault("nats.ack_wait", "30s")
	v.SetDefault("nats.max_deliver", 5)
	v.SetDefault("database.migrations_dir", "migrations")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("masking.service_url", "http://localhost:8099")
	v.SetDefault("masking.policy_path", "policy.yaml")
	v.SetDefault("masking.max_concurrent", 16)
	v.SetDefault("masking.backfill_share", 0.25)
	v.SetDefault("masking.max_attempts", 3)
	v.SetDefault("masking.backoff_base", "250ms")
	v.SetDefault("masking.backoff_cap", "5s")
	v.SetDefault("masking.request_timeout", "10s")
	v.SetDefault("masking.rate_limit_enabled", false)
	v.SetDefault("masking.rate_limit_requests", 600)
	v.SetDefault("masking.rate_limit_window", "1m")
	v.SetDefault("sink.table", "masked_events")
	v.SetDefault("sink.max_attempts", 3)
	v.SetDefault("sink.backoff_base", "250ms")
	v.SetDefault("sink.backoff_cap", "5s")
	v.SetDefault("consumer.batch_size", 64)
	v.SetDefault("consumer.fetch_timeout", "5s")
	v.SetDefault("consumer.dedup_window", 8192)
	v.SetDefault("consumer.ack_extend_after", "20s")
	v.SetDefault("backfill.enabled", false)
	v.SetDefault("backfill.batch_size", 200)
	v.SetDefault("backfill.quota_budget", 0)
	v.SetDefault("backfill.pause", "1s")
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.staleness_threshold", "45m")
	v.SetDefault("audit.interval", "10m")
	v.SetDefault("audit.sample_size", 20)
	v.SetDefault("audit.notify_timeout", "10s")
	v.SetDefault("dlq.archive_enabled", false)
	v.SetDefault("dlq.archive_batch_size", 100)
	v.SetDefault("dlq.archive_flush_interval", "10s")
	v.SetDefault("dlq.opensearch_url", "https://localhost:9200")
	v.SetDefault("dlq.opensearch_username", "admin")
	v.SetDefault("dlq.tls_skip_verify", true)
	v.SetDefault("dlq.index_prefix", "veilstream-dlq")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/veilstream")
	}

	// Environment variables override
	v.SetEnvPrefix("VEIL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Masking.MaxConcurrent <= 0 {
		return fmt.Errorf("masking.max_concurrent must be positive")
	}
	if c.Masking.BackfillShare < 0 || c.Masking.BackfillShare >= 1 {
		return fmt.Errorf("masking.backfill_share must be in [0, 1)")
	}
	if c.Masking.MaxAttempts <= 0 {
		return fmt.Errorf("masking.max_attempts must be positive")
	}
	if c.Audit.StalenessThreshold <= 0 {
		return fmt.Errorf("audit.staleness_threshold must be positive")
	}
	return nil
}
