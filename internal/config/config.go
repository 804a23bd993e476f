// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
)

// Backend names accepted by the pluggable sections.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPubSub   = "pubsub"
	BackendPostgres = "postgres"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig                    `mapstructure:"server"`
	Auth     AuthConfig                      `mapstructure:"auth"`
	Logging  LoggingConfig                   `mapstructure:"logging"`
	Scraper  ScraperConfig                   `mapstructure:"scraper"`
	Dispatch DispatchConfig                  `mapstructure:"dispatch"`
	Queue    QueueConfig                     `mapstructure:"queue"`
	PubSub   PubSubConfig                    `mapstructure:"pubsub"`
	Snapshot SnapshotConfig                  `mapstructure:"snapshot"`
	DB       DBConfig                        `mapstructure:"db"`
	Reports  ReportsConfig                   `mapstructure:"reports"`
	Sources  map[string]crawler.SourceConfig `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ScraperConfig governs page fetches.
type ScraperConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	RateLimitPerHost float64 `mapstructure:"rate_limit_per_host"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
}

// DispatchConfig governs queue batching.
type DispatchConfig struct {
	BatchSize   int `mapstructure:"batch_size"`
	Concurrency int `mapstructure:"concurrency"`
}

// QueueConfig selects the queue backend.
type QueueConfig struct {
	Backend string `mapstructure:"backend"`
}

// PubSubConfig holds Pub/Sub topic and trigger subscription names.
type PubSubConfig struct {
	ProjectID           string `mapstructure:"project_id"`
	TopicName           string `mapstructure:"topic_name"`
	TriggerSubscription string `mapstructure:"trigger_subscription"`
	MaxConcurrentRuns   int    `mapstructure:"max_concurrent_runs"`
	MaxRunMinutes       int    `mapstructure:"max_run_minutes"`
}

// SnapshotConfig selects where fingerprint history is read from.
type SnapshotConfig struct {
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to the fingerprint database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
}

// ReportsConfig selects where run reports are written.
type ReportsConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("scraper.user_agent", "listing-diff-scraper/0.1")
	v.SetDefault("scraper.timeout_seconds", 30)
	v.SetDefault("scraper.rate_limit_per_host", 2)
	v.SetDefault("scraper.rate_limit_burst", 1)
	v.SetDefault("dispatch.batch_size", crawler.MaxBatchSize)
	v.SetDefault("dispatch.concurrency", crawler.DefaultConcurrency)
	v.SetDefault("queue.backend", BackendMemory)
	v.SetDefault("pubsub.max_concurrent_runs", 1)
	v.SetDefault("pubsub.max_run_minutes", 240)
	v.SetDefault("snapshot.backend", BackendMemory)
	v.SetDefault("db.table", "fingerprint_events")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("reports.backend", BackendNone)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Scraper.RateLimitPerHost < 0 {
		return fmt.Errorf("scraper.rate_limit_per_host must be >= 0")
	}
	if c.Dispatch.BatchSize <= 0 || c.Dispatch.BatchSize > crawler.MaxBatchSize {
		return fmt.Errorf("dispatch.batch_size must be between 1 and %d", crawler.MaxBatchSize)
	}
	if c.Dispatch.Concurrency <= 0 {
		return fmt.Errorf("dispatch.concurrency must be > 0")
	}
	switch c.Queue.Backend {
	case BackendMemory:
	case BackendPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required for the pubsub queue")
		}
	default:
		return fmt.Errorf("queue.backend %q is not supported", c.Queue.Backend)
	}
	switch c.Snapshot.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres snapshot backend")
		}
	default:
		return fmt.Errorf("snapshot.backend %q is not supported", c.Snapshot.Backend)
	}
	switch c.Reports.Backend {
	case BackendNone, BackendMemory:
	case BackendGCS:
		if c.Reports.GCSBucket == "" {
			return fmt.Errorf("reports.gcs_bucket is required for the gcs report backend")
		}
	default:
		return fmt.Errorf("reports.backend %q is not supported", c.Reports.Backend)
	}
	if c.PubSub.MaxRunMinutes < 0 {
		return fmt.Errorf("pubsub.max_run_minutes must be >= 0")
	}
	if c.PubSub.TriggerSubscription != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.trigger_subscription is set")
	}
	for name, src := range c.Sources {
		if src.BaseURL == "" {
			return fmt.Errorf("sources.%s.base_url is required", name)
		}
	}
	return nil
}

// RequestTimeout converts the scraper timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}

// MaxRunDuration converts the triggered-run cap into a duration.
func (c PubSubConfig) MaxRunDuration() time.Duration {
	return time.Duration(c.MaxRunMinutes) * time.Minute
}

// MaxConnLifetime converts the pool lifetime into a duration.
func (c DBConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeSeconds) * time.Second
}
