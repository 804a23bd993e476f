package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: warn
scraper:
  user_agent: real-agent
  timeout_seconds: 45
  rate_limit_per_host: 0.5
dispatch:
  batch_size: 5
  concurrency: 3
queue:
  backend: pubsub
pubsub:
  project_id: proj
  topic_name: items
  trigger_subscription: runs
snapshot:
  backend: postgres
db:
  dsn: postgres://localhost/scraper
  max_conns: 8
reports:
  backend: gcs
  gcs_bucket: bucket
  prefix: runs
sources:
  militaria:
    base_url: https://shop.example.com/
    currency: GBP
    language: EN
    sleep_between_pages_millis: 250
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if cfg.Scraper.UserAgent != "real-agent" || cfg.Scraper.RateLimitPerHost != 0.5 {
		t.Fatalf("expected scraper overrides, got %+v", cfg.Scraper)
	}
	if cfg.Dispatch.BatchSize != 5 || cfg.Dispatch.Concurrency != 3 {
		t.Fatalf("expected dispatch overrides, got %+v", cfg.Dispatch)
	}
	if cfg.DB.MaxConns != 8 || cfg.DB.Table != "fingerprint_events" {
		t.Fatalf("expected db overrides with default table, got %+v", cfg.DB)
	}
	src, ok := cfg.Sources["militaria"]
	if !ok || src.BaseURL != "https://shop.example.com/" || src.Currency != crawler.CurrencyGBP {
		t.Fatalf("expected source template to be loaded: %+v", cfg.Sources)
	}
	if src.PageDelay() != 250*time.Millisecond {
		t.Fatalf("expected 250ms page delay, got %v", src.PageDelay())
	}
	if got := cfg.RequestTimeout(); got != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %v", got)
	}
	if got := cfg.DB.MaxConnLifetime(); got != 30*time.Minute {
		t.Fatalf("expected default lifetime 30m, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Queue.Backend != BackendMemory || cfg.Snapshot.Backend != BackendMemory {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Dispatch.BatchSize != crawler.MaxBatchSize || cfg.Dispatch.Concurrency != crawler.DefaultConcurrency {
		t.Fatalf("unexpected dispatch defaults %+v", cfg.Dispatch)
	}
	if cfg.Reports.Backend != BackendNone {
		t.Fatalf("expected reports disabled by default")
	}
	if cfg.PubSub.MaxConcurrentRuns != 1 || cfg.PubSub.MaxRunDuration() != 4*time.Hour {
		t.Fatalf("unexpected trigger defaults %+v", cfg.PubSub)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SCRAPER_SERVER_PORT", "7070")
	t.Setenv("SCRAPER_DISPATCH_CONCURRENCY", "2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Dispatch.Concurrency != 2 {
		t.Fatalf("expected env overrides, got port=%d concurrency=%d", cfg.Server.Port, cfg.Dispatch.Concurrency)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func validConfig() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		Scraper:  ScraperConfig{TimeoutSeconds: 30},
		Dispatch: DispatchConfig{BatchSize: 10, Concurrency: 5},
		Queue:    QueueConfig{Backend: BackendMemory},
		Snapshot: SnapshotConfig{Backend: BackendMemory},
		Reports:  ReportsConfig{Backend: BackendNone},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		mutate  func(*Config)
		wantErr string
	}{
		"valid":            {mutate: func(*Config) {}},
		"port":             {mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		"auth key":         {mutate: func(c *Config) { c.Auth.Enabled = true }, wantErr: "auth.api_key"},
		"timeout":          {mutate: func(c *Config) { c.Scraper.TimeoutSeconds = 0 }, wantErr: "scraper.timeout_seconds"},
		"rate":             {mutate: func(c *Config) { c.Scraper.RateLimitPerHost = -1 }, wantErr: "rate_limit_per_host"},
		"batch too large":  {mutate: func(c *Config) { c.Dispatch.BatchSize = 11 }, wantErr: "dispatch.batch_size"},
		"concurrency":      {mutate: func(c *Config) { c.Dispatch.Concurrency = 0 }, wantErr: "dispatch.concurrency"},
		"queue backend":    {mutate: func(c *Config) { c.Queue.Backend = "sqs" }, wantErr: "queue.backend"},
		"pubsub topic":     {mutate: func(c *Config) { c.Queue.Backend = BackendPubSub }, wantErr: "pubsub.project_id"},
		"snapshot backend": {mutate: func(c *Config) { c.Snapshot.Backend = "dynamo" }, wantErr: "snapshot.backend"},
		"postgres dsn":     {mutate: func(c *Config) { c.Snapshot.Backend = BackendPostgres }, wantErr: "db.dsn"},
		"reports backend":  {mutate: func(c *Config) { c.Reports.Backend = "s3" }, wantErr: "reports.backend"},
		"gcs bucket":       {mutate: func(c *Config) { c.Reports.Backend = BackendGCS }, wantErr: "reports.gcs_bucket"},
		"trigger project":  {mutate: func(c *Config) { c.PubSub.TriggerSubscription = "runs" }, wantErr: "pubsub.project_id"},
		"max run minutes":  {mutate: func(c *Config) { c.PubSub.MaxRunMinutes = -1 }, wantErr: "pubsub.max_run_minutes"},
		"source base url": {
			mutate:  func(c *Config) { c.Sources = map[string]crawler.SourceConfig{"x": {}} },
			wantErr: "sources.x.base_url",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}
