// Package server builds the scraper's dependencies from configuration and
// runs the HTTP API and the optional Pub/Sub run trigger.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-diff-scraper/internal/api"
	"github.com/JakeFAU/listing-diff-scraper/internal/config"
	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
	"github.com/JakeFAU/listing-diff-scraper/internal/dispatcher"
	"github.com/JakeFAU/listing-diff-scraper/internal/logging"
	"github.com/JakeFAU/listing-diff-scraper/internal/pipeline"
	"github.com/JakeFAU/listing-diff-scraper/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/listing-diff-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/listing-diff-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/listing-diff-scraper/internal/sources"
	gcsstorage "github.com/JakeFAU/listing-diff-scraper/internal/storage/gcs"
	memorystorage "github.com/JakeFAU/listing-diff-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/listing-diff-scraper/internal/storage/postgres"
	trigger "github.com/JakeFAU/listing-diff-scraper/internal/trigger/pubsub"
)

const shutdownTimeout = 10 * time.Second

// ErrUnknownSource is returned by RunOnce for a template name missing from config.
var ErrUnknownSource = errors.New("unknown source template")

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	runner    *pipeline.Runner
	apiServer *api.Server
	receiver  *trigger.Receiver
	checks    []api.ReadinessCheck

	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
	snapshots    *pgstore.FingerprintStore
}

// Build creates the application's dependencies, including the process logger.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger creates the application's dependencies around an existing logger.
// On error every client opened so far is closed.
func BuildWithLogger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("snapshot_backend", cfg.Snapshot.Backend),
		zap.String("reports_backend", cfg.Reports.Backend),
		zap.Int("source_templates", len(cfg.Sources)),
	)

	if err := app.build(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	snapshots, err := setupSnapshots(ctx, a)
	if err != nil {
		return err
	}
	sender, err := setupQueue(ctx, a)
	if err != nil {
		return err
	}
	reports, err := setupReports(ctx, a)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{
		pipeline.WithHTTPClient(setupHTTPClient(a)),
		pipeline.WithDispatchConfig(dispatcher.Config{
			BatchSize:   a.cfg.Dispatch.BatchSize,
			Concurrency: a.cfg.Dispatch.Concurrency,
		}),
		pipeline.WithLogger(a.logger),
	}
	if reports != nil {
		opts = append(opts, pipeline.WithBlobStore(reports))
	}
	registry := sources.NewRegistry(sources.Options{UserAgent: a.cfg.Scraper.UserAgent})
	a.runner = pipeline.New(snapshots, registry, sender, opts...)

	a.apiServer = api.NewServer(a.runner, api.NewHistory(0), registry.Names(), a.cfg, a.logger, a.checks...)

	return setupTrigger(a)
}

func setupHTTPClient(app *App) *http.Client {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   app.cfg.Scraper.RateLimitPerHost,
		DefaultBurst: app.cfg.Scraper.RateLimitBurst,
	})
	app.logger.Info("page fetch client configured",
		zap.String("user_agent", app.cfg.Scraper.UserAgent),
		zap.Duration("timeout", app.cfg.RequestTimeout()),
		zap.Float64("rate_limit_per_host", app.cfg.Scraper.RateLimitPerHost),
		zap.Int("rate_limit_burst", app.cfg.Scraper.RateLimitBurst),
	)
	return limiter.Client(&http.Client{Timeout: app.cfg.RequestTimeout()})
}

func setupSnapshots(ctx context.Context, app *App) (crawler.SnapshotSource, error) {
	if app.cfg.Snapshot.Backend != config.BackendPostgres {
		app.logger.Warn("using in-memory snapshot source; every listing will be treated as changed")
		return memorystorage.NewFingerprintStore(), nil
	}
	var err error
	app.snapshots, err = pgstore.New(ctx, pgstore.Config{
		DSN:             app.cfg.DB.DSN,
		Table:           app.cfg.DB.Table,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: app.cfg.DB.MaxConnLifetime(),
	})
	if err != nil {
		return nil, fmt.Errorf("fingerprint store init failed: %w", err)
	}
	app.checks = append(app.checks, app.snapshots.Ping)
	app.logger.Info("postgres snapshot source initialized", zap.String("table", app.cfg.DB.Table))
	return app.snapshots, nil
}

func (a *App) pubsubClientFor(ctx context.Context) (*pubsub.Client, error) {
	if a.pubsubClient != nil {
		return a.pubsubClient, nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	return client, nil
}

func setupQueue(ctx context.Context, app *App) (crawler.BatchSender, error) {
	if app.cfg.Queue.Backend != config.BackendPubSub {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory queue")
		return memorypublisher.New(), nil
	}
	client, err := app.pubsubClientFor(ctx)
	if err != nil {
		return nil, err
	}
	topic := client.Topic(app.cfg.PubSub.TopicName)
	app.publisher, err = gcppublisher.New(topic)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.checks = append(app.checks, func(ctx context.Context) error {
		ok, err := topic.Exists(ctx)
		if err != nil {
			return fmt.Errorf("check topic %s: %w", topic.ID(), err)
		}
		if !ok {
			return fmt.Errorf("topic %s does not exist", topic.ID())
		}
		return nil
	})
	app.logger.Info("Pub/Sub queue initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.publisher, nil
}

func setupReports(ctx context.Context, app *App) (crawler.BlobStore, error) {
	switch app.cfg.Reports.Backend {
	case config.BackendGCS:
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Reports.GCSBucket,
			Prefix: app.cfg.Reports.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs report store init failed: %w", err)
		}
		app.logger.Info("writing run reports to GCS", zap.String("bucket", app.cfg.Reports.GCSBucket))
		return blobs, nil
	case config.BackendMemory:
		app.logger.Info("keeping run reports in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Info("run reports are logged only")
		return nil, nil
	}
}

func setupTrigger(app *App) error {
	name := app.cfg.PubSub.TriggerSubscription
	if name == "" {
		return nil
	}
	client, err := app.pubsubClientFor(context.Background())
	if err != nil {
		return err
	}
	app.receiver, err = trigger.New(client.Subscription(name), app.runner, trigger.Config{
		MaxConcurrentRuns: app.cfg.PubSub.MaxConcurrentRuns,
		MaxRunDuration:    app.cfg.PubSub.MaxRunDuration(),
	}, app.logger)
	if err != nil {
		return fmt.Errorf("trigger init failed: %w", err)
	}
	app.logger.Info("Pub/Sub run trigger initialized", zap.String("subscription", name))
	return nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RunOnce executes the named source template and returns its report.
func (a *App) RunOnce(ctx context.Context, name string) (pipeline.Report, error) {
	cfg, ok := a.cfg.Sources[name]
	if !ok {
		return pipeline.Report{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return a.runner.Execute(ctx, cfg)
}

// Run starts the HTTP server and the trigger receiver and blocks until the
// context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var triggers sync.WaitGroup
	if a.receiver != nil {
		triggers.Add(1)
		go func() {
			defer triggers.Done()
			if err := a.receiver.Start(ctx); err != nil {
				a.logger.Error("run trigger stopped", zap.Error(err))
				stop()
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	// Receive returns once every in-flight trigger handler has finished.
	triggers.Wait()
	return a.Close()
}

// Close releases every client the application opened.
func (a *App) Close() error {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.snapshots != nil {
		a.snapshots.Close()
	}
}
