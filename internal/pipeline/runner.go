// Package pipeline runs one crawl of a marketplace: snapshot lookup, paginated
// scrape, change detection and batched dispatch.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-diff-scraper/internal/clock/system"
	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
	"github.com/JakeFAU/listing-diff-scraper/internal/dedup"
	"github.com/JakeFAU/listing-diff-scraper/internal/dispatcher"
	"github.com/JakeFAU/listing-diff-scraper/internal/id/uuid"
	"github.com/JakeFAU/listing-diff-scraper/internal/logging"
	"github.com/JakeFAU/listing-diff-scraper/internal/metrics"
	"github.com/JakeFAU/listing-diff-scraper/internal/scrape"
)

var (
	// ErrSnapshotLookup marks a run aborted because the fingerprint history
	// could not be read. Nothing was fetched or dispatched.
	ErrSnapshotLookup = errors.New("snapshot lookup failed")
	// ErrInvalidSource marks a run rejected before any I/O because its source
	// configuration is unusable.
	ErrInvalidSource = errors.New("invalid source configuration")
)

// Run statuses recorded in reports.
const (
	StatusCompleted           = "completed"
	StatusCompletedWithErrors = "completed_with_errors"
	StatusFailed              = "failed"
)

// ScraperFactory builds the page scraper for a source.
type ScraperFactory interface {
	New(cfg crawler.SourceConfig) (crawler.PageScraper, error)
}

// Report summarizes a run.
type Report struct {
	RunID         string    `json:"run_id"`
	SourceID      string    `json:"source_id"`
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Pages         int       `json:"pages"`
	Scraped       int       `json:"scraped"`
	ScrapeErrors  int       `json:"scrape_errors"`
	Unchanged     int       `json:"unchanged"`
	Changed       int       `json:"changed"`
	Accepted      int       `json:"accepted"`
	Rejected      int       `json:"rejected"`
	Dropped       int       `json:"dropped"`
	Batches       int       `json:"batches"`
	FailedBatches int       `json:"failed_batches"`
	PageError     string    `json:"page_error,omitempty"`
	ReportURI     string    `json:"-"`
}

// Runner wires the pipeline stages together. It is safe for concurrent use;
// every run builds its own sequencer and dispatcher.
type Runner struct {
	snapshots crawler.SnapshotSource
	scrapers  ScraperFactory
	sender    crawler.BatchSender
	client    *http.Client
	ids       crawler.IDGenerator
	clock     crawler.Clock
	blobs     crawler.BlobStore
	dispatch  dispatcher.Config
	logger    *zap.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithHTTPClient sets the client handed to page scrapers.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Runner) {
		if client != nil {
			r.client = client
		}
	}
}

// WithIDGenerator sets the generator for run and entry ids.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(r *Runner) {
		if ids != nil {
			r.ids = ids
		}
	}
}

// WithClock sets the clock used to stamp observations.
func WithClock(clock crawler.Clock) Option {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithBlobStore enables writing run reports.
func WithBlobStore(blobs crawler.BlobStore) Option {
	return func(r *Runner) {
		r.blobs = blobs
	}
}

// WithDispatchConfig sets batch size and concurrency.
func WithDispatchConfig(cfg dispatcher.Config) Option {
	return func(r *Runner) {
		r.dispatch = cfg
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Runner.
func New(
	snapshots crawler.SnapshotSource,
	scrapers ScraperFactory,
	sender crawler.BatchSender,
	opts ...Option,
) *Runner {
	r := &Runner{
		snapshots: snapshots,
		scrapers:  scrapers,
		sender:    sender,
		client:    http.DefaultClient,
		ids:       uuid.New(),
		clock:     system.New(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run crawls the source described by cfg and returns the number of changed
// listings the queue acknowledged. Only an unusable configuration or a failed
// snapshot lookup produce an error.
func (r *Runner) Run(ctx context.Context, cfg crawler.SourceConfig) (int, error) {
	report, err := r.Execute(ctx, cfg)
	if err != nil {
		return 0, err
	}
	return report.Accepted, nil
}

// Execute is Run returning the full report.
func (r *Runner) Execute(ctx context.Context, cfg crawler.SourceConfig) (Report, error) {
	runID, err := r.ids.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}
	sourceID := cfg.SourceID()
	logger := logging.ForRun(r.logger, runID, sourceID)
	report := Report{
		RunID:     runID,
		SourceID:  sourceID,
		StartedAt: r.clock.Now(),
	}
	logger.Info("run started",
		zap.String("base_url", cfg.BaseURL),
		zap.String("adapter", cfg.Adapter),
		zap.String("currency", string(cfg.Currency)),
		zap.String("language", string(cfg.Language)),
		zap.Duration("page_delay", cfg.PageDelay()),
	)

	scraper, err := r.prepare(cfg)
	if err != nil {
		return r.fail(logger, report, err)
	}

	snap, err := r.snapshots.LatestFingerprints(ctx, sourceID)
	if err != nil {
		return r.fail(logger, report, fmt.Errorf("%w: %w", ErrSnapshotLookup, err))
	}
	logger.Debug("snapshot loaded", zap.Int("items", len(snap)))

	host := cfg.Host()
	seq := scrape.NewSequencer(scraper, r.client, cfg.PageDelay(),
		scrape.WithLogger(logger),
		scrape.WithPageObserver(func(stat scrape.PageStat) {
			switch {
			case stat.Err != nil:
				metrics.ObservePage(host, metrics.OutcomeError)
			case stat.Items == 0:
				metrics.ObservePage(host, metrics.OutcomeEmpty)
			default:
				report.Pages++
				metrics.ObservePage(host, metrics.OutcomeOK)
			}
		}),
	)

	var stats dedup.Stats
	changed := dedup.Filter(r.observed(ctx, seq, sourceID, logger, &report), snap, &stats)
	res := dispatcher.New(r.sender, r.ids, r.dispatch, logger).Dispatch(ctx, changed)

	report.Unchanged = int(stats.Dropped.Load())
	report.Changed = int(stats.Kept.Load())
	report.Accepted = res.Accepted
	report.Rejected = res.Rejected
	report.Dropped = res.Dropped
	report.Batches = res.Batches
	report.FailedBatches = res.FailedBatches
	report.FinishedAt = r.clock.Now()
	report.Status = StatusCompleted
	if report.ScrapeErrors > 0 || res.FailedBatches > 0 || res.Rejected > 0 || res.Dropped > 0 {
		report.Status = StatusCompletedWithErrors
	}

	metrics.ObserveItems(host, metrics.OutcomeScraped, report.Scraped)
	metrics.ObserveItems(host, metrics.OutcomeUnchanged, report.Unchanged)
	metrics.ObserveItems(host, metrics.OutcomeError, report.ScrapeErrors)
	metrics.ObserveRun(report.Status, report.FinishedAt.Sub(report.StartedAt))

	report.ReportURI = r.writeReport(ctx, logger, host, report)
	logger.Info("run finished",
		zap.String("status", report.Status),
		zap.Int("pages", report.Pages),
		zap.Int("scraped", report.Scraped),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("accepted", report.Accepted),
		zap.Int("rejected", report.Rejected),
		zap.Int("failed_batches", report.FailedBatches),
	)
	return report, nil
}

func (r *Runner) prepare(cfg crawler.SourceConfig) (crawler.PageScraper, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrInvalidSource)
	}
	if !cfg.Currency.Valid() {
		return nil, fmt.Errorf("%w: unsupported currency %q", ErrInvalidSource, cfg.Currency)
	}
	if !cfg.Language.Valid() {
		return nil, fmt.Errorf("%w: unsupported language %q", ErrInvalidSource, cfg.Language)
	}
	scraper, err := r.scrapers.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}
	return scraper, nil
}

// observed drains the sequencer, logging and excluding scrape failures and
// stamping each listing with its source and observation time.
func (r *Runner) observed(
	ctx context.Context,
	seq *scrape.Sequencer,
	sourceID string,
	logger *zap.Logger,
	report *Report,
) iter.Seq[crawler.Item] {
	return func(yield func(crawler.Item) bool) {
		for item, err := range seq.Items(ctx) {
			if err != nil {
				report.ScrapeErrors++
				report.PageError = err.Error()
				logger.Warn("scrape failed; crawl stopped", zap.Error(err))
				continue
			}
			if item.ID == "" {
				report.ScrapeErrors++
				logger.Warn("listing without id skipped", zap.String("url", item.URL))
				continue
			}
			if item.SourceID == "" {
				item.SourceID = sourceID
			}
			if item.ObservedAt.IsZero() {
				item.ObservedAt = r.clock.Now()
			}
			report.Scraped++
			if !yield(item) {
				return
			}
		}
	}
}

func (r *Runner) fail(logger *zap.Logger, report Report, err error) (Report, error) {
	report.Status = StatusFailed
	report.FinishedAt = r.clock.Now()
	metrics.ObserveRun(StatusFailed, report.FinishedAt.Sub(report.StartedAt))
	logger.Error("run failed", zap.Error(err))
	return report, err
}

// writeReport stores the report when a blob store is configured. Failures are
// logged and never affect the run's outcome.
func (r *Runner) writeReport(ctx context.Context, logger *zap.Logger, host string, report Report) string {
	if r.blobs == nil {
		return ""
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Warn("encoding run report failed", zap.Error(err))
		return ""
	}
	name := path.Join("reports", host, report.RunID+".json")
	uri, err := r.blobs.PutObject(ctx, name, "application/json", data)
	if err != nil {
		logger.Warn("writing run report failed", zap.String("path", name), zap.Error(err))
		return ""
	}
	logger.Debug("run report written", zap.String("uri", uri))
	return uri
}
