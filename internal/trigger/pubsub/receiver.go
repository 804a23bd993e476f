// Package pubsub starts scraper runs from Pub/Sub trigger messages. Each
// message body is one source configuration; one message is one run.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
	"github.com/JakeFAU/listing-diff-scraper/internal/pipeline"
)

// Runner executes one run for a source.
type Runner interface {
	Run(ctx context.Context, cfg crawler.SourceConfig) (int, error)
}

// DefaultMaxRunDuration bounds a triggered run when Config leaves it unset.
const DefaultMaxRunDuration = 4 * time.Hour

// Config tunes how trigger messages are consumed.
type Config struct {
	// MaxConcurrentRuns bounds how many messages are processed at once;
	// values below 1 mean one at a time.
	MaxConcurrentRuns int
	// MaxRunDuration caps one run. The message lease is extended for as long,
	// so a slow crawl is not redelivered while it is still running.
	MaxRunDuration time.Duration
}

// Receiver pulls trigger messages from a subscription.
type Receiver struct {
	sub     *pubsub.Subscription
	runner  Runner
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a Receiver.
func New(sub *pubsub.Subscription, runner Runner, cfg Config, logger *zap.Logger) (*Receiver, error) {
	if sub == nil {
		return nil, fmt.Errorf("pubsub subscription is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrentRuns < 1 {
		cfg.MaxConcurrentRuns = 1
	}
	if cfg.MaxRunDuration <= 0 {
		cfg.MaxRunDuration = DefaultMaxRunDuration
	}
	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxConcurrentRuns
	sub.ReceiveSettings.MaxExtension = cfg.MaxRunDuration
	return &Receiver{
		sub:     sub,
		runner:  runner,
		timeout: cfg.MaxRunDuration,
		logger:  logger.Named("trigger"),
	}, nil
}

// Start blocks receiving messages until ctx is canceled.
func (r *Receiver) Start(ctx context.Context) error {
	r.logger.Info("listening for run triggers", zap.String("subscription", r.sub.String()))
	if err := r.sub.Receive(ctx, r.handle); err != nil {
		return fmt.Errorf("receive run triggers: %w", err)
	}
	return nil
}

// handle acks successful runs and payloads that can never succeed. A failed
// snapshot lookup is nacked so the trigger is redelivered.
func (r *Receiver) handle(ctx context.Context, msg *pubsub.Message) {
	logger := r.logger.With(zap.String("message_id", msg.ID))

	var cfg crawler.SourceConfig
	if err := json.Unmarshal(msg.Data, &cfg); err != nil {
		logger.Error("malformed run trigger dropped", zap.Error(err))
		msg.Ack()
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	n, err := r.runner.Run(ctx, cfg)
	switch {
	case err == nil:
		logger.Info("triggered run completed", zap.String("source_id", cfg.SourceID()), zap.Int("accepted", n))
		msg.Ack()
	case errors.Is(err, pipeline.ErrInvalidSource):
		logger.Error("run trigger rejected", zap.String("source_id", cfg.SourceID()), zap.Error(err))
		msg.Ack()
	default:
		logger.Error("triggered run failed; requesting redelivery", zap.String("source_id", cfg.SourceID()), zap.Error(err))
		msg.Nack()
	}
}
