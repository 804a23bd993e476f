// Package dispatcher groups changed listings into queue batches and sends them
// with bounded concurrency.
package dispatcher

import (
	"context"
	"encoding/json"
	"iter"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
	"github.com/JakeFAU/listing-diff-scraper/internal/metrics"
)

// Config controls batch size and fan-out.
type Config struct {
	BatchSize   int
	Concurrency int
}

// Result summarizes one Dispatch call.
type Result struct {
	Accepted      int
	Rejected      int
	Dropped       int
	Batches       int
	FailedBatches int
}

// Dispatcher fans batches out to a BatchSender.
type Dispatcher struct {
	sender crawler.BatchSender
	idGen  crawler.IDGenerator
	cfg    Config
	logger *zap.Logger
}

// New creates a Dispatcher. BatchSize is clamped to [1, crawler.MaxBatchSize]
// and a non-positive Concurrency falls back to crawler.DefaultConcurrency.
func New(sender crawler.BatchSender, idGen crawler.IDGenerator, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 || cfg.BatchSize > crawler.MaxBatchSize {
		cfg.BatchSize = crawler.MaxBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = crawler.DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sender: sender,
		idGen:  idGen,
		cfg:    cfg,
		logger: logger,
	}
}

type tally struct {
	accepted      atomic.Int64
	rejected      atomic.Int64
	dropped       atomic.Int64
	batches       atomic.Int64
	failedBatches atomic.Int64
}

func (t *tally) result() Result {
	return Result{
		Accepted:      int(t.accepted.Load()),
		Rejected:      int(t.rejected.Load()),
		Dropped:       int(t.dropped.Load()),
		Batches:       int(t.batches.Load()),
		FailedBatches: int(t.failedBatches.Load()),
	}
}

// Dispatch consumes items, sends them in chunks, and blocks until every chunk
// has completed. At most Concurrency chunks are in flight; the next chunk is
// not pulled from items until a slot frees. Chunk failures never abort
// sibling chunks.
func (d *Dispatcher) Dispatch(ctx context.Context, items iter.Seq[crawler.Item]) Result {
	var (
		group errgroup.Group
		t     tally
	)
	group.SetLimit(d.cfg.Concurrency)

	chunk := make([]crawler.Item, 0, d.cfg.BatchSize)
	flush := func() {
		batch := chunk
		chunk = make([]crawler.Item, 0, d.cfg.BatchSize)
		group.Go(func() error {
			d.sendChunk(ctx, batch, &t)
			return nil
		})
	}
	for item := range items {
		chunk = append(chunk, item)
		if len(chunk) == d.cfg.BatchSize {
			flush()
		}
	}
	if len(chunk) > 0 {
		flush()
	}
	_ = group.Wait()
	return t.result()
}

func (d *Dispatcher) sendChunk(ctx context.Context, items []crawler.Item, t *tally) {
	entries := d.buildEntries(items, t)
	if len(entries) == 0 {
		return
	}
	t.batches.Add(1)

	res, err := d.sender.SendBatch(ctx, entries)
	if err != nil {
		t.failedBatches.Add(1)
		metrics.ObserveBatch(metrics.OutcomeFailed)
		d.logger.Warn("message batch failed",
			zap.Int("entries", len(entries)),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveBatch(metrics.OutcomeSent)

	sent := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		sent[e.ID] = struct{}{}
	}
	accepted := 0
	for _, id := range res.Successful {
		if _, ok := sent[id]; ok {
			accepted++
			delete(sent, id)
		}
	}
	for _, failure := range res.Failed {
		d.logger.Warn("queue rejected entry",
			zap.String("entry_id", failure.ID),
			zap.String("code", failure.Code),
			zap.String("message", failure.Message),
			zap.Bool("sender_fault", failure.SenderFault),
		)
	}
	t.accepted.Add(int64(accepted))
	t.rejected.Add(int64(len(res.Failed)))
	metrics.ObserveEntries(metrics.OutcomeAccepted, accepted)
	metrics.ObserveEntries(metrics.OutcomeRejected, len(res.Failed))
	d.logger.Info("sent message batch",
		zap.Int("successful", accepted),
		zap.Int("failed", len(res.Failed)),
	)
}

func (d *Dispatcher) buildEntries(items []crawler.Item, t *tally) []crawler.Entry {
	entries := make([]crawler.Entry, 0, len(items))
	for _, item := range items {
		body, err := json.Marshal(item)
		if err != nil {
			t.dropped.Add(1)
			metrics.ObserveEntries(metrics.OutcomeDropped, 1)
			d.logger.Warn("serializing item failed", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		id, err := d.idGen.NewID()
		if err != nil {
			t.dropped.Add(1)
			metrics.ObserveEntries(metrics.OutcomeDropped, 1)
			d.logger.Warn("generating entry id failed", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		entries = append(entries, crawler.Entry{ID: id, ItemID: item.ID, Body: body})
	}
	return entries
}
