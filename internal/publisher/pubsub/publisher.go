// Package pubsub implements the queue batch sender on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/grpc/status"

	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
)

// Message attribute keys set on every published entry.
const (
	AttrEntryID = "entry_id"
	AttrItemID  = "item_id"
)

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

// New creates a Publisher for the provided topic. The topic's publish
// settings are tuned so one batch is flushed as one request.
func New(topic *pubsub.Topic) (*Publisher, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	topic.PublishSettings.CountThreshold = crawler.MaxBatchSize
	topic.PublishSettings.DelayThreshold = 10 * time.Millisecond
	return &Publisher{topic: topic}, nil
}

// SendBatch publishes every entry and waits for the server acknowledgements.
// Entries the server refuses are reported in the result, even when none
// succeeds. Only a context that ends before the acknowledgements arrive fails
// the batch as a whole.
func (p *Publisher) SendBatch(ctx context.Context, entries []crawler.Entry) (crawler.BatchResult, error) {
	if err := crawler.CheckBatch(entries); err != nil {
		return crawler.BatchResult{}, err
	}

	results := make([]*pubsub.PublishResult, len(entries))
	for i, e := range entries {
		results[i] = p.topic.Publish(ctx, &pubsub.Message{
			Data: e.Body,
			Attributes: map[string]string{
				AttrEntryID: e.ID,
				AttrItemID:  e.ItemID,
			},
		})
	}

	var res crawler.BatchResult
	for i, r := range results {
		if _, err := r.Get(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return crawler.BatchResult{}, fmt.Errorf("publish batch: %w", ctxErr)
			}
			res.Failed = append(res.Failed, crawler.EntryFailure{
				ID:      entries[i].ID,
				Code:    status.Code(err).String(),
				Message: err.Error(),
			})
			continue
		}
		res.Successful = append(res.Successful, entries[i].ID)
	}
	return res, nil
}

// Close flushes pending messages and stops the topic's publisher goroutines.
func (p *Publisher) Close() {
	p.topic.Stop()
}
