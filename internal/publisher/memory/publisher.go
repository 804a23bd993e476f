// Package memory contains an in-memory queue sender for local runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
)

// Publisher stores accepted entries for inspection.
type Publisher struct {
	mu       sync.RWMutex
	accepted []crawler.Entry
	batches  int

	// Reject, when set, decides per entry whether the queue refuses it.
	Reject func(crawler.Entry) *crawler.EntryFailure
	// Fail, when set, can fail a whole batch before any entry is stored.
	Fail func(entries []crawler.Entry) error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// SendBatch records the batch and partitions it into accepted and rejected.
func (p *Publisher) SendBatch(_ context.Context, entries []crawler.Entry) (crawler.BatchResult, error) {
	if err := crawler.CheckBatch(entries); err != nil {
		return crawler.BatchResult{}, err
	}
	if p.Fail != nil {
		if err := p.Fail(entries); err != nil {
			return crawler.BatchResult{}, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches++
	var res crawler.BatchResult
	for _, e := range entries {
		if p.Reject != nil {
			if failure := p.Reject(e); failure != nil {
				failure.ID = e.ID
				res.Failed = append(res.Failed, *failure)
				continue
			}
		}
		p.accepted = append(p.accepted, crawler.Entry{ID: e.ID, ItemID: e.ItemID, Body: append([]byte(nil), e.Body...)})
		res.Successful = append(res.Successful, e.ID)
	}
	return res, nil
}

// Entries returns a copy of the accepted entries.
func (p *Publisher) Entries() []crawler.Entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]crawler.Entry, len(p.accepted))
	copy(out, p.accepted)
	return out
}

// Batches returns how many batches were received.
func (p *Publisher) Batches() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.batches
}

// Reset discards recorded entries.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accepted = nil
	p.batches = 0
}
