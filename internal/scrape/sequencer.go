// Package scrape turns a single-page fetch primitive into a lazy item sequence
// covering a whole marketplace catalogue.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
)

// ErrSequencerUsed is yielded when a Sequencer is iterated a second time.
var ErrSequencerUsed = errors.New("sequencer already started; create a new one per run")

// PageError reports the page whose fetch ended the crawl.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("scrape page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// PageStat describes the outcome of one page fetch.
type PageStat struct {
	Page     int
	Items    int
	Duration time.Duration
	Err      error
}

// Option customizes a Sequencer.
type Option func(*Sequencer)

// WithLogger sets the logger used for page-level debug output.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sequencer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPageObserver registers a callback invoked after every page fetch.
func WithPageObserver(fn func(PageStat)) Option {
	return func(s *Sequencer) {
		if fn != nil {
			s.observe = fn
		}
	}
}

// Sequencer drives repeated page fetches. It is single-use: build a new one
// for every run.
type Sequencer struct {
	scraper crawler.PageScraper
	client  *http.Client
	delay   time.Duration
	logger  *zap.Logger
	observe func(PageStat)
	sleep   func(context.Context, time.Duration) error
	started atomic.Bool
}

// NewSequencer constructs a Sequencer. A positive delay is waited between
// pages that returned items.
func NewSequencer(
	scraper crawler.PageScraper,
	client *http.Client,
	delay time.Duration,
	opts ...Option,
) *Sequencer {
	if client == nil {
		client = http.DefaultClient
	}
	s := &Sequencer{
		scraper: scraper,
		client:  client,
		delay:   delay,
		logger:  zap.NewNop(),
		observe: func(PageStat) {},
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Items returns the catalogue as a lazy sequence. No page is fetched before
// the consumer asks for an element. The sequence ends after the first empty
// page, or after yielding the first fetch error as its final element.
func (s *Sequencer) Items(ctx context.Context) iter.Seq2[crawler.Item, error] {
	return func(yield func(crawler.Item, error) bool) {
		if !s.started.CompareAndSwap(false, true) {
			yield(crawler.Item{}, ErrSequencerUsed)
			return
		}
		for page := 1; ; page++ {
			start := time.Now()
			items, err := s.scraper.ScrapePage(ctx, page, s.client)
			stat := PageStat{Page: page, Items: len(items), Duration: time.Since(start), Err: err}
			s.observe(stat)
			if err != nil {
				s.logger.Debug("page fetch failed", zap.Int("page", page), zap.Error(err))
				yield(crawler.Item{}, &PageError{Page: page, Err: err})
				return
			}
			if len(items) == 0 {
				s.logger.Debug("catalogue exhausted", zap.Int("page", page))
				return
			}
			s.logger.Debug("page fetched", zap.Int("page", page), zap.Int("items", len(items)))
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if s.delay > 0 {
				if err := s.sleep(ctx, s.delay); err != nil {
					yield(crawler.Item{}, &PageError{Page: page + 1, Err: err})
					return
				}
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("delay interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
