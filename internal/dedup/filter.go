// Package dedup drops listings whose fingerprint matches the last persisted one.
package dedup

import (
	"iter"
	"sync/atomic"

	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
)

// Stats counts the decisions made by Filter.
type Stats struct {
	Kept    atomic.Int64
	Dropped atomic.Int64
}

// Changed reports whether item should be forwarded. Items never seen before
// are always forwarded.
func Changed(item crawler.Item, snap crawler.Snapshot) bool {
	previous, ok := snap.Lookup(item.ID)
	if !ok {
		return true
	}
	return item.Fingerprint() != previous
}

// Filter lazily yields the items of seq that changed relative to snap, in
// order. stats may be nil.
func Filter(seq iter.Seq[crawler.Item], snap crawler.Snapshot, stats *Stats) iter.Seq[crawler.Item] {
	return func(yield func(crawler.Item) bool) {
		for item := range seq {
			if !Changed(item, snap) {
				if stats != nil {
					stats.Dropped.Add(1)
				}
				continue
			}
			if stats != nil {
				stats.Kept.Add(1)
			}
			if !yield(item) {
				return
			}
		}
	}
}
