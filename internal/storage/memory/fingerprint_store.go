package memory

import (
	"context"
	"slices"
	"sort"

	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
)

// FingerprintStore serves a fixed fingerprint event history from memory.
// Without events every listing is reported as never seen.
type FingerprintStore struct {
	events []crawler.FingerprintEvent
}

// NewFingerprintStore returns a store over a copy of events, oldest recorded first.
func NewFingerprintStore(events ...crawler.FingerprintEvent) *FingerprintStore {
	return &FingerprintStore{events: slices.Clone(events)}
}

// LatestFingerprints builds the snapshot for sourceID. Among events with the
// same timestamp the one recorded last wins.
func (s *FingerprintStore) LatestFingerprints(ctx context.Context, sourceID string) (crawler.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matching := make([]crawler.FingerprintEvent, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].SourceID == sourceID {
			matching = append(matching, s.events[i])
		}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].ObservedAt.After(matching[j].ObservedAt)
	})
	return crawler.NewSnapshot(matching), nil
}
