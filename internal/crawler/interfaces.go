package crawler

import (
	"context"
	"net/http"
	"time"
)

// PageScraper fetches one catalogue page of a marketplace. Pages are numbered
// from 1; an empty result with a nil error marks the end of the catalogue.
type PageScraper interface {
	ScrapePage(ctx context.Context, page int, client *http.Client) ([]Item, error)
}

// PageScraperFunc adapts a function to PageScraper.
type PageScraperFunc func(ctx context.Context, page int, client *http.Client) ([]Item, error)

// ScrapePage calls f.
func (f PageScraperFunc) ScrapePage(ctx context.Context, page int, client *http.Client) ([]Item, error) {
	return f(ctx, page, client)
}

// SnapshotSource returns the latest fingerprint per item for a source.
type SnapshotSource interface {
	LatestFingerprints(ctx context.Context, sourceID string) (Snapshot, error)
}

// BatchSender submits up to MaxBatchSize entries to the downstream queue in one
// request. A non-nil error means the whole batch failed; otherwise the result
// partitions entries into acknowledged and rejected.
type BatchSender interface {
	SendBatch(ctx context.Context, entries []Entry) (BatchResult, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request-scoped identifiers (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
