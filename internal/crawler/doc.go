// Package crawler defines the listing records, fingerprints, snapshots, and
// the ports shared by the scrape, dedup, dispatch, and pipeline packages.
package crawler
