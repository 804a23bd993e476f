// Package postgres provides the Postgres-backed fingerprint history.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "fingerprint_events"

// Config controls the Postgres connection pool used for fingerprint events.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// FingerprintStore reads fingerprint events written by the downstream
// ingester. Each row is (event_id, item_id, source_id, fingerprint, observed_at).
type FingerprintStore struct {
	pool  querier
	table string
}

// New creates a FingerprintStore connected with the provided config.
func New(ctx context.Context, cfg Config) (*FingerprintStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*FingerprintStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &FingerprintStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *FingerprintStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *FingerprintStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// LatestFingerprints returns the newest fingerprint per item of sourceID.
// Rows are read newest first so ties on observed_at resolve to the highest
// event id.
func (s *FingerprintStore) LatestFingerprints(ctx context.Context, sourceID string) (crawler.Snapshot, error) {
	query := fmt.Sprintf(`
SELECT DISTINCT ON (item_id) event_id, item_id, fingerprint, observed_at
FROM %s
WHERE source_id = $1
ORDER BY item_id, observed_at DESC, event_id DESC`, s.table)

	rows, err := s.pool.Query(ctx, query, sourceID)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	var events []crawler.FingerprintEvent
	for rows.Next() {
		var (
			evt         crawler.FingerprintEvent
			fingerprint string
		)
		if err := rows.Scan(&evt.EventID, &evt.ItemID, &fingerprint, &evt.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan fingerprint row: %w", err)
		}
		evt.SourceID = sourceID
		evt.Fingerprint = crawler.Fingerprint(fingerprint)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprint rows: %w", err)
	}
	return crawler.NewSnapshot(events), nil
}
