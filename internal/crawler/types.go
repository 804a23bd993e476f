// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/url"
	"strings"
	"time"
)

// ItemState represents the lifecycle state of a marketplace listing.
type ItemState string

// Item states reported by site adapters. The zero value means unknown.
const (
	ItemStateListed    ItemState = "LISTED"
	ItemStateAvailable ItemState = "AVAILABLE"
	ItemStateReserved  ItemState = "RESERVED"
	ItemStateSold      ItemState = "SOLD"
	ItemStateRemoved   ItemState = "REMOVED"
)

// Currency is an ISO 4217 code. The zero value means unknown.
type Currency string

// Currencies quoted by supported marketplaces.
const (
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyUSD Currency = "USD"
)

// Currencies lists every known currency.
func Currencies() []Currency {
	return []Currency{CurrencyEUR, CurrencyGBP, CurrencyUSD}
}

// Symbol returns the sign commonly printed next to prices in c.
func (c Currency) Symbol() string {
	switch c {
	case CurrencyEUR:
		return "€"
	case CurrencyGBP:
		return "£"
	case CurrencyUSD:
		return "$"
	default:
		return ""
	}
}

// Valid reports whether c is empty or one of the known currencies.
func (c Currency) Valid() bool {
	switch c {
	case "", CurrencyEUR, CurrencyGBP, CurrencyUSD:
		return true
	default:
		return false
	}
}

// Language is a content-language hint passed to site adapters.
type Language string

// Supported language hints.
const (
	LanguageDE Language = "DE"
	LanguageEN Language = "EN"
)

// Valid reports whether l is empty or one of the known languages.
func (l Language) Valid() bool {
	switch l {
	case "", LanguageDE, LanguageEN:
		return true
	default:
		return false
	}
}

// Item is one observed listing. ID never changes for a listing; every other
// field may differ between observations.
type Item struct {
	ID          string    `json:"item_id"`
	SourceID    string    `json:"source_id"`
	ObservedAt  time.Time `json:"observed_at"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	LowerPrice  *float64  `json:"lower_price,omitempty"`
	UpperPrice  *float64  `json:"upper_price,omitempty"`
	Currency    Currency  `json:"currency,omitempty"`
	State       ItemState `json:"item_state,omitempty"`
	URL         string    `json:"url,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
}

// Fingerprint digests the fields that count as an observable change.
func (i Item) Fingerprint() Fingerprint {
	return ComputeFingerprint(i.State, i.Currency, i.LowerPrice, i.UpperPrice, i.URL)
}

// FingerprintEvent is one row of the persisted event history for an item.
type FingerprintEvent struct {
	EventID     string
	ItemID      string
	SourceID    string
	Fingerprint Fingerprint
	ObservedAt  time.Time
}

// SourceConfig describes one marketplace to crawl. The JSON shape matches the
// payload delivered by run triggers.
type SourceConfig struct {
	BaseURL                 string   `json:"baseUrl" mapstructure:"base_url"`
	Adapter                 string   `json:"adapter,omitempty" mapstructure:"adapter"`
	Currency                Currency `json:"currency,omitempty" mapstructure:"currency"`
	Language                Language `json:"language,omitempty" mapstructure:"language"`
	ShopDimension           *uint64  `json:"shopDimension,omitempty" mapstructure:"shop_dimension"`
	SleepBetweenPagesMillis *uint64  `json:"sleepBetweenPagesMillis,omitempty" mapstructure:"sleep_between_pages_millis"`
}

// SourceID is the key under which the source's fingerprint history is stored.
func (c SourceConfig) SourceID() string {
	return "source#" + c.BaseURL
}

// PageDelay converts SleepBetweenPagesMillis into a duration (zero when unset).
func (c SourceConfig) PageDelay() time.Duration {
	if c.SleepBetweenPagesMillis == nil {
		return 0
	}
	return time.Duration(*c.SleepBetweenPagesMillis) * time.Millisecond
}

// Host returns the lowercase hostname of BaseURL, or "unknown".
func (c SourceConfig) Host() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Entry is one serialized record inside a queue batch.
type Entry struct {
	ID     string
	ItemID string
	Body   []byte
}

// EntryFailure describes an entry the queue refused.
type EntryFailure struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	SenderFault bool   `json:"sender_fault"`
}

// BatchResult partitions a batch into acknowledged and rejected entry IDs.
type BatchResult struct {
	Successful []string
	Failed     []EntryFailure
}

const (
	// MaxBatchSize is the queue's per-request entry ceiling.
	MaxBatchSize = 10
	// DefaultConcurrency is the number of batches allowed in flight at once.
	DefaultConcurrency = 5
)
