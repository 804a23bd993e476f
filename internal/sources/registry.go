// Package sources maps adapter names in source configurations to page scrapers.
package sources

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
	"github.com/JakeFAU/listing-diff-scraper/internal/sources/militariamart"
)

// ErrUnknownAdapter is returned when a configuration names an adapter that is
// not registered.
var ErrUnknownAdapter = errors.New("unknown source adapter")

// DefaultAdapter is used when a configuration leaves Adapter empty.
const DefaultAdapter = militariamart.Name

// Options are shared by every adapter built through a Registry.
type Options struct {
	UserAgent string
}

// Factory builds a scraper for one source.
type Factory func(cfg crawler.SourceConfig, opts Options) (crawler.PageScraper, error)

// Registry holds the available adapters.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	opts      Options
}

// NewRegistry returns a Registry with the built-in adapters registered.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		opts:      opts,
	}
	r.Register(militariamart.Name, func(cfg crawler.SourceConfig, opts Options) (crawler.PageScraper, error) {
		return militariamart.New(cfg, militariamart.WithUserAgent(opts.UserAgent))
	})
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// New builds the scraper named by cfg.Adapter.
func (r *Registry) New(cfg crawler.SourceConfig) (crawler.PageScraper, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Adapter))
	if name == "" {
		name = DefaultAdapter
	}
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, cfg.Adapter)
	}
	scraper, err := f(cfg, r.opts)
	if err != nil {
		return nil, fmt.Errorf("build %s adapter: %w", name, err)
	}
	return scraper, nil
}

// Names lists registered adapters in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
