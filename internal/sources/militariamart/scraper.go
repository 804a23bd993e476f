// Package militariamart scrapes catalogue pages of Militariamart-hosted shops.
package militariamart

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/listing-diff-scraper/internal/crawler"
)

// Name is the adapter name used in source configurations.
const Name = "militariamart"

const (
	cardSelector        = "div.shopitem > div.inner-wrapper"
	codeSelector        = "div.block-text > p.itemCode > a"
	titleSelector       = "div.block-text > a.shopitemTitle"
	descriptionSelector = "div.block-text > p.itemDescription"
	priceSelector       = "div.block-text > div.actioncontainer > p.price"
	imageSelector       = "div.block-image > a > img"
)

var stateSelectors = []string{
	"div.block-text > div.actioncontainer > form > button",
	"div.block-text > div.actioncontainer > form > p",
}

// Scraper implements crawler.PageScraper for one shop.
type Scraper struct {
	base      *url.URL
	sourceID  string
	host      string
	currency  crawler.Currency
	userAgent string
}

// Option customizes a Scraper.
type Option func(*Scraper)

// WithUserAgent overrides the User-Agent header sent with page requests.
func WithUserAgent(ua string) Option {
	return func(s *Scraper) {
		s.userAgent = ua
	}
}

// New validates cfg and builds a Scraper.
func New(cfg crawler.SourceConfig, opts ...Option) (*Scraper, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be an absolute http(s) url", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	s := &Scraper{
		base:     base,
		sourceID: cfg.SourceID(),
		host:     strings.ToLower(base.Hostname()),
		currency: cfg.Currency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ScrapePage fetches catalogue page n and extracts its listings. A page
// without listing cards yields an empty slice.
func (s *Scraper) ScrapePage(ctx context.Context, page int, client *http.Client) ([]crawler.Item, error) {
	if client == nil {
		client = http.DefaultClient
	}
	pageURL := s.base.ResolveReference(&url.URL{Path: "shop.php", RawQuery: "pg=" + strconv.Itoa(page)})

	collector := colly.NewCollector(colly.AllowURLRevisit())
	if s.userAgent != "" {
		collector.UserAgent = s.userAgent
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	collector.WithTransport(&contextTransport{ctx: ctx, base: base})
	if client.Timeout > 0 {
		collector.SetRequestTimeout(client.Timeout)
	}

	var (
		items    []crawler.Item
		fetchErr error
	)
	collector.OnHTML(cardSelector, func(e *colly.HTMLElement) {
		if item, ok := s.parseCard(e.DOM); ok {
			items = append(items, item)
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	if err := collector.Visit(pageURL.String()); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", pageURL, ctxErr)
		}
		return nil, fmt.Errorf("fetch %s: %w", pageURL, fetchErr)
	}
	if items == nil {
		items = []crawler.Item{}
	}
	return items, nil
}

func (s *Scraper) parseCard(card *goquery.Selection) (crawler.Item, bool) {
	href, _ := card.Find(codeSelector).First().Attr("href")
	code := itemCode(href)
	if code == "" {
		return crawler.Item{}, false
	}

	name, _ := card.Find(titleSelector).First().Attr("title")
	item := crawler.Item{
		ID:          "item#" + s.host + "#" + code,
		SourceID:    s.sourceID,
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(firstText(card.Find(descriptionSelector))),
		Currency:    s.currency,
		State:       parseState(card),
		URL:         s.base.ResolveReference(&url.URL{Path: "shop.php", RawQuery: "code=" + url.QueryEscape(code)}).String(),
	}
	if price, currency, ok := parsePrice(firstText(card.Find(priceSelector)), s.currency); ok {
		lower, upper := price, price
		item.LowerPrice = &lower
		item.UpperPrice = &upper
		item.Currency = currency
	}
	if src, ok := card.Find(imageSelector).First().Attr("src"); ok && strings.TrimSpace(src) != "" {
		if ref, err := url.Parse(strings.TrimSpace(src)); err == nil {
			item.ImageURL = s.base.ResolveReference(ref).String()
		}
	}
	return item, true
}

// itemCode extracts the listing code from a "?code=..." link.
func itemCode(href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(ref.Query().Get("code"))
}

func parseState(card *goquery.Selection) crawler.ItemState {
	for _, sel := range stateSelectors {
		found := card.Find(sel).First()
		if found.Length() == 0 {
			continue
		}
		switch strings.TrimSpace(firstText(found)) {
		case "SOLD":
			return crawler.ItemStateSold
		case "Reserved":
			return crawler.ItemStateReserved
		case "Add to basket":
			return crawler.ItemStateAvailable
		default:
			return crawler.ItemStateListed
		}
	}
	return crawler.ItemStateListed
}

// parsePrice strips the currency code, its symbol and thousands separators.
// With no configured currency every known code and symbol is tried, and the
// one found in raw is returned so the listing still carries its currency.
func parsePrice(raw string, currency crawler.Currency) (float64, crawler.Currency, bool) {
	candidates := []crawler.Currency{currency}
	if currency == "" {
		candidates = crawler.Currencies()
	}
	text := raw
	var found crawler.Currency
	for _, c := range candidates {
		stripped := strings.ReplaceAll(text, string(c), "")
		stripped = strings.ReplaceAll(stripped, c.Symbol(), "")
		if stripped != text && found == "" {
			found = c
		}
		text = stripped
	}
	if currency != "" {
		found = currency
	}
	text = strings.ReplaceAll(text, ",", "")
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, "", false
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, "", false
	}
	return v, found, true
}

// firstText returns the first non-blank text node directly under sel.
func firstText(sel *goquery.Selection) string {
	text := sel.First().Contents().FilterFunction(func(_ int, n *goquery.Selection) bool {
		return goquery.NodeName(n) == "#text" && strings.TrimSpace(n.Text()) != ""
	}).First().Text()
	return text
}

type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.ctx.Err(); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req.WithContext(t.ctx))
}
