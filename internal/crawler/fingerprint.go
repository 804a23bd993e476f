package crawler

import (
	"strconv"
	"strings"

	"github.com/JakeFAU/listing-diff-scraper/internal/hash/sha256"
)

// Fingerprint is a hex SHA-256 digest compared for equality only.
type Fingerprint string

// ComputeFingerprint digests the change-relevant fields of a listing. Name and
// description edits do not alter the result. Every combination of present and
// absent values maps to a distinct canonical encoding, so the function is total.
func ComputeFingerprint(
	state ItemState,
	currency Currency,
	lowerPrice *float64,
	upperPrice *float64,
	url string,
) Fingerprint {
	var b strings.Builder
	writeField(&b, "item_state", string(state), state != "")
	writeField(&b, "currency", string(currency), currency != "")
	writeField(&b, "lower_price", formatPrice(lowerPrice), lowerPrice != nil)
	writeField(&b, "upper_price", formatPrice(upperPrice), upperPrice != nil)
	writeField(&b, "url", url, url != "")
	return Fingerprint(sha256.Sum([]byte(b.String())))
}

// writeField appends name, a presence flag, and a length-prefixed value.
func writeField(b *strings.Builder, name, value string, present bool) {
	b.WriteString(name)
	if !present {
		b.WriteString(":0;")
		return
	}
	b.WriteString(":1:")
	b.WriteString(strconv.Itoa(len(value)))
	b.WriteByte(':')
	b.WriteString(value)
	b.WriteByte(';')
}

func formatPrice(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}
