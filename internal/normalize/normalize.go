package normalize

import (
	"regexp"
	"strings"
)

var (
	bracketPattern    = regexp.MustCompile(`[()\[\]{}]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	shippingPrefix    = regexp.MustCompile(`^(?:ship to|shipping|ship|deliver to|delivery)\s+`)
)

// Header reduces a source column name to the stable key used for learned
// corrections and custom field identity. The same function must be applied
// at write and read time, and it is idempotent.
func Header(header string) string {
	h := strings.ToLower(strings.TrimSpace(header))
	h = bracketPattern.ReplaceAllString(h, "")
	h = whitespacePattern.ReplaceAllString(h, " ")
	h = strings.TrimSpace(h)

	// Repeated headers like "Ship To Ship To Location" collapse in one pass,
	// which keeps Header(Header(h)) == Header(h).
	for {
		stripped := shippingPrefix.ReplaceAllString(h, "")
		if stripped == h {
			break
		}
		h = stripped
	}

	return strings.TrimSpace(h)
}

// Headers normalizes a batch of headers, preserving input order.
func Headers(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = Header(h)
	}
	return out
}
