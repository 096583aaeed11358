// internal/workflow/expiry.go
package workflow

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// unknownExpiry is recorded when the finished page never surfaces a date.
// A run can still be successful without one; later comparisons just skip it.
const unknownExpiry = "unknown"

// expiryLayouts covers the date renderings observed on the portal.
var expiryLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

var dateTokenPattern = regexp.MustCompile(
	`\d{4}-\d{2}-\d{2}|\d{2}[./]\d{2}[./]\d{4}|[A-Z][a-z]+ \d{1,2}, \d{4}|\d{1,2} [A-Z][a-z]+ \d{4}`)

var expiryHints = []string{"expiry", "expires", "expiration", "valid until", "valid through"}

// ExtractExpiry scans visible page text for a date token, preferring tokens
// on a line that carries an expiry-related hint. Returns unknownExpiry when
// nothing date-like exists.
func ExtractExpiry(text string) string {
	var fallback string
	for _, line := range strings.Split(text, "\n") {
		token := dateTokenPattern.FindString(line)
		if token == "" {
			continue
		}
		lower := strings.ToLower(line)
		for _, hint := range expiryHints {
			if strings.Contains(lower, hint) {
				return token
			}
		}
		if fallback == "" {
			fallback = token
		}
	}
	if fallback != "" {
		return fallback
	}
	return unknownExpiry
}

// NormalizeExpiry converts a raw date token to the canonical YYYY-MM-DD
// form. unknownExpiry passes through unchanged.
func NormalizeExpiry(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == unknownExpiry {
		return unknownExpiry, nil
	}
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unrecognized date format %q", raw)
}
