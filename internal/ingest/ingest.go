// Package ingest normalizes the heterogeneous inbound webhook shapes into one
// canonical fact set the correlator understands. Each external shape gets a
// small adapter implementing Ingestor; parsing rules shared between adapters
// (reference extraction, phone normalization) live here.
package ingest

import (
	"regexp"
	"strings"
)

// Facts is the canonical output of every ingestor: the correlation keys plus
// whatever free text the reference may be buried in.
type Facts struct {
	PhoneDigits string // normalized phone, may keep a leading +
	ClientRef   string // extracted or structured reference, "" when absent
	SessionID   string
	EventID     string
	FreeText    string
}

// Ingestor is implemented by each webhook adapter: one external payload shape
// normalized into Facts.
type Ingestor interface {
	Normalize() (*Facts, error)
}

var (
	_ Ingestor = (*ChatMessage)(nil)
	_ Ingestor = (*ChargeWebhook)(nil)
	_ Ingestor = (*TrackRequest)(nil)
)

// clientRefPattern matches the reference token embedded in outbound chat
// messages, e.g. "Olá! cliente#23001". Case-insensitive, first match wins.
var clientRefPattern = regexp.MustCompile(`(?i)cliente#([A-Za-z0-9_-]+)`)

// ExtractClientRef scans free text for an embedded "cliente#<token>"
// reference. Returns "" when none is present.
func ExtractClientRef(text string) string {
	m := clientRefPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// NormalizePhone strips everything except digits and a leading +. Write sites
// are inconsistent about the +, so matching must go through PhoneVariants.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneVariants returns the bare-digits and +-prefixed spellings of a phone
// number so lookups match records written either way.
func PhoneVariants(phone string) []string {
	bare := strings.TrimPrefix(NormalizePhone(phone), "+")
	if bare == "" {
		return nil
	}
	return []string{bare, "+" + bare}
}
