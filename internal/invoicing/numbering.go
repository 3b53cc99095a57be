package invoicing

import (
	"fmt"
	"strings"
)

// DefaultPrefix is used when no invoice prefix is configured.
const DefaultPrefix = "INV"

// FormatNumber renders an invoice number as PREFIX-000042.
func FormatNumber(prefix string, seq int64) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s-%06d", prefix, seq)
}

// NextSequence returns the sequence for a new invoice: one past the last
// invoice identity, or start when no invoice exists yet.
func NextSequence(lastID *int64, start int64) int64 {
	if lastID != nil {
		return *lastID + 1
	}
	if start < 1 {
		return 1
	}
	return start
}
