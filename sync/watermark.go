package sync

import "strings"

// Watermark is a blockTimestamp value as served by the subgraph.
// The subgraph serialises BigInt values as decimal strings.
type Watermark string

// Compare returns -1, 0 or +1. Decimal integers compare numerically
// regardless of their length, anything else compares lexicographically.
func (w Watermark) Compare(other Watermark) int {
	a, aok := decimalDigits(string(w))
	b, bok := decimalDigits(string(other))
	if aok && bok {
		if len(a) != len(b) {
			if len(a) < len(b) {
				return -1
			}
			return 1
		}
		return strings.Compare(a, b)
	}
	return strings.Compare(string(w), string(other))
}

// After reports whether w is strictly newer than other.
func (w Watermark) After(other Watermark) bool {
	return w.Compare(other) > 0
}

func (w Watermark) String() string {
	return string(w)
}

// decimalDigits returns s without leading zeros if s is a non-empty run of digits.
func decimalDigits(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", false
		}
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		trimmed = "0"
	}
	return trimmed, true
}

// MaxWatermark returns the highest watermark among events, or "" if events is empty.
func MaxWatermark(events []RawEvent) Watermark {
	var result Watermark
	for i, e := range events {
		if i == 0 || e.Watermark().After(result) {
			result = e.Watermark()
		}
	}
	return result
}
