// Package core provides the domain model of the ingestion pipeline:
// accounts, transactions, classifications, monetary amounts, time windows
// and insight signals.
package core

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseSignedDecimalToCents converts a decimal string to signed cents with
// half-up rounding on the third decimal place.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional leading sign. Bank sources report amounts as decimal strings;
// keeping them as integer cents avoids floating-point drift in aggregates.
//
// Examples:
//
//	ParseSignedDecimalToCents("12.34")  -> 1234, nil
//	ParseSignedDecimalToCents("-12,34") -> -1234, nil
//	ParseSignedDecimalToCents("12.346") -> 1235, nil (rounds up)
func ParseSignedDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")

	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if s == "" {
		return 0, ErrInvalidAmount
	}

	// Split into integer and fractional part
	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	// Prevent overflow when multiplying by 100
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return 0, ErrInvalidAmount
	}
	// Take first two fractional digits; then half-up rounding on third
	var fracCents int64
	if len(fracPart) > 0 {
		d1 := int64(fracPart[0] - '0')
		fracCents = d1 * 10
		if len(fracPart) > 1 {
			d2 := int64(fracPart[1] - '0')
			fracCents += d2
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				fracCents++
			}
		}
	}
	cents := iv*100 + fracCents
	if neg {
		cents = -cents
	}
	return cents, nil
}
