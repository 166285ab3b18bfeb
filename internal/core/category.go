package core

import "strings"

// CategoryOther is the catch-all category and the deterministic fallback
// when the classifier cannot be trusted.
const CategoryOther = "Other"

// MerchantUnknown is the fallback merchant name.
const MerchantUnknown = "Unknown"

// Categories is the closed set of spending categories. The classifier is
// prompted with exactly this list; anything outside it maps to Other.
var Categories = []string{
	"Food & Dining",
	"Groceries & Supermarkets",
	"Shopping & Retail",
	"Transportation",
	"Entertainment",
	"Bills & Utilities",
	"Healthcare & Medical",
	"Education",
	"Travel & Hotels",
	"Banking & Finance",
	"Government & Services",
	CategoryOther,
}

var categorySet = func() map[string]string {
	m := make(map[string]string, len(Categories))
	for _, c := range Categories {
		m[strings.ToLower(c)] = c
	}
	return m
}()

// NormalizeCategory maps an arbitrary category value to a member of the
// closed set. Matching is case-insensitive; unknown values become Other.
func NormalizeCategory(s string) string {
	if c, ok := categorySet[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c
	}
	return CategoryOther
}

// FallbackClassification is applied when the classifier fails, times out or
// returns a malformed response. Ingestion never fails because classification
// failed.
func FallbackClassification() Classification {
	return Classification{
		Category:        CategoryOther,
		Merchant:        MerchantUnknown,
		TransactionType: "unknown",
		Confidence:      0.0,
	}
}
