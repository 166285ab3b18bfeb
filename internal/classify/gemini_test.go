package classify

import (
	"strings"
	"testing"

	"masarif/internal/core"
)

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    core.Classification
		wantErr bool
	}{
		{
			name: "plain json",
			raw:  `{"category": "Groceries & Supermarkets", "merchant": "Carrefour", "transaction_type": "purchase", "confidence": 0.92}`,
			want: core.Classification{
				Category:        "Groceries & Supermarkets",
				Merchant:        "Carrefour",
				TransactionType: "purchase",
				Confidence:      0.92,
			},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"category\": \"Transportation\", \"merchant\": \"Uber\", \"transaction_type\": \"purchase\", \"confidence\": 0.8}\n```",
			want: core.Classification{
				Category:        "Transportation",
				Merchant:        "Uber",
				TransactionType: "purchase",
				Confidence:      0.8,
			},
		},
		{
			name: "json wrapped in prose",
			raw:  "Here is the result:\n{\"category\": \"Food & Dining\", \"merchant\": \"Albaik\", \"transaction_type\": \"purchase\", \"confidence\": 0.9}\nHope that helps.",
			want: core.Classification{
				Category:        "Food & Dining",
				Merchant:        "Albaik",
				TransactionType: "purchase",
				Confidence:      0.9,
			},
		},
		{
			name: "unknown category falls back to Other",
			raw:  `{"category": "Cryptocurrency", "merchant": "Binance", "transaction_type": "purchase", "confidence": 0.7}`,
			want: core.Classification{
				Category:        core.CategoryOther,
				Merchant:        "Binance",
				TransactionType: "purchase",
				Confidence:      0.7,
			},
		},
		{
			name: "case-insensitive category match",
			raw:  `{"category": "groceries & supermarkets", "merchant": "Panda", "transaction_type": "purchase", "confidence": 0.85}`,
			want: core.Classification{
				Category:        "Groceries & Supermarkets",
				Merchant:        "Panda",
				TransactionType: "purchase",
				Confidence:      0.85,
			},
		},
		{
			name: "missing fields get defaults",
			raw:  `{"category": "Other"}`,
			want: core.Classification{
				Category:        core.CategoryOther,
				Merchant:        core.MerchantUnknown,
				TransactionType: "unknown",
				Confidence:      0,
			},
		},
		{
			name: "confidence clamped above one",
			raw:  `{"category": "Other", "merchant": "X", "transaction_type": "purchase", "confidence": 1.4}`,
			want: core.Classification{
				Category:        core.CategoryOther,
				Merchant:        "X",
				TransactionType: "purchase",
				Confidence:      1,
			},
		},
		{
			name: "confidence clamped below zero",
			raw:  `{"category": "Other", "merchant": "X", "transaction_type": "purchase", "confidence": -0.3}`,
			want: core.Classification{
				Category:        core.CategoryOther,
				Merchant:        "X",
				TransactionType: "purchase",
				Confidence:      0,
			},
		},
		{
			name:    "not json",
			raw:     "I could not categorize this transaction.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseClassification(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseClassification() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseClassification() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := buildPrompt("CARREFOUR RIYADH", core.Money{Cents: -9350}, "SAR")

	if !strings.Contains(prompt, "CARREFOUR RIYADH") {
		t.Error("prompt missing description")
	}
	if !strings.Contains(prompt, "93.50 SAR") {
		t.Errorf("prompt missing absolute amount:\n%s", prompt)
	}
	for _, c := range core.Categories {
		if !strings.Contains(prompt, c) {
			t.Errorf("prompt missing category %q", c)
		}
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced with language", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced without language", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding prose", "result: {\"a\":1} done", `{"a":1}`},
		{"whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanModelJSON(tt.raw); got != tt.want {
				t.Errorf("cleanModelJSON(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
