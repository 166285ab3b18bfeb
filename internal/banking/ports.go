// Package banking defines the account data source port and its open-banking
// gateway implementation.
package banking

import (
	"context"

	"masarif/internal/core"
)

type (
	// RawTransaction is one unnormalized transaction as reported by the
	// data source. Amounts are decimal strings; timestamps are ISO-8601.
	RawTransaction struct {
		ExternalID  string
		Description string
		AmountValue string
		Currency    string
		CreditDebit string
		Timestamp   string
	}

	// Balance is the current balance of one account at the source.
	Balance struct {
		AmountValue    string
		AvailableValue string
		Currency       string
	}

	// Source supplies raw transaction batches and balances per account.
	// Any error it returns is terminal for the current sync: the caller
	// reports a source-unavailable outcome and leaves persisted data
	// untouched.
	Source interface {
		FetchTransactions(ctx context.Context, accountID string, w core.Window) ([]RawTransaction, error)
		FetchBalance(ctx context.Context, accountID string) (Balance, error)
	}
)
