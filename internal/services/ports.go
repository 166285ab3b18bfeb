// Package services contains the pipeline engines: ingestion, aggregation
// and insight derivation.
package services

import (
	"context"
	"time"

	"masarif/internal/core"
)

// RecordStore is the persistence surface the engines depend on. Both the
// SQLite repository and the in-memory store satisfy it.
type RecordStore interface {
	UpsertAccount(ctx context.Context, a core.Account) error
	GetAccount(ctx context.Context, id string) (*core.Account, error)
	ListAccountsByUser(ctx context.Context, userID string) ([]core.Account, error)
	ListAccountsSyncedBefore(ctx context.Context, cutoff time.Time) ([]core.Account, error)
	FindByExternalID(ctx context.Context, accountID, externalID string) (*core.Transaction, error)
	InsertTransaction(ctx context.Context, tx core.Transaction) error
	QueryByWindow(ctx context.Context, accountIDs []string, w core.Window) ([]core.Transaction, error)
	OverrideCategory(ctx context.Context, accountID, externalID, category string) error
}
