// Package worker runs account syncs triggered over AMQP, with a periodic
// staleness pass as a backup in case messages are lost.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"masarif/internal/amqp"
	"masarif/internal/core"
	"masarif/internal/services"
)

// Ingestor is the slice of the ingestion engine the worker needs.
type Ingestor interface {
	Sync(ctx context.Context, account core.Account) (*services.SyncResult, error)
}

// SyncWorker consumes account sync messages and re-syncs stale accounts.
type SyncWorker struct {
	store    services.RecordStore
	ingestor Ingestor
	interval time.Duration
}

func NewSyncWorker(store services.RecordStore, ingestor Ingestor, syncInterval time.Duration) *SyncWorker {
	return &SyncWorker{
		store:    store,
		ingestor: ingestor,
		interval: syncInterval,
	}
}

// HandleSyncMessage processes a single account sync message from AMQP.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.AccountSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message",
		"account_id", msg.AccountID,
		"request_id", msg.RequestID)

	account, err := w.store.GetAccount(ctx, msg.AccountID)
	if err != nil {
		return fmt.Errorf("get account from storage: %w", err)
	}
	if account == nil {
		// First sync for this account: the ingestor creates the record on
		// the first successful fetch.
		account = &core.Account{ID: msg.AccountID}
	}

	result, err := w.ingestor.Sync(ctx, *account)
	if err != nil {
		return fmt.Errorf("sync account %s: %w", msg.AccountID, err)
	}

	if result.SourceUnavailable {
		// Requeue so the sync is retried once the source recovers.
		return fmt.Errorf("sync account %s: data source unavailable", msg.AccountID)
	}

	slog.InfoContext(ctx, "Account sync done",
		"account_id", msg.AccountID,
		"sync_run_id", result.RunID,
		"new", result.NewTransactions,
		"duplicates", result.DuplicatesSkipped)

	return nil
}

// ProcessStaleAccounts re-syncs accounts that have not synced within the
// configured interval. This is a backup mechanism in case AMQP messages
// are lost.
func (w *SyncWorker) ProcessStaleAccounts(ctx context.Context) error {
	cutoff := time.Now().Add(-w.interval)
	stale, err := w.store.ListAccountsSyncedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale accounts: %w", err)
	}

	if len(stale) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Re-syncing stale accounts", "count", len(stale))

	for _, account := range stale {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := w.ingestor.Sync(ctx, account)
		if err != nil {
			slog.ErrorContext(ctx, "Stale account sync failed",
				"account_id", account.ID,
				"error", err)
			continue
		}
		if result.SourceUnavailable {
			slog.WarnContext(ctx, "Data source unavailable for stale account",
				"account_id", account.ID)
			continue
		}

		slog.InfoContext(ctx, "Stale account synced",
			"account_id", account.ID,
			"sync_run_id", result.RunID,
			"new", result.NewTransactions)
	}

	return nil
}

// Run consumes sync messages and runs the staleness pass on a ticker until
// the context is cancelled.
func (w *SyncWorker) Run(ctx context.Context, client *amqp.Client) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.ProcessStaleAccounts(ctx); err != nil && ctx.Err() == nil {
					slog.ErrorContext(ctx, "Stale account pass failed", "error", err)
				}
			}
		}
	}()

	return client.ConsumeAccountSync(ctx, func(msg *amqp.AccountSyncMessage) error {
		return w.HandleSyncMessage(ctx, msg)
	})
}
