package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"masarif/internal/banking"
	"masarif/internal/classify"
	"masarif/internal/core"
)

// SyncResult is the structured outcome of one ingestion run. Partial
// degradation (duplicates, malformed records, classifier fallbacks) is
// reported here instead of failing the run.
type SyncResult struct {
	RunID             string
	AccountID         string
	NewTransactions   int
	DuplicatesSkipped int
	MalformedSkipped  int
	FallbacksApplied  int
	Balance           core.Money
	SourceUnavailable bool
	Window            core.Window
}

// Ingestor pulls raw transactions from the data source, normalizes and
// classifies them, and persists them idempotently. Runs for the same
// account are serialized; different accounts proceed in parallel.
type Ingestor struct {
	store       RecordStore
	source      banking.Source
	classifier  classify.Classifier
	concurrency int
	windowDays  int
	now         func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewIngestor(store RecordStore, source banking.Source, classifier classify.Classifier, classifyConcurrency int) *Ingestor {
	if classifyConcurrency <= 0 {
		classifyConcurrency = 1
	}
	return &Ingestor{
		store:       store,
		source:      source,
		classifier:  classifier,
		concurrency: classifyConcurrency,
		windowDays:  core.DefaultSyncDays,
		now:         time.Now,
		locks:       make(map[string]*sync.Mutex),
	}
}

// SetWindowDays overrides the trailing window length used by Sync.
func (i *Ingestor) SetWindowDays(days int) {
	if days > 0 {
		i.windowDays = days
	}
}

// Sync ingests the configured trailing window for the account.
func (i *Ingestor) Sync(ctx context.Context, account core.Account) (*SyncResult, error) {
	return i.SyncWindow(ctx, account, core.TrailingDays(i.now(), i.windowDays))
}

// SyncWindow ingests the given window. Re-running the same window is a
// no-op beyond the duplicate counters.
func (i *Ingestor) SyncWindow(ctx context.Context, account core.Account, w core.Window) (*SyncResult, error) {
	if account.ID == "" {
		return nil, core.ErrEmptyAccountID
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	lock := i.accountLock(account.ID)
	lock.Lock()
	defer lock.Unlock()

	// Balance starts at the prior value so a failed source call still
	// reports what the account last held.
	result := &SyncResult{
		RunID:     uuid.NewString(),
		AccountID: account.ID,
		Window:    w,
		Balance:   account.Balance,
	}

	raws, err := i.source.FetchTransactions(ctx, account.ID, w)
	if err != nil {
		slog.WarnContext(ctx, "Data source unavailable, keeping prior state",
			"account_id", account.ID,
			"sync_run_id", result.RunID,
			"error", err)
		result.SourceUnavailable = true
		return result, nil
	}

	balance, err := i.source.FetchBalance(ctx, account.ID)
	if err != nil {
		slog.WarnContext(ctx, "Balance fetch failed, keeping prior state",
			"account_id", account.ID,
			"sync_run_id", result.RunID,
			"error", err)
		result.SourceUnavailable = true
		return result, nil
	}

	fresh := i.normalize(ctx, account.ID, raws, result)

	fresh, err = i.dropKnown(ctx, account.ID, fresh, result)
	if err != nil {
		return nil, err
	}

	if err := i.classifyBatch(ctx, fresh, result); err != nil {
		return nil, err
	}

	for _, tx := range fresh {
		switch err := i.store.InsertTransaction(ctx, tx); {
		case err == nil:
			result.NewTransactions++
		case errors.Is(err, core.ErrDuplicateTransaction):
			result.DuplicatesSkipped++
		default:
			return nil, fmt.Errorf("insert transaction %s: %w", tx.ExternalID, err)
		}
	}

	if err := i.updateAccount(ctx, account, balance, result); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Sync completed",
		"account_id", account.ID,
		"sync_run_id", result.RunID,
		"new", result.NewTransactions,
		"duplicates", result.DuplicatesSkipped,
		"malformed", result.MalformedSkipped,
		"fallbacks", result.FallbacksApplied)

	return result, nil
}

// normalize converts raw source records to domain transactions. Records
// that cannot be normalized are counted and dropped, never fatal.
func (i *Ingestor) normalize(ctx context.Context, accountID string, raws []banking.RawTransaction, result *SyncResult) []core.Transaction {
	fresh := make([]core.Transaction, 0, len(raws))
	for _, raw := range raws {
		tx, err := normalizeRaw(accountID, raw)
		if err != nil {
			result.MalformedSkipped++
			slog.WarnContext(ctx, "Skipping malformed record",
				"account_id", accountID,
				"external_id", raw.ExternalID,
				"error", err)
			continue
		}
		fresh = append(fresh, tx)
	}
	return fresh
}

func normalizeRaw(accountID string, raw banking.RawTransaction) (core.Transaction, error) {
	cents, err := core.ParseSignedDecimalToCents(raw.AmountValue)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount %q: %w", raw.AmountValue, err)
	}

	direction, err := core.ParseDirection(raw.CreditDebit)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse direction %q: %w", raw.CreditDebit, err)
	}

	occurredAt, err := time.Parse(time.RFC3339, raw.Timestamp)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse timestamp %q: %w", raw.Timestamp, core.ErrInvalidTimestamp)
	}

	// The source reports magnitudes with a separate indicator; the stored
	// amount is signed, debits negative.
	amount := core.Money{Cents: cents}.Abs()
	if direction == core.Debit {
		amount.Cents = -amount.Cents
	}

	tx := core.Transaction{
		AccountID:   accountID,
		ExternalID:  raw.ExternalID,
		Amount:      amount,
		Currency:    raw.Currency,
		Direction:   direction,
		OccurredAt:  occurredAt.UTC(),
		Description: raw.Description,
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

// dropKnown filters out transactions already persisted so the classifier
// is only invoked for genuinely new records.
func (i *Ingestor) dropKnown(ctx context.Context, accountID string, txs []core.Transaction, result *SyncResult) ([]core.Transaction, error) {
	fresh := txs[:0]
	for _, tx := range txs {
		existing, err := i.store.FindByExternalID(ctx, accountID, tx.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("lookup transaction %s: %w", tx.ExternalID, err)
		}
		if existing != nil {
			result.DuplicatesSkipped++
			continue
		}
		fresh = append(fresh, tx)
	}
	return fresh, nil
}

// classifyBatch labels the batch concurrently. A classifier failure on one
// record applies the fallback to that record only.
func (i *Ingestor) classifyBatch(ctx context.Context, txs []core.Transaction, result *SyncResult) error {
	fallbacks := make([]bool, len(txs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)
	for idx := range txs {
		g.Go(func() error {
			tx := &txs[idx]
			cls, err := i.classifier.Classify(gctx, tx.Description, tx.Amount, tx.Currency)
			if err != nil {
				slog.WarnContext(gctx, "Classification failed, applying fallback",
					"account_id", tx.AccountID,
					"external_id", tx.ExternalID,
					"error", err)
				cls = core.FallbackClassification()
				fallbacks[idx] = true
			}
			cls.ClassifiedAt = i.now().UTC()
			tx.Classification = cls
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, fb := range fallbacks {
		if fb {
			result.FallbacksApplied++
		}
	}
	return nil
}

func (i *Ingestor) updateAccount(ctx context.Context, account core.Account, balance banking.Balance, result *SyncResult) error {
	balanceCents, err := core.ParseSignedDecimalToCents(balance.AmountValue)
	if err != nil {
		return fmt.Errorf("parse balance %q: %w", balance.AmountValue, err)
	}
	availableCents, err := core.ParseSignedDecimalToCents(balance.AvailableValue)
	if err != nil {
		availableCents = balanceCents
	}

	account.Balance = core.Money{Cents: balanceCents}
	account.AvailableBalance = core.Money{Cents: availableCents}
	if balance.Currency != "" {
		account.Currency = balance.Currency
	}
	account.LastSyncedAt = i.now().UTC()

	if err := i.store.UpsertAccount(ctx, account); err != nil {
		return fmt.Errorf("upsert account %s: %w", account.ID, err)
	}
	result.Balance = account.Balance
	return nil
}

// accountLock returns the mutex serializing syncs for one account. Locks
// live for the process lifetime, so the map grows with the number of
// distinct accounts synced; eviction would let a concurrent trigger grab a
// fresh mutex while a sync still holds the old one.
func (i *Ingestor) accountLock(accountID string) *sync.Mutex {
	i.mu.Lock()
	defer i.mu.Unlock()
	lock, ok := i.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		i.locks[accountID] = lock
	}
	return lock
}
