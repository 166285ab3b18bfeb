package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"masarif/internal/banking"
	"masarif/internal/core"
	"masarif/internal/storage"
)

// fakeSource serves canned batches and balances.
type fakeSource struct {
	transactions []banking.RawTransaction
	balance      banking.Balance
	fetchErr     error
	balanceErr   error
	calls        int
}

func (f *fakeSource) FetchTransactions(_ context.Context, _ string, _ core.Window) ([]banking.RawTransaction, error) {
	f.calls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.transactions, nil
}

func (f *fakeSource) FetchBalance(_ context.Context, _ string) (banking.Balance, error) {
	if f.balanceErr != nil {
		return banking.Balance{}, f.balanceErr
	}
	return f.balance, nil
}

// fakeClassifier labels by description keyword and can fail on demand.
type fakeClassifier struct {
	err     error
	failFor map[string]bool
}

func (f *fakeClassifier) Classify(_ context.Context, description string, _ core.Money, _ string) (core.Classification, error) {
	if f.err != nil {
		return core.Classification{}, f.err
	}
	if f.failFor[description] {
		return core.Classification{}, errors.New("model unavailable")
	}
	category := core.CategoryOther
	if strings.Contains(strings.ToLower(description), "carrefour") {
		category = "Groceries & Supermarkets"
	}
	return core.Classification{
		Category:        category,
		Merchant:        "TestMerchant",
		TransactionType: "purchase",
		Confidence:      0.9,
	}, nil
}

func testWindow() core.Window {
	return core.Window{
		Start: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testAccount() core.Account {
	return core.Account{ID: "acc-1", UserID: "user-1", Name: "Current", Bank: "Alinma", Currency: "SAR"}
}

func rawBatch() []banking.RawTransaction {
	return []banking.RawTransaction{
		{ExternalID: "tx-1", Description: "CARREFOUR RIYADH", AmountValue: "93.50", Currency: "SAR", CreditDebit: "Debit", Timestamp: "2026-08-01T10:00:00Z"},
		{ExternalID: "tx-2", Description: "SALARY AUGUST", AmountValue: "8000.00", Currency: "SAR", CreditDebit: "Credit", Timestamp: "2026-08-25T09:00:00Z"},
	}
}

func TestSyncWindowIngestsNewTransactions(t *testing.T) {
	store := storage.NewMemoryStore()
	source := &fakeSource{
		transactions: rawBatch(),
		balance:      banking.Balance{AmountValue: "7906.50", AvailableValue: "7900.00", Currency: "SAR"},
	}
	ing := NewIngestor(store, source, &fakeClassifier{}, 2)

	result, err := ing.SyncWindow(context.Background(), testAccount(), testWindow())
	if err != nil {
		t.Fatalf("SyncWindow() error = %v", err)
	}
	if result.RunID == "" {
		t.Error("RunID is empty")
	}
	if result.NewTransactions != 2 {
		t.Errorf("NewTransactions = %d, want 2", result.NewTransactions)
	}
	if result.DuplicatesSkipped != 0 || result.MalformedSkipped != 0 || result.FallbacksApplied != 0 {
		t.Errorf("unexpected counters: %+v", result)
	}
	if result.Balance.Cents != 790650 {
		t.Errorf("Balance = %d cents, want 790650", result.Balance.Cents)
	}

	tx, err := store.FindByExternalID(context.Background(), "acc-1", "tx-1")
	if err != nil {
		t.Fatalf("FindByExternalID() error = %v", err)
	}
	if tx == nil {
		t.Fatal("tx-1 not persisted")
	}
	if tx.Amount.Cents != -9350 {
		t.Errorf("debit stored as %d cents, want -9350", tx.Amount.Cents)
	}
	if tx.Classification.Category != "Groceries & Supermarkets" {
		t.Errorf("Category = %q, want Groceries & Supermarkets", tx.Classification.Category)
	}

	acc, err := store.GetAccount(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if acc == nil || acc.LastSyncedAt.IsZero() {
		t.Error("account not upserted with LastSyncedAt")
	}
}

func TestSyncWindowIsIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	source := &fakeSource{
		transactions: rawBatch(),
		balance:      banking.Balance{AmountValue: "7906.50", AvailableValue: "7900.00", Currency: "SAR"},
	}
	ing := NewIngestor(store, source, &fakeClassifier{}, 2)

	if _, err := ing.SyncWindow(context.Background(), testAccount(), testWindow()); err != nil {
		t.Fatalf("first SyncWindow() error = %v", err)
	}
	result, err := ing.SyncWindow(context.Background(), testAccount(), testWindow())
	if err != nil {
		t.Fatalf("second SyncWindow() error = %v", err)
	}
	if result.NewTransactions != 0 {
		t.Errorf("NewTransactions = %d, want 0 on re-run", result.NewTransactions)
	}
	if result.DuplicatesSkipped != 2 {
		t.Errorf("DuplicatesSkipped = %d, want 2", result.DuplicatesSkipped)
	}

	txs, err := store.QueryByWindow(context.Background(), []string{"acc-1"}, testWindow())
	if err != nil {
		t.Fatalf("QueryByWindow() error = %v", err)
	}
	if len(txs) != 2 {
		t.Errorf("stored %d transactions after re-run, want 2", len(txs))
	}
}

func TestSyncWindowSourceUnavailable(t *testing.T) {
	store := storage.NewMemoryStore()
	source := &fakeSource{fetchErr: errors.New("gateway returned 503")}
	ing := NewIngestor(store, source, &fakeClassifier{}, 2)

	account := testAccount()
	account.Balance = core.Money{Cents: 12345}

	result, err := ing.SyncWindow(context.Background(), account, testWindow())
	if err != nil {
		t.Fatalf("SyncWindow() error = %v", err)
	}
	if !result.SourceUnavailable {
		t.Error("SourceUnavailable = false, want true")
	}
	if result.NewTransactions != 0 {
		t.Errorf("NewTransactions = %d, want 0", result.NewTransactions)
	}
	if result.Balance.Cents != 12345 {
		t.Errorf("Balance = %d cents, want prior balance 12345", result.Balance.Cents)
	}

	acc, err := store.GetAccount(context.Background(), "acc-1")
	if err != nil {
		t.Fatalf("GetAccount() error = %v", err)
	}
	if acc != nil {
		t.Error("account was written despite source failure")
	}
}

func TestSyncWindowBalanceFailureKeepsPriorState(t *testing.T) {
	store := storage.NewMemoryStore()
	source := &fakeSource{
		transactions: rawBatch(),
		balanceErr:   errors.New("gateway returned 502"),
	}
	ing := NewIngestor(store, source, &fakeClassifier{}, 2)

	account := testAccount()
	account.Balance = core.Money{Cents: 50000}

	result, err := ing.SyncWindow(context.Background(), account, testWindow())
	if err != nil {
		t.Fatalf("SyncWindow() error = %v", err)
	}
	if !result.SourceUnavailable {
		t.Error("SourceUnavailable = false, want true")
	}
	if result.Balance.Cents != 50000 {
		t.Errorf("Balance = %d cents, want prior balance 50000", result.Balance.Cents)
	}
	txs, _ := store.QueryByWindow(context.Background(), []string{"acc-1"}, testWindow())
	if len(txs) != 0 {
		t.Errorf("stored %d transactions despite balance failure, want 0", len(txs))
	}
}

func TestSyncWindowSkipsMalformedRecords(t *testing.T) {
	batch := rawBatch()
	batch = append(batch,
		banking.RawTransaction{ExternalID: "tx-3", Description: "BAD AMOUNT", AmountValue: "abc", CreditDebit: "Debit", Timestamp: "2026-08-02T10:00:00Z"},
		banking.RawTransaction{ExternalID: "tx-4", Description: "BAD DIRECTION", AmountValue: "10.00", CreditDebit: "Sideways", Timestamp: "2026-08-02T10:00:00Z"},
		banking.RawTransaction{ExternalID: "tx-5", Description: "BAD TIMESTAMP", AmountValue: "10.00", CreditDebit: "Debit", Timestamp: "yesterday"},
		banking.RawTransaction{ExternalID: "", Description: "NO ID", AmountValue: "10.00", CreditDebit: "Debit", Timestamp: "2026-08-02T10:00:00Z"},
	)
	store := storage.NewMemoryStore()
	source := &fakeSource{
		transactions: batch,
		balance:      banking.Balance{AmountValue: "100.00", AvailableValue: "100.00", Currency: "SAR"},
	}
	ing := NewIngestor(store, source, &fakeClassifier{}, 2)

	result, err := ing.SyncWindow(context.Background(), testAccount(), testWindow())
	if err != nil {
		t.Fatalf("SyncWindow() error = %v", err)
	}
	if result.MalformedSkipped != 4 {
		t.Errorf("MalformedSkipped = %d, want 4", result.MalformedSkipped)
	}
	if result.NewTransactions != 2 {
		t.Errorf("NewTransactions = %d, want 2", result.NewTransactions)
	}
}

func TestSyncWindowClassifierFailureAppliesFallback(t *testing.T) {
	store := storage.NewMemoryStore()
	source := &fakeSource{
		transactions: rawBatch(),
		balance:      banking.Balance{AmountValue: "100.00", AvailableValue: "100.00", Currency: "SAR"},
	}
	ing := NewIngestor(store, source, &fakeClassifier{err: errors.New("model down")}, 2)

	result, err := ing.SyncWindow(context.Background(), testAccount(), testWindow())
	if err != nil {
		t.Fatalf("SyncWindow() error = %v", err)
	}
	if result.NewTransactions != 2 {
		t.Errorf("NewTransactions = %d, want 2: classification must never block ingestion", result.NewTransactions)
	}
	if result.FallbacksApplied != 2 {
		t.Errorf("FallbacksApplied = %d, want 2", result.FallbacksApplied)
	}

	tx, _ := store.FindByExternalID(context.Background(), "acc-1", "tx-1")
	if tx == nil {
		t.Fatal("tx-1 not persisted")
	}
	want := core.FallbackClassification()
	if tx.Classification.Category != want.Category ||
		tx.Classification.Merchant != want.Merchant ||
		tx.Classification.TransactionType != want.TransactionType ||
		tx.Classification.Confidence != want.Confidence {
		t.Errorf("Classification = %+v, want fallback %+v", tx.Classification, want)
	}
	if tx.Classification.ClassifiedAt.IsZero() {
		t.Error("ClassifiedAt not set on fallback")
	}
}

func TestSyncWindowPartialClassifierFailure(t *testing.T) {
	store := storage.NewMemoryStore()
	source := &fakeSource{
		transactions: rawBatch(),
		balance:      banking.Balance{AmountValue: "100.00", AvailableValue: "100.00", Currency: "SAR"},
	}
	classifier := &fakeClassifier{failFor: map[string]bool{"SALARY AUGUST": true}}
	ing := NewIngestor(store, source, classifier, 2)

	result, err := ing.SyncWindow(context.Background(), testAccount(), testWindow())
	if err != nil {
		t.Fatalf("SyncWindow() error = %v", err)
	}
	if result.FallbacksApplied != 1 {
		t.Errorf("FallbacksApplied = %d, want 1", result.FallbacksApplied)
	}

	tx, _ := store.FindByExternalID(context.Background(), "acc-1", "tx-1")
	if tx.Classification.Category != "Groceries & Supermarkets" {
		t.Errorf("healthy record got category %q", tx.Classification.Category)
	}
}

func TestSyncWindowRejectsBadInput(t *testing.T) {
	ing := NewIngestor(storage.NewMemoryStore(), &fakeSource{}, &fakeClassifier{}, 2)

	if _, err := ing.SyncWindow(context.Background(), core.Account{}, testWindow()); !errors.Is(err, core.ErrEmptyAccountID) {
		t.Errorf("empty account id: error = %v, want ErrEmptyAccountID", err)
	}

	w := testWindow()
	w.Start, w.End = w.End, w.Start
	if _, err := ing.SyncWindow(context.Background(), testAccount(), w); !errors.Is(err, core.ErrInvalidWindow) {
		t.Errorf("inverted window: error = %v, want ErrInvalidWindow", err)
	}
}
