package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"masarif/internal/core"
	"masarif/internal/services"
	"masarif/internal/storage"
)

type fakeIngestor struct {
	result *services.SyncResult
	err    error
	synced []string
}

func (f *fakeIngestor) Sync(_ context.Context, account core.Account) (*services.SyncResult, error) {
	f.synced = append(f.synced, account.ID)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &services.SyncResult{RunID: "run-1", AccountID: account.ID, NewTransactions: 3}, nil
}

type fakePublisher struct {
	published []string
	err       error
}

func (f *fakePublisher) PublishAccountSync(_ context.Context, accountID, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, accountID)
	return nil
}

type testEnv struct {
	server   *Server
	store    *storage.MemoryStore
	ingestor *fakeIngestor
}

func newTestEnv(t *testing.T, publisher SyncPublisher) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	ingestor := &fakeIngestor{}
	server := NewServer(":0", store, ingestor, services.NewAggregator(store), publisher)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
	return &testEnv{server: server, store: store, ingestor: ingestor}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.server.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v\nbody: %s", err, rec.Body.String())
	}
	return out
}

func seedTx(t *testing.T, store *storage.MemoryStore, accountID, externalID string, cents int64, direction core.Direction, category string, occurredAt time.Time) {
	t.Helper()
	err := store.InsertTransaction(context.Background(), core.Transaction{
		AccountID:   accountID,
		ExternalID:  externalID,
		Amount:      core.Money{Cents: cents},
		Currency:    "SAR",
		Direction:   direction,
		OccurredAt:  occurredAt,
		Description: externalID,
		Classification: core.Classification{
			Category: category, Merchant: "M", TransactionType: "purchase", Confidence: 0.9, ClassifiedAt: occurredAt,
		},
	})
	if err != nil {
		t.Fatalf("seed transaction %s: %v", externalID, err)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSyncAccountInline(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/accounts/acc-1/sync", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	resp := decode[syncResponse](t, rec)
	if resp.AccountID != "acc-1" || resp.NewTransactions != 3 {
		t.Errorf("response = %+v", resp)
	}
	if len(env.ingestor.synced) != 1 {
		t.Errorf("ingestor synced %v, want one inline run", env.ingestor.synced)
	}
}

func TestSyncAccountQueued(t *testing.T) {
	pub := &fakePublisher{}
	env := newTestEnv(t, pub)

	rec := env.do(t, http.MethodPost, "/api/accounts/acc-1/sync", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	resp := decode[syncQueuedResponse](t, rec)
	if resp.Status != "queued" || resp.AccountID != "acc-1" {
		t.Errorf("response = %+v", resp)
	}
	if len(pub.published) != 1 {
		t.Errorf("published = %v, want one message", pub.published)
	}
	if len(env.ingestor.synced) != 0 {
		t.Errorf("ingestor ran inline despite publisher: %v", env.ingestor.synced)
	}
}

func TestSyncAccountBrokerDown(t *testing.T) {
	env := newTestEnv(t, &fakePublisher{err: errors.New("circuit breaker is open")})

	rec := env.do(t, http.MethodPost, "/api/accounts/acc-1/sync", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestListTransactions(t *testing.T) {
	env := newTestEnv(t, nil)
	at := time.Now().UTC().Add(-24 * time.Hour)
	seedTx(t, env.store, "acc-1", "tx-1", -9350, core.Debit, "Groceries & Supermarkets", at)
	seedTx(t, env.store, "acc-1", "tx-2", 800000, core.Credit, core.CategoryOther, at)
	seedTx(t, env.store, "acc-2", "tx-3", -100, core.Debit, core.CategoryOther, at)

	rec := env.do(t, http.MethodGet, "/api/accounts/acc-1/transactions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	resp := decode[transactionsResponse](t, rec)
	if resp.Count != 2 {
		t.Errorf("Count = %d, want 2 (other account excluded)", resp.Count)
	}

	rec = env.do(t, http.MethodGet, "/api/accounts/acc-1/transactions?category=groceries+%26+supermarkets", "")
	resp = decode[transactionsResponse](t, rec)
	if resp.Count != 1 || resp.Transactions[0].ExternalID != "tx-1" {
		t.Errorf("category filter: %+v", resp)
	}
}

func TestListTransactionsExplicitWindow(t *testing.T) {
	env := newTestEnv(t, nil)
	seedTx(t, env.store, "acc-1", "old", -100, core.Debit, core.CategoryOther,
		time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))

	rec := env.do(t, http.MethodGet,
		"/api/accounts/acc-1/transactions?from=2025-01-01T00:00:00Z&to=2025-02-01T00:00:00Z", "")
	resp := decode[transactionsResponse](t, rec)
	if resp.Count != 1 {
		t.Errorf("Count = %d, want 1 for explicit window", resp.Count)
	}

	rec = env.do(t, http.MethodGet, "/api/accounts/acc-1/transactions?from=not-a-time", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid from: status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet,
		"/api/accounts/acc-1/transactions?from=2025-02-01T00:00:00Z&to=2025-01-01T00:00:00Z", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("inverted window: status = %d, want 400", rec.Code)
	}
}

func TestCategorize(t *testing.T) {
	env := newTestEnv(t, nil)
	at := time.Now().UTC().Add(-time.Hour)
	seedTx(t, env.store, "acc-1", "tx-1", -9350, core.Debit, core.CategoryOther, at)

	rec := env.do(t, http.MethodPost, "/api/transactions/categorize",
		`{"account_id":"acc-1","external_id":"tx-1","category":"groceries & supermarkets"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}

	tx, err := env.store.FindByExternalID(context.Background(), "acc-1", "tx-1")
	if err != nil || tx == nil {
		t.Fatalf("lookup after override: tx=%v err=%v", tx, err)
	}
	if tx.Classification.Category != "Groceries & Supermarkets" {
		t.Errorf("Category = %q after override", tx.Classification.Category)
	}
}

func TestCategorizeValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing fields", `{"account_id":"acc-1"}`, http.StatusBadRequest},
		{"unknown category", `{"account_id":"acc-1","external_id":"tx-1","category":"Crypto"}`, http.StatusBadRequest},
		{"unknown transaction", `{"account_id":"acc-1","external_id":"nope","category":"Other"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/transactions/categorize", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d\nbody: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.store.UpsertAccount(context.Background(), core.Account{ID: "acc-1", UserID: "user-1"}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	at := time.Now().UTC().Add(-48 * time.Hour)
	seedTx(t, env.store, "acc-1", "salary", 800000, core.Credit, core.CategoryOther, at)
	seedTx(t, env.store, "acc-1", "groceries", -25000, core.Debit, "Groceries & Supermarkets", at)

	rec := env.do(t, http.MethodGet, "/api/insights/dashboard?user=user-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	resp := decode[dashboardResponse](t, rec)
	if resp.IncomeCents != 800000 || resp.SpendingCents != 25000 {
		t.Errorf("income/spending = %d/%d", resp.IncomeCents, resp.SpendingCents)
	}
	if resp.SavingsRate != 96.875 {
		t.Errorf("SavingsRate = %v, want 96.875", resp.SavingsRate)
	}
	if len(resp.Insights) != 1 || resp.Insights[0].Title != "Great Savings!" {
		t.Errorf("Insights = %+v", resp.Insights)
	}
	if len(resp.TopCategories) != 1 || resp.TopCategories[0].Category != "Groceries & Supermarkets" {
		t.Errorf("TopCategories = %+v", resp.TopCategories)
	}
}

func TestDashboardRequiresUser(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/insights/dashboard", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDashboardUnknownUserEmpty(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/insights/dashboard?user=nobody", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[dashboardResponse](t, rec)
	if resp.Accounts != 0 || len(resp.Insights) != 0 {
		t.Errorf("response = %+v, want empty dashboard", resp)
	}
}

func TestDashboardCacheInvalidatedByCategorize(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.store.UpsertAccount(context.Background(), core.Account{ID: "acc-1", UserID: "user-1"}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	at := time.Now().UTC().Add(-time.Hour)
	seedTx(t, env.store, "acc-1", "tx-1", -5000, core.Debit, core.CategoryOther, at)

	first := decode[dashboardResponse](t, env.do(t, http.MethodGet, "/api/insights/dashboard?user=user-1", ""))
	if len(first.TopCategories) != 1 || first.TopCategories[0].Category != core.CategoryOther {
		t.Fatalf("first dashboard = %+v", first.TopCategories)
	}

	rec := env.do(t, http.MethodPost, "/api/transactions/categorize",
		`{"account_id":"acc-1","external_id":"tx-1","category":"Transportation"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("categorize status = %d", rec.Code)
	}

	second := decode[dashboardResponse](t, env.do(t, http.MethodGet, "/api/insights/dashboard?user=user-1", ""))
	if len(second.TopCategories) != 1 || second.TopCategories[0].Category != "Transportation" {
		t.Errorf("dashboard after override = %+v, want Transportation (cache invalidated)", second.TopCategories)
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/insights/dashboard?user=u", "")
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestSuspiciousWriteRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/transactions/categorize?file=.env", `{}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}
