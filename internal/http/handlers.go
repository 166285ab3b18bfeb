package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"masarif/internal/core"
	"masarif/internal/middleware/trace"
	"masarif/internal/services"
)

type errorResponse struct {
	Error string `json:"error"`
}

type syncQueuedResponse struct {
	Status    string `json:"status"`
	AccountID string `json:"account_id"`
	RequestID string `json:"request_id"`
}

type syncResponse struct {
	RunID             string    `json:"run_id"`
	AccountID         string    `json:"account_id"`
	NewTransactions   int       `json:"new_transactions"`
	DuplicatesSkipped int       `json:"duplicates_skipped"`
	MalformedSkipped  int       `json:"malformed_skipped"`
	FallbacksApplied  int       `json:"fallbacks_applied"`
	BalanceCents      int64     `json:"balance_cents"`
	SourceUnavailable bool      `json:"source_unavailable"`
	WindowStart       time.Time `json:"window_start"`
	WindowEnd         time.Time `json:"window_end"`
}

type transactionView struct {
	ExternalID      string    `json:"external_id"`
	Description     string    `json:"description"`
	AmountCents     int64     `json:"amount_cents"`
	Currency        string    `json:"currency"`
	Direction       string    `json:"direction"`
	OccurredAt      time.Time `json:"occurred_at"`
	Category        string    `json:"category"`
	Merchant        string    `json:"merchant"`
	TransactionType string    `json:"transaction_type"`
	Confidence      float64   `json:"confidence"`
}

type transactionsResponse struct {
	AccountID    string            `json:"account_id"`
	Count        int               `json:"count"`
	WindowStart  time.Time         `json:"window_start"`
	WindowEnd    time.Time         `json:"window_end"`
	Transactions []transactionView `json:"transactions"`
}

type categoryView struct {
	Category   string `json:"category"`
	TotalCents int64  `json:"total_cents"`
	Count      int    `json:"count"`
}

type insightView struct {
	Kind        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Actionable  bool   `json:"actionable"`
}

type dashboardResponse struct {
	UserID           string         `json:"user_id"`
	Accounts         int            `json:"accounts"`
	WindowStart      time.Time      `json:"window_start"`
	WindowEnd        time.Time      `json:"window_end"`
	Currency         string         `json:"currency"`
	IncomeCents      int64          `json:"income_cents"`
	SpendingCents    int64          `json:"spending_cents"`
	SavingsRate      float64        `json:"savings_rate"`
	TransactionCount int            `json:"transaction_count"`
	TopCategories    []categoryView `json:"top_categories"`
	Insights         []insightView  `json:"insights"`
}

// handleSyncAccount queues a sync for the account, or runs it inline when
// no broker is configured.
func (s *Server) handleSyncAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := r.PathValue("id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}
	requestID := trace.GetRequestID(ctx)

	if s.publisher != nil {
		if err := s.publisher.PublishAccountSync(ctx, accountID, requestID); err != nil {
			slog.ErrorContext(ctx, "Failed to queue sync", "account_id", accountID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "failed to queue sync")
			return
		}
		writeJSON(w, http.StatusAccepted, syncQueuedResponse{
			Status:    "queued",
			AccountID: accountID,
			RequestID: requestID,
		})
		return
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load account", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	if account == nil {
		account = &core.Account{ID: accountID}
	}

	result, err := s.ingestor.Sync(ctx, *account)
	if err != nil {
		slog.ErrorContext(ctx, "Sync failed", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}

	if account.UserID != "" {
		s.dashboardCache.Delete(dashboardCacheKey(account.UserID))
	}

	writeJSON(w, http.StatusOK, syncResponse{
		RunID:             result.RunID,
		AccountID:         result.AccountID,
		NewTransactions:   result.NewTransactions,
		DuplicatesSkipped: result.DuplicatesSkipped,
		MalformedSkipped:  result.MalformedSkipped,
		FallbacksApplied:  result.FallbacksApplied,
		BalanceCents:      result.Balance.Cents,
		SourceUnavailable: result.SourceUnavailable,
		WindowStart:       result.Window.Start,
		WindowEnd:         result.Window.End,
	})
}

// handleListTransactions lists an account's transactions within a window,
// optionally filtered by category.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := r.PathValue("id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, "missing account id")
		return
	}

	window, err := parseWindow(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	txs, err := s.store.QueryByWindow(ctx, []string{accountID}, window)
	if err != nil {
		if errors.Is(err, core.ErrInvalidWindow) {
			writeError(w, http.StatusBadRequest, "window end before start")
			return
		}
		slog.ErrorContext(ctx, "Failed to query transactions", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query transactions")
		return
	}

	category := r.URL.Query().Get("category")
	views := make([]transactionView, 0, len(txs))
	for _, tx := range txs {
		if category != "" && !strings.EqualFold(tx.Classification.Category, category) {
			continue
		}
		views = append(views, transactionView{
			ExternalID:      tx.ExternalID,
			Description:     tx.Description,
			AmountCents:     tx.Amount.Cents,
			Currency:        tx.Currency,
			Direction:       string(tx.Direction),
			OccurredAt:      tx.OccurredAt,
			Category:        tx.Classification.Category,
			Merchant:        tx.Classification.Merchant,
			TransactionType: tx.Classification.TransactionType,
			Confidence:      tx.Classification.Confidence,
		})
	}

	writeJSON(w, http.StatusOK, transactionsResponse{
		AccountID:    accountID,
		Count:        len(views),
		WindowStart:  window.Start,
		WindowEnd:    window.End,
		Transactions: views,
	})
}

type categorizeRequest struct {
	AccountID  string `json:"account_id"`
	ExternalID string `json:"external_id"`
	Category   string `json:"category"`
}

// handleCategorize applies a manual category override to one transaction.
func (s *Server) handleCategorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req categorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AccountID == "" || req.ExternalID == "" || req.Category == "" {
		writeError(w, http.StatusBadRequest, "account_id, external_id and category are required")
		return
	}

	category := core.NormalizeCategory(req.Category)
	if category == core.CategoryOther && !strings.EqualFold(strings.TrimSpace(req.Category), core.CategoryOther) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", req.Category))
		return
	}

	if err := s.store.OverrideCategory(ctx, req.AccountID, req.ExternalID, category); err != nil {
		slog.WarnContext(ctx, "Category override failed",
			"account_id", req.AccountID,
			"external_id", req.ExternalID,
			"error", err)
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}

	if account, err := s.store.GetAccount(ctx, req.AccountID); err == nil && account != nil {
		s.dashboardCache.Delete(dashboardCacheKey(account.UserID))
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "updated",
		"account_id":  req.AccountID,
		"external_id": req.ExternalID,
		"category":    category,
	})
}

// handleDashboard aggregates the user's accounts over the trailing 30 days
// and derives insight signals.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user parameter")
		return
	}

	if cached, ok := s.dashboardCache.Get(dashboardCacheKey(userID)); ok {
		writeJSON(w, http.StatusOK, cached)
		return
	}

	accounts, err := s.store.ListAccountsByUser(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list accounts", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list accounts")
		return
	}

	window := core.TrailingDays(time.Now().UTC(), DashboardWindowDays)
	resp := dashboardResponse{
		UserID:        userID,
		Accounts:      len(accounts),
		WindowStart:   window.Start,
		WindowEnd:     window.End,
		Currency:      "SAR",
		TopCategories: []categoryView{},
		Insights:      []insightView{},
	}

	if len(accounts) > 0 {
		ids := make([]string, len(accounts))
		for i, a := range accounts {
			ids[i] = a.ID
		}

		agg, err := s.aggregator.Aggregate(ctx, ids, window)
		if err != nil {
			slog.ErrorContext(ctx, "Aggregation failed", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "aggregation failed")
			return
		}

		resp.Currency = agg.Currency
		resp.IncomeCents = agg.Income.Cents
		resp.SpendingCents = agg.Spending.Cents
		resp.SavingsRate = agg.SavingsRate
		resp.TransactionCount = agg.TransactionCount
		for _, ct := range agg.TopCategories {
			resp.TopCategories = append(resp.TopCategories, categoryView{
				Category:   ct.Category,
				TotalCents: ct.Total.Cents,
				Count:      ct.Count,
			})
		}
		for _, in := range services.DeriveInsights(agg) {
			resp.Insights = append(resp.Insights, insightView{
				Kind:        string(in.Kind),
				Title:       in.Title,
				Description: in.Description,
				Actionable:  in.Actionable,
			})
		}
	}

	s.dashboardCache.Set(dashboardCacheKey(userID), resp)
	writeJSON(w, http.StatusOK, resp)
}

func dashboardCacheKey(userID string) string {
	return "dashboard:" + userID
}

// parseWindow builds the query window from optional RFC3339 bounds,
// defaulting to the trailing 90 days.
func parseWindow(from, to string) (core.Window, error) {
	now := time.Now().UTC()
	window := core.DefaultWindow(now)

	if from != "" {
		start, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return core.Window{}, fmt.Errorf("invalid from timestamp %q", from)
		}
		window.Start = start
	}
	if to != "" {
		end, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return core.Window{}, fmt.Errorf("invalid to timestamp %q", to)
		}
		window.End = end
	}
	if err := window.Validate(); err != nil {
		return core.Window{}, errors.New("window end before start")
	}
	return window, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
