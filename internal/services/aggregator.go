package services

import (
	"context"
	"fmt"
	"sort"

	"masarif/internal/core"
)

// DefaultTopCategories is how many categories the top list holds.
const DefaultTopCategories = 5

// CategoryTotal is the debit sum and count for one category.
type CategoryTotal struct {
	Category string
	Total    core.Money
	Count    int
}

// AggregateResult is a snapshot of windowed aggregates over one or more
// accounts. Sums are exact integer cents.
type AggregateResult struct {
	Window           core.Window
	Currency         string
	TransactionCount int

	Income   core.Money // credit magnitudes
	Spending core.Money // debit magnitudes

	// SavingsRate is clamped at zero for reporting. RawSavingsRate keeps
	// the signed value for the insight rules.
	SavingsRate    float64
	RawSavingsRate float64

	CategoryTotals []CategoryTotal
	TopCategories  []CategoryTotal
}

// Aggregator computes read-only windowed aggregates. It never writes.
type Aggregator struct {
	store RecordStore
	topN  int
}

func NewAggregator(store RecordStore) *Aggregator {
	return &Aggregator{store: store, topN: DefaultTopCategories}
}

// SetTopN overrides how many categories TopCategories reports.
func (a *Aggregator) SetTopN(n int) {
	if n > 0 {
		a.topN = n
	}
}

// Aggregate computes category totals, income, spending and savings rate for
// the accounts over the window.
func (a *Aggregator) Aggregate(ctx context.Context, accountIDs []string, w core.Window) (*AggregateResult, error) {
	if len(accountIDs) == 0 {
		return nil, core.ErrNoAccounts
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	txs, err := a.store.QueryByWindow(ctx, accountIDs, w)
	if err != nil {
		return nil, fmt.Errorf("query window: %w", err)
	}

	result := &AggregateResult{
		Window:           w,
		Currency:         "SAR",
		TransactionCount: len(txs),
	}

	byCategory := make(map[string]*CategoryTotal)
	for _, tx := range txs {
		if result.Currency == "SAR" && tx.Currency != "" {
			result.Currency = tx.Currency
		}
		magnitude := tx.Amount.Abs()
		switch tx.Direction {
		case core.Credit:
			result.Income.Cents += magnitude.Cents
		case core.Debit:
			result.Spending.Cents += magnitude.Cents
			ct, ok := byCategory[tx.Classification.Category]
			if !ok {
				ct = &CategoryTotal{Category: tx.Classification.Category}
				byCategory[tx.Classification.Category] = ct
			}
			ct.Total.Cents += magnitude.Cents
			ct.Count++
		}
	}

	result.CategoryTotals = make([]CategoryTotal, 0, len(byCategory))
	for _, ct := range byCategory {
		result.CategoryTotals = append(result.CategoryTotals, *ct)
	}
	sort.Slice(result.CategoryTotals, func(i, j int) bool {
		a, b := result.CategoryTotals[i], result.CategoryTotals[j]
		if a.Total.Cents != b.Total.Cents {
			return a.Total.Cents > b.Total.Cents
		}
		return a.Category < b.Category
	})

	top := a.topN
	if top > len(result.CategoryTotals) {
		top = len(result.CategoryTotals)
	}
	result.TopCategories = result.CategoryTotals[:top]

	if result.Income.Cents > 0 {
		result.RawSavingsRate = float64(result.Income.Cents-result.Spending.Cents) / float64(result.Income.Cents) * 100
	}
	result.SavingsRate = result.RawSavingsRate
	if result.SavingsRate < 0 {
		result.SavingsRate = 0
	}

	return result, nil
}
