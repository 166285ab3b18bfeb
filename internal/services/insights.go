package services

import (
	"fmt"

	"masarif/internal/core"
)

const (
	lowSavingsThreshold  = 10.0
	goodSavingsThreshold = 20.0
)

// DeriveInsights evaluates the insight rules over an aggregate snapshot.
// Rules run in a fixed order; the savings rules are mutually exclusive and
// both are suppressed when there is no income in the window.
func DeriveInsights(agg *AggregateResult) []core.InsightSignal {
	var insights []core.InsightSignal

	if agg.Income.Cents > 0 && len(agg.TopCategories) > 0 {
		top := agg.TopCategories[0]
		// Integer comparison keeps the 30% boundary exact.
		if top.Total.Cents*10 > agg.Income.Cents*3 {
			share := top.Total.Units() / agg.Income.Units() * 100
			insights = append(insights, core.InsightSignal{
				Kind:  core.InsightWarning,
				Title: fmt.Sprintf("High %s Spending", top.Category),
				Description: fmt.Sprintf("You're spending %.0f %s on %s this period, which is %.1f%% of your income.",
					top.Total.Units(), agg.Currency, top.Category, share),
				Actionable: true,
			})
		}
	}

	if agg.Income.Cents > 0 {
		switch {
		case agg.RawSavingsRate < lowSavingsThreshold:
			insights = append(insights, core.InsightSignal{
				Kind:  core.InsightAlert,
				Title: "Low Savings Rate",
				Description: fmt.Sprintf("Your current savings rate is %.1f%%. Consider aiming for at least 20%% of your income.",
					agg.RawSavingsRate),
				Actionable: true,
			})
		case agg.RawSavingsRate > goodSavingsThreshold:
			insights = append(insights, core.InsightSignal{
				Kind:  core.InsightSuccess,
				Title: "Great Savings!",
				Description: fmt.Sprintf("Excellent! You're saving %.1f%% of your income. Consider investing your surplus.",
					agg.SavingsRate),
				Actionable: true,
			})
		}
	}

	return insights
}
