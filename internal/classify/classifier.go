// Package classify assigns a category, merchant and transaction type to a
// transaction description, backed by a language model with a deterministic
// fallback when the model is unavailable or returns garbage.
package classify

import (
	"context"

	"masarif/internal/core"
)

// Classifier labels a single transaction. Implementations must not mutate
// their inputs and must be safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, description string, amount core.Money, currency string) (core.Classification, error)
}
