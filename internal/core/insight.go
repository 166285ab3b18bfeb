package core

const (
	InsightAlert   InsightKind = "alert"
	InsightWarning InsightKind = "warning"
	InsightSuccess InsightKind = "success"
)

type (
	InsightKind string

	// InsightSignal is an ephemeral, actionable signal derived from the
	// aggregates. It is computed fresh per call and never persisted.
	InsightSignal struct {
		Kind        InsightKind
		Title       string
		Description string
		Actionable  bool
	}
)
