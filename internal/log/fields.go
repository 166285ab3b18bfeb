package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldError       = "error"
	FieldAccountID   = "account_id"
	FieldExternalID  = "external_id"
	FieldUserID      = "user_id"
	FieldSyncRunID   = "sync_run_id"
	FieldCategory    = "category"
	FieldMerchant    = "merchant"
	FieldConfidence  = "confidence"
	FieldAmountCents = "amount_cents"
	FieldCurrency    = "currency"
	FieldWindowStart = "window_start"
	FieldWindowEnd   = "window_end"
	FieldCount       = "count"
	FieldDuration    = "duration_ms"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentIngest     = "ingest"
	ComponentAggregate  = "aggregate"
	ComponentInsights   = "insights"
	ComponentStorage    = "storage"
	ComponentBanking    = "banking"
	ComponentClassifier = "classifier"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
)
