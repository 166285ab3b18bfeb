package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Credit Direction = "Credit"
	Debit  Direction = "Debit"
)

type (
	// Direction is the credit/debit indicator of a transaction.
	Direction string

	Money struct {
		Cents int64
	}

	// Account is a bank account known to the pipeline. It is created on the
	// first successful fetch from the data source and updated on every sync;
	// the pipeline never deletes accounts.
	Account struct {
		ID               string // external stable id from the data source
		UserID           string
		Name             string
		Bank             string
		Currency         string
		Balance          Money
		AvailableBalance Money
		LastSyncedAt     time.Time
	}

	// Classification is the category/merchant/confidence triple attached to a
	// transaction, either by the classifier or by the deterministic fallback.
	Classification struct {
		Category        string
		Merchant        string
		TransactionType string
		Confidence      float64
		ClassifiedAt    time.Time
	}

	// Transaction is a normalized, classified bank transaction.
	// (AccountID, ExternalID) is unique: re-ingesting the same external
	// transaction must not create a duplicate row.
	Transaction struct {
		AccountID      string
		ExternalID     string
		Amount         Money // signed cents as reported by the source
		Currency       string
		Direction      Direction
		OccurredAt     time.Time
		Description    string
		Classification Classification
	}
)

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidDirection     = errors.New("invalid direction")
	ErrInvalidTimestamp     = errors.New("invalid timestamp")
	ErrEmptyExternalID      = errors.New("empty external transaction id")
	ErrEmptyAccountID       = errors.New("empty account id")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrInvalidWindow        = errors.New("window end before start")
	ErrNoAccounts           = errors.New("empty account set")
)

// ParseDirection maps a source credit/debit indicator to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "credit":
		return Credit, nil
	case "debit":
		return Debit, nil
	}
	return "", ErrInvalidDirection
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccountID
	}
	if strings.TrimSpace(t.ExternalID) == "" {
		return ErrEmptyExternalID
	}
	if t.Direction != Credit && t.Direction != Debit {
		return ErrInvalidDirection
	}
	if t.OccurredAt.IsZero() {
		return ErrInvalidTimestamp
	}
	return nil
}

// Abs returns the magnitude of the amount. Debit sums are computed over
// magnitudes regardless of the sign convention the source uses.
func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

// Units returns the major-unit value as a float64 for display purposes.
// Use cents for calculations to avoid floating-point precision issues.
func (m Money) Units() float64 {
	return float64(m.Cents) / 100.0
}
