package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"masarif/internal/core"

	_ "modernc.org/sqlite"
)

// Timestamps are stored as RFC3339 UTC strings so window comparisons work
// lexicographically.
const timeLayout = time.RFC3339

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// UpsertAccount inserts the account on first sight and updates balances and
// the last-synced timestamp on every subsequent sync. Accounts are never
// deleted here.
func (r *SQLiteRepository) UpsertAccount(ctx context.Context, a core.Account) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, name, bank, currency, balance_cents, available_balance_cents, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			bank = excluded.bank,
			currency = excluded.currency,
			balance_cents = excluded.balance_cents,
			available_balance_cents = excluded.available_balance_cents,
			last_synced_at = excluded.last_synced_at,
			updated_at = excluded.updated_at`,
		a.ID, a.UserID, a.Name, a.Bank, a.Currency,
		a.Balance.Cents, a.AvailableBalance.Cents,
		nullableTime(a.LastSyncedAt), now, now)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}

	slog.InfoContext(ctx, "Account upserted",
		"account_id", a.ID,
		"balance_cents", a.Balance.Cents,
		"currency", a.Currency)

	return nil
}

// GetAccount returns the account or (nil, nil) when absent.
func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (*core.Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, bank, currency, balance_cents, available_balance_cents, last_synced_at
		FROM accounts WHERE id = ?`, id)

	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

// ListAccountsByUser returns all accounts owned by the user.
func (r *SQLiteRepository) ListAccountsByUser(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, bank, currency, balance_cents, available_balance_cents, last_synced_at
		FROM accounts WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts for user %s: %w", userID, err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// ListAccountsSyncedBefore returns accounts whose last sync is older than
// cutoff (or that have never been synced). The worker uses this as a
// backstop for missed sync messages.
func (r *SQLiteRepository) ListAccountsSyncedBefore(ctx context.Context, cutoff time.Time) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, bank, currency, balance_cents, available_balance_cents, last_synced_at
		FROM accounts
		WHERE last_synced_at IS NULL OR last_synced_at < ?
		ORDER BY id`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("list stale accounts: %w", err)
	}
	defer rows.Close()

	return collectAccounts(rows)
}

// FindByExternalID looks a transaction up by its dedup key. Absence is not
// an error: it returns (nil, nil).
func (r *SQLiteRepository) FindByExternalID(ctx context.Context, accountID, externalID string) (*core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT account_id, external_id, amount_cents, currency, direction, occurred_at,
		       description, category, merchant, transaction_type, confidence, classified_at
		FROM transactions WHERE account_id = ? AND external_id = ?`, accountID, externalID)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find transaction %s/%s: %w", accountID, externalID, err)
	}
	return tx, nil
}

// InsertTransaction persists a transaction. Inserts are insert-only and
// atomic; a conflict on (account_id, external_id) yields
// core.ErrDuplicateTransaction and leaves the existing row untouched.
func (r *SQLiteRepository) InsertTransaction(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC().Format(timeLayout)
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (account_id, external_id, amount_cents, currency, direction, occurred_at,
			description, category, merchant, transaction_type, confidence, classified_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id, external_id) DO NOTHING`,
		tx.AccountID, tx.ExternalID, tx.Amount.Cents, tx.Currency, string(tx.Direction),
		tx.OccurredAt.UTC().Format(timeLayout), tx.Description,
		tx.Classification.Category, tx.Classification.Merchant, tx.Classification.TransactionType,
		tx.Classification.Confidence, nullableTime(tx.Classification.ClassifiedAt), now, now)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert transaction rows affected: %w", err)
	}
	if affected == 0 {
		return core.ErrDuplicateTransaction
	}

	return nil
}

// QueryByWindow returns all transactions for the given accounts whose
// occurrence timestamp falls inside the half-open window [start, end).
// Each call re-queries; results are ordered newest first.
func (r *SQLiteRepository) QueryByWindow(ctx context.Context, accountIDs []string, w core.Window) ([]core.Transaction, error) {
	if len(accountIDs) == 0 {
		return nil, core.ErrNoAccounts
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	placeholders := strings.Repeat("?,", len(accountIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(accountIDs)+2)
	for _, id := range accountIDs {
		args = append(args, id)
	}
	args = append(args, w.Start.UTC().Format(timeLayout), w.End.UTC().Format(timeLayout))

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT account_id, external_id, amount_cents, currency, direction, occurred_at,
		       description, category, merchant, transaction_type, confidence, classified_at
		FROM transactions
		WHERE account_id IN (%s) AND occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at DESC, id DESC`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions by window: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return txs, nil
}

// OverrideCategory applies a manual category override to a classified
// transaction. This is the only mutation allowed after classification; it
// bumps updated_at so the change is auditable.
func (r *SQLiteRepository) OverrideCategory(ctx context.Context, accountID, externalID, category string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET category = ?, updated_at = ?
		WHERE account_id = ? AND external_id = ?`,
		category, time.Now().UTC().Format(timeLayout), accountID, externalID)
	if err != nil {
		return fmt.Errorf("override category: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("override category rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("override category: transaction %s/%s not found", accountID, externalID)
	}

	slog.InfoContext(ctx, "Category manually overridden",
		"account_id", accountID,
		"external_id", externalID,
		"category", category)

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*core.Account, error) {
	var (
		a          core.Account
		lastSynced sql.NullString
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Bank, &a.Currency,
		&a.Balance.Cents, &a.AvailableBalance.Cents, &lastSynced)
	if err != nil {
		return nil, err
	}
	if lastSynced.Valid {
		ts, err := time.Parse(timeLayout, lastSynced.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_synced_at: %w", err)
		}
		a.LastSyncedAt = ts
	}
	return &a, nil
}

func collectAccounts(rows *sql.Rows) ([]core.Account, error) {
	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

func scanTransaction(row rowScanner) (*core.Transaction, error) {
	var (
		tx           core.Transaction
		direction    string
		occurredAt   string
		classifiedAt sql.NullString
	)
	err := row.Scan(&tx.AccountID, &tx.ExternalID, &tx.Amount.Cents, &tx.Currency, &direction,
		&occurredAt, &tx.Description, &tx.Classification.Category, &tx.Classification.Merchant,
		&tx.Classification.TransactionType, &tx.Classification.Confidence, &classifiedAt)
	if err != nil {
		return nil, err
	}

	tx.Direction = core.Direction(direction)
	if tx.OccurredAt, err = time.Parse(timeLayout, occurredAt); err != nil {
		return nil, fmt.Errorf("parse occurred_at: %w", err)
	}
	if classifiedAt.Valid {
		ts, err := time.Parse(timeLayout, classifiedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse classified_at: %w", err)
		}
		tx.Classification.ClassifiedAt = ts
	}
	return &tx, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}
