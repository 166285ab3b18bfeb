package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"masarif/internal/core"
)

// MemoryStore is an in-memory record store with the same behavior as the
// SQLite repository. It backs the memory data backend and the package tests.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]core.Account
	txs      []core.Transaction
	byKey    map[string]int // "accountID\x00externalID" -> index into txs
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]core.Account),
		byKey:    make(map[string]int),
	}
}

func txKey(accountID, externalID string) string {
	return accountID + "\x00" + externalID
}

func (s *MemoryStore) UpsertAccount(_ context.Context, a core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *MemoryStore) ListAccountsByUser(_ context.Context, userID string) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListAccountsSyncedBefore(_ context.Context, cutoff time.Time) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Account
	for _, a := range s.accounts {
		if a.LastSyncedAt.IsZero() || a.LastSyncedAt.Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) FindByExternalID(_ context.Context, accountID, externalID string) (*core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.byKey[txKey(accountID, externalID)]; ok {
		tx := s.txs[i]
		return &tx, nil
	}
	return nil, nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := txKey(tx.AccountID, tx.ExternalID)
	if _, ok := s.byKey[key]; ok {
		return core.ErrDuplicateTransaction
	}
	s.byKey[key] = len(s.txs)
	s.txs = append(s.txs, tx)
	return nil
}

func (s *MemoryStore) QueryByWindow(_ context.Context, accountIDs []string, w core.Window) ([]core.Transaction, error) {
	if len(accountIDs) == 0 {
		return nil, core.ErrNoAccounts
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		wanted[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if wanted[tx.AccountID] && w.Contains(tx.OccurredAt) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}

func (s *MemoryStore) OverrideCategory(_ context.Context, accountID, externalID, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byKey[txKey(accountID, externalID)]
	if !ok {
		return fmt.Errorf("override category: transaction %s/%s not found", accountID, externalID)
	}
	s.txs[i].Classification.Category = category
	return nil
}
