package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"currency-ledger/internal/domain"
)

// MemoryStore keeps accounts in a map. Callers only ever see copies.
type MemoryStore struct {
	mu    sync.Mutex
	accts map[string]domain.Account
	now   func() time.Time
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		accts: make(map[string]domain.Account),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Save(_ context.Context, acc *domain.Account) error {
	if acc == nil || strings.TrimSpace(acc.ID) == "" {
		return domain.ErrValidation
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, exists := m.accts[acc.ID]
	switch {
	case acc.Version == 0 && exists:
		return fmt.Errorf("%w: account %s already exists", domain.ErrValidation, acc.ID)
	case acc.Version != 0 && !exists:
		return domain.ErrAccountNotFound
	case exists && cur.Version != acc.Version:
		return domain.ErrConcurrentUpdate
	}

	now := m.now()
	if acc.Version == 0 {
		acc.CreatedAt = now
	}
	acc.Version++
	acc.UpdatedAt = now
	m.accts[acc.ID] = *acc
	return nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &a, nil
}

// Len reports how many accounts are stored.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accts)
}
