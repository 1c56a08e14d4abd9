package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finguard/internal/core"
)

// MemoryStore is the in-memory reference implementation of Store. It
// backs tests and the default dev backend. All access is serialized by
// one mutex; the optimistic-concurrency contract is what callers rely
// on, not the lock.
type MemoryStore struct {
	mu       sync.Mutex
	entities map[Kind]map[string]Entity
	log      []core.Transaction
	byID     map[string]int
	byKey    map[string]int
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: map[Kind]map[string]Entity{
			KindWallet:   {},
			KindBudget:   {},
			KindDebt:     {},
			KindPosition: {},
		},
		byID:  make(map[string]int),
		byKey: make(map[string]int),
		now:   time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, kind Kind, id string) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[kind][id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	return e, nil
}

func (s *MemoryStore) GetByOwner(ctx context.Context, kind Kind, ownerID string) ([]Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entity
	for _, e := range s.entities[kind] {
		if e.EntityOwner() == ownerID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) Exists(ctx context.Context, kind Kind, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entities[kind][id]
	return ok, nil
}

func (s *MemoryStore) PutIfVersion(ctx context.Context, e Entity, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := s.entities[e.EntityKind()]
	if table == nil {
		return fmt.Errorf("unknown entity kind %q", e.EntityKind())
	}

	current, exists := table[e.EntityID()]
	if !exists {
		if expectedVersion != 0 {
			return fmt.Errorf("%s %s: %w", e.EntityKind(), e.EntityID(), core.ErrVersionConflict)
		}
	} else if current.EntityVersion() != expectedVersion {
		return fmt.Errorf("%s %s: %w", e.EntityKind(), e.EntityID(), core.ErrVersionConflict)
	}

	table[e.EntityID()] = Stamp(e, expectedVersion+1, s.now())
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, kind Kind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[kind][id]; !ok {
		return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	delete(s.entities[kind], id)
	return nil
}

func (s *MemoryStore) AppendTransaction(ctx context.Context, txn core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.byKey[txn.IdempotencyKey]; ok {
		return s.log[idx], core.ErrDuplicateSubmission
	}

	s.log = append(s.log, txn)
	idx := len(s.log) - 1
	s.byID[txn.ID] = idx
	s.byKey[txn.IdempotencyKey] = idx
	return txn, nil
}

func (s *MemoryStore) Transaction(ctx context.Context, id string) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return s.log[idx], nil
}

func (s *MemoryStore) TransactionByKey(ctx context.Context, idempotencyKey string) (core.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byKey[idempotencyKey]
	if !ok {
		return core.Transaction{}, false, nil
	}
	return s.log[idx], true, nil
}

func (s *MemoryStore) TransactionsByOwner(ctx context.Context, ownerID string) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Append order is commit order.
	var out []core.Transaction
	for _, txn := range s.log {
		if txn.OwnerID == ownerID {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
