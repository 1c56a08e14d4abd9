package memory

import (
	"context"
	"fmt"
	"sync"

	"finguard/internal/statement"
)

// Store keeps statement entries in memory. Default sink for dev and
// tests.
type Store struct {
	mu    sync.Mutex
	items []statement.Entry
}

func New() *Store {
	return &Store{}
}

// Append stores the entry and returns a synthetic row reference.
func (s *Store) Append(_ context.Context, e statement.Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, e)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Entries returns a copy of everything appended so far.
func (s *Store) Entries() []statement.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statement.Entry(nil), s.items...)
}
