package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/gmarchetti/balcao/agent/contract"
)

// MemoryStore keeps ledger entries in process memory. It backs tests
// and DB-less local runs; ordering follows insertion, which is also
// the per-customer chronological order.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]Entry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]Entry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Append(ctx context.Context, e *Entry) error {
	if e == nil || e.CustomerID == "" {
		return contract.ErrValidation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	if e.MediaType == "" {
		e.MediaType = "text"
	}
	e.ID = int64(len(s.entries[e.CustomerID]) + 1)
	s.entries[e.CustomerID] = append(s.entries[e.CustomerID], *e)
	return nil
}

func (s *MemoryStore) LoadRecent(ctx context.Context, customerID string, limit int) ([]contract.Message, error) {
	if limit <= 0 {
		limit = defaultReplayLimit
	}
	s.mu.Lock()
	all := s.entries[customerID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	messages := make([]contract.Message, 0, len(all))
	for _, e := range all {
		messages = append(messages, toMessage(e))
	}
	s.mu.Unlock()
	return Sanitize(messages), nil
}

func (s *MemoryStore) LastUserMessageAt(ctx context.Context, customerID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.entries[customerID]
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Role == contract.RoleUser {
			return all[i].CreatedAt, nil
		}
	}
	return time.Time{}, ErrNoEntries
}
