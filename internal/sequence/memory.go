package sequence

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryStore keeps counters in process memory behind a mutex. It mirrors
// PostgresStore semantics exactly and is meant for tests and embedded
// single-process deployments, not for anything shared between processes.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
}

type memoryCounter struct {
	value     int64
	updatedBy string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: map[string]*memoryCounter{}}
}

var _ Store = (*MemoryStore)(nil)

// NextValue returns the next value for the key, seeding unseen keys at
// startingValue.
func (s *MemoryStore) NextValue(ctx context.Context, scopeKey string, startingValue, ceiling int64, actor string) (int64, error) {
	return s.NextBlock(ctx, scopeKey, startingValue, ceiling, 1, actor)
}

// NextBlock reserves n contiguous values and returns the first.
func (s *MemoryStore) NextBlock(ctx context.Context, scopeKey string, startingValue, ceiling, n int64, actor string) (int64, error) {
	if strings.TrimSpace(scopeKey) == "" {
		return 0, ErrInvalidScopeKey
	}
	if n < 1 {
		return 0, ErrInvalidBlockSize
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.counters[scopeKey]
	if !ok {
		if ceiling > 0 && startingValue+n-1 > ceiling {
			return 0, fmt.Errorf("%w: %s at ceiling %d", ErrExhausted, scopeKey, ceiling)
		}
		s.counters[scopeKey] = &memoryCounter{value: startingValue + n - 1, updatedBy: actor}
		return startingValue, nil
	}
	if ceiling > 0 && counter.value+n > ceiling {
		return 0, fmt.Errorf("%w: %s at ceiling %d", ErrExhausted, scopeKey, ceiling)
	}
	counter.value += n
	counter.updatedBy = actor
	return counter.value - n + 1, nil
}

// CurrentValue reads the stored value, 0 when the key is unseen.
func (s *MemoryStore) CurrentValue(ctx context.Context, scopeKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counter, ok := s.counters[scopeKey]
	if !ok {
		return 0, nil
	}
	return counter.value, nil
}

// Exists reports whether the key has a counter.
func (s *MemoryStore) Exists(ctx context.Context, scopeKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.counters[scopeKey]
	return ok, nil
}
