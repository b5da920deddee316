package session

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps sessions in a bounded LRU whose entries also age out
// after ttl. It is the store used when no database is configured.
type MemoryStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *Record]
}

// NewMemoryStore creates a store holding at most size sessions. Entries are
// evicted ttl after their last write.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{cache: expirable.NewLRU[string, *Record](size, nil, ttl)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.cache.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.cache.Peek(rec.ID)
	switch {
	case rec.Version == 0 && exists:
		return ErrConflict
	case rec.Version != 0 && (!exists || current.Version != rec.Version):
		return ErrConflict
	}

	rec.Version++
	s.cache.Add(rec.ID, rec.Clone())
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Remove(id)
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range s.cache.Keys() {
		if rec, ok := s.cache.Peek(id); ok && rec.Expired(now) {
			s.cache.Remove(id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
