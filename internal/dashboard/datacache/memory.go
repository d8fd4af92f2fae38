package datacache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a size-bounded LRU with per-entry expiry.
type MemoryStore struct {
	cache *lru.Cache
	now   func() time.Time
}

func NewMemoryStore(size int, clock func() time.Time) (*MemoryStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{cache: cache, now: clock}, nil
}

func (s *MemoryStore) Key(source, hash string) string {
	return "data:" + source + ":" + hash
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	entry := v.(memoryEntry)
	if !s.now().Before(entry.expiresAt) {
		s.cache.Remove(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.cache.Add(key, memoryEntry{value: value, expiresAt: s.now().Add(ttl)})
	return nil
}

func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}
