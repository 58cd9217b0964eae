package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// memoryEntry represents a single cache entry with its own expiry
type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
	element   *list.Element // For LRU tracking
}

func (e *memoryEntry) isExpired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// MemoryStore is an in-process LRU cache with per-entry TTL.
// Thread-safe implementation using sync.Mutex
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	lruList *list.List // Front is most recently used
	maxSize int
	hits    uint64
	misses  uint64
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore holding at most maxSize entries
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		lruList: list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Get retrieves a value. Expired entries are removed and reported as a miss.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists || entry.isExpired(s.now()) {
		s.misses++
		if exists {
			s.removeEntry(key)
		}
		return nil, false, nil
	}

	s.lruList.MoveToFront(entry.element)
	s.hits++

	return copyBytes(entry.value), true, nil
}

// Set stores a value, evicting the least recently used entry when full
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := s.now().Add(ttl)

	if entry, exists := s.entries[key]; exists {
		entry.value = copyBytes(value)
		entry.expiresAt = expiresAt
		s.lruList.MoveToFront(entry.element)
		return nil
	}

	if s.lruList.Len() >= s.maxSize {
		s.evictLRU()
	}

	entry := &memoryEntry{
		key:       key,
		value:     copyBytes(value),
		expiresAt: expiresAt,
	}
	entry.element = s.lruList.PushFront(key)
	s.entries[key] = entry

	return nil
}

// Ping always succeeds for the in-process store
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Delete removes a specific entry
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeEntry(key)
}

// Clear removes all entries from the cache
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*memoryEntry)
	s.lruList.Init()
}

// Stats returns cache statistics
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Size:    s.lruList.Len(),
		MaxSize: s.maxSize,
		Hits:    s.hits,
		Misses:  s.misses,
		HitRate: s.calculateHitRate(),
	}
}

// Stats represents cache statistics
type Stats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

func (s *MemoryStore) calculateHitRate() float64 {
	total := s.hits + s.misses
	if total == 0 {
		return 0
	}
	return float64(s.hits) / float64(total)
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (s *MemoryStore) removeEntry(key string) {
	if entry, exists := s.entries[key]; exists {
		s.lruList.Remove(entry.element)
		delete(s.entries, key)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (s *MemoryStore) evictLRU() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, key)
}

// CleanupExpired removes all expired entries and returns how many were dropped
func (s *MemoryStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	expiredKeys := make([]string, 0)
	for key, entry := range s.entries {
		if entry.isExpired(now) {
			expiredKeys = append(expiredKeys, key)
		}
	}

	for _, key := range expiredKeys {
		s.removeEntry(key)
	}

	return len(expiredKeys)
}

// StartCleanupWorker periodically drops expired entries until stopCh is closed
func (s *MemoryStore) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
