package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps rate windows in process memory. Suitable for a single
// instance; multi-instance deployments should use the Redis store so
// limits hold across the fleet.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	ttl     map[string]time.Time
	stopCh  chan struct{}
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		windows: make(map[string][]time.Time),
		ttl:     make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) Append(_ context.Context, key string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[key] = append(s.windows[key], ts)
	return nil
}

func (s *MemoryStore) RangeSince(_ context.Context, key string, since time.Time) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.windows[key]
	kept := entries[:0]
	for _, ts := range entries {
		if !ts.Before(since) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(s.windows, key)
		return nil, nil
	}
	s.windows[key] = kept

	out := make([]time.Time, len(kept))
	copy(out, kept)
	return out, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl[key] = time.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	delete(s.ttl, key)
	return nil
}

// Stop stops the cleanup goroutine.
func (s *MemoryStore) Stop() {
	close(s.stopCh)
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, deadline := range s.ttl {
		if now.After(deadline) {
			delete(s.windows, key)
			delete(s.ttl, key)
		}
	}
}
