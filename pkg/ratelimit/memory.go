package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts wall time so window expiry can be tested without
// sleeping.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type memWindow struct {
	count int64
	reset time.Time
}

// MemoryStore keeps windows in process memory. This is the store used
// when no Redis address is configured; counters do not survive
// restarts and are not shared across instances.
type MemoryStore struct {
	mu      sync.Mutex
	window  time.Duration
	clock   Clock
	windows map[string]*memWindow
}

type MemoryOption func(*MemoryStore)

func WithClock(c Clock) MemoryOption {
	return func(s *MemoryStore) { s.clock = c }
}

func NewMemoryStore(window time.Duration, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		window:  window,
		clock:   realClock{},
		windows: make(map[string]*memWindow),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// current returns the live window for key, starting a fresh one if the
// boundary has passed. Caller must hold the lock.
func (s *MemoryStore) current(key string) *memWindow {
	now := s.clock.Now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &memWindow{reset: now.Add(s.window)}
		s.windows[key] = w
	}
	return w
}

func (s *MemoryStore) Peek(ctx context.Context, key string) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.current(key)
	return w.count, w.reset, nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.current(key)
	w.count++
	return w.count, nil
}
