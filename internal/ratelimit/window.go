package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of recording one attempt against a key.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// RetryAfterSec reports the retry-after delay in whole seconds, rounded up,
// never less than 1 for a denied attempt.
func (d Decision) RetryAfterSec() int {
	if d.Allowed || d.RetryAfter <= 0 {
		return 0
	}
	sec := int((d.RetryAfter + time.Second - 1) / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}

// Store caps login attempts per key over a rolling window. Implementations
// are constructor-injected so the backing store can be swapped (in-memory
// vs shared) without touching call sites.
type Store interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Key builds the canonical rate-limit key for a login attempt.
func Key(ip, identifier string) string {
	return ip + "|" + identifier
}

// MemoryStore is a process-local sliding-window limiter. State lives in one
// mutex-guarded map keyed by Key(ip, identifier); each entry holds the
// timestamps of attempts still inside the window. Entries are pruned on
// every access and dropped once empty, so memory stays bounded by recent
// traffic. State resets on process restart and is not shared across
// instances.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

type MemoryOption func(*MemoryStore)

func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(limit int, window time.Duration, opts ...MemoryOption) *MemoryStore {
	if limit < 1 {
		limit = 10
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	s := &MemoryStore{
		attempts: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow records the attempt unless the key is already at its cap. A denied
// attempt is not recorded; RetryAfter is the time until the oldest attempt
// still in the window expires.
func (s *MemoryStore) Allow(_ context.Context, key string) (Decision, error) {
	now := s.now()
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	stamps := s.attempts[key]
	live := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			live = append(live, ts)
		}
	}

	if len(live) >= s.limit {
		s.attempts[key] = live
		retry := live[0].Add(s.window).Sub(now)
		return Decision{Allowed: false, RetryAfter: retry}, nil
	}

	live = append(live, now)
	s.attempts[key] = live
	return Decision{Allowed: true, Remaining: s.limit - len(live)}, nil
}

// Len reports the number of tracked keys after pruning, for tests and
// introspection.
func (s *MemoryStore) Len() int {
	now := s.now()
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, stamps := range s.attempts {
		live := stamps[:0]
		for _, ts := range stamps {
			if ts.After(cutoff) {
				live = append(live, ts)
			}
		}
		if len(live) == 0 {
			delete(s.attempts, key)
		} else {
			s.attempts[key] = live
		}
	}
	return len(s.attempts)
}
