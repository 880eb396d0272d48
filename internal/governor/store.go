package governor

import (
	"context"
	"sync"
	"time"
)

// Reservation is the outcome of a sliding-window admission attempt.
type Reservation struct {
	// Admitted is true when a slot was taken for the caller.
	Admitted bool
	// Count is the number of entries in the window after the attempt.
	Count int
	// Oldest is the timestamp of the oldest entry still in the window.
	Oldest time.Time
}

// CircuitState is the persisted breaker state of one endpoint. Whether the
// circuit is open is derived from it, never stored.
type CircuitState struct {
	ConsecutiveFailures int
	LastFailureAt       time.Time
}

// IsOpen reports whether calls must fail fast.
func (s CircuitState) IsOpen(now time.Time, threshold int, cooldown time.Duration) bool {
	return s.ConsecutiveFailures >= threshold && now.Sub(s.LastFailureAt) < cooldown
}

// Expired reports whether the cooldown has elapsed since the last failure,
// after which the failure count resets to zero.
func (s CircuitState) Expired(now time.Time, cooldown time.Duration) bool {
	return s.ConsecutiveFailures > 0 && now.Sub(s.LastFailureAt) >= cooldown
}

// WindowStore holds sliding request windows.
type WindowStore interface {
	// Reserve prunes entries older than window, then appends now if fewer
	// than quota entries remain. The prune-check-append sequence is atomic.
	Reserve(ctx context.Context, key string, now time.Time, window time.Duration, quota int) (Reservation, error)
}

// CircuitStore holds circuit breaker counters.
type CircuitStore interface {
	LoadCircuit(ctx context.Context, key string) (CircuitState, error)
	// RecordFailure increments the failure count, first resetting it when
	// cooldown has elapsed since the previous failure.
	RecordFailure(ctx context.Context, key string, at time.Time, cooldown time.Duration) (CircuitState, error)
	ResetCircuit(ctx context.Context, key string) error
}

// Store is the shared mutable state behind every governor in a process
// (MemoryStore) or a fleet (RedisStore).
type Store interface {
	WindowStore
	CircuitStore
}

// MemoryStore keeps governor state in process memory. It is correct only
// while a single process talks to each provider.
type MemoryStore struct {
	mu       sync.Mutex
	windows  map[string][]time.Time
	circuits map[string]CircuitState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows:  make(map[string][]time.Time),
		circuits: make(map[string]CircuitState),
	}
}

// Reserve implements WindowStore.
func (s *MemoryStore) Reserve(_ context.Context, key string, now time.Time, window time.Duration, quota int) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.windows[key]
	keep := 0
	for keep < len(entries) && now.Sub(entries[keep]) >= window {
		keep++
	}
	entries = entries[keep:]

	res := Reservation{}
	if len(entries) < quota {
		entries = append(entries, now)
		res.Admitted = true
	}
	res.Count = len(entries)
	if len(entries) > 0 {
		res.Oldest = entries[0]
	}

	s.windows[key] = entries
	return res, nil
}

// LoadCircuit implements CircuitStore.
func (s *MemoryStore) LoadCircuit(_ context.Context, key string) (CircuitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.circuits[key], nil
}

// RecordFailure implements CircuitStore.
func (s *MemoryStore) RecordFailure(_ context.Context, key string, at time.Time, cooldown time.Duration) (CircuitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.circuits[key]
	if state.Expired(at, cooldown) {
		state = CircuitState{}
	}
	state.ConsecutiveFailures++
	state.LastFailureAt = at
	s.circuits[key] = state
	return state, nil
}

// ResetCircuit implements CircuitStore.
func (s *MemoryStore) ResetCircuit(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.circuits, key)
	return nil
}
