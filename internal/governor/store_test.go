package governor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitState(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 10 * time.Minute

	tests := []struct {
		name        string
		state       CircuitState
		now         time.Time
		wantOpen    bool
		wantExpired bool
	}{
		{"zero state", CircuitState{}, t0, false, false},
		{"below threshold", CircuitState{ConsecutiveFailures: 4, LastFailureAt: t0}, t0, false, false},
		{"at threshold", CircuitState{ConsecutiveFailures: 5, LastFailureAt: t0}, t0.Add(time.Minute), true, false},
		{"just before cooldown", CircuitState{ConsecutiveFailures: 5, LastFailureAt: t0}, t0.Add(cooldown - time.Nanosecond), true, false},
		{"at cooldown boundary", CircuitState{ConsecutiveFailures: 5, LastFailureAt: t0}, t0.Add(cooldown), false, true},
		{"stale failures below threshold", CircuitState{ConsecutiveFailures: 2, LastFailureAt: t0}, t0.Add(time.Hour), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantOpen, tt.state.IsOpen(tt.now, 5, cooldown))
			assert.Equal(t, tt.wantExpired, tt.state.Expired(tt.now, cooldown))
		})
	}
}

func TestMemoryStore_Reserve(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	window := 5 * time.Minute

	t.Run("admits up to quota then refuses", func(t *testing.T) {
		s := NewMemoryStore()

		for i := 0; i < 3; i++ {
			res, err := s.Reserve(ctx, "k", t0.Add(time.Duration(i)*time.Second), window, 3)
			require.NoError(t, err)
			assert.True(t, res.Admitted)
			assert.Equal(t, i+1, res.Count)
			assert.Equal(t, t0, res.Oldest)
		}

		res, err := s.Reserve(ctx, "k", t0.Add(time.Minute), window, 3)
		require.NoError(t, err)
		assert.False(t, res.Admitted)
		assert.Equal(t, 3, res.Count)
		assert.Equal(t, t0, res.Oldest)
	})

	t.Run("prunes entries that left the window", func(t *testing.T) {
		s := NewMemoryStore()
		for i := 0; i < 2; i++ {
			_, err := s.Reserve(ctx, "k", t0.Add(time.Duration(i)*time.Minute), window, 2)
			require.NoError(t, err)
		}

		res, err := s.Reserve(ctx, "k", t0.Add(window), window, 2)
		require.NoError(t, err)
		assert.True(t, res.Admitted)
		assert.Equal(t, 2, res.Count)
		assert.Equal(t, t0.Add(time.Minute), res.Oldest)
	})

	t.Run("keys are independent", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.Reserve(ctx, "a", t0, window, 1)
		require.NoError(t, err)

		res, err := s.Reserve(ctx, "b", t0, window, 1)
		require.NoError(t, err)
		assert.True(t, res.Admitted)
	})
}

func TestMemoryStore_Circuit(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cooldown := 10 * time.Minute

	t.Run("counts consecutive failures", func(t *testing.T) {
		s := NewMemoryStore()
		var state CircuitState
		var err error
		for i := 0; i < 3; i++ {
			state, err = s.RecordFailure(ctx, "c", t0.Add(time.Duration(i)*time.Second), cooldown)
			require.NoError(t, err)
		}
		assert.Equal(t, 3, state.ConsecutiveFailures)
		assert.Equal(t, t0.Add(2*time.Second), state.LastFailureAt)

		loaded, err := s.LoadCircuit(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, state, loaded)
	})

	t.Run("failure after cooldown starts a new count", func(t *testing.T) {
		s := NewMemoryStore()
		for i := 0; i < 5; i++ {
			_, err := s.RecordFailure(ctx, "c", t0, cooldown)
			require.NoError(t, err)
		}

		state, err := s.RecordFailure(ctx, "c", t0.Add(cooldown), cooldown)
		require.NoError(t, err)
		assert.Equal(t, 1, state.ConsecutiveFailures)
	})

	t.Run("reset clears state", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.RecordFailure(ctx, "c", t0, cooldown)
		require.NoError(t, err)

		require.NoError(t, s.ResetCircuit(ctx, "c"))

		state, err := s.LoadCircuit(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, CircuitState{}, state)
	})
}

func TestParseCircuit(t *testing.T) {
	t.Run("empty hash is closed", func(t *testing.T) {
		state, err := parseCircuit(map[string]string{})
		require.NoError(t, err)
		assert.Equal(t, CircuitState{}, state)
	})

	t.Run("parses fields", func(t *testing.T) {
		state, err := parseCircuit(map[string]string{"failures": "4", "last_failure_ms": "1767268800000"})
		require.NoError(t, err)
		assert.Equal(t, 4, state.ConsecutiveFailures)
		assert.Equal(t, int64(1767268800000), state.LastFailureAt.UnixMilli())
	})

	t.Run("rejects garbage", func(t *testing.T) {
		_, err := parseCircuit(map[string]string{"failures": "many"})
		assert.Error(t, err)
	})
}
