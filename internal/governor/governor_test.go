package governor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
)

// fakeClock is a manual clock whose Sleep advances time instead of blocking.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func testConfig() Config {
	cfg := DefaultConfig("test")
	cfg.BaseSpacing = 0
	cfg.SpacingJitter = 0
	cfg.AdmissionJitter = 0
	return cfg
}

func newTestGovernor(cfg Config, store Store, clock *fakeClock, opts ...Option) *Governor {
	base := []Option{
		WithClock(clock.Now),
		WithSleeper(clock.Sleep),
		WithRand(func() float64 { return 0 }),
	}
	return New(cfg, store, append(base, opts...)...)
}

func TestGovernor_QuotaNeverExceeded(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := testConfig()
	cfg.Quota = 3
	g := newTestGovernor(cfg, NewMemoryStore(), clock)

	var admitted []time.Time
	for i := 0; i < 10; i++ {
		require.NoError(t, g.Admit(ctx))
		admitted = append(admitted, clock.Now())
	}

	for i, at := range admitted {
		inWindow := 0
		for _, other := range admitted[:i+1] {
			if at.Sub(other) < cfg.Window {
				inWindow++
			}
		}
		assert.LessOrEqual(t, inWindow, cfg.Quota, "admission %d", i)
	}

	// Fourth call waited for the oldest entry to leave the window.
	assert.Equal(t, cfg.Window, admitted[3].Sub(admitted[0]))
}

func TestGovernor_WindowWaitAddsJitter(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := testConfig()
	cfg.Quota = 1
	cfg.AdmissionJitter = 4 * time.Second
	g := newTestGovernor(cfg, NewMemoryStore(), clock, WithRand(func() float64 { return 0.5 }))

	require.NoError(t, g.Admit(ctx))
	require.NoError(t, g.Admit(ctx))

	assert.Equal(t, []time.Duration{cfg.Window + 2*time.Second}, clock.Sleeps())
}

func TestGovernor_SpacingGrowsWithUtilization(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := testConfig()
	cfg.Quota = 10
	cfg.BaseSpacing = time.Second
	g := newTestGovernor(cfg, NewMemoryStore(), clock)

	for i := 0; i < 10; i++ {
		require.NoError(t, g.Admit(ctx))
	}

	s := time.Second
	assert.Equal(t, []time.Duration{s, s, s, s, s, s, 2 * s, 2 * s, 3 * s}, clock.Sleeps())
}

func TestGovernor_SpacingJitter(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := testConfig()
	cfg.BaseSpacing = time.Second
	cfg.SpacingJitter = 200 * time.Millisecond
	g := newTestGovernor(cfg, NewMemoryStore(), clock, WithRand(func() float64 { return 0.5 }))

	require.NoError(t, g.Admit(ctx))
	require.NoError(t, g.Admit(ctx))

	assert.Equal(t, []time.Duration{1100 * time.Millisecond}, clock.Sleeps())
}

func TestGovernor_CircuitBreaker(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := testConfig()
	metrics := observability.NewMetrics("test_governor_circuit")
	g := newTestGovernor(cfg, NewMemoryStore(), clock, WithMetrics(metrics))

	for i := 0; i < cfg.CircuitThreshold-1; i++ {
		g.RecordFailure(ctx)
	}
	require.NoError(t, g.Admit(ctx), "circuit stays closed below threshold")

	g.RecordFailure(ctx)
	failedAt := clock.Now()

	err := g.Admit(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCircuitOpen))

	var openErr *domain.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "test", openErr.Source)
	assert.Equal(t, failedAt.Add(cfg.CircuitCooldown), openErr.RetryAt)
	assert.Empty(t, clock.Sleeps(), "open circuit must not wait")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CircuitRejections.WithLabelValues("test")))

	snap, err := g.State(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Open)
	assert.Equal(t, cfg.CircuitThreshold, snap.Circuit.ConsecutiveFailures)

	clock.Advance(cfg.CircuitCooldown)

	require.NoError(t, g.Admit(ctx))
	snap, err = g.State(ctx)
	require.NoError(t, err)
	assert.False(t, snap.Open)
	assert.Equal(t, 0, snap.Circuit.ConsecutiveFailures)
}

func TestGovernor_CircuitOpensWhileWaiting(t *testing.T) {
	t.Run("window wait", func(t *testing.T) {
		ctx := context.Background()
		clock := newFakeClock()
		cfg := testConfig()
		cfg.Quota = 1

		var g *Governor
		// Other callers fail while this one waits for the window.
		failDuringSleep := func(ctx context.Context, d time.Duration) error {
			if err := clock.Sleep(ctx, d); err != nil {
				return err
			}
			for i := 0; i < cfg.CircuitThreshold; i++ {
				g.RecordFailure(ctx)
			}
			return nil
		}
		g = newTestGovernor(cfg, NewMemoryStore(), clock, WithSleeper(failDuringSleep))

		require.NoError(t, g.Admit(ctx))

		err := g.Admit(ctx)
		require.Error(t, err)
		var openErr *domain.CircuitOpenError
		require.ErrorAs(t, err, &openErr)
		assert.Equal(t, clock.Now().Add(cfg.CircuitCooldown), openErr.RetryAt)
		assert.Len(t, clock.Sleeps(), 1, "no further wait once the circuit is open")
	})

	t.Run("spacing wait", func(t *testing.T) {
		ctx := context.Background()
		clock := newFakeClock()
		cfg := testConfig()
		cfg.BaseSpacing = time.Second

		var g *Governor
		failDuringSleep := func(ctx context.Context, d time.Duration) error {
			if err := clock.Sleep(ctx, d); err != nil {
				return err
			}
			for i := 0; i < cfg.CircuitThreshold; i++ {
				g.RecordFailure(ctx)
			}
			return nil
		}
		g = newTestGovernor(cfg, NewMemoryStore(), clock, WithSleeper(failDuringSleep))

		require.NoError(t, g.Admit(ctx))
		assert.ErrorIs(t, g.Admit(ctx), domain.ErrCircuitOpen)

		snap, err := g.State(ctx)
		require.NoError(t, err)
		assert.True(t, snap.Open)
		assert.Equal(t, 1/float64(cfg.Quota), snap.Utilization, "rejected call must not reserve a window slot")
	})
}

func TestGovernor_SuccessResetsFailures(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	cfg := testConfig()
	g := newTestGovernor(cfg, NewMemoryStore(), clock)

	for i := 0; i < cfg.CircuitThreshold-1; i++ {
		g.RecordFailure(ctx)
	}
	g.RecordSuccess(ctx)
	g.RecordFailure(ctx)

	require.NoError(t, g.Admit(ctx))
	snap, err := g.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Circuit.ConsecutiveFailures)
}

func TestGovernor_ContextCancelledWhileWaiting(t *testing.T) {
	cfg := testConfig()
	cfg.Quota = 1
	g := New(cfg, NewMemoryStore())

	require.NoError(t, g.Admit(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.Admit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type failingStore struct{}

func (failingStore) Reserve(context.Context, string, time.Time, time.Duration, int) (Reservation, error) {
	return Reservation{}, errors.New("store down")
}

func (failingStore) LoadCircuit(context.Context, string) (CircuitState, error) {
	return CircuitState{}, errors.New("store down")
}

func (failingStore) RecordFailure(context.Context, string, time.Time, time.Duration) (CircuitState, error) {
	return CircuitState{}, errors.New("store down")
}

func (failingStore) ResetCircuit(context.Context, string) error {
	return errors.New("store down")
}

func TestGovernor_StoreFailureAdmits(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	g := newTestGovernor(testConfig(), failingStore{}, clock)

	assert.NoError(t, g.Admit(ctx))
	assert.NotPanics(t, func() {
		g.RecordFailure(ctx)
		g.RecordSuccess(ctx)
	})

	_, err := g.State(ctx)
	assert.Error(t, err)
}

func TestGovernor_RateLimitBackoff(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name    string
		attempt int
		rand    float64
		want    time.Duration
	}{
		{"first attempt without jitter", 1, 0.5, 2 * time.Second},
		{"doubles", 2, 0.5, 4 * time.Second},
		{"doubles again", 4, 0.5, 16 * time.Second},
		{"capped", 5, 0.5, 30 * time.Second},
		{"jitter below", 1, 0, 1500 * time.Millisecond},
		{"jitter above", 1, 1, 2500 * time.Millisecond},
		{"jitter never exceeds cap", 6, 1, 30 * time.Second},
		{"attempt zero treated as first", 0, 0.5, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(cfg, NewMemoryStore(), WithRand(func() float64 { return tt.rand }))
			assert.Equal(t, tt.want, g.RateLimitBackoff(tt.attempt))
		})
	}
}

func TestGovernor_ConcurrentAdmissionsRespectQuota(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Quota = 5
	clock := newFakeClock()
	g := New(cfg, NewMemoryStore(), WithClock(clock.Now), WithSleeper(func(ctx context.Context, d time.Duration) error {
		return context.DeadlineExceeded
	}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Admit(ctx); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, cfg.Quota, admitted)
}
