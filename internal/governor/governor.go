// Package governor implements per-endpoint admission control for external
// providers: a sliding request window with adaptive spacing and a
// consecutive-failure circuit breaker.
//
// All mutable state lives behind a Store. MemoryStore is correct for a
// single process; RedisStore shares windows and circuits across replicas.
package governor

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
)

const (
	waitReasonSpacing = "spacing"
	waitReasonWindow  = "window"
)

// Config holds the limits for one governed endpoint.
type Config struct {
	// Name identifies the endpoint in store keys, logs and metrics.
	Name string
	// Window is the trailing window the quota applies to.
	Window time.Duration
	// Quota is the maximum number of admissions within Window.
	Quota int
	// BaseSpacing is the minimum interval between admissions below UtilizationMid.
	BaseSpacing time.Duration
	// SpacingJitter is the upper bound of random delay added to each spacing interval.
	SpacingJitter time.Duration
	// AdmissionJitter is the upper bound of random delay added after waiting out a full window.
	AdmissionJitter time.Duration
	// UtilizationMid doubles spacing once reached.
	UtilizationMid float64
	// UtilizationHigh triples spacing once reached.
	UtilizationHigh float64
	// CircuitThreshold is the consecutive failure count that opens the circuit.
	CircuitThreshold int
	// CircuitCooldown is how long the circuit stays open after the last failure.
	CircuitCooldown time.Duration
	// RateLimitBaseDelay is the first rate-limit backoff delay.
	RateLimitBaseDelay time.Duration
	// RateLimitMaxDelay caps rate-limit backoff.
	RateLimitMaxDelay time.Duration
}

// DefaultConfig returns the limits for an unauthenticated endpoint.
func DefaultConfig(name string) Config {
	return Config{
		Name:               name,
		Window:             5 * time.Minute,
		Quota:              950,
		BaseSpacing:        time.Second,
		SpacingJitter:      250 * time.Millisecond,
		AdmissionJitter:    5 * time.Second,
		UtilizationMid:     0.6,
		UtilizationHigh:    0.8,
		CircuitThreshold:   5,
		CircuitCooldown:    10 * time.Minute,
		RateLimitBaseDelay: 2 * time.Second,
		RateLimitMaxDelay:  30 * time.Second,
	}
}

// Clock returns the current time.
type Clock func() time.Time

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock overrides the time source.
func WithClock(now Clock) Option {
	return func(g *Governor) { g.now = now }
}

// WithSleeper overrides how the governor waits.
func WithSleeper(sleep Sleeper) Option {
	return func(g *Governor) { g.sleep = sleep }
}

// WithRand overrides the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(g *Governor) { g.rand = fn }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Governor) { g.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Governor) { g.logger = logger }
}

// Snapshot describes a governor at a point in time.
type Snapshot struct {
	Name        string
	Circuit     CircuitState
	Open        bool
	RetryAt     time.Time
	Utilization float64
}

// Governor admits calls to a single external endpoint.
type Governor struct {
	cfg     Config
	store   Store
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     Clock
	sleep   Sleeper
	rand    func() float64

	mu          sync.Mutex
	nextSlot    time.Time
	utilization float64
}

// New creates a Governor backed by store.
func New(cfg Config, store Store, opts ...Option) *Governor {
	g := &Governor{
		cfg:    cfg,
		store:  store,
		logger: zerolog.Nop(),
		now:    time.Now,
		sleep:  Sleep,
		rand:   rand.Float64,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With().Str("component", "governor").Str("provider", cfg.Name).Logger()
	return g
}

// Name returns the governed endpoint name.
func (g *Governor) Name() string {
	return g.cfg.Name
}

// Config returns the governor limits.
func (g *Governor) Config() Config {
	return g.cfg
}

func (g *Governor) windowKey() string  { return g.cfg.Name + ":window" }
func (g *Governor) circuitKey() string { return g.cfg.Name + ":circuit" }

// Admit blocks until the caller may issue one request. It fails with
// *domain.CircuitOpenError while the circuit is open, including when it opens
// during a wait, and returns ctx.Err()
// if the context ends while waiting. Store failures admit the call.
func (g *Governor) Admit(ctx context.Context) error {
	if err := g.checkCircuit(ctx); err != nil {
		return err
	}
	if err := g.waitSpacing(ctx); err != nil {
		return err
	}
	return g.reserve(ctx)
}

func (g *Governor) checkCircuit(ctx context.Context) error {
	state, err := g.store.LoadCircuit(ctx, g.circuitKey())
	if err != nil {
		g.logger.Warn().Err(err).Msg("circuit state unavailable, admitting")
		return nil
	}

	now := g.now()
	if state.Expired(now, g.cfg.CircuitCooldown) {
		if err := g.store.ResetCircuit(ctx, g.circuitKey()); err != nil {
			g.logger.Warn().Err(err).Msg("failed to reset expired circuit")
		}
		g.metrics.SetCircuitOpen(g.cfg.Name, false)
		return nil
	}

	if state.IsOpen(now, g.cfg.CircuitThreshold, g.cfg.CircuitCooldown) {
		g.metrics.RecordCircuitRejection(g.cfg.Name)
		return &domain.CircuitOpenError{
			Source:  g.cfg.Name,
			RetryAt: state.LastFailureAt.Add(g.cfg.CircuitCooldown),
		}
	}
	return nil
}

// waitSpacing claims the next spacing slot under the lock and sleeps
// outside it, so concurrent callers queue behind each other.
func (g *Governor) waitSpacing(ctx context.Context) error {
	now := g.now()

	g.mu.Lock()
	interval := g.spacingInterval(g.utilization)
	start := g.nextSlot
	if start.Before(now) {
		start = now
	}
	g.nextSlot = start.Add(interval)
	g.mu.Unlock()

	wait := start.Sub(now)
	if wait <= 0 {
		return nil
	}
	g.metrics.RecordGovernorWait(g.cfg.Name, waitReasonSpacing, wait.Seconds())
	if err := g.sleep(ctx, wait); err != nil {
		return err
	}
	return g.checkCircuit(ctx)
}

func (g *Governor) spacingInterval(utilization float64) time.Duration {
	interval := g.cfg.BaseSpacing
	switch {
	case utilization >= g.cfg.UtilizationHigh:
		interval *= 3
	case utilization >= g.cfg.UtilizationMid:
		interval *= 2
	}
	return interval + g.jitter(g.cfg.SpacingJitter)
}

func (g *Governor) reserve(ctx context.Context) error {
	for {
		now := g.now()
		res, err := g.store.Reserve(ctx, g.windowKey(), now, g.cfg.Window, g.cfg.Quota)
		if err != nil {
			g.logger.Warn().Err(err).Msg("rate window unavailable, admitting")
			return nil
		}
		g.recordUtilization(res.Count)
		if res.Admitted {
			return nil
		}

		wait := res.Oldest.Add(g.cfg.Window).Sub(now)
		if wait < 0 {
			wait = 0
		}
		wait += g.jitter(g.cfg.AdmissionJitter)

		g.logger.Debug().
			Int("count", res.Count).
			Int("quota", g.cfg.Quota).
			Dur("wait", wait).
			Msg("rate window full, waiting")
		g.metrics.RecordGovernorWait(g.cfg.Name, waitReasonWindow, wait.Seconds())

		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
		// The circuit may have opened while this caller was queued.
		if err := g.checkCircuit(ctx); err != nil {
			return err
		}
	}
}

func (g *Governor) recordUtilization(count int) {
	util := 0.0
	if g.cfg.Quota > 0 {
		util = float64(count) / float64(g.cfg.Quota)
	}
	g.mu.Lock()
	g.utilization = util
	g.mu.Unlock()
	g.metrics.SetGovernorUtilization(g.cfg.Name, util)
}

// RecordSuccess closes the circuit.
func (g *Governor) RecordSuccess(ctx context.Context) {
	if err := g.store.ResetCircuit(ctx, g.circuitKey()); err != nil {
		g.logger.Warn().Err(err).Msg("failed to reset circuit")
		return
	}
	g.metrics.SetCircuitOpen(g.cfg.Name, false)
}

// RecordFailure counts one failed call against the circuit.
func (g *Governor) RecordFailure(ctx context.Context) {
	state, err := g.store.RecordFailure(ctx, g.circuitKey(), g.now(), g.cfg.CircuitCooldown)
	if err != nil {
		g.logger.Warn().Err(err).Msg("failed to record circuit failure")
		return
	}
	if state.ConsecutiveFailures >= g.cfg.CircuitThreshold {
		if state.ConsecutiveFailures == g.cfg.CircuitThreshold {
			g.logger.Warn().
				Int("failures", state.ConsecutiveFailures).
				Dur("cooldown", g.cfg.CircuitCooldown).
				Msg("circuit opened")
		}
		g.metrics.SetCircuitOpen(g.cfg.Name, true)
	}
}

// State returns the current circuit and window utilization.
func (g *Governor) State(ctx context.Context) (Snapshot, error) {
	state, err := g.store.LoadCircuit(ctx, g.circuitKey())
	if err != nil {
		return Snapshot{}, err
	}
	now := g.now()
	if state.Expired(now, g.cfg.CircuitCooldown) {
		state = CircuitState{}
	}

	g.mu.Lock()
	util := g.utilization
	g.mu.Unlock()

	snap := Snapshot{
		Name:        g.cfg.Name,
		Circuit:     state,
		Open:        state.IsOpen(now, g.cfg.CircuitThreshold, g.cfg.CircuitCooldown),
		Utilization: util,
	}
	if snap.Open {
		snap.RetryAt = state.LastFailureAt.Add(g.cfg.CircuitCooldown)
	}
	return snap, nil
}

// RateLimitBackoff returns the delay before rate-limit retry attempt
// (1-based): base doubled per attempt, jittered by up to 25% either way and
// never above the configured maximum.
func (g *Governor) RateLimitBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	maxDelay := g.cfg.RateLimitMaxDelay
	d := g.cfg.RateLimitBaseDelay
	for i := 1; i < attempt && d < maxDelay; i++ {
		d *= 2
	}
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}

	d += time.Duration((g.rand()*0.5 - 0.25) * float64(d))
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Sleep waits using the governor's Sleeper.
func (g *Governor) Sleep(ctx context.Context, d time.Duration) error {
	return g.sleep(ctx, d)
}

func (g *Governor) jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(g.rand() * float64(limit))
}
