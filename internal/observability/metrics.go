package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the literature resolver.
// Every Record method is safe to call on a nil *Metrics, so components can
// run without instrumentation in tests and CLI tools.
type Metrics struct {
	// ProviderRequests counts provider HTTP attempts by provider, endpoint and status class.
	ProviderRequests *prometheus.CounterVec

	// ProviderRequestDuration observes provider HTTP attempt latency in seconds.
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRateLimited counts 429/403 responses by provider.
	ProviderRateLimited *prometheus.CounterVec

	// ProviderRetries counts retries by provider and reason (rate_limited, transient).
	ProviderRetries *prometheus.CounterVec

	// GovernorWait observes time spent waiting for admission, by provider and reason (spacing, window).
	GovernorWait *prometheus.HistogramVec

	// GovernorUtilization is the last observed window utilization (0-1) per provider.
	GovernorUtilization *prometheus.GaugeVec

	// CircuitOpen is 1 while a provider's circuit is open.
	CircuitOpen *prometheus.GaugeVec

	// CircuitRejections counts calls failed fast by an open circuit.
	CircuitRejections *prometheus.CounterVec

	// CoalescedRequests counts callers that joined an in-flight call instead of issuing their own.
	CoalescedRequests *prometheus.CounterVec

	// CacheLookups counts freshness cache lookups by result (hit_fresh, hit_stale, miss).
	CacheLookups *prometheus.CounterVec

	// AbstractResolutions counts hydrated abstracts by provenance.
	AbstractResolutions *prometheus.CounterVec

	// ExtractionTiers counts generative-output parses by the tier that produced candidates.
	ExtractionTiers *prometheus.CounterVec

	// CandidatesResolved counts enriched candidates by outcome (batch, title, unmatched).
	CandidatesResolved *prometheus.CounterVec

	// PersistenceFailures counts datastore write failures by operation.
	PersistenceFailures *prometheus.CounterVec

	// LLMRequests counts generative provider calls by provider, model and outcome.
	LLMRequests *prometheus.CounterVec

	// LLMTokens counts generative provider tokens by provider, model and direction.
	LLMTokens *prometheus.CounterVec

	// HTTPRequests counts API requests by method, route and status.
	HTTPRequests *prometheus.CounterVec

	// HTTPRequestDuration observes API request latency in seconds.
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ProviderRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of provider HTTP attempts",
		}, []string{"provider", "endpoint", "status"}),
		ProviderRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of provider HTTP attempts in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider", "endpoint"}),
		ProviderRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_rate_limited_total",
			Help:      "Total number of rate-limited provider responses",
		}, []string{"provider"}),
		ProviderRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_retries_total",
			Help:      "Total number of provider call retries by reason",
		}, []string{"provider", "reason"}),

		GovernorWait: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "governor_wait_seconds",
			Help:      "Time spent waiting for rate governor admission",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}, []string{"provider", "reason"}),
		GovernorUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "governor_window_utilization",
			Help:      "Fraction of the sliding-window quota in use",
		}, []string{"provider"}),
		CircuitOpen: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_open",
			Help:      "Whether the provider circuit breaker is open (1) or closed (0)",
		}, []string{"provider"}),
		CircuitRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_rejections_total",
			Help:      "Total number of calls rejected by an open circuit",
		}, []string{"provider"}),

		CoalescedRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coalesced_requests_total",
			Help:      "Total number of callers served by a shared in-flight call",
		}, []string{"scope"}),

		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total number of freshness cache lookups by result",
		}, []string{"result"}),
		AbstractResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abstract_resolutions_total",
			Help:      "Total number of hydrated abstracts by provenance",
		}, []string{"provenance"}),
		ExtractionTiers: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_tier_total",
			Help:      "Total number of generative output parses by producing tier",
		}, []string{"tier"}),
		CandidatesResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_resolved_total",
			Help:      "Total number of generative candidates by enrichment outcome",
		}, []string{"outcome"}),
		PersistenceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Total number of datastore write failures",
		}, []string{"op"}),

		LLMRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of generative provider requests",
		}, []string{"provider", "model", "outcome"}),
		LLMTokens: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Total number of generative provider tokens",
		}, []string{"provider", "model", "direction"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of API requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// RecordProviderRequest records one provider HTTP attempt.
// statusCode 0 means the attempt failed before a response arrived.
func (m *Metrics) RecordProviderRequest(provider, endpoint string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, endpoint, statusClass(statusCode)).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, endpoint).Observe(durationSeconds)
}

// RecordProviderRateLimited records a 429/403 response from a provider.
func (m *Metrics) RecordProviderRateLimited(provider string) {
	if m == nil {
		return
	}
	m.ProviderRateLimited.WithLabelValues(provider).Inc()
}

// RecordProviderRetry records a retry of a provider call.
func (m *Metrics) RecordProviderRetry(provider, reason string) {
	if m == nil {
		return
	}
	m.ProviderRetries.WithLabelValues(provider, reason).Inc()
}

// RecordGovernorWait records time spent waiting for admission.
func (m *Metrics) RecordGovernorWait(provider, reason string, seconds float64) {
	if m == nil {
		return
	}
	m.GovernorWait.WithLabelValues(provider, reason).Observe(seconds)
}

// SetGovernorUtilization records the window utilization seen at admission.
func (m *Metrics) SetGovernorUtilization(provider string, utilization float64) {
	if m == nil {
		return
	}
	m.GovernorUtilization.WithLabelValues(provider).Set(utilization)
}

// SetCircuitOpen records the circuit state of a provider.
func (m *Metrics) SetCircuitOpen(provider string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitOpen.WithLabelValues(provider).Set(v)
}

// RecordCircuitRejection records a call failed fast by an open circuit.
func (m *Metrics) RecordCircuitRejection(provider string) {
	if m == nil {
		return
	}
	m.CircuitRejections.WithLabelValues(provider).Inc()
	m.CircuitOpen.WithLabelValues(provider).Set(1)
}

// RecordCoalesced records a caller that shared an in-flight call.
func (m *Metrics) RecordCoalesced(scope string) {
	if m == nil {
		return
	}
	m.CoalescedRequests.WithLabelValues(scope).Inc()
}

// RecordCacheLookup records a freshness cache lookup result.
func (m *Metrics) RecordCacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordAbstractResolution records where a hydrated abstract came from.
func (m *Metrics) RecordAbstractResolution(provenance string) {
	if m == nil {
		return
	}
	m.AbstractResolutions.WithLabelValues(provenance).Inc()
}

// RecordExtractionTier records which parsing tier produced candidates.
func (m *Metrics) RecordExtractionTier(tier string) {
	if m == nil {
		return
	}
	m.ExtractionTiers.WithLabelValues(tier).Inc()
}

// RecordCandidatesResolved records count candidates with the given enrichment outcome.
func (m *Metrics) RecordCandidatesResolved(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.CandidatesResolved.WithLabelValues(outcome).Add(float64(count))
}

// RecordPersistenceFailure records a datastore write failure.
func (m *Metrics) RecordPersistenceFailure(op string) {
	if m == nil {
		return
	}
	m.PersistenceFailures.WithLabelValues(op).Inc()
}

// RecordLLMRequest records a generative provider call.
func (m *Metrics) RecordLLMRequest(provider, model, outcome string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(provider, model, outcome).Inc()
	m.LLMTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	m.LLMTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

// RecordHTTPRequest records a served API request.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code == 429:
		return "429"
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
