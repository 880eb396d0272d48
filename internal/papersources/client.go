package papersources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/coalesce"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/governor"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/observability"
)

const (
	// maxResponseBytes bounds how much of a provider response is read.
	maxResponseBytes = 10 << 20

	retryReasonRateLimited = "rate_limited"
	retryReasonTransient   = "transient"
)

// ClientConfig configures a resilient provider client.
type ClientConfig struct {
	// Name identifies the provider in errors, logs and metrics.
	Name string

	// Timeout is the per-attempt HTTP timeout.
	Timeout time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g., "x-api-key").
	// When empty the key is not sent as a header; providers that take the key
	// as a query parameter add it themselves.
	APIKeyHeader string

	// RateLimit is the token bucket rate in requests per second.
	RateLimit float64

	// Burst is the token bucket burst size.
	Burst int

	// TransientRetries is the total number of attempts on network errors and 5xx.
	TransientRetries int

	// TransientDelay is the linear delay step between transient attempts.
	TransientDelay time.Duration

	// RateLimitRetries is the maximum number of rate-limited (429/403) attempts.
	RateLimitRetries int

	// RateLimitMaxDelay caps a server-provided Retry-After.
	RateLimitMaxDelay time.Duration
}

func (c *ClientConfig) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "literature-resolver/1.0"
	}
	if c.RateLimit == 0 {
		c.RateLimit = 10
	}
	if c.Burst == 0 {
		c.Burst = 1
	}
	if c.TransientRetries == 0 {
		c.TransientRetries = 3
	}
	if c.TransientDelay == 0 {
		c.TransientDelay = time.Second
	}
	if c.RateLimitRetries == 0 {
		c.RateLimitRetries = 5
	}
	if c.RateLimitMaxDelay == 0 {
		c.RateLimitMaxDelay = 30 * time.Second
	}
}

// RequestFunc builds a fresh request for each attempt.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Response is a fully read provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Attempts is the number of HTTP attempts it took.
	Attempts int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithCoalescer shares in-flight calls made through DoCoalesced.
func WithCoalescer(g *coalesce.Group) ClientOption {
	return func(c *Client) { c.coalescer = g }
}

// WithClientLogger attaches a logger.
func WithClientLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithClientMetrics attaches Prometheus metrics.
func WithClientMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// Client issues governed, retried HTTP calls to a single provider.
// It is safe for concurrent use.
type Client struct {
	cfg       ClientConfig
	http      *http.Client
	limiter   *RateLimiter
	governor  *governor.Governor
	coalescer *coalesce.Group
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// NewClient creates a Client. Every attempt is admitted by gov first.
func NewClient(cfg ClientConfig, gov *governor.Governor, opts ...ClientOption) *Client {
	cfg.applyDefaults()
	c := &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		limiter:  NewRateLimiter(cfg.RateLimit, cfg.Burst),
		governor: gov,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "papersources").Str("provider", cfg.Name).Logger()
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Authenticated reports whether requests carry an API key.
func (c *Client) Authenticated() bool {
	return c.cfg.APIKey != ""
}

// APIKey returns the configured API key.
func (c *Client) APIKey() string {
	return c.cfg.APIKey
}

// Do performs one logical call. Each attempt is admitted by the governor and
// the token bucket; the outcome feeds the circuit breaker:
//
//   - 2xx and 404 close the circuit; 404 returns *domain.NotFoundError.
//   - 429 and 403 are retried with the governor's backoff (or Retry-After)
//     up to RateLimitRetries attempts, then *domain.RateLimitError.
//   - 5xx and network errors are retried with a linearly growing delay up to
//     TransientRetries attempts, then *domain.TransientError.
//   - Any other status returns *domain.ExternalAPIError without retry.
func (c *Client) Do(ctx context.Context, endpoint string, build RequestFunc) (*Response, error) {
	var rateLimited, transient int

	for attempt := 1; ; attempt++ {
		if err := c.governor.Admit(ctx); err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", c.cfg.Name, err)
		}
		c.setHeaders(req)

		start := time.Now()
		var resp *Response
		httpResp, err := c.http.Do(req)
		if err == nil {
			resp, err = c.readResponse(httpResp)
		}
		elapsed := time.Since(start).Seconds()

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.metrics.RecordProviderRequest(c.cfg.Name, endpoint, 0, elapsed)
			c.governor.RecordFailure(ctx)

			transient++
			if transient >= c.cfg.TransientRetries {
				return nil, domain.NewTransientError(c.cfg.Name, 0, attempt, err)
			}
			if err := c.backoffTransient(ctx, endpoint, transient, 0, err); err != nil {
				return nil, err
			}
			continue
		}

		status := resp.StatusCode
		c.metrics.RecordProviderRequest(c.cfg.Name, endpoint, status, elapsed)

		switch {
		case status >= 200 && status < 300:
			c.governor.RecordSuccess(ctx)
			resp.Attempts = attempt
			return resp, nil

		case status == http.StatusNotFound:
			c.governor.RecordSuccess(ctx)
			return nil, domain.NewNotFoundError(c.cfg.Name+" "+endpoint, req.URL.Path)

		case status == http.StatusTooManyRequests || status == http.StatusForbidden:
			c.governor.RecordFailure(ctx)
			c.metrics.RecordProviderRateLimited(c.cfg.Name)

			rateLimited++
			delay := c.rateLimitDelay(resp.Header, rateLimited)
			if rateLimited >= c.cfg.RateLimitRetries {
				return nil, domain.NewRateLimitError(c.cfg.Name, delay, rateLimited)
			}

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", status).
				Int("attempt", rateLimited).
				Dur("delay", delay).
				Msg("rate limited, backing off")
			c.metrics.RecordProviderRetry(c.cfg.Name, retryReasonRateLimited)
			if err := c.governor.Sleep(ctx, delay); err != nil {
				return nil, err
			}

		case status >= 500:
			c.governor.RecordFailure(ctx)

			transient++
			cause := fmt.Errorf("server returned status %d", status)
			if transient >= c.cfg.TransientRetries {
				return nil, domain.NewTransientError(c.cfg.Name, status, attempt, cause)
			}
			if err := c.backoffTransient(ctx, endpoint, transient, status, cause); err != nil {
				return nil, err
			}

		default:
			c.governor.RecordFailure(ctx)
			return nil, domain.NewExternalAPIError(c.cfg.Name, status, snippet(resp.Body), nil)
		}
	}
}

// DoCoalesced performs the call through the coalescer, so concurrent calls
// with the same key share one request.
func (c *Client) DoCoalesced(ctx context.Context, key, endpoint string, build RequestFunc) (*Response, error) {
	if c.coalescer == nil {
		return c.Do(ctx, endpoint, build)
	}
	resp, shared, err := coalesce.Do(ctx, c.coalescer, c.cfg.Name+"|"+endpoint+"|"+key, func(ctx context.Context) (*Response, error) {
		return c.Do(ctx, endpoint, build)
	})
	if shared {
		c.logger.Debug().Str("endpoint", endpoint).Str("key", key).Msg("joined in-flight request")
	}
	return resp, err
}

func (c *Client) setHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if c.cfg.APIKey != "" && c.cfg.APIKeyHeader != "" {
		req.Header.Set(c.cfg.APIKeyHeader, c.cfg.APIKey)
	}
}

func (c *Client) readResponse(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) backoffTransient(ctx context.Context, endpoint string, attempt, status int, cause error) error {
	delay := c.cfg.TransientDelay * time.Duration(attempt)
	c.logger.Warn().
		Err(cause).
		Str("endpoint", endpoint).
		Int("status", status).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("transient provider failure, retrying")
	c.metrics.RecordProviderRetry(c.cfg.Name, retryReasonTransient)
	return c.governor.Sleep(ctx, delay)
}

// rateLimitDelay honors Retry-After (seconds or HTTP date) capped at
// RateLimitMaxDelay, otherwise uses the governor's jittered backoff.
func (c *Client) rateLimitDelay(header http.Header, attempt int) time.Duration {
	if d, ok := parseRetryAfter(header.Get("Retry-After"), time.Now()); ok {
		if d > c.cfg.RateLimitMaxDelay {
			d = c.cfg.RateLimitMaxDelay
		}
		return d
	}
	return c.governor.RateLimitBackoff(attempt)
}

func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second, true
		}
		return 0, false
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d, true
		}
	}
	return 0, false
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}

// DecodeJSON unmarshals a provider payload, reporting failures as
// *domain.MalformedResponseError.
func DecodeJSON(body []byte, v any, source string) error {
	if len(body) == 0 {
		return domain.NewMalformedResponseError(source, errors.New("empty body"))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return domain.NewMalformedResponseError(source, err)
	}
	return nil
}
