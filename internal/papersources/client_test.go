package papersources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Michael4343/synapse-v0.1-sub001/internal/coalesce"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/domain"
	"github.com/Michael4343/synapse-v0.1-sub001/internal/governor"
)

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

func newTestGovernor(name string, sleeper *sleepRecorder) *governor.Governor {
	cfg := governor.DefaultConfig(name)
	cfg.BaseSpacing = 0
	cfg.SpacingJitter = 0
	cfg.AdmissionJitter = 0
	return governor.New(cfg, governor.NewMemoryStore(),
		governor.WithSleeper(sleeper.Sleep),
		governor.WithRand(func() float64 { return 0.5 }),
	)
}

func newTestClient(cfg ClientConfig, opts ...ClientOption) (*Client, *sleepRecorder) {
	if cfg.Name == "" {
		cfg.Name = "test"
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1000
		cfg.Burst = 100
	}
	sleeper := &sleepRecorder{}
	return NewClient(cfg, newTestGovernor(cfg.Name, sleeper), opts...), sleeper
}

func getRequest(url string) RequestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	}
}

func TestClient_Do_Success(t *testing.T) {
	var gotUA, gotKey, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotKey = r.Header.Get("x-api-key")
		gotAccept = r.Header.Get("Accept")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client, sleeper := newTestClient(ClientConfig{APIKey: "secret", APIKeyHeader: "x-api-key"})

	resp, err := client.Do(context.Background(), "search", getRequest(server.URL))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, "literature-resolver/1.0", gotUA)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "application/json", gotAccept)
	assert.Empty(t, sleeper.Sleeps())
	assert.True(t, client.Authenticated())
}

func TestClient_Do_RateLimited(t *testing.T) {
	t.Run("retries after Retry-After then succeeds", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client, sleeper := newTestClient(ClientConfig{})

		resp, err := client.Do(context.Background(), "search", getRequest(server.URL))
		require.NoError(t, err)
		assert.Equal(t, 2, resp.Attempts)
		assert.Equal(t, []time.Duration{3 * time.Second}, sleeper.Sleeps())
	})

	t.Run("uses exponential backoff without Retry-After", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client, sleeper := newTestClient(ClientConfig{})

		_, err := client.Do(context.Background(), "search", getRequest(server.URL))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrRateLimited))

		var rlErr *domain.RateLimitError
		require.ErrorAs(t, err, &rlErr)
		assert.Equal(t, 5, rlErr.Attempts)
		assert.Equal(t, int32(5), hits.Load())
		assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, sleeper.Sleeps())
	})

	t.Run("403 is treated as rate limiting", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client, _ := newTestClient(ClientConfig{})

		resp, err := client.Do(context.Background(), "batch", getRequest(server.URL))
		require.NoError(t, err)
		assert.Equal(t, 2, resp.Attempts)
	})

	t.Run("Retry-After is capped", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.Header().Set("Retry-After", "3600")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client, sleeper := newTestClient(ClientConfig{RateLimitMaxDelay: 10 * time.Second})

		_, err := client.Do(context.Background(), "search", getRequest(server.URL))
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{10 * time.Second}, sleeper.Sleeps())
	})
}

func TestClient_Do_Transient(t *testing.T) {
	t.Run("retries 5xx with linear delay then succeeds", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client, sleeper := newTestClient(ClientConfig{TransientDelay: 100 * time.Millisecond})

		resp, err := client.Do(context.Background(), "search", getRequest(server.URL))
		require.NoError(t, err)
		assert.Equal(t, 3, resp.Attempts)
		assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.Sleeps())
	})

	t.Run("surfaces TransientError once attempts are exhausted", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		client, _ := newTestClient(ClientConfig{})

		_, err := client.Do(context.Background(), "search", getRequest(server.URL))
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrTransientNetwork))

		var tErr *domain.TransientError
		require.ErrorAs(t, err, &tErr)
		assert.Equal(t, http.StatusServiceUnavailable, tErr.StatusCode)
		assert.Equal(t, 3, tErr.Attempts)
		assert.Equal(t, int32(3), hits.Load())
	})

	t.Run("network errors are transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		client, _ := newTestClient(ClientConfig{TransientRetries: 2})

		_, err := client.Do(context.Background(), "search", getRequest(url))
		require.Error(t, err)

		var tErr *domain.TransientError
		require.ErrorAs(t, err, &tErr)
		assert.Equal(t, 0, tErr.StatusCode)
		assert.Equal(t, 2, tErr.Attempts)
	})
}

func TestClient_Do_NonRetryable(t *testing.T) {
	t.Run("4xx is not retried", func(t *testing.T) {
		var hits atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad fields"}`))
		}))
		defer server.Close()

		client, _ := newTestClient(ClientConfig{})

		_, err := client.Do(context.Background(), "search", getRequest(server.URL))
		var apiErr *domain.ExternalAPIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
		assert.Contains(t, apiErr.Message, "bad fields")
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("404 is not found and keeps the circuit closed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client, _ := newTestClient(ClientConfig{})

		for i := 0; i < 6; i++ {
			_, err := client.Do(context.Background(), "works", getRequest(server.URL+"/works/10.1/x"))
			assert.True(t, errors.Is(err, domain.ErrNotFound))
		}

		snap, err := client.governor.State(context.Background())
		require.NoError(t, err)
		assert.False(t, snap.Open)
	})
}

func TestClient_Do_CircuitOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, _ := newTestClient(ClientConfig{})
	ctx := context.Background()

	_, err := client.Do(ctx, "search", getRequest(server.URL))
	assert.True(t, errors.Is(err, domain.ErrTransientNetwork))

	_, err = client.Do(ctx, "search", getRequest(server.URL))
	assert.True(t, errors.Is(err, domain.ErrCircuitOpen))
	assert.Equal(t, int32(5), hits.Load())

	_, err = client.Do(ctx, "search", getRequest(server.URL))
	assert.True(t, errors.Is(err, domain.ErrCircuitOpen))
	assert.Equal(t, int32(5), hits.Load(), "open circuit makes no network attempt")
}

func TestClient_DoCoalesced(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	client, _ := newTestClient(ClientConfig{}, WithCoalescer(coalesce.NewGroup("test", time.Second, nil)))

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.DoCoalesced(context.Background(), "graph neural networks", "search", getRequest(server.URL))
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		value  string
		want   time.Duration
		wantOK bool
	}{
		{"empty", "", 0, false},
		{"seconds", "7", 7 * time.Second, true},
		{"zero seconds", "0", 0, false},
		{"http date", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second, true},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0, false},
		{"garbage", "soon", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseRetryAfter(tt.value, now)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Total int `json:"total"`
	}

	require.NoError(t, DecodeJSON([]byte(`{"total":3}`), &v, "test"))
	assert.Equal(t, 3, v.Total)

	err := DecodeJSON([]byte(`{"total":`), &v, "test")
	assert.True(t, errors.Is(err, domain.ErrMalformedResponse))

	err = DecodeJSON(nil, &v, "test")
	assert.True(t, errors.Is(err, domain.ErrMalformedResponse))
}
