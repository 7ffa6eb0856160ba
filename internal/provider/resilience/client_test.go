package resilience_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorbuddy/reliability/internal/provider/resilience"
)

// fastClient retries quickly and never trips unless the test asks it to.
func fastClient(name string, retries uint64, trip func(gobreaker.Counts) bool) *resilience.Client {
	if trip == nil {
		trip = func(gobreaker.Counts) bool { return false }
	}
	cb := resilience.DefaultCircuitBreakerConfig(name)
	cb.ReadyToTrip = trip
	cb.Timeout = time.Second
	return resilience.NewClient(resilience.ClientConfig{
		Name:            name,
		Timeout:         time.Second,
		MaxRetries:      retries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		CircuitBreaker:  &cb,
	})
}

// statusSequence serves the given statuses in order, then repeats the last.
func statusSequence(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(calls.Add(1))
		if n > len(statuses) {
			n = len(statuses)
		}
		w.WriteHeader(statuses[n-1])
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func get(t *testing.T, c *resilience.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	resp, err := c.Do(req)
	if resp != nil {
		t.Cleanup(func() { resp.Body.Close() })
	}
	return resp, err
}

func TestClient_Do(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []int
		retries    uint64
		wantStatus int
		wantCalls  int32
	}{
		{"ok first time", []int{http.StatusOK}, 3, http.StatusOK, 1},
		{"recovers after 5xx", []int{http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusOK}, 5, http.StatusOK, 3},
		{"5xx after retries is a response", []int{http.StatusInternalServerError}, 2, http.StatusInternalServerError, 3},
		{"4xx is not retried", []int{http.StatusNotFound}, 3, http.StatusNotFound, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := statusSequence(t, tt.statuses...)
			resp, err := get(t, fastClient("vector-store", tt.retries, nil), srv.URL)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestClient_BreakerOpensAndShortCircuits(t *testing.T) {
	srv, calls := statusSequence(t, http.StatusInternalServerError)
	client := fastClient("speech", 0, resilience.DefaultReadyToTrip)

	for range 5 {
		_, _ = get(t, client, srv.URL)
	}
	require.Equal(t, gobreaker.StateOpen, client.State())

	_, err := get(t, client, srv.URL)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(5), calls.Load(), "open breaker must not reach the dependency")
}

func TestClient_TimeoutAndCancel(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	t.Run("attempt timeout", func(t *testing.T) {
		client := resilience.NewClient(resilience.ClientConfig{Name: "cache", Timeout: 50 * time.Millisecond})
		_, err := get(t, client, slow.URL)
		assert.Error(t, err)
	})

	t.Run("context cancel", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		result := fastClient("cache", 3, nil).Probe(ctx, slow.URL)
		assert.Error(t, result.Err)
		assert.False(t, result.Healthy)
	})
}

func TestClient_Probe(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantHealthy bool
	}{
		{"no content", http.StatusNoContent, true},
		{"redirect", http.StatusNotModified, true},
		{"client error", http.StatusUnauthorized, false},
		{"server error", http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := statusSequence(t, tt.status)
			result := fastClient("chat-completion", 1, nil).Probe(context.Background(), srv.URL)
			require.NoError(t, result.Err)
			assert.Equal(t, tt.wantHealthy, result.Healthy)
			assert.Equal(t, tt.status, result.StatusCode)
			assert.Positive(t, result.Latency)
		})
	}
}

func TestClient_ProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := resilience.NewClient(resilience.ClientConfig{Name: "object-storage", Timeout: 200 * time.Millisecond})
	result := client.Probe(context.Background(), url)
	assert.Error(t, result.Err)
	assert.False(t, result.Healthy)
	assert.Equal(t, "object-storage", client.Name())
}

func TestDefaults(t *testing.T) {
	cb := resilience.DefaultCircuitBreakerConfig("database")
	assert.Equal(t, "database", cb.Name)
	assert.Equal(t, uint32(1), cb.MaxRequests)
	assert.Equal(t, time.Minute, cb.Timeout)

	client := resilience.DefaultClientConfig("database")
	assert.Equal(t, uint64(3), client.MaxRetries)
	require.NotNil(t, client.CircuitBreaker)
	assert.Equal(t, "database", client.CircuitBreaker.Name)
}

func TestDefaultReadyToTrip(t *testing.T) {
	tests := []struct {
		counts gobreaker.Counts
		want   bool
	}{
		{gobreaker.Counts{}, false},
		{gobreaker.Counts{Requests: 4, TotalFailures: 4}, false},
		{gobreaker.Counts{Requests: 10, TotalFailures: 4}, false},
		{gobreaker.Counts{Requests: 10, TotalFailures: 5}, true},
		{gobreaker.Counts{Requests: 5, TotalFailures: 5}, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, resilience.DefaultReadyToTrip(tt.counts), "%+v", tt.counts)
	}
}

func TestServerError(t *testing.T) {
	err := &resilience.ServerError{StatusCode: http.StatusBadGateway}
	assert.Equal(t, "server error: 502 Bad Gateway", err.Error())
}
