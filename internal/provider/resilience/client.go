package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when a breaker rejects a call without running it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClientConfig configures a probe client for one dependency.
type ClientConfig struct {
	// Name identifies the dependency in breaker logs.
	Name string

	// Timeout bounds each HTTP attempt.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxRetries is the number of extra attempts after a 5xx or transport error.
	MaxRetries uint64

	// InitialInterval and MaxInterval shape the backoff between attempts.
	// Defaults: 100ms and 5 seconds
	InitialInterval time.Duration
	MaxInterval     time.Duration

	// CircuitBreaker overrides DefaultCircuitBreakerConfig(Name).
	CircuitBreaker *CircuitBreakerConfig
}

// DefaultClientConfig returns the configuration used for health probes.
func DefaultClientConfig(name string) ClientConfig {
	cb := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CircuitBreaker:  &cb,
	}
}

// Client issues HTTP requests to a single dependency behind its own breaker.
// Server errors and transport failures are retried and count against the
// breaker; client errors are returned as-is.
type Client struct {
	name    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	retry   retryConfig
}

// NewClient creates a new Client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cb := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cb = *cfg.CircuitBreaker
	}

	return &Client{
		name:    cfg.Name,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: NewCircuitBreaker[*http.Response](cb), //nolint:bodyclose // type param, not response
		retry:   newRetryConfig(cfg.MaxRetries, cfg.InitialInterval, cfg.MaxInterval),
	}
}

// Name returns the dependency name.
func (c *Client) Name() string {
	return c.name
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

// Do sends req, retrying server errors with backoff. A 5xx that survives every
// retry is returned as a response, not an error, so callers can inspect it.
// ErrCircuitOpen is returned as soon as the breaker rejects an attempt.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var last *http.Response

	keep := func(resp *http.Response) {
		if last != nil {
			last.Body.Close()
		}
		last = resp
	}

	err := c.retry.run(ctx, func() error {
		resp, err := c.breaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // closed by keep or the caller
			r, err := c.http.Do(req.Clone(ctx))
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 {
				return r, &ServerError{StatusCode: r.StatusCode}
			}
			return r, nil
		})
		if resp != nil {
			keep(resp)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		return err
	})

	var serverErr *ServerError
	switch {
	case err == nil:
		return last, nil
	case errors.As(err, &serverErr) && last != nil:
		return last, nil
	default:
		keep(nil)
		return nil, err
	}
}

// ProbeResult is the outcome of one health probe.
type ProbeResult struct {
	Healthy    bool
	StatusCode int
	Latency    time.Duration
	Err        error
}

// Probe issues a GET against url. Any status below 400 is healthy. Latency
// includes retries, so a flapping endpoint reports what a caller would wait.
func (c *Client) Probe(ctx context.Context, url string) ProbeResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return ProbeResult{Err: fmt.Errorf("probe %s: %w", c.name, err)}
	}

	resp, err := c.Do(req)
	latency := time.Since(start)
	if err != nil {
		return ProbeResult{Latency: latency, Err: err}
	}
	defer resp.Body.Close()

	return ProbeResult{
		Healthy:    resp.StatusCode < 400,
		StatusCode: resp.StatusCode,
		Latency:    latency,
	}
}

// ServerError is a 5xx response.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}
