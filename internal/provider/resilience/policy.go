package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// PolicyConfig configures a Policy.
type PolicyConfig struct {
	// MaxRetries is the maximum number of retry attempts after the first call.
	// Default: 3
	MaxRetries uint64

	// InitialInterval is the initial retry backoff interval.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval is the maximum retry backoff interval.
	// Default: 5 seconds
	MaxInterval time.Duration

	// AttemptTimeout bounds each individual attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration

	// CircuitBreaker configures the breaker guarding the operation.
	CircuitBreaker CircuitBreakerConfig
}

// DefaultPolicyConfig returns sensible defaults for a named policy.
func DefaultPolicyConfig(name string) PolicyConfig {
	return PolicyConfig{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		AttemptTimeout:  5 * time.Second,
		CircuitBreaker:  DefaultCircuitBreakerConfig(name),
	}
}

// retryConfig is the bounded exponential backoff shared by Policy and Client.
type retryConfig struct {
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
}

func newRetryConfig(maxRetries uint64, initial, maxInterval time.Duration) retryConfig {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if maxInterval <= 0 {
		maxInterval = 5 * time.Second
	}
	return retryConfig{maxRetries: maxRetries, initialInterval: initial, maxInterval: maxInterval}
}

// run calls op until it succeeds, returns a permanent error, the retry budget
// is spent or ctx is done.
func (r retryConfig) run(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initialInterval
	bo.MaxInterval = r.maxInterval
	bo.MaxElapsedTime = 0 // bounded by maxRetries instead

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx))
}

// Policy runs operations behind a circuit breaker with bounded exponential retry.
type Policy struct {
	breaker        *gobreaker.CircuitBreaker[struct{}]
	retry          retryConfig
	attemptTimeout time.Duration
}

// NewPolicy creates a new Policy.
func NewPolicy(cfg PolicyConfig) *Policy {
	return &Policy{
		breaker:        NewCircuitBreaker[struct{}](cfg.CircuitBreaker),
		retry:          newRetryConfig(cfg.MaxRetries, cfg.InitialInterval, cfg.MaxInterval),
		attemptTimeout: cfg.AttemptTimeout,
	}
}

// Run executes op until it succeeds, retries are exhausted, the breaker opens,
// or ctx is done. ErrCircuitOpen is returned without retrying when the breaker
// rejects the call.
func (p *Policy) Run(ctx context.Context, op func(ctx context.Context) error) error {
	return p.retry.run(ctx, func() error {
		_, err := p.breaker.Execute(func() (struct{}, error) {
			attemptCtx := ctx
			if p.attemptTimeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, p.attemptTimeout)
				defer cancel()
			}
			return struct{}{}, op(attemptCtx)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(ErrCircuitOpen)
		}
		return err
	})
}

// State returns the current state of the policy's circuit breaker.
func (p *Policy) State() gobreaker.State {
	return p.breaker.State()
}
