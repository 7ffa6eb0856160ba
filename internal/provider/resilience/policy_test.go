package resilience_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorbuddy/reliability/internal/provider/resilience"
)

func fastPolicy(name string, retries uint64) resilience.PolicyConfig {
	cfg := resilience.DefaultPolicyConfig(name)
	cfg.MaxRetries = retries
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	return cfg
}

func TestPolicy_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	policy := resilience.NewPolicy(fastPolicy("retry", 5))

	err := policy.Run(context.Background(), func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPolicy_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	cfg := fastPolicy("give-up", 2)
	cfg.CircuitBreaker.ReadyToTrip = func(gobreaker.Counts) bool { return false }
	policy := resilience.NewPolicy(cfg)

	sentinel := errors.New("store down")
	err := policy.Run(context.Background(), func(context.Context) error {
		calls.Add(1)
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, int32(3), calls.Load(), "first attempt plus two retries")
}

func TestPolicy_OpenCircuitShortCircuits(t *testing.T) {
	cfg := fastPolicy("trip", 0)
	cfg.CircuitBreaker.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 2
	}
	policy := resilience.NewPolicy(cfg)

	failing := func(context.Context) error { return errors.New("boom") }
	_ = policy.Run(context.Background(), failing)
	_ = policy.Run(context.Background(), failing)
	assert.Equal(t, gobreaker.StateOpen, policy.State())

	var called bool
	err := policy.Run(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.False(t, called)
}

func TestPolicy_AttemptTimeout(t *testing.T) {
	cfg := fastPolicy("timeout", 0)
	cfg.AttemptTimeout = 20 * time.Millisecond
	policy := resilience.NewPolicy(cfg)

	err := policy.Run(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
