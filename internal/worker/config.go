// Package worker runs the background health probing that feeds the
// degradation engine, in-process or across processes over Pub/Sub.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mirrorbuddy/reliability/internal/health"
)

// ProbeTarget is one dependency endpoint to poll.
type ProbeTarget struct {
	// Service is the health identity observations are recorded under.
	Service health.ServiceID `mapstructure:"service"`

	// URL is fetched with GET; any status below 400 is healthy.
	URL string `mapstructure:"url"`

	// Check replaces the HTTP probe when set; a nil error is healthy.
	Check func(ctx context.Context) error `mapstructure:"-"`

	// Interval between probes. Zero uses ProbeConfig.Interval.
	Interval time.Duration `mapstructure:"interval"`
}

// ProbeConfig holds configuration for the prober.
type ProbeConfig struct {
	Targets []ProbeTarget

	// Interval is the default probe interval.
	// Default: 30 seconds
	Interval time.Duration

	// Timeout bounds a single probe including retries.
	// Default: 5 seconds
	Timeout time.Duration

	// Concurrency is the number of probes run at once by RunOnce.
	// Default: 4
	Concurrency int

	// MaxRetries is the retry budget of each probe.
	// Default: 1
	MaxRetries uint64
}

// DefaultProbeConfig returns the default probe configuration with no targets.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		Concurrency: 4,
		MaxRetries:  1,
	}
}

// Validate checks every target and reports all problems at once.
func (c ProbeConfig) Validate() error {
	var errs []error
	seen := make(map[health.ServiceID]bool)
	for i, t := range c.Targets {
		if t.Service == "" {
			errs = append(errs, fmt.Errorf("target %d: service is required", i))
		}
		if t.URL == "" && t.Check == nil {
			errs = append(errs, fmt.Errorf("target %d: url is required", i))
		}
		if t.Interval < 0 {
			errs = append(errs, fmt.Errorf("target %d: interval must not be negative", i))
		}
		if seen[t.Service] {
			errs = append(errs, fmt.Errorf("target %d: duplicate service %q", i, t.Service))
		}
		seen[t.Service] = true
	}
	return errors.Join(errs...)
}

func (c ProbeConfig) withDefaults() ProbeConfig {
	d := DefaultProbeConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	return c
}

func (c ProbeConfig) intervalFor(t ProbeTarget) time.Duration {
	if t.Interval > 0 {
		return t.Interval
	}
	return c.Interval
}
