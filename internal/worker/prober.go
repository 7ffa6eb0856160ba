package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mirrorbuddy/reliability/internal/health"
	"github.com/mirrorbuddy/reliability/internal/provider/resilience"
)

// Recorder receives health observations. The degradation engine implements
// it in-process; PubSubReporter forwards observations to other processes.
type Recorder interface {
	RecordHealthCheck(service health.ServiceID, healthy bool, latencyMs int64) health.ServiceHealth
}

// Prober polls dependency endpoints and reports each result to a Recorder.
type Prober struct {
	config   ProbeConfig
	recorder Recorder
	logger   zerolog.Logger

	// one client per service so each dependency gets its own breaker
	clients map[health.ServiceID]*resilience.Client

	metrics *ProbeMetrics
}

// ProbeMetrics tracks probe statistics.
type ProbeMetrics struct {
	mu sync.RWMutex

	TotalProbes     int64
	HealthyProbes   int64
	UnhealthyProbes int64
	LastProbeAt     time.Time
}

// ProberConfig holds configuration for creating a Prober.
type ProberConfig struct {
	Config   ProbeConfig
	Recorder Recorder
	Logger   zerolog.Logger
}

// NewProber creates a new prober.
func NewProber(cfg ProberConfig) *Prober {
	config := cfg.Config.withDefaults()

	clients := make(map[health.ServiceID]*resilience.Client, len(config.Targets))
	for _, t := range config.Targets {
		clientCfg := resilience.DefaultClientConfig("probe-" + string(t.Service))
		clientCfg.Timeout = config.Timeout
		clientCfg.MaxRetries = config.MaxRetries
		clientCfg.MaxInterval = config.Timeout / 2
		clientCfg.CircuitBreaker.OnStateChange = resilience.LogStateChange(cfg.Logger)
		clients[t.Service] = resilience.NewClient(clientCfg)
	}

	return &Prober{
		config:   config,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		clients:  clients,
		metrics:  &ProbeMetrics{},
	}
}

// Run probes every target on its own interval until ctx is cancelled. Each
// target is probed once immediately.
func (p *Prober) Run(ctx context.Context) {
	p.logger.Info().
		Int("targets", len(p.config.Targets)).
		Dur("default_interval", p.config.Interval).
		Msg("starting health prober")

	var wg sync.WaitGroup
	for _, t := range p.config.Targets {
		wg.Add(1)
		go func(t ProbeTarget) {
			defer wg.Done()
			p.loop(ctx, t)
		}(t)
	}
	wg.Wait()

	p.logger.Info().Msg("health prober stopped")
}

func (p *Prober) loop(ctx context.Context, t ProbeTarget) {
	ticker := time.NewTicker(p.config.intervalFor(t))
	defer ticker.Stop()

	for {
		p.CheckOnce(ctx, t)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce probes every target once with bounded concurrency and returns the
// resulting snapshots in target order.
func (p *Prober) RunOnce(ctx context.Context) []health.ServiceHealth {
	results := make([]health.ServiceHealth, len(p.config.Targets))

	indexes := make(chan int, len(p.config.Targets))
	for i := range p.config.Targets {
		indexes <- i
	}
	close(indexes)

	var wg sync.WaitGroup
	for w := 0; w < p.config.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				if ctx.Err() != nil {
					return
				}
				results[i] = p.CheckOnce(ctx, p.config.Targets[i])
			}
		}()
	}
	wg.Wait()

	return results
}

// CheckOnce probes a single target and records the observation. A probe that
// fails, including one rejected by an open circuit, is recorded as unhealthy.
func (p *Prober) CheckOnce(ctx context.Context, t ProbeTarget) health.ServiceHealth {
	probeCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	result := p.probe(probeCtx, t)
	latencyMs := result.Latency.Milliseconds()

	logger := p.logger.With().
		Str("service", string(t.Service)).
		Int64("latency_ms", latencyMs).
		Logger()
	switch {
	case result.Err != nil:
		logger.Warn().Err(result.Err).Msg("health probe failed")
	case !result.Healthy:
		logger.Warn().Int("status", result.StatusCode).Msg("health probe unhealthy")
	default:
		logger.Debug().Int("status", result.StatusCode).Msg("health probe ok")
	}

	p.updateMetrics(result.Healthy)
	return p.recorder.RecordHealthCheck(t.Service, result.Healthy, latencyMs)
}

func (p *Prober) probe(ctx context.Context, t ProbeTarget) resilience.ProbeResult {
	if t.Check != nil {
		start := time.Now()
		err := t.Check(ctx)
		return resilience.ProbeResult{Healthy: err == nil, Latency: time.Since(start), Err: err}
	}

	client, ok := p.clients[t.Service]
	if !ok {
		client = resilience.NewClient(resilience.ClientConfig{
			Name:    "probe-" + string(t.Service),
			Timeout: p.config.Timeout,
		})
	}
	return client.Probe(ctx, t.URL)
}

func (p *Prober) updateMetrics(healthy bool) {
	p.metrics.mu.Lock()
	defer p.metrics.mu.Unlock()

	p.metrics.TotalProbes++
	if healthy {
		p.metrics.HealthyProbes++
	} else {
		p.metrics.UnhealthyProbes++
	}
	p.metrics.LastProbeAt = time.Now()
}

// GetMetrics returns a copy of the current metrics.
func (p *Prober) GetMetrics() ProbeMetrics {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return ProbeMetrics{
		TotalProbes:     p.metrics.TotalProbes,
		HealthyProbes:   p.metrics.HealthyProbes,
		UnhealthyProbes: p.metrics.UnhealthyProbes,
		LastProbeAt:     p.metrics.LastProbeAt,
	}
}
