package featureflags

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mirrorbuddy/reliability/internal/provider/resilience"
)

// WriteFunc is a single durable-store write.
type WriteFunc func(ctx context.Context, repo Repository) error

type writeTask struct {
	key   string
	write WriteFunc
}

// OutboxConfig holds configuration for the persistence outbox.
type OutboxConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// Capacity bounds the number of pending writes. Default: 256
	Capacity int

	// Policy wraps every write in retries and a circuit breaker.
	// If nil, uses resilience.DefaultPolicyConfig("feature-flag-store").
	Policy *resilience.PolicyConfig

	// DrainTimeout bounds how long Close spends flushing pending writes.
	// Default: 5 seconds
	DrainTimeout time.Duration
}

// Outbox is a bounded queue of durable-store writes drained by one background
// goroutine. Callers never wait on the store: Enqueue returns immediately and
// failures are only logged. Pending writes for the same key are coalesced so
// the store always receives the latest state.
type Outbox struct {
	repo         Repository
	logger       zerolog.Logger
	policy       *resilience.Policy
	capacity     int
	drainTimeout time.Duration

	mu       sync.Mutex
	queue    []writeTask
	inflight int
	closed   bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewOutbox creates an outbox and starts its worker.
func NewOutbox(cfg OutboxConfig) *Outbox {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 256
	}
	drainTimeout := cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Second
	}

	policyCfg := resilience.DefaultPolicyConfig("feature-flag-store")
	if cfg.Policy != nil {
		policyCfg = *cfg.Policy
	}
	if policyCfg.CircuitBreaker.OnStateChange == nil {
		policyCfg.CircuitBreaker.OnStateChange = resilience.LogStateChange(cfg.Logger)
	}

	o := &Outbox{
		repo:         cfg.Repository,
		logger:       cfg.Logger,
		policy:       resilience.NewPolicy(policyCfg),
		capacity:     capacity,
		drainTimeout: drainTimeout,
		wake:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go o.run()
	return o
}

// Enqueue schedules a write. It reports false when the write was dropped
// because the outbox is full or closed.
func (o *Outbox) Enqueue(key string, write WriteFunc) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.logger.Error().Str("key", key).Msg("outbox closed, dropping store write")
		return false
	}

	for i := range o.queue {
		if o.queue[i].key == key {
			o.queue[i].write = write
			o.mu.Unlock()
			o.signal()
			return true
		}
	}

	if len(o.queue) >= o.capacity {
		o.mu.Unlock()
		o.logger.Error().
			Str("key", key).
			Int("capacity", o.capacity).
			Msg("outbox full, dropping store write")
		return false
	}

	o.queue = append(o.queue, writeTask{key: key, write: write})
	o.mu.Unlock()
	o.signal()
	return true
}

// Pending returns the number of queued or in-flight writes.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue) + o.inflight
}

// Flush blocks until every pending write has been attempted or ctx is done.
func (o *Outbox) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for o.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops accepting writes, attempts the remaining ones within the drain
// timeout, and stops the worker.
func (o *Outbox) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	close(o.stop)
	<-o.done
}

func (o *Outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Outbox) run() {
	defer close(o.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-o.wake:
			o.drain(ctx)
		case <-o.stop:
			drainCtx, drainCancel := context.WithTimeout(context.Background(), o.drainTimeout)
			o.drain(drainCtx)
			drainCancel()
			return
		}
	}
}

func (o *Outbox) drain(ctx context.Context) {
	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		task := o.queue[0]
		o.queue = o.queue[1:]
		o.inflight++
		o.mu.Unlock()

		o.execute(ctx, task)

		o.mu.Lock()
		o.inflight--
		o.mu.Unlock()
	}
}

func (o *Outbox) execute(ctx context.Context, task writeTask) {
	err := o.policy.Run(ctx, func(ctx context.Context) error {
		return task.write(ctx, o.repo)
	})
	if err != nil {
		o.logger.Error().
			Err(err).
			Str("key", task.key).
			Msg("failed to persist feature flag change")
	}
}
