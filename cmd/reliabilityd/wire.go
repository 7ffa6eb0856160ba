package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/mirrorbuddy/reliability/internal/api"
	"github.com/mirrorbuddy/reliability/internal/api/middleware"
	"github.com/mirrorbuddy/reliability/internal/auth"
	"github.com/mirrorbuddy/reliability/internal/config"
	"github.com/mirrorbuddy/reliability/internal/database"
	"github.com/mirrorbuddy/reliability/internal/degradation"
	"github.com/mirrorbuddy/reliability/internal/featureflags"
	"github.com/mirrorbuddy/reliability/internal/health"
	"github.com/mirrorbuddy/reliability/internal/provider/resilience"
	"github.com/mirrorbuddy/reliability/internal/telemetry"
	"github.com/mirrorbuddy/reliability/internal/worker"
)

// service holds every long-lived component of a serving process.
type service struct {
	cfg    *config.Config
	logger zerolog.Logger

	registry   *featureflags.Registry
	engine     *degradation.Engine
	prober     *worker.Prober
	subscriber *worker.PubSubHandler
	server     *http.Server

	// closers run in reverse order on shutdown.
	closers []func(context.Context) error
}

func (s *service) onClose(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// newService wires the serving process from cfg. On error everything already
// opened is released.
func newService(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *service, err error) {
	s := &service{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			s.close(context.Background())
		}
	}()

	telemetryCfg := cfg.Telemetry
	telemetryCfg.ServiceName = serviceName
	telemetryCfg.ServiceVersion = Version
	if telemetryCfg.Environment == "" {
		telemetryCfg.Environment = cfg.Environment
	}
	tp, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	s.onClose(tp.Shutdown)
	if tp.Enabled() {
		logger.Info().Str("otlp_endpoint", telemetryCfg.OTLPEndpoint).Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("initializing http metrics: %w", err)
	}

	var probeTargets []worker.ProbeTarget
	repo, err := s.openRepository(ctx, &probeTargets)
	if err != nil {
		return nil, err
	}

	var outbox *featureflags.Outbox
	if repo != nil {
		policy := resilience.DefaultPolicyConfig("feature-flag-store")
		policy.MaxRetries = cfg.Storage.MaxRetries
		outbox = featureflags.NewOutbox(featureflags.OutboxConfig{
			Repository: repo,
			Logger:     logger,
			Capacity:   cfg.Storage.QueueCapacity,
			Policy:     &policy,
		})
		s.onClose(func(context.Context) error {
			outbox.Close()
			return nil
		})
	}

	s.registry = featureflags.NewRegistry(featureflags.RegistryConfig{
		Repository: repo,
		Outbox:     outbox,
		Logger:     logger,
	})
	initCtx, cancelInit := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	initErr := s.registry.Initialize(initCtx)
	cancelInit()
	if initErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Warn().Err(initErr).Msg("feature flag store unavailable, serving defaults")
	}
	logger.Info().
		Str("backend", cfg.Storage.Backend).
		Int("flags", len(s.registry.GetAllFlags())).
		Msg("feature flag registry initialized")

	engineMetrics, err := degradation.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("initializing degradation metrics: %w", err)
	}

	var publisher degradation.Publisher = degradation.NopPublisher{}
	if cfg.PubSub.Enabled && cfg.PubSub.EventsTopic != "" {
		p, err := degradation.NewPubSubPublisher(ctx, degradation.PubSubConfig{
			ProjectID: cfg.PubSub.ProjectID,
			Topic:     cfg.PubSub.EventsTopic,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating degradation event publisher: %w", err)
		}
		s.onClose(func(context.Context) error { return p.Close() })
		publisher = p
		logger.Info().Str("topic", cfg.PubSub.EventsTopic).Msg("publishing degradation events")
	}

	s.engine = degradation.NewEngine(degradation.EngineConfig{
		Flags:         s.registry,
		Monitor:       health.NewMonitor(health.MonitorConfig{}),
		Rules:         cfg.Degradation.EffectiveRules(),
		ServiceMap:    cfg.Degradation.EffectiveServiceMap(),
		Logger:        logger,
		Publisher:     publisher,
		Metrics:       engineMetrics,
		EventCapacity: cfg.Degradation.EventCapacity,
	})

	probeCfg := cfg.Prober.ProbeConfig()
	probeCfg.Targets = append(probeCfg.Targets, probeTargets...)
	if cfg.Prober.Enabled && len(probeCfg.Targets) > 0 {
		s.prober = worker.NewProber(worker.ProberConfig{
			Config:   probeCfg,
			Recorder: s.engine,
			Logger:   logger,
		})
	}

	if cfg.PubSub.Enabled && cfg.PubSub.HealthSubscription != "" {
		h, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.HealthSubscription,
			Recorder:         s.engine,
			Logger:           logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating health subscriber: %w", err)
		}
		s.onClose(func(context.Context) error { return h.Close() })
		s.subscriber = h
	}

	var tokens *auth.TokenService
	if cfg.Auth.SigningKey != "" {
		tokens = auth.NewTokenService(auth.TokenConfig{
			SigningKey: cfg.Auth.SigningKey,
			Issuer:     cfg.Auth.Issuer,
		})
	} else {
		logger.Warn().Msg("auth.signing_key not set - admin routes are unauthenticated")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		Logger:          logger,
		ServiceName:     serviceName,
		Metrics:         httpMetrics,
		Flags:           s.registry,
		Engine:          s.engine,
		Tokens:          tokens,
		PublicRateLimit: cfg.Server.RateLimit,
		RequireTLS:      cfg.Server.RequireTLS,
	})

	s.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// openRepository opens the configured flag store. A nil repository keeps
// flags in memory only. The postgres backend also registers a database probe.
// An unreachable database is not fatal: the registry serves defaults and the
// probe creates the schema once the database answers.
func (s *service) openRepository(ctx context.Context, targets *[]worker.ProbeTarget) (featureflags.Repository, error) {
	switch s.cfg.Storage.Backend {
	case config.BackendPostgres:
		pool, err := database.Connect(ctx, s.cfg.Database, s.logger)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Warn().Err(err).Msg("database unreachable, serving feature flag defaults")
			if pool, err = database.Open(ctx, s.cfg.Database); err != nil {
				return nil, fmt.Errorf("opening database pool: %w", err)
			}
		}
		s.onClose(func(context.Context) error {
			pool.Close()
			return nil
		})

		repo := featureflags.NewPostgresRepository(pool)
		var schemaReady atomic.Bool
		schemaCtx, cancel := context.WithTimeout(ctx, s.cfg.Database.ConnectTimeout)
		err = repo.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).Msg("feature flag schema not ensured, retrying on next database probe")
		} else {
			schemaReady.Store(true)
		}

		ping := database.Check(pool)
		*targets = append(*targets, worker.ProbeTarget{
			Service: health.ServiceDatabase,
			Check: func(ctx context.Context) error {
				if err := ping(ctx); err != nil {
					return err
				}
				if schemaReady.Load() {
					return nil
				}
				if err := repo.EnsureSchema(ctx); err != nil {
					return err
				}
				schemaReady.Store(true)
				s.logger.Info().Msg("feature flag schema ready, reload flags to pick up stored state")
				return nil
			},
		})
		return repo, nil

	case config.BackendBolt:
		repo, err := featureflags.NewBoltRepository(s.cfg.Storage.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("opening bolt store: %w", err)
		}
		s.onClose(func(context.Context) error { return repo.Close() })
		s.logger.Info().Str("path", s.cfg.Storage.BoltPath).Msg("bolt store opened")
		return repo, nil

	default:
		return nil, nil
	}
}

// Run serves until ctx is cancelled or the listener fails, then shuts down.
func (s *service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if s.prober != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.prober.Run(ctx)
		}()
	}
	if s.subscriber != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("health subscriber stopped")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.server.Addr).Msg("server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("shutting down server...")
	case err := <-serveErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("server forced to shutdown")
	}
	cancel()
	wg.Wait()

	if err := s.registry.Flush(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("pending flag writes not flushed")
	}
	s.close(shutdownCtx)

	s.logger.Info().Msg("server stopped")
	return runErr
}

func (s *service) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Error().Err(err).Msg("shutdown step failed")
		}
	}
	s.closers = nil
}
