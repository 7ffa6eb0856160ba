package featureflags

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RegistryConfig holds configuration for the flag registry.
type RegistryConfig struct {
	// Repository is the durable store. Nil keeps the registry purely in memory.
	Repository Repository

	// Outbox carries cache changes to the repository. If nil and a Repository is
	// set, the registry creates and owns one.
	Outbox *Outbox

	Logger zerolog.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Registry owns the canonical in-memory view of every feature flag and the
// global kill switch. The cache is authoritative: writes land in memory first
// and reach the store asynchronously, so the two can diverge until a write
// lands or Reload is called.
type Registry struct {
	repo       Repository
	outbox     *Outbox
	ownsOutbox bool
	logger     zerolog.Logger
	now        func() time.Time

	// initMu serializes Initialize and Reload; store I/O happens outside mu.
	initMu      sync.Mutex
	initialized bool

	mu     sync.RWMutex
	flags  map[FeatureID]*Flag
	global GlobalConfig
}

// NewRegistry creates a registry seeded with the default flags.
func NewRegistry(cfg RegistryConfig) *Registry {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	r := &Registry{
		repo:   cfg.Repository,
		outbox: cfg.Outbox,
		logger: cfg.Logger,
		now:    now,
	}
	if r.outbox == nil && r.repo != nil {
		r.outbox = NewOutbox(OutboxConfig{Repository: r.repo, Logger: cfg.Logger})
		r.ownsOutbox = true
	}

	r.flags = r.defaults()
	return r
}

// Initialize loads flags and the global config from the store, seeding a default
// row for every known feature the store lacks. If the store is unreachable the
// registry falls back to defaults and stays fully usable. Calling it again is a
// no-op; use Reload to pick up out-of-process changes.
func (r *Registry) Initialize(ctx context.Context) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	if r.initialized {
		return nil
	}
	return r.initializeLocked(ctx)
}

// Reload discards the cache and re-runs initialization against the store.
func (r *Registry) Reload(ctx context.Context) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()

	r.initialized = false
	return r.initializeLocked(ctx)
}

func (r *Registry) initializeLocked(ctx context.Context) error {
	flags, global, err := r.load(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.logger.Warn().Err(err).Msg("failed to load feature flags from store, using defaults")
		flags = r.defaults()
		global = GlobalConfig{}
	}

	r.mu.Lock()
	r.flags = flags
	r.global = global
	r.mu.Unlock()

	r.initialized = true
	r.logger.Info().Int("flags", len(flags)).Bool("global_kill_switch", global.KillSwitch).Msg("feature flags initialized")
	return nil
}

func (r *Registry) defaults() map[FeatureID]*Flag {
	return DefaultFlags(r.now())
}

func (r *Registry) load(ctx context.Context) (map[FeatureID]*Flag, GlobalConfig, error) {
	if r.repo == nil {
		return r.defaults(), GlobalConfig{}, nil
	}

	stored, err := r.repo.GetAllFlags(ctx)
	if err != nil {
		return nil, GlobalConfig{}, err
	}

	flags := make(map[FeatureID]*Flag, len(knownFeatures))
	for _, f := range stored {
		if !f.ID.Valid() {
			r.logger.Warn().Str("flag", string(f.ID)).Msg("ignoring unknown feature flag in store")
			continue
		}
		f.EnabledPercentage = ClampPercentage(f.EnabledPercentage)
		if !f.Status.Valid() {
			f.Status = StatusEnabled
		}
		if f.Metadata == nil {
			f.Metadata = map[string]string{}
		}
		flags[f.ID] = f
	}

	now := r.now()
	for _, id := range knownFeatures {
		if _, ok := flags[id]; ok {
			continue
		}
		def := DefaultFlag(id, now)
		if err := r.repo.CreateFlag(ctx, def); err != nil {
			return nil, GlobalConfig{}, err
		}
		flags[id] = def
	}

	global, err := r.repo.GetGlobalConfig(ctx)
	switch {
	case errors.Is(err, ErrGlobalConfigNotFound):
		global = &GlobalConfig{UpdatedAt: now, UpdatedBy: "system"}
		if err := r.repo.UpsertGlobalConfig(ctx, global); err != nil {
			return nil, GlobalConfig{}, err
		}
	case err != nil:
		return nil, GlobalConfig{}, err
	}

	return flags, *global, nil
}

// IsFeatureEnabled evaluates a feature for an optional user. An empty userID
// skips percentage rollout: anonymous callers see partially rolled out
// features as enabled.
func (r *Registry) IsFeatureEnabled(id FeatureID, userID string) Evaluation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flag, ok := r.flags[id]
	if !ok {
		r.logger.Warn().Str("flag", string(id)).Msg("unknown feature flag")
		return Evaluation{Enabled: false, Reason: ReasonDisabled}
	}

	reason := r.reason(flag, userID)
	return Evaluation{
		Enabled: reason == ReasonEnabled || reason == ReasonDegraded,
		Reason:  reason,
		Flag:    flag.Clone(),
	}
}

// reason applies the evaluation order; the first matching rule wins.
func (r *Registry) reason(flag *Flag, userID string) Reason {
	switch {
	case r.global.KillSwitch, flag.KillSwitch:
		return ReasonKillSwitch
	case flag.Status == StatusDisabled:
		return ReasonDisabled
	case flag.Status == StatusDegraded:
		return ReasonDegraded
	case flag.EnabledPercentage < 100 && userID != "":
		if Bucket(userID, flag.ID) >= flag.EnabledPercentage {
			return ReasonPercentageRollout
		}
		return ReasonEnabled
	default:
		return ReasonEnabled
	}
}

// UpdateFlag merges update into the cached flag and schedules a store write.
// It returns the updated flag, or nil if id is unknown.
func (r *Registry) UpdateFlag(id FeatureID, update FlagUpdate) *Flag {
	r.mu.Lock()
	flag, ok := r.flags[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn().Str("flag", string(id)).Msg("cannot update unknown feature flag")
		return nil
	}

	if update.Name != nil {
		flag.Name = *update.Name
	}
	if update.Description != nil {
		flag.Description = *update.Description
	}
	if update.Status != nil {
		if update.Status.Valid() {
			flag.Status = *update.Status
		} else {
			r.logger.Warn().Str("flag", string(id)).Str("status", string(*update.Status)).Msg("ignoring invalid flag status")
		}
	}
	if update.EnabledPercentage != nil {
		flag.EnabledPercentage = ClampPercentage(*update.EnabledPercentage)
	}
	if update.KillSwitch != nil {
		flag.KillSwitch = *update.KillSwitch
	}
	if len(update.Metadata) > 0 {
		if flag.Metadata == nil {
			flag.Metadata = make(map[string]string, len(update.Metadata))
		}
		for k, v := range update.Metadata {
			flag.Metadata[k] = v
		}
	}
	flag.UpdatedBy = update.UpdatedBy
	if flag.UpdatedBy == "" {
		flag.UpdatedBy = "system"
	}
	flag.UpdatedAt = r.now()

	updated := flag.Clone()
	// Queued under r.mu so store writes land in cache order.
	r.persistFlag(updated)
	r.mu.Unlock()

	return updated.Clone()
}

// SetFlagStatus sets the nominal status of a flag.
func (r *Registry) SetFlagStatus(id FeatureID, status Status, updatedBy string) *Flag {
	return r.UpdateFlag(id, FlagUpdate{Status: &status, UpdatedBy: updatedBy})
}

// ActivateKillSwitch forces a feature off regardless of status or rollout.
func (r *Registry) ActivateKillSwitch(id FeatureID, reason, updatedBy string) *Flag {
	on := true
	flag := r.UpdateFlag(id, FlagUpdate{
		KillSwitch: &on,
		Metadata:   map[string]string{MetadataKillSwitchReason: reason},
		UpdatedBy:  updatedBy,
	})
	if flag != nil {
		r.logger.Warn().
			Str("flag", string(id)).
			Str("reason", reason).
			Str("updated_by", flag.UpdatedBy).
			Msg("kill switch activated")
	}
	return flag
}

// DeactivateKillSwitch lifts a feature's kill switch.
func (r *Registry) DeactivateKillSwitch(id FeatureID, reason, updatedBy string) *Flag {
	off := false
	flag := r.UpdateFlag(id, FlagUpdate{
		KillSwitch: &off,
		Metadata:   map[string]string{MetadataKillSwitchReason: reason},
		UpdatedBy:  updatedBy,
	})
	if flag != nil {
		r.logger.Info().
			Str("flag", string(id)).
			Str("reason", reason).
			Str("updated_by", flag.UpdatedBy).
			Msg("kill switch deactivated")
	}
	return flag
}

// SetGlobalKillSwitch turns the global kill switch on or off.
func (r *Registry) SetGlobalKillSwitch(enabled bool, reason, updatedBy string) GlobalConfig {
	if updatedBy == "" {
		updatedBy = "system"
	}

	r.mu.Lock()
	r.global = GlobalConfig{
		KillSwitch:       enabled,
		KillSwitchReason: reason,
		UpdatedAt:        r.now(),
		UpdatedBy:        updatedBy,
	}
	global := r.global
	if r.outbox != nil {
		r.outbox.Enqueue("global", func(ctx context.Context, repo Repository) error {
			return repo.UpsertGlobalConfig(ctx, &global)
		})
	}
	r.mu.Unlock()

	event := r.logger.Info()
	if enabled {
		event = r.logger.Warn()
	}
	event.Bool("enabled", enabled).Str("reason", reason).Str("updated_by", updatedBy).Msg("global kill switch changed")

	return global
}

// IsGlobalKillSwitchActive reports whether the global kill switch is on.
func (r *Registry) IsGlobalKillSwitchActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.global.KillSwitch
}

// GlobalConfig returns the current global config.
func (r *Registry) GlobalConfig() GlobalConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.global
}

// GetAllFlags returns copies of every flag in known-feature order.
func (r *Registry) GetAllFlags() []*Flag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flags := make([]*Flag, 0, len(r.flags))
	for _, id := range knownFeatures {
		if f, ok := r.flags[id]; ok {
			flags = append(flags, f.Clone())
		}
	}
	return flags
}

// GetFlag returns a copy of a single flag.
func (r *Registry) GetFlag(id FeatureID) (*Flag, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.flags[id]
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

// Flush waits for pending store writes. Mostly useful in tests and at shutdown.
func (r *Registry) Flush(ctx context.Context) error {
	if r.outbox == nil {
		return nil
	}
	return r.outbox.Flush(ctx)
}

// Close stops the registry's outbox if the registry created it.
func (r *Registry) Close() {
	if r.ownsOutbox {
		r.outbox.Close()
	}
}

func (r *Registry) persistFlag(flag *Flag) {
	if r.outbox == nil {
		return
	}
	r.outbox.Enqueue("flag:"+string(flag.ID), func(ctx context.Context, repo Repository) error {
		return repo.UpsertFlag(ctx, flag)
	})
}
