package degradation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mirrorbuddy/reliability/internal/featureflags"
	"github.com/mirrorbuddy/reliability/internal/health"
)

// ErrInvalidBehavior is returned when a rule or manual degrade names an
// unknown fallback behavior.
var ErrInvalidBehavior = errors.New("invalid fallback behavior")

// ErrUnknownFeature is returned when a rule or manual degrade names a feature
// outside the known set.
var ErrUnknownFeature = errors.New("unknown feature")

// actor is recorded as UpdatedBy on flag changes the engine makes.
const actor = "degradation-engine"

// FlagController is the subset of the flag registry the engine drives.
type FlagController interface {
	ActivateKillSwitch(id featureflags.FeatureID, reason, updatedBy string) *featureflags.Flag
	DeactivateKillSwitch(id featureflags.FeatureID, reason, updatedBy string) *featureflags.Flag
	SetFlagStatus(id featureflags.FeatureID, status featureflags.Status, updatedBy string) *featureflags.Flag
}

// EngineConfig holds configuration for the Engine.
type EngineConfig struct {
	Flags   FlagController
	Monitor *health.Monitor

	// Rules are registered at construction. Nil means DefaultRules.
	Rules []Rule
	// ServiceMap maps services to dependent features. Nil means DefaultServiceMap.
	ServiceMap ServiceMap

	Logger    zerolog.Logger
	Publisher Publisher
	Metrics   *Metrics

	// EventCapacity bounds the event log. Default 100.
	EventCapacity int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Engine turns health observations into feature degradations and recoveries.
// All state is in-memory and local to the process.
type Engine struct {
	flags     FlagController
	monitor   *health.Monitor
	logger    zerolog.Logger
	publisher Publisher
	metrics   *Metrics
	now       func() time.Time

	mu         sync.Mutex
	rules      map[featureflags.FeatureID]Rule
	serviceMap ServiceMap
	degraded   map[featureflags.FeatureID]FallbackBehavior
	level      Level
	since      time.Time
	events     *EventLog
}

// NewEngine creates a new Engine.
func NewEngine(cfg EngineConfig) *Engine {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	monitor := cfg.Monitor
	if monitor == nil {
		monitor = health.NewMonitor(health.MonitorConfig{Clock: now})
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = NopPublisher{}
	}
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	serviceMap := cfg.ServiceMap
	if serviceMap == nil {
		serviceMap = DefaultServiceMap()
	}

	e := &Engine{
		flags:      cfg.Flags,
		monitor:    monitor,
		logger:     cfg.Logger,
		publisher:  publisher,
		metrics:    cfg.Metrics,
		now:        now,
		rules:      make(map[featureflags.FeatureID]Rule, len(rules)),
		serviceMap: make(ServiceMap, len(serviceMap)),
		degraded:   make(map[featureflags.FeatureID]FallbackBehavior),
		level:      LevelNone,
		since:      now(),
		events:     NewEventLog(cfg.EventCapacity),
	}
	for service, features := range serviceMap {
		e.serviceMap[service] = slices.Clone(features)
	}
	for _, rule := range rules {
		if err := e.RegisterRule(rule); err != nil {
			e.logger.Warn().Err(err).Str("feature", string(rule.FeatureID)).Msg("skipping degradation rule")
		}
	}
	return e
}

// RecordHealthCheck records a health observation for service and re-evaluates
// every feature that depends on it.
func (e *Engine) RecordHealthCheck(service health.ServiceID, healthy bool, latencyMs int64) health.ServiceHealth {
	snapshot := e.monitor.Record(service, healthy, latencyMs)
	e.metrics.recordHealthCheck(context.Background(), string(service), healthy)

	e.mu.Lock()
	var events []Event
	for _, feature := range e.serviceMap[service] {
		rule, ok := e.rules[feature]
		if !ok {
			continue
		}
		if event := e.evaluateLocked(rule, snapshot); event != nil {
			events = append(events, *event)
		}
	}
	e.mu.Unlock()

	e.emit(events...)
	return snapshot
}

// evaluateLocked applies the transition table for one feature. Once degraded,
// a feature only recovers when no trigger fires and the success rate meets the
// recovery threshold.
func (e *Engine) evaluateLocked(rule Rule, h health.ServiceHealth) *Event {
	t := rule.Thresholds()
	_, degraded := e.degraded[rule.FeatureID]
	triggers := triggered(rule.TriggerConditions.Effective(), h)

	switch {
	case !degraded && len(triggers) > 0:
		reason := fmt.Sprintf("service %s unhealthy: %s", h.ServiceID, strings.Join(triggers, "; "))
		return e.degradeLocked(rule.FeatureID, rule.FallbackBehavior, reason, &h)
	case degraded && len(triggers) == 0 && h.SuccessRate() >= t.MinSuccessRate:
		reason := fmt.Sprintf("service %s recovered: success rate %.3f >= %.3f", h.ServiceID, h.SuccessRate(), t.MinSuccessRate)
		return e.recoverLocked(rule.FeatureID, reason, &h)
	default:
		return nil
	}
}

// triggered describes every condition in c that h breaches.
func triggered(c TriggerConditions, h health.ServiceHealth) []string {
	var out []string
	if c.MaxLatencyMs != nil && h.LatencyMs > *c.MaxLatencyMs {
		out = append(out, fmt.Sprintf("latency %dms > %dms", h.LatencyMs, *c.MaxLatencyMs))
	}
	if c.MaxErrorRate != nil && h.ErrorRate > *c.MaxErrorRate {
		out = append(out, fmt.Sprintf("error rate %.3f > %.3f", h.ErrorRate, *c.MaxErrorRate))
	}
	if c.MaxConsecutiveFailures != nil && h.ConsecutiveFailures >= *c.MaxConsecutiveFailures {
		out = append(out, fmt.Sprintf("%d consecutive failures >= %d", h.ConsecutiveFailures, *c.MaxConsecutiveFailures))
	}
	return out
}

// DegradeFeature puts a feature into the given fallback mode. Degrading a
// feature already in that mode is a no-op.
func (e *Engine) DegradeFeature(id featureflags.FeatureID, behavior FallbackBehavior, reason string) error {
	if !id.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownFeature, id)
	}
	if !behavior.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidBehavior, behavior)
	}

	e.mu.Lock()
	event := e.degradeLocked(id, behavior, reason, nil)
	e.mu.Unlock()

	if event != nil {
		e.emit(*event)
	}
	return nil
}

func (e *Engine) degradeLocked(id featureflags.FeatureID, behavior FallbackBehavior, reason string, h *health.ServiceHealth) *Event {
	prev, wasDegraded := e.degraded[id]
	if wasDegraded && prev == behavior {
		return nil
	}
	e.degraded[id] = behavior

	if e.flags != nil {
		if behavior == FallbackDisable {
			e.flags.ActivateKillSwitch(id, reason, actor)
		} else {
			if prev == FallbackDisable {
				e.flags.DeactivateKillSwitch(id, reason, actor)
			}
			e.flags.SetFlagStatus(id, featureflags.StatusDegraded, actor)
		}
	}

	previous := StateEnabled
	if wasDegraded {
		previous = string(prev)
	}
	event := e.recordLocked(id, previous, string(behavior), reason, h)

	e.logger.Warn().
		Str("feature", string(id)).
		Str("behavior", string(behavior)).
		Str("previous_state", previous).
		Str("level", string(e.level)).
		Str("reason", reason).
		Msg("feature degraded")
	return event
}

// RecoverFeature restores a degraded feature. It reports whether the feature
// was degraded.
func (e *Engine) RecoverFeature(id featureflags.FeatureID, reason string) bool {
	e.mu.Lock()
	event := e.recoverLocked(id, reason, nil)
	e.mu.Unlock()

	if event == nil {
		return false
	}
	e.emit(*event)
	return true
}

func (e *Engine) recoverLocked(id featureflags.FeatureID, reason string, h *health.ServiceHealth) *Event {
	prev, ok := e.degraded[id]
	if !ok {
		return nil
	}
	delete(e.degraded, id)

	if e.flags != nil {
		e.flags.DeactivateKillSwitch(id, reason, actor)
		e.flags.SetFlagStatus(id, featureflags.StatusEnabled, actor)
	}

	event := e.recordLocked(id, string(prev), StateEnabled, reason, h)

	e.logger.Info().
		Str("feature", string(id)).
		Str("previous_state", string(prev)).
		Str("level", string(e.level)).
		Str("reason", reason).
		Msg("feature recovered")
	return event
}

// recordLocked appends a transition event and recomputes the aggregate level.
func (e *Engine) recordLocked(id featureflags.FeatureID, previous, next, reason string, h *health.ServiceHealth) *Event {
	now := e.now()
	event := Event{
		ID:            uuid.NewString(),
		Timestamp:     now,
		FeatureID:     id,
		PreviousState: previous,
		NewState:      next,
		Reason:        reason,
	}
	if h != nil {
		snapshot := *h
		event.Metrics = &snapshot
	}
	e.events.Append(event)

	e.level = LevelFor(len(e.degraded))
	e.since = now
	return &event
}

func (e *Engine) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	ctx := context.Background()

	e.mu.Lock()
	level := e.level
	e.mu.Unlock()
	e.metrics.recordLevel(ctx, level)

	for _, event := range events {
		e.metrics.recordTransition(ctx, event)
		e.publisher.Publish(ctx, event)
	}
}

// RegisterRule inserts or replaces the rule for rule.FeatureID. It takes
// effect on the next health check.
func (e *Engine) RegisterRule(rule Rule) error {
	if !rule.FeatureID.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownFeature, rule.FeatureID)
	}
	if !rule.FallbackBehavior.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidBehavior, rule.FallbackBehavior)
	}

	e.mu.Lock()
	e.rules[rule.FeatureID] = rule
	e.mu.Unlock()

	e.logger.Debug().
		Str("feature", string(rule.FeatureID)).
		Str("behavior", string(rule.FallbackBehavior)).
		Msg("degradation rule registered")
	return nil
}

// Rule returns the rule registered for id.
func (e *Engine) Rule(id featureflags.FeatureID) (Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.rules[id]
	return rule, ok
}

// Rules returns every registered rule ordered by feature.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Rule, 0, len(e.rules))
	for _, id := range slices.Sorted(maps.Keys(e.rules)) {
		out = append(out, e.rules[id])
	}
	return out
}

// State returns a copy of the aggregate degradation state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Level:            e.level,
		DegradedFeatures: maps.Clone(e.degraded),
		Since:            e.since,
	}
}

// FallbackBehavior returns the current fallback mode for id, if degraded.
func (e *Engine) FallbackBehavior(id featureflags.FeatureID) (FallbackBehavior, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.degraded[id]
	return b, ok
}

// IsSystemDegraded reports whether any feature is degraded.
func (e *Engine) IsSystemDegraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level != LevelNone
}

// ServiceHealth returns the health snapshot for a service.
func (e *Engine) ServiceHealth(id health.ServiceID) (health.ServiceHealth, bool) {
	return e.monitor.Get(id)
}

// AllServiceHealth returns snapshots of every observed service.
func (e *Engine) AllServiceHealth() []health.ServiceHealth {
	return e.monitor.All()
}

// AffectedFeatures returns the features that depend on service.
func (e *Engine) AffectedFeatures(service health.ServiceID) []featureflags.FeatureID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.serviceMap[service])
}

// RecentEvents returns up to limit of the newest events, oldest first. A
// limit of zero or less returns every retained event, which is never more
// than MaxEventCapacity.
func (e *Engine) RecentEvents(limit int) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events.Recent(limit)
}
