// Package degradation implements health-driven graceful degradation: rules that
// move features into a fallback mode when the services they depend on become
// unhealthy, and back out once those services recover.
package degradation

import (
	"time"

	"github.com/mirrorbuddy/reliability/internal/featureflags"
	"github.com/mirrorbuddy/reliability/internal/health"
)

// FallbackBehavior is the degraded mode applied to a feature.
type FallbackBehavior string

// Fallback behaviors.
const (
	FallbackDisable    FallbackBehavior = "disable"
	FallbackCache      FallbackBehavior = "cache"
	FallbackStatic     FallbackBehavior = "static"
	FallbackSimplified FallbackBehavior = "simplified"
)

// Valid reports whether b is a known fallback behavior.
func (b FallbackBehavior) Valid() bool {
	switch b {
	case FallbackDisable, FallbackCache, FallbackStatic, FallbackSimplified:
		return true
	default:
		return false
	}
}

// StateEnabled is the event state of a feature that is not degraded.
const StateEnabled = "enabled"

// TriggerConditions are the thresholds that degrade a feature. Nil fields fall
// back to the package defaults.
type TriggerConditions struct {
	MaxLatencyMs           *int64   `json:"maxLatencyMs,omitempty" mapstructure:"max_latency_ms"`
	MaxErrorRate           *float64 `json:"maxErrorRate,omitempty" mapstructure:"max_error_rate"`
	MaxConsecutiveFailures *int     `json:"maxConsecutiveFailures,omitempty" mapstructure:"max_consecutive_failures"`
}

// RecoveryConditions are the thresholds a degraded feature must meet before it
// recovers. Nil fields fall back to the package defaults.
type RecoveryConditions struct {
	MinSuccessRate      *float64 `json:"minSuccessRate,omitempty" mapstructure:"min_success_rate"`
	MinSuccessfulChecks *int     `json:"minSuccessfulChecks,omitempty" mapstructure:"min_successful_checks"`
}

// Rule describes how one feature degrades and recovers.
type Rule struct {
	FeatureID          featureflags.FeatureID `json:"featureId" mapstructure:"feature_id"`
	TriggerConditions  TriggerConditions      `json:"triggerConditions" mapstructure:"trigger"`
	FallbackBehavior   FallbackBehavior       `json:"fallbackBehavior" mapstructure:"fallback"`
	RecoveryConditions RecoveryConditions     `json:"recoveryConditions" mapstructure:"recovery"`
}

// Level is the aggregate severity of the system.
type Level string

// Degradation levels.
const (
	LevelNone     Level = "none"
	LevelPartial  Level = "partial"
	LevelSevere   Level = "severe"
	LevelCritical Level = "critical"
)

// Severity returns the level as an ordinal, 0 for none through 3 for critical.
func (l Level) Severity() int64 {
	switch l {
	case LevelPartial:
		return 1
	case LevelSevere:
		return 2
	case LevelCritical:
		return 3
	default:
		return 0
	}
}

// LevelFor maps the number of degraded features to a level.
func LevelFor(degraded int) Level {
	switch {
	case degraded <= 0:
		return LevelNone
	case degraded <= 2:
		return LevelPartial
	case degraded <= 5:
		return LevelSevere
	default:
		return LevelCritical
	}
}

// State is a snapshot of the aggregate degradation state.
type State struct {
	Level            Level                                     `json:"level"`
	DegradedFeatures map[featureflags.FeatureID]FallbackBehavior `json:"degradedFeatures"`
	Since            time.Time                                 `json:"since"`
}

// Event records one degrade or recover transition.
type Event struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	FeatureID     featureflags.FeatureID `json:"featureId"`
	PreviousState string                 `json:"previousState"`
	NewState      string                 `json:"newState"`
	Reason        string                 `json:"reason"`
	Metrics       *health.ServiceHealth  `json:"metrics,omitempty"`
}
