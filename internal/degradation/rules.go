package degradation

import (
	"github.com/mirrorbuddy/reliability/internal/featureflags"
	"github.com/mirrorbuddy/reliability/internal/health"
)

// Default thresholds applied when a rule leaves a condition unset.
const (
	DefaultMaxLatencyMs           int64   = 5000
	DefaultMaxErrorRate           float64 = 0.1
	DefaultMaxConsecutiveFailures int     = 3
	DefaultMinSuccessRate         float64 = 0.95
	DefaultMinSuccessfulChecks    int     = 5
)

// Thresholds is a rule merged over the defaults, for display and recovery.
// Trigger evaluation uses TriggerConditions.Effective instead.
type Thresholds struct {
	MaxLatencyMs           int64
	MaxErrorRate           float64
	MaxConsecutiveFailures int
	MinSuccessRate         float64
	MinSuccessfulChecks    int
}

// Thresholds returns the effective thresholds for the rule.
func (r Rule) Thresholds() Thresholds {
	t := Thresholds{
		MaxLatencyMs:           DefaultMaxLatencyMs,
		MaxErrorRate:           DefaultMaxErrorRate,
		MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		MinSuccessRate:         DefaultMinSuccessRate,
		MinSuccessfulChecks:    DefaultMinSuccessfulChecks,
	}
	if v := r.TriggerConditions.MaxLatencyMs; v != nil {
		t.MaxLatencyMs = *v
	}
	if v := r.TriggerConditions.MaxErrorRate; v != nil {
		t.MaxErrorRate = *v
	}
	if v := r.TriggerConditions.MaxConsecutiveFailures; v != nil {
		t.MaxConsecutiveFailures = *v
	}
	if v := r.RecoveryConditions.MinSuccessRate; v != nil {
		t.MinSuccessRate = *v
	}
	if v := r.RecoveryConditions.MinSuccessfulChecks; v != nil {
		t.MinSuccessfulChecks = *v
	}
	return t
}

func (c TriggerConditions) empty() bool {
	return c.MaxLatencyMs == nil && c.MaxErrorRate == nil && c.MaxConsecutiveFailures == nil
}

// Effective returns the trigger conditions that are actually evaluated. A rule
// that names at least one condition is evaluated on those alone; a rule that
// names none gets every default trigger.
func (c TriggerConditions) Effective() TriggerConditions {
	if !c.empty() {
		return c
	}
	latency, rate, failures := DefaultMaxLatencyMs, DefaultMaxErrorRate, DefaultMaxConsecutiveFailures
	return TriggerConditions{
		MaxLatencyMs:           &latency,
		MaxErrorRate:           &rate,
		MaxConsecutiveFailures: &failures,
	}
}

// ServiceMap maps each service to the features that depend on it.
type ServiceMap map[health.ServiceID][]featureflags.FeatureID

// DefaultServiceMap returns the built-in dependency table.
func DefaultServiceMap() ServiceMap {
	return ServiceMap{
		health.ServiceChatCompletion: {
			featureflags.FeatureRealtimeVoice,
			featureflags.FeatureSemanticRetrieval,
			featureflags.FeatureQuizGeneration,
			featureflags.FeatureMindMapping,
		},
		health.ServiceDatabase: {
			featureflags.FeatureSemanticRetrieval,
			featureflags.FeatureSpacedRepetition,
			featureflags.FeatureGamification,
			featureflags.FeatureGuardianPortal,
		},
		health.ServiceVectorStore: {
			featureflags.FeatureSemanticRetrieval,
		},
		health.ServiceSpeech: {
			featureflags.FeatureRealtimeVoice,
			featureflags.FeatureAmbientAudio,
		},
		health.ServiceObjectStorage: {
			featureflags.FeatureDocumentExport,
		},
	}
}

// DefaultRules returns the built-in rule for every feature that appears in the
// default service map.
func DefaultRules() []Rule {
	triggers := func(latencyMs int64, errorRate float64, failures int) TriggerConditions {
		return TriggerConditions{
			MaxLatencyMs:           &latencyMs,
			MaxErrorRate:           &errorRate,
			MaxConsecutiveFailures: &failures,
		}
	}

	return []Rule{
		{
			FeatureID:         featureflags.FeatureRealtimeVoice,
			TriggerConditions: triggers(3000, DefaultMaxErrorRate, 2),
			FallbackBehavior:  FallbackDisable,
		},
		{
			FeatureID:        featureflags.FeatureSemanticRetrieval,
			FallbackBehavior: FallbackSimplified,
		},
		{
			FeatureID:         featureflags.FeatureQuizGeneration,
			TriggerConditions: triggers(10000, DefaultMaxErrorRate, DefaultMaxConsecutiveFailures),
			FallbackBehavior:  FallbackCache,
		},
		{
			FeatureID:         featureflags.FeatureMindMapping,
			TriggerConditions: triggers(10000, DefaultMaxErrorRate, DefaultMaxConsecutiveFailures),
			FallbackBehavior:  FallbackCache,
		},
		{
			FeatureID:        featureflags.FeatureSpacedRepetition,
			FallbackBehavior: FallbackCache,
		},
		{
			FeatureID:        featureflags.FeatureGamification,
			FallbackBehavior: FallbackDisable,
		},
		{
			FeatureID:        featureflags.FeatureGuardianPortal,
			FallbackBehavior: FallbackStatic,
		},
		{
			FeatureID:        featureflags.FeatureAmbientAudio,
			FallbackBehavior: FallbackDisable,
		},
		{
			FeatureID:         featureflags.FeatureDocumentExport,
			TriggerConditions: triggers(15000, 0.2, DefaultMaxConsecutiveFailures),
			FallbackBehavior:  FallbackDisable,
		},
	}
}
