package degradation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mirrorbuddy/reliability/internal/degradation"
	"github.com/mirrorbuddy/reliability/internal/featureflags"
)

func TestRule_Thresholds(t *testing.T) {
	rate := 0.9
	rule := degradation.Rule{
		FeatureID:          featureflags.FeatureGamification,
		TriggerConditions:  degradation.TriggerConditions{MaxConsecutiveFailures: intPtr(5)},
		RecoveryConditions: degradation.RecoveryConditions{MinSuccessRate: &rate},
		FallbackBehavior:   degradation.FallbackCache,
	}

	th := rule.Thresholds()
	assert.Equal(t, degradation.DefaultMaxLatencyMs, th.MaxLatencyMs)
	assert.Equal(t, degradation.DefaultMaxErrorRate, th.MaxErrorRate)
	assert.Equal(t, 5, th.MaxConsecutiveFailures)
	assert.Equal(t, 0.9, th.MinSuccessRate)
	assert.Equal(t, degradation.DefaultMinSuccessfulChecks, th.MinSuccessfulChecks)
}

func TestTriggerConditions_Effective(t *testing.T) {
	named := degradation.TriggerConditions{MaxConsecutiveFailures: intPtr(2)}.Effective()
	assert.Nil(t, named.MaxLatencyMs)
	assert.Nil(t, named.MaxErrorRate)

	all := degradation.TriggerConditions{}.Effective()
	if assert.NotNil(t, all.MaxLatencyMs) {
		assert.Equal(t, degradation.DefaultMaxLatencyMs, *all.MaxLatencyMs)
	}
	if assert.NotNil(t, all.MaxConsecutiveFailures) {
		assert.Equal(t, degradation.DefaultMaxConsecutiveFailures, *all.MaxConsecutiveFailures)
	}
}

func TestDefaultRulesCoverServiceMap(t *testing.T) {
	rules := make(map[featureflags.FeatureID]degradation.Rule)
	for _, r := range degradation.DefaultRules() {
		assert.True(t, r.FallbackBehavior.Valid(), r.FeatureID)
		assert.True(t, r.FeatureID.Valid(), r.FeatureID)
		rules[r.FeatureID] = r
	}

	for service, features := range degradation.DefaultServiceMap() {
		for _, id := range features {
			assert.Contains(t, rules, id, "service %s", service)
		}
	}
}
