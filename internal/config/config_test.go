package config_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorbuddy/reliability/internal/config"
	"github.com/mirrorbuddy/reliability/internal/degradation"
	"github.com/mirrorbuddy/reliability/internal/featureflags"
	"github.com/mirrorbuddy/reliability/internal/health"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reliability.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, config.BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 256, cfg.Storage.QueueCapacity)
	assert.Equal(t, "reliability", cfg.Database.Database)
	assert.Equal(t, 100, cfg.Degradation.EventCapacity)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Empty(t, cfg.Auth.SigningKey)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
storage:
  backend: bolt
  bolt_path: /var/lib/reliability/flags.db
prober:
  interval: 10s
  targets:
    - service: chat-completion
      url: http://llm.internal/healthz
    - service: vector-store
      url: http://qdrant.internal/readyz
      interval: 5s
degradation:
  rules:
    - feature_id: focus-timer
      fallback: static
      trigger:
        max_consecutive_failures: 2
  service_map:
    cache:
      - focus-timer
`)

	cfg, err := config.Load(config.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, config.BackendBolt, cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/reliability/flags.db", cfg.Storage.BoltPath)

	require.Len(t, cfg.Prober.Targets, 2)
	assert.Equal(t, health.ServiceChatCompletion, cfg.Prober.Targets[0].Service)
	assert.Equal(t, 5*time.Second, cfg.Prober.Targets[1].Interval)
	assert.Equal(t, 10*time.Second, cfg.Prober.ProbeConfig().Interval)

	require.Len(t, cfg.Degradation.Rules, 1)
	rule := cfg.Degradation.Rules[0]
	assert.Equal(t, featureflags.FeatureFocusTimer, rule.FeatureID)
	assert.Equal(t, degradation.FallbackStatic, rule.FallbackBehavior)
	require.NotNil(t, rule.TriggerConditions.MaxConsecutiveFailures)
	assert.Equal(t, 2, *rule.TriggerConditions.MaxConsecutiveFailures)

	rules := cfg.Degradation.EffectiveRules()
	assert.Len(t, rules, len(degradation.DefaultRules())+1)

	serviceMap := cfg.Degradation.EffectiveServiceMap()
	assert.Equal(t, []featureflags.FeatureID{featureflags.FeatureFocusTimer}, serviceMap[health.ServiceCache])
	assert.NotEmpty(t, serviceMap[health.ServiceDatabase])
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RELIABILITY_SERVER_PORT", "7070")
	t.Setenv("RELIABILITY_AUTH_SIGNING_KEY", "secret")
	t.Setenv("RELIABILITY_STORAGE_BACKEND", "postgres")

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Auth.SigningKey)
	assert.Equal(t, config.BackendPostgres, cfg.Storage.Backend)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(config.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_ValidationCollectsAllErrors(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 0
log:
  level: loud
storage:
  backend: redis
pubsub:
  enabled: true
degradation:
  rules:
    - feature_id: teleport
      fallback: explode
  service_map:
    database:
      - warp-drive
`)

	_, err := config.Load(config.New(), path)
	require.Error(t, err)

	for _, want := range []string{
		"server.port",
		"log.level",
		"storage.backend",
		"pubsub.project_id",
		`unknown feature "teleport"`,
		`unknown fallback "explode"`,
		`unknown feature "warp-drive"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_EventCapacityBounds(t *testing.T) {
	for _, capacity := range []int{0, 101, 500} {
		path := writeConfig(t, fmt.Sprintf("degradation:\n  event_capacity: %d\n", capacity))

		_, err := config.Load(config.New(), path)
		require.Error(t, err, "capacity %d", capacity)
		assert.Contains(t, err.Error(), "degradation.event_capacity must be between 1 and 100")
	}

	path := writeConfig(t, "degradation:\n  event_capacity: 25\n")
	cfg, err := config.Load(config.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Degradation.EventCapacity)
}

func TestEffectiveRules_OverrideReplacesDefault(t *testing.T) {
	cfg := config.DegradationConfig{
		Rules: []degradation.Rule{{
			FeatureID:        featureflags.FeatureRealtimeVoice,
			FallbackBehavior: degradation.FallbackSimplified,
		}},
	}

	rules := cfg.EffectiveRules()
	assert.Len(t, rules, len(degradation.DefaultRules()))
	for _, r := range rules {
		if r.FeatureID == featureflags.FeatureRealtimeVoice {
			assert.Equal(t, degradation.FallbackSimplified, r.FallbackBehavior)
		}
	}
}
