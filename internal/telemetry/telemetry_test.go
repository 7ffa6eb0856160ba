package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirrorbuddy/reliability/internal/telemetry"
)

func TestInit_Disabled(t *testing.T) {
	provider, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:  "reliabilityd",
		OTLPEndpoint: "localhost:4317",
	})
	require.NoError(t, err)

	assert.False(t, provider.Enabled())
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestResource(t *testing.T) {
	res := telemetry.Resource(telemetry.Config{
		ServiceName:    "reliabilityd",
		ServiceVersion: "1.4.0",
		Environment:    "staging",
	})

	got := make(map[attribute.Key]string)
	for _, kv := range res.Attributes() {
		got[kv.Key] = kv.Value.AsString()
	}
	assert.Equal(t, "reliabilityd", got["service.name"])
	assert.Equal(t, "1.4.0", got["service.version"])
	assert.Equal(t, "staging", got["deployment.environment"])
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio float64
		want  string
	}{
		{0, sdktrace.AlwaysSample().Description()},
		{1, sdktrace.AlwaysSample().Description()},
		{1.5, sdktrace.AlwaysSample().Description()},
		{0.25, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.25)).Description()},
	}

	for _, tt := range tests {
		got := telemetry.Sampler(telemetry.Config{SampleRatio: tt.ratio})
		assert.Equal(t, tt.want, got.Description())
	}
}
