package worker

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorbuddy/reliability/internal/health"
)

type monitorRecorder struct {
	*health.Monitor
}

func (r monitorRecorder) RecordHealthCheck(service health.ServiceID, healthy bool, latencyMs int64) health.ServiceHealth {
	return r.Record(service, healthy, latencyMs)
}

func TestDecodeHealthReport(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{name: "valid", data: `{"service_id":"database","healthy":false,"latency_ms":1200}`},
		{name: "malformed", data: `{"service_id":`, wantErr: true},
		{name: "missing service", data: `{"healthy":true}`, wantErr: true},
		{name: "negative latency", data: `{"service_id":"speech","latency_ms":-1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeHealthReport([]byte(tt.data))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidReport)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPubSubHandler_Apply(t *testing.T) {
	monitor := health.NewMonitor(health.MonitorConfig{})
	h := &PubSubHandler{recorder: monitorRecorder{monitor}, logger: zerolog.Nop()}

	require.NoError(t, h.Apply([]byte(`{"service_id":"database","healthy":false,"latency_ms":1200}`)))
	require.NoError(t, h.Apply([]byte(`{"service_id":"database","healthy":false,"latency_ms":900}`)))
	assert.Error(t, h.Apply([]byte(`not json`)))

	snapshot, ok := monitor.Get(health.ServiceDatabase)
	require.True(t, ok)
	assert.Equal(t, 2, snapshot.ConsecutiveFailures)
	assert.Equal(t, int64(900), snapshot.LatencyMs)
}
