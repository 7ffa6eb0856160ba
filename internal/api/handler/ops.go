package handler

import (
	"net/http"
	"time"

	"github.com/mirrorbuddy/reliability/internal/api/models"
	"github.com/mirrorbuddy/reliability/internal/api/response"
	"github.com/mirrorbuddy/reliability/internal/health"
)

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version string
	flags   FlagRegistry
	engine  DegradationEngine
	now     func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(version string, flags FlagRegistry, engine DegradationEngine) *OpsHandler {
	return &OpsHandler{
		version: version,
		flags:   flags,
		engine:  engine,
		now:     time.Now,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, models.Health{
		Status:  models.HealthStatusOK,
		Time:    models.Timestamp(h.now()),
		Version: h.version,
	})
}

// SystemStatus handles GET /v1/ops/status - degradation level and dependency health.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	state := h.engine.State()
	global := h.flags.GlobalConfig()

	status := models.StatusForLevel(state.Level)
	if global.KillSwitch {
		status = models.HealthStatusFail
	}

	services := h.engine.AllServiceHealth()
	out := models.SystemStatus{
		Status:           status,
		Time:             models.Timestamp(h.now()),
		Level:            state.Level,
		DegradedFeatures: state.DegradedFeatures,
		GlobalKillSwitch: global.KillSwitch,
		Services:         make([]models.ServiceStatus, 0, len(services)),
	}
	for _, s := range services {
		out.Services = append(out.Services, serviceStatus(s))
	}
	response.OK(w, r, out)
}

func serviceStatus(s health.ServiceHealth) models.ServiceStatus {
	status := models.HealthStatusOK
	switch {
	case !s.Healthy && s.ConsecutiveFailures > 1:
		status = models.HealthStatusFail
	case !s.Healthy || s.ErrorRate > 0:
		status = models.HealthStatusDegraded
	}
	return models.ServiceStatus{
		ServiceID:           string(s.ServiceID),
		Status:              status,
		LatencyMs:           s.LatencyMs,
		ErrorRate:           s.ErrorRate,
		ConsecutiveFailures: s.ConsecutiveFailures,
		LastCheck:           models.Timestamp(s.LastCheck),
	}
}
