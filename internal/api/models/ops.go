package models

import (
	"github.com/mirrorbuddy/reliability/internal/degradation"
	"github.com/mirrorbuddy/reliability/internal/featureflags"
)

// Health represents the liveness of the process.
type Health struct {
	Status  HealthStatus `json:"status"`
	Time    Timestamp    `json:"time"`
	Version string       `json:"version,omitempty"`
}

// SystemStatus summarizes degradation and dependency health.
type SystemStatus struct {
	Status           HealthStatus                                             `json:"status"`
	Time             Timestamp                                                `json:"time"`
	Level            degradation.Level                                        `json:"level"`
	DegradedFeatures map[featureflags.FeatureID]degradation.FallbackBehavior `json:"degradedFeatures"`
	GlobalKillSwitch bool                                                     `json:"globalKillSwitch"`
	Services         []ServiceStatus                                          `json:"services"`
}

// ServiceStatus is the externally visible health of one dependency.
type ServiceStatus struct {
	ServiceID           string       `json:"serviceId"`
	Status              HealthStatus `json:"status"`
	LatencyMs           int64        `json:"latencyMs"`
	ErrorRate           float64      `json:"errorRate"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	LastCheck           Timestamp    `json:"lastCheck"`
}

// StatusForLevel maps a degradation level to an overall health status.
func StatusForLevel(level degradation.Level) HealthStatus {
	switch level {
	case degradation.LevelNone:
		return HealthStatusOK
	case degradation.LevelCritical:
		return HealthStatusFail
	default:
		return HealthStatusDegraded
	}
}
