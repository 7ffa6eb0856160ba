package models

import (
	"github.com/mirrorbuddy/reliability/internal/degradation"
	"github.com/mirrorbuddy/reliability/internal/featureflags"
	"github.com/mirrorbuddy/reliability/internal/health"
)

// DegradationSummary is the degradation view embedded in the flag listing.
type DegradationSummary struct {
	State    DegradationState       `json:"state"`
	Events   []degradation.Event    `json:"events"`
	Services []health.ServiceHealth `json:"services"`
}

// DegradationState is the aggregate degradation state.
type DegradationState struct {
	Level            degradation.Level                                        `json:"level"`
	IsDegraded       bool                                                     `json:"isDegraded"`
	DegradedFeatures map[featureflags.FeatureID]degradation.FallbackBehavior `json:"degradedFeatures"`
	Since            Timestamp                                                `json:"since"`
}

// NewDegradationState converts an engine state snapshot.
func NewDegradationState(s degradation.State) DegradationState {
	return DegradationState{
		Level:            s.Level,
		IsDegraded:       s.Level != degradation.LevelNone,
		DegradedFeatures: s.DegradedFeatures,
		Since:            Timestamp(s.Since),
	}
}

// EventsResponse is returned by GET /v1/admin/degradation/events.
type EventsResponse struct {
	Events []degradation.Event `json:"events"`
	Count  int                 `json:"count"`
}

// DegradeRequest is the body of POST /v1/admin/degradation/{featureId}.
type DegradeRequest struct {
	Behavior degradation.FallbackBehavior `json:"behavior"`
	Reason   string                       `json:"reason"`
}

// Validate checks the request.
func (r DegradeRequest) Validate() []FieldError {
	var errs []FieldError
	if !r.Behavior.Valid() {
		errs = append(errs, FieldError{Field: "behavior", Message: "must be one of disable, cache, static, simplified", Code: "INVALID"})
	}
	if r.Reason == "" {
		errs = append(errs, FieldError{Field: "reason", Message: "required", Code: "REQUIRED"})
	}
	return errs
}

// HealthCheckRequest is the body of POST /v1/admin/health-checks.
type HealthCheckRequest struct {
	ServiceID string `json:"serviceId"`
	Healthy   *bool  `json:"healthy"`
	LatencyMs int64  `json:"latencyMs"`
}

// Validate checks the request.
func (r HealthCheckRequest) Validate() []FieldError {
	var errs []FieldError
	if r.ServiceID == "" {
		errs = append(errs, FieldError{Field: "serviceId", Message: "required", Code: "REQUIRED"})
	}
	if r.Healthy == nil {
		errs = append(errs, FieldError{Field: "healthy", Message: "required", Code: "REQUIRED"})
	}
	if r.LatencyMs < 0 {
		errs = append(errs, FieldError{Field: "latencyMs", Message: "must not be negative", Code: "OUT_OF_RANGE"})
	}
	return errs
}

// HealthCheckResponse is returned after a health observation is recorded.
type HealthCheckResponse struct {
	Service health.ServiceHealth `json:"service"`
	State   DegradationState     `json:"state"`
}

// RulesResponse lists the active degradation rules.
type RulesResponse struct {
	Rules []degradation.Rule `json:"rules"`
}
