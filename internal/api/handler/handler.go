// Package handler provides HTTP handlers for the reliability API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mirrorbuddy/reliability/internal/api/middleware"
	"github.com/mirrorbuddy/reliability/internal/degradation"
	"github.com/mirrorbuddy/reliability/internal/featureflags"
	"github.com/mirrorbuddy/reliability/internal/health"
)

// maxBodyBytes caps admin request bodies.
const maxBodyBytes = 1 << 20

// anonymousActor is recorded as UpdatedBy when authentication is disabled.
const anonymousActor = "admin"

// FlagRegistry is the flag registry surface the handlers use.
type FlagRegistry interface {
	IsFeatureEnabled(id featureflags.FeatureID, userID string) featureflags.Evaluation
	GetAllFlags() []*featureflags.Flag
	GetFlag(id featureflags.FeatureID) (*featureflags.Flag, bool)
	GlobalConfig() featureflags.GlobalConfig
	UpdateFlag(id featureflags.FeatureID, update featureflags.FlagUpdate) *featureflags.Flag
	ActivateKillSwitch(id featureflags.FeatureID, reason, updatedBy string) *featureflags.Flag
	DeactivateKillSwitch(id featureflags.FeatureID, reason, updatedBy string) *featureflags.Flag
	SetGlobalKillSwitch(enabled bool, reason, updatedBy string) featureflags.GlobalConfig
	Reload(ctx context.Context) error
}

// DegradationEngine is the degradation engine surface the handlers use.
type DegradationEngine interface {
	RecordHealthCheck(service health.ServiceID, healthy bool, latencyMs int64) health.ServiceHealth
	DegradeFeature(id featureflags.FeatureID, behavior degradation.FallbackBehavior, reason string) error
	RecoverFeature(id featureflags.FeatureID, reason string) bool
	RegisterRule(rule degradation.Rule) error
	Rules() []degradation.Rule
	State() degradation.State
	AllServiceHealth() []health.ServiceHealth
	RecentEvents(limit int) []degradation.Event
}

// actor returns the operator to record on mutations.
func actor(r *http.Request) string {
	if operator := middleware.GetOperator(r.Context()); operator != "" {
		return operator
	}
	return anonymousActor
}

var errEmptyBody = errors.New("request body is required")

// decodeJSON decodes a bounded JSON body, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}
