package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mirrorbuddy/reliability/internal/api/models"
	"github.com/mirrorbuddy/reliability/internal/api/response"
	"github.com/mirrorbuddy/reliability/internal/degradation"
	"github.com/mirrorbuddy/reliability/internal/featureflags"
	"github.com/mirrorbuddy/reliability/internal/health"
)

// maxEventsLimit is the largest ?limit accepted by the events endpoint.
const maxEventsLimit = 100

// DegradationHandler handles degradation endpoints.
type DegradationHandler struct {
	engine DegradationEngine
	logger zerolog.Logger
}

// NewDegradationHandler creates a new DegradationHandler.
func NewDegradationHandler(engine DegradationEngine, logger zerolog.Logger) *DegradationHandler {
	return &DegradationHandler{engine: engine, logger: logger}
}

// GetState handles GET /v1/admin/degradation.
func (h *DegradationHandler) GetState(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, models.NewDegradationState(h.engine.State()))
}

// ListEvents handles GET /v1/admin/degradation/events?limit=.
func (h *DegradationHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := maxEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxEventsLimit {
			response.BadRequest(w, r, "invalid limit", []models.FieldError{
				{Field: "limit", Message: "must be an integer between 1 and 100", Code: "OUT_OF_RANGE"},
			})
			return
		}
		limit = n
	}

	events := h.engine.RecentEvents(limit)
	response.OK(w, r, models.EventsResponse{Events: events, Count: len(events)})
}

// DegradeFeature handles POST /v1/admin/degradation/{featureId}.
func (h *DegradationHandler) DegradeFeature(w http.ResponseWriter, r *http.Request) {
	id, ok := h.featureParam(w, r)
	if !ok {
		return
	}

	var req models.DegradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, r, "invalid JSON body: "+err.Error(), nil)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid degrade request", errs)
		return
	}

	if err := h.engine.DegradeFeature(id, req.Behavior, manualReason(r, req.Reason)); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	response.OK(w, r, models.NewDegradationState(h.engine.State()))
}

// RecoverFeature handles DELETE /v1/admin/degradation/{featureId}?reason=.
func (h *DegradationHandler) RecoverFeature(w http.ResponseWriter, r *http.Request) {
	id, ok := h.featureParam(w, r)
	if !ok {
		return
	}

	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "manual recovery"
	}

	if !h.engine.RecoverFeature(id, manualReason(r, reason)) {
		response.Conflict(w, r, "feature "+string(id)+" is not degraded")
		return
	}

	response.OK(w, r, models.NewDegradationState(h.engine.State()))
}

// ListRules handles GET /v1/admin/degradation/rules.
func (h *DegradationHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	response.OK(w, r, models.RulesResponse{Rules: h.engine.Rules()})
}

// PutRule handles PUT /v1/admin/degradation/rules.
func (h *DegradationHandler) PutRule(w http.ResponseWriter, r *http.Request) {
	var rule degradation.Rule
	if err := decodeJSON(w, r, &rule); err != nil {
		response.BadRequest(w, r, "invalid JSON body: "+err.Error(), nil)
		return
	}

	if err := h.engine.RegisterRule(rule); err != nil {
		field := "fallbackBehavior"
		if errors.Is(err, degradation.ErrUnknownFeature) {
			field = "featureId"
		}
		response.BadRequest(w, r, "invalid degradation rule", []models.FieldError{
			{Field: field, Message: err.Error(), Code: "INVALID"},
		})
		return
	}

	h.logger.Info().
		Str("feature", string(rule.FeatureID)).
		Str("behavior", string(rule.FallbackBehavior)).
		Str("updated_by", actor(r)).
		Msg("degradation rule replaced")

	response.OK(w, r, rule)
}

// RecordHealthCheck handles POST /v1/admin/health-checks.
func (h *DegradationHandler) RecordHealthCheck(w http.ResponseWriter, r *http.Request) {
	var req models.HealthCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, r, "invalid JSON body: "+err.Error(), nil)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid health check", errs)
		return
	}

	service := h.engine.RecordHealthCheck(health.ServiceID(req.ServiceID), *req.Healthy, req.LatencyMs)
	response.OK(w, r, models.HealthCheckResponse{
		Service: service,
		State:   models.NewDegradationState(h.engine.State()),
	})
}

func (h *DegradationHandler) featureParam(w http.ResponseWriter, r *http.Request) (featureflags.FeatureID, bool) {
	raw := chi.URLParam(r, "featureId")
	id, ok := featureflags.ParseFeatureID(raw)
	if !ok {
		response.NotFound(w, r, "unknown feature "+raw)
	}
	return id, ok
}

// manualReason tags operator-initiated transitions with who made them.
func manualReason(r *http.Request, reason string) string {
	return "manual (" + actor(r) + "): " + reason
}
