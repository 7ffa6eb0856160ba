package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mirrorbuddy/reliability/internal/api/models"
	"github.com/mirrorbuddy/reliability/internal/api/response"
	"github.com/mirrorbuddy/reliability/internal/featureflags"
)

// healthEventLimit bounds the events embedded in the flag listing.
const healthEventLimit = 20

// defaultEmergencyReason is used when DELETE omits a reason.
const defaultEmergencyReason = "emergency kill switch"

// FeatureFlagsHandler handles feature flag endpoints.
type FeatureFlagsHandler struct {
	flags  FlagRegistry
	engine DegradationEngine
	logger zerolog.Logger
	now    func() time.Time
}

// NewFeatureFlagsHandler creates a new FeatureFlagsHandler. engine may be nil,
// in which case ?health=true is ignored.
func NewFeatureFlagsHandler(flags FlagRegistry, engine DegradationEngine, logger zerolog.Logger) *FeatureFlagsHandler {
	return &FeatureFlagsHandler{
		flags:  flags,
		engine: engine,
		logger: logger,
		now:    time.Now,
	}
}

// ListFeatureFlags handles GET /v1/admin/feature-flags.
func (h *FeatureFlagsHandler) ListFeatureFlags(w http.ResponseWriter, r *http.Request) {
	global := h.flags.GlobalConfig()
	out := models.ListFlagsResponse{
		Flags:                  h.flags.GetAllFlags(),
		GlobalKillSwitch:       global.KillSwitch,
		GlobalKillSwitchReason: global.KillSwitchReason,
		Timestamp:              models.Timestamp(h.now()),
	}

	if r.URL.Query().Get("health") == "true" && h.engine != nil {
		out.Degradation = &models.DegradationSummary{
			State:    models.NewDegradationState(h.engine.State()),
			Events:   h.engine.RecentEvents(healthEventLimit),
			Services: h.engine.AllServiceHealth(),
		}
	}

	response.OK(w, r, out)
}

// MutateFeatureFlag handles POST /v1/admin/feature-flags. The body selects a
// global toggle, a partial update or a per-feature kill switch.
func (h *FeatureFlagsHandler) MutateFeatureFlag(w http.ResponseWriter, r *http.Request) {
	var req models.FlagMutationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		response.BadRequest(w, r, "invalid JSON body: "+err.Error(), nil)
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid feature flag mutation", errs)
		return
	}

	by := actor(r)

	if req.Global {
		global := h.flags.SetGlobalKillSwitch(*req.Enabled, req.Reason, by)
		response.OK(w, r, models.FlagMutationResponse{Success: true, KillSwitch: global.KillSwitch})
		return
	}

	id, ok := featureflags.ParseFeatureID(req.FeatureID)
	if !ok {
		response.NotFound(w, r, "unknown feature "+req.FeatureID)
		return
	}

	var flag *featureflags.Flag
	switch {
	case req.Update != nil:
		update := *req.Update
		update.UpdatedBy = by
		flag = h.flags.UpdateFlag(id, update)
	case *req.Enabled:
		flag = h.flags.ActivateKillSwitch(id, req.Reason, by)
	default:
		flag = h.flags.DeactivateKillSwitch(id, req.Reason, by)
	}
	if flag == nil {
		response.NotFound(w, r, "unknown feature "+req.FeatureID)
		return
	}

	response.OK(w, r, models.FlagMutationResponse{
		Success:    true,
		FeatureID:  string(id),
		Flag:       flag,
		KillSwitch: flag.KillSwitch,
	})
}

// EmergencyKillSwitch handles DELETE /v1/admin/feature-flags?id=&reason=.
func (h *FeatureFlagsHandler) EmergencyKillSwitch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := q.Get("id")
	if raw == "" {
		response.BadRequest(w, r, "feature id is required", []models.FieldError{
			{Field: "id", Message: "required", Code: "REQUIRED"},
		})
		return
	}

	id, ok := featureflags.ParseFeatureID(raw)
	if !ok {
		response.NotFound(w, r, "unknown feature "+raw)
		return
	}

	reason := q.Get("reason")
	if reason == "" {
		reason = defaultEmergencyReason
	}

	flag := h.flags.ActivateKillSwitch(id, reason, actor(r))
	if flag == nil {
		response.NotFound(w, r, "unknown feature "+raw)
		return
	}

	response.OK(w, r, models.FlagMutationResponse{
		Success:    true,
		FeatureID:  string(id),
		Flag:       flag,
		KillSwitch: flag.KillSwitch,
	})
}

// Reload handles POST /v1/admin/feature-flags/reload.
func (h *FeatureFlagsHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.flags.Reload(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("feature flag reload failed")
		response.ServiceUnavailable(w, r, "feature flag store unavailable")
		return
	}
	response.NoContent(w, r)
}

// Evaluate handles GET /v1/flags/{featureId}?userId=.
func (h *FeatureFlagsHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "featureId")
	id, ok := featureflags.ParseFeatureID(raw)
	if !ok {
		response.NotFound(w, r, "unknown feature "+raw)
		return
	}

	eval := h.flags.IsFeatureEnabled(id, r.URL.Query().Get("userId"))
	response.OK(w, r, models.EvaluationResponse{
		FeatureID: string(id),
		Enabled:   eval.Enabled,
		Reason:    eval.Reason,
	})
}
