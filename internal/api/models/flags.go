package models

import (
	"github.com/mirrorbuddy/reliability/internal/featureflags"
)

// ListFlagsResponse is returned by GET /v1/admin/feature-flags.
type ListFlagsResponse struct {
	Flags                  []*featureflags.Flag `json:"flags"`
	GlobalKillSwitch       bool                 `json:"globalKillSwitch"`
	GlobalKillSwitchReason string               `json:"globalKillSwitchReason,omitempty"`
	Timestamp              Timestamp            `json:"timestamp"`
	Degradation            *DegradationSummary  `json:"degradation,omitempty"`
}

// FlagMutationRequest is the body of POST /v1/admin/feature-flags. Exactly one
// shape applies: global toggle, partial update, or per-feature kill switch.
type FlagMutationRequest struct {
	FeatureID string                   `json:"featureId,omitempty"`
	Update    *featureflags.FlagUpdate `json:"update,omitempty"`
	Enabled   *bool                    `json:"enabled,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
	Global    bool                     `json:"global,omitempty"`
}

// Validate checks the request shape. It does not resolve the feature id.
func (r FlagMutationRequest) Validate() []FieldError {
	var errs []FieldError
	switch {
	case r.Global:
		if r.Enabled == nil {
			errs = append(errs, FieldError{Field: "enabled", Message: "required for global kill switch", Code: "REQUIRED"})
		}
	case r.FeatureID == "":
		errs = append(errs, FieldError{Field: "featureId", Message: "required", Code: "REQUIRED"})
	case r.Update == nil && r.Enabled == nil:
		errs = append(errs, FieldError{Field: "update", Message: "one of update or enabled is required", Code: "REQUIRED"})
	}
	if r.Update != nil {
		if r.Update.Status != nil && !r.Update.Status.Valid() {
			errs = append(errs, FieldError{Field: "update.status", Message: "must be enabled, disabled or degraded", Code: "INVALID"})
		}
		if p := r.Update.EnabledPercentage; p != nil && (*p < 0 || *p > 100) {
			errs = append(errs, FieldError{Field: "update.enabledPercentage", Message: "must be between 0 and 100", Code: "OUT_OF_RANGE"})
		}
	}
	return errs
}

// FlagMutationResponse is returned by POST and DELETE on /v1/admin/feature-flags.
type FlagMutationResponse struct {
	Success    bool               `json:"success"`
	FeatureID  string             `json:"featureId,omitempty"`
	Flag       *featureflags.Flag `json:"flag,omitempty"`
	KillSwitch bool               `json:"killSwitch"`
}

// EvaluationResponse is returned by GET /v1/flags/{featureId}.
type EvaluationResponse struct {
	FeatureID string              `json:"featureId"`
	Enabled   bool                `json:"enabled"`
	Reason    featureflags.Reason `json:"reason"`
}
