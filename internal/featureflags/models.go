// Package featureflags provides the runtime feature flag registry with kill switches
// and deterministic percentage rollout.
package featureflags

import (
	"time"
)

// Status is the nominal state of a feature flag.
type Status string

// Flag statuses.
const (
	StatusEnabled  Status = "enabled"
	StatusDisabled Status = "disabled"
	StatusDegraded Status = "degraded"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusEnabled, StatusDisabled, StatusDegraded:
		return true
	default:
		return false
	}
}

// Reason explains the outcome of a flag evaluation.
type Reason string

// Evaluation reasons.
const (
	ReasonEnabled           Reason = "enabled"
	ReasonDisabled          Reason = "disabled"
	ReasonKillSwitch        Reason = "kill_switch"
	ReasonPercentageRollout Reason = "percentage_rollout"
	ReasonDegraded          Reason = "degraded"
)

// MetadataKillSwitchReason is the metadata key holding the last kill switch reason.
const MetadataKillSwitchReason = "kill_switch_reason"

// Flag represents a feature flag.
type Flag struct {
	ID                FeatureID         `json:"id"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Status            Status            `json:"status"`
	EnabledPercentage int               `json:"enabledPercentage"`
	KillSwitch        bool              `json:"killSwitch"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	UpdatedBy         string            `json:"updatedBy,omitempty"`
}

// Clone returns a deep copy of the flag.
func (f *Flag) Clone() *Flag {
	if f == nil {
		return nil
	}
	c := *f
	if f.Metadata != nil {
		c.Metadata = make(map[string]string, len(f.Metadata))
		for k, v := range f.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// FlagUpdate is a partial update applied to a flag. Nil fields are left untouched;
// Metadata entries are merged key by key.
type FlagUpdate struct {
	Name              *string           `json:"name,omitempty"`
	Description       *string           `json:"description,omitempty"`
	Status            *Status           `json:"status,omitempty"`
	EnabledPercentage *int              `json:"enabledPercentage,omitempty"`
	KillSwitch        *bool             `json:"killSwitch,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	UpdatedBy         string            `json:"updatedBy,omitempty"`
}

// GlobalConfig is the singleton configuration row. An active global kill switch
// overrides every individual flag.
type GlobalConfig struct {
	KillSwitch       bool      `json:"killSwitch"`
	KillSwitchReason string    `json:"killSwitchReason,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt"`
	UpdatedBy        string    `json:"updatedBy,omitempty"`
}

// Evaluation is the result of checking whether a feature is enabled for a caller.
type Evaluation struct {
	Enabled bool   `json:"enabled"`
	Reason  Reason `json:"reason"`
	Flag    *Flag  `json:"flag,omitempty"`
}

// ClampPercentage bounds p to [0, 100].
func ClampPercentage(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
