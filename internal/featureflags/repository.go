package featureflags

import (
	"context"
	"errors"
)

// Repository errors.
var (
	// ErrFlagNotFound is returned when a feature flag is not found.
	ErrFlagNotFound = errors.New("feature flag not found")

	// ErrGlobalConfigNotFound is returned when the global config row does not exist yet.
	ErrGlobalConfigNotFound = errors.New("global config not found")
)

// Repository defines the durable store behind the registry. The registry treats
// every call as best-effort: it must keep working when the store is unavailable.
type Repository interface {
	// GetAllFlags retrieves all stored feature flags.
	GetAllFlags(ctx context.Context) ([]*Flag, error)

	// GetFlag retrieves a single feature flag by id.
	GetFlag(ctx context.Context, id FeatureID) (*Flag, error)

	// CreateFlag stores a flag that does not exist yet.
	CreateFlag(ctx context.Context, flag *Flag) error

	// UpsertFlag creates or updates a feature flag.
	UpsertFlag(ctx context.Context, flag *Flag) error

	// GetGlobalConfig retrieves the singleton global config.
	GetGlobalConfig(ctx context.Context) (*GlobalConfig, error)

	// UpsertGlobalConfig creates or updates the singleton global config.
	UpsertGlobalConfig(ctx context.Context, cfg *GlobalConfig) error
}
