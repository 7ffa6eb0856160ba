package featureflags

import (
	"context"
	"sort"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository for testing
// and single-process deployments without a database.
type InMemoryRepository struct {
	mu     sync.RWMutex
	flags  map[FeatureID]*Flag
	global *GlobalConfig

	// Err, when set, is returned by every call. Used to simulate an unreachable store.
	Err error
}

// NewInMemoryRepository creates a new, empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		flags: make(map[FeatureID]*Flag),
	}
}

// NewInMemoryRepositoryWithFlags creates a new in-memory repository with initial flags.
func NewInMemoryRepositoryWithFlags(flags ...*Flag) *InMemoryRepository {
	repo := NewInMemoryRepository()
	for _, f := range flags {
		repo.flags[f.ID] = f.Clone()
	}
	return repo
}

// SetError makes every subsequent call fail with err (nil clears it).
func (r *InMemoryRepository) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Err = err
}

// GetAllFlags retrieves all feature flags ordered by id.
func (r *InMemoryRepository) GetAllFlags(_ context.Context) ([]*Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.Err != nil {
		return nil, r.Err
	}

	result := make([]*Flag, 0, len(r.flags))
	for _, f := range r.flags {
		result = append(result, f.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// GetFlag retrieves a single feature flag by id.
func (r *InMemoryRepository) GetFlag(_ context.Context, id FeatureID) (*Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.Err != nil {
		return nil, r.Err
	}

	flag, ok := r.flags[id]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return flag.Clone(), nil
}

// CreateFlag stores a new flag. Existing rows are left untouched.
func (r *InMemoryRepository) CreateFlag(_ context.Context, flag *Flag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}

	if _, ok := r.flags[flag.ID]; !ok {
		r.flags[flag.ID] = flag.Clone()
	}
	return nil
}

// UpsertFlag creates or updates a feature flag.
func (r *InMemoryRepository) UpsertFlag(_ context.Context, flag *Flag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}

	r.flags[flag.ID] = flag.Clone()
	return nil
}

// GetGlobalConfig retrieves the global config.
func (r *InMemoryRepository) GetGlobalConfig(_ context.Context) (*GlobalConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.Err != nil {
		return nil, r.Err
	}

	if r.global == nil {
		return nil, ErrGlobalConfigNotFound
	}
	g := *r.global
	return &g, nil
}

// UpsertGlobalConfig creates or updates the global config.
func (r *InMemoryRepository) UpsertGlobalConfig(_ context.Context, cfg *GlobalConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}

	g := *cfg
	r.global = &g
	return nil
}

// Ensure InMemoryRepository implements Repository interface.
var _ Repository = (*InMemoryRepository)(nil)
