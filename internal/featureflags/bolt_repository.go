package featureflags

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketFlags  = []byte("feature_flags")
	bucketGlobal = []byte("global_config")
	keyGlobal    = []byte(globalConfigID)
)

// BoltRepository stores flags in a local bbolt file. Suitable for single-node
// deployments without PostgreSQL.
type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository opens (or creates) the bbolt database at path.
func NewBoltRepository(path string) (*BoltRepository, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open flag database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketFlags, bucketGlobal} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltRepository{db: db}, nil
}

// Close closes the database.
func (r *BoltRepository) Close() error {
	return r.db.Close()
}

// GetAllFlags retrieves all feature flags in key order.
func (r *BoltRepository) GetAllFlags(_ context.Context) ([]*Flag, error) {
	var flags []*Flag
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFlags).ForEach(func(_, v []byte) error {
			var flag Flag
			if err := json.Unmarshal(v, &flag); err != nil {
				return err
			}
			flags = append(flags, &flag)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return flags, nil
}

// GetFlag retrieves a single feature flag by id.
func (r *BoltRepository) GetFlag(_ context.Context, id FeatureID) (*Flag, error) {
	var flag *Flag
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFlags).Get([]byte(id))
		if data == nil {
			return ErrFlagNotFound
		}
		flag = &Flag{}
		return json.Unmarshal(data, flag)
	})
	if err != nil {
		return nil, err
	}
	return flag, nil
}

// CreateFlag stores a flag unless one with the same id already exists.
func (r *BoltRepository) CreateFlag(_ context.Context, flag *Flag) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFlags)
		if b.Get([]byte(flag.ID)) != nil {
			return nil
		}
		data, err := json.Marshal(flag)
		if err != nil {
			return err
		}
		return b.Put([]byte(flag.ID), data)
	})
}

// UpsertFlag creates or updates a feature flag.
func (r *BoltRepository) UpsertFlag(_ context.Context, flag *Flag) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(flag)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketFlags).Put([]byte(flag.ID), data)
	})
}

// GetGlobalConfig retrieves the singleton global config.
func (r *BoltRepository) GetGlobalConfig(_ context.Context) (*GlobalConfig, error) {
	var cfg *GlobalConfig
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketGlobal).Get(keyGlobal)
		if data == nil {
			return ErrGlobalConfigNotFound
		}
		cfg = &GlobalConfig{}
		return json.Unmarshal(data, cfg)
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// UpsertGlobalConfig creates or updates the singleton global config.
func (r *BoltRepository) UpsertGlobalConfig(_ context.Context, cfg *GlobalConfig) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketGlobal).Put(keyGlobal, data)
	})
}

// Ensure BoltRepository implements Repository interface.
var _ Repository = (*BoltRepository)(nil)
