package featureflags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the tables used by PostgresRepository.
const Schema = `
CREATE TABLE IF NOT EXISTS feature_flags (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'enabled',
	enabled_percentage INTEGER NOT NULL DEFAULT 100,
	kill_switch        BOOLEAN NOT NULL DEFAULT FALSE,
	metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_by         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS global_config (
	id                 TEXT PRIMARY KEY,
	kill_switch        BOOLEAN NOT NULL DEFAULT FALSE,
	kill_switch_reason TEXT NOT NULL DEFAULT '',
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_by         TEXT NOT NULL DEFAULT ''
);
`

// globalConfigID is the primary key of the singleton global config row.
const globalConfigID = "global"

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL feature flags repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the feature flag tables if they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create feature flag schema: %w", err)
	}
	return nil
}

const flagColumns = `id, name, description, status, enabled_percentage, kill_switch, metadata, updated_at, updated_by`

func scanFlag(row pgx.Row) (*Flag, error) {
	var (
		flag         Flag
		id           string
		status       string
		metadataJSON []byte
	)

	err := row.Scan(
		&id,
		&flag.Name,
		&flag.Description,
		&status,
		&flag.EnabledPercentage,
		&flag.KillSwitch,
		&metadataJSON,
		&flag.UpdatedAt,
		&flag.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	flag.ID = FeatureID(id)
	flag.Status = Status(status)
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &flag.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
	}
	return &flag, nil
}

// GetAllFlags retrieves all feature flags.
func (r *PostgresRepository) GetAllFlags(ctx context.Context) ([]*Flag, error) {
	query := `SELECT ` + flagColumns + ` FROM feature_flags ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []*Flag
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		flags = append(flags, flag)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return flags, nil
}

// GetFlag retrieves a single feature flag by id.
func (r *PostgresRepository) GetFlag(ctx context.Context, id FeatureID) (*Flag, error) {
	query := `SELECT ` + flagColumns + ` FROM feature_flags WHERE id = $1`

	flag, err := scanFlag(r.pool.QueryRow(ctx, query, string(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFlagNotFound
		}
		return nil, err
	}
	return flag, nil
}

// CreateFlag inserts a flag, leaving an existing row with the same id untouched.
func (r *PostgresRepository) CreateFlag(ctx context.Context, flag *Flag) error {
	query := `
		INSERT INTO feature_flags (` + flagColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	return r.write(ctx, query, flag)
}

// UpsertFlag creates or updates a feature flag.
func (r *PostgresRepository) UpsertFlag(ctx context.Context, flag *Flag) error {
	query := `
		INSERT INTO feature_flags (` + flagColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			enabled_percentage = EXCLUDED.enabled_percentage,
			kill_switch = EXCLUDED.kill_switch,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`
	return r.write(ctx, query, flag)
}

func (r *PostgresRepository) write(ctx context.Context, query string, flag *Flag) error {
	metadata := flag.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, query,
		string(flag.ID),
		flag.Name,
		flag.Description,
		string(flag.Status),
		flag.EnabledPercentage,
		flag.KillSwitch,
		metadataJSON,
		flag.UpdatedAt,
		flag.UpdatedBy,
	)
	return err
}

// GetGlobalConfig retrieves the singleton global config.
func (r *PostgresRepository) GetGlobalConfig(ctx context.Context) (*GlobalConfig, error) {
	query := `
		SELECT kill_switch, kill_switch_reason, updated_at, updated_by
		FROM global_config
		WHERE id = $1
	`

	var cfg GlobalConfig
	err := r.pool.QueryRow(ctx, query, globalConfigID).Scan(
		&cfg.KillSwitch,
		&cfg.KillSwitchReason,
		&cfg.UpdatedAt,
		&cfg.UpdatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrGlobalConfigNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

// UpsertGlobalConfig creates or updates the singleton global config.
func (r *PostgresRepository) UpsertGlobalConfig(ctx context.Context, cfg *GlobalConfig) error {
	query := `
		INSERT INTO global_config (id, kill_switch, kill_switch_reason, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			kill_switch = EXCLUDED.kill_switch,
			kill_switch_reason = EXCLUDED.kill_switch_reason,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`

	_, err := r.pool.Exec(ctx, query,
		globalConfigID,
		cfg.KillSwitch,
		cfg.KillSwitchReason,
		cfg.UpdatedAt,
		cfg.UpdatedBy,
	)
	return err
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
