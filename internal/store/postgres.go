package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helios-labs/strategy-governor/internal/models"
)

// DatabasePool is the subset of pgxpool.Pool the store needs. It
// allows mock pool implementations in tests.
type DatabasePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PostgresStore is the durable primary of the governance state store.
// The aggregate state and the override snapshot live in singleton
// rows; artifacts are content-addressed per cycle.
type PostgresStore struct {
	pool DatabasePool
}

// NewPostgresStore creates a store over an existing pool.
func NewPostgresStore(pool DatabasePool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema is the DDL the store expects. Applied by the entry point at
// startup; idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS governance_state (
	id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	data JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS governance_snapshot (
	id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	data JSONB NOT NULL,
	version INT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS governance_artifact (
	cycle_id TEXT NOT NULL,
	name TEXT NOT NULL,
	sha256 TEXT NOT NULL,
	data BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (cycle_id, name)
);
`

func (p *PostgresStore) LoadState(ctx context.Context) (*models.AutonomyState, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM governance_state WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	var state models.AutonomyState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

func (p *PostgresStore) SaveState(ctx context.Context, state *models.AutonomyState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO governance_state (id, data, updated_at) VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`, data)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (p *PostgresStore) LoadSnapshot(ctx context.Context) (*models.OverrideSnapshot, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM governance_snapshot WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap models.OverrideSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (p *PostgresStore) SaveSnapshot(ctx context.Context, snapshot *models.OverrideSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO governance_snapshot (id, data, version, updated_at) VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, version = EXCLUDED.version, updated_at = now()`,
		data, snapshot.Version)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (p *PostgresStore) PutArtifact(ctx context.Context, cycleID, name string, data []byte) (string, error) {
	hash := ContentHash(data)
	_, err := p.pool.Exec(ctx, `
		INSERT INTO governance_artifact (cycle_id, name, sha256, data) VALUES ($1, $2, $3, $4)
		ON CONFLICT (cycle_id, name) DO UPDATE SET sha256 = EXCLUDED.sha256, data = EXCLUDED.data, created_at = now()`,
		cycleID, name, hash, data)
	if err != nil {
		return "", fmt.Errorf("put artifact %s/%s: %w", cycleID, name, err)
	}
	return hash, nil
}

func (p *PostgresStore) GetArtifact(ctx context.Context, cycleID, name string) ([]byte, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT data FROM governance_artifact WHERE cycle_id = $1 AND name = $2`,
		cycleID, name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s/%s: %w", cycleID, name, err)
	}
	return data, nil
}
