// Package store provides durable persistence for the aggregate
// governance state, the override snapshot, and per-cycle audit
// artifacts. The primary backend is Postgres; a local filesystem
// mirror is kept alongside and serves as the sole backend in
// non-production use.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/helios-labs/strategy-governor/internal/models"
)

// ErrNotFound is returned when a key or artifact has never been
// written.
var ErrNotFound = errors.New("store: not found")

// StateStore is the persistence contract the governance loop depends
// on. Every artifact write is content-addressed and returns its
// SHA-256 hash.
type StateStore interface {
	LoadState(ctx context.Context) (*models.AutonomyState, error)
	SaveState(ctx context.Context, state *models.AutonomyState) error

	LoadSnapshot(ctx context.Context) (*models.OverrideSnapshot, error)
	SaveSnapshot(ctx context.Context, snapshot *models.OverrideSnapshot) error

	PutArtifact(ctx context.Context, cycleID, name string, data []byte) (string, error)
	GetArtifact(ctx context.Context, cycleID, name string) ([]byte, error)
}

// ContentHash returns the hex SHA-256 of a payload.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MirroredStore writes through a primary store into a best-effort
// mirror. Reads come from the primary and fall back to the mirror only
// when the primary has no record. Mirror failures are logged, never
// fatal.
type MirroredStore struct {
	primary StateStore
	mirror  StateStore
	logger  *logrus.Logger
}

// NewMirroredStore composes a primary and a mirror store.
func NewMirroredStore(primary, mirror StateStore, logger *logrus.Logger) *MirroredStore {
	return &MirroredStore{primary: primary, mirror: mirror, logger: logger}
}

func (m *MirroredStore) LoadState(ctx context.Context) (*models.AutonomyState, error) {
	state, err := m.primary.LoadState(ctx)
	if errors.Is(err, ErrNotFound) {
		return m.mirror.LoadState(ctx)
	}
	return state, err
}

func (m *MirroredStore) SaveState(ctx context.Context, state *models.AutonomyState) error {
	if err := m.primary.SaveState(ctx, state); err != nil {
		return err
	}
	if err := m.mirror.SaveState(ctx, state); err != nil {
		m.logger.WithError(err).Warn("State mirror write failed")
	}
	return nil
}

func (m *MirroredStore) LoadSnapshot(ctx context.Context) (*models.OverrideSnapshot, error) {
	snap, err := m.primary.LoadSnapshot(ctx)
	if errors.Is(err, ErrNotFound) {
		return m.mirror.LoadSnapshot(ctx)
	}
	return snap, err
}

func (m *MirroredStore) SaveSnapshot(ctx context.Context, snapshot *models.OverrideSnapshot) error {
	if err := m.primary.SaveSnapshot(ctx, snapshot); err != nil {
		return err
	}
	if err := m.mirror.SaveSnapshot(ctx, snapshot); err != nil {
		m.logger.WithError(err).Warn("Snapshot mirror write failed")
	}
	return nil
}

func (m *MirroredStore) PutArtifact(ctx context.Context, cycleID, name string, data []byte) (string, error) {
	hash, err := m.primary.PutArtifact(ctx, cycleID, name, data)
	if err != nil {
		return "", err
	}
	if _, err := m.mirror.PutArtifact(ctx, cycleID, name, data); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"cycle_id": cycleID,
			"artifact": name,
		}).Warn("Artifact mirror write failed")
	}
	return hash, nil
}

func (m *MirroredStore) GetArtifact(ctx context.Context, cycleID, name string) ([]byte, error) {
	data, err := m.primary.GetArtifact(ctx, cycleID, name)
	if errors.Is(err, ErrNotFound) {
		return m.mirror.GetArtifact(ctx, cycleID, name)
	}
	return data, err
}
