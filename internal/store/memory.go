package store

import (
	"context"
	"encoding/json"

	"github.com/helios-labs/strategy-governor/internal/models"
)

// MemoryStore is an in-memory StateStore used by tests. Values are
// round-tripped through JSON so tests observe the same serialization
// behavior as the durable backends.
type MemoryStore struct {
	state     []byte
	snapshot  []byte
	artifacts map[string][]byte

	StateSaves    int
	SnapshotSaves int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string][]byte)}
}

func (m *MemoryStore) LoadState(ctx context.Context) (*models.AutonomyState, error) {
	if m.state == nil {
		return nil, ErrNotFound
	}
	var state models.AutonomyState
	if err := json.Unmarshal(m.state, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (m *MemoryStore) SaveState(ctx context.Context, state *models.AutonomyState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.state = data
	m.StateSaves++
	return nil
}

func (m *MemoryStore) LoadSnapshot(ctx context.Context) (*models.OverrideSnapshot, error) {
	if m.snapshot == nil {
		return nil, ErrNotFound
	}
	var snap models.OverrideSnapshot
	if err := json.Unmarshal(m.snapshot, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (m *MemoryStore) SaveSnapshot(ctx context.Context, snapshot *models.OverrideSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	m.snapshot = data
	m.SnapshotSaves++
	return nil
}

func (m *MemoryStore) PutArtifact(ctx context.Context, cycleID, name string, data []byte) (string, error) {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.artifacts[cycleID+"/"+name] = cp
	return ContentHash(data), nil
}

func (m *MemoryStore) GetArtifact(ctx context.Context, cycleID, name string) ([]byte, error) {
	data, ok := m.artifacts[cycleID+"/"+name]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}
