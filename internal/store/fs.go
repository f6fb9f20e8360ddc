package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/helios-labs/strategy-governor/internal/models"
)

// FSStore persists governance data under a local directory:
//
//	<root>/autonomy-state.json
//	<root>/override-snapshot.json
//	<root>/cycles/<cycleID>/<artifact>
//
// It is the mirror in production and the sole backend otherwise.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (f *FSStore) statePath() string    { return filepath.Join(f.root, "autonomy-state.json") }
func (f *FSStore) snapshotPath() string { return filepath.Join(f.root, "override-snapshot.json") }

func (f *FSStore) artifactPath(cycleID, name string) (string, error) {
	// Cycle ids and artifact names come from internal callers, but a
	// path separator in either would escape the root.
	if strings.ContainsAny(cycleID, `/\`) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid artifact key %q/%q", cycleID, name)
	}
	return filepath.Join(f.root, "cycles", cycleID, name), nil
}

func (f *FSStore) LoadState(ctx context.Context) (*models.AutonomyState, error) {
	var state models.AutonomyState
	if err := f.readJSON(f.statePath(), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (f *FSStore) SaveState(ctx context.Context, state *models.AutonomyState) error {
	return f.writeJSON(f.statePath(), state)
}

func (f *FSStore) LoadSnapshot(ctx context.Context) (*models.OverrideSnapshot, error) {
	var snap models.OverrideSnapshot
	if err := f.readJSON(f.snapshotPath(), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (f *FSStore) SaveSnapshot(ctx context.Context, snapshot *models.OverrideSnapshot) error {
	return f.writeJSON(f.snapshotPath(), snapshot)
}

func (f *FSStore) PutArtifact(ctx context.Context, cycleID, name string, data []byte) (string, error) {
	path, err := f.artifactPath(cycleID, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create cycle dir: %w", err)
	}
	if err := atomicWrite(path, data); err != nil {
		return "", err
	}
	return ContentHash(data), nil
}

func (f *FSStore) GetArtifact(ctx context.Context, cycleID, name string) ([]byte, error) {
	path, err := f.artifactPath(cycleID, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (f *FSStore) readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (f *FSStore) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(path, data)
}

// atomicWrite avoids readers observing a half-written file.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
