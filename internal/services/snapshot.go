package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/helios-labs/strategy-governor/internal/models"
	"github.com/helios-labs/strategy-governor/internal/store"
)

// SnapshotPublisher mirrors committed snapshots to a fast read path
// for the execution consumers. Publish failures must not fail the
// commit, so implementations log and swallow.
type SnapshotPublisher interface {
	Publish(ctx context.Context, snapshot *models.OverrideSnapshot)
}

// ApplyResult is the outcome of driving one decision through the
// snapshot state machine.
type ApplyResult struct {
	Snapshot   *models.OverrideSnapshot
	Changed    bool
	Violations []string
}

// SnapshotService owns the versioned, hash-signed record of currently
// active override patches. Writers are exclusively the orchestrator.
type SnapshotService struct {
	store          store.StateStore
	publisher      SnapshotPublisher
	maxAdjustments int
	logger         *logrus.Logger
}

// NewSnapshotService wires the service. publisher may be nil.
func NewSnapshotService(st store.StateStore, publisher SnapshotPublisher, maxAdjustments int, logger *logrus.Logger) *SnapshotService {
	if maxAdjustments < 1 {
		maxAdjustments = 1
	}
	return &SnapshotService{store: st, publisher: publisher, maxAdjustments: maxAdjustments, logger: logger}
}

// Current loads the active snapshot, re-signing on read. A stored
// signature is never trusted; a mismatch is logged as tamper evidence.
func (s *SnapshotService) Current(ctx context.Context) (*models.OverrideSnapshot, error) {
	snap, err := s.store.LoadSnapshot(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return models.NewOverrideSnapshot(), nil
	}
	if err != nil {
		return nil, err
	}
	stored := snap.Signature
	snap.Sign()
	if stored != "" && stored != snap.Signature {
		s.logger.WithFields(logrus.Fields{
			"version":    snap.Version,
			"stored":     stored,
			"recomputed": snap.Signature,
		}).Warn("Override snapshot signature mismatch, re-signed on read")
	}
	return snap, nil
}

// Apply drives exactly one completed cycle's decision through the
// state machine and persists the result when it mutates.
func (s *SnapshotService) Apply(ctx context.Context, decision *models.Decision, catalog *Catalog, cycleID string, decidedAt time.Time) (*ApplyResult, error) {
	snap, err := s.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	res := &ApplyResult{Snapshot: snap}

	switch decision.Decision {
	case models.DecisionHold:
		return res, nil

	case models.DecisionAdjust, models.DecisionDisableStrategy:
		s.applyAdjust(snap, decision, catalog, cycleID, decidedAt, res)

	case models.DecisionRollback:
		s.applyRollback(snap, decision, res)

	default:
		// The validator guarantees enum membership; an unknown kind
		// reaching this point is a programming error.
		return nil, fmt.Errorf("unknown decision kind %q", decision.Decision)
	}

	snap.Version++
	snap.CycleID = cycleID
	snap.UpdatedAt = decidedAt.UTC().Truncate(time.Second)
	snap.Sign()
	res.Changed = true

	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, snap)
	}

	s.logger.WithFields(logrus.Fields{
		"cycle_id": cycleID,
		"version":  snap.Version,
		"patches":  len(snap.Patches),
		"decision": decision.Decision,
	}).Info("Override snapshot committed")
	return res, nil
}

func (s *SnapshotService) applyAdjust(snap *models.OverrideSnapshot, decision *models.Decision, catalog *Catalog, cycleID string, decidedAt time.Time, res *ApplyResult) {
	targets := decision.Targets
	if len(targets) > s.maxAdjustments {
		res.Violations = append(res.Violations,
			fmt.Sprintf("decision proposed %d targets, taking first %d", len(targets), s.maxAdjustments))
		targets = targets[:s.maxAdjustments]
	}

	for _, target := range targets {
		strategy, ok := catalog.Get(target.StrategyID)
		if !ok {
			res.Violations = append(res.Violations,
				fmt.Sprintf("strategy %q is not in the catalog", target.StrategyID))
			continue
		}

		norm := NormalizePatchAgainstBase(strategy.Base, target.Patch)
		res.Violations = append(res.Violations, norm.Violations...)

		patch := models.OverridePatch{
			StrategyID:    target.StrategyID,
			Patch:         norm.Patch,
			Disabled:      decision.Decision == models.DecisionDisableStrategy,
			Reason:        target.Reason,
			Confidence:    target.Confidence,
			Evidence:      target.Evidence,
			SourceCycleID: cycleID,
			DecidedAt:     decidedAt.UTC().Truncate(time.Second),
		}
		upsertPatch(snap, patch)
	}
}

func (s *SnapshotService) applyRollback(snap *models.OverrideSnapshot, decision *models.Decision, res *ApplyResult) {
	if len(decision.Targets) == 0 {
		// A rollback naming no targets clears every active patch.
		snap.Patches = []models.OverridePatch{}
		return
	}
	for _, target := range decision.Targets {
		if !removePatch(snap, target.StrategyID) {
			res.Violations = append(res.Violations,
				fmt.Sprintf("rollback target %q has no active patch", target.StrategyID))
		}
	}
}

// upsertPatch fully replaces any earlier patch for the same strategy,
// never merges field-by-field.
func upsertPatch(snap *models.OverrideSnapshot, patch models.OverridePatch) {
	for i, existing := range snap.Patches {
		if existing.StrategyID == patch.StrategyID {
			snap.Patches[i] = patch
			return
		}
	}
	snap.Patches = append(snap.Patches, patch)
}

func removePatch(snap *models.OverrideSnapshot, strategyID string) bool {
	for i, existing := range snap.Patches {
		if existing.StrategyID == strategyID {
			snap.Patches = append(snap.Patches[:i], snap.Patches[i+1:]...)
			return true
		}
	}
	return false
}
