package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CycleStatus represents the lifecycle state of a governance cycle.
type CycleStatus string

const (
	CycleStatusPending   CycleStatus = "pending"
	CycleStatusCompleted CycleStatus = "completed"
	CycleStatusNoop      CycleStatus = "noop"
	CycleStatusError     CycleStatus = "error"
)

// IsTerminal reports whether a cycle in this status will never change
// again, except for hash backfill.
func (s CycleStatus) IsTerminal() bool {
	return s == CycleStatusCompleted || s == CycleStatusNoop || s == CycleStatusError
}

// ReasonCode is the closed vocabulary explaining why a cycle ended in a
// given status. The audit trail never carries raw error text.
type ReasonCode string

const (
	ReasonDisabled          ReasonCode = "NOOP_DISABLED"
	ReasonOracleUnavailable ReasonCode = "NOOP_XAI_UNAVAILABLE"
	ReasonBudgetCap         ReasonCode = "NOOP_BUDGET_CAP"
	ReasonActiveCycleLimit  ReasonCode = "NOOP_ACTIVE_CYCLE_LIMIT"
	ReasonModelPolicyFail   ReasonCode = "NOOP_MODEL_POLICY_FAIL"
	ReasonSchemaInvalid     ReasonCode = "NOOP_SCHEMA_INVALID"
	ReasonConstraintBlock   ReasonCode = "NOOP_CONSTRAINT_BLOCK"
	ReasonApplyDisabled     ReasonCode = "NOOP_APPLY_DISABLED"
	ReasonPendingBatch      ReasonCode = "PENDING_BATCH"
	ReasonCompleted         ReasonCode = "COMPLETED"
)

var knownReasonCodes = map[ReasonCode]struct{}{
	ReasonDisabled:          {},
	ReasonOracleUnavailable: {},
	ReasonBudgetCap:         {},
	ReasonActiveCycleLimit:  {},
	ReasonModelPolicyFail:   {},
	ReasonSchemaInvalid:     {},
	ReasonConstraintBlock:   {},
	ReasonApplyDisabled:     {},
	ReasonPendingBatch:      {},
	ReasonCompleted:         {},
}

// SanitizeReasonCode rewrites any code outside the closed set to
// NOOP_XAI_UNAVAILABLE before it reaches durable storage.
func SanitizeReasonCode(code ReasonCode) ReasonCode {
	if _, ok := knownReasonCodes[code]; ok {
		return code
	}
	return ReasonOracleUnavailable
}

// DecisionKind is the oracle's top-level verdict.
type DecisionKind string

const (
	DecisionHold            DecisionKind = "hold"
	DecisionAdjust          DecisionKind = "adjust"
	DecisionRollback        DecisionKind = "rollback"
	DecisionDisableStrategy DecisionKind = "disable_strategy"
)

// Valid reports whether the kind is a member of the decision enum.
func (k DecisionKind) Valid() bool {
	switch k {
	case DecisionHold, DecisionAdjust, DecisionRollback, DecisionDisableStrategy:
		return true
	}
	return false
}

// Cycle is one hourly unit of governance work, keyed by a UTC hour
// bucket id (YYYYMMDDHH). Terminal cycles are never mutated again
// except to backfill artifact hashes.
type Cycle struct {
	ID                     string      `json:"id"`
	Status                 CycleStatus `json:"status"`
	ReasonCode             ReasonCode  `json:"reasonCode"`
	CreatedAt              time.Time   `json:"createdAt"`
	UpdatedAt              time.Time   `json:"updatedAt"`
	BatchID                string      `json:"batchId,omitempty"`
	Model                  string      `json:"model,omitempty"`
	MatrixHash             string      `json:"matrixHash,omitempty"`
	ResponseHash           string      `json:"responseHash,omitempty"`
	DecisionHash           string      `json:"decisionHash,omitempty"`
	AppliedOverrideVersion int         `json:"appliedOverrideVersion,omitempty"`
}

// PendingBatch records an oracle batch submitted for a cycle that has
// not completed yet. At most one exists at any time; it carries the
// full decision matrix so reconciliation never recomputes it.
type PendingBatch struct {
	CycleID     string          `json:"cycleId"`
	BatchID     string          `json:"batchId"`
	RequestIDs  []string        `json:"requestIds"`
	Model       string          `json:"model"`
	Matrix      json.RawMessage `json:"matrix"`
	MatrixHash  string          `json:"matrixHash"`
	SubmittedAt time.Time       `json:"submittedAt"`
}

// DayUsage accumulates oracle spend for one UTC day (YYYYMMDD).
type DayUsage struct {
	CostUSD      decimal.Decimal `json:"costUsd"`
	InputTokens  int64           `json:"inputTokens"`
	OutputTokens int64           `json:"outputTokens"`
	CycleCount   int             `json:"cycleCount"`
}

// AutonomyState is the aggregate root owned exclusively by the cycle
// orchestrator. Everything else reads it, nothing else writes it.
type AutonomyState struct {
	LatestCycleID          string               `json:"latestCycleId"`
	LatestCompletedCycleID string               `json:"latestCompletedCycleId"`
	PendingBatch           *PendingBatch        `json:"pendingBatch,omitempty"`
	Cycles                 map[string]*Cycle    `json:"cycles"`
	DailyUsage             map[string]*DayUsage `json:"dailyUsage"`
}

// NewAutonomyState returns an empty aggregate.
func NewAutonomyState() *AutonomyState {
	return &AutonomyState{
		Cycles:     make(map[string]*Cycle),
		DailyUsage: make(map[string]*DayUsage),
	}
}

// Usage returns the usage bucket for a day, creating it if absent.
func (s *AutonomyState) Usage(day string) *DayUsage {
	if s.DailyUsage == nil {
		s.DailyUsage = make(map[string]*DayUsage)
	}
	u, ok := s.DailyUsage[day]
	if !ok {
		u = &DayUsage{CostUSD: decimal.Zero}
		s.DailyUsage[day] = u
	}
	return u
}

// ConstraintsCheck is the oracle's self-reported constraint audit.
type ConstraintsCheck struct {
	Pass    bool     `json:"pass"`
	Reasons []string `json:"reasons"`
}

// Alternative is one option the oracle considered and rejected.
type Alternative struct {
	Option          string `json:"option"`
	RejectionReason string `json:"rejectionReason"`
}

// DecisionTarget names one strategy and the candidate patch proposed
// for it. Patch values are already coerced to finite numbers by the
// schema validator.
type DecisionTarget struct {
	StrategyID string             `json:"strategyId"`
	Patch      map[string]float64 `json:"patch"`
	Reason     string             `json:"reason,omitempty"`
	Confidence float64            `json:"confidence"`
	Evidence   []string           `json:"evidence,omitempty"`
}

// Decision is the validated oracle output for one cycle.
type Decision struct {
	Decision               DecisionKind     `json:"decision"`
	Reason                 string           `json:"reason"`
	Confidence             float64          `json:"confidence"`
	Targets                []DecisionTarget `json:"targets,omitempty"`
	Evidence               []string         `json:"evidence,omitempty"`
	ConstraintsCheck       ConstraintsCheck `json:"constraintsCheck"`
	AlternativesConsidered []Alternative    `json:"alternativesConsidered"`
}

// OverridePatch is the per-strategy unit of an override snapshot. A
// later patch for the same strategy fully replaces an earlier one.
type OverridePatch struct {
	StrategyID    string             `json:"strategyId"`
	Patch         map[string]float64 `json:"patch"`
	Disabled      bool               `json:"disabled,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Confidence    float64            `json:"confidence"`
	Evidence      []string           `json:"evidence,omitempty"`
	SourceCycleID string             `json:"sourceCycleId"`
	DecidedAt     time.Time          `json:"decidedAt"`
}

// OverrideSnapshot is the versioned, signed set of active patches the
// execution layer merges over each strategy's base configuration.
type OverrideSnapshot struct {
	Version   int             `json:"version"`
	UpdatedAt time.Time       `json:"updatedAt"`
	CycleID   string          `json:"cycleId"`
	Patches   []OverridePatch `json:"patches"`
	Signature string          `json:"signature"`
}

// NewOverrideSnapshot returns the empty initial snapshot.
func NewOverrideSnapshot() *OverrideSnapshot {
	s := &OverrideSnapshot{Version: 1, Patches: []OverridePatch{}}
	s.Sign()
	return s
}

// SortPatches orders patches by strategy id so that signatures are
// deterministic for identical content.
func (s *OverrideSnapshot) SortPatches() {
	sort.Slice(s.Patches, func(i, j int) bool {
		return s.Patches[i].StrategyID < s.Patches[j].StrategyID
	})
}

// ComputeSignature hashes the canonical snapshot excluding the
// signature field itself.
func (s *OverrideSnapshot) ComputeSignature() string {
	clone := *s
	clone.Signature = ""
	clone.SortPatches()
	data, err := json.Marshal(&clone)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sign recomputes and stores the signature. Externally supplied
// signatures are never trusted; every read and write re-signs.
func (s *OverrideSnapshot) Sign() {
	s.SortPatches()
	s.Signature = s.ComputeSignature()
}

// PatchFor returns the active patch for a strategy, if any.
func (s *OverrideSnapshot) PatchFor(strategyID string) (OverridePatch, bool) {
	for _, p := range s.Patches {
		if p.StrategyID == strategyID {
			return p, true
		}
	}
	return OverridePatch{}, false
}
