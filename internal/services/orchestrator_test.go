package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helios-labs/strategy-governor/internal/models"
	"github.com/helios-labs/strategy-governor/internal/store"
	"github.com/helios-labs/strategy-governor/pkg/oracle"
)

// fakeOracle scripts the oracle service for orchestrator tests.
type fakeOracle struct {
	policy    *oracle.ModelPolicy
	policyErr error

	createErr    error
	createdBatch *oracle.Batch
	createdCalls int
	lastRequests []oracle.BatchRequest

	status    *oracle.BatchStatus
	statusErr error

	pages      []oracle.ResultsPage
	resultsErr error
	pageCalls  int
}

func (f *fakeOracle) ResolveFrontierModel(ctx context.Context) (*oracle.ModelPolicy, error) {
	return f.policy, f.policyErr
}

func (f *fakeOracle) CreateBatch(ctx context.Context, requests []oracle.BatchRequest) (*oracle.Batch, error) {
	f.createdCalls++
	f.lastRequests = requests
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createdBatch, nil
}

func (f *fakeOracle) GetBatchStatus(ctx context.Context, batchID string) (*oracle.BatchStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeOracle) GetBatchResults(ctx context.Context, batchID, cursor string) (*oracle.ResultsPage, error) {
	if f.resultsErr != nil {
		return nil, f.resultsErr
	}
	page := f.pages[f.pageCalls]
	f.pageCalls++
	return &page, nil
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() string {
	s.n++
	return fmt.Sprintf("run-%d", s.n)
}

type recordingNotifier struct {
	cycles []*models.Cycle
}

func (n *recordingNotifier) NotifyCycle(ctx context.Context, cycle *models.Cycle) {
	n.cycles = append(n.cycles, cycle)
}

func healthyOracle() *fakeOracle {
	return &fakeOracle{
		policy:       &oracle.ModelPolicy{OK: true, SelectedModel: "frontier-1"},
		createdBatch: &oracle.Batch{ID: "batch-1", Status: oracle.BatchStatusQueued},
		status:       &oracle.BatchStatus{ID: "batch-1", Status: oracle.BatchStatusCompleted},
	}
}

func resultsFor(cycleID, decisionContent string) []oracle.ResultsPage {
	return []oracle.ResultsPage{{
		Results: []oracle.BatchResult{
			{CustomID: DecisionRequestID(cycleID, RequestKindDecision), Content: decisionContent},
			{CustomID: DecisionRequestID(cycleID, RequestKindSelfCritique), Content: decisionContent},
		},
	}}
}

type orchFixture struct {
	orch     *Orchestrator
	store    *store.MemoryStore
	oracle   *fakeOracle
	notifier *recordingNotifier
	now      time.Time
}

func newOrchFixture(t *testing.T, cfg OrchestratorConfig, fo *fakeOracle) *orchFixture {
	t.Helper()
	logger := testLogger()
	mem := store.NewMemoryStore()
	catalog := DefaultCatalog()
	notifier := &recordingNotifier{}

	fix := &orchFixture{
		store:    mem,
		oracle:   fo,
		notifier: notifier,
		now:      time.Date(2026, 3, 7, 14, 5, 0, 0, time.UTC),
	}

	fix.orch = NewOrchestrator(cfg, OrchestratorDeps{
		Store:     mem,
		Oracle:    fo,
		Matrix:    NewMatrixBuilder(catalog, nil, nil, models.PolicyThresholds{}, logger),
		Budget:    NewBudgetGate(10.0, 2.0, 10.0, logger),
		Snapshots: NewSnapshotService(mem, nil, 3, logger),
		Catalog:   catalog,
		Notifier:  notifier,
		IDs:       &seqIDs{},
		Now:       func() time.Time { return fix.now },
		Logger:    logger,
	})
	return fix
}

func enabledConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Enabled:         true,
		ApplyOverrides:  true,
		BatchSubmission: true,
		MaxOutputTokens: 2048,
	}
}

func (f *orchFixture) state(t *testing.T) *models.AutonomyState {
	t.Helper()
	state, err := f.store.LoadState(context.Background())
	require.NoError(t, err)
	return state
}

func TestRunCycle_DisabledRecordsNoop(t *testing.T) {
	cfg := enabledConfig()
	cfg.Enabled = false
	fix := newOrchFixture(t, cfg, healthyOracle())

	res, err := fix.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "2026030714", res.CycleID)
	assert.Equal(t, models.CycleStatusNoop, res.Status)
	assert.Equal(t, models.ReasonDisabled, res.ReasonCode)
	assert.Zero(t, fix.oracle.createdCalls)
	require.Len(t, fix.notifier.cycles, 1)

	// The noop cycle and its report still land in the audit trail.
	state := fix.state(t)
	require.Contains(t, state.Cycles, "2026030714")
	_, err = fix.store.GetArtifact(context.Background(), "2026030714", "decision-report.md")
	assert.NoError(t, err)
}

func TestRunCycle_SubmitsBatchAndGoesPending(t *testing.T) {
	fix := newOrchFixture(t, enabledConfig(), healthyOracle())

	res, err := fix.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.CycleStatusPending, res.Status)
	assert.Equal(t, models.ReasonPendingBatch, res.ReasonCode)

	state := fix.state(t)
	require.NotNil(t, state.PendingBatch)
	assert.Equal(t, "2026030714", state.PendingBatch.CycleID)
	assert.Equal(t, "batch-1", state.PendingBatch.BatchID)
	assert.Equal(t, []string{"2026030714:decision", "2026030714:self_critique"}, state.PendingBatch.RequestIDs)

	// Two prompts, same model, structured output requested.
	require.Len(t, fix.oracle.lastRequests, 2)
	assert.Equal(t, "frontier-1", fix.oracle.lastRequests[0].Model)
	assert.Equal(t, "json_object", fix.oracle.lastRequests[0].ResponseFormat)

	// Matrix artifact written and hashed into the cycle record.
	cycle := state.Cycles["2026030714"]
	require.NotNil(t, cycle)
	assert.NotEmpty(t, cycle.MatrixHash)
	matrixData, err := fix.store.GetArtifact(context.Background(), "2026030714", "decision-matrix.json")
	require.NoError(t, err)
	assert.Equal(t, store.ContentHash(matrixData), cycle.MatrixHash)

	// Budget usage accrued on submission.
	assert.Equal(t, 1, state.DailyUsage["20260307"].CycleCount)

	// Pending cycles do not notify.
	assert.Empty(t, fix.notifier.cycles)
}

func TestRunCycle_IdempotentWithinSameHour(t *testing.T) {
	fix := newOrchFixture(t, enabledConfig(), healthyOracle())
	ctx := context.Background()

	first, err := fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	fix.now = fix.now.Add(10 * time.Minute)
	second, err := fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, first.CycleID, second.CycleID)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, 1, fix.oracle.createdCalls)
	assert.Equal(t, 1, fix.state(t).DailyUsage["20260307"].CycleCount)
}

func TestRunCycle_BudgetCapNoop(t *testing.T) {
	fix := newOrchFixture(t, enabledConfig(), healthyOracle())

	// $9.99 already spent; the submission estimate alone crosses the
	// $10 daily cap.
	state := models.NewAutonomyState()
	state.Usage("20260307").CostUSD = decimal.NewFromFloat(9.99)
	require.NoError(t, fix.store.SaveState(context.Background(), state))

	res, err := fix.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.CycleStatusNoop, res.Status)
	assert.Equal(t, models.ReasonBudgetCap, res.ReasonCode)
	assert.Zero(t, fix.oracle.createdCalls)
}

func TestRunCycle_ModelPolicyFailNoop(t *testing.T) {
	fo := healthyOracle()
	fo.policy = &oracle.ModelPolicy{OK: false, Reason: "no eligible model"}
	fix := newOrchFixture(t, enabledConfig(), fo)

	res, err := fix.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.CycleStatusNoop, res.Status)
	assert.Equal(t, models.ReasonModelPolicyFail, res.ReasonCode)
	assert.Zero(t, fix.oracle.createdCalls)
}

func TestRunCycle_SubmitFailureNoop(t *testing.T) {
	fo := healthyOracle()
	fo.createErr = errors.New("oracle 503")
	fix := newOrchFixture(t, enabledConfig(), fo)

	res, err := fix.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.CycleStatusNoop, res.Status)
	assert.Equal(t, models.ReasonOracleUnavailable, res.ReasonCode)
	assert.Nil(t, fix.state(t).PendingBatch)
	// Nothing submitted, nothing accrued.
	assert.Empty(t, fix.state(t).DailyUsage)
}

func TestRunCycle_ReconcileAppliesDecision(t *testing.T) {
	fo := healthyOracle()
	fix := newOrchFixture(t, enabledConfig(), fo)
	ctx := context.Background()

	_, err := fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	decision := `{
		"decision": "adjust",
		"reason": "losses clustered on fresh launches",
		"confidence": 0.8,
		"targets": [{"strategyId": "pump_fresh_tight", "patch": {"stopLossPct": 40}, "confidence": 0.8}],
		"constraintsCheck": {"pass": true, "reasons": ["within envelope"]},
		"alternativesConsidered": [{"option": "hold", "rejectionReason": "trend persisted"}]
	}`
	fo.pages = resultsFor("2026030714", decision)

	fix.now = fix.now.Add(time.Hour)
	res, err := fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	// The new hour's cycle goes pending again; the reconciled cycle is
	// the previous one.
	assert.Equal(t, "2026030715", res.CycleID)

	state := fix.state(t)
	prev := state.Cycles["2026030714"]
	require.NotNil(t, prev)
	assert.Equal(t, models.CycleStatusCompleted, prev.Status)
	assert.Equal(t, models.ReasonCompleted, prev.ReasonCode)
	assert.Equal(t, 2, prev.AppliedOverrideVersion)
	assert.NotEmpty(t, prev.ResponseHash)
	assert.NotEmpty(t, prev.DecisionHash)
	assert.Equal(t, "2026030714", state.LatestCompletedCycleID)

	// The clamped override is live.
	snap, err := fix.store.LoadSnapshot(ctx)
	require.NoError(t, err)
	patch, ok := snap.PatchFor("pump_fresh_tight")
	require.True(t, ok)
	assert.Equal(t, 25.0, patch.Patch["stopLossPct"])

	for _, name := range []string{"decision-response.json", "applied-overrides.json", "decision-report.md"} {
		_, err := fix.store.GetArtifact(ctx, "2026030714", name)
		assert.NoError(t, err, name)
	}
}

func TestRunCycle_ShadowModeValidatesButNeverApplies(t *testing.T) {
	fo := healthyOracle()
	cfg := enabledConfig()
	cfg.ApplyOverrides = false
	fix := newOrchFixture(t, cfg, fo)
	ctx := context.Background()

	_, err := fix.orch.RunCycle(ctx)
	require.NoError(t, err)
	savesAfterSubmit := fix.store.SnapshotSaves

	decision := `{
		"decision": "adjust",
		"reason": "losses clustered",
		"confidence": 0.8,
		"targets": [{"strategyId": "pump_fresh_tight", "patch": {"stopLossPct": 18}, "confidence": 0.8}],
		"constraintsCheck": {"pass": true, "reasons": ["within envelope"]},
		"alternativesConsidered": [{"option": "hold", "rejectionReason": "trend persisted"}]
	}`
	fo.pages = resultsFor("2026030714", decision)

	fix.now = fix.now.Add(time.Hour)
	_, err = fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	state := fix.state(t)
	prev := state.Cycles["2026030714"]
	assert.Equal(t, models.CycleStatusNoop, prev.Status)
	assert.Equal(t, models.ReasonApplyDisabled, prev.ReasonCode)
	assert.Zero(t, prev.AppliedOverrideVersion)
	// The snapshot was never touched.
	assert.Equal(t, savesAfterSubmit, fix.store.SnapshotSaves)
	assert.Zero(t, fix.store.SnapshotSaves)
}

func TestRunCycle_SchemaInvalidNoop(t *testing.T) {
	fo := healthyOracle()
	fix := newOrchFixture(t, enabledConfig(), fo)
	ctx := context.Background()

	_, err := fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	fo.pages = resultsFor("2026030714", `{"decision": "adjust", "reason": "x", "confidence": 0.5}`)

	fix.now = fix.now.Add(time.Hour)
	_, err = fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	state := fix.state(t)
	prev := state.Cycles["2026030714"]
	assert.Equal(t, models.CycleStatusNoop, prev.Status)
	assert.Equal(t, models.ReasonSchemaInvalid, prev.ReasonCode)
	// The invalid batch was cleared; the new hour owns the pending slot.
	require.NotNil(t, state.PendingBatch)
	assert.Equal(t, "2026030715", state.PendingBatch.CycleID)
}

func TestRunCycle_ConstraintBlockNoop(t *testing.T) {
	fo := healthyOracle()
	fix := newOrchFixture(t, enabledConfig(), fo)
	ctx := context.Background()

	_, err := fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	decision := `{
		"decision": "adjust",
		"reason": "risky move",
		"confidence": 0.4,
		"targets": [{"strategyId": "pump_fresh_tight", "patch": {"stopLossPct": 18}, "confidence": 0.4}],
		"constraintsCheck": {"pass": false, "reasons": ["delta exceeds envelope"]},
		"alternativesConsidered": [{"option": "hold", "rejectionReason": "unclear"}]
	}`
	fo.pages = resultsFor("2026030714", decision)

	fix.now = fix.now.Add(time.Hour)
	_, err = fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	prev := fix.state(t).Cycles["2026030714"]
	assert.Equal(t, models.CycleStatusNoop, prev.Status)
	assert.Equal(t, models.ReasonConstraintBlock, prev.ReasonCode)
	assert.Zero(t, fix.store.SnapshotSaves)
}

func TestRunCycle_BatchStillRunningStaysPending(t *testing.T) {
	fo := healthyOracle()
	fo.status = &oracle.BatchStatus{ID: "batch-1", Status: oracle.BatchStatusInProgress}
	fix := newOrchFixture(t, enabledConfig(), fo)
	ctx := context.Background()

	_, err := fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	fix.now = fix.now.Add(time.Hour)
	_, err = fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	state := fix.state(t)
	require.NotNil(t, state.PendingBatch)
	assert.Equal(t, "2026030714", state.PendingBatch.CycleID)
	assert.Equal(t, models.CycleStatusPending, state.Cycles["2026030714"].Status)
	// And the new hour was gated by the active-cycle limit.
	assert.Equal(t, models.ReasonActiveCycleLimit, state.Cycles["2026030715"].ReasonCode)
}

func TestRunCycle_BatchFailedNoop(t *testing.T) {
	fo := healthyOracle()
	fix := newOrchFixture(t, enabledConfig(), fo)
	ctx := context.Background()

	_, err := fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	fo.status = &oracle.BatchStatus{ID: "batch-1", Status: oracle.BatchStatusExpired}
	fix.now = fix.now.Add(time.Hour)
	_, err = fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	state := fix.state(t)
	prev := state.Cycles["2026030714"]
	assert.Equal(t, models.CycleStatusNoop, prev.Status)
	assert.Equal(t, models.ReasonOracleUnavailable, prev.ReasonCode)
}

func TestRunCycle_StaleBatchAbandoned(t *testing.T) {
	fo := healthyOracle()
	fix := newOrchFixture(t, enabledConfig(), fo)
	ctx := context.Background()

	_, err := fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	// Three hours pass: the pending batch is now older than the
	// previous cycle and must be abandoned, not reconciled.
	fix.now = fix.now.Add(3 * time.Hour)
	res, err := fix.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026030717", res.CycleID)

	state := fix.state(t)
	stale := state.Cycles["2026030714"]
	assert.Equal(t, models.CycleStatusError, stale.Status)
	assert.Equal(t, models.ReasonOracleUnavailable, stale.ReasonCode)
	require.NotNil(t, state.PendingBatch)
	assert.Equal(t, "2026030717", state.PendingBatch.CycleID)
}

func TestRunCycle_DecisionResultErrorNoop(t *testing.T) {
	fo := healthyOracle()
	fix := newOrchFixture(t, enabledConfig(), fo)
	ctx := context.Background()

	_, err := fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	fo.pages = []oracle.ResultsPage{{
		Results: []oracle.BatchResult{
			{CustomID: "2026030714:decision", Error: "model overloaded"},
			{CustomID: "2026030714:self_critique", Content: "{}"},
		},
	}}

	fix.now = fix.now.Add(time.Hour)
	_, err = fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	prev := fix.state(t).Cycles["2026030714"]
	assert.Equal(t, models.CycleStatusNoop, prev.Status)
	assert.Equal(t, models.ReasonOracleUnavailable, prev.ReasonCode)
}

func TestRunCycle_HoldCompletesWithoutSnapshotWrite(t *testing.T) {
	fo := healthyOracle()
	fix := newOrchFixture(t, enabledConfig(), fo)
	ctx := context.Background()

	_, err := fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	decision := `{
		"decision": "hold",
		"reason": "no actionable signal",
		"confidence": 0.9,
		"constraintsCheck": {"pass": true, "reasons": ["nothing proposed"]},
		"alternativesConsidered": [{"option": "adjust", "rejectionReason": "insufficient evidence"}]
	}`
	fo.pages = resultsFor("2026030714", decision)

	fix.now = fix.now.Add(time.Hour)
	_, err = fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	prev := fix.state(t).Cycles["2026030714"]
	assert.Equal(t, models.CycleStatusCompleted, prev.Status)
	assert.Equal(t, models.ReasonCompleted, prev.ReasonCode)
	assert.Zero(t, fix.store.SnapshotSaves)
}

func TestRunCycle_PaginatedResults(t *testing.T) {
	fo := healthyOracle()
	fix := newOrchFixture(t, enabledConfig(), fo)
	ctx := context.Background()

	_, err := fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	decision := `{
		"decision": "hold",
		"reason": "no signal",
		"confidence": 0.9,
		"constraintsCheck": {"pass": true, "reasons": ["ok"]},
		"alternativesConsidered": [{"option": "adjust", "rejectionReason": "none"}]
	}`
	fo.pages = []oracle.ResultsPage{
		{
			Results:    []oracle.BatchResult{{CustomID: "2026030714:decision", Content: decision}},
			NextCursor: "p2",
			HasMore:    true,
		},
		{
			Results: []oracle.BatchResult{{CustomID: "2026030714:self_critique", Content: decision}},
		},
	}

	fix.now = fix.now.Add(time.Hour)
	_, err = fix.orch.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, fo.pageCalls)
	assert.Equal(t, models.CycleStatusCompleted, fix.state(t).Cycles["2026030714"].Status)
}
