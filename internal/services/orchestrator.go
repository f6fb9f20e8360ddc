package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/helios-labs/strategy-governor/internal/models"
	"github.com/helios-labs/strategy-governor/internal/store"
	"github.com/helios-labs/strategy-governor/pkg/oracle"
)

// maxResultPages bounds the paginated result fetch.
const maxResultPages = 20

// IDGenerator produces run ids for the audit trail. Injected so the
// orchestrator owns id generation instead of leaning on global state.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator is the production IDGenerator.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// OrchestratorConfig carries the environment-level policy switches.
type OrchestratorConfig struct {
	Enabled         bool
	ApplyOverrides  bool
	BatchSubmission bool
	MaxOutputTokens int
}

// OrchestratorDeps are the collaborators the orchestrator ties
// together.
type OrchestratorDeps struct {
	Store     store.StateStore
	Oracle    oracle.API
	Matrix    *MatrixBuilder
	Budget    *BudgetGate
	Snapshots *SnapshotService
	Catalog   *Catalog
	Notifier  Notifier
	IDs       IDGenerator
	Now       func() time.Time
	Logger    *logrus.Logger
}

// CycleResult summarizes one orchestrator invocation.
type CycleResult struct {
	CycleID        string
	Status         models.CycleStatus
	ReasonCode     models.ReasonCode
	AppliedVersion int
}

// Orchestrator is the hourly governance state machine. There is
// exactly one governance process; invocations are scheduled, never
// concurrent, so the aggregate state needs no locking.
type Orchestrator struct {
	cfg       OrchestratorConfig
	store     store.StateStore
	oracle    oracle.API
	matrix    *MatrixBuilder
	budget    *BudgetGate
	snapshots *SnapshotService
	catalog   *Catalog
	notifier  Notifier
	ids       IDGenerator
	now       func() time.Time
	logger    *logrus.Logger
	tracer    trace.Tracer
}

// NewOrchestrator wires the cycle orchestrator.
func NewOrchestrator(cfg OrchestratorConfig, deps OrchestratorDeps) *Orchestrator {
	if deps.IDs == nil {
		deps.IDs = UUIDGenerator{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 4096
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		oracle:    deps.Oracle,
		matrix:    deps.Matrix,
		budget:    deps.Budget,
		snapshots: deps.Snapshots,
		catalog:   deps.Catalog,
		notifier:  deps.Notifier,
		ids:       deps.IDs,
		now:       deps.Now,
		logger:    deps.Logger,
		tracer:    otel.Tracer("strategy-governor/orchestrator"),
	}
}

// RunCycle executes one scheduled invocation: reconcile any previous
// pending batch, then handle the current hour. Repeat invocations
// within the same hour are no-ops. External failures degrade to reason
// codes; only state-store faults surface as errors.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleResult, error) {
	ctx, span := o.tracer.Start(ctx, "governance.run_cycle")
	defer span.End()

	runID := o.ids.NewID()
	now := o.now().UTC()
	cycleID := CurrentCycleID(now)
	span.SetAttributes(attribute.String("governance.cycle_id", cycleID))

	log := o.logger.WithFields(logrus.Fields{"run_id": runID, "cycle_id": cycleID})

	state, err := o.store.LoadState(ctx)
	if errors.Is(err, store.ErrNotFound) {
		state = models.NewAutonomyState()
	} else if err != nil {
		return nil, fmt.Errorf("load autonomy state: %w", err)
	}
	state.LatestCycleID = cycleID

	if !o.cfg.Enabled {
		log.Info("Governance disabled, recording noop cycle")
		cycle := o.ensureCycle(state, cycleID, now)
		if !cycle.Status.IsTerminal() {
			o.finalize(ctx, state, cycle, models.CycleStatusNoop, models.ReasonDisabled, now,
				CycleReport{RunID: runID})
		}
		return o.persist(ctx, state, cycle)
	}

	// Reconcile a prior cycle's outstanding batch first. A batch older
	// than the immediately preceding cycle is abandoned, bounding
	// recovery to one cycle of carry-over.
	if pb := state.PendingBatch; pb != nil && pb.CycleID != cycleID {
		prev, perr := PreviousCycleID(cycleID)
		if perr == nil && pb.CycleID == prev {
			o.reconcile(ctx, state, pb, runID, now, log)
		} else {
			o.abandonStale(ctx, state, pb, runID, now, log)
		}
	}

	// Repeat invocation within the same hour.
	if existing := state.Cycles[cycleID]; existing != nil {
		log.WithField("status", existing.Status).Debug("Cycle already recorded, idempotent return")
		return o.persist(ctx, state, existing)
	}

	cycle := o.submitCycle(ctx, state, runID, cycleID, now, log)
	return o.persist(ctx, state, cycle)
}

// submitCycle builds the matrix, passes the budget gate, resolves a
// model, and submits the two-prompt batch for the current hour.
func (o *Orchestrator) submitCycle(ctx context.Context, state *models.AutonomyState, runID, cycleID string, now time.Time, log *logrus.Entry) *models.Cycle {
	cycle := o.ensureCycle(state, cycleID, now)
	report := CycleReport{RunID: runID}

	if !o.cfg.BatchSubmission {
		log.Info("Batch submission disabled, recording noop cycle")
		o.finalize(ctx, state, cycle, models.CycleStatusNoop, models.ReasonDisabled, now, report)
		return cycle
	}

	snapshot, err := o.snapshots.Current(ctx)
	if err != nil {
		log.WithError(err).Warn("Snapshot load failed, matrix proceeds without active overrides")
		snapshot = nil
	}

	matrix, matrixJSON, err := o.matrix.Build(ctx, cycleID, state, snapshot, now)
	if err != nil {
		log.WithError(err).Error("Matrix build failed")
		o.finalize(ctx, state, cycle, models.CycleStatusNoop, models.ReasonOracleUnavailable, now, report)
		return cycle
	}

	matrixHash, err := o.store.PutArtifact(ctx, cycleID, "decision-matrix.json", matrixJSON)
	if err != nil {
		log.WithError(err).Warn("Matrix artifact write failed")
	}
	cycle.MatrixHash = matrixHash

	// Two prompts share the matrix, so input doubles; output is capped
	// per request.
	estIn := int64(matrix.EstimatedInputTokens) * 2
	estOut := int64(o.cfg.MaxOutputTokens) * 2
	gate := o.budget.Check(state, cycleID, estIn, estOut)
	if !gate.OK {
		o.finalize(ctx, state, cycle, models.CycleStatusNoop, gate.ReasonCode, now, report)
		return cycle
	}

	policy, err := o.oracle.ResolveFrontierModel(ctx)
	if err != nil || policy == nil || !policy.OK || policy.SelectedModel == "" {
		if err != nil {
			log.WithError(err).Warn("Model policy resolution failed")
		}
		o.finalize(ctx, state, cycle, models.CycleStatusNoop, models.ReasonModelPolicyFail, now, report)
		return cycle
	}

	requests := []oracle.BatchRequest{
		{
			CustomID:       DecisionRequestID(cycleID, RequestKindDecision),
			Model:          policy.SelectedModel,
			Prompt:         BuildDecisionPrompt(matrixJSON),
			MaxTokens:      o.cfg.MaxOutputTokens,
			ResponseFormat: "json_object",
		},
		{
			CustomID:       DecisionRequestID(cycleID, RequestKindSelfCritique),
			Model:          policy.SelectedModel,
			Prompt:         BuildSelfCritiquePrompt(matrixJSON),
			MaxTokens:      o.cfg.MaxOutputTokens,
			ResponseFormat: "json_object",
		},
	}

	batch, err := o.oracle.CreateBatch(ctx, requests)
	if err != nil {
		log.WithError(err).Warn("Batch submission failed")
		o.finalize(ctx, state, cycle, models.CycleStatusNoop, models.ReasonOracleUnavailable, now, report)
		return cycle
	}

	o.budget.Record(state, cycleID, estIn, estOut, gate.EstimatedCostUSD)

	state.PendingBatch = &models.PendingBatch{
		CycleID:     cycleID,
		BatchID:     batch.ID,
		RequestIDs:  []string{requests[0].CustomID, requests[1].CustomID},
		Model:       policy.SelectedModel,
		Matrix:      json.RawMessage(matrixJSON),
		MatrixHash:  matrixHash,
		SubmittedAt: now,
	}

	cycle.Status = models.CycleStatusPending
	cycle.ReasonCode = models.ReasonPendingBatch
	cycle.BatchID = batch.ID
	cycle.Model = policy.SelectedModel
	cycle.UpdatedAt = now
	o.writeReport(ctx, cycle, report, now)

	log.WithFields(logrus.Fields{
		"batch_id": batch.ID,
		"model":    policy.SelectedModel,
		"est_cost": gate.EstimatedCostUSD.String(),
	}).Info("Governance batch submitted")
	return cycle
}

// reconcile polls the previous cycle's batch and, when it is done,
// drives the decision through validation and (permission allowing) the
// snapshot state machine. A batch that is not finished, or whose
// results cannot be fetched, stays pending for the next invocation.
func (o *Orchestrator) reconcile(ctx context.Context, state *models.AutonomyState, pb *models.PendingBatch, runID string, now time.Time, log *logrus.Entry) {
	log = log.WithFields(logrus.Fields{"pending_cycle": pb.CycleID, "batch_id": pb.BatchID})

	status, err := o.oracle.GetBatchStatus(ctx, pb.BatchID)
	if err != nil {
		log.WithError(err).Warn("Batch status poll failed, will retry next invocation")
		return
	}

	cycle := o.ensureCycle(state, pb.CycleID, now)
	report := CycleReport{RunID: runID}

	if status.Failed() {
		log.WithField("batch_status", status.Status).Warn("Batch terminally failed")
		state.PendingBatch = nil
		o.finalize(ctx, state, cycle, models.CycleStatusNoop, models.ReasonOracleUnavailable, now, report)
		return
	}
	if !status.Completed() {
		log.WithField("batch_status", status.Status).Info("Batch still running")
		return
	}

	results, rawResults, err := o.fetchAllResults(ctx, pb.BatchID)
	if err != nil {
		log.WithError(err).Warn("Batch result fetch failed, will retry next invocation")
		return
	}

	if hash, err := o.store.PutArtifact(ctx, pb.CycleID, "decision-response.json", rawResults); err != nil {
		log.WithError(err).Warn("Response artifact write failed")
	} else {
		cycle.ResponseHash = hash
	}

	decisionResult, ok := results[DecisionRequestID(pb.CycleID, RequestKindDecision)]
	if !ok || decisionResult.Error != "" || decisionResult.Content == "" {
		log.Warn("Decision request produced no usable content")
		state.PendingBatch = nil
		o.finalize(ctx, state, cycle, models.CycleStatusNoop, models.ReasonOracleUnavailable, now, report)
		return
	}

	// The self-critique is validated and archived but never drives a
	// transition.
	if critiqueResult, ok := results[DecisionRequestID(pb.CycleID, RequestKindSelfCritique)]; ok {
		critique := ValidateAutonomyDecision(critiqueResult.Content)
		report.Critique = critique.Decision
		report.CritiqueErrors = critique.Errors
	}

	vres := ValidateAutonomyDecision(decisionResult.Content)
	report.ValidationErrors = vres.Errors
	state.PendingBatch = nil

	if !vres.OK {
		log.WithField("errors", len(vres.Errors)).Warn("Oracle decision failed schema validation")
		o.finalize(ctx, state, cycle, models.CycleStatusNoop, models.ReasonSchemaInvalid, now, report)
		return
	}

	decision := vres.Decision
	report.Decision = decision
	if data, err := json.Marshal(decision); err == nil {
		cycle.DecisionHash = store.ContentHash(data)
	}

	switch {
	case !decision.ConstraintsCheck.Pass:
		o.finalize(ctx, state, cycle, models.CycleStatusNoop, models.ReasonConstraintBlock, now, report)

	case decision.Decision == models.DecisionHold:
		o.finalize(ctx, state, cycle, models.CycleStatusCompleted, models.ReasonCompleted, now, report)

	case !o.cfg.ApplyOverrides:
		// Shadow mode: fully validated and audited, snapshot untouched.
		log.Info("Apply permission withheld, decision recorded in shadow mode")
		o.finalize(ctx, state, cycle, models.CycleStatusNoop, models.ReasonApplyDisabled, now, report)

	default:
		res, err := o.snapshots.Apply(ctx, decision, o.catalog, pb.CycleID, now)
		if err != nil {
			log.WithError(err).Error("Snapshot apply failed")
			o.finalize(ctx, state, cycle, models.CycleStatusError, models.ReasonOracleUnavailable, now, report)
			return
		}
		report.Violations = res.Violations
		if res.Changed {
			cycle.AppliedOverrideVersion = res.Snapshot.Version
			report.SnapshotVersion = res.Snapshot.Version
			if data, err := json.MarshalIndent(res.Snapshot, "", "  "); err == nil {
				if _, err := o.store.PutArtifact(ctx, pb.CycleID, "applied-overrides.json", data); err != nil {
					log.WithError(err).Warn("Applied-overrides artifact write failed")
				}
			}
		}
		o.finalize(ctx, state, cycle, models.CycleStatusCompleted, models.ReasonCompleted, now, report)
	}
}

// abandonStale discards a pending batch older than one cycle back.
func (o *Orchestrator) abandonStale(ctx context.Context, state *models.AutonomyState, pb *models.PendingBatch, runID string, now time.Time, log *logrus.Entry) {
	log.WithFields(logrus.Fields{
		"pending_cycle": pb.CycleID,
		"batch_id":      pb.BatchID,
	}).Warn("Abandoning stale pending batch")

	cycle := o.ensureCycle(state, pb.CycleID, now)
	state.PendingBatch = nil
	if !cycle.Status.IsTerminal() {
		o.finalize(ctx, state, cycle, models.CycleStatusError, models.ReasonOracleUnavailable, now,
			CycleReport{RunID: runID})
	}
}

// fetchAllResults walks the paginated results endpoint and returns the
// results keyed by request id plus their raw serialization for the
// audit artifact.
func (o *Orchestrator) fetchAllResults(ctx context.Context, batchID string) (map[string]oracle.BatchResult, []byte, error) {
	all := make([]oracle.BatchResult, 0, 2)
	cursor := ""
	for page := 0; page < maxResultPages; page++ {
		rp, err := o.oracle.GetBatchResults(ctx, batchID, cursor)
		if err != nil {
			return nil, nil, err
		}
		all = append(all, rp.Results...)
		if !rp.HasMore || rp.NextCursor == "" {
			break
		}
		cursor = rp.NextCursor
	}

	byID := make(map[string]oracle.BatchResult, len(all))
	for _, r := range all {
		byID[r.CustomID] = r
	}
	raw, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return byID, raw, nil
}

func (o *Orchestrator) ensureCycle(state *models.AutonomyState, cycleID string, now time.Time) *models.Cycle {
	if c, ok := state.Cycles[cycleID]; ok {
		return c
	}
	c := &models.Cycle{ID: cycleID, CreatedAt: now, UpdatedAt: now}
	if state.Cycles == nil {
		state.Cycles = make(map[string]*models.Cycle)
	}
	state.Cycles[cycleID] = c
	return c
}

// finalize moves a cycle to a terminal status, writes its report, and
// notifies operators.
func (o *Orchestrator) finalize(ctx context.Context, state *models.AutonomyState, cycle *models.Cycle, status models.CycleStatus, reason models.ReasonCode, now time.Time, report CycleReport) {
	cycle.Status = status
	cycle.ReasonCode = models.SanitizeReasonCode(reason)
	cycle.UpdatedAt = now
	if status == models.CycleStatusCompleted {
		state.LatestCompletedCycleID = cycle.ID
	}
	o.writeReport(ctx, cycle, report, now)
	if o.notifier != nil {
		o.notifier.NotifyCycle(ctx, cycle)
	}
}

func (o *Orchestrator) writeReport(ctx context.Context, cycle *models.Cycle, report CycleReport, now time.Time) {
	report.Cycle = cycle
	report.GeneratedAt = now
	data := RenderCycleReport(report)
	if _, err := o.store.PutArtifact(ctx, cycle.ID, "decision-report.md", data); err != nil {
		o.logger.WithError(err).WithField("cycle_id", cycle.ID).Warn("Report artifact write failed")
	}
}

func (o *Orchestrator) persist(ctx context.Context, state *models.AutonomyState, cycle *models.Cycle) (*CycleResult, error) {
	if err := o.store.SaveState(ctx, state); err != nil {
		return nil, fmt.Errorf("persist autonomy state: %w", err)
	}
	return &CycleResult{
		CycleID:        cycle.ID,
		Status:         cycle.Status,
		ReasonCode:     cycle.ReasonCode,
		AppliedVersion: cycle.AppliedOverrideVersion,
	}, nil
}
