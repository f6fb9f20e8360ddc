package services

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/helios-labs/strategy-governor/internal/models"
)

var tokensPerMillion = decimal.NewFromInt(1_000_000)

// GateResult is the admission-control verdict for one submission.
type GateResult struct {
	OK               bool
	ReasonCode       models.ReasonCode
	EstimatedCostUSD decimal.Decimal
}

// BudgetGate is the admission control in front of every oracle
// submission: single outstanding cycle, then daily cost cap. All
// rejections map to closed reason codes.
type BudgetGate struct {
	dailyCapUSD   decimal.Decimal
	inputPerToken decimal.Decimal
	outputPerTok  decimal.Decimal
	logger        *logrus.Logger
}

// NewBudgetGate builds a gate from a daily USD cap and per-million
// token rates.
func NewBudgetGate(dailyCapUSD, inputPerMTokUSD, outputPerMTokUSD float64, logger *logrus.Logger) *BudgetGate {
	return &BudgetGate{
		dailyCapUSD:   decimal.NewFromFloat(dailyCapUSD),
		inputPerToken: decimal.NewFromFloat(inputPerMTokUSD).Div(tokensPerMillion),
		outputPerTok:  decimal.NewFromFloat(outputPerMTokUSD).Div(tokensPerMillion),
		logger:        logger,
	}
}

// EstimateCost prices an input/output token estimate.
func (g *BudgetGate) EstimateCost(inputTokens, outputTokens int64) decimal.Decimal {
	in := g.inputPerToken.Mul(decimal.NewFromInt(inputTokens))
	out := g.outputPerTok.Mul(decimal.NewFromInt(outputTokens))
	return in.Add(out)
}

// Check admits or rejects a submission for cycleID against the current
// aggregate state.
func (g *BudgetGate) Check(state *models.AutonomyState, cycleID string, inputTokens, outputTokens int64) GateResult {
	estimate := g.EstimateCost(inputTokens, outputTokens)

	if state.PendingBatch != nil && state.PendingBatch.CycleID != cycleID {
		g.logger.WithFields(logrus.Fields{
			"cycle_id":   cycleID,
			"pending_id": state.PendingBatch.CycleID,
		}).Warn("Budget gate: another cycle's batch is still outstanding")
		return GateResult{ReasonCode: models.ReasonActiveCycleLimit, EstimatedCostUSD: estimate}
	}

	day := CycleDay(cycleID)
	spent := decimal.Zero
	if usage, ok := state.DailyUsage[day]; ok {
		spent = usage.CostUSD
	}
	if spent.Add(estimate).GreaterThan(g.dailyCapUSD) {
		g.logger.WithFields(logrus.Fields{
			"cycle_id":  cycleID,
			"day":       day,
			"spent_usd": spent.String(),
			"est_usd":   estimate.String(),
			"cap_usd":   g.dailyCapUSD.String(),
		}).Warn("Budget gate: daily cost cap would be exceeded")
		return GateResult{ReasonCode: models.ReasonBudgetCap, EstimatedCostUSD: estimate}
	}

	return GateResult{OK: true, EstimatedCostUSD: estimate}
}

// Record accrues an admitted submission's estimated usage into the
// day's budget bucket.
func (g *BudgetGate) Record(state *models.AutonomyState, cycleID string, inputTokens, outputTokens int64, cost decimal.Decimal) {
	usage := state.Usage(CycleDay(cycleID))
	usage.CostUSD = usage.CostUSD.Add(cost)
	usage.InputTokens += inputTokens
	usage.OutputTokens += outputTokens
	usage.CycleCount++
}
