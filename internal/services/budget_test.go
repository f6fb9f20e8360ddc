package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helios-labs/strategy-governor/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestBudgetGate_EstimateCost(t *testing.T) {
	gate := NewBudgetGate(10.0, 2.0, 10.0, testLogger())

	// 100k input at $2/MTok = $0.20, 100k output at $10/MTok = $1.00.
	cost := gate.EstimateCost(100_000, 100_000)
	assert.True(t, cost.Equal(decimal.NewFromFloat(1.20)), "got %s", cost)
}

func TestBudgetGate_RejectsWhenCapWouldBeExceeded(t *testing.T) {
	gate := NewBudgetGate(10.0, 2.0, 10.0, testLogger())

	state := models.NewAutonomyState()
	state.Usage("20260307").CostUSD = decimal.NewFromFloat(9.99)

	res := gate.Check(state, "2026030714", 100_000, 100_000)
	assert.False(t, res.OK)
	assert.Equal(t, models.ReasonBudgetCap, res.ReasonCode)
}

func TestBudgetGate_AdmitsUnderCap(t *testing.T) {
	gate := NewBudgetGate(10.0, 2.0, 10.0, testLogger())

	state := models.NewAutonomyState()
	state.Usage("20260307").CostUSD = decimal.NewFromFloat(8.50)

	res := gate.Check(state, "2026030714", 100_000, 100_000)
	assert.True(t, res.OK)
	assert.Empty(t, res.ReasonCode)
}

func TestBudgetGate_SpendResetsAcrossDays(t *testing.T) {
	gate := NewBudgetGate(10.0, 2.0, 10.0, testLogger())

	state := models.NewAutonomyState()
	state.Usage("20260306").CostUSD = decimal.NewFromFloat(9.99)

	// Yesterday's spend does not count against today's cycle.
	res := gate.Check(state, "2026030700", 100_000, 100_000)
	assert.True(t, res.OK)
}

func TestBudgetGate_RejectsWhileAnotherCyclePending(t *testing.T) {
	gate := NewBudgetGate(10.0, 2.0, 10.0, testLogger())

	state := models.NewAutonomyState()
	state.PendingBatch = &models.PendingBatch{CycleID: "2026030713", BatchID: "batch-1"}

	res := gate.Check(state, "2026030714", 1000, 1000)
	assert.False(t, res.OK)
	assert.Equal(t, models.ReasonActiveCycleLimit, res.ReasonCode)

	// The same cycle's own pending batch is not a conflict.
	res = gate.Check(state, "2026030713", 1000, 1000)
	assert.True(t, res.OK)
}

func TestBudgetGate_RecordAccrues(t *testing.T) {
	gate := NewBudgetGate(10.0, 2.0, 10.0, testLogger())
	state := models.NewAutonomyState()

	gate.Record(state, "2026030714", 50_000, 8_000, gate.EstimateCost(50_000, 8_000))
	gate.Record(state, "2026030715", 50_000, 8_000, gate.EstimateCost(50_000, 8_000))

	usage := state.Usage("20260307")
	require.NotNil(t, usage)
	assert.Equal(t, int64(100_000), usage.InputTokens)
	assert.Equal(t, int64(16_000), usage.OutputTokens)
	assert.Equal(t, 2, usage.CycleCount)
	// 2 * (50k*$2/M + 8k*$10/M) = 2 * $0.18 = $0.36.
	assert.True(t, usage.CostUSD.Equal(decimal.NewFromFloat(0.36)), "got %s", usage.CostUSD)
}
