package models

import "time"

// PolicyThresholds are the governance limits in force when a matrix is
// built. They are embedded in the matrix so the oracle reasons against
// the same envelope the normalizer will enforce.
type PolicyThresholds struct {
	MaxAdjustmentsPerCycle int     `json:"maxAdjustmentsPerCycle"`
	AbsoluteDeltaLimit     float64 `json:"absoluteDeltaLimit"`
	RelativeDeltaLimit     float64 `json:"relativeDeltaLimit"`
	DailyBudgetUSD         float64 `json:"dailyBudgetUsd"`
	ApplyEnabled           bool    `json:"applyEnabled"`
}

// MarketStats are aggregate regime statistics from a best-effort market
// fetch. A failed fetch degrades to the zero value, never an error.
type MarketStats struct {
	TokensSampled      int     `json:"tokensSampled"`
	TotalLiquidityUSD  float64 `json:"totalLiquidityUsd"`
	TotalVolume24hUSD  float64 `json:"totalVolume24hUsd"`
	MedianLiquidityUSD float64 `json:"medianLiquidityUsd"`
	AvgMomentumPct     float64 `json:"avgMomentumPct"`
	MomentumRSI        float64 `json:"momentumRsi"`
	Regime             string  `json:"regime"`
}

// ReliabilityStats summarize historical cycle outcomes so the oracle
// can see how trustworthy recent governance runs have been.
type ReliabilityStats struct {
	CyclesObserved    int `json:"cyclesObserved"`
	Completed         int `json:"completed"`
	Noop              int `json:"noop"`
	Errors            int `json:"errors"`
	ConsecutiveErrors int `json:"consecutiveErrors"`
}

// RealizedStats are aggregate realized-trade counters read from the
// execution store.
type RealizedStats struct {
	TotalTrades       int            `json:"totalTrades"`
	RealizedPnLUSD    float64        `json:"realizedPnlUsd"`
	PerStrategyTrades map[string]int `json:"perStrategyTrades,omitempty"`
}

// StrategyRow is one catalog strategy as presented to the oracle.
type StrategyRow struct {
	ID              string         `json:"id"`
	AssetClass      string         `json:"assetClass"`
	BaselineWinRate string         `json:"baselineWinRate"`
	TradeCount      int            `json:"tradeCount"`
	Base            StrategyConfig `json:"base"`
	ActiveOverride  *OverridePatch `json:"activeOverride,omitempty"`
}

// DecisionMatrix is the deterministic, size-bounded snapshot the
// oracle reasons over. It is persisted verbatim as an audit artifact.
type DecisionMatrix struct {
	CycleID              string           `json:"cycleId"`
	GeneratedAt          time.Time        `json:"generatedAt"`
	Policy               PolicyThresholds `json:"policy"`
	Strategies           []StrategyRow    `json:"strategies"`
	Market               MarketStats      `json:"market"`
	Reliability          ReliabilityStats `json:"reliability"`
	Realized             RealizedStats    `json:"realized"`
	EstimatedInputTokens int              `json:"estimatedInputTokens"`
}
