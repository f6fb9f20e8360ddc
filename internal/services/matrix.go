package services

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/sirupsen/logrus"

	"github.com/helios-labs/strategy-governor/internal/models"
	"github.com/helios-labs/strategy-governor/pkg/marketfeed"
)

// rsiPeriod for the aggregate momentum regime statistic.
const rsiPeriod = 14

// Serialized JSON compresses to roughly four bytes per prompt token.
const bytesPerToken = 4

// TelemetryReader exposes the execution store's aggregate realized
// counters. The governance core only reads them.
type TelemetryReader interface {
	RealizedStats(ctx context.Context) (models.RealizedStats, error)
}

// NoopTelemetry is used when no execution store is wired.
type NoopTelemetry struct{}

func (NoopTelemetry) RealizedStats(ctx context.Context) (models.RealizedStats, error) {
	return models.RealizedStats{}, nil
}

// MatrixBuilder snapshots the strategy catalog and live telemetry into
// the deterministic, size-bounded payload the oracle reasons over.
type MatrixBuilder struct {
	catalog   *Catalog
	market    marketfeed.Fetcher
	telemetry TelemetryReader
	policy    models.PolicyThresholds
	logger    *logrus.Logger
}

// NewMatrixBuilder wires a builder. market and telemetry may be nil.
func NewMatrixBuilder(catalog *Catalog, market marketfeed.Fetcher, telemetry TelemetryReader, policy models.PolicyThresholds, logger *logrus.Logger) *MatrixBuilder {
	if telemetry == nil {
		telemetry = NoopTelemetry{}
	}
	return &MatrixBuilder{
		catalog:   catalog,
		market:    market,
		telemetry: telemetry,
		policy:    policy,
		logger:    logger,
	}
}

// Build produces the matrix and its canonical JSON serialization. The
// serialization is what gets persisted and hashed, so the two always
// agree.
func (b *MatrixBuilder) Build(ctx context.Context, cycleID string, state *models.AutonomyState, snapshot *models.OverrideSnapshot, now time.Time) (*models.DecisionMatrix, []byte, error) {
	matrix := &models.DecisionMatrix{
		CycleID:     cycleID,
		GeneratedAt: now.UTC().Truncate(time.Second),
		Policy:      b.policy,
		Market:      b.marketStats(ctx),
		Reliability: reliabilityStats(state),
	}

	for _, s := range b.catalog.List() {
		row := models.StrategyRow{
			ID:              s.ID,
			AssetClass:      s.AssetClass,
			BaselineWinRate: s.BaselineWinRate,
			Base:            s.Base,
		}
		if snapshot != nil {
			if p, ok := snapshot.PatchFor(s.ID); ok {
				patch := p
				row.ActiveOverride = &patch
			}
		}
		matrix.Strategies = append(matrix.Strategies, row)
	}

	realized, err := b.telemetry.RealizedStats(ctx)
	if err != nil {
		b.logger.WithError(err).Warn("Execution telemetry fetch failed, using empty counters")
		realized = models.RealizedStats{}
	}
	matrix.Realized = realized
	for i := range matrix.Strategies {
		matrix.Strategies[i].TradeCount = realized.PerStrategyTrades[matrix.Strategies[i].ID]
	}

	// Estimate tokens from the serialized length, then serialize once
	// more with the estimate embedded.
	draft, err := json.Marshal(matrix)
	if err != nil {
		return nil, nil, err
	}
	matrix.EstimatedInputTokens = len(draft)/bytesPerToken + 64

	data, err := json.MarshalIndent(matrix, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return matrix, data, nil
}

// marketStats computes aggregate regime statistics. Any failure
// degrades to empty statistics, never an error.
func (b *MatrixBuilder) marketStats(ctx context.Context) models.MarketStats {
	if b.market == nil {
		return models.MarketStats{}
	}
	overview, err := b.market.Overview(ctx)
	if err != nil {
		b.logger.WithError(err).Warn("Market overview fetch failed, matrix degrades to empty stats")
		return models.MarketStats{}
	}

	stats := models.MarketStats{TokensSampled: len(overview.Tokens)}
	liquidity := make([]float64, 0, len(overview.Tokens))
	for _, t := range overview.Tokens {
		stats.TotalLiquidityUSD += t.LiquidityUSD
		stats.TotalVolume24hUSD += t.Volume24hUSD
		stats.AvgMomentumPct += t.MomentumPct
		liquidity = append(liquidity, t.LiquidityUSD)
	}
	if len(overview.Tokens) > 0 {
		stats.AvgMomentumPct = round4(stats.AvgMomentumPct / float64(len(overview.Tokens)))
	}
	if len(liquidity) > 0 {
		sort.Float64s(liquidity)
		stats.MedianLiquidityUSD = liquidity[len(liquidity)/2]
	}
	stats.MomentumRSI = round4(aggregateRSI(overview.PriceIndex))
	stats.Regime = classifyRegime(stats.MomentumRSI, stats.AvgMomentumPct)
	return stats
}

// aggregateRSI runs a 14-period RSI over the aggregate price index and
// returns the latest value, or 0 when the series is too short.
func aggregateRSI(prices []float64) float64 {
	if len(prices) <= rsiPeriod {
		return 0
	}
	rsiIndicator := momentum.NewRsiWithPeriod[float64](rsiPeriod)
	values := helper.ChanToSlice(rsiIndicator.Compute(helper.SliceToChan(prices)))
	if len(values) == 0 {
		return 0
	}
	last := values[len(values)-1]
	if math.IsNaN(last) || math.IsInf(last, 0) {
		return 0
	}
	return last
}

func classifyRegime(rsi, avgMomentum float64) string {
	switch {
	case rsi == 0:
		return "unknown"
	case rsi >= 65 || avgMomentum >= 10:
		return "trending"
	case rsi <= 35 || avgMomentum <= -10:
		return "selling_off"
	default:
		return "chopping"
	}
}

// reliabilityStats derives a trust counter from historical cycle
// outcomes, including the current run of consecutive errors.
func reliabilityStats(state *models.AutonomyState) models.ReliabilityStats {
	stats := models.ReliabilityStats{}
	if state == nil || len(state.Cycles) == 0 {
		return stats
	}

	ids := make([]string, 0, len(state.Cycles))
	for id := range state.Cycles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		c := state.Cycles[id]
		if !c.Status.IsTerminal() {
			continue
		}
		stats.CyclesObserved++
		switch c.Status {
		case models.CycleStatusCompleted:
			stats.Completed++
		case models.CycleStatusNoop:
			stats.Noop++
		case models.CycleStatusError:
			stats.Errors++
		}
	}

	for i := len(ids) - 1; i >= 0; i-- {
		c := state.Cycles[ids[i]]
		if !c.Status.IsTerminal() {
			continue
		}
		if c.Status != models.CycleStatusError {
			break
		}
		stats.ConsecutiveErrors++
	}
	return stats
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
