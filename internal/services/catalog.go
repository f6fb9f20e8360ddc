package services

import (
	"sort"

	"github.com/helios-labs/strategy-governor/internal/models"
)

// Catalog is the read-only strategy registry. Base configurations are
// static data; governance only ever proposes deltas against them.
type Catalog struct {
	strategies map[string]models.Strategy
}

// NewCatalog builds a catalog from a list of strategies.
func NewCatalog(strategies []models.Strategy) *Catalog {
	m := make(map[string]models.Strategy, len(strategies))
	for _, s := range strategies {
		m[s.ID] = s
	}
	return &Catalog{strategies: m}
}

// DefaultCatalog returns the built-in strategy set.
func DefaultCatalog() *Catalog {
	return NewCatalog([]models.Strategy{
		{
			ID:              "pump_fresh_tight",
			Name:            "Fresh Launch Tight Stop",
			AssetClass:      "solana_memecoin",
			BaselineWinRate: "38% over 412 backtested trades",
			Base: models.StrategyConfig{
				StopLossPct:     20,
				TakeProfitPct:   60,
				TrailingStopPct: 12,
				MinScore:        72,
				MinLiquidityUSD: 25000,
				SlippageBps:     150,
				MaxAgeHours:     2,
				MinMomentumPct:  8,
				MinVolLiqRatio:  0.6,
			},
		},
		{
			ID:              "pump_early_momentum",
			Name:            "Early Momentum Rider",
			AssetClass:      "solana_memecoin",
			BaselineWinRate: "44% over 268 backtested trades",
			Base: models.StrategyConfig{
				StopLossPct:     15,
				TakeProfitPct:   45,
				TrailingStopPct: 10,
				MinScore:        65,
				MinLiquidityUSD: 50000,
				SlippageBps:     100,
				MaxAgeHours:     6,
				MinMomentumPct:  12,
				MinVolLiqRatio:  0.8,
			},
		},
		{
			ID:              "dex_liquidity_surge",
			Name:            "Liquidity Surge Follower",
			AssetClass:      "solana_spl",
			BaselineWinRate: "51% over 190 backtested trades",
			Base: models.StrategyConfig{
				StopLossPct:     10,
				TakeProfitPct:   30,
				TrailingStopPct: 8,
				MinScore:        60,
				MinLiquidityUSD: 150000,
				SlippageBps:     60,
				MaxAgeHours:     48,
				MinMomentumPct:  5,
				MinVolLiqRatio:  0.4,
			},
		},
		{
			ID:              "majors_swing",
			Name:            "Majors Swing",
			AssetClass:      "solana_major",
			BaselineWinRate: "57% over 131 backtested trades",
			Base: models.StrategyConfig{
				StopLossPct:     6,
				TakeProfitPct:   18,
				TrailingStopPct: 4,
				MinScore:        55,
				MinLiquidityUSD: 1000000,
				SlippageBps:     30,
				MaxAgeHours:     720,
				MinMomentumPct:  3,
				MinVolLiqRatio:  0.2,
			},
		},
	})
}

// Get returns the strategy with the given id.
func (c *Catalog) Get(id string) (models.Strategy, bool) {
	s, ok := c.strategies[id]
	return s, ok
}

// List returns all strategies ordered by id, for deterministic matrix
// construction.
func (c *Catalog) List() []models.Strategy {
	out := make([]models.Strategy, 0, len(c.strategies))
	for _, s := range c.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of catalog strategies.
func (c *Catalog) Len() int {
	return len(c.strategies)
}
