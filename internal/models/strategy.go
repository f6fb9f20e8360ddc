package models

// StrategyConfig is the base numeric configuration of one trading
// strategy. These nine fields are the full override allow-list; the
// governance loop may only move them within the delta clamps.
type StrategyConfig struct {
	StopLossPct     float64 `json:"stopLossPct"`
	TakeProfitPct   float64 `json:"takeProfitPct"`
	TrailingStopPct float64 `json:"trailingStopPct"`
	MinScore        float64 `json:"minScore"`
	MinLiquidityUSD float64 `json:"minLiquidityUsd"`
	SlippageBps     float64 `json:"slippageBps"`
	MaxAgeHours     float64 `json:"maxAgeHours"`
	MinMomentumPct  float64 `json:"minMomentumPct"`
	MinVolLiqRatio  float64 `json:"minVolLiqRatio"`
}

// Field returns the base value for an allow-listed field name.
func (c StrategyConfig) Field(name string) (float64, bool) {
	switch name {
	case "stopLossPct":
		return c.StopLossPct, true
	case "takeProfitPct":
		return c.TakeProfitPct, true
	case "trailingStopPct":
		return c.TrailingStopPct, true
	case "minScore":
		return c.MinScore, true
	case "minLiquidityUsd":
		return c.MinLiquidityUSD, true
	case "slippageBps":
		return c.SlippageBps, true
	case "maxAgeHours":
		return c.MaxAgeHours, true
	case "minMomentumPct":
		return c.MinMomentumPct, true
	case "minVolLiqRatio":
		return c.MinVolLiqRatio, true
	}
	return 0, false
}

// WithPatch returns a copy of the config with patch fields fully
// replacing the corresponding base fields. Unknown keys are ignored;
// the normalizer has already rejected them upstream.
func (c StrategyConfig) WithPatch(patch map[string]float64) StrategyConfig {
	out := c
	for name, v := range patch {
		switch name {
		case "stopLossPct":
			out.StopLossPct = v
		case "takeProfitPct":
			out.TakeProfitPct = v
		case "trailingStopPct":
			out.TrailingStopPct = v
		case "minScore":
			out.MinScore = v
		case "minLiquidityUsd":
			out.MinLiquidityUSD = v
		case "slippageBps":
			out.SlippageBps = v
		case "maxAgeHours":
			out.MaxAgeHours = v
		case "minMomentumPct":
			out.MinMomentumPct = v
		case "minVolLiqRatio":
			out.MinVolLiqRatio = v
		}
	}
	return out
}

// Strategy is one row of the static strategy catalog. Governance never
// mutates the catalog, it only proposes deltas against Base.
type Strategy struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	AssetClass      string         `json:"assetClass"`
	BaselineWinRate string         `json:"baselineWinRate"`
	Base            StrategyConfig `json:"base"`
}
