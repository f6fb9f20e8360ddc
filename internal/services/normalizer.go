package services

import (
	"fmt"
	"math"
	"sort"

	"github.com/helios-labs/strategy-governor/internal/models"
)

// Delta clamp limits per field class. Absolute-delta fields may move
// at most ±5 units from base; relative-delta fields at most ±15% of
// the base's magnitude.
const (
	AbsoluteDeltaLimit = 5.0
	RelativeDeltaLimit = 0.15
)

type fieldClass int

const (
	classAbsolute fieldClass = iota
	classRelative
)

type fieldRule struct {
	class   fieldClass
	integer bool
}

// allowedOverrideFields is the nine-field allow-list. Anything else in
// a candidate patch is a violation, never silently applied.
var allowedOverrideFields = map[string]fieldRule{
	"stopLossPct":     {class: classAbsolute},
	"takeProfitPct":   {class: classAbsolute},
	"trailingStopPct": {class: classAbsolute},
	"slippageBps":     {class: classAbsolute, integer: true},
	"minScore":        {class: classRelative},
	"minLiquidityUsd": {class: classRelative, integer: true},
	"maxAgeHours":     {class: classRelative, integer: true},
	"minMomentumPct":  {class: classRelative},
	"minVolLiqRatio":  {class: classRelative},
}

// NormalizeResult is the outcome of clamping one candidate patch.
type NormalizeResult struct {
	Patch      map[string]float64
	Violations []string
}

// NormalizePatchAgainstBase clamps a raw candidate patch against the
// strategy's base configuration. This bounds the blast radius of any
// single oracle-proposed change regardless of what the oracle asked
// for.
func NormalizePatchAgainstBase(base models.StrategyConfig, raw map[string]float64) NormalizeResult {
	res := NormalizeResult{Patch: make(map[string]float64, len(raw))}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := raw[name]
		rule, ok := allowedOverrideFields[name]
		if !ok {
			res.Violations = append(res.Violations, fmt.Sprintf("field %q is not overridable", name))
			continue
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			res.Violations = append(res.Violations, fmt.Sprintf("field %q is not a finite number", name))
			continue
		}
		baseValue, _ := base.Field(name)

		var lo, hi float64
		switch rule.class {
		case classAbsolute:
			lo, hi = baseValue-AbsoluteDeltaLimit, baseValue+AbsoluteDeltaLimit
		case classRelative:
			delta := math.Abs(baseValue) * RelativeDeltaLimit
			lo, hi = baseValue-delta, baseValue+delta
		}

		clamped := value
		if clamped < lo {
			clamped = lo
		}
		if clamped > hi {
			clamped = hi
		}
		if clamped != value {
			res.Violations = append(res.Violations,
				fmt.Sprintf("field %q clamped from %v to %v (base %v)", name, value, roundField(clamped, rule.integer), baseValue))
		}
		res.Patch[name] = roundField(clamped, rule.integer)
	}
	return res
}

// roundField rounds integer-like fields to whole numbers and the rest
// to 4 decimal places.
func roundField(v float64, integer bool) float64 {
	if integer {
		return math.Round(v)
	}
	return math.Round(v*10000) / 10000
}
