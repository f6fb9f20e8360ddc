package services

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/helios-labs/strategy-governor/internal/models"
)

// ValidationResult is the outcome of strict schema validation of one
// oracle payload. Callers never partially trust an invalid payload.
type ValidationResult struct {
	OK       bool
	Errors   []string
	Decision *models.Decision
}

// ExtractJSONBlock returns the outermost {...} block of an oracle
// response, tolerating leading and trailing prose. Extraction failures
// are distinguishable from schema failures.
func ExtractJSONBlock(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// ValidateAutonomyDecision parses raw oracle text and structurally
// validates it into a Decision. Any violation yields ok=false with
// human-readable errors.
func ValidateAutonomyDecision(raw string) ValidationResult {
	block, ok := ExtractJSONBlock(raw)
	if !ok {
		return ValidationResult{Errors: []string{"no JSON object found in oracle response"}}
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		return ValidationResult{Errors: []string{fmt.Sprintf("malformed JSON: %v", err)}}
	}

	var errs []string
	d := &models.Decision{}

	kind, _ := payload["decision"].(string)
	d.Decision = models.DecisionKind(kind)
	if !d.Decision.Valid() {
		errs = append(errs, fmt.Sprintf("decision %q is not one of hold|adjust|rollback|disable_strategy", kind))
	}

	d.Reason, _ = payload["reason"].(string)
	if strings.TrimSpace(d.Reason) == "" {
		errs = append(errs, "reason must be a non-empty string")
	}

	if conf, ok := asNumber(payload["confidence"]); ok {
		d.Confidence = clamp01(conf)
	} else {
		errs = append(errs, "confidence must be numeric")
	}

	d.Evidence = asStringList(payload["evidence"])

	if targets, ok := payload["targets"].([]any); ok {
		for i, entry := range targets {
			target, terrs := parseTarget(entry, i)
			errs = append(errs, terrs...)
			if target != nil {
				d.Targets = append(d.Targets, *target)
			}
		}
	}

	cc, ok := payload["constraintsCheck"].(map[string]any)
	if !ok {
		errs = append(errs, "constraintsCheck is required")
	} else {
		d.ConstraintsCheck.Pass, _ = cc["pass"].(bool)
		d.ConstraintsCheck.Reasons = asStringList(cc["reasons"])
		if len(d.ConstraintsCheck.Reasons) == 0 {
			errs = append(errs, "constraintsCheck.reasons must be non-empty")
		}
	}

	alts, ok := payload["alternativesConsidered"].([]any)
	if !ok || len(alts) == 0 {
		errs = append(errs, "alternativesConsidered must be non-empty")
	} else {
		for i, entry := range alts {
			m, ok := entry.(map[string]any)
			if !ok {
				errs = append(errs, fmt.Sprintf("alternativesConsidered[%d] must be an object", i))
				continue
			}
			alt := models.Alternative{}
			alt.Option, _ = m["option"].(string)
			alt.RejectionReason, _ = m["rejectionReason"].(string)
			if alt.Option == "" || alt.RejectionReason == "" {
				errs = append(errs, fmt.Sprintf("alternativesConsidered[%d] needs both option and rejectionReason", i))
				continue
			}
			d.AlternativesConsidered = append(d.AlternativesConsidered, alt)
		}
	}

	if d.Decision == models.DecisionAdjust && len(d.Targets) == 0 {
		errs = append(errs, "adjust decision requires at least one target")
	}

	if len(errs) > 0 {
		return ValidationResult{Errors: errs}
	}
	return ValidationResult{OK: true, Decision: d}
}

func parseTarget(entry any, idx int) (*models.DecisionTarget, []string) {
	m, ok := entry.(map[string]any)
	if !ok {
		return nil, []string{fmt.Sprintf("targets[%d] must be an object", idx)}
	}

	var errs []string
	t := &models.DecisionTarget{Patch: make(map[string]float64)}

	t.StrategyID, _ = m["strategyId"].(string)
	if strings.TrimSpace(t.StrategyID) == "" {
		errs = append(errs, fmt.Sprintf("targets[%d].strategyId must be non-empty", idx))
	}

	// Non-numeric patch entries are silently dropped, not rejected.
	if patch, ok := m["patch"].(map[string]any); ok {
		for field, v := range patch {
			if n, ok := asNumber(v); ok && !math.IsNaN(n) && !math.IsInf(n, 0) {
				t.Patch[field] = n
			}
		}
	}

	if conf, ok := asNumber(m["confidence"]); ok {
		t.Confidence = clamp01(conf)
	}
	t.Reason, _ = m["reason"].(string)
	t.Evidence = asStringList(m["evidence"])

	if len(errs) > 0 {
		return nil, errs
	}
	return t, nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func asStringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
