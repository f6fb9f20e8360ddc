package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/helios-labs/strategy-governor/internal/models"
)

// Credential-like substrings are scrubbed before anything reaches
// durable storage. The audit trail must never leak upstream secrets.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password|authorization|bearer)\s*[=:]\s*\S+`),
	regexp.MustCompile(`\b(sk|xai|xoxb|ghp)-[A-Za-z0-9_-]{8,}\b`),
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{4,}\.[A-Za-z0-9_-]{4,}\b`),
}

// Redact replaces credential-like substrings with a fixed marker.
func Redact(s string) string {
	for _, re := range redactPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// CycleReport is everything the report renderer needs about one cycle.
type CycleReport struct {
	RunID            string
	Cycle            *models.Cycle
	Decision         *models.Decision
	ValidationErrors []string
	Violations       []string
	Critique         *models.Decision
	CritiqueErrors   []string
	SnapshotVersion  int
	GeneratedAt      time.Time
}

// RenderCycleReport produces the decision-report.md audit artifact:
// the structured summary operators inspect to see what was decided and
// why. All free text is redacted.
func RenderCycleReport(r CycleReport) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "# Governance Cycle %s\n\n", r.Cycle.ID)
	fmt.Fprintf(&b, "- Run: `%s`\n", r.RunID)
	fmt.Fprintf(&b, "- Generated: %s\n", r.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Status: **%s**\n", r.Cycle.Status)
	fmt.Fprintf(&b, "- Reason code: `%s`\n", models.SanitizeReasonCode(r.Cycle.ReasonCode))
	if r.Cycle.BatchID != "" {
		fmt.Fprintf(&b, "- Batch: `%s` (model %s)\n", Redact(r.Cycle.BatchID), r.Cycle.Model)
	}
	if r.Cycle.MatrixHash != "" {
		fmt.Fprintf(&b, "- Matrix sha256: `%s`\n", r.Cycle.MatrixHash)
	}
	if r.Cycle.ResponseHash != "" {
		fmt.Fprintf(&b, "- Response sha256: `%s`\n", r.Cycle.ResponseHash)
	}
	if r.Cycle.DecisionHash != "" {
		fmt.Fprintf(&b, "- Decision sha256: `%s`\n", r.Cycle.DecisionHash)
	}
	if r.Cycle.AppliedOverrideVersion > 0 {
		fmt.Fprintf(&b, "- Applied override snapshot version: %d\n", r.Cycle.AppliedOverrideVersion)
	} else if r.SnapshotVersion > 0 {
		fmt.Fprintf(&b, "- Override snapshot version (unchanged): %d\n", r.SnapshotVersion)
	}

	if d := r.Decision; d != nil {
		fmt.Fprintf(&b, "\n## Decision\n\n")
		fmt.Fprintf(&b, "- Verdict: **%s** (confidence %.2f)\n", d.Decision, d.Confidence)
		fmt.Fprintf(&b, "- Reason: %s\n", Redact(d.Reason))
		fmt.Fprintf(&b, "- Constraints check: pass=%t\n", d.ConstraintsCheck.Pass)
		for _, reason := range d.ConstraintsCheck.Reasons {
			fmt.Fprintf(&b, "  - %s\n", Redact(reason))
		}
		if len(d.Targets) > 0 {
			fmt.Fprintf(&b, "\n### Targets\n\n")
			for _, t := range d.Targets {
				fmt.Fprintf(&b, "- `%s` (confidence %.2f): %s\n", t.StrategyID, t.Confidence, Redact(t.Reason))
				for field, value := range t.Patch {
					fmt.Fprintf(&b, "  - %s → %v\n", field, value)
				}
			}
		}
		if len(d.AlternativesConsidered) > 0 {
			fmt.Fprintf(&b, "\n### Alternatives considered\n\n")
			for _, alt := range d.AlternativesConsidered {
				fmt.Fprintf(&b, "- %s — rejected: %s\n", Redact(alt.Option), Redact(alt.RejectionReason))
			}
		}
	}

	if r.Critique != nil {
		fmt.Fprintf(&b, "\n## Self-critique\n\n")
		fmt.Fprintf(&b, "- Verdict: **%s** (confidence %.2f)\n", r.Critique.Decision, r.Critique.Confidence)
		fmt.Fprintf(&b, "- Reason: %s\n", Redact(r.Critique.Reason))
	} else if len(r.CritiqueErrors) > 0 {
		fmt.Fprintf(&b, "\n## Self-critique\n\n")
		fmt.Fprintf(&b, "- Invalid payload, archived in the raw response artifact\n")
		for _, e := range r.CritiqueErrors {
			fmt.Fprintf(&b, "  - %s\n", Redact(e))
		}
	}

	if len(r.ValidationErrors) > 0 {
		fmt.Fprintf(&b, "\n## Validation errors\n\n")
		for _, e := range r.ValidationErrors {
			fmt.Fprintf(&b, "- %s\n", Redact(e))
		}
	}
	if len(r.Violations) > 0 {
		fmt.Fprintf(&b, "\n## Envelope violations\n\n")
		for _, v := range r.Violations {
			fmt.Fprintf(&b, "- %s\n", Redact(v))
		}
	}

	return []byte(b.String())
}
