package services

import "fmt"

// Request id suffixes for the two prompts in every governance batch.
const (
	RequestKindDecision     = "decision"
	RequestKindSelfCritique = "self_critique"
)

// DecisionRequestID builds the caller-supplied batch request id for a
// cycle's prompt.
func DecisionRequestID(cycleID, kind string) string {
	return cycleID + ":" + kind
}

const decisionSchemaHint = `Respond with a single JSON object and nothing else:
{
  "decision": "hold" | "adjust" | "rollback" | "disable_strategy",
  "reason": "<non-empty summary>",
  "confidence": <0..1>,
  "targets": [
    {
      "strategyId": "<catalog id>",
      "patch": { "<allow-listed field>": <number> },
      "reason": "<why this strategy>",
      "confidence": <0..1>,
      "evidence": ["<reference>"]
    }
  ],
  "evidence": ["<reference>"],
  "constraintsCheck": { "pass": <bool>, "reasons": ["<non-empty>"] },
  "alternativesConsidered": [
    { "option": "<what you did not do>", "rejectionReason": "<why>" }
  ]
}
Overridable fields: stopLossPct, takeProfitPct, trailingStopPct, minScore,
minLiquidityUsd, slippageBps, maxAgeHours, minMomentumPct, minVolLiqRatio.
Stop-loss, take-profit, trailing-stop and slippage may move at most 5
units from base; the remaining fields at most 15% of base. An "adjust"
decision must name at least one target.`

// BuildDecisionPrompt renders the decision prompt over a serialized
// decision matrix.
func BuildDecisionPrompt(matrixJSON []byte) string {
	return fmt.Sprintf(`You govern the numeric parameters of live trading strategies.
Review the decision matrix below and decide whether any strategy's
parameters should change this hour. Prefer "hold" unless the evidence
in the matrix clearly supports a bounded adjustment.

Decision matrix:
%s

%s`, matrixJSON, decisionSchemaHint)
}

// BuildSelfCritiquePrompt renders the paired self-critique prompt. Its
// output is validated and archived but never drives a transition.
func BuildSelfCritiquePrompt(matrixJSON []byte) string {
	return fmt.Sprintf(`You are auditing a trading-strategy governance decision that another
reviewer is making over the decision matrix below. Independently state
what the most defensible decision would be and what could go wrong with
an adjustment this hour.

Decision matrix:
%s

%s`, matrixJSON, decisionSchemaHint)
}
