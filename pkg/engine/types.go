// Package engine runs policy packs against one evaluation context: it
// executes obligations under a shared budget, reduces rules to pack
// decisions, and aggregates multiple packs into one final decision.
package engine

import (
	"github.com/driftgate/driftgate/pkg/comparator"
	"github.com/driftgate/driftgate/pkg/pack"
)

// EngineVersion identifies the evaluator for fingerprints. Bump on any
// change to evaluation semantics.
const EngineVersion = "1.0.0"

// Finding is one itemized, explainable problem contributed by an
// obligation whose outcome was fail or unknown.
type Finding struct {
	ID           string                `json:"id"`
	PackID       string                `json:"packId"`
	RuleID       string                `json:"ruleId"`
	ComparatorID string                `json:"comparatorId,omitempty"`
	Decision     pack.Decision         `json:"decision"`
	Outcome      comparator.ResultKind `json:"outcome"`
	Severity     string                `json:"severity,omitempty"`
	Message      string                `json:"message"`
	Evidence     []comparator.Evidence `json:"evidence,omitempty"`
	Diagnostic   string                `json:"diagnostic,omitempty"`
}

// RuleResult is the decision and findings of one rule.
type RuleResult struct {
	RuleID          string         `json:"ruleId"`
	Triggered       bool           `json:"triggered"`
	Skipped         bool           `json:"skipped"`
	Decision        pack.Decision  `json:"decision"`
	Findings        []Finding      `json:"findings,omitempty"`
	BudgetExhausted bool           `json:"budgetExhausted,omitempty"`
}

// Fingerprint records everything needed to reproduce an evaluation:
// engine version, fact-catalog version, and the versions of every
// comparator actually invoked. Two runs against identical inputs are
// byte-for-byte comparable.
type Fingerprint struct {
	EngineVersion      string            `json:"engineVersion"`
	FactCatalogVersion string            `json:"factCatalogVersion"`
	ComparatorVersions map[string]string `json:"comparatorVersions,omitempty"`
}

// PackResult is the outcome of evaluating one pack against one context.
type PackResult struct {
	PackID           string             `json:"packId"`
	PackVersion      string             `json:"packVersion"`
	PackHash         string             `json:"packHash"`
	Mode             pack.Mode          `json:"mode"`
	Priority         int                `json:"priority"`
	MergeStrategy    pack.MergeStrategy `json:"mergeStrategy"`
	Decision         pack.Decision      `json:"decision"`
	Findings         []Finding          `json:"findings"`
	TriggeredRuleIDs []string           `json:"triggeredRuleIds"`
	EvaluationTimeMs int64              `json:"evaluationTimeMs"`
	BudgetExhausted  bool               `json:"budgetExhausted"`
	Fingerprint      Fingerprint        `json:"engineFingerprint"`
	FingerprintHash  string             `json:"engineFingerprintHash"`
}

// EffectiveDecision is the pack's contribution to aggregation. Packs in
// observe mode never block: their contribution is capped at warn.
func (r *PackResult) EffectiveDecision() pack.Decision {
	if r.Mode == pack.ModeObserve && r.Decision == pack.DecisionBlock {
		return pack.DecisionWarn
	}
	return r.Decision
}

// Aggregate is the combined decision over every applicable pack.
type Aggregate struct {
	Decision pack.Decision      `json:"decision"`
	Strategy pack.MergeStrategy `json:"strategy"`
	// FellBack is set when the declared strategy could not be honored
	// and MOST_RESTRICTIVE was applied instead.
	FellBack bool `json:"fellBack,omitempty"`
	// Reasons is the human-readable reasoning trail.
	Reasons []string `json:"reasons,omitempty"`
	Results []*PackResult `json:"results"`
}
