package engine

import (
	"context"
	"strings"

	"github.com/driftgate/driftgate/pkg/evalctx"
	"github.com/driftgate/driftgate/pkg/pack"
	"github.com/driftgate/driftgate/pkg/surface"
)

// evaluateRule runs one rule through its gates: trigger, skipIf, then
// every obligation. A rule stopped by the trigger or skip gate decides
// pass with zero findings and zero budget consumed.
func (e *Engine) evaluateRule(
	ctx context.Context,
	ectx *evalctx.Context,
	p *pack.Pack,
	rule *pack.Rule,
	cfg *pack.EvaluationConfig,
) (RuleResult, []string) {
	result := RuleResult{RuleID: rule.ID, Decision: pack.DecisionPass}

	// Exclusions are removed before trigger evaluation, so a change that
	// only touches excluded paths does not fire the rule.
	paths := ectx.Change.ChangedPaths()
	if len(rule.ExcludePaths) > 0 {
		if m, err := surface.NewMatcher(rule.ExcludePaths); err == nil {
			paths = m.Reject(paths)
		}
	}

	triggered, err := e.triggerSatisfied(&rule.Trigger, paths, ectx)
	if err != nil {
		e.logger.Warn("trigger evaluation failed; rule not triggered",
			"pack", p.ID, "rule", rule.ID, "err", err)
	}
	if !triggered {
		return result, nil
	}

	if rule.SkipIf != nil && e.skipSatisfied(rule.SkipIf, paths, ectx) {
		result.Skipped = true
		return result, nil
	}

	result.Triggered = true

	// Every obligation runs, even after one fails, so all findings for
	// the rule surface in one pass.
	var invoked []string
	for i := range rule.Obligations {
		c := e.executeObligation(ctx, ectx, p, rule, i, &rule.Obligations[i], cfg)
		result.Decision = pack.MostSevere(result.Decision, c.decision)
		if c.finding != nil {
			result.Findings = append(result.Findings, *c.finding)
		}
		if c.budgetExhausted {
			result.BudgetExhausted = true
		}
		if c.invokedID != "" {
			invoked = append(invoked, c.invokedID)
		}
	}
	return result, invoked
}

// triggerSatisfied decides whether the rule fires for this change.
func (e *Engine) triggerSatisfied(t *pack.Trigger, paths []string, ectx *evalctx.Context) (bool, error) {
	if t.Always {
		return true, nil
	}
	if len(t.AnyChangedPaths) > 0 {
		m, err := surface.NewMatcher(t.AnyChangedPaths)
		if err != nil {
			return false, err
		}
		if m.MatchAny(paths) {
			return true, nil
		}
	}
	if len(t.AnySurfaces) > 0 {
		globs, err := e.surfaces.ResolveGlobs(t.AnySurfaces)
		if err != nil {
			return false, err
		}
		if surface.Matches(paths, globs) {
			return true, nil
		}
		// Signal-backed surfaces resolve from facts, not paths.
		for _, factID := range e.surfaces.SignalFacts(t.AnySurfaces) {
			v, err := e.catalog.Resolve(factID, ectx)
			if err != nil {
				continue // fail closed per fact
			}
			if b, ok := v.(bool); ok && b {
				return true, nil
			}
		}
	}
	if t.Condition != nil {
		res := e.conditions.Evaluate(t.Condition, ectx)
		if res.Satisfied {
			return true, nil
		}
		return false, res.Err
	}
	return false, nil
}

// skipSatisfied checks label, body-marker, and fully-matched change-set
// exemptions.
func (e *Engine) skipSatisfied(s *pack.SkipIf, paths []string, ectx *evalctx.Context) bool {
	change := ectx.Change
	for _, wanted := range s.Labels {
		for _, label := range change.Labels {
			if label == wanted {
				return true
			}
		}
	}
	for _, marker := range s.BodyMarkers {
		if marker != "" && strings.Contains(change.Body, marker) {
			return true
		}
	}
	if len(s.AllChangedPathsIn) > 0 {
		if m, err := surface.NewMatcher(s.AllChangedPathsIn); err == nil && m.MatchAll(paths) {
			return true
		}
	}
	return false
}
