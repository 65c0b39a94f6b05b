package engine

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftgate/driftgate/pkg/canonicalize"
	"github.com/driftgate/driftgate/pkg/evalctx"
	"github.com/driftgate/driftgate/pkg/pack"
)

// EvaluatePack runs every rule in a pack against one context and
// reduces the rule decisions to a single pack decision. The context's
// budget is shared by all obligations; rule evaluation itself has no
// shared mutable state, so independent rules may run concurrently when
// the pack's evaluation config allows it.
func (e *Engine) EvaluatePack(ctx context.Context, ectx *evalctx.Context, p *pack.Pack) *PackResult {
	started := time.Now()
	cfg := p.EffectiveEvaluation()

	type ruleOutput struct {
		result  RuleResult
		invoked []string
	}
	outputs := make([]ruleOutput, len(p.Rules))

	if cfg.Concurrency > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Concurrency)
		for i := range p.Rules {
			g.Go(func() error {
				r, invoked := e.evaluateRule(gctx, ectx, p, &p.Rules[i], cfg)
				outputs[i] = ruleOutput{r, invoked}
				return nil
			})
		}
		_ = g.Wait() // rule evaluation never returns an error
	} else {
		for i := range p.Rules {
			r, invoked := e.evaluateRule(ctx, ectx, p, &p.Rules[i], cfg)
			outputs[i] = ruleOutput{r, invoked}
		}
	}

	result := &PackResult{
		PackID:        p.ID,
		PackVersion:   p.Version,
		PackHash:      p.Hash,
		Mode:          p.Mode,
		Priority:      p.Priority,
		MergeStrategy: p.MergeStrategy,
		Decision:      pack.DecisionPass,
		Findings:      []Finding{},
	}

	invokedSet := make(map[string]bool)
	for _, out := range outputs {
		r := out.result
		result.Decision = pack.MostSevere(result.Decision, r.Decision)
		if r.Triggered {
			result.TriggeredRuleIDs = append(result.TriggeredRuleIDs, r.RuleID)
		}
		if r.BudgetExhausted {
			result.BudgetExhausted = true
		}
		// Findings beyond maxFindings are dropped, never fabricated.
		for _, f := range r.Findings {
			if len(result.Findings) < cfg.MaxFindings {
				result.Findings = append(result.Findings, f)
			}
		}
		for _, id := range out.invoked {
			invokedSet[id] = true
		}
	}
	if ectx.Budget.Exhausted() {
		result.BudgetExhausted = true
	}

	result.Fingerprint = e.fingerprint(invokedSet)
	if hash, err := canonicalize.CanonicalHash(result.Fingerprint); err == nil {
		result.FingerprintHash = canonicalize.ShortHash(hash)
	}
	result.EvaluationTimeMs = time.Since(started).Milliseconds()

	e.logger.Info("pack evaluated",
		"pack", p.ID, "version", p.Version, "hash", p.Hash,
		"decision", string(result.Decision),
		"findings", len(result.Findings),
		"triggeredRules", len(result.TriggeredRuleIDs),
		"budgetExhausted", result.BudgetExhausted,
		"elapsedMs", result.EvaluationTimeMs)
	return result
}

// Evaluate is the single-pack convenience entry point: it creates a
// fresh run context from the pack's own budgets.
func (e *Engine) Evaluate(ctx context.Context, change *evalctx.Change, p *pack.Pack) *PackResult {
	ectx := e.NewRun(change, p.EffectiveEvaluation())
	return e.EvaluatePack(ctx, ectx, p)
}

// fingerprint records the engine version, fact-catalog version, and the
// versions of the comparators that were actually invoked.
func (e *Engine) fingerprint(invoked map[string]bool) Fingerprint {
	fp := Fingerprint{
		EngineVersion:      EngineVersion,
		FactCatalogVersion: e.catalog.Version(),
	}
	if len(invoked) == 0 {
		return fp
	}
	all := e.comparators.Versions()
	fp.ComparatorVersions = make(map[string]string, len(invoked))
	ids := make([]string, 0, len(invoked))
	for id := range invoked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fp.ComparatorVersions[id] = all[id]
	}
	return fp
}
