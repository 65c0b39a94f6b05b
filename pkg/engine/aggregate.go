package engine

import (
	"context"
	"fmt"

	"github.com/driftgate/driftgate/pkg/evalctx"
	"github.com/driftgate/driftgate/pkg/pack"
)

// EvaluateAll evaluates every applicable pack against one change and
// aggregates the results. All packs share one run context: one budget
// (the most restrictive combination across packs) and one cache.
func (e *Engine) EvaluateAll(ctx context.Context, change *evalctx.Change, packs []*pack.Pack) *Aggregate {
	applicable := ApplicablePacks(packs, change)
	ectx := e.NewRun(change, tightestBudgets(applicable))

	results := make([]*PackResult, 0, len(applicable))
	for _, p := range applicable {
		results = append(results, e.EvaluatePack(ctx, ectx, p))
	}
	return AggregateResults(results)
}

// AggregateResults combines per-pack decisions into one final decision,
// honoring priority and merge strategy. It never picks an arbitrary
// winner: any ambiguity falls back to MOST_RESTRICTIVE with a
// diagnostic, and it never fails.
func AggregateResults(results []*PackResult) *Aggregate {
	agg := &Aggregate{
		Strategy: pack.MergeMostRestrictive,
		Decision: pack.DecisionPass,
		Results:  results,
	}
	if len(results) == 0 {
		agg.Reasons = append(agg.Reasons, "no applicable packs; default pass")
		return agg
	}

	strategy, unanimous := declaredStrategy(results)
	switch {
	case unanimous && strategy == pack.MergeHighestPriority:
		return aggregateHighestPriority(agg, results)
	case unanimous && strategy == pack.MergeExplicit:
		return aggregateExplicit(agg, results)
	case unanimous:
		return aggregateMostRestrictive(agg, results, "")
	case anyDeclares(results, pack.MergeExplicit):
		return aggregateMostRestrictive(agg, results,
			"merge strategies disagree and at least one pack declares EXPLICIT; falling back to MOST_RESTRICTIVE")
	default:
		return aggregateMostRestrictive(agg, results,
			"mixed merge strategies; falling back to MOST_RESTRICTIVE")
	}
}

// aggregateMostRestrictive applies the default lattice join: any block
// makes the aggregate block, else any warn makes it warn. Monotonic and
// commutative; pack order never changes the result.
func aggregateMostRestrictive(agg *Aggregate, results []*PackResult, fallbackReason string) *Aggregate {
	agg.Strategy = pack.MergeMostRestrictive
	if fallbackReason != "" {
		agg.FellBack = true
		agg.Reasons = append(agg.Reasons, fallbackReason)
	}
	for _, r := range results {
		d := r.EffectiveDecision()
		if d.Severity() > agg.Decision.Severity() {
			agg.Decision = d
			agg.Reasons = append(agg.Reasons,
				fmt.Sprintf("pack %s@%s decided %s", r.PackID, r.PackVersion, d))
		}
	}
	return agg
}

// aggregateHighestPriority lets the numerically highest priority win
// outright. Tied priorities are an unresolved conflict: the aggregation
// falls back to MOST_RESTRICTIVE over the full pack set.
func aggregateHighestPriority(agg *Aggregate, results []*PackResult) *Aggregate {
	agg.Strategy = pack.MergeHighestPriority

	winner := results[0]
	tied := false
	for _, r := range results[1:] {
		switch {
		case r.Priority > winner.Priority:
			winner, tied = r, false
		case r.Priority == winner.Priority && r != winner:
			tied = true
		}
	}
	if tied {
		return aggregateMostRestrictive(agg, results,
			fmt.Sprintf("priority %d is shared by multiple packs; HIGHEST_PRIORITY is non-deterministic, falling back to MOST_RESTRICTIVE", winner.Priority))
	}

	agg.Decision = winner.EffectiveDecision()
	agg.Reasons = append(agg.Reasons,
		fmt.Sprintf("pack %s@%s won with priority %d, decision %s",
			winner.PackID, winner.PackVersion, winner.Priority, agg.Decision))
	return agg
}

// aggregateExplicit requires unanimous agreement across the applicable
// packs' decisions; any disagreement falls back to MOST_RESTRICTIVE
// with a conflict diagnostic.
func aggregateExplicit(agg *Aggregate, results []*PackResult) *Aggregate {
	agg.Strategy = pack.MergeExplicit

	first := results[0].EffectiveDecision()
	for _, r := range results[1:] {
		if r.EffectiveDecision() != first {
			return aggregateMostRestrictive(agg, results,
				"EXPLICIT merge requires unanimous pack decisions but packs disagree; falling back to MOST_RESTRICTIVE")
		}
	}
	agg.Decision = first
	agg.Reasons = append(agg.Reasons,
		fmt.Sprintf("all %d packs unanimously decided %s", len(results), first))
	return agg
}

func declaredStrategy(results []*PackResult) (pack.MergeStrategy, bool) {
	first := results[0].MergeStrategy
	for _, r := range results[1:] {
		if r.MergeStrategy != first {
			return "", false
		}
	}
	return first, true
}

func anyDeclares(results []*PackResult, s pack.MergeStrategy) bool {
	for _, r := range results {
		if r.MergeStrategy == s {
			return true
		}
	}
	return false
}
