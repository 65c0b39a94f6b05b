// Package conflict statically analyzes sets of packs for ambiguous or
// contradictory configuration before it reaches evaluation. Detection is
// advisory: it never alters a decision and never blocks evaluation by
// itself. It needs no evaluation context and is run at publish time.
package conflict

import (
	"fmt"
	"sort"

	"github.com/driftgate/driftgate/pkg/pack"
)

// Type classifies a detected conflict.
type Type string

const (
	TypeMergeStrategy Type = "merge_strategy_conflict"
	TypeRule          Type = "rule_conflict"
	TypePriority      Type = "priority_conflict"
)

// Severity grades a conflict.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Conflict is one detected configuration hazard with concrete
// remediation steps.
type Conflict struct {
	Type          Type     `json:"type"`
	Severity      Severity `json:"severity"`
	AffectedPacks []string `json:"affectedPacks"`
	AffectedRules []string `json:"affectedRules,omitempty"`
	Description   string   `json:"description"`
	Remediation   []string `json:"remediation"`
}

// Detect analyzes a pack set. Output order is deterministic: merge
// strategy first, then rule conflicts by rule id, then priority
// conflicts by priority.
func Detect(packs []*pack.Pack) []Conflict {
	var conflicts []Conflict
	conflicts = append(conflicts, detectMergeStrategy(packs)...)
	conflicts = append(conflicts, detectRules(packs)...)
	conflicts = append(conflicts, detectPriorities(packs)...)
	return conflicts
}

// detectMergeStrategy flags strategy hazards. Any EXPLICIT pack in a
// mixed set is an error, since EXPLICIT demands unanimity by
// definition; mixed non-EXPLICIT strategies are only a warning because
// the MOST_RESTRICTIVE fallback is safe. A set of all-EXPLICIT packs
// whose worst-case decisions disagree is also an error: their declared
// unanimity cannot hold at evaluation time.
func detectMergeStrategy(packs []*pack.Pack) []Conflict {
	if len(packs) < 2 {
		return nil
	}

	strategies := make(map[pack.MergeStrategy][]string)
	for _, p := range packs {
		s := p.MergeStrategy
		if s == "" {
			s = pack.MergeMostRestrictive
		}
		strategies[s] = append(strategies[s], p.ID)
	}

	var affected []string
	for _, p := range packs {
		affected = append(affected, p.ID)
	}
	sort.Strings(affected)

	if len(strategies) == 1 {
		if _, allExplicit := strategies[pack.MergeExplicit]; allExplicit && worstCasesDisagree(packs) {
			return []Conflict{{
				Type:          TypeMergeStrategy,
				Severity:      SeverityError,
				AffectedPacks: affected,
				Description:   "all packs declare EXPLICIT merge but their worst-case decisions disagree; unanimity cannot hold at evaluation time",
				Remediation: []string{
					"align the worst-case decisions (decisionOnFail) across the EXPLICIT packs",
					"or switch the packs to MOST_RESTRICTIVE",
				},
			}}
		}
		return nil
	}

	severity := SeverityWarning
	description := "packs declare different merge strategies; aggregation will fall back to MOST_RESTRICTIVE"
	if _, hasExplicit := strategies[pack.MergeExplicit]; hasExplicit {
		severity = SeverityError
		description = "packs declare different merge strategies and at least one requires EXPLICIT agreement"
	}

	return []Conflict{{
		Type:          TypeMergeStrategy,
		Severity:      severity,
		AffectedPacks: affected,
		Description:   description,
		Remediation: []string{
			"align mergeStrategy across all packs that can apply to the same change",
			"or scope the packs so they never overlap",
		},
	}}
}

// worstCasesDisagree reports whether pack-level worst-case decisions
// differ. A pack's worst case is the most severe rule worst case.
func worstCasesDisagree(packs []*pack.Pack) bool {
	packWorst := func(p *pack.Pack) pack.Decision {
		worst := pack.DecisionPass
		for i := range p.Rules {
			worst = pack.MostSevere(worst, p.Rules[i].WorstCaseDecision())
		}
		return worst
	}
	first := packWorst(packs[0])
	for _, p := range packs[1:] {
		if packWorst(p) != first {
			return true
		}
	}
	return false
}

// detectRules flags the same rule id appearing in multiple packs with
// differing worst-case decisions. The worst case for a rule is the most
// severe decisionOnFail among its obligations.
func detectRules(packs []*pack.Pack) []Conflict {
	type occurrence struct {
		packID   string
		decision pack.Decision
	}
	byRule := make(map[string][]occurrence)
	for _, p := range packs {
		for i := range p.Rules {
			r := &p.Rules[i]
			byRule[r.ID] = append(byRule[r.ID], occurrence{p.ID, r.WorstCaseDecision()})
		}
	}

	ruleIDs := make([]string, 0, len(byRule))
	for id := range byRule {
		ruleIDs = append(ruleIDs, id)
	}
	sort.Strings(ruleIDs)

	var conflicts []Conflict
	for _, id := range ruleIDs {
		occs := byRule[id]
		if len(occs) < 2 {
			continue
		}
		differs := false
		for _, o := range occs[1:] {
			if o.decision != occs[0].decision {
				differs = true
				break
			}
		}
		if !differs {
			continue
		}

		affected := make([]string, 0, len(occs))
		details := make([]string, 0, len(occs))
		for _, o := range occs {
			affected = append(affected, o.packID)
			details = append(details, fmt.Sprintf("%s=%s", o.packID, o.decision))
		}
		sort.Strings(affected)
		sort.Strings(details)

		conflicts = append(conflicts, Conflict{
			Type:          TypeRule,
			Severity:      SeverityWarning,
			AffectedPacks: affected,
			AffectedRules: []string{id},
			Description: fmt.Sprintf("rule %q appears in %d packs with differing worst-case decisions (%v)",
				id, len(occs), details),
			Remediation: []string{
				fmt.Sprintf("rename rule %q in one of the packs, or", id),
				"align the decisionOnFail of its obligations across packs",
			},
		})
	}
	return conflicts
}

// detectPriorities flags duplicate numeric priorities, which make
// HIGHEST_PRIORITY ordering non-deterministic.
func detectPriorities(packs []*pack.Pack) []Conflict {
	byPriority := make(map[int][]string)
	for _, p := range packs {
		byPriority[p.Priority] = append(byPriority[p.Priority], p.ID)
	}

	priorities := make([]int, 0, len(byPriority))
	for prio := range byPriority {
		priorities = append(priorities, prio)
	}
	sort.Ints(priorities)

	var conflicts []Conflict
	for _, prio := range priorities {
		ids := byPriority[prio]
		if len(ids) < 2 {
			continue
		}
		sort.Strings(ids)
		conflicts = append(conflicts, Conflict{
			Type:          TypePriority,
			Severity:      SeverityWarning,
			AffectedPacks: ids,
			Description: fmt.Sprintf("%d packs share priority %d; HIGHEST_PRIORITY aggregation cannot order them",
				len(ids), prio),
			Remediation: []string{
				"assign each pack a distinct priority",
			},
		})
	}
	return conflicts
}
