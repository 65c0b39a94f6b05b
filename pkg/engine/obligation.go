package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/driftgate/driftgate/pkg/comparator"
	"github.com/driftgate/driftgate/pkg/evalctx"
	"github.com/driftgate/driftgate/pkg/pack"
)

// contribution is what one obligation adds to its rule's decision.
type contribution struct {
	decision        pack.Decision
	outcome         comparator.ResultKind
	finding         *Finding
	budgetExhausted bool
	invokedID       string // comparator actually invoked, for fingerprints
}

// executeObligation is the one policy point every check goes through:
// budget short-circuit, per-comparator timeout bounded by the run
// deadline, and soft/hard mapping of errors and timeouts. idx is the
// obligation's position within the rule, used for stable finding IDs.
func (e *Engine) executeObligation(
	ctx context.Context,
	ectx *evalctx.Context,
	p *pack.Pack,
	rule *pack.Rule,
	idx int,
	o *pack.Obligation,
	cfg *pack.EvaluationConfig,
) contribution {
	// Exhausted budget: the obligation short-circuits to unknown without
	// invoking its comparator.
	if err := ectx.Budget.Check(); err != nil {
		c := e.outcomeToContribution(p, rule, idx, o, comparator.ResultUnknown, nil,
			fmt.Sprintf("budget exhausted before obligation started: %v", err))
		c.budgetExhausted = true
		return c
	}

	// Condition-backed portion. When an obligation carries both
	// conditions and a comparator, the conditions gate the comparator:
	// every condition must hold before the comparator runs, and an
	// unsatisfied condition is a fail outcome on its own.
	conds := o.Conditions
	if o.Condition != nil {
		conds = append([]*pack.Condition{o.Condition}, conds...)
	}
	for _, c := range conds {
		res := e.conditions.Evaluate(c, ectx)
		if !res.Satisfied {
			diag := ""
			if res.Err != nil {
				diag = res.Err.Error()
			}
			return e.outcomeToContribution(p, rule, idx, o, comparator.ResultFail, nil, diag)
		}
	}
	if o.ComparatorID == "" {
		// Pure condition obligation, and every condition held.
		return e.outcomeToContribution(p, rule, idx, o, comparator.ResultPass, nil, "")
	}

	comp, err := e.comparators.Get(o.ComparatorID)
	if err != nil {
		// Unknown comparator at evaluation time (pack validated against
		// a different registry): treat as an external failure.
		return e.errorToContribution(p, rule, idx, o, cfg, err)
	}

	if err := ectx.Budget.ConsumeCall(ctx); err != nil {
		c := e.outcomeToContribution(p, rule, idx, o, comparator.ResultUnknown, nil,
			fmt.Sprintf("call budget exhausted: %v", err))
		c.budgetExhausted = true
		return c
	}

	outcome, err := e.invoke(ctx, ectx, comp, o.Params, cfg)
	if err != nil {
		c := e.errorToContribution(p, rule, idx, o, cfg, err)
		c.invokedID = o.ComparatorID
		return c
	}
	c := e.outcomeToContribution(p, rule, idx, o, outcome.Result, outcome.Evidence, "")
	c.invokedID = o.ComparatorID
	return c
}

// invoke runs a comparator under the per-comparator timeout, bounded by
// the run-wide deadline. The comparator runs in its own goroutine so a
// deadline expiry cancels the wait even if the implementation ignores
// its context.
func (e *Engine) invoke(
	ctx context.Context,
	ectx *evalctx.Context,
	comp comparator.Comparator,
	params map[string]any,
	cfg *pack.EvaluationConfig,
) (comparator.Outcome, error) {
	timeout := time.Duration(cfg.Budgets.PerComparatorTimeoutMs) * time.Millisecond
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if deadline, ok := ectx.Budget.Deadline(); ok {
		var dcancel context.CancelFunc
		callCtx, dcancel = context.WithDeadline(callCtx, deadline)
		defer dcancel()
	}

	type reply struct {
		outcome comparator.Outcome
		err     error
	}
	done := make(chan reply, 1)
	go func() {
		out, err := comp.Run(callCtx, ectx, params)
		done <- reply{out, err}
	}()

	select {
	case r := <-done:
		return r.outcome, r.err
	case <-callCtx.Done():
		return comparator.Outcome{}, fmt.Errorf("comparator %q: %w", comp.ID(), callCtx.Err())
	}
}

// errorToContribution maps a comparator error or timeout per the pack's
// external dependency mode: soft-fail yields unknown, hard-fail yields
// fail.
func (e *Engine) errorToContribution(
	p *pack.Pack, rule *pack.Rule, idx int, o *pack.Obligation,
	cfg *pack.EvaluationConfig, err error,
) contribution {
	outcome := comparator.ResultUnknown
	if cfg.ExternalDependencyMode == pack.ExternalHardFail {
		outcome = comparator.ResultFail
	}
	e.logger.Warn("comparator error",
		"pack", p.ID, "rule", rule.ID, "comparator", o.ComparatorID,
		"mode", string(cfg.ExternalDependencyMode), "err", err)
	return e.outcomeToContribution(p, rule, idx, o, outcome, nil, err.Error())
}

// outcomeToContribution translates a pass/fail/unknown outcome into a
// decision via the obligation's own mapping. A pass outcome contributes
// no finding.
func (e *Engine) outcomeToContribution(
	p *pack.Pack, rule *pack.Rule, idx int, o *pack.Obligation,
	outcome comparator.ResultKind, evidence []comparator.Evidence, diagnostic string,
) contribution {
	var decision pack.Decision
	switch outcome {
	case comparator.ResultPass:
		return contribution{decision: pack.DecisionPass, outcome: outcome}
	case comparator.ResultFail:
		decision = o.DecisionOnFail
	default:
		decision = o.EffectiveDecisionOnUnknown()
	}

	message := o.Message
	if message == "" {
		message = fmt.Sprintf("obligation %s in rule %s: outcome %s", obligationName(o), rule.ID, outcome)
	}
	return contribution{
		decision: decision,
		outcome:  outcome,
		finding: &Finding{
			ID:           findingID(p, rule, idx),
			PackID:       p.ID,
			RuleID:       rule.ID,
			ComparatorID: o.ComparatorID,
			Decision:     decision,
			Outcome:      outcome,
			Severity:     o.Severity,
			Message:      message,
			Evidence:     evidence,
			Diagnostic:   diagnostic,
		},
	}
}

func obligationName(o *pack.Obligation) string {
	if o.ComparatorID != "" {
		return o.ComparatorID
	}
	return "condition"
}

// findingNamespace is the fixed namespace for name-based finding IDs.
var findingNamespace = uuid.MustParse("b9a7c2e4-5d13-4f60-8a9e-2c4d6e8f0a1b")

// findingID derives an RFC 4122 name-based UUID from the obligation's
// coordinates. Repeated runs over identical inputs report findings with
// identical IDs.
func findingID(p *pack.Pack, rule *pack.Rule, idx int) string {
	name := fmt.Sprintf("%s@%s/%s/%d", p.ID, p.Version, rule.ID, idx)
	return uuid.NewSHA1(findingNamespace, []byte(name)).String()
}
