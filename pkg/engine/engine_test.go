package engine

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftgate/driftgate/pkg/comparator"
	"github.com/driftgate/driftgate/pkg/evalctx"
	"github.com/driftgate/driftgate/pkg/pack"
)

// stubComparator is a scriptable comparator for engine tests.
type stubComparator struct {
	id      string
	outcome comparator.Outcome
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (s *stubComparator) ID() string          { return s.id }
func (s *stubComparator) Version() string     { return "1.0.0" }
func (s *stubComparator) Kinds() []string     { return []string{"change"} }
func (s *stubComparator) ParamSchema() string { return "" }

func (s *stubComparator) Run(ctx context.Context, _ *evalctx.Context, _ map[string]any) (comparator.Outcome, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return comparator.Outcome{}, ctx.Err()
		}
	}
	return s.outcome, s.err
}

func newTestEngine(t *testing.T, stubs ...*stubComparator) *Engine {
	t.Helper()
	reg := comparator.NewRegistry()
	for _, s := range stubs {
		require.NoError(t, reg.Register(s))
	}
	e, err := New(Options{
		Comparators: reg,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return e
}

func terraformChange() *evalctx.Change {
	return &evalctx.Change{
		Repo:       "acme/payments",
		BaseBranch: "main",
		Files: []evalctx.ChangedFile{
			{Path: "terraform/modules/vpc/main.tf", Status: evalctx.StatusModified},
			{Path: "README.md", Status: evalctx.StatusModified},
		},
		Actor: evalctx.Actor{Login: "alice"},
	}
}

func readmeOnlyChange() *evalctx.Change {
	return &evalctx.Change{
		Repo:       "acme/payments",
		BaseBranch: "main",
		Files:      []evalctx.ChangedFile{{Path: "README.md", Status: evalctx.StatusModified}},
		Actor:      evalctx.Actor{Login: "alice"},
	}
}

func enforcePack(id string, rules ...pack.Rule) *pack.Pack {
	return &pack.Pack{
		ID:            id,
		Version:       "1.0.0",
		Name:          id,
		Mode:          pack.ModeEnforce,
		Scope:         pack.Scope{Level: pack.ScopeRepo},
		Priority:      pack.DefaultPriority,
		MergeStrategy: pack.MergeMostRestrictive,
		Hash:          "0123456789abcdef",
		Rules:         rules,
	}
}

func TestEvaluate_UntriggeredRuleConsumesNothing(t *testing.T) {
	stub := &stubComparator{id: "iac-plan-check", outcome: comparator.Outcome{Result: comparator.ResultFail}}
	e := newTestEngine(t, stub)

	p := enforcePack("iac-safety", pack.Rule{
		ID:      "require-plan-review",
		Trigger: pack.Trigger{AnyChangedPaths: []string{"terraform/**"}},
		Obligations: []pack.Obligation{{
			ComparatorID:   "iac-plan-check",
			DecisionOnFail: pack.DecisionBlock,
		}},
	})

	ectx := e.NewRun(readmeOnlyChange(), nil)
	result := e.EvaluatePack(context.Background(), ectx, p)

	assert.Equal(t, pack.DecisionPass, result.Decision)
	assert.Empty(t, result.Findings)
	assert.Empty(t, result.TriggeredRuleIDs)
	assert.EqualValues(t, 0, ectx.Budget.Calls())
	assert.EqualValues(t, 0, stub.calls.Load())
}

func TestEvaluate_TriggeredRuleFailBlocks(t *testing.T) {
	stub := &stubComparator{id: "iac-plan-check", outcome: comparator.Outcome{
		Result:   comparator.ResultFail,
		Evidence: []comparator.Evidence{{Path: "terraform/modules/vpc/main.tf", Detail: "destroys vpc"}},
	}}
	e := newTestEngine(t, stub)

	p := enforcePack("iac-safety", pack.Rule{
		ID:      "require-plan-review",
		Trigger: pack.Trigger{AnyChangedPaths: []string{"terraform/**"}},
		Obligations: []pack.Obligation{{
			ComparatorID:   "iac-plan-check",
			DecisionOnFail: pack.DecisionBlock,
			Message:        "infrastructure plan must be reviewed",
		}},
	})

	result := e.Evaluate(context.Background(), terraformChange(), p)

	assert.Equal(t, pack.DecisionBlock, result.Decision)
	assert.Equal(t, []string{"require-plan-review"}, result.TriggeredRuleIDs)
	require.Len(t, result.Findings, 1)
	f := result.Findings[0]
	assert.NotEmpty(t, f.ID)
	assert.Equal(t, "iac-safety", f.PackID)
	assert.Equal(t, "iac-plan-check", f.ComparatorID)
	assert.Equal(t, comparator.ResultFail, f.Outcome)
	assert.Equal(t, "infrastructure plan must be reviewed", f.Message)
	require.Len(t, f.Evidence, 1)
	assert.EqualValues(t, 1, stub.calls.Load())
}

func TestEvaluate_TimeBudgetShortCircuitsLaterObligations(t *testing.T) {
	sleeper := &stubComparator{id: "slow-check", delay: 200 * time.Millisecond,
		outcome: comparator.Outcome{Result: comparator.ResultPass}}
	never := &stubComparator{id: "never-check",
		outcome: comparator.Outcome{Result: comparator.ResultPass}}
	e := newTestEngine(t, sleeper, never)

	p := enforcePack("budgeted", pack.Rule{
		ID:      "tight-budget",
		Trigger: pack.Trigger{Always: true},
		Obligations: []pack.Obligation{
			{ComparatorID: "slow-check", DecisionOnFail: pack.DecisionBlock, DecisionOnUnknown: pack.DecisionWarn},
			{ComparatorID: "never-check", DecisionOnFail: pack.DecisionBlock, DecisionOnUnknown: pack.DecisionWarn},
		},
	})
	p.Evaluation = &pack.EvaluationConfig{
		Budgets: pack.Budgets{MaxTotalMs: 50, PerComparatorTimeoutMs: 1_000, MaxExternalCalls: 10},
	}

	result := e.Evaluate(context.Background(), terraformChange(), p)

	assert.True(t, result.BudgetExhausted)
	assert.Equal(t, pack.DecisionWarn, result.Decision)
	require.Len(t, result.Findings, 2)
	for _, f := range result.Findings {
		assert.Equal(t, comparator.ResultUnknown, f.Outcome)
		assert.Equal(t, pack.DecisionWarn, f.Decision)
	}
	// The second comparator must never start once the budget is spent.
	assert.EqualValues(t, 0, never.calls.Load())
}

func TestEvaluate_CallBudget(t *testing.T) {
	stub := &stubComparator{id: "cheap-check", outcome: comparator.Outcome{Result: comparator.ResultPass}}
	e := newTestEngine(t, stub)

	p := enforcePack("capped", pack.Rule{
		ID:      "many-checks",
		Trigger: pack.Trigger{Always: true},
		Obligations: []pack.Obligation{
			{ComparatorID: "cheap-check", DecisionOnFail: pack.DecisionBlock},
			{ComparatorID: "cheap-check", DecisionOnFail: pack.DecisionBlock},
			{ComparatorID: "cheap-check", DecisionOnFail: pack.DecisionBlock, DecisionOnUnknown: pack.DecisionWarn},
		},
	})
	p.Evaluation = &pack.EvaluationConfig{
		Budgets: pack.Budgets{MaxTotalMs: 30_000, PerComparatorTimeoutMs: 1_000, MaxExternalCalls: 2},
	}

	result := e.Evaluate(context.Background(), terraformChange(), p)

	assert.True(t, result.BudgetExhausted)
	assert.Equal(t, pack.DecisionWarn, result.Decision)
	assert.EqualValues(t, 2, stub.calls.Load())
	require.Len(t, result.Findings, 1)
	assert.Equal(t, comparator.ResultUnknown, result.Findings[0].Outcome)
}

func TestEvaluate_SoftFailHardFail(t *testing.T) {
	for _, tc := range []struct {
		mode pack.ExternalDependencyMode
		want pack.Decision
		out  comparator.ResultKind
	}{
		{pack.ExternalSoftFail, pack.DecisionWarn, comparator.ResultUnknown},
		{pack.ExternalHardFail, pack.DecisionBlock, comparator.ResultFail},
	} {
		t.Run(string(tc.mode), func(t *testing.T) {
			stub := &stubComparator{id: "flaky-check", err: context.DeadlineExceeded}
			e := newTestEngine(t, stub)

			p := enforcePack("flaky", pack.Rule{
				ID:      "external",
				Trigger: pack.Trigger{Always: true},
				Obligations: []pack.Obligation{{
					ComparatorID:      "flaky-check",
					DecisionOnFail:    pack.DecisionBlock,
					DecisionOnUnknown: pack.DecisionWarn,
				}},
			})
			p.Evaluation = &pack.EvaluationConfig{ExternalDependencyMode: tc.mode}

			result := e.Evaluate(context.Background(), terraformChange(), p)

			assert.Equal(t, tc.want, result.Decision)
			require.Len(t, result.Findings, 1)
			assert.Equal(t, tc.out, result.Findings[0].Outcome)
			assert.NotEmpty(t, result.Findings[0].Diagnostic)
		})
	}
}

func TestEvaluate_UnknownComparatorMapsPerDependencyMode(t *testing.T) {
	e := newTestEngine(t)

	p := enforcePack("stale", pack.Rule{
		ID:      "missing",
		Trigger: pack.Trigger{Always: true},
		Obligations: []pack.Obligation{{
			ComparatorID:      "not-installed",
			DecisionOnFail:    pack.DecisionBlock,
			DecisionOnUnknown: pack.DecisionWarn,
		}},
	})

	result := e.Evaluate(context.Background(), terraformChange(), p)
	assert.Equal(t, pack.DecisionWarn, result.Decision)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, comparator.ResultUnknown, result.Findings[0].Outcome)
}

func TestEvaluate_SkipIf(t *testing.T) {
	rule := pack.Rule{
		ID:      "docs-gate",
		Trigger: pack.Trigger{AnyChangedPaths: []string{"**"}},
		SkipIf: &pack.SkipIf{
			Labels:            []string{"docs-only"},
			BodyMarkers:       []string{"[skip-docs]"},
			AllChangedPathsIn: []string{"docs/**", "*.md"},
		},
		Obligations: []pack.Obligation{{
			Condition:      &pack.Condition{Fact: "pr.approvalCount", Operator: ">=", Value: 99},
			DecisionOnFail: pack.DecisionBlock,
		}},
	}

	cases := []struct {
		name    string
		mutate  func(*evalctx.Change)
		skipped bool
	}{
		{"label exemption", func(c *evalctx.Change) { c.Labels = []string{"docs-only"} }, true},
		{"body marker exemption", func(c *evalctx.Change) { c.Body = "routine\n[skip-docs]" }, true},
		{"all paths exempt", func(c *evalctx.Change) {
			c.Files = []evalctx.ChangedFile{{Path: "docs/guide.md"}, {Path: "README.md"}}
		}, true},
		{"no exemption", func(c *evalctx.Change) {}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t)
			change := terraformChange()
			tc.mutate(change)

			result := e.Evaluate(context.Background(), change, enforcePack("gated", rule))
			if tc.skipped {
				assert.Equal(t, pack.DecisionPass, result.Decision)
				assert.Empty(t, result.Findings)
			} else {
				assert.Equal(t, pack.DecisionBlock, result.Decision)
			}
		})
	}
}

func TestEvaluate_ExcludePathsRemovedBeforeTrigger(t *testing.T) {
	e := newTestEngine(t)

	p := enforcePack("iac-safety", pack.Rule{
		ID:           "tf-gate",
		Trigger:      pack.Trigger{AnyChangedPaths: []string{"terraform/**"}},
		ExcludePaths: []string{"terraform/examples/**"},
		Obligations: []pack.Obligation{{
			Condition:      &pack.Condition{Fact: "pr.approvalCount", Operator: ">=", Value: 1},
			DecisionOnFail: pack.DecisionBlock,
		}},
	})

	change := &evalctx.Change{
		Repo:       "acme/payments",
		BaseBranch: "main",
		Files:      []evalctx.ChangedFile{{Path: "terraform/examples/demo/main.tf"}},
	}
	result := e.Evaluate(context.Background(), change, p)
	assert.Equal(t, pack.DecisionPass, result.Decision)
	assert.Empty(t, result.TriggeredRuleIDs)
}

func TestEvaluate_SurfaceTrigger(t *testing.T) {
	e := newTestEngine(t)

	p := enforcePack("surface-pack", pack.Rule{
		ID:      "surface-gate",
		Trigger: pack.Trigger{AnySurfaces: []string{"terraform"}},
		Obligations: []pack.Obligation{{
			Condition:      &pack.Condition{Fact: "pr.approvalCount", Operator: ">=", Value: 1},
			DecisionOnFail: pack.DecisionWarn,
		}},
	})

	result := e.Evaluate(context.Background(), terraformChange(), p)
	assert.Equal(t, pack.DecisionWarn, result.Decision)

	result = e.Evaluate(context.Background(), readmeOnlyChange(), p)
	assert.Equal(t, pack.DecisionPass, result.Decision)
}

func TestEvaluate_SignalSurfaceTrigger(t *testing.T) {
	e := newTestEngine(t)

	p := enforcePack("agent-pack", pack.Rule{
		ID:      "agent-gate",
		Trigger: pack.Trigger{AnySurfaces: []string{"agent-sensitive"}},
		Obligations: []pack.Obligation{{
			Condition:      &pack.Condition{Fact: "pr.approvalCount", Operator: ">=", Value: 1},
			DecisionOnFail: pack.DecisionBlock,
		}},
	})

	change := readmeOnlyChange()
	change.Actor.IsAgent = true
	result := e.Evaluate(context.Background(), change, p)
	assert.Equal(t, pack.DecisionBlock, result.Decision)

	result = e.Evaluate(context.Background(), readmeOnlyChange(), p)
	assert.Equal(t, pack.DecisionPass, result.Decision)
}

func TestEvaluate_ConditionGatesComparator(t *testing.T) {
	stub := &stubComparator{id: "gated-check", outcome: comparator.Outcome{Result: comparator.ResultPass}}
	e := newTestEngine(t, stub)

	p := enforcePack("gated", pack.Rule{
		ID:      "conditional",
		Trigger: pack.Trigger{Always: true},
		Obligations: []pack.Obligation{{
			ComparatorID:   "gated-check",
			Condition:      &pack.Condition{Fact: "pr.approvalCount", Operator: ">=", Value: 99},
			DecisionOnFail: pack.DecisionBlock,
		}},
	})

	result := e.Evaluate(context.Background(), terraformChange(), p)

	// The unsatisfied gate is itself a fail outcome and the comparator
	// never runs.
	assert.Equal(t, pack.DecisionBlock, result.Decision)
	assert.EqualValues(t, 0, stub.calls.Load())
}

func TestEvaluate_MaxFindings(t *testing.T) {
	e := newTestEngine(t)

	failing := pack.Obligation{
		Condition:      &pack.Condition{Fact: "pr.approvalCount", Operator: ">=", Value: 99},
		DecisionOnFail: pack.DecisionWarn,
	}
	p := enforcePack("noisy", pack.Rule{
		ID:          "noisy-rule",
		Trigger:     pack.Trigger{Always: true},
		Obligations: []pack.Obligation{failing, failing, failing, failing},
	})
	p.Evaluation = &pack.EvaluationConfig{MaxFindings: 2}

	result := e.Evaluate(context.Background(), terraformChange(), p)
	assert.Len(t, result.Findings, 2)
	// Truncation drops findings, never the decision.
	assert.Equal(t, pack.DecisionWarn, result.Decision)
}

func TestEvaluate_Fingerprint(t *testing.T) {
	pass := &stubComparator{id: "a-check", outcome: comparator.Outcome{Result: comparator.ResultPass}}
	e := newTestEngine(t, pass, &stubComparator{id: "unused-check"})

	p := enforcePack("printed", pack.Rule{
		ID:      "one",
		Trigger: pack.Trigger{Always: true},
		Obligations: []pack.Obligation{{
			ComparatorID: "a-check", DecisionOnFail: pack.DecisionBlock,
		}},
	})

	first := e.Evaluate(context.Background(), terraformChange(), p)
	second := e.Evaluate(context.Background(), terraformChange(), p)

	assert.Equal(t, EngineVersion, first.Fingerprint.EngineVersion)
	assert.Equal(t, map[string]string{"a-check": "1.0.0"}, first.Fingerprint.ComparatorVersions)
	assert.NotEmpty(t, first.FingerprintHash)
	assert.Equal(t, first.FingerprintHash, second.FingerprintHash)
	assert.Equal(t, first.Decision, second.Decision)
	assert.Equal(t, first.Findings, second.Findings)
}

func TestEvaluate_RepeatedRunsIdentical(t *testing.T) {
	stub := &stubComparator{id: "drift-check", outcome: comparator.Outcome{
		Result:   comparator.ResultFail,
		Evidence: []comparator.Evidence{{Path: "terraform/modules/vpc/main.tf", Detail: "plan drift"}},
	}}
	e := newTestEngine(t, stub)

	p := enforcePack("repeatable", pack.Rule{
		ID:      "drift-gate",
		Trigger: pack.Trigger{Always: true},
		Obligations: []pack.Obligation{
			{ComparatorID: "drift-check", DecisionOnFail: pack.DecisionBlock},
			{
				Condition:      &pack.Condition{Fact: "pr.approvalCount", Operator: ">=", Value: 99},
				DecisionOnFail: pack.DecisionWarn,
			},
		},
	})

	first := e.Evaluate(context.Background(), terraformChange(), p)
	second := e.Evaluate(context.Background(), terraformChange(), p)

	// Identical inputs yield byte-identical findings, IDs included.
	assert.Equal(t, first.Decision, second.Decision)
	assert.Equal(t, first.Findings, second.Findings)
	assert.Equal(t, first.FingerprintHash, second.FingerprintHash)

	require.Len(t, first.Findings, 2)
	assert.NotEmpty(t, first.Findings[0].ID)
	assert.NotEqual(t, first.Findings[0].ID, first.Findings[1].ID,
		"obligations within a rule keep distinct finding IDs")
}

func TestEvaluate_ConcurrentRulesDeterministic(t *testing.T) {
	stub := &stubComparator{id: "par-check", outcome: comparator.Outcome{Result: comparator.ResultFail}}
	e := newTestEngine(t, stub)

	rules := make([]pack.Rule, 8)
	for i := range rules {
		rules[i] = pack.Rule{
			ID:      string(rune('a' + i)),
			Trigger: pack.Trigger{Always: true},
			Obligations: []pack.Obligation{{
				ComparatorID: "par-check", DecisionOnFail: pack.DecisionWarn,
			}},
		}
	}
	p := enforcePack("parallel", rules...)
	p.Evaluation = &pack.EvaluationConfig{Concurrency: 4}

	result := e.Evaluate(context.Background(), terraformChange(), p)

	assert.Equal(t, pack.DecisionWarn, result.Decision)
	assert.Len(t, result.Findings, 8)
	// Triggered rules report in declaration order regardless of scheduling.
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h"}, result.TriggeredRuleIDs)
}

func TestPackApplies(t *testing.T) {
	change := terraformChange()

	cases := []struct {
		name  string
		scope pack.Scope
		want  bool
	}{
		{"empty scope applies", pack.Scope{}, true},
		{"repo include hit", pack.Scope{RepoInclude: []string{"acme/*"}}, true},
		{"repo include miss", pack.Scope{RepoInclude: []string{"globex/*"}}, false},
		{"repo exclude wins", pack.Scope{RepoInclude: []string{"acme/*"}, RepoExclude: []string{"acme/payments"}}, false},
		{"branch include", pack.Scope{BranchInclude: []string{"main", "release-*"}}, true},
		{"branch exclude", pack.Scope{BranchExclude: []string{"main"}}, false},
		{"human actor signal", pack.Scope{ActorSignals: []string{"human"}}, true},
		{"bot actor signal miss", pack.Scope{ActorSignals: []string{"bot"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := enforcePack("scoped")
			p.Scope = tc.scope
			assert.Equal(t, tc.want, PackApplies(p, change))
		})
	}
}

func TestTightestBudgets(t *testing.T) {
	a := enforcePack("a")
	a.Evaluation = &pack.EvaluationConfig{Budgets: pack.Budgets{MaxTotalMs: 5_000, MaxExternalCalls: 100}}
	b := enforcePack("b")
	b.Evaluation = &pack.EvaluationConfig{Budgets: pack.Budgets{MaxTotalMs: 20_000, MaxExternalCalls: 10, ExternalCallsPerSecond: 2}}

	merged := tightestBudgets([]*pack.Pack{a, b})
	assert.EqualValues(t, 5_000, merged.Budgets.MaxTotalMs)
	assert.EqualValues(t, 10, merged.Budgets.MaxExternalCalls)
	assert.EqualValues(t, 2, merged.Budgets.ExternalCallsPerSecond)
}
