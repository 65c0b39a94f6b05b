package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/driftgate/driftgate/pkg/budget"
	"github.com/driftgate/driftgate/pkg/comparator"
	"github.com/driftgate/driftgate/pkg/condition"
	"github.com/driftgate/driftgate/pkg/evalctx"
	"github.com/driftgate/driftgate/pkg/facts"
	"github.com/driftgate/driftgate/pkg/pack"
	"github.com/driftgate/driftgate/pkg/surface"
)

// Engine evaluates packs. It is stateless across runs: all mutable
// per-run state lives on the evalctx.Context.
type Engine struct {
	comparators *comparator.Registry
	catalog     *facts.Catalog
	surfaces    *surface.Catalog
	conditions  *condition.Evaluator
	logger      *slog.Logger
}

// Options configure engine construction. Nil fields fall back to
// defaults (builtin fact catalog, default surface catalog, empty
// comparator registry, slog.Default).
type Options struct {
	Comparators *comparator.Registry
	Facts       *facts.Catalog
	Surfaces    *surface.Catalog
	Logger      *slog.Logger
}

// New constructs an engine.
func New(opts Options) (*Engine, error) {
	if opts.Comparators == nil {
		opts.Comparators = comparator.NewRegistry()
	}
	if opts.Facts == nil {
		opts.Facts = facts.Builtin()
	}
	if opts.Surfaces == nil {
		opts.Surfaces = surface.DefaultCatalog()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	conditions, err := condition.NewEvaluator(opts.Facts)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return &Engine{
		comparators: opts.Comparators,
		catalog:     opts.Facts,
		surfaces:    opts.Surfaces,
		conditions:  conditions,
		logger:      opts.Logger,
	}, nil
}

// NewRun creates the evaluation context for one run, with a budget from
// the given evaluation config.
func (e *Engine) NewRun(change *evalctx.Change, cfg *pack.EvaluationConfig) *evalctx.Context {
	if cfg == nil {
		cfg = pack.DefaultEvaluation()
	}
	b := budget.New(budget.Limits{
		MaxTotal:               time.Duration(cfg.Budgets.MaxTotalMs) * time.Millisecond,
		MaxExternalCalls:       cfg.Budgets.MaxExternalCalls,
		ExternalCallsPerSecond: cfg.Budgets.ExternalCallsPerSecond,
	})
	return evalctx.New(change, b)
}

// tightestBudgets merges the budgets of several packs into the most
// restrictive combination, used when one aggregation run shares a
// budget across packs.
func tightestBudgets(packs []*pack.Pack) *pack.EvaluationConfig {
	merged := pack.DefaultEvaluation()
	for _, p := range packs {
		eff := p.EffectiveEvaluation()
		if eff.Budgets.MaxTotalMs < merged.Budgets.MaxTotalMs {
			merged.Budgets.MaxTotalMs = eff.Budgets.MaxTotalMs
		}
		if eff.Budgets.MaxExternalCalls < merged.Budgets.MaxExternalCalls {
			merged.Budgets.MaxExternalCalls = eff.Budgets.MaxExternalCalls
		}
		if eff.Budgets.ExternalCallsPerSecond > 0 &&
			(merged.Budgets.ExternalCallsPerSecond == 0 ||
				eff.Budgets.ExternalCallsPerSecond < merged.Budgets.ExternalCallsPerSecond) {
			merged.Budgets.ExternalCallsPerSecond = eff.Budgets.ExternalCallsPerSecond
		}
	}
	return merged
}
