// Package condition evaluates boolean expression trees over facts.
// The evaluator is pure and side-effect-free given a context; a fact
// that cannot be resolved makes the depending condition unsatisfied
// (fail-closed) with the error attached for diagnostics.
package condition

import (
	"fmt"

	"github.com/driftgate/driftgate/pkg/evalctx"
	"github.com/driftgate/driftgate/pkg/facts"
	"github.com/driftgate/driftgate/pkg/pack"
)

// Result is the outcome of evaluating one condition node. Composite
// nodes carry the results of all children: AND/OR never short-circuit,
// so diagnostics are complete.
type Result struct {
	Satisfied bool     `json:"satisfied"`
	Err       error    `json:"-"`
	Error     string   `json:"error,omitempty"`
	Children  []Result `json:"children,omitempty"`
}

func unsatisfied(err error) Result {
	r := Result{Satisfied: false, Err: err}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Evaluator evaluates condition trees against a fact catalog.
type Evaluator struct {
	catalog *facts.Catalog
	cel     *celEvaluator
}

// NewEvaluator constructs an evaluator over the given catalog.
func NewEvaluator(catalog *facts.Catalog) (*Evaluator, error) {
	ce, err := newCELEvaluator()
	if err != nil {
		return nil, fmt.Errorf("condition: cel env: %w", err)
	}
	return &Evaluator{catalog: catalog, cel: ce}, nil
}

// Evaluate walks the condition tree by structural recursion over the
// discriminated union.
func (e *Evaluator) Evaluate(c *pack.Condition, ctx *evalctx.Context) Result {
	switch c.Kind() {
	case pack.KindLeaf:
		return e.evaluateLeaf(c, ctx)
	case pack.KindCEL:
		return e.evaluateCEL(c, ctx)
	case pack.KindComposite:
		return e.evaluateComposite(c, ctx)
	default:
		return unsatisfied(fmt.Errorf("malformed condition node"))
	}
}

func (e *Evaluator) evaluateLeaf(c *pack.Condition, ctx *evalctx.Context) Result {
	value, err := e.catalog.Resolve(c.Fact, ctx)
	if err != nil {
		// Fail closed: unresolvable facts never satisfy a condition.
		return unsatisfied(err)
	}
	ok, err := apply(c.Operator, value, c.Value)
	if err != nil {
		return unsatisfied(err)
	}
	return Result{Satisfied: ok}
}

func (e *Evaluator) evaluateComposite(c *pack.Condition, ctx *evalctx.Context) Result {
	op := pack.CompositeOp(c.Operator)

	if op == pack.OpNot {
		if len(c.Conditions) != 1 {
			return unsatisfied(fmt.Errorf("NOT requires exactly one child, got %d", len(c.Conditions)))
		}
		child := e.Evaluate(c.Conditions[0], ctx)
		return Result{Satisfied: !child.Satisfied, Children: []Result{child}}
	}

	// Evaluate every child: no short-circuit, complete diagnostics.
	children := make([]Result, len(c.Conditions))
	for i, childCond := range c.Conditions {
		children[i] = e.Evaluate(childCond, ctx)
	}

	satisfied := op == pack.OpAnd
	for _, child := range children {
		if op == pack.OpAnd {
			satisfied = satisfied && child.Satisfied
		} else {
			satisfied = satisfied || child.Satisfied
		}
	}
	if len(c.Conditions) == 0 && op == pack.OpOr {
		satisfied = false
	}
	return Result{Satisfied: satisfied, Children: children}
}

func (e *Evaluator) evaluateCEL(c *pack.Condition, ctx *evalctx.Context) Result {
	values, _ := e.catalog.ResolveMany(e.catalog.IDs(), ctx)
	ok, err := e.cel.evaluate(c.CEL, values)
	if err != nil {
		return unsatisfied(err)
	}
	return Result{Satisfied: ok}
}
