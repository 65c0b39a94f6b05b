package condition

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// celEvaluator evaluates CEL leaf expressions with caching and a hard
// cost limit. Expressions see resolved facts as facts["<fact.id>"].
// Compile and eval failures are reported as errors and the leaf fails
// closed.
type celEvaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

func newCELEvaluator() (*celEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("facts", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}
	return &celEvaluator{env: env, prgCache: make(map[string]cel.Program)}, nil
}

func (e *celEvaluator) evaluate(expr string, factValues map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{"facts": factValues})
	if err != nil {
		return false, fmt.Errorf("cel eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel expression %q is not boolean", expr)
	}
	return val, nil
}

// program returns a compiled program from the cache, compiling under a
// write lock on first use.
func (e *celEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000), // hard limit on expression complexity
	)
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}
	e.prgCache[expr] = prg
	return prg, nil
}
