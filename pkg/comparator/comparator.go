// Package comparator defines the contract for external check
// implementations and the explicit registry they are installed into.
// The engine owns when and under what budget a comparator runs; the
// comparator owns what it inspects. Registries are constructed once at
// process start and passed by reference; there are no ambient globals.
package comparator

import (
	"context"

	"github.com/driftgate/driftgate/pkg/evalctx"
)

// ResultKind is the closed outcome set of a comparator run.
type ResultKind string

const (
	ResultPass    ResultKind = "pass"
	ResultFail    ResultKind = "fail"
	ResultUnknown ResultKind = "unknown"
)

// Evidence is one concrete observation supporting a comparator outcome.
type Evidence struct {
	Path    string `json:"path,omitempty"`
	Line    int    `json:"line,omitempty"`
	Detail  string `json:"detail"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// Outcome is the result of one comparator invocation.
type Outcome struct {
	Result   ResultKind `json:"result"`
	Evidence []Evidence `json:"evidence,omitempty"`
}

// Comparator is a named, versioned external check. Implementations must
// respect ctx cancellation: the executor derives ctx from the
// per-comparator timeout and the run-wide deadline.
type Comparator interface {
	// ID returns the stable comparator id referenced by obligations.
	ID() string

	// Version identifies the implementation for evaluation fingerprints.
	Version() string

	// Kinds lists the artifact/surface kinds the comparator supports.
	Kinds() []string

	// ParamSchema returns a JSON Schema for the obligation params, or ""
	// when the comparator takes none. Params are validated at pack load,
	// not at call time.
	ParamSchema() string

	// Run performs the check.
	Run(ctx context.Context, ectx *evalctx.Context, params map[string]any) (Outcome, error)
}
