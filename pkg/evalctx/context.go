// Package evalctx defines the evaluation context: the immutable snapshot
// of a proposed change (diff summary, approvals, labels, actor) plus the
// run-scoped budget and cache shared by all comparators in one run.
// A context is created once per evaluation and discarded afterwards;
// there is no cross-run shared state.
package evalctx

import (
	"sync"

	"github.com/driftgate/driftgate/pkg/budget"
	"golang.org/x/sync/singleflight"
)

// FileStatus is the diff status of one changed file.
type FileStatus string

const (
	StatusAdded    FileStatus = "added"
	StatusModified FileStatus = "modified"
	StatusRemoved  FileStatus = "removed"
	StatusRenamed  FileStatus = "renamed"
)

// ChangedFile is one entry of the diff summary.
type ChangedFile struct {
	Path         string     `json:"path"`
	Status       FileStatus `json:"status"`
	PreviousPath string     `json:"previousPath,omitempty"`
	Additions    int        `json:"additions"`
	Deletions    int        `json:"deletions"`
}

// Approval is one review approval on the change.
type Approval struct {
	User string `json:"user"`
	Team string `json:"team,omitempty"`
	Bot  bool   `json:"bot,omitempty"`
}

// CheckRun is the status of one external check at the head commit.
type CheckRun struct {
	Name       string `json:"name"`
	Conclusion string `json:"conclusion"` // success, failure, neutral, ...
}

// Actor identifies who authored the change, with signal flags used by
// signal-backed surfaces.
type Actor struct {
	Login   string `json:"login"`
	IsBot   bool   `json:"isBot"`
	IsAgent bool   `json:"isAgent"`
}

// Change is the PR/change snapshot under evaluation. Fields are
// read-only after construction; fact resolution never mutates them.
type Change struct {
	Repo       string        `json:"repo"`
	BaseBranch string        `json:"baseBranch"`
	HeadBranch string        `json:"headBranch"`
	HeadCommit string        `json:"headCommit"`
	Files      []ChangedFile `json:"files"`
	Approvals  []Approval    `json:"approvals"`
	Labels     []string      `json:"labels"`
	Draft      bool          `json:"draft"`
	Body       string        `json:"body,omitempty"`
	Actor      Actor         `json:"actor"`
	CheckRuns  []CheckRun    `json:"checkRuns,omitempty"`
}

// ChangedPaths returns the path of every changed file.
func (c *Change) ChangedPaths() []string {
	out := make([]string, len(c.Files))
	for i, f := range c.Files {
		out[i] = f.Path
	}
	return out
}

// Context is one evaluation run: the change snapshot, the shared budget,
// and a run-scoped cache with single-flight semantics so two comparators
// requesting the same external fact issue one upstream call.
type Context struct {
	Change *Change
	Budget *budget.Budget

	flight singleflight.Group
	cache  sync.Map
}

// New creates a context for one run.
func New(change *Change, b *budget.Budget) *Context {
	return &Context{Change: change, Budget: b}
}

// Lookup returns the cached value for key, or runs fn once and caches
// its result. Concurrent lookups for the same key share one fn call.
// Errors are not cached, so a transient failure can be retried by a
// later obligation in the same run.
func (c *Context) Lookup(key string, fn func() (any, error)) (any, error) {
	if v, ok := c.cache.Load(key); ok {
		return v, nil
	}
	v, err, _ := c.flight.Do(key, func() (any, error) {
		if v, ok := c.cache.Load(key); ok {
			return v, nil
		}
		v, err := fn()
		if err != nil {
			return nil, err
		}
		c.cache.Store(key, v)
		return v, nil
	})
	return v, err
}
