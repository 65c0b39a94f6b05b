// Package facts provides the versioned catalog of named, typed value
// extractors over an evaluation context. The catalog version is recorded
// in every resolved result and evaluation fingerprint so a later catalog
// change cannot silently alter the meaning of an old pack's decisions
// during replay.
package facts

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/driftgate/driftgate/pkg/evalctx"
)

// ErrFactNotFound is returned when a fact id is not in the catalog.
var ErrFactNotFound = errors.New("fact not found")

// ValueType is the declared type of a fact's resolved value.
type ValueType string

const (
	TypeString     ValueType = "string"
	TypeNumber     ValueType = "number"
	TypeBool       ValueType = "bool"
	TypeStringList ValueType = "stringList"
)

// Resolver extracts a value from an evaluation context. It must be pure:
// resolution never mutates the context.
type Resolver func(ctx *evalctx.Context) (any, error)

// Fact is a named, typed, versioned value extractor.
type Fact struct {
	ID         string
	Category   string
	ValueType  ValueType
	Version    int
	Deprecated bool
	// ReplacedBy points at the successor fact when Deprecated is set.
	// Resolution follows the pointer.
	ReplacedBy string
	Resolve    Resolver
}

// Catalog is an explicit fact registry, constructed once at process
// start and passed by reference into the evaluator. No ambient globals.
type Catalog struct {
	mu      sync.RWMutex
	version string
	facts   map[string]Fact
}

// NewCatalog creates an empty catalog with the given catalog version.
func NewCatalog(version string) *Catalog {
	return &Catalog{version: version, facts: make(map[string]Fact)}
}

// Version returns the catalog version stamped into results and
// fingerprints.
func (c *Catalog) Version() string {
	return c.version
}

// Register adds a fact. Duplicate ids are an error.
func (c *Catalog) Register(f Fact) error {
	if f.ID == "" || f.Resolve == nil {
		return errors.New("fact requires id and resolver")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.facts[f.ID]; ok {
		return fmt.Errorf("fact %q already registered", f.ID)
	}
	c.facts[f.ID] = f
	return nil
}

// Get returns a fact by id.
func (c *Catalog) Get(id string) (Fact, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.facts[id]
	return f, ok
}

// IDs returns all registered fact ids, sorted.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.facts))
	for id := range c.facts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Resolve resolves a fact against the context. Deprecated facts follow
// their replacement. Resolution never throws outward: a missing fact or
// a panicking resolver comes back as an error value, and any condition
// depending on it fails closed.
func (c *Catalog) Resolve(id string, ctx *evalctx.Context) (value any, err error) {
	c.mu.RLock()
	f, ok := c.facts[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFactNotFound, id)
	}
	if f.Deprecated && f.ReplacedBy != "" && f.ReplacedBy != id {
		return c.Resolve(f.ReplacedBy, ctx)
	}

	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("fact %q resolver panicked: %v", id, r)
		}
	}()
	value, err = f.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("fact %q: %w", id, err)
	}
	return value, nil
}

// ResolveMany resolves a set of facts, returning values and per-fact
// errors. One erroring fact does not stop the others.
func (c *Catalog) ResolveMany(ids []string, ctx *evalctx.Context) (map[string]any, map[string]error) {
	values := make(map[string]any, len(ids))
	errs := make(map[string]error)
	for _, id := range ids {
		v, err := c.Resolve(id, ctx)
		if err != nil {
			errs[id] = err
			continue
		}
		values[id] = v
	}
	return values, errs
}
