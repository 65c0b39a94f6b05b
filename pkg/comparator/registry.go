package comparator

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrComparatorNotFound is returned when no comparator matches an id.
var ErrComparatorNotFound = errors.New("comparator not found")

// Registry holds installed comparators keyed by id, with their compiled
// param schemas.
type Registry struct {
	mu          sync.RWMutex
	comparators map[string]Comparator
	schemas     map[string]*jsonschema.Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		comparators: make(map[string]Comparator),
		schemas:     make(map[string]*jsonschema.Schema),
	}
}

// Register installs a comparator, compiling its param schema. Duplicate
// ids and invalid schemas are errors.
func (r *Registry) Register(c Comparator) error {
	if c == nil || c.ID() == "" {
		return errors.New("comparator requires an id")
	}

	var schema *jsonschema.Schema
	if raw := c.ParamSchema(); raw != "" {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://driftgate.dev/schemas/comparators/%s.schema.json", c.ID())
		if err := compiler.AddResource(url, strings.NewReader(raw)); err != nil {
			return fmt.Errorf("comparator %q: schema load: %w", c.ID(), err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("comparator %q: schema compile: %w", c.ID(), err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.comparators[c.ID()]; ok {
		return fmt.Errorf("comparator %q already registered", c.ID())
	}
	r.comparators[c.ID()] = c
	if schema != nil {
		r.schemas[c.ID()] = schema
	}
	return nil
}

// Get returns a comparator by id.
func (r *Registry) Get(id string) (Comparator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.comparators[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrComparatorNotFound, id)
	}
	return c, nil
}

// Has reports whether a comparator is registered. Part of the
// pack.ParamValidator contract.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.comparators[id]
	return ok
}

// ValidateParams checks obligation params against the comparator's
// param schema. Comparators without a schema accept anything. Part of
// the pack.ParamValidator contract.
func (r *Registry) ValidateParams(id string, params map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}
	// jsonschema expects the JSON value space; params come from the
	// pack's normalized JSON decode, so they already are.
	var value any = params
	if err := schema.Validate(value); err != nil {
		return err
	}
	return nil
}

// Versions returns the id -> version map of every registered
// comparator, for evaluation fingerprints.
func (r *Registry) Versions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.comparators))
	for id, c := range r.comparators {
		out[id] = c.Version()
	}
	return out
}
