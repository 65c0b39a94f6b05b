package pack

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

var (
	// ErrPackNotFound is returned when no pack matches an id/version.
	ErrPackNotFound = errors.New("pack not found")
	// ErrVersionConflict is returned when a publish would mutate an
	// already published version with different content.
	ErrVersionConflict = errors.New("pack version already published with different content")
)

// Registry is the source of truth for published packs. Versions are
// immutable: publishing the same (id, version) with identical content is
// an idempotent no-op, with different content an error. Superseded
// versions remain addressable for audit and replay.
type Registry interface {
	Publish(p *Pack) error
	Get(id, version string) (*Pack, error)
	Latest(id string) (*Pack, error)
	Versions(id string) ([]string, error)
	List() []*Pack
}

// InMemoryRegistry is a thread-safe in-memory Registry.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	packs map[string]map[string]*Pack // id -> version -> pack
}

// NewInMemoryRegistry returns an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{packs: make(map[string]map[string]*Pack)}
}

func (r *InMemoryRegistry) Publish(p *Pack) error {
	if p == nil {
		return errors.New("nil pack")
	}
	if p.Hash == "" {
		return errors.New("pack has no content hash; validate before publishing")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	versions, ok := r.packs[p.ID]
	if !ok {
		versions = make(map[string]*Pack)
		r.packs[p.ID] = versions
	}
	if existing, ok := versions[p.Version]; ok {
		if existing.Hash != p.Hash {
			return fmt.Errorf("%w: %s@%s (%s vs %s)",
				ErrVersionConflict, p.ID, p.Version, existing.Hash, p.Hash)
		}
		return nil
	}
	versions[p.Version] = p
	return nil
}

func (r *InMemoryRegistry) Get(id, version string) (*Pack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.packs[id][version]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s@%s", ErrPackNotFound, id, version)
}

// Latest returns the pack with the highest semver version.
func (r *InMemoryRegistry) Latest(id string) (*Pack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.packs[id]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPackNotFound, id)
	}

	var best *Pack
	var bestVer *semver.Version
	for v, p := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			continue
		}
		if bestVer == nil || sv.GreaterThan(bestVer) {
			best, bestVer = p, sv
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s has no parseable versions", ErrPackNotFound, id)
	}
	return best, nil
}

func (r *InMemoryRegistry) Versions(id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions, ok := r.packs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPackNotFound, id)
	}
	out := make([]string, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

// List returns the latest version of every pack, sorted by id.
func (r *InMemoryRegistry) List() []*Pack {
	r.mu.RLock()
	ids := make([]string, 0, len(r.packs))
	for id := range r.packs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*Pack, 0, len(ids))
	for _, id := range ids {
		if p, err := r.Latest(id); err == nil {
			out = append(out, p)
		}
	}
	return out
}
