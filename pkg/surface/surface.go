// Package surface owns the canonical change-surface catalog: the single
// mapping from surface ids (e.g. "openapi", "terraform") to path globs.
// Both rule triggers and any external authoring UI resolve surfaces
// through this package, so the two always see identical semantics.
//
// Globs are evaluated case-sensitively with dotfiles included.
package surface

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
)

// Surface is one canonical change-surface category. Path-backed surfaces
// carry globs; signal-backed surfaces (no globs) are resolved from an
// actor-signal fact instead.
type Surface struct {
	ID          string
	Description string
	Globs       []string
	// SignalFact names the boolean fact that resolves this surface when
	// it has no path globs.
	SignalFact string
}

// Catalog is the set of known surfaces.
type Catalog struct {
	surfaces map[string]Surface
}

// DefaultCatalog returns the built-in surface catalog.
func DefaultCatalog() *Catalog {
	c := &Catalog{surfaces: make(map[string]Surface)}
	for _, s := range []Surface{
		{
			ID:          "openapi",
			Description: "API contract changed",
			Globs:       []string{"**/openapi.{yaml,yml,json}", "**/swagger.{yaml,yml,json}", "api/**/*.{yaml,yml,json}"},
		},
		{
			ID:          "terraform",
			Description: "Infrastructure definition changed",
			Globs:       []string{"**/*.tf", "**/*.tfvars", "terraform/**"},
		},
		{
			ID:          "codeowners",
			Description: "Ownership mapping changed",
			Globs:       []string{"CODEOWNERS", ".github/CODEOWNERS", "docs/CODEOWNERS"},
		},
		{
			ID:          "ci",
			Description: "CI pipeline changed",
			Globs:       []string{".github/workflows/**", ".gitlab-ci.yml", "Jenkinsfile", ".circleci/**"},
		},
		{
			ID:          "docs",
			Description: "Documentation changed",
			Globs:       []string{"docs/**", "**/*.md", "**/*.mdx"},
		},
		{
			ID:          "database-migration",
			Description: "Schema migration changed",
			Globs:       []string{"**/migrations/**", "db/migrate/**", "**/*.sql"},
		},
		{
			ID:          "dependencies",
			Description: "Dependency manifest changed",
			Globs:       []string{"go.mod", "go.sum", "package.json", "package-lock.json", "requirements.txt", "Pipfile.lock", "Cargo.toml", "Cargo.lock", "pom.xml"},
		},
		{
			ID:          "secrets-config",
			Description: "Secret or credential configuration changed",
			Globs:       []string{"**/.env*", "**/secrets/**", "**/*.pem", "**/*.key"},
		},
		{
			ID:          "agent-sensitive",
			Description: "Agent-authored sensitive change",
			SignalFact:  "actor.isAgent",
		},
	} {
		c.surfaces[s.ID] = s
	}
	return c
}

// Get returns a surface by id.
func (c *Catalog) Get(id string) (Surface, bool) {
	s, ok := c.surfaces[id]
	return s, ok
}

// IDs returns all surface ids, sorted.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.surfaces))
	for id := range c.surfaces {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ResolveGlobs maps surface ids to their deduplicated union of path
// globs. Signal-backed surfaces contribute no globs. Unknown surfaces
// are an error.
func (c *Catalog) ResolveGlobs(surfaceIDs []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, id := range surfaceIDs {
		s, ok := c.surfaces[id]
		if !ok {
			return nil, fmt.Errorf("unknown surface %q", id)
		}
		for _, g := range s.Globs {
			if !seen[g] {
				seen[g] = true
				out = append(out, g)
			}
		}
	}
	return out, nil
}

// SignalFacts returns the fact ids behind any signal-backed surfaces in
// the given set. Unknown surfaces are skipped; ResolveGlobs is the
// validation point.
func (c *Catalog) SignalFacts(surfaceIDs []string) []string {
	var out []string
	for _, id := range surfaceIDs {
		if s, ok := c.surfaces[id]; ok && s.SignalFact != "" {
			out = append(out, s.SignalFact)
		}
	}
	return out
}

// Matcher matches changed paths against compiled globs.
type Matcher struct {
	globs []glob.Glob
	raw   []string
}

// NewMatcher compiles the given glob patterns with '/' as the path
// separator. Any pattern that fails to compile is an error.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{
		globs: make([]glob.Glob, 0, len(patterns)),
		raw:   make([]string, 0, len(patterns)),
	}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compile glob %q: %w", p, err)
		}
		m.globs = append(m.globs, g)
		m.raw = append(m.raw, p)
	}
	return m, nil
}

// Match reports whether the path matches any pattern. Empty pattern sets
// match nothing.
func (m *Matcher) Match(p string) bool {
	if len(m.globs) == 0 {
		return false
	}
	p = filepath.ToSlash(p)
	for _, g := range m.globs {
		if g.Match(p) {
			return true
		}
	}
	return false
}

// MatchAny reports whether any of the paths matches any pattern.
func (m *Matcher) MatchAny(paths []string) bool {
	for _, p := range paths {
		if m.Match(p) {
			return true
		}
	}
	return false
}

// MatchAll reports whether every path matches some pattern. Empty path
// sets match nothing.
func (m *Matcher) MatchAll(paths []string) bool {
	if len(paths) == 0 {
		return false
	}
	for _, p := range paths {
		if !m.Match(p) {
			return false
		}
	}
	return true
}

// Filter returns the paths that match some pattern.
func (m *Matcher) Filter(paths []string) []string {
	var out []string
	for _, p := range paths {
		if m.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

// Reject returns the paths that match no pattern.
func (m *Matcher) Reject(paths []string) []string {
	var out []string
	for _, p := range paths {
		if !m.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

// Matches is the one-shot form: compile globs and test changedPaths.
// Compilation errors fail closed to no match.
func Matches(changedPaths, globs []string) bool {
	m, err := NewMatcher(globs)
	if err != nil {
		return false
	}
	return m.MatchAny(changedPaths)
}
