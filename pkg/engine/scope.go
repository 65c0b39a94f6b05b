package engine

import (
	"github.com/driftgate/driftgate/pkg/evalctx"
	"github.com/driftgate/driftgate/pkg/pack"
	"github.com/driftgate/driftgate/pkg/surface"
)

// PackApplies reports whether a pack's scope matches the change. Scope
// matching reuses the surface matcher's glob semantics: include lists
// default to everything, exclude lists always win.
func PackApplies(p *pack.Pack, change *evalctx.Change) bool {
	s := p.Scope

	if !includeExcludeMatch(change.Repo, s.RepoInclude, s.RepoExclude) {
		return false
	}
	if !includeExcludeMatch(change.BaseBranch, s.BranchInclude, s.BranchExclude) {
		return false
	}

	if len(s.ActorSignals) > 0 {
		matched := false
		for _, signal := range s.ActorSignals {
			switch signal {
			case "bot":
				matched = matched || change.Actor.IsBot
			case "agent":
				matched = matched || change.Actor.IsAgent
			case "human":
				matched = matched || (!change.Actor.IsBot && !change.Actor.IsAgent)
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// ApplicablePacks filters a pack set down to those whose scope matches
// the change.
func ApplicablePacks(packs []*pack.Pack, change *evalctx.Change) []*pack.Pack {
	var out []*pack.Pack
	for _, p := range packs {
		if PackApplies(p, change) {
			out = append(out, p)
		}
	}
	return out
}

func includeExcludeMatch(value string, include, exclude []string) bool {
	if len(exclude) > 0 && surface.Matches([]string{value}, exclude) {
		return false
	}
	if len(include) == 0 {
		return true
	}
	return surface.Matches([]string{value}, include)
}
