package facts

import (
	"strings"

	"github.com/driftgate/driftgate/pkg/evalctx"
)

// CatalogVersion identifies the built-in fact set. Bump on any change to
// the meaning of an existing fact.
const CatalogVersion = "1"

// Builtin returns the v1 fact catalog over the PR change snapshot.
func Builtin() *Catalog {
	c := NewCatalog(CatalogVersion)

	register := func(f Fact) {
		// Ids are literals below; a duplicate is a programming error.
		if err := c.Register(f); err != nil {
			panic(err)
		}
	}

	register(Fact{
		ID: "pr.approvalCount", Category: "approvals", ValueType: TypeNumber, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			n := 0
			for _, a := range ctx.Change.Approvals {
				if !a.Bot {
					n++
				}
			}
			return n, nil
		},
	})
	register(Fact{
		ID: "pr.approverLogins", Category: "approvals", ValueType: TypeStringList, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			var out []string
			for _, a := range ctx.Change.Approvals {
				if a.User != "" {
					out = append(out, a.User)
				}
			}
			return out, nil
		},
	})
	register(Fact{
		ID: "pr.approvingTeams", Category: "approvals", ValueType: TypeStringList, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			var out []string
			for _, a := range ctx.Change.Approvals {
				if a.Team != "" {
					out = append(out, a.Team)
				}
			}
			return out, nil
		},
	})
	register(Fact{
		ID: "pr.changedFileCount", Category: "diff", ValueType: TypeNumber, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			return len(ctx.Change.Files), nil
		},
	})
	register(Fact{
		ID: "pr.changedPaths", Category: "diff", ValueType: TypeStringList, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			return ctx.Change.ChangedPaths(), nil
		},
	})
	register(Fact{
		ID: "pr.labels", Category: "metadata", ValueType: TypeStringList, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			return ctx.Change.Labels, nil
		},
	})
	register(Fact{
		ID: "pr.draft", Category: "metadata", ValueType: TypeBool, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			return ctx.Change.Draft, nil
		},
	})
	register(Fact{
		ID: "pr.body", Category: "metadata", ValueType: TypeString, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			return ctx.Change.Body, nil
		},
	})
	register(Fact{
		ID: "repo.fullName", Category: "repo", ValueType: TypeString, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			return ctx.Change.Repo, nil
		},
	})
	register(Fact{
		ID: "repo.baseBranch", Category: "repo", ValueType: TypeString, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			return ctx.Change.BaseBranch, nil
		},
	})
	register(Fact{
		ID: "repo.headBranch", Category: "repo", ValueType: TypeString, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			return ctx.Change.HeadBranch, nil
		},
	})
	register(Fact{
		ID: "actor.login", Category: "actor", ValueType: TypeString, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			return ctx.Change.Actor.Login, nil
		},
	})
	register(Fact{
		ID: "actor.isBot", Category: "actor", ValueType: TypeBool, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			return ctx.Change.Actor.IsBot, nil
		},
	})
	register(Fact{
		ID: "actor.isAgent", Category: "actor", ValueType: TypeBool, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			return ctx.Change.Actor.IsAgent, nil
		},
	})
	register(Fact{
		ID: "checks.failingNames", Category: "checks", ValueType: TypeStringList, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			var out []string
			for _, cr := range ctx.Change.CheckRuns {
				if cr.Conclusion == "failure" {
					out = append(out, cr.Name)
				}
			}
			return out, nil
		},
	})
	register(Fact{
		ID: "pr.bodyMarkers", Category: "metadata", ValueType: TypeStringList, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) {
			// Markers are bracketed tokens anywhere in the body, e.g.
			// "[skip-docs]".
			var out []string
			body := ctx.Change.Body
			for {
				start := strings.IndexByte(body, '[')
				if start < 0 {
					break
				}
				end := strings.IndexByte(body[start:], ']')
				if end < 0 {
					break
				}
				out = append(out, body[start:start+end+1])
				body = body[start+end+1:]
			}
			return out, nil
		},
	})

	return c
}
