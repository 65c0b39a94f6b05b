package facts

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftgate/driftgate/pkg/evalctx"
)

func testContext() *evalctx.Context {
	return evalctx.New(&evalctx.Change{
		Repo:       "acme/payments",
		BaseBranch: "main",
		HeadBranch: "feature/docs",
		Files: []evalctx.ChangedFile{
			{Path: "terraform/main.tf", Status: evalctx.StatusModified},
			{Path: "README.md", Status: evalctx.StatusModified},
		},
		Approvals: []evalctx.Approval{
			{User: "alice"},
			{User: "platform-bot", Bot: true},
			{User: "bob", Team: "platform"},
		},
		Labels: []string{"docs", "infra"},
		Body:   "Updates docs. [skip-changelog] see notes [reviewed]",
		Actor:  evalctx.Actor{Login: "alice", IsAgent: true},
		CheckRuns: []evalctx.CheckRun{
			{Name: "unit", Conclusion: "success"},
			{Name: "lint", Conclusion: "failure"},
		},
	}, nil)
}

func TestBuiltin_Resolutions(t *testing.T) {
	c := Builtin()
	ctx := testContext()

	cases := []struct {
		fact string
		want any
	}{
		{"pr.approvalCount", 2}, // bot approvals excluded
		{"pr.approverLogins", []string{"alice", "platform-bot", "bob"}},
		{"pr.approvingTeams", []string{"platform"}},
		{"pr.changedFileCount", 2},
		{"pr.changedPaths", []string{"terraform/main.tf", "README.md"}},
		{"pr.labels", []string{"docs", "infra"}},
		{"pr.draft", false},
		{"repo.fullName", "acme/payments"},
		{"repo.baseBranch", "main"},
		{"actor.login", "alice"},
		{"actor.isBot", false},
		{"actor.isAgent", true},
		{"checks.failingNames", []string{"lint"}},
		{"pr.bodyMarkers", []string{"[skip-changelog]", "[reviewed]"}},
	}
	for _, tc := range cases {
		t.Run(tc.fact, func(t *testing.T) {
			got, err := c.Resolve(tc.fact, ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolve_NotFound(t *testing.T) {
	_, err := Builtin().Resolve("no.such.fact", testContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFactNotFound)
}

func TestResolve_PanicFailsClosed(t *testing.T) {
	c := NewCatalog("test")
	require.NoError(t, c.Register(Fact{
		ID: "explosive", ValueType: TypeBool, Version: 1,
		Resolve: func(ctx *evalctx.Context) (any, error) { panic("boom") },
	}))

	_, err := c.Resolve("explosive", testContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestResolve_DeprecationFollowsReplacement(t *testing.T) {
	c := NewCatalog("test")
	require.NoError(t, c.Register(Fact{
		ID: "new.fact", ValueType: TypeNumber, Version: 2,
		Resolve: func(ctx *evalctx.Context) (any, error) { return 42, nil },
	}))
	require.NoError(t, c.Register(Fact{
		ID: "old.fact", ValueType: TypeNumber, Version: 1,
		Deprecated: true, ReplacedBy: "new.fact",
		Resolve: func(ctx *evalctx.Context) (any, error) { return 0, errors.New("should not run") },
	}))

	v, err := c.Resolve("old.fact", testContext())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestResolveMany(t *testing.T) {
	c := Builtin()
	values, errs := c.ResolveMany([]string{"pr.draft", "missing.one", "actor.login"}, testContext())

	assert.Equal(t, false, values["pr.draft"])
	assert.Equal(t, "alice", values["actor.login"])
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs["missing.one"], ErrFactNotFound)
}

func TestCatalog_DuplicateRegistration(t *testing.T) {
	c := NewCatalog("test")
	f := Fact{ID: "x", Resolve: func(ctx *evalctx.Context) (any, error) { return nil, nil }}
	require.NoError(t, c.Register(f))
	require.Error(t, c.Register(f))
}

func TestCatalog_Version(t *testing.T) {
	assert.Equal(t, CatalogVersion, Builtin().Version())
}
