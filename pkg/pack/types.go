// Package pack defines the policy pack document model, its two-layer
// validator, canonical hashing, loading, and the versioned in-memory
// registry. Packs are immutable once published: edits produce a new
// version with a new content hash, and superseded versions remain
// addressable for audit.
package pack

import "fmt"

// Decision is a policy decision band, totally ordered by severity.
type Decision string

const (
	DecisionPass  Decision = "pass"
	DecisionWarn  Decision = "warn"
	DecisionBlock Decision = "block"
)

// Severity returns the ordinal severity of the decision band.
// block > warn > pass.
func (d Decision) Severity() int {
	switch d {
	case DecisionBlock:
		return 2
	case DecisionWarn:
		return 1
	default:
		return 0
	}
}

// Valid reports whether d is one of the closed decision set.
func (d Decision) Valid() bool {
	return d == DecisionPass || d == DecisionWarn || d == DecisionBlock
}

// MostSevere returns the more severe of two decisions.
func MostSevere(a, b Decision) Decision {
	if b.Severity() > a.Severity() {
		return b
	}
	return a
}

// Mode controls whether pack verdicts are enforced or only reported.
type Mode string

const (
	ModeObserve Mode = "observe"
	ModeEnforce Mode = "enforce"
)

// Strictness is an advisory tier used by authoring tooling and defaults.
type Strictness string

const (
	StrictnessPermissive Strictness = "permissive"
	StrictnessBalanced   Strictness = "balanced"
	StrictnessStrict     Strictness = "strict"
)

// MergeStrategy selects how multiple applicable packs combine into one
// aggregate decision.
type MergeStrategy string

const (
	MergeMostRestrictive MergeStrategy = "MOST_RESTRICTIVE"
	MergeHighestPriority MergeStrategy = "HIGHEST_PRIORITY"
	MergeExplicit        MergeStrategy = "EXPLICIT"
)

// ExternalDependencyMode controls how comparator errors and timeouts map
// to outcomes: soft-fail yields unknown, hard-fail yields fail.
type ExternalDependencyMode string

const (
	ExternalSoftFail ExternalDependencyMode = "soft-fail"
	ExternalHardFail ExternalDependencyMode = "hard-fail"
)

// ScopeLevel identifies what a pack's scope binds to.
type ScopeLevel string

const (
	ScopeWorkspace ScopeLevel = "workspace"
	ScopeService   ScopeLevel = "service"
	ScopeRepo      ScopeLevel = "repo"
)

// DefaultPriority is applied when a pack document omits priority.
const DefaultPriority = 50

// Pack is an immutable, versioned policy document.
type Pack struct {
	ID            string            `json:"id" yaml:"id"`
	Version       string            `json:"version" yaml:"version"`
	Name          string            `json:"name" yaml:"name"`
	Description   string            `json:"description,omitempty" yaml:"description,omitempty"`
	Mode          Mode              `json:"mode" yaml:"mode"`
	Strictness    Strictness        `json:"strictness,omitempty" yaml:"strictness,omitempty"`
	Scope         Scope             `json:"scope" yaml:"scope"`
	Priority      int               `json:"priority" yaml:"priority"`
	MergeStrategy MergeStrategy     `json:"mergeStrategy,omitempty" yaml:"mergeStrategy,omitempty"`
	Rules         []Rule            `json:"rules" yaml:"rules"`
	Evaluation    *EvaluationConfig `json:"evaluationConfig,omitempty" yaml:"evaluationConfig,omitempty"`
	Routing       *Routing          `json:"routing,omitempty" yaml:"routing,omitempty"`

	// Hash is the truncated canonical content hash, stamped at validation
	// time. It is excluded from the canonical form itself.
	Hash string `json:"-" yaml:"-"`
}

// Scope restricts which repos, branches, and actors a pack applies to.
type Scope struct {
	Level         ScopeLevel `json:"level" yaml:"level"`
	RepoInclude   []string   `json:"repoInclude,omitempty" yaml:"repoInclude,omitempty"`
	RepoExclude   []string   `json:"repoExclude,omitempty" yaml:"repoExclude,omitempty"`
	BranchInclude []string   `json:"branchInclude,omitempty" yaml:"branchInclude,omitempty"`
	BranchExclude []string   `json:"branchExclude,omitempty" yaml:"branchExclude,omitempty"`
	ActorSignals  []string   `json:"actorSignals,omitempty" yaml:"actorSignals,omitempty"`
}

// Rule is a named trigger plus a set of obligations within a pack.
type Rule struct {
	ID           string       `json:"id" yaml:"id"`
	Description  string       `json:"description,omitempty" yaml:"description,omitempty"`
	Trigger      Trigger      `json:"trigger" yaml:"trigger"`
	SkipIf       *SkipIf      `json:"skipIf,omitempty" yaml:"skipIf,omitempty"`
	ExcludePaths []string     `json:"excludePaths,omitempty" yaml:"excludePaths,omitempty"`
	Obligations  []Obligation `json:"obligations" yaml:"obligations"`
}

// Trigger decides whether a rule fires for a change. Exactly one of the
// fields is expected; Always wins if set.
type Trigger struct {
	Always          bool       `json:"always,omitempty" yaml:"always,omitempty"`
	AnyChangedPaths []string   `json:"anyChangedPaths,omitempty" yaml:"anyChangedPaths,omitempty"`
	AnySurfaces     []string   `json:"anySurfaces,omitempty" yaml:"anySurfaces,omitempty"`
	Condition       *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// SkipIf exempts a triggered rule from evaluation.
type SkipIf struct {
	Labels []string `json:"labels,omitempty" yaml:"labels,omitempty"`
	// BodyMarkers are literal markers in the PR body (e.g. "[skip-docs]")
	// that opt the rule out.
	BodyMarkers []string `json:"bodyMarkers,omitempty" yaml:"bodyMarkers,omitempty"`
	// AllChangedPathsIn skips the rule when every changed path matches one
	// of these globs.
	AllChangedPathsIn []string `json:"allChangedPathsIn,omitempty" yaml:"allChangedPathsIn,omitempty"`
}

// Obligation is a single check with a decision mapping. It is backed by
// either a registered comparator or a condition tree; at least one is
// required and both are permissible.
type Obligation struct {
	ComparatorID string         `json:"comparatorId,omitempty" yaml:"comparatorId,omitempty"`
	Params       map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Condition    *Condition     `json:"condition,omitempty" yaml:"condition,omitempty"`
	Conditions   []*Condition   `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	DecisionOnFail    Decision `json:"decisionOnFail" yaml:"decisionOnFail"`
	DecisionOnUnknown Decision `json:"decisionOnUnknown,omitempty" yaml:"decisionOnUnknown,omitempty"`
	Severity          string   `json:"severity,omitempty" yaml:"severity,omitempty"`
	Message           string   `json:"message,omitempty" yaml:"message,omitempty"`
}

// CompositeOp is a boolean combinator in a condition tree.
type CompositeOp string

const (
	OpAnd CompositeOp = "AND"
	OpOr  CompositeOp = "OR"
	OpNot CompositeOp = "NOT"
)

// Condition is one node of a boolean expression tree: either a leaf
// {fact, operator, value}, a CEL expression leaf, or a composite
// {AND|OR|NOT, conditions}. The shape is a discriminated union; Kind
// reports which variant a node is.
type Condition struct {
	// Leaf form.
	Fact     string `json:"fact,omitempty" yaml:"fact,omitempty"`
	Operator string `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`

	// CEL leaf form: a boolean expression over resolved facts.
	CEL string `json:"cel,omitempty" yaml:"cel,omitempty"`

	// Composite form. Operator holds AND/OR/NOT.
	Conditions []*Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// ConditionKind discriminates the condition union.
type ConditionKind int

const (
	KindInvalid ConditionKind = iota
	KindLeaf
	KindCEL
	KindComposite
)

// Kind classifies the condition node.
func (c *Condition) Kind() ConditionKind {
	switch {
	case c == nil:
		return KindInvalid
	case c.CEL != "":
		return KindCEL
	case c.Operator == string(OpAnd) || c.Operator == string(OpOr) || c.Operator == string(OpNot):
		return KindComposite
	case c.Fact != "" && c.Operator != "":
		return KindLeaf
	default:
		return KindInvalid
	}
}

// EvaluationConfig tunes budgets and failure semantics for one pack.
type EvaluationConfig struct {
	Budgets                Budgets                `json:"budgets" yaml:"budgets"`
	ExternalDependencyMode ExternalDependencyMode `json:"externalDependencyMode,omitempty" yaml:"externalDependencyMode,omitempty"`
	UnknownArtifactMode    string                 `json:"unknownArtifactMode,omitempty" yaml:"unknownArtifactMode,omitempty"`
	MaxFindings            int                    `json:"maxFindings,omitempty" yaml:"maxFindings,omitempty"`
	// Concurrency bounds parallel rule evaluation; <=1 means sequential.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

// Budgets is the shared time and external-call allowance for one run.
type Budgets struct {
	MaxTotalMs             int64   `json:"maxTotalMs,omitempty" yaml:"maxTotalMs,omitempty"`
	PerComparatorTimeoutMs int64   `json:"perComparatorTimeoutMs,omitempty" yaml:"perComparatorTimeoutMs,omitempty"`
	MaxExternalCalls       int64   `json:"maxExternalCalls,omitempty" yaml:"maxExternalCalls,omitempty"`
	ExternalCallsPerSecond float64 `json:"externalCallsPerSecond,omitempty" yaml:"externalCallsPerSecond,omitempty"`
}

// Routing describes how pack decisions are reported. The engine carries
// it opaquely; the decision sink owns its interpretation.
type Routing struct {
	Report   string `json:"report,omitempty" yaml:"report,omitempty"`
	Annotate bool   `json:"annotate,omitempty" yaml:"annotate,omitempty"`
}

// DefaultEvaluation returns the evaluation config applied when a pack
// omits one.
func DefaultEvaluation() *EvaluationConfig {
	return &EvaluationConfig{
		Budgets: Budgets{
			MaxTotalMs:             30_000,
			PerComparatorTimeoutMs: 10_000,
			MaxExternalCalls:       50,
		},
		ExternalDependencyMode: ExternalSoftFail,
		MaxFindings:            100,
		Concurrency:            1,
	}
}

// Ref is the audit-stable identity of one pack version.
type Ref struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Hash    string `json:"hash"`
}

func (r Ref) String() string {
	return fmt.Sprintf("%s@%s (%s)", r.ID, r.Version, r.Hash)
}

// Ref returns the pack's audit reference.
func (p *Pack) Ref() Ref {
	return Ref{ID: p.ID, Version: p.Version, Hash: p.Hash}
}

// EffectiveEvaluation returns the pack's evaluation config, falling back
// to defaults field by field.
func (p *Pack) EffectiveEvaluation() *EvaluationConfig {
	def := DefaultEvaluation()
	if p.Evaluation == nil {
		return def
	}
	eff := *p.Evaluation
	if eff.Budgets.MaxTotalMs <= 0 {
		eff.Budgets.MaxTotalMs = def.Budgets.MaxTotalMs
	}
	if eff.Budgets.PerComparatorTimeoutMs <= 0 {
		eff.Budgets.PerComparatorTimeoutMs = def.Budgets.PerComparatorTimeoutMs
	}
	if eff.Budgets.MaxExternalCalls <= 0 {
		eff.Budgets.MaxExternalCalls = def.Budgets.MaxExternalCalls
	}
	if eff.ExternalDependencyMode == "" {
		eff.ExternalDependencyMode = def.ExternalDependencyMode
	}
	if eff.MaxFindings <= 0 {
		eff.MaxFindings = def.MaxFindings
	}
	if eff.Concurrency <= 0 {
		eff.Concurrency = def.Concurrency
	}
	return &eff
}

// WorstCaseDecision returns the most severe decisionOnFail among the
// rule's obligations. Used by static conflict detection.
func (r *Rule) WorstCaseDecision() Decision {
	worst := DecisionPass
	for _, o := range r.Obligations {
		worst = MostSevere(worst, o.DecisionOnFail)
	}
	return worst
}

// EffectiveDecisionOnUnknown returns decisionOnUnknown, defaulting to
// decisionOnFail when unset.
func (o *Obligation) EffectiveDecisionOnUnknown() Decision {
	if o.DecisionOnUnknown.Valid() {
		return o.DecisionOnUnknown
	}
	return o.DecisionOnFail
}
