package pack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/driftgate/driftgate/pkg/surface"
)

// Format identifies the serialization of a pack document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FieldError is one validation failure with a dot-separated field path.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors aggregates every failure found in a document. A pack
// either validates fully or is rejected; errors are never partially
// applied.
type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "pack validation failed"
	}
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("pack validation failed: %s", strings.Join(msgs, "; "))
}

// ParamValidator validates comparator parameters against registered
// comparator schemas. Implemented by comparator.Registry; optional so
// packs can be validated offline without a comparator set.
type ParamValidator interface {
	Has(comparatorID string) bool
	ValidateParams(comparatorID string, params map[string]any) error
}

// Validator validates, canonicalizes, and hashes pack documents.
type Validator struct {
	compileOnce sync.Once
	schema      *jsonschema.Schema
	compileErr  error
	comparators ParamValidator
}

// NewValidator returns a validator. comparators may be nil; comparator
// param schemas are then not checked.
func NewValidator(comparators ParamValidator) *Validator {
	return &Validator{comparators: comparators}
}

func (v *Validator) compiled() (*jsonschema.Schema, error) {
	v.compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		const url = "https://driftgate.dev/schemas/pack.schema.json"
		if err := c.AddResource(url, strings.NewReader(packSchema)); err != nil {
			v.compileErr = fmt.Errorf("pack schema load failed: %w", err)
			return
		}
		v.schema, v.compileErr = c.Compile(url)
	})
	return v.schema, v.compileErr
}

// Validate parses and validates a pack document. On success the returned
// Pack has defaults applied and its canonical content hash stamped.
// Failures are reported as ValidationErrors with field paths; the pack
// is rejected wholesale.
func (v *Validator) Validate(doc []byte, format Format) (*Pack, error) {
	generic, err := decodeGeneric(doc, format)
	if err != nil {
		return nil, ValidationErrors{{Path: "$", Message: err.Error()}}
	}

	schema, err := v.compiled()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(generic); err != nil {
		return nil, schemaErrors(err)
	}

	p, err := decodePack(generic)
	if err != nil {
		return nil, ValidationErrors{{Path: "$", Message: err.Error()}}
	}
	applyDefaults(p, generic)

	if errs := v.checkBusinessRules(p); len(errs) > 0 {
		return nil, errs
	}

	canonical, err := Canonicalize(doc, format)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	p.Hash = Hash(canonical)
	return p, nil
}

// checkBusinessRules enforces the cross-field invariants the structural
// schema cannot express.
func (v *Validator) checkBusinessRules(p *Pack) ValidationErrors {
	var errs ValidationErrors
	add := func(path, format string, args ...any) {
		errs = append(errs, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := semver.NewVersion(p.Version); err != nil {
		add("version", "must be a semantic version: %v", err)
	}
	if p.Priority < 0 || p.Priority > 1000 {
		add("priority", "must be in [0, 1000], got %d", p.Priority)
	}

	seen := make(map[string]bool, len(p.Rules))
	for i, r := range p.Rules {
		rulePath := fmt.Sprintf("rules[%d]", i)
		if seen[r.ID] {
			add(rulePath+".id", "duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true

		if !r.Trigger.Always && len(r.Trigger.AnyChangedPaths) == 0 &&
			len(r.Trigger.AnySurfaces) == 0 && r.Trigger.Condition == nil {
			add(rulePath+".trigger", "trigger must set always, anyChangedPaths, anySurfaces, or condition")
		}
		if r.Trigger.Condition != nil {
			checkCondition(r.Trigger.Condition, rulePath+".trigger.condition", add)
		}

		// Glob lists must compile at load time. A pattern that fails here
		// would otherwise be discarded silently during evaluation.
		checkGlobs(r.Trigger.AnyChangedPaths, rulePath+".trigger.anyChangedPaths", add)
		checkGlobs(r.ExcludePaths, rulePath+".excludePaths", add)
		if r.SkipIf != nil {
			checkGlobs(r.SkipIf.AllChangedPathsIn, rulePath+".skipIf.allChangedPathsIn", add)
		}

		for j := range r.Obligations {
			o := &r.Obligations[j]
			oPath := fmt.Sprintf("%s.obligations[%d]", rulePath, j)

			if o.ComparatorID == "" && o.Condition == nil && len(o.Conditions) == 0 {
				add(oPath, "obligation must reference a comparator or carry a condition")
			}
			if !o.DecisionOnFail.Valid() {
				add(oPath+".decisionOnFail", "must be one of pass|warn|block")
			}
			if o.DecisionOnUnknown != "" && !o.DecisionOnUnknown.Valid() {
				add(oPath+".decisionOnUnknown", "must be one of pass|warn|block")
			}
			if o.Condition != nil {
				checkCondition(o.Condition, oPath+".condition", add)
			}
			for k, c := range o.Conditions {
				checkCondition(c, fmt.Sprintf("%s.conditions[%d]", oPath, k), add)
			}
			if o.ComparatorID != "" && v.comparators != nil {
				if !v.comparators.Has(o.ComparatorID) {
					add(oPath+".comparatorId", "unknown comparator %q", o.ComparatorID)
				} else if err := v.comparators.ValidateParams(o.ComparatorID, o.Params); err != nil {
					add(oPath+".params", "comparator %q rejected params: %v", o.ComparatorID, err)
				}
			}
		}
	}
	return errs
}

// checkGlobs compiles a pattern list with the same semantics the matcher
// uses at evaluation time.
func checkGlobs(patterns []string, path string, add func(path, format string, args ...any)) {
	if len(patterns) == 0 {
		return
	}
	if _, err := surface.NewMatcher(patterns); err != nil {
		add(path, "%v", err)
	}
}

// checkCondition walks a condition tree enforcing the union shape: leaves
// carry fact+operator, composites carry children, NOT has arity 1.
func checkCondition(c *Condition, path string, add func(path, format string, args ...any)) {
	switch c.Kind() {
	case KindLeaf:
		if len(c.Conditions) > 0 {
			add(path, "leaf condition must not carry child conditions")
		}
	case KindCEL:
		if c.Fact != "" || len(c.Conditions) > 0 {
			add(path, "cel condition must not mix leaf or composite fields")
		}
	case KindComposite:
		if c.Fact != "" || c.Value != nil {
			add(path, "composite condition must not carry leaf fields")
		}
		if c.Operator == string(OpNot) && len(c.Conditions) != 1 {
			add(path, "NOT requires exactly one child, got %d", len(c.Conditions))
		}
		if c.Operator != string(OpNot) && len(c.Conditions) == 0 {
			add(path, "%s requires at least one child", c.Operator)
		}
		for i, child := range c.Conditions {
			checkCondition(child, fmt.Sprintf("%s.conditions[%d]", path, i), add)
		}
	default:
		add(path, "condition must be a {fact, operator, value} leaf, a cel expression, or an AND/OR/NOT composite")
	}
}

// decodeGeneric parses a document into the generic JSON value space used
// for both schema validation and canonicalization. YAML is normalized
// through a JSON roundtrip so numeric types match JSON semantics.
func decodeGeneric(doc []byte, format Format) (any, error) {
	var raw any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(doc, &raw); err != nil {
			return nil, fmt.Errorf("yaml parse: %w", err)
		}
	case FormatJSON:
		if err := json.Unmarshal(doc, &raw); err != nil {
			return nil, fmt.Errorf("json parse: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}

	bridge, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(bridge))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("normalize decode: %w", err)
	}
	return generic, nil
}

func decodePack(generic any) (*Pack, error) {
	bridge, err := json.Marshal(generic)
	if err != nil {
		return nil, err
	}
	var p Pack
	if err := json.Unmarshal(bridge, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// applyDefaults fills document-level defaults. Priority defaults to 50
// only when the key is absent, so an explicit 0 survives.
func applyDefaults(p *Pack, generic any) {
	root, _ := generic.(map[string]any)
	if _, ok := root["priority"]; !ok {
		p.Priority = DefaultPriority
	}
	if p.MergeStrategy == "" {
		p.MergeStrategy = MergeMostRestrictive
	}
	if p.Strictness == "" {
		p.Strictness = StrictnessBalanced
	}
}

// schemaErrors flattens jsonschema causes into field-path errors.
func schemaErrors(err error) ValidationErrors {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return ValidationErrors{{Path: "$", Message: err.Error()}}
	}
	var errs ValidationErrors
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			path := "$"
			if e.InstanceLocation != "" {
				path = strings.ReplaceAll(strings.TrimPrefix(e.InstanceLocation, "/"), "/", ".")
			}
			errs = append(errs, FieldError{Path: path, Message: e.Message})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return errs
}
