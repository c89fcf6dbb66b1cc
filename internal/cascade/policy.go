// Package cascade implements model selection and fallback execution for
// completion requests.
//
// A cascade is an ordered list of [ModelCandidate] values, a total preference
// ranking of which models to attempt for one logical completion. [Policy]
// builds cascades from a task-complexity hint or an explicit model preference;
// [Executor] walks a cascade against a provider gateway with per-candidate
// retry budgets and capped exponential backoff.
package cascade

import (
	"errors"
	"fmt"
)

// Complexity is a coarse hint describing how demanding a request is expected
// to be. It selects the canonical starting model when the caller has no
// explicit preference.
type Complexity string

const (
	// ComplexitySimple suits short, factual, or formulaic requests.
	ComplexitySimple Complexity = "simple"
	// ComplexityModerate is the default for ordinary conversational turns.
	ComplexityModerate Complexity = "moderate"
	// ComplexityComplex suits multi-step reasoning or large-context requests.
	ComplexityComplex Complexity = "complex"
)

// IsValid reports whether c is a recognised complexity tier.
func (c Complexity) IsValid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	}
	return false
}

// ModelCandidate is one entry in a cascade: a model identifier plus the number
// of retries the executor may spend on it. Immutable once built.
type ModelCandidate struct {
	// Model is the provider-facing model identifier, e.g. "gpt-4o".
	Model string

	// MaxRetries is the number of retries allowed after the first attempt,
	// so MaxRetries=2 permits up to 3 attempts. Must be non-negative.
	MaxRetries int

	// Label is a human-readable role for logs ("primary", "fallback-1", ...).
	Label string
}

// Policy builds cascades from a fixed base list and a complexity→model table.
// It is a pure decision component: no I/O, no hidden state, deterministic for
// identical inputs.
type Policy struct {
	base           []ModelCandidate
	canonical      map[Complexity]string
	defaultRetries int
}

// PolicyOption configures a [Policy].
type PolicyOption func(*Policy)

// WithDefaultRetries sets the retry budget given to synthetic candidates built
// for preferred models that are not part of the base cascade. Default 1.
func WithDefaultRetries(n int) PolicyOption {
	return func(p *Policy) {
		p.defaultRetries = n
	}
}

// NewPolicy creates a Policy from a base cascade and a table mapping each
// complexity to its canonical starting model.
//
// The base cascade must be non-empty, every retry budget non-negative, and
// every canonical model must name a base entry. Violations are reported
// joined, so a bad config surfaces all problems at once.
func NewPolicy(base []ModelCandidate, canonical map[Complexity]string, opts ...PolicyOption) (*Policy, error) {
	var errs []error
	if len(base) == 0 {
		errs = append(errs, errors.New("base cascade must not be empty"))
	}
	for i, c := range base {
		if c.Model == "" {
			errs = append(errs, fmt.Errorf("base[%d]: model must not be empty", i))
		}
		if c.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("base[%d] (%s): maxRetries must be non-negative, got %d", i, c.Model, c.MaxRetries))
		}
	}
	for complexity, model := range canonical {
		if indexOf(base, model) < 0 {
			errs = append(errs, fmt.Errorf("canonical model %q for complexity %q is not in the base cascade", model, complexity))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("cascade: invalid policy: %w", err)
	}

	p := &Policy{
		base:           append([]ModelCandidate(nil), base...),
		canonical:      make(map[Complexity]string, len(canonical)),
		defaultRetries: 1,
	}
	for k, v := range canonical {
		p.canonical[k] = v
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Build returns the ordered cascade to attempt for the given complexity and
// optional preferred model (empty string means no preference).
//
// Selection rules:
//   - No preference: the complexity's canonical model starts the cascade and
//     the remaining base entries follow in their original relative order,
//     wrapping around (a rotation, never a re-sort).
//   - Preference matching a base entry: rotate to start there, same rule.
//   - Preference not in the base list: a synthetic candidate for it is
//     prepended to the unrotated base cascade.
//
// The result is always non-empty and is a fresh slice the caller may own.
func (p *Policy) Build(complexity Complexity, preferred string) []ModelCandidate {
	if preferred != "" {
		if i := indexOf(p.base, preferred); i >= 0 {
			return rotate(p.base, i)
		}
		out := make([]ModelCandidate, 0, len(p.base)+1)
		out = append(out, ModelCandidate{
			Model:      preferred,
			MaxRetries: p.defaultRetries,
			Label:      "preferred",
		})
		return append(out, p.base...)
	}

	start := 0
	if model, ok := p.canonical[complexity]; ok {
		if i := indexOf(p.base, model); i >= 0 {
			start = i
		}
	}
	return rotate(p.base, start)
}

// Base returns a copy of the base cascade in its configured order.
func (p *Policy) Base() []ModelCandidate {
	return append([]ModelCandidate(nil), p.base...)
}

// indexOf returns the position of model in candidates, or -1.
func indexOf(candidates []ModelCandidate, model string) int {
	for i, c := range candidates {
		if c.Model == model {
			return i
		}
	}
	return -1
}

// rotate returns a fresh slice starting at index start and wrapping around.
func rotate(candidates []ModelCandidate, start int) []ModelCandidate {
	out := make([]ModelCandidate, 0, len(candidates))
	out = append(out, candidates[start:]...)
	out = append(out, candidates[:start]...)
	return out
}
