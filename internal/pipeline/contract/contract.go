// Package contract holds the static per-step output contracts: which files
// a step must produce and which content markers must appear in them. These
// are intentionally coarse substring checks, used as a cheap first gate
// before the heavier structural validation runs.
package contract

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Contract describes what a step's output must contain to be considered
// structurally admissible.
type Contract struct {
	Step string

	// RequiredContent markers are matched case-insensitively as substrings
	// over the step's concatenated output.
	RequiredContent []string

	// RequiredPaths are doublestar globs; each must match at least one
	// produced path. Paths may also be discovered from the workspace at
	// check time rather than hard-coded.
	RequiredPaths []string

	// Critical contracts gate the run: a critical step whose contract fails
	// post-validation triggers healing and, failing that, halts the run.
	Critical bool
}

// Registry is a static lookup from step name to contract.
type Registry struct {
	contracts map[string]Contract
}

func NewRegistry(contracts []Contract) *Registry {
	r := &Registry{contracts: make(map[string]Contract, len(contracts))}
	for _, c := range contracts {
		r.contracts[c.Step] = c
	}
	return r
}

// Lookup returns the contract for the step. Steps without a contract are
// unconstrained.
func (r *Registry) Lookup(step string) (Contract, bool) {
	c, ok := r.contracts[step]
	return c, ok
}

// Steps returns all contracted step names, sorted.
func (r *Registry) Steps() []string {
	out := make([]string, 0, len(r.contracts))
	for s := range r.contracts {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// CheckContent reports whether every required content marker appears in the
// text.
func (c Contract) CheckContent(text string) bool {
	return len(c.MissingContent(text)) == 0
}

// MissingContent returns the required markers absent from the text,
// case-insensitively, in declaration order.
func (c Contract) MissingContent(text string) []string {
	lower := strings.ToLower(text)
	var missing []string
	for _, marker := range c.RequiredContent {
		if !strings.Contains(lower, strings.ToLower(marker)) {
			missing = append(missing, marker)
		}
	}
	return missing
}

// MissingPaths returns the path globs that match none of the produced
// paths, in declaration order.
func (c Contract) MissingPaths(produced []string) []string {
	var missing []string
	for _, glob := range c.RequiredPaths {
		matched := false
		for _, p := range produced {
			if ok, err := doublestar.Match(glob, p); err == nil && ok {
				matched = true
				break
			}
		}
		if !matched {
			missing = append(missing, glob)
		}
	}
	return missing
}
