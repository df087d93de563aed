// Package structural performs language-aware completeness checks on
// generated modules. Unlike the integrity checker, which asks "did this
// arrive whole", the structural compiler asks "does this module expose
// everything a downstream consumer will call". Missing operations here are
// the cascade failures the pipeline exists to prevent: a router without a
// delete endpoint breaks the client module generated two steps later.
package structural

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/forgeworks/foundry/internal/pipeline/integrity"
)

// Operation names the five CRUD-style operations a request-handling module
// must provide.
type Operation string

const (
	OpCreate  Operation = "create"
	OpReadAll Operation = "read_all"
	OpReadOne Operation = "read_one"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
)

// Operations lists the required set in report order.
var Operations = []Operation{OpCreate, OpReadAll, OpReadOne, OpUpdate, OpDelete}

type opPatterns struct {
	// names match flexible function-name synonyms; an exact canonical name
	// is not required.
	names []*regexp.Regexp
	// decorators are the route-decorator fallback: a module that binds the
	// HTTP verb counts even when the handler name is unrecognizable.
	decorators []*regexp.Regexp
}

var routerPatterns = map[Operation]opPatterns{
	OpCreate: {
		names: compileAll(
			`\bdef\s+(create|add|insert|new|register)_\w+`,
			`\bdef\s+create\b`,
		),
		decorators: compileAll(`@\w+\.post\s*\(`),
	},
	OpReadAll: {
		names: compileAll(
			`\bdef\s+(list|index)_?\w*`,
			`\bdef\s+(get|read|fetch)_(all|many)_?\w*`,
			`\bdef\s+(get|read|fetch)_\w*s\s*\(\s*\)`,
		),
		decorators: compileAll(`@\w+\.get\s*\(\s*["'][^"'{]*["']`),
	},
	OpReadOne: {
		names: compileAll(
			`\bdef\s+(get|read|fetch|find|retrieve)_\w+_by_id\b`,
			`\bdef\s+(get|read|fetch|find|retrieve)_one\b`,
			`\bdef\s+(get|read|fetch|find|retrieve)_\w+\s*\(\s*\w*_?id\b`,
		),
		decorators: compileAll(`@\w+\.get\s*\(\s*["'][^"']*\{[^"']*\}[^"']*["']`),
	},
	OpUpdate: {
		names: compileAll(
			`\bdef\s+(update|edit|modify|patch|put)_\w+`,
			`\bdef\s+update\b`,
		),
		decorators: compileAll(`@\w+\.(put|patch)\s*\(`),
	},
	OpDelete: {
		names: compileAll(
			`\bdef\s+(delete|remove|destroy)_\w+`,
			`\bdef\s+delete\b`,
		),
		decorators: compileAll(`@\w+\.delete\s*\(`),
	},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// CheckRouter verifies a generated request-handling module exposes all five
// CRUD operations. It returns one issue per missing operation; an empty
// slice means the module is structurally complete. Bracket balance for the
// module is verified first; pattern matching over a truncated module would
// otherwise report misleading "missing operation" noise.
func CheckRouter(src string) []string {
	if issues := integrity.BracketIssues(src); len(issues) > 0 {
		return issues
	}
	var missing []string
	for _, op := range Operations {
		if !matchesAny(src, routerPatterns[op]) {
			missing = append(missing, fmt.Sprintf("missing %s operation", op))
		}
	}
	return missing
}

// PresentRouterOperations reports which operations the module does expose,
// in canonical order. Diagnostics for review feedback.
func PresentRouterOperations(src string) []Operation {
	var present []Operation
	for _, op := range Operations {
		if matchesAny(src, routerPatterns[op]) {
			present = append(present, op)
		}
	}
	return present
}

func matchesAny(src string, pats opPatterns) bool {
	for _, re := range pats.names {
		if re.MatchString(src) {
			return true
		}
	}
	for _, re := range pats.decorators {
		if re.MatchString(src) {
			return true
		}
	}
	return false
}

// ClientEntryPoints returns the four exported entry points a generated
// client module must provide for the entity: list-fetch on the plural,
// create/update/delete on the singular.
func ClientEntryPoints(entity string) []string {
	singular := exportName(Singular(entity))
	plural := exportName(Plural(entity))
	return []string{
		"fetch" + plural,
		"create" + singular,
		"update" + singular,
		"delete" + singular,
	}
}

// CheckClient verifies a generated client module exposes the expected entry
// points for the entity. Returns one issue per missing entry point.
func CheckClient(src, entity string) []string {
	if issues := integrity.BracketIssues(src); len(issues) > 0 {
		return issues
	}
	var missing []string
	for _, name := range ClientEntryPoints(entity) {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\s*[=(:]`)
		if !re.MatchString(src) {
			missing = append(missing, fmt.Sprintf("missing client entry point %s", name))
		}
	}
	return missing
}

// Singular reduces a plural entity name to its singular form using the
// common English suffix rules; names already singular pass through.
func Singular(entity string) string {
	e := strings.ToLower(strings.TrimSpace(entity))
	switch {
	case strings.HasSuffix(e, "ies"):
		return e[:len(e)-3] + "y"
	case strings.HasSuffix(e, "ses"), strings.HasSuffix(e, "xes"),
		strings.HasSuffix(e, "ches"), strings.HasSuffix(e, "shes"):
		return e[:len(e)-2]
	case strings.HasSuffix(e, "s") && !strings.HasSuffix(e, "ss"):
		return e[:len(e)-1]
	default:
		return e
	}
}

// Plural derives the plural form of a singular entity name.
func Plural(entity string) string {
	e := strings.ToLower(strings.TrimSpace(entity))
	if e == "" {
		return e
	}
	if Singular(e) != e {
		// Already plural.
		return e
	}
	switch {
	case strings.HasSuffix(e, "y") && len(e) > 1 && !isVowel(e[len(e)-2]):
		return e[:len(e)-1] + "ies"
	case strings.HasSuffix(e, "s"), strings.HasSuffix(e, "x"),
		strings.HasSuffix(e, "ch"), strings.HasSuffix(e, "sh"):
		return e + "es"
	default:
		return e + "s"
	}
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func exportName(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
