package integrity

import (
	"strings"
	"testing"
)

func TestCheck_EmptyOutput(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\n\t"} {
		issues := Check(in)
		if len(issues) != 1 || issues[0] != "output is empty" {
			t.Fatalf("Check(%q): got %v", in, issues)
		}
	}
}

func TestCheck_ValidDocumentNoFalsePositives(t *testing.T) {
	// Complete, balanced, multi-bracket, multi-string Python module. Brackets
	// inside strings (including triple-quoted) must be ignored.
	src := strings.Join([]string{
		`"""Module doc with brackets: ( [ { and more."""`,
		`import json`,
		``,
		`PATTERNS = {"open": "(", "close": ")"}`,
		``,
		`def load(path):`,
		`    with open(path) as f:`,
		`        data = json.load(f)`,
		`    return [x for x in data if x.get("keep")]`,
		``,
		`MESSAGE = 'a string with } and ] inside'`,
		``,
		`def main():`,
		`    print(load("items.json"))`,
		``,
		`main()`,
	}, "\n")
	if issues := Check(src); len(issues) != 0 {
		t.Fatalf("valid document flagged: %v", issues)
	}
}

func TestCheck_EllipsisEnding(t *testing.T) {
	issues := Check("def f():\n    return 1\n# and then...")
	if len(issues) == 0 || !strings.Contains(issues[0], "ellipsis") {
		t.Fatalf("expected ellipsis issue, got %v", issues)
	}
}

func TestCheck_TruncationSentinel(t *testing.T) {
	issues := Check("x = 1\n[truncated]")
	found := false
	for _, is := range issues {
		if strings.Contains(is, "truncation sentinel") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sentinel issue, got %v", issues)
	}
}

func TestCheck_UnclosedCodeFence(t *testing.T) {
	issues := Check("```python\nx = 1\n")
	found := false
	for _, is := range issues {
		if strings.Contains(is, "code fence") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected code fence issue, got %v", issues)
	}
}

func TestCheck_UnbalancedBrackets(t *testing.T) {
	issues := Check("def f(:\n    return [1, 2\n")
	if len(issues) == 0 {
		t.Fatalf("expected bracket issues")
	}
}

func TestCheck_BracketsInsideStringsIgnored(t *testing.T) {
	if issues := Check(`x = "((((" + ']]]]'` + "\ny = 1"); len(issues) != 0 {
		t.Fatalf("brackets in strings flagged: %v", issues)
	}
}

func TestCheck_MismatchedPairReported(t *testing.T) {
	issues := Check("x = (1]\ny = 2")
	found := false
	for _, is := range issues {
		if strings.Contains(is, "mismatched") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected mismatch issue, got %v", issues)
	}
}

func TestCheck_OddTripleQuotes(t *testing.T) {
	issues := Check(`def f():` + "\n" + `    """start of docstring` + "\n" + `    return 1`)
	found := false
	for _, is := range issues {
		if strings.Contains(is, `"""`) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected triple-quote issue, got %v", issues)
	}
}

func TestCheck_DanglingHeaderAtEndOfInputOnly(t *testing.T) {
	// Header at the very end of the string: flagged.
	issues := Check("x = 1\ndef unfinished():")
	found := false
	for _, is := range issues {
		if strings.Contains(is, "no body") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected dangling header issue, got %v", issues)
	}

	// The same header mid-document with a body after it: never flagged.
	// This is the per-line-anchoring bug class the checker must avoid.
	if issues := Check("def f():\n    return 1\n"); len(issues) != 0 {
		t.Fatalf("complete function flagged: %v", issues)
	}
}

func TestCheck_TrailingWhitespaceAfterHeaderStillFlagged(t *testing.T) {
	issues := Check("class Widget:   \n\n")
	found := false
	for _, is := range issues {
		if strings.Contains(is, "no body") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected dangling header issue, got %v", issues)
	}
}
