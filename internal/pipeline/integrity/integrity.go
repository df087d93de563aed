// Package integrity rejects generated text that arrived damaged: truncated
// mid-stream, structurally unbalanced, or ending on a construct that cannot
// be complete. Validators never return errors; they return human-readable
// issue lists that callers must inspect. An empty list is a pass.
package integrity

import (
	"fmt"
	"regexp"
	"strings"
)

// truncationSentinels are end-of-stream markers some providers emit when
// output was cut at the token cap.
var truncationSentinels = []string{
	"[truncated]",
	"(truncated)",
	"<truncated>",
	"[output truncated]",
	"...remaining output omitted",
}

// danglingHeaderRe matches a block-opening header line (function/class/
// control-flow) that ends with its opener and therefore has no body. Checked
// only against the final line of the entire input; anchoring this per-line
// flags every header in a perfectly complete file.
var danglingHeaderRe = regexp.MustCompile(
	`^\s*(?:async\s+)?(?:def|class|if|elif|else|for|while|with|try|except|finally|function|func|fn)\b.*[:{(]$`,
)

// Check runs every integrity rule over the text and returns all issues.
func Check(text string) []string {
	var issues []string

	trimmed := strings.TrimRight(text, " \t\r\n")
	if strings.TrimSpace(text) == "" {
		return []string{"output is empty"}
	}

	if strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…") {
		issues = append(issues, "output ends with an ellipsis (likely truncated)")
	}
	lower := strings.ToLower(trimmed)
	for _, s := range truncationSentinels {
		if strings.HasSuffix(lower, s) {
			issues = append(issues, fmt.Sprintf("output ends with truncation sentinel %q", s))
			break
		}
	}
	if strings.Count(text, "```")%2 != 0 {
		issues = append(issues, "unclosed code fence (odd number of ``` markers)")
	}

	issues = append(issues, scanBrackets(text)...)

	for _, q := range []string{`"""`, "'''"} {
		if strings.Count(text, q)%2 != 0 {
			issues = append(issues, fmt.Sprintf("odd number of %s delimiters (unterminated block string)", q))
		}
	}

	// Dangling block opener: only the true end of input counts. trimmed has
	// no trailing whitespace, so its final line is the last content line.
	last := trimmed[strings.LastIndexByte(trimmed, '\n')+1:]
	if danglingHeaderRe.MatchString(last) {
		issues = append(issues, fmt.Sprintf("output ends on a block header with no body: %q", strings.TrimSpace(last)))
	}

	return issues
}

// BracketIssues runs only the quote-aware bracket scan. The structural
// compiler uses it as a cheap precondition before pattern matching.
func BracketIssues(text string) []string {
	return scanBrackets(text)
}

// scanBrackets walks the text once, tracking quote state so brackets inside
// string literals (including triple-quoted blocks) are ignored, and reports
// unbalanced or mismatched nesting.
func scanBrackets(text string) []string {
	type frame struct {
		ch   byte
		line int
	}
	var stack []frame
	var issues []string

	const (
		stateCode = iota
		stateSingle
		stateDouble
		stateTripleSingle
		stateTripleDouble
	)
	state := stateCode
	line := 1

	closerFor := map[byte]byte{')': '(', ']': '[', '}': '{'}

	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\n' {
			line++
			// Unterminated single-line string: close at newline so one bad
			// literal does not swallow the rest of the document.
			if state == stateSingle || state == stateDouble {
				state = stateCode
			}
			continue
		}

		switch state {
		case stateCode:
			switch c {
			case '\'':
				if strings.HasPrefix(text[i:], "'''") {
					state = stateTripleSingle
					i += 2
				} else {
					state = stateSingle
				}
			case '"':
				if strings.HasPrefix(text[i:], `"""`) {
					state = stateTripleDouble
					i += 2
				} else {
					state = stateDouble
				}
			case '(', '[', '{':
				stack = append(stack, frame{ch: c, line: line})
			case ')', ']', '}':
				want := closerFor[c]
				if len(stack) == 0 {
					issues = append(issues, fmt.Sprintf("unmatched closing %q at line %d", string(c), line))
					continue
				}
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if top.ch != want {
					issues = append(issues, fmt.Sprintf("mismatched %q at line %d closes %q from line %d", string(c), line, string(top.ch), top.line))
				}
			}
		case stateSingle:
			if c == '\\' {
				i++
			} else if c == '\'' {
				state = stateCode
			}
		case stateDouble:
			if c == '\\' {
				i++
			} else if c == '"' {
				state = stateCode
			}
		case stateTripleSingle:
			if c == '\'' && strings.HasPrefix(text[i:], "'''") {
				state = stateCode
				i += 2
			}
		case stateTripleDouble:
			if c == '"' && strings.HasPrefix(text[i:], `"""`) {
				state = stateCode
				i += 2
			}
		}
	}

	for _, f := range stack {
		issues = append(issues, fmt.Sprintf("unclosed %q opened at line %d", string(f.ch), f.line))
	}
	return issues
}
