// Package artifact implements the marker-delimited wire format used to
// transmit generated files from the agent to the parser:
//
//	<<<FILE path="relative/path">>>
//	<exact file content>
//	<<<END_FILE>>>
//
// repeated once per file, with no prose permitted before the first marker.
package artifact

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	openMarkerPrefix = `<<<FILE path="`
	openMarkerSuffix = `">>>`
	endMarker        = `<<<END_FILE>>>`
)

var openMarkerRe = regexp.MustCompile(`<<<FILE path="([^"\n]*)">>>`)

// ErrNoMarkers is the protocol-violation signal: the output contains no file
// markers at all. The caller performs a single deterministic re-wrap
// recovery call before failing outright.
var ErrNoMarkers = errors.New("artifact: output contains no file markers")

// IncompleteError reports an opened-but-unterminated marker. This is a
// truncation failure, not a protocol violation: the agent started emitting
// a file and was cut off.
type IncompleteError struct {
	Path string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("artifact: incomplete: missing END_FILE for %s", e.Path)
}

// ViolationError reports output that carries markers but breaks the framing
// rules (prose before the first marker, blank path, duplicate path).
type ViolationError struct {
	Reason string
}

func (e *ViolationError) Error() string {
	return "artifact: protocol violation: " + e.Reason
}

// FileSet maps relative path to exact content.
type FileSet map[string]string

// Paths returns the file paths in sorted order.
func (fs FileSet) Paths() []string {
	out := make([]string, 0, len(fs))
	for p := range fs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Concat joins all file contents in path order, separated by newlines. Used
// to feed whole-output validators.
func (fs FileSet) Concat() string {
	var b strings.Builder
	for i, p := range fs.Paths() {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fs[p])
	}
	return b.String()
}

// Parse extracts a FileSet from raw agent output.
func Parse(text string) (FileSet, error) {
	locs := openMarkerRe.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil, ErrNoMarkers
	}
	if lead := strings.TrimSpace(text[:locs[0][0]]); lead != "" {
		return nil, &ViolationError{Reason: "prose before first FILE marker"}
	}

	files := FileSet{}
	for i, loc := range locs {
		path := strings.TrimSpace(text[loc[2]:loc[3]])
		if path == "" {
			return nil, &ViolationError{Reason: "FILE marker with empty path"}
		}
		if _, dup := files[path]; dup {
			return nil, &ViolationError{Reason: "duplicate path: " + path}
		}

		bodyStart := loc[1]
		// Content starts after the marker line's newline, when present.
		if bodyStart < len(text) && text[bodyStart] == '\n' {
			bodyStart++
		}
		searchEnd := len(text)
		if i+1 < len(locs) {
			searchEnd = locs[i+1][0]
		}
		segment := text[bodyStart:searchEnd]
		end := strings.Index(segment, endMarker)
		if end < 0 {
			return nil, &IncompleteError{Path: path}
		}
		content := segment[:end]
		// The serializer places END_FILE on its own line; strip the single
		// trailing newline it introduced, preserving all interior content.
		content = strings.TrimSuffix(content, "\n")
		files[path] = content
	}
	return files, nil
}

// Serialize renders a FileSet in the wire format, files in path order.
// Serialize and Parse round-trip exactly.
func Serialize(files FileSet) string {
	var b strings.Builder
	for _, p := range files.Paths() {
		b.WriteString(openMarkerPrefix)
		b.WriteString(p)
		b.WriteString(openMarkerSuffix)
		b.WriteString("\n")
		b.WriteString(files[p])
		b.WriteString("\n")
		b.WriteString(endMarker)
		b.WriteString("\n")
	}
	return b.String()
}

// RewrapInstruction is the deterministic recovery prompt used after
// ErrNoMarkers: ask the agent to re-emit the same content inside markers
// without altering it.
func RewrapInstruction(original string) string {
	return strings.Join([]string{
		"Your previous output was missing the required file markers.",
		"Re-send the exact same content, unaltered, wrapped as:",
		openMarkerPrefix + "relative/path" + openMarkerSuffix,
		"<file content>",
		endMarker,
		"Do not add prose before the first marker and do not change the content.",
		"",
		"Previous output:",
		original,
	}, "\n")
}

// IsIncomplete reports whether err is a truncation-class parse failure.
func IsIncomplete(err error) bool {
	var ie *IncompleteError
	return errors.As(err, &ie)
}

// IsViolation reports whether err is a protocol violation (including the
// zero-marker case).
func IsViolation(err error) bool {
	if errors.Is(err, ErrNoMarkers) {
		return true
	}
	var ve *ViolationError
	return errors.As(err, &ve)
}
