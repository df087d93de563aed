package supervisor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Review is the structured verdict the reviewer agent returns for one
// generation attempt.
type Review struct {
	Approved     bool     `json:"approved"`
	QualityScore int      `json:"quality_score"`
	Issues       []string `json:"issues"`
	Feedback     string   `json:"feedback"`
	Corrections  []string `json:"corrections"`
}

const reviewSchemaJSON = `{
  "type": "object",
  "required": ["approved", "quality_score"],
  "properties": {
    "approved": {"type": "boolean"},
    "quality_score": {"type": "integer", "minimum": 1, "maximum": 10},
    "issues": {"type": "array", "items": {"type": "string"}},
    "feedback": {"type": "string"},
    "corrections": {"type": "array", "items": {"type": "string"}}
  }
}`

var reviewSchema = jsonschema.MustCompileString("review_verdict.json", reviewSchemaJSON)

// ParseReview extracts and validates a review verdict from raw reviewer
// output. The reviewer is instructed to answer with bare JSON but fenced
// blocks and surrounding prose show up in practice, so the parser takes the
// outermost JSON object it can find.
func ParseReview(text string) (Review, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return Review{}, fmt.Errorf("supervisor: no JSON object in review output")
	}

	var instance any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return Review{}, fmt.Errorf("supervisor: review verdict is not valid JSON: %w", err)
	}
	if err := reviewSchema.Validate(instance); err != nil {
		return Review{}, fmt.Errorf("supervisor: review verdict failed schema validation: %w", err)
	}

	var r Review
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return Review{}, err
	}
	return r, nil
}

// extractJSONObject returns the first balanced top-level {...} span, skipping
// braces inside JSON strings.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// integrityIssueMarkers classify rejection issues that mean the output
// itself is damaged rather than merely imperfect. An exhausted loop whose
// last rejection was integrity-class must discard its output instead of
// handing broken artifacts to the caller.
var integrityIssueMarkers = []string{
	"truncat",
	"incomplete",
	"unbalanced",
	"unclosed",
	"unmatched",
	"syntax",
	"ends with an ellipsis",
	"missing end_file",
}

func citesIntegrity(issues []string) bool {
	for _, issue := range issues {
		lower := strings.ToLower(issue)
		for _, marker := range integrityIssueMarkers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return false
}
