package team

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Review decisions. needs_human_decision re-enters the approval gate rather
// than failing the run.
const (
	VerdictApproved        = "approved"
	VerdictChangesRequired = "changes_required"
	VerdictNeedsHuman      = "needs_human_decision"
)

type Verdict struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes,omitempty"`
}

const verdictSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["decision"],
  "properties": {
    "decision": {
      "type": "string",
      "enum": ["approved", "changes_required", "needs_human_decision"]
    },
    "notes": {"type": "string"}
  },
  "additionalProperties": false
}`

var verdictSchema = jsonschema.MustCompileString("verdict.json", verdictSchemaJSON)

// ParseVerdict extracts and validates the reviewer's JSON verdict. Anything
// that fails extraction or schema validation degrades to changes_required
// with the raw text carried as notes, so a malformed reviewer never wedges a
// run.
func ParseVerdict(raw string) Verdict {
	body, ok := extractJSONObject(raw)
	if !ok {
		return Verdict{Decision: VerdictChangesRequired, Notes: strings.TrimSpace(raw)}
	}
	var decoded any
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		return Verdict{Decision: VerdictChangesRequired, Notes: strings.TrimSpace(raw)}
	}
	if err := verdictSchema.Validate(decoded); err != nil {
		return Verdict{Decision: VerdictChangesRequired, Notes: strings.TrimSpace(raw)}
	}
	var v Verdict
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return Verdict{Decision: VerdictChangesRequired, Notes: strings.TrimSpace(raw)}
	}
	return v
}

// extractJSONObject tolerates code fences and surrounding prose by slicing
// from the first '{' to the last '}'.
func extractJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}
