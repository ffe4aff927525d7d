package team

import "testing"

func TestParseVerdict(t *testing.T) {
	cases := []struct {
		name     string
		raw      string
		decision string
		notes    string
	}{
		{
			name:     "plain approved",
			raw:      `{"decision": "approved", "notes": "ship it"}`,
			decision: VerdictApproved,
			notes:    "ship it",
		},
		{
			name:     "fenced json",
			raw:      "```json\n{\"decision\": \"changes_required\", \"notes\": \"missing tests\"}\n```",
			decision: VerdictChangesRequired,
			notes:    "missing tests",
		},
		{
			name:     "needs human",
			raw:      `{"decision": "needs_human_decision"}`,
			decision: VerdictNeedsHuman,
		},
		{
			name:     "prose around json",
			raw:      `Here is my verdict: {"decision": "approved"} Thanks!`,
			decision: VerdictApproved,
		},
		{
			name:     "no json at all",
			raw:      "Looks fine to me, approved!",
			decision: VerdictChangesRequired,
			notes:    "Looks fine to me, approved!",
		},
		{
			name:     "unknown decision value",
			raw:      `{"decision": "maybe"}`,
			decision: VerdictChangesRequired,
			notes:    `{"decision": "maybe"}`,
		},
		{
			name:     "extra properties rejected",
			raw:      `{"decision": "approved", "confidence": 0.9}`,
			decision: VerdictChangesRequired,
			notes:    `{"decision": "approved", "confidence": 0.9}`,
		},
		{
			name:     "broken json",
			raw:      `{"decision": "approved"`,
			decision: VerdictChangesRequired,
			notes:    `{"decision": "approved"`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := ParseVerdict(tc.raw)
			if v.Decision != tc.decision {
				t.Fatalf("decision = %q, want %q", v.Decision, tc.decision)
			}
			if tc.notes != "" && v.Notes != tc.notes {
				t.Fatalf("notes = %q, want %q", v.Notes, tc.notes)
			}
		})
	}
}
