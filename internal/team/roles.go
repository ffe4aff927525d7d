// Package team drives the analyze, plan, code, test, review sequence over a
// shared message log. Roles are capabilities expressed as values, not types;
// every role talks to the same llm.Client and differs only in prompt, tags
// and output contract.
package team

// Role describes one logical participant. Tags feed the relevance predicate
// that slices the shared log before each call.
type Role struct {
	Name         string
	Capability   string // llm request capability tag
	SystemPrompt string
	Tags         []string
}

var (
	Planner = Role{
		Name:       "planner",
		Capability: "plan",
		SystemPrompt: "You are the planning lead on a small software team. " +
			"You break a task into a concrete, ordered implementation plan. " +
			"Be specific about files, endpoints and data shapes. No code.",
		Tags: []string{"plan", "analysis", "requirements"},
	}

	Implementer = Role{
		Name:       "implementer",
		Capability: "code",
		SystemPrompt: "You are the implementer on a small software team. " +
			"You write complete, production-quality code for the declared stack. " +
			"Output ONLY file blocks in the form 'FILE: <relative path>' followed " +
			"by the full file contents. No prose outside file blocks.",
		Tags: []string{"plan", "code", "revision"},
	}

	// Patcher is the implementer working against an existing tree. Same
	// capability and tags, different output contract: a unified diff instead
	// of whole files.
	Patcher = Role{
		Name:       "implementer",
		Capability: "code",
		SystemPrompt: "You are the implementer on a small software team, changing an " +
			"existing project. Output ONLY a unified diff: '--- a/<path>' and " +
			"'+++ b/<path>' headers with @@ hunks, /dev/null for created or deleted " +
			"files, at least three context lines per hunk. No prose outside the diff.",
		Tags: []string{"plan", "code", "revision"},
	}

	Tester = Role{
		Name:       "tester",
		Capability: "test",
		SystemPrompt: "You are the test engineer on a small software team. " +
			"Given an accepted code manifest, you produce a test manifest for the " +
			"same stack. Output ONLY 'FILE: <relative path>' blocks containing " +
			"complete test files.",
		Tags: []string{"code", "test"},
	}

	Reviewer = Role{
		Name:       "reviewer",
		Capability: "review",
		SystemPrompt: "You are the code reviewer on a small software team. " +
			"Judge whether the code and test manifests satisfy the task. " +
			"Respond with a single JSON object: " +
			`{"decision": "approved" | "changes_required" | "needs_human_decision", "notes": "..."}. ` +
			"No text outside the JSON object.",
		Tags: []string{"code", "test", "review"},
	}
)

// analyzeRole is the planner wearing its triage hat. Kept private; callers
// only ever see the four public roles.
var analyzeRole = Role{
	Name:       "planner",
	Capability: "analyze",
	SystemPrompt: "You are the planning lead triaging an incoming task. " +
		"Reply with exactly three sections, each on its own lines:\n" +
		"complexity: one of XS, S, M, L, XL\n" +
		"stack: the stack tag best suited to the task\n" +
		"sketch: a short draft list of the files you expect the solution to need",
	Tags: []string{"analysis", "requirements"},
}
