package team

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mgx-dev/mgx/internal/cache"
	"github.com/mgx-dev/mgx/internal/guardrail"
	"github.com/mgx-dev/mgx/internal/llm"
	"github.com/mgx-dev/mgx/internal/manifest"
	"github.com/mgx-dev/mgx/internal/patch"
)

const (
	DefaultMaxRevisionRounds = 2
	DefaultMaxRounds         = 5
)

// Task is the orchestrator's view of the work. The executor converts the
// stored task into this shape; the team never sees ids or git details.
type Task struct {
	Title       string
	Description string
	StackHint   string
	Strict      bool
	// Patch selects diff output against an existing tree instead of a full
	// file manifest.
	Patch       bool
	Constraints []string
}

// Analysis is the planner's triage output. FromCache reports whether the
// memoized result was reused.
type Analysis struct {
	Complexity string
	StackTag   string
	Sketch     string
	FromCache  bool
	Usage      llm.TokenUsage
}

// Produce outcomes.
const (
	OutcomeAccepted        = "accepted"
	OutcomeNeedsInfo       = "needs_info"
	OutcomeNeedsHuman      = "needs_human_decision"
	OutcomeRoundsExhausted = "rounds_exhausted"
)

// Result is the structured output of one Produce call.
type Result struct {
	Outcome      string
	Manifest     []manifest.Entry
	TestManifest []manifest.Entry
	// Patches and Diff are populated instead of Manifest when the task asked
	// for changes to an existing tree.
	Patches        []patch.FilePatch
	Diff           string
	Verdict        Verdict
	RevisionRounds int
	ReviewRounds   int
	Validation     guardrail.ValidationResult
	Timings        map[string]time.Duration
	Usage          llm.TokenUsage
}

// Hooks let the run executor observe phase boundaries so it can mirror them
// onto the run state machine. Nil funcs are skipped; hooks must not block.
type Hooks struct {
	// OnGenerate fires before each implementer or tester call.
	OnGenerate func(phase string)
	// OnValidate fires after each parse+guardrail pass.
	OnValidate func(phase string, res guardrail.ValidationResult, revision int)
}

// Orchestrator owns one team conversation. It is not safe for concurrent
// use; the executor creates one per run.
type Orchestrator struct {
	Client            llm.Client
	Cache             cache.Cache
	Log               *MessageLog
	Model             string
	MaxRevisionRounds int
	MaxRounds         int
	Relevance         int
	Logger            *slog.Logger
	Hooks             Hooks

	now func() time.Time
}

func New(client llm.Client, c cache.Cache, model string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Client:            client,
		Cache:             c,
		Log:               NewMessageLog(),
		Model:             model,
		MaxRevisionRounds: DefaultMaxRevisionRounds,
		MaxRounds:         DefaultMaxRounds,
		Relevance:         DefaultRelevance,
		Logger:            logger,
		now:               time.Now,
	}
}

// Per-capability sampling temperatures. Review and analyze stay cold so
// their outputs fingerprint and parse predictably.
func temperatureFor(capability string) float64 {
	switch capability {
	case "code", "test":
		return 0.2
	case "plan":
		return 0.3
	default:
		return 0
	}
}

func temperatureClass(t float64) string {
	switch {
	case t < 0.25:
		return "cold"
	case t < 0.75:
		return "warm"
	default:
		return "hot"
	}
}

// Analyze triages the task. The result is memoized through the cache keyed
// on task text, stack hint and model, so repeated runs of the same task skip
// the call entirely.
func (o *Orchestrator) Analyze(ctx context.Context, task Task) (Analysis, error) {
	prompt := analyzePrompt(task)
	msgs := []llm.Message{
		{Role: "system", Content: analyzeRole.SystemPrompt},
		{Role: "user", Content: prompt},
	}
	temp := temperatureFor("analyze")
	key := cache.Key(o.Model, temperatureClass(temp), llm.PromptText(msgs), "analyze", task.StackHint)

	if payload, hit := o.Cache.Lookup(ctx, key); hit {
		a := parseAnalysis(payload, task)
		a.FromCache = true
		o.Log.Append(analyzeRole.Name, payload, "analysis")
		return a, nil
	}

	resp, err := o.Client.Complete(ctx, llm.Request{
		Model:       o.Model,
		Capability:  "analyze",
		Messages:    msgs,
		Temperature: &temp,
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("analyze: %w", err)
	}
	o.Cache.Store(ctx, key, resp.Text)
	o.Log.Append(analyzeRole.Name, resp.Text, "analysis")

	a := parseAnalysis(resp.Text, task)
	a.Usage = resp.Usage
	return a, nil
}

// Plan produces the stepwise plan shown to the human approver.
func (o *Orchestrator) Plan(ctx context.Context, task Task, analysis Analysis) (string, llm.TokenUsage, error) {
	prompt := planPrompt(task, analysis)
	resp, err := o.call(ctx, Planner, task, prompt)
	if err != nil {
		return "", llm.TokenUsage{}, fmt.Errorf("plan: %w", err)
	}
	o.Log.Append(Planner.Name, resp.Text, "plan")
	return resp.Text, resp.Usage, nil
}

// Produce runs code, test and review with the bounded revision and review
// loops. It returns a Result for every non-error path; callers branch on
// Outcome. The returned error is reserved for LLM transport failures.
func (o *Orchestrator) Produce(ctx context.Context, task Task, analysis Analysis, plan string) (*Result, error) {
	res := &Result{Timings: map[string]time.Duration{}}
	stack := analysis.StackTag
	notes := ""

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var codeEntries []manifest.Entry
		if task.Patch {
			patches, diff, ok, err := o.generatePatch(ctx, patchPrompt(task, plan, notes), stack, task, res)
			if err != nil {
				return res, err
			}
			if !ok {
				res.Outcome = OutcomeNeedsInfo
				return res, nil
			}
			res.Patches = patches
			res.Diff = diff
			codeEntries = patchChanges(patches)
		} else {
			entries, ok, err := o.generateManifest(ctx, Implementer, codePrompt(task, plan, notes), stack, task, nil, res, "code")
			if err != nil {
				return res, err
			}
			if !ok {
				res.Outcome = OutcomeNeedsInfo
				return res, nil
			}
			res.Manifest = entries
			codeEntries = entries
		}

		testEntries, ok, err := o.generateManifest(ctx, Tester, testPrompt(task, codeEntries), stack, task, codeEntries, res, "test")
		if err != nil {
			return res, err
		}
		if !ok {
			res.Outcome = OutcomeNeedsInfo
			return res, nil
		}
		res.TestManifest = testEntries

		review := reviewPrompt(task, codeEntries, testEntries)
		if task.Patch {
			review = reviewPatchPrompt(task, res.Diff, testEntries)
		}
		start := o.now()
		resp, err := o.call(ctx, Reviewer, task, review)
		res.Timings["review"] += o.now().Sub(start)
		if err != nil {
			return res, fmt.Errorf("review: %w", err)
		}
		addUsage(&res.Usage, resp.Usage, resp.Text)
		res.Verdict = ParseVerdict(resp.Text)
		o.Log.Append(Reviewer.Name, resp.Text, "review")

		switch res.Verdict.Decision {
		case VerdictApproved:
			res.Outcome = OutcomeAccepted
			return res, nil
		case VerdictNeedsHuman:
			res.Outcome = OutcomeNeedsHuman
			return res, nil
		}

		res.ReviewRounds++
		if res.ReviewRounds >= o.MaxRounds {
			res.Outcome = OutcomeRoundsExhausted
			return res, nil
		}
		notes = res.Verdict.Notes
		o.Log.Append(Reviewer.Name, "revision requested: "+notes, "revision")
		o.Logger.Info("review requested changes, looping",
			"round", res.ReviewRounds, "notes_len", len(notes))
	}
}

// generateManifest drives one role through the parse+validate gate with the
// shared revision budget. combineWith lets the test phase validate against
// the union of code and test entries, so stack rules that require files see
// the accepted code manifest too.
func (o *Orchestrator) generateManifest(
	ctx context.Context,
	role Role,
	prompt string,
	stack string,
	task Task,
	combineWith []manifest.Entry,
	res *Result,
	phase string,
) ([]manifest.Entry, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if o.Hooks.OnGenerate != nil {
			o.Hooks.OnGenerate(phase)
		}
		start := o.now()
		resp, err := o.call(ctx, role, task, prompt)
		res.Timings[phase] += o.now().Sub(start)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", phase, err)
		}
		addUsage(&res.Usage, resp.Usage, resp.Text)

		entries, perr := manifest.Parse(resp.Text, task.Strict)
		var validation guardrail.ValidationResult
		switch {
		case perr != nil:
			validation = guardrail.ValidationResult{Errors: []string{perr.Error()}}
		case task.Patch:
			// Against an existing tree only delta rules apply; whole-project
			// rules would reject any partial manifest.
			all := append(append([]manifest.Entry{}, combineWith...), entries...)
			validation = guardrail.ValidatePatch(all, stack, task.Constraints)
		default:
			all := append(append([]manifest.Entry{}, combineWith...), entries...)
			validation = guardrail.Validate(all, stack, task.Constraints)
		}
		res.Validation = validation
		if o.Hooks.OnValidate != nil {
			o.Hooks.OnValidate(phase, validation, res.RevisionRounds)
		}

		if validation.IsValid {
			o.Log.Append(role.Name, resp.Text, phase)
			return entries, true, nil
		}

		res.RevisionRounds++
		if res.RevisionRounds > o.MaxRevisionRounds {
			o.Logger.Warn("revision budget exhausted",
				"phase", phase, "rounds", res.RevisionRounds-1, "errors", len(validation.Errors))
			return nil, false, nil
		}
		prompt = guardrail.BuildRevisionPrompt(task.Description, validation)
		o.Log.Append(role.Name, prompt, "revision")
		o.Logger.Info("validation failed, revising",
			"phase", phase, "round", res.RevisionRounds, "errors", len(validation.Errors))
	}
}

// generatePatch drives the patcher through the parse+validate gate with the
// shared revision budget. It is the diff-mode counterpart of
// generateManifest; the returned diff is the normalized text the patches
// were parsed from.
func (o *Orchestrator) generatePatch(
	ctx context.Context,
	prompt string,
	stack string,
	task Task,
	res *Result,
) ([]patch.FilePatch, string, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, "", false, err
		}
		if o.Hooks.OnGenerate != nil {
			o.Hooks.OnGenerate("code")
		}
		start := o.now()
		resp, err := o.call(ctx, Patcher, task, prompt)
		res.Timings["code"] += o.now().Sub(start)
		if err != nil {
			return nil, "", false, fmt.Errorf("code: %w", err)
		}
		addUsage(&res.Usage, resp.Usage, resp.Text)

		diff := extractDiff(resp.Text)
		patches, perr := patch.Parse(diff)
		var validation guardrail.ValidationResult
		if perr != nil {
			validation = guardrail.ValidationResult{Errors: []string{perr.Error()}}
		} else {
			validation = guardrail.ValidatePatch(patchChanges(patches), stack, task.Constraints)
		}
		res.Validation = validation
		if o.Hooks.OnValidate != nil {
			o.Hooks.OnValidate("code", validation, res.RevisionRounds)
		}

		if validation.IsValid {
			o.Log.Append(Patcher.Name, resp.Text, "code")
			return patches, diff, true, nil
		}

		res.RevisionRounds++
		if res.RevisionRounds > o.MaxRevisionRounds {
			o.Logger.Warn("revision budget exhausted",
				"phase", "code", "rounds", res.RevisionRounds-1, "errors", len(validation.Errors))
			return nil, "", false, nil
		}
		prompt = guardrail.BuildRevisionPrompt(task.Description, validation)
		o.Log.Append(Patcher.Name, prompt, "revision")
		o.Logger.Info("validation failed, revising",
			"phase", "code", "round", res.RevisionRounds, "errors", len(validation.Errors))
	}
}

// extractDiff strips a surrounding markdown code fence, which models emit
// even when told not to, and normalizes to one trailing newline.
func extractDiff(text string) string {
	t := strings.TrimSpace(text)
	if strings.HasPrefix(t, "```") {
		if i := strings.IndexByte(t, '\n'); i >= 0 {
			t = t[i+1:]
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
	}
	return strings.TrimSpace(t) + "\n"
}

// patchChanges projects parsed patches onto manifest entries for validation
// and the test prompt: one entry per touched path, content limited to the
// added lines. Deletions and binary patches carry no lines to check.
func patchChanges(patches []patch.FilePatch) []manifest.Entry {
	var entries []manifest.Entry
	for _, fp := range patches {
		if fp.Op == patch.OpDelete || fp.Binary {
			continue
		}
		var b strings.Builder
		for _, h := range fp.Hunks {
			for _, l := range h.Lines {
				if l.Kind == patch.Added {
					b.WriteString(l.Text)
					b.WriteByte('\n')
				}
			}
		}
		entries = append(entries, manifest.Entry{
			Path:     fp.Path,
			Content:  b.String(),
			Op:       manifest.Operation(fp.Op),
			Language: manifest.LanguageFor(fp.Path),
		})
	}
	return entries
}

// call issues one completion for a role, prefixing the prompt with the
// role's bounded slice of the shared log.
func (o *Orchestrator) call(ctx context.Context, role Role, task Task, prompt string) (llm.Response, error) {
	keywords := Keywords(task.Title + " " + task.Description)
	relevant := o.Log.RelevantTo(role, keywords, o.Relevance)

	var b strings.Builder
	if len(relevant) > 0 {
		b.WriteString("Relevant prior context:\n")
		for _, m := range relevant {
			fmt.Fprintf(&b, "[%s] %s\n", m.Author, m.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString(prompt)

	temp := temperatureFor(role.Capability)
	return o.Client.Complete(ctx, llm.Request{
		Model:      o.Model,
		Capability: role.Capability,
		Messages: []llm.Message{
			{Role: "system", Content: role.SystemPrompt},
			{Role: "user", Content: b.String()},
		},
		Temperature: &temp,
	})
}

func addUsage(total *llm.TokenUsage, u llm.TokenUsage, text string) {
	if u.TotalTokens == 0 {
		u.CompletionTokens = llm.EstimateTokens(text)
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}

func analyzePrompt(task Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s\n", task.Title, strings.TrimSpace(task.Description))
	if task.StackHint != "" {
		fmt.Fprintf(&b, "\nStack hint: %s\n", task.StackHint)
	}
	return b.String()
}

func planPrompt(task Task, analysis Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s\n", task.Title, strings.TrimSpace(task.Description))
	fmt.Fprintf(&b, "\nComplexity: %s\nStack: %s\n", analysis.Complexity, analysis.StackTag)
	if analysis.Sketch != "" {
		fmt.Fprintf(&b, "\nDraft file sketch:\n%s\n", analysis.Sketch)
	}
	b.WriteString("\nWrite the ordered implementation plan.")
	return b.String()
}

func codePrompt(task Task, plan, reviewNotes string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s\n\nApproved plan:\n%s\n", task.Title, strings.TrimSpace(task.Description), plan)
	if len(task.Constraints) > 0 {
		fmt.Fprintf(&b, "\nConstraints: %s\n", strings.Join(task.Constraints, ", "))
	}
	if reviewNotes != "" {
		fmt.Fprintf(&b, "\nReviewer notes from the previous round (address all of them):\n%s\n", reviewNotes)
	}
	b.WriteString("\nGenerate the complete file manifest now.")
	return b.String()
}

func patchPrompt(task Task, plan, reviewNotes string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s\n\nApproved plan:\n%s\n", task.Title, strings.TrimSpace(task.Description), plan)
	if len(task.Constraints) > 0 {
		fmt.Fprintf(&b, "\nConstraints: %s\n", strings.Join(task.Constraints, ", "))
	}
	if reviewNotes != "" {
		fmt.Fprintf(&b, "\nReviewer notes from the previous round (address all of them):\n%s\n", reviewNotes)
	}
	b.WriteString("\nGenerate the unified diff for the existing project now.")
	return b.String()
}

func testPrompt(task Task, code []manifest.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nAccepted code manifest paths:\n", task.Title)
	for _, e := range code {
		fmt.Fprintf(&b, "- %s\n", e.Path)
	}
	b.WriteString("\nGenerate the test manifest for this code.")
	return b.String()
}

func reviewPrompt(task Task, code, tests []manifest.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s\n\nCode manifest:\n%s", task.Title, strings.TrimSpace(task.Description), manifest.Serialize(code))
	fmt.Fprintf(&b, "\nTest manifest:\n%s", manifest.Serialize(tests))
	b.WriteString("\nReview and emit the JSON verdict.")
	return b.String()
}

func reviewPatchPrompt(task Task, diff string, tests []manifest.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s\n\nProposed diff against the existing project:\n%s", task.Title, strings.TrimSpace(task.Description), diff)
	fmt.Fprintf(&b, "\nTest manifest:\n%s", manifest.Serialize(tests))
	b.WriteString("\nReview and emit the JSON verdict.")
	return b.String()
}

var complexityTags = map[string]bool{"XS": true, "S": true, "M": true, "L": true, "XL": true}

// parseAnalysis reads the labelled triage sections. Missing or malformed
// fields fall back to sane defaults rather than failing the run.
func parseAnalysis(text string, task Task) Analysis {
	a := Analysis{Complexity: "M", StackTag: task.StackHint}
	var sketch []string
	inSketch := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "complexity:"):
			inSketch = false
			v := strings.ToUpper(strings.TrimSpace(trimmed[len("complexity:"):]))
			if complexityTags[v] {
				a.Complexity = v
			}
		case strings.HasPrefix(lower, "stack:"):
			inSketch = false
			if v := strings.TrimSpace(trimmed[len("stack:"):]); v != "" {
				a.StackTag = v
			}
		case strings.HasPrefix(lower, "sketch:"):
			inSketch = true
			if v := strings.TrimSpace(trimmed[len("sketch:"):]); v != "" {
				sketch = append(sketch, v)
			}
		case inSketch && trimmed != "":
			sketch = append(sketch, trimmed)
		}
	}
	a.Sketch = strings.Join(sketch, "\n")
	return a
}
