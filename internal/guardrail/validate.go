package guardrail

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mgx-dev/mgx/internal/manifest"
)

// ValidationResult is the deterministic verdict for one manifest. Errors
// block progress; warnings do not.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Constraint tokens accepted from task input. Unknown tokens warn and are
// otherwise ignored.
const (
	ConstraintNoExtraLibraries  = "no_extra_libraries"
	ConstraintIncludeEnvExample = "include_env_example"
	ConstraintUsePnpm           = "use_pnpm"
)

// Validate applies the stack's rule set and the user constraints to a parsed
// manifest. It is pure and non-suspending.
func Validate(entries []manifest.Entry, stackTag string, constraints []string) ValidationResult {
	var res ValidationResult

	spec, ok := StackFor(stackTag)
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown stack %q", stackTag))
		return finish(res)
	}

	byPath := make(map[string]manifest.Entry, len(entries))
	for _, e := range entries {
		byPath[e.Path] = e
	}

	for _, want := range spec.RequiredFiles {
		if _, ok := byPath[want]; !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("missing required file %q for stack %s", want, spec.Tag))
		}
	}
	for _, dir := range spec.RequiredDirs {
		if !anyUnder(entries, dir) {
			res.Errors = append(res.Errors, fmt.Sprintf("no files under required directory %q for stack %s", dir, spec.Tag))
		}
	}
	for _, bad := range spec.ForbiddenFiles {
		if _, ok := byPath[bad]; ok {
			res.Errors = append(res.Errors, fmt.Sprintf("forbidden file %q present for stack %s", bad, spec.Tag))
		}
	}

	whole := manifest.Serialize(entries)
	for _, cmd := range spec.RequiredCommands {
		if !strings.Contains(whole, cmd) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("expected command indicator %q not found in manifest", cmd))
		}
	}

	for _, e := range entries {
		stripped := StripCommentsAndStrings(e.Content, e.Language)
		for lineNo, line := range strings.Split(stripped, "\n") {
			for _, re := range spec.ForbiddenImports {
				if re.MatchString(line) {
					res.Errors = append(res.Errors, fmt.Sprintf("%s:%d: forbidden import matches %q", e.Path, lineNo+1, re.String()))
				}
			}
		}
	}

	res = applyConstraints(res, spec, entries, byPath, constraints)
	res = detectMixedStacks(res, spec, byPath)
	return finish(res)
}

// ValidatePatch applies the stack's delta-applicable rules to the changed
// files of a diff. Rules that need a whole-project view (required files and
// directories, dependency sets) do not apply against an existing tree;
// forbidden files and forbidden imports still do. changes carries one entry
// per touched path whose Content is the added lines only.
func ValidatePatch(changes []manifest.Entry, stackTag string, constraints []string) ValidationResult {
	var res ValidationResult

	spec, ok := StackFor(stackTag)
	if !ok {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown stack %q", stackTag))
		return finish(res)
	}

	byPath := make(map[string]manifest.Entry, len(changes))
	for _, e := range changes {
		byPath[e.Path] = e
	}
	for _, bad := range spec.ForbiddenFiles {
		if _, ok := byPath[bad]; ok {
			res.Errors = append(res.Errors, fmt.Sprintf("forbidden file %q touched for stack %s", bad, spec.Tag))
		}
	}

	for _, e := range changes {
		stripped := StripCommentsAndStrings(e.Content, e.Language)
		for lineNo, line := range strings.Split(stripped, "\n") {
			for _, re := range spec.ForbiddenImports {
				if re.MatchString(line) {
					res.Errors = append(res.Errors, fmt.Sprintf("%s: added line %d: forbidden import matches %q", e.Path, lineNo+1, re.String()))
				}
			}
		}
	}

	for _, c := range constraints {
		switch c {
		case ConstraintNoExtraLibraries, ConstraintIncludeEnvExample, ConstraintUsePnpm:
			// Whole-project constraints are enforced on full manifests only.
		default:
			res.Warnings = append(res.Warnings, fmt.Sprintf("unknown constraint token %q ignored", c))
		}
	}
	return finish(res)
}

func finish(res ValidationResult) ValidationResult {
	res.IsValid = len(res.Errors) == 0
	if res.Errors == nil {
		res.Errors = []string{}
	}
	if res.Warnings == nil {
		res.Warnings = []string{}
	}
	return res
}

func anyUnder(entries []manifest.Entry, dir string) bool {
	pattern := strings.TrimSuffix(dir, "/") + "/**"
	for _, e := range entries {
		if ok, err := doublestar.Match(pattern, e.Path); err == nil && ok {
			return true
		}
	}
	return false
}

func applyConstraints(res ValidationResult, spec StackSpec, entries []manifest.Entry, byPath map[string]manifest.Entry, constraints []string) ValidationResult {
	for _, c := range constraints {
		switch c {
		case ConstraintNoExtraLibraries:
			res = enforceNoExtraLibraries(res, spec, byPath)
		case ConstraintIncludeEnvExample:
			if spec.EnvExampleFile == "" {
				continue
			}
			if hasServerCode(spec, byPath) {
				if _, ok := byPath[spec.EnvExampleFile]; !ok {
					res.Errors = append(res.Errors, fmt.Sprintf("constraint include_env_example: manifest with server code must include %q", spec.EnvExampleFile))
				}
			}
		case ConstraintUsePnpm:
			if spec.PackageManifest != "package.json" {
				res.Warnings = append(res.Warnings, "constraint use_pnpm only applies to Node stacks")
				continue
			}
			pkg, ok := byPath["package.json"]
			if !ok || !strings.Contains(pkg.Content, "pnpm") {
				res.Errors = append(res.Errors, "constraint use_pnpm: package.json does not reference pnpm")
			}
		default:
			res.Warnings = append(res.Warnings, fmt.Sprintf("unknown constraint token %q ignored", c))
		}
	}
	return res
}

func hasServerCode(spec StackSpec, byPath map[string]manifest.Entry) bool {
	for _, ind := range spec.ServerIndicators {
		if _, ok := byPath[ind]; ok {
			return true
		}
		// Directory-style indicator (e.g. "app/api").
		for p := range byPath {
			if strings.HasPrefix(p, ind+"/") {
				return true
			}
		}
	}
	return false
}

// enforceNoExtraLibraries checks declared dependencies against the stack's
// common-dependency set. Only the package manifest is inspected; transitive
// imports are the forbidden-imports regexes' concern.
func enforceNoExtraLibraries(res ValidationResult, spec StackSpec, byPath map[string]manifest.Entry) ValidationResult {
	if spec.PackageManifest == "" {
		return res
	}
	pkg, ok := byPath[spec.PackageManifest]
	if !ok {
		return res
	}
	allowed := make(map[string]bool, len(spec.CommonDeps))
	for _, d := range spec.CommonDeps {
		allowed[d] = true
	}
	var extras []string
	for _, dep := range declaredDeps(pkg) {
		if !allowed[dep] {
			extras = append(extras, dep)
		}
	}
	sort.Strings(extras)
	for _, dep := range extras {
		res.Errors = append(res.Errors, fmt.Sprintf("constraint no_extra_libraries: dependency %q outside the %s common set", dep, spec.Tag))
	}
	return res
}

// declaredDeps extracts dependency names from a package manifest with a
// format-appropriate line scan. Parsing full JSON here would reject the
// partial manifests models commonly emit, so this stays permissive.
func declaredDeps(pkg manifest.Entry) []string {
	var deps []string
	switch pkg.Path {
	case "requirements.txt":
		for _, line := range strings.Split(pkg.Content, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			name := line
			for _, sep := range []string{"==", ">=", "<=", "~=", ">", "<", "["} {
				if i := strings.Index(name, sep); i >= 0 {
					name = name[:i]
				}
			}
			deps = append(deps, strings.TrimSpace(name))
		}
	case "package.json", "composer.json":
		inDeps := false
		for _, line := range strings.Split(pkg.Content, "\n") {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, `"dependencies"`) || strings.HasPrefix(trimmed, `"devDependencies"`) || strings.HasPrefix(trimmed, `"require"`) {
				inDeps = true
				continue
			}
			if inDeps {
				if strings.HasPrefix(trimmed, "}") {
					inDeps = false
					continue
				}
				if i := strings.Index(trimmed, `":`); i > 0 && strings.HasPrefix(trimmed, `"`) {
					deps = append(deps, trimmed[1:i])
				}
			}
		}
	}
	return deps
}

func detectMixedStacks(res ValidationResult, spec StackSpec, byPath map[string]manifest.Entry) ValidationResult {
	families := map[string]bool{}
	for marker, family := range stackIndicators {
		if _, ok := byPath[marker]; ok {
			families[family] = true
		}
	}
	if len(families) > 1 {
		names := make([]string, 0, len(families))
		for f := range families {
			names = append(names, f)
		}
		sort.Strings(names)
		res.Warnings = append(res.Warnings, fmt.Sprintf("indicators of multiple stacks present (%s); assuming monorepo", strings.Join(names, ", ")))
	}
	return res
}
