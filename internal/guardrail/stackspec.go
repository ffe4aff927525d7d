// Package guardrail deterministically validates parsed manifests against
// per-stack contracts and user constraints. Validation is pure: the same
// manifest, stack and constraints always produce the same result.
package guardrail

import "regexp"

// StackSpec is the read-only rule set for one stack tag.
type StackSpec struct {
	Tag           string
	Name          string
	Language      string
	RequiredFiles []string
	// RequiredDirs are doublestar-style prefixes; at least one manifest file
	// must match "<dir>/**".
	RequiredDirs     []string
	ForbiddenFiles   []string
	RequiredCommands []string // substrings expected somewhere in the manifest; absence warns
	ForbiddenImports []*regexp.Regexp
	CommonDeps       []string
	// ServerIndicator marks files whose presence means "this manifest
	// contains server code" for the include_env_example constraint.
	ServerIndicators []string
	EnvExampleFile   string
	PackageManifest  string // file holding dependency declarations, if any
}

var builtinStacks = map[string]StackSpec{
	"express-ts": {
		Tag:              "express-ts",
		Name:             "Express + TypeScript",
		Language:         "typescript",
		RequiredFiles:    []string{"package.json", "tsconfig.json"},
		RequiredDirs:     []string{"src"},
		ForbiddenFiles:   []string{"requirements.txt", "go.mod", "composer.json"},
		RequiredCommands: []string{"build", "start"},
		ForbiddenImports: compile(`require\(['"]child_process['"]\)`, `from\s+['"]child_process['"]`),
		CommonDeps:       []string{"express", "typescript", "ts-node", "@types/express", "@types/node", "dotenv", "cors", "helmet", "zod"},
		ServerIndicators: []string{"src/server.ts", "src/index.ts", "src/app.ts"},
		EnvExampleFile:   ".env.example",
		PackageManifest:  "package.json",
	},
	"nestjs": {
		Tag:              "nestjs",
		Name:             "NestJS",
		Language:         "typescript",
		RequiredFiles:    []string{"package.json", "tsconfig.json", "nest-cli.json"},
		RequiredDirs:     []string{"src"},
		ForbiddenFiles:   []string{"requirements.txt", "go.mod"},
		RequiredCommands: []string{"build", "start"},
		ForbiddenImports: compile(`from\s+['"]child_process['"]`),
		CommonDeps:       []string{"@nestjs/common", "@nestjs/core", "@nestjs/platform-express", "reflect-metadata", "rxjs", "class-validator", "class-transformer"},
		ServerIndicators: []string{"src/main.ts"},
		EnvExampleFile:   ".env.example",
		PackageManifest:  "package.json",
	},
	"fastapi": {
		Tag:              "fastapi",
		Name:             "FastAPI",
		Language:         "python",
		RequiredFiles:    []string{"main.py", "requirements.txt"},
		ForbiddenFiles:   []string{"package.json", "go.mod", "composer.json"},
		RequiredCommands: []string{"uvicorn"},
		ForbiddenImports: compile(`^\s*import\s+os\.system`, `^\s*from\s+subprocess\s+import`, `^\s*import\s+subprocess`),
		CommonDeps:       []string{"fastapi", "uvicorn", "pydantic", "python-dotenv", "httpx", "sqlalchemy"},
		ServerIndicators: []string{"main.py", "app/main.py"},
		EnvExampleFile:   ".env.example",
		PackageManifest:  "requirements.txt",
	},
	"laravel": {
		Tag:              "laravel",
		Name:             "Laravel",
		Language:         "php",
		RequiredFiles:    []string{"composer.json", "artisan"},
		RequiredDirs:     []string{"app", "routes"},
		ForbiddenFiles:   []string{"requirements.txt", "go.mod"},
		RequiredCommands: []string{"artisan"},
		ForbiddenImports: compile(`\bexec\s*\(`, `\bshell_exec\s*\(`),
		CommonDeps:       []string{"laravel/framework", "laravel/tinker", "guzzlehttp/guzzle"},
		ServerIndicators: []string{"routes/api.php", "routes/web.php"},
		EnvExampleFile:   ".env.example",
		PackageManifest:  "composer.json",
	},
	"nextjs": {
		Tag:              "nextjs",
		Name:             "Next.js",
		Language:         "typescript",
		RequiredFiles:    []string{"package.json", "next.config.js"},
		RequiredDirs:     []string{"app"},
		ForbiddenFiles:   []string{"requirements.txt", "go.mod"},
		RequiredCommands: []string{"dev", "build"},
		ForbiddenImports: compile(`from\s+['"]child_process['"]`),
		CommonDeps:       []string{"next", "react", "react-dom", "typescript", "@types/react", "tailwindcss"},
		ServerIndicators: []string{"app/api"},
		EnvExampleFile:   ".env.example",
		PackageManifest:  "package.json",
	},
	"react-vite": {
		Tag:              "react-vite",
		Name:             "React + Vite",
		Language:         "typescript",
		RequiredFiles:    []string{"package.json", "vite.config.ts", "index.html"},
		RequiredDirs:     []string{"src"},
		ForbiddenFiles:   []string{"requirements.txt", "go.mod", "next.config.js"},
		RequiredCommands: []string{"dev", "build"},
		ForbiddenImports: compile(`from\s+['"]child_process['"]`),
		CommonDeps:       []string{"react", "react-dom", "vite", "@vitejs/plugin-react", "typescript"},
		PackageManifest:  "package.json",
	},
	"vue-vite": {
		Tag:              "vue-vite",
		Name:             "Vue + Vite",
		Language:         "typescript",
		RequiredFiles:    []string{"package.json", "vite.config.ts", "index.html"},
		RequiredDirs:     []string{"src"},
		ForbiddenFiles:   []string{"requirements.txt", "go.mod"},
		RequiredCommands: []string{"dev", "build"},
		ForbiddenImports: compile(`from\s+['"]child_process['"]`),
		CommonDeps:       []string{"vue", "vite", "@vitejs/plugin-vue", "typescript"},
		PackageManifest:  "package.json",
	},
	"devops-docker": {
		Tag:              "devops-docker",
		Name:             "Docker / Compose",
		Language:         "yaml",
		RequiredFiles:    []string{"Dockerfile"},
		ForbiddenFiles:   []string{},
		RequiredCommands: []string{},
		ForbiddenImports: compile(`--privileged`),
		CommonDeps:       []string{},
	},
	"ci-github-actions": {
		Tag:              "ci-github-actions",
		Name:             "GitHub Actions",
		Language:         "yaml",
		RequiredDirs:     []string{".github/workflows"},
		ForbiddenImports: compile(`pull_request_target`),
		CommonDeps:       []string{},
	},
	"dotnet-api": {
		Tag:              "dotnet-api",
		Name:             ".NET API",
		Language:         "csharp",
		RequiredFiles:    []string{"Program.cs"},
		ForbiddenFiles:   []string{"package.json", "requirements.txt"},
		RequiredCommands: []string{},
		ForbiddenImports: compile(`System\.Diagnostics\.Process`),
		CommonDeps:       []string{"Microsoft.AspNetCore.OpenApi", "Swashbuckle.AspNetCore"},
		ServerIndicators: []string{"Program.cs"},
		EnvExampleFile:   "appsettings.example.json",
	},
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// StackFor returns the rule set for a stack tag.
func StackFor(tag string) (StackSpec, bool) {
	s, ok := builtinStacks[tag]
	return s, ok
}

// KnownStacks returns the closed stack vocabulary in sorted order.
func KnownStacks() []string {
	return []string{
		"ci-github-actions", "devops-docker", "dotnet-api", "express-ts",
		"fastapi", "laravel", "nestjs", "nextjs", "react-vite", "vue-vite",
	}
}

// stackIndicators map marker files to stack families for mixed-stack
// detection. Monorepos are legal, so multiple hits warn rather than fail.
var stackIndicators = map[string]string{
	"package.json":     "node",
	"requirements.txt": "python",
	"pyproject.toml":   "python",
	"composer.json":    "php",
	"go.mod":           "go",
	"Program.cs":       "dotnet",
}
