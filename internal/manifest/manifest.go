// Package manifest parses the FILE-block output produced by the code and
// test phases into an ordered set of file entries.
package manifest

import (
	"fmt"
	"strings"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Entry is one file in a parsed manifest. Content carries exactly one
// trailing newline; interior trailing whitespace is preserved.
type Entry struct {
	Path     string
	Content  string
	Op       Operation
	Language string
}

type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("manifest parse error at line %d: %s", e.Line, e.Msg)
	}
	return "manifest parse error: " + e.Msg
}

const filePrefix = "FILE: "

type scanState int

const (
	scanning scanState = iota
	inFileBlock
)

// Parse scans input with a two-state machine. A block starts at a line
// matching exactly "FILE: <path>" and runs to the next FILE line or EOF.
// In strict mode any non-empty line outside a block is an error; otherwise
// such lines are discarded prose. Duplicate paths are an error in both modes.
func Parse(input string, strict bool) ([]Entry, error) {
	lines := strings.Split(input, "\n")
	var (
		entries []Entry
		seen    = map[string]int{}
		state   = scanning
		current *Entry
		body    []string
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Content = normalizeBody(body)
		entries = append(entries, *current)
		current = nil
		body = nil
	}

	for i, line := range lines {
		if strings.HasPrefix(line, filePrefix) {
			path := strings.TrimSpace(line[len(filePrefix):])
			if path == "" {
				return nil, &ParseError{Line: i + 1, Msg: "FILE line with empty path"}
			}
			norm, err := SafeRelPath(path)
			if err != nil {
				return nil, &ParseError{Line: i + 1, Msg: err.Error()}
			}
			if prev, dup := seen[norm]; dup {
				return nil, &ParseError{Line: i + 1, Msg: fmt.Sprintf("duplicate path %q (first at line %d)", norm, prev)}
			}
			seen[norm] = i + 1
			flush()
			current = &Entry{Path: norm, Op: OpCreate, Language: LanguageFor(norm)}
			state = inFileBlock
			continue
		}
		switch state {
		case scanning:
			if strict && strings.TrimSpace(line) != "" {
				return nil, &ParseError{Line: i + 1, Msg: fmt.Sprintf("unexpected text outside FILE block: %q", strings.TrimSpace(line))}
			}
		case inFileBlock:
			body = append(body, line)
		}
	}
	flush()

	if len(entries) == 0 {
		return nil, &ParseError{Msg: "no FILE blocks found"}
	}
	return entries, nil
}

// normalizeBody preserves trailing whitespace within lines but normalizes
// the block to exactly one trailing newline.
func normalizeBody(lines []string) string {
	joined := strings.Join(lines, "\n")
	joined = strings.TrimRight(joined, "\n")
	return joined + "\n"
}

// Serialize renders entries back into FILE-block form. Parse(Serialize(e))
// yields the same ordered set.
func Serialize(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(filePrefix)
		b.WriteString(e.Path)
		b.WriteByte('\n')
		b.WriteString(e.Content)
	}
	return b.String()
}

// LanguageFor maps a path's extension onto the language tag used by the
// guardrail comment stripper.
func LanguageFor(path string) string {
	switch {
	case strings.HasSuffix(path, ".go"):
		return "go"
	case strings.HasSuffix(path, ".ts"), strings.HasSuffix(path, ".tsx"):
		return "typescript"
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".jsx"):
		return "javascript"
	case strings.HasSuffix(path, ".py"):
		return "python"
	case strings.HasSuffix(path, ".php"):
		return "php"
	case strings.HasSuffix(path, ".cs"):
		return "csharp"
	case strings.HasSuffix(path, ".vue"):
		return "vue"
	case strings.HasSuffix(path, ".yml"), strings.HasSuffix(path, ".yaml"):
		return "yaml"
	case strings.HasSuffix(path, ".json"):
		return "json"
	default:
		return ""
	}
}
