// Package patch parses unified diffs and applies them to files on disk with
// backups, drift-tolerant hunk anchoring and transactional batch semantics.
package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mgx-dev/mgx/internal/manifest"
)

type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// LineKind tags one line inside a hunk.
type LineKind byte

const (
	Context LineKind = ' '
	Added   LineKind = '+'
	Removed LineKind = '-'
)

type Line struct {
	Kind LineKind
	Text string
}

// Hunk is one @@ -s,c +s,c @@ region. Starts are 1-based per the format.
type Hunk struct {
	OrigStart, OrigCount int
	NewStart, NewCount   int
	Lines                []Line
}

// FilePatch is all hunks targeting one path. Binary patches are flagged and
// skipped by the applier with a warning.
type FilePatch struct {
	Path   string
	Op     Operation
	Hunks  []Hunk
	Binary bool
	// Raw is the original diff text for this file, kept for the failure
	// sidecar artifact.
	Raw string
}

type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("diff parse error at line %d: %s", e.Line, e.Msg)
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parse splits a unified diff into per-file patches. Headers are
// "--- a/<path>" / "+++ b/<path>"; /dev/null on the old side means create,
// on the new side means delete.
func Parse(text string) ([]FilePatch, error) {
	lines := strings.Split(text, "\n")
	var patches []FilePatch
	var cur *FilePatch
	var rawStart int

	flush := func(end int) {
		if cur == nil {
			return
		}
		cur.Raw = strings.Join(lines[rawStart:end], "\n")
		patches = append(patches, *cur)
		cur = nil
	}

	i := 0
	for i < len(lines) {
		line := lines[i]
		if strings.HasPrefix(line, "--- ") {
			if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
				return nil, &ParseError{Line: i + 1, Msg: "--- header without matching +++ header"}
			}
			flush(i)
			rawStart = i
			oldPath := headerPath(line[4:])
			newPath := headerPath(lines[i+1][4:])
			fp := FilePatch{Op: OpModify}
			switch {
			case oldPath == "" && newPath == "":
				return nil, &ParseError{Line: i + 1, Msg: "both diff sides are /dev/null"}
			case oldPath == "":
				fp.Op = OpCreate
				fp.Path = newPath
			case newPath == "":
				fp.Op = OpDelete
				fp.Path = oldPath
			default:
				fp.Path = newPath
			}
			norm, err := manifest.SafeRelPath(fp.Path)
			if err != nil {
				return nil, &ParseError{Line: i + 1, Msg: err.Error()}
			}
			fp.Path = norm
			cur = &fp
			i += 2
			continue
		}
		if strings.HasPrefix(line, "Binary files ") || strings.HasPrefix(line, "GIT binary patch") {
			if cur != nil {
				cur.Binary = true
			}
			i++
			continue
		}
		if m := hunkHeader.FindStringSubmatch(line); m != nil {
			if cur == nil {
				return nil, &ParseError{Line: i + 1, Msg: "hunk header before file header"}
			}
			h := Hunk{
				OrigStart: atoiDefault(m[1], 0),
				OrigCount: atoiDefault(m[2], 1),
				NewStart:  atoiDefault(m[3], 0),
				NewCount:  atoiDefault(m[4], 1),
			}
			i++
			var orig, added int
			for i < len(lines) {
				l := lines[i]
				if l == "" && i == len(lines)-1 {
					break
				}
				if strings.HasPrefix(l, "\\ No newline at end of file") {
					i++
					continue
				}
				if len(l) == 0 {
					// Tolerate bare empty lines inside hunks as empty context.
					h.Lines = append(h.Lines, Line{Kind: Context, Text: ""})
					orig++
					added++
					i++
					if orig >= h.OrigCount && added >= h.NewCount {
						break
					}
					continue
				}
				kind := LineKind(l[0])
				if kind != Context && kind != Added && kind != Removed {
					break
				}
				h.Lines = append(h.Lines, Line{Kind: kind, Text: l[1:]})
				switch kind {
				case Context:
					orig++
					added++
				case Removed:
					orig++
				case Added:
					added++
				}
				i++
				if orig >= h.OrigCount && added >= h.NewCount {
					break
				}
			}
			if orig != h.OrigCount || added != h.NewCount {
				return nil, &ParseError{Line: i, Msg: fmt.Sprintf("hunk body does not match declared counts (-%d +%d, saw -%d +%d)", h.OrigCount, h.NewCount, orig, added)}
			}
			cur.Hunks = append(cur.Hunks, h)
			continue
		}
		i++
	}
	flush(len(lines))

	if len(patches) == 0 {
		return nil, &ParseError{Line: 1, Msg: "no file patches found"}
	}
	for _, p := range patches {
		if !p.Binary && len(p.Hunks) == 0 && p.Op != OpDelete {
			return nil, &ParseError{Line: 1, Msg: fmt.Sprintf("patch for %s has no hunks", p.Path)}
		}
	}
	return patches, nil
}

// headerPath strips the a/ or b/ prefix and any trailing timestamp from a
// diff header path. /dev/null maps to "".
func headerPath(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\t'); i >= 0 {
		s = s[:i]
	}
	if s == "/dev/null" {
		return ""
	}
	s = strings.TrimPrefix(s, "a/")
	s = strings.TrimPrefix(s, "b/")
	return s
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
