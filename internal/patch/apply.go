package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FailureKind classifies why a file patch failed. None of these are fatal to
// the overall run; the executor decides based on transaction mode.
type FailureKind string

const (
	FailNone            FailureKind = ""
	FailParse           FailureKind = "parse_error"
	FailContextMismatch FailureKind = "context_mismatch"
	FailIO              FailureKind = "io_error"
	FailPathUnsafe      FailureKind = "path_unsafe"
)

// Options controls single-file application.
type Options struct {
	// Backup writes <path>.<ts>.bak before touching the target. Default true.
	Backup bool
	// DriftWindow is the ± line search window for hunk anchoring. Default 3.
	DriftWindow int
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.DriftWindow == 0 {
		o.DriftWindow = 3
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// DefaultOptions matches the contract defaults: backups on, window ±3.
func DefaultOptions() Options {
	return Options{Backup: true}.withDefaults()
}

// FileResult records the outcome for one target file.
type FileResult struct {
	Path       string
	Applied    bool
	Failure    FailureKind
	Err        error
	Warnings   []string
	BackupPath string
	Skipped    bool // binary patch
}

// ApplyFile applies one file's hunks under root. On failure it leaves the
// target untouched and emits the three sidecar artifacts next to it.
func ApplyFile(root string, fp FilePatch, opts Options) FileResult {
	opts = opts.withDefaults()
	res := FileResult{Path: fp.Path}
	var log strings.Builder
	fmt.Fprintf(&log, "apply %s (%s) at %s\n", fp.Path, fp.Op, opts.Now().UTC().Format(time.RFC3339))

	if fp.Binary {
		res.Skipped = true
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: binary patch skipped", fp.Path))
		return res
	}

	target := filepath.Join(root, filepath.FromSlash(fp.Path))
	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		res.Failure = FailPathUnsafe
		res.Err = fmt.Errorf("target %q escapes project root", fp.Path)
		return res
	}

	switch fp.Op {
	case OpDelete:
		return applyDelete(target, res, opts)
	case OpCreate:
		return applyCreate(target, fp, res, opts, &log)
	}

	original, err := os.ReadFile(target)
	if err != nil {
		res.Failure = FailIO
		res.Err = fmt.Errorf("read target: %w", err)
		writeSidecars(target, fp, nil, &log, res.Err)
		return res
	}

	newContent, warnings, failure, applyErr := applyHunks(string(original), fp.Hunks, opts.DriftWindow, &log)
	res.Warnings = append(res.Warnings, prefixAll(fp.Path, warnings)...)
	if failure != FailNone {
		res.Failure = failure
		res.Err = applyErr
		writeSidecars(target, fp, []byte(newContent), &log, applyErr)
		return res
	}

	if opts.Backup {
		bak := fmt.Sprintf("%s.%s.bak", target, opts.Now().Format("20060102150405"))
		if err := os.WriteFile(bak, original, 0o644); err != nil {
			res.Failure = FailIO
			res.Err = fmt.Errorf("write backup: %w", err)
			writeSidecars(target, fp, []byte(newContent), &log, res.Err)
			return res
		}
		res.BackupPath = bak
	}

	if err := atomicWrite(target, []byte(newContent)); err != nil {
		res.Failure = FailIO
		res.Err = err
		writeSidecars(target, fp, []byte(newContent), &log, err)
		return res
	}
	res.Applied = true
	return res
}

func applyDelete(target string, res FileResult, opts Options) FileResult {
	original, err := os.ReadFile(target)
	if err != nil {
		res.Failure = FailIO
		res.Err = fmt.Errorf("read target for delete: %w", err)
		return res
	}
	if opts.Backup {
		bak := fmt.Sprintf("%s.%s.bak", target, opts.Now().Format("20060102150405"))
		if err := os.WriteFile(bak, original, 0o644); err != nil {
			res.Failure = FailIO
			res.Err = fmt.Errorf("write backup: %w", err)
			return res
		}
		res.BackupPath = bak
	}
	if err := os.Remove(target); err != nil {
		res.Failure = FailIO
		res.Err = err
		return res
	}
	res.Applied = true
	return res
}

func applyCreate(target string, fp FilePatch, res FileResult, opts Options, log *strings.Builder) FileResult {
	if _, err := os.Stat(target); err == nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: create target already exists, overwriting", fp.Path))
	}
	var b strings.Builder
	for _, h := range fp.Hunks {
		for _, l := range h.Lines {
			if l.Kind == Removed {
				res.Failure = FailParse
				res.Err = fmt.Errorf("create patch contains removed lines")
				return res
			}
			b.WriteString(l.Text)
			b.WriteByte('\n')
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		res.Failure = FailIO
		res.Err = err
		return res
	}
	if err := atomicWrite(target, []byte(b.String())); err != nil {
		res.Failure = FailIO
		res.Err = err
		writeSidecars(target, fp, []byte(b.String()), log, err)
		return res
	}
	res.Applied = true
	return res
}

// applyHunks rewrites content in memory, hunk by hunk. Each hunk is anchored
// by searching for its full original span (context + removed lines) within
// ± window lines of the declared start. Drift beyond 2 lines still applies
// but records a warning.
func applyHunks(content string, hunks []Hunk, window int, log *strings.Builder) (string, []string, FailureKind, error) {
	lines := splitKeepStructure(content)
	var warnings []string
	offset := 0 // net line delta from already-applied hunks

	for hi, h := range hunks {
		span := originalSpan(h)
		declared := h.OrigStart - 1 + offset // 0-based expected position
		at, found := anchor(lines, span, declared, window)
		if !found {
			err := fmt.Errorf("hunk %d: no context match within ±%d lines of line %d", hi+1, window, declared+1)
			fmt.Fprintf(log, "FAIL %v\n", err)
			return "", warnings, FailContextMismatch, err
		}
		drift := at - declared
		if drift < 0 {
			fmt.Fprintf(log, "hunk %d anchored at %d (drift %d)\n", hi+1, at+1, drift)
		} else {
			fmt.Fprintf(log, "hunk %d anchored at %d (drift +%d)\n", hi+1, at+1, drift)
		}
		if abs(drift) > 2 {
			warnings = append(warnings, fmt.Sprintf("hunk %d applied with line drift %d", hi+1, drift))
		}

		replacement := make([]string, 0, h.NewCount)
		for _, l := range h.Lines {
			if l.Kind == Removed {
				continue
			}
			replacement = append(replacement, l.Text)
		}
		rebuilt := make([]string, 0, len(lines)-len(span)+len(replacement))
		rebuilt = append(rebuilt, lines[:at]...)
		rebuilt = append(rebuilt, replacement...)
		rebuilt = append(rebuilt, lines[at+len(span):]...)
		lines = rebuilt
		offset += len(replacement) - len(span)
	}
	return strings.Join(lines, "\n"), warnings, FailNone, nil
}

func originalSpan(h Hunk) []string {
	span := make([]string, 0, h.OrigCount)
	for _, l := range h.Lines {
		if l.Kind == Context || l.Kind == Removed {
			span = append(span, l.Text)
		}
	}
	return span
}

// anchor finds where span matches in lines, preferring the smallest absolute
// drift from the declared position; on a tie the earlier position wins.
func anchor(lines, span []string, declared, window int) (int, bool) {
	if len(span) == 0 {
		// Pure insertion hunk; anchor at the declared position, clamped.
		at := declared
		if at < 0 {
			at = 0
		}
		if at > len(lines) {
			at = len(lines)
		}
		return at, true
	}
	for d := 0; d <= window; d++ {
		for _, at := range []int{declared - d, declared + d} {
			if at < 0 || at+len(span) > len(lines) {
				continue
			}
			if matchAt(lines, span, at) {
				return at, true
			}
			if d == 0 {
				break // declared-d == declared+d
			}
		}
	}
	return 0, false
}

func matchAt(lines, span []string, at int) bool {
	for i, s := range span {
		if lines[at+i] != s {
			return false
		}
	}
	return true
}

// splitKeepStructure splits on newlines; a trailing newline does not produce
// a phantom final element beyond the one empty string Join restores.
func splitKeepStructure(content string) []string {
	return strings.Split(content, "\n")
}

func atomicWrite(target string, data []byte) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".mgx_tmp_*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename over target: %w", err)
	}
	return nil
}

// writeSidecars emits the three review artifacts next to a failed target:
// the attempted content, the apply log and the offending diff. Sidecar
// write failures are appended to the log but otherwise ignored.
func writeSidecars(target string, fp FilePatch, attempted []byte, log *strings.Builder, cause error) {
	if cause != nil {
		fmt.Fprintf(log, "error: %v\n", cause)
	}
	if attempted != nil {
		os.WriteFile(target+".mgx_new", attempted, 0o644)
	}
	os.WriteFile(target+".mgx_apply_log.txt", []byte(log.String()), 0o644)
	os.WriteFile(target+".mgx_failed_diff.txt", []byte(fp.Raw), 0o644)
}

func prefixAll(path string, warnings []string) []string {
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, path+": "+w)
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
