package patch

import (
	"fmt"
	"os"
	"path/filepath"
)

type TransactionMode string

const (
	AllOrNothing TransactionMode = "all_or_nothing"
	BestEffort   TransactionMode = "best_effort"
)

// BatchResult is the outcome of a multi-file apply.
type BatchResult struct {
	Mode       TransactionMode
	Files      []FileResult
	Failed     bool
	RolledBack bool
}

// Warnings flattens per-file warnings in file order.
func (r BatchResult) Warnings() []string {
	var out []string
	for _, f := range r.Files {
		out = append(out, f.Warnings...)
	}
	return out
}

// FirstFailure returns the first failed file result, if any.
func (r BatchResult) FirstFailure() (FileResult, bool) {
	for _, f := range r.Files {
		if f.Failure != FailNone {
			return f, true
		}
	}
	return FileResult{}, false
}

// ApplyBatch applies patches in order under the given transaction mode.
//
// all_or_nothing: on the first failure every already-touched file is restored
// from its backup and the batch is marked failed. Backups are kept either way.
// best_effort: every patch is attempted; per-file results stand on their own.
func ApplyBatch(root string, patches []FilePatch, mode TransactionMode, opts Options) BatchResult {
	opts = opts.withDefaults()
	if mode == AllOrNothing {
		// Rollback depends on backups existing.
		opts.Backup = true
	}
	res := BatchResult{Mode: mode}

	for _, fp := range patches {
		fr := ApplyFile(root, fp, opts)
		res.Files = append(res.Files, fr)
		if fr.Failure == FailNone {
			continue
		}
		res.Failed = true
		if mode == AllOrNothing {
			res.RolledBack = rollback(root, res.Files)
			return res
		}
	}
	return res
}

// rollback restores every applied file from its backup. Created files with
// no backup are removed. Returns true only if every restore succeeded.
func rollback(root string, files []FileResult) bool {
	ok := true
	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		if !f.Applied {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(f.Path))
		if f.BackupPath == "" {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				ok = false
			}
			continue
		}
		data, err := os.ReadFile(f.BackupPath)
		if err != nil {
			ok = false
			continue
		}
		if err := atomicWrite(target, data); err != nil {
			ok = false
		}
	}
	return ok
}

// Describe renders a short human-readable batch summary for run artifacts.
func Describe(r BatchResult) string {
	applied, failed, skipped := 0, 0, 0
	for _, f := range r.Files {
		switch {
		case f.Skipped:
			skipped++
		case f.Failure != FailNone:
			failed++
		case f.Applied:
			applied++
		}
	}
	s := fmt.Sprintf("%s: %d applied, %d failed, %d skipped", r.Mode, applied, failed, skipped)
	if r.RolledBack {
		s += " (rolled back)"
	}
	return s
}
