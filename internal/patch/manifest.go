package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mgx-dev/mgx/internal/manifest"
)

// WriteManifest materializes accepted manifest entries under root with the
// same safety rails as diff application: per-file timestamped backups of
// pre-existing targets, atomic temp+rename writes, and all-or-nothing
// rollback on the first failure. Paths were validated at parse time but are
// re-checked against root here.
func WriteManifest(root string, entries []manifest.Entry, mode TransactionMode, opts Options) BatchResult {
	opts = opts.withDefaults()
	if mode == AllOrNothing {
		// Rollback depends on backups existing.
		opts.Backup = true
	}
	out := BatchResult{Mode: mode}

	for _, e := range entries {
		res := writeEntry(root, e, opts)
		out.Files = append(out.Files, res)
		if res.Failure == FailNone {
			continue
		}
		out.Failed = true
		if mode == AllOrNothing {
			out.RolledBack = rollback(root, out.Files)
			return out
		}
	}
	return out
}

func writeEntry(root string, e manifest.Entry, opts Options) FileResult {
	res := FileResult{Path: e.Path}

	target := filepath.Join(root, filepath.FromSlash(e.Path))
	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		res.Failure = FailPathUnsafe
		res.Err = fmt.Errorf("target %q escapes project root", e.Path)
		return res
	}

	if original, err := os.ReadFile(target); err == nil && opts.Backup {
		bak := fmt.Sprintf("%s.%s.bak", target, opts.Now().Format("20060102150405"))
		if werr := os.WriteFile(bak, original, 0o644); werr != nil {
			res.Failure = FailIO
			res.Err = fmt.Errorf("write backup: %w", werr)
			return res
		}
		res.BackupPath = bak
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		res.Failure = FailIO
		res.Err = fmt.Errorf("create parent dir: %w", err)
		return res
	}
	if err := atomicWrite(target, []byte(e.Content)); err != nil {
		res.Failure = FailIO
		res.Err = err
		return res
	}
	res.Applied = true
	return res
}
