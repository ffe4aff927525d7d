package manifest

import (
	"fmt"
	"path"
	"strings"
)

// forbiddenPrefixes are rejected even for otherwise-relative paths; a model
// emitting them is trying to write outside any project root.
var forbiddenPrefixes = []string{
	"/etc/",
	"/proc/",
	"/sys/",
	"/dev/",
	"~/",
}

// SafeRelPath normalizes a manifest path and rejects anything that could
// escape the project root: absolute paths, ".." segments, and paths under a
// forbidden prefix. Returns the normalized POSIX-style relative path.
func SafeRelPath(p string) (string, error) {
	raw := strings.TrimSpace(p)
	if raw == "" {
		return "", fmt.Errorf("empty path")
	}
	for _, pre := range forbiddenPrefixes {
		if strings.HasPrefix(raw, pre) {
			return "", fmt.Errorf("path %q under forbidden prefix %q", raw, pre)
		}
	}
	if strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "\\") {
		return "", fmt.Errorf("absolute path %q not allowed", raw)
	}
	// Windows-style drive or UNC escapes.
	if len(raw) >= 2 && raw[1] == ':' {
		return "", fmt.Errorf("absolute path %q not allowed", raw)
	}
	norm := path.Clean(strings.ReplaceAll(raw, "\\", "/"))
	if norm == "." || norm == ".." || strings.HasPrefix(norm, "../") {
		return "", fmt.Errorf("path %q resolves outside the project root", raw)
	}
	for _, seg := range strings.Split(norm, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path %q contains a .. segment", raw)
		}
	}
	return norm, nil
}
