package githooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// GHClient opens pull requests through the gh CLI. A duplicate-PR error is
// treated as success; the existing PR's URL is recovered via `gh pr view`.
type GHClient struct{}

func (GHClient) OpenPR(ctx context.Context, dir, branch, title, body string) (string, error) {
	out, stderr, err := runGH(ctx, dir,
		"pr", "create", "--draft",
		"--head", branch,
		"--title", title,
		"--body", body,
	)
	if err == nil {
		return strings.TrimSpace(out), nil
	}
	if strings.Contains(stderr, "already exists") {
		if url, verr := viewPRURL(ctx, dir, branch); verr == nil {
			return url, nil
		}
		// Duplicate is success even if the URL is not discoverable.
		return "", nil
	}
	return "", fmt.Errorf("gh pr create: %w: %s", err, strings.TrimSpace(stderr))
}

func viewPRURL(ctx context.Context, dir, branch string) (string, error) {
	out, _, err := runGH(ctx, dir, "pr", "view", branch, "--json", "url")
	if err != nil {
		return "", err
	}
	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		return "", err
	}
	return payload.URL, nil
}

func runGH(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
