// Package git provides the small set of git operations the workspace
// lifecycle needs: branch queries and worktree cleanup during archiving.
package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// run executes a git command and returns combined output. It returns an error
// if the command exits non-zero.
func run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w\n%s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the name of the currently checked-out branch in dir.
func CurrentBranch(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git rev-parse: %w\n%s", err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// WorktreeRemove removes a git worktree at the given path and prunes stale
// worktree entries.
func WorktreeRemove(path string) error {
	if _, err := run("worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("worktree remove %q: %w", path, err)
	}
	_, _ = run("worktree", "prune")
	return nil
}
