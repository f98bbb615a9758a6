package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/radvoogh/william/internal/git"
	"github.com/radvoogh/william/internal/state"
)

// Archive moves a stopped workspace into archive/<date>-<sanitized-branch>,
// appending -N when that directory already exists. It copies state.json,
// progress.txt, the logs directory, and the source PRD, removes the git
// worktree if the workspace owns one, and deletes the workspace directory.
func Archive(root, dir string, now time.Time) (string, error) {
	if !Stopped(dir) {
		return "", fmt.Errorf("workspace: %s is not stopped; run stop first", dir)
	}

	st, err := state.Load(StatePath(dir))
	if err != nil {
		return "", err
	}

	base := now.Format("2006-01-02") + "-" + sanitizeBranch(st.BranchName)
	dest := filepath.Join(root, ArchiveDir, base)
	for n := 2; Exists(dest); n++ {
		dest = filepath.Join(root, ArchiveDir, fmt.Sprintf("%s-%d", base, n))
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", fmt.Errorf("workspace: creating archive dir: %w", err)
	}

	for _, name := range []string{StateFile, ProgressFile} {
		if err := copyFile(filepath.Join(dir, name), filepath.Join(dest, name)); err != nil {
			return "", fmt.Errorf("workspace: archiving %s: %w", name, err)
		}
	}
	if err := copyDir(filepath.Join(dir, LogsDir), filepath.Join(dest, LogsDir)); err != nil {
		return "", fmt.Errorf("workspace: archiving logs: %w", err)
	}
	// The source PRD may live outside the workspace; fall back to the
	// workspace copy when it is gone.
	src := st.SourceFile
	if !Exists(src) {
		src = PRDPath(dir)
	}
	if Exists(src) {
		if err := copyFile(src, filepath.Join(dest, PRDFile)); err != nil {
			return "", fmt.Errorf("workspace: archiving PRD: %w", err)
		}
	}

	if st.WorktreePath != "" {
		if err := git.WorktreeRemove(st.WorktreePath); err != nil {
			return "", fmt.Errorf("workspace: cleaning worktree: %w", err)
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("workspace: removing %s: %w", dir, err)
	}
	return dest, nil
}

// sanitizeBranch turns a branch name into a filesystem-safe slug.
func sanitizeBranch(branch string) string {
	var b strings.Builder
	prev := '-'
	for _, r := range strings.ToLower(branch) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prev = r
		default:
			if prev != '-' {
				b.WriteRune('-')
				prev = '-'
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
