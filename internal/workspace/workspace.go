// Package workspace manages the on-disk layout of PRD-driven workspaces:
// path conventions, name resolution, creation from a PRD, revision
// subworkspaces, sentinel files, and archiving.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/radvoogh/william/internal/prd"
	"github.com/radvoogh/william/internal/state"
)

// Well-known file names inside a workspace directory. Presence of the
// sentinel files is the signal; their content is advisory.
const (
	StateFile    = "state.json"
	ProgressFile = "progress.txt"
	PRDFile      = "prd.md"
	LogsDir      = "logs"
	DebugLogFile = "william.log"
	StoppedFile  = ".stopped"
	PausedFile   = ".paused"
	HintFile     = ".stuck-hint.md"
)

// WorkspacesDir and ArchiveDir are the top-level directories under the
// installation root.
const (
	WorkspacesDir = "workspaces"
	ArchiveDir    = "archive"
)

var revisionPattern = regexp.MustCompile(`^revision-(\d+)$`)

// Path helpers. All callers pass the absolute workspace directory.

func StatePath(dir string) string    { return filepath.Join(dir, StateFile) }
func ProgressPath(dir string) string { return filepath.Join(dir, ProgressFile) }
func PRDPath(dir string) string      { return filepath.Join(dir, PRDFile) }
func StoppedPath(dir string) string  { return filepath.Join(dir, StoppedFile) }
func PausedPath(dir string) string   { return filepath.Join(dir, PausedFile) }
func HintPath(dir string) string     { return filepath.Join(dir, HintFile) }
func DebugLogPath(dir string) string { return filepath.Join(dir, DebugLogFile) }

// IterationLogPath returns the NDJSON log path for one iteration. The
// timestamp keeps ISO-8601 ordering with ':' and '.' replaced by '-' so the
// name is filesystem-safe.
func IterationLogPath(dir, storyID string, t time.Time) string {
	ts := t.UTC().Format("2006-01-02T15:04:05.000Z")
	ts = strings.NewReplacer(":", "-", ".", "-").Replace(ts)
	return filepath.Join(dir, LogsDir, ts+"-"+storyID+".log")
}

// Exists reports whether a sentinel (or any) file is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Stopped reports whether the stop sentinel is set.
func Stopped(dir string) bool { return Exists(StoppedPath(dir)) }

// Paused reports whether the pause sentinel is set.
func Paused(dir string) bool { return Exists(PausedPath(dir)) }

// Stop places the stop sentinel with the current timestamp.
func Stop(dir string, now time.Time) error {
	content := state.Timestamp(now) + "\n"
	if err := os.WriteFile(StoppedPath(dir), []byte(content), 0644); err != nil {
		return fmt.Errorf("workspace: writing stop sentinel: %w", err)
	}
	return nil
}

// Info identifies one workspace found under the installation root.
type Info struct {
	Project  string
	Name     string
	Dir      string
	Revision int // 0 for a main workspace, N for revision-N
}

// Ref returns the printable reference for the workspace.
func (i Info) Ref() string {
	ref := i.Project + "/" + i.Name
	if i.Revision > 0 {
		ref += fmt.Sprintf("/revision-%d", i.Revision)
	}
	return ref
}

// List returns every workspace under root/workspaces, including revision
// subworkspaces, sorted by project then name then revision.
func List(root string) ([]Info, error) {
	base := filepath.Join(root, WorkspacesDir)
	projects, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workspace: reading %s: %w", base, err)
	}

	var infos []Info
	for _, proj := range projects {
		if !proj.IsDir() {
			continue
		}
		names, err := os.ReadDir(filepath.Join(base, proj.Name()))
		if err != nil {
			continue
		}
		for _, name := range names {
			if !name.IsDir() {
				continue
			}
			dir := filepath.Join(base, proj.Name(), name.Name())
			if !Exists(StatePath(dir)) {
				continue
			}
			infos = append(infos, Info{Project: proj.Name(), Name: name.Name(), Dir: dir})

			subs, err := os.ReadDir(dir)
			if err != nil {
				continue
			}
			for _, sub := range subs {
				m := revisionPattern.FindStringSubmatch(sub.Name())
				if m == nil || !sub.IsDir() {
					continue
				}
				revDir := filepath.Join(dir, sub.Name())
				if !Exists(StatePath(revDir)) {
					continue
				}
				var n int
				fmt.Sscanf(m[1], "%d", &n)
				infos = append(infos, Info{
					Project:  proj.Name(),
					Name:     name.Name(),
					Dir:      revDir,
					Revision: n,
				})
			}
		}
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Project != infos[j].Project {
			return infos[i].Project < infos[j].Project
		}
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].Revision < infos[j].Revision
	})
	return infos, nil
}

// Resolve turns a workspace reference into its directory. Accepted forms:
// bare name (scanned across projects, must be unique), project/name, and
// either of those with a trailing revision-N segment.
func Resolve(root, ref string) (string, error) {
	parts := strings.Split(strings.Trim(ref, "/"), "/")

	revision := ""
	if len(parts) > 1 && revisionPattern.MatchString(parts[len(parts)-1]) {
		revision = parts[len(parts)-1]
		parts = parts[:len(parts)-1]
	}

	var dir string
	switch len(parts) {
	case 1:
		matches, err := filepath.Glob(filepath.Join(root, WorkspacesDir, "*", parts[0]))
		if err != nil {
			return "", fmt.Errorf("workspace: scanning for %q: %w", parts[0], err)
		}
		var found []string
		for _, m := range matches {
			if Exists(StatePath(m)) {
				found = append(found, m)
			}
		}
		if len(found) == 0 {
			return "", fmt.Errorf("workspace: %q not found", parts[0])
		}
		if len(found) > 1 {
			return "", fmt.Errorf("workspace: %q is ambiguous (%d matches); use project/name", parts[0], len(found))
		}
		dir = found[0]
	case 2:
		dir = filepath.Join(root, WorkspacesDir, parts[0], parts[1])
		if !Exists(StatePath(dir)) {
			return "", fmt.Errorf("workspace: %s/%s not found", parts[0], parts[1])
		}
	default:
		return "", fmt.Errorf("workspace: invalid reference %q", ref)
	}

	if revision != "" {
		dir = filepath.Join(dir, revision)
		if !Exists(StatePath(dir)) {
			return "", fmt.Errorf("workspace: %s has no %s", ref, revision)
		}
	}
	return dir, nil
}

// CreateOptions carries the identity of a new workspace.
type CreateOptions struct {
	Project      string
	Name         string
	PRDSource    string // path to the source PRD markdown
	TargetDir    string // absolute directory the agent works in
	BranchName   string
	WorktreePath string
}

// Create initializes a workspace directory from a PRD: copies the PRD in,
// parses it, writes the initial state and an empty progress log.
func Create(root string, opts CreateOptions, now time.Time) (string, error) {
	dir := filepath.Join(root, WorkspacesDir, opts.Project, opts.Name)
	if Exists(StatePath(dir)) {
		return "", fmt.Errorf("workspace: %s/%s already exists", opts.Project, opts.Name)
	}
	if err := os.MkdirAll(filepath.Join(dir, LogsDir), 0755); err != nil {
		return "", fmt.Errorf("workspace: creating %s: %w", dir, err)
	}

	prdData, err := os.ReadFile(opts.PRDSource)
	if err != nil {
		return "", fmt.Errorf("workspace: reading PRD %s: %w", opts.PRDSource, err)
	}
	if err := os.WriteFile(PRDPath(dir), prdData, 0644); err != nil {
		return "", fmt.Errorf("workspace: copying PRD: %w", err)
	}

	sourceAbs, err := filepath.Abs(opts.PRDSource)
	if err != nil {
		sourceAbs = opts.PRDSource
	}
	targetAbs, err := filepath.Abs(opts.TargetDir)
	if err != nil {
		targetAbs = opts.TargetDir
	}

	parsed := prd.Parse(string(prdData))
	st := state.InitFromPRD(parsed, state.Meta{
		Workspace:    opts.Name,
		Project:      opts.Project,
		TargetDir:    targetAbs,
		BranchName:   opts.BranchName,
		SourceFile:   sourceAbs,
		WorktreePath: opts.WorktreePath,
	}, now)
	if err := state.Save(StatePath(dir), &st); err != nil {
		return "", err
	}

	header := fmt.Sprintf("# Progress Log\nProject: %s\nBranch: %s\nStarted: %s\n\n---\n",
		opts.Project, opts.BranchName, now.Format(time.RFC1123))
	if err := os.WriteFile(ProgressPath(dir), []byte(header), 0644); err != nil {
		return "", fmt.Errorf("workspace: writing progress log: %w", err)
	}

	return dir, nil
}

// CreateRevision initializes the next revision-N subworkspace under a parent
// workspace, sharing the parent's branch, target directory, and worktree.
func CreateRevision(parentDir, prdSource string, now time.Time) (string, error) {
	parent, err := state.Load(StatePath(parentDir))
	if err != nil {
		return "", err
	}

	n := 1
	for Exists(filepath.Join(parentDir, fmt.Sprintf("revision-%d", n))) {
		n++
	}
	dir := filepath.Join(parentDir, fmt.Sprintf("revision-%d", n))
	if err := os.MkdirAll(filepath.Join(dir, LogsDir), 0755); err != nil {
		return "", fmt.Errorf("workspace: creating %s: %w", dir, err)
	}

	prdData, err := os.ReadFile(prdSource)
	if err != nil {
		return "", fmt.Errorf("workspace: reading revision PRD %s: %w", prdSource, err)
	}
	if err := os.WriteFile(PRDPath(dir), prdData, 0644); err != nil {
		return "", fmt.Errorf("workspace: copying revision PRD: %w", err)
	}

	sourceAbs, err := filepath.Abs(prdSource)
	if err != nil {
		sourceAbs = prdSource
	}

	parsed := prd.Parse(string(prdData))
	st := state.InitFromPRD(parsed, state.Meta{
		Workspace:       parent.Workspace,
		Project:         parent.Project,
		TargetDir:       parent.TargetDir,
		BranchName:      parent.BranchName,
		SourceFile:      sourceAbs,
		WorktreePath:    parent.WorktreePath,
		ParentWorkspace: parentDir,
		RevisionNumber:  n,
	}, now)
	if err := state.Save(StatePath(dir), &st); err != nil {
		return "", err
	}

	header := fmt.Sprintf("# Progress Log (revision %d)\nProject: %s\nBranch: %s\nStarted: %s\n\n---\n",
		n, parent.Project, parent.BranchName, now.Format(time.RFC1123))
	if err := os.WriteFile(ProgressPath(dir), []byte(header), 0644); err != nil {
		return "", fmt.Errorf("workspace: writing progress log: %w", err)
	}

	return dir, nil
}
