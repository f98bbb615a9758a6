package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/radvoogh/william/internal/agent"
	"github.com/radvoogh/william/internal/config"
	"github.com/radvoogh/william/internal/git"
	"github.com/radvoogh/william/internal/logging"
	"github.com/radvoogh/william/internal/loop"
	"github.com/radvoogh/william/internal/notify"
	"github.com/radvoogh/william/internal/prompts"
	"github.com/radvoogh/william/internal/state"
	"github.com/radvoogh/william/internal/stuck"
	"github.com/radvoogh/william/internal/ui"
	"github.com/radvoogh/william/internal/web"
	"github.com/radvoogh/william/internal/workspace"
)

// CLI defines the top-level command structure for william.
type CLI struct {
	Root            string   `help:"Installation root holding workspaces/ and archive/." default:"." type:"existingdir"`
	Verbose         bool     `help:"Enable verbose logging." short:"v"`
	PromptOverrides []string `help:"Override an embedded prompt file: name=path (e.g. prompt.md=/tmp/my-prompt.md)." name:"prompt-override"`

	New     NewCmd     `cmd:"" help:"Create a workspace from a PRD markdown file."`
	Start   StartCmd   `cmd:"" help:"Run the iteration loop for a workspace."`
	Stop    StopCmd    `cmd:"" help:"Signal a running loop to stop after the current iteration."`
	Status  StatusCmd  `cmd:"" help:"Show story progress for a workspace."`
	List    ListCmd    `cmd:"" help:"List all workspaces."`
	Archive ArchiveCmd `cmd:"" help:"Archive a stopped workspace."`
	Revise  ReviseCmd  `cmd:"" help:"Create a revision subworkspace from a follow-up PRD."`
	Serve   ServeCmd   `cmd:"" help:"Serve the dashboard for a workspace without running the loop."`
}

// AfterApply registers any prompt overrides before subcommands run.
func (c *CLI) AfterApply() error {
	for _, override := range c.PromptOverrides {
		parts := strings.SplitN(override, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid --prompt-override format %q: expected name=path", override)
		}
		prompts.SetOverride(parts[0], parts[1])
	}
	return nil
}

// NewCmd implements the 'new' subcommand.
type NewCmd struct {
	Project  string `arg:"" help:"Project the workspace belongs to."`
	Name     string `arg:"" help:"Workspace name."`
	PRD      string `arg:"" help:"Path to the PRD markdown file." type:"existingfile"`
	Dir      string `help:"Directory the agent works in." default:"." name:"dir"`
	Branch   string `help:"Branch name recorded for the workspace. Defaults to william/<name>."`
	Worktree string `help:"Git worktree path, if the target directory is a worktree."`
}

func (n *NewCmd) Run(globals *CLI) error {
	branch := n.Branch
	if branch == "" {
		// Record the target directory's checked-out branch; fall back to a
		// derived name outside a git repository.
		if current, err := git.CurrentBranch(n.Dir); err == nil && current != "" {
			branch = current
		} else {
			branch = "william/" + n.Name
		}
	}
	dir, err := workspace.Create(globals.Root, workspace.CreateOptions{
		Project:      n.Project,
		Name:         n.Name,
		PRDSource:    n.PRD,
		TargetDir:    n.Dir,
		BranchName:   branch,
		WorktreePath: n.Worktree,
	}, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Created workspace %s/%s at %s\n", n.Project, n.Name, dir)
	return nil
}

// StartCmd implements the 'start' subcommand.
type StartCmd struct {
	Workspace     string `arg:"" help:"Workspace reference: name, project/name, or project/name/revision-N."`
	MaxIterations int    `help:"Maximum loop iterations before giving up." name:"max-iterations"`
	SleepMs       int    `help:"Milliseconds to sleep between iterations." name:"sleep-ms"`
	Tool          string `help:"Agent tool adapter to use."`
	UI            bool   `help:"Start the web dashboard alongside the loop."`
	Port          int    `help:"Port for the web dashboard."`
	NotifyCommand string `help:"Command run with (title, message) on escalations." name:"notify-command"`
}

func (s *StartCmd) Run(globals *CLI) error {
	dir, err := workspace.Resolve(globals.Root, s.Workspace)
	if err != nil {
		return err
	}
	if workspace.Paused(dir) {
		return fmt.Errorf("workspace %s is paused; remove %s to resume", s.Workspace, workspace.PausedFile)
	}
	// A leftover stop sentinel from a previous run would make the loop exit
	// immediately; clear it on an explicit start.
	os.Remove(workspace.StoppedPath(dir))

	cfg, err := config.Load(globals.Root)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	maxIter := firstInt(s.MaxIterations, cfg.MaxIterations, loop.DefaultMaxIterations)
	sleepMs := firstInt(s.SleepMs, cfg.SleepMs, int(loop.DefaultSleep/time.Millisecond))
	tool := firstString(s.Tool, cfg.Tool, "claude")
	port := firstInt(s.Port, cfg.Port, 8484)
	notifyCmd := firstString(s.NotifyCommand, cfg.NotifyCommand, "")

	adapter, err := agent.New(tool)
	if err != nil {
		return err
	}

	logger, err := logging.New(workspace.DebugLogPath(dir), globals.Verbose)
	if err != nil {
		return fmt.Errorf("opening debug log: %w", err)
	}
	defer logger.Sync()

	var notifier notify.Notifier = notify.Nop{}
	if notifyCmd != "" {
		notifier = notify.New(notifyCmd, logger)
	}

	em := ui.Multi{ui.NewConsole(os.Stdout)}
	var srv *web.Server
	if s.UI {
		hub := web.NewHub()
		em = append(em, hub)
		srv, err = web.NewServer(dir, port, hub)
		if err != nil {
			return err
		}
		srv.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := loop.Run(ctx, loop.Options{
		Workspace:     s.Workspace,
		Dir:           dir,
		Adapter:       adapter,
		MaxIterations: maxIter,
		Sleep:         time.Duration(sleepMs) * time.Millisecond,
		Detector:      stuck.New(dir, notifier, logger),
		Logger:        logger,
	}, em)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		srv.Shutdown(shutdownCtx)
		cancel()
	}
	return runErr
}

// StopCmd implements the 'stop' subcommand.
type StopCmd struct {
	Workspace string `arg:"" help:"Workspace reference."`
}

func (s *StopCmd) Run(globals *CLI) error {
	dir, err := workspace.Resolve(globals.Root, s.Workspace)
	if err != nil {
		return err
	}
	if err := workspace.Stop(dir, time.Now()); err != nil {
		return err
	}
	fmt.Printf("Stop signal written; %s will exit after the current iteration.\n", s.Workspace)
	return nil
}

// StatusCmd implements the 'status' subcommand.
type StatusCmd struct {
	Workspace string `arg:"" optional:"" help:"Workspace reference. Omit to summarize all workspaces."`
}

func (s *StatusCmd) Run(globals *CLI) error {
	if s.Workspace == "" {
		return listWorkspaces(globals.Root, "")
	}

	dir, err := workspace.Resolve(globals.Root, s.Workspace)
	if err != nil {
		return err
	}
	st, err := state.Load(workspace.StatePath(dir))
	if err != nil {
		return err
	}

	passed, skipped, total := st.Counts()
	fmt.Printf("%s/%s  branch %s\n", st.Project, st.Workspace, st.BranchName)
	fmt.Printf("  %d/%d passed", passed, total)
	if skipped > 0 {
		fmt.Printf(", %d skipped", skipped)
	}
	fmt.Println()
	switch {
	case workspace.Paused(dir):
		fmt.Println("  state: paused")
	case workspace.Stopped(dir):
		fmt.Println("  state: stopped")
	}

	cur := st.Current()
	for _, id := range st.Stories.IDs() {
		entry, _ := st.Stories.Get(id)
		symbol := "·"
		switch entry.Passes {
		case state.Passed:
			symbol = "✓"
		case state.Skipped:
			symbol = "⊘"
		}
		line := fmt.Sprintf("  %s %s", symbol, id)
		if entry.Attempts > 0 && !entry.Passes.Terminal() {
			line += fmt.Sprintf(" (%d attempts)", entry.Attempts)
		}
		if id == cur {
			line += "  ← current"
		}
		fmt.Println(line)
	}
	return nil
}

// ListCmd implements the 'list' subcommand.
type ListCmd struct {
	Project string `arg:"" optional:"" help:"Only list workspaces of this project."`
}

func (l *ListCmd) Run(globals *CLI) error {
	return listWorkspaces(globals.Root, l.Project)
}

func listWorkspaces(root, project string) error {
	infos, err := workspace.List(root)
	if err != nil {
		return err
	}
	shown := 0
	for _, info := range infos {
		if project != "" && info.Project != project {
			continue
		}
		st, err := state.Load(workspace.StatePath(info.Dir))
		if err != nil {
			fmt.Printf("%-40s (unreadable: %v)\n", info.Ref(), err)
			continue
		}
		passed, skipped, total := st.Counts()
		status := fmt.Sprintf("%d/%d passed", passed, total)
		if skipped > 0 {
			status += fmt.Sprintf(", %d skipped", skipped)
		}
		switch {
		case workspace.Paused(info.Dir):
			status += "  [paused]"
		case workspace.Stopped(info.Dir):
			status += "  [stopped]"
		}
		fmt.Printf("%-40s %s\n", info.Ref(), status)
		shown++
	}
	if shown == 0 {
		fmt.Println("No workspaces found.")
	}
	return nil
}

// ArchiveCmd implements the 'archive' subcommand.
type ArchiveCmd struct {
	Workspace string `arg:"" help:"Workspace reference. Must be stopped first."`
}

func (a *ArchiveCmd) Run(globals *CLI) error {
	dir, err := workspace.Resolve(globals.Root, a.Workspace)
	if err != nil {
		return err
	}
	dest, err := workspace.Archive(globals.Root, dir, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Archived %s to %s\n", a.Workspace, dest)
	return nil
}

// ReviseCmd implements the 'revise' subcommand.
type ReviseCmd struct {
	Workspace string `arg:"" help:"Parent workspace reference."`
	PRD       string `arg:"" help:"Path to the revision PRD markdown file." type:"existingfile"`
}

func (r *ReviseCmd) Run(globals *CLI) error {
	parentDir, err := workspace.Resolve(globals.Root, r.Workspace)
	if err != nil {
		return err
	}
	dir, err := workspace.CreateRevision(parentDir, r.PRD, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Created revision workspace at %s\n", dir)
	return nil
}

// ServeCmd implements the 'serve' subcommand.
type ServeCmd struct {
	Workspace string `arg:"" help:"Workspace reference."`
	Port      int    `help:"Port for the web dashboard."`
}

func (s *ServeCmd) Run(globals *CLI) error {
	dir, err := workspace.Resolve(globals.Root, s.Workspace)
	if err != nil {
		return err
	}
	cfg, err := config.Load(globals.Root)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	port := firstInt(s.Port, cfg.Port, 8484)

	srv, err := web.NewServer(dir, port, nil)
	if err != nil {
		return err
	}
	srv.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// firstInt returns the first non-zero value, so CLI flags win over the config
// file, which wins over the built-in default.
func firstInt(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("william"),
		kong.Description("Autonomous PRD-driven iteration engine: parses a PRD into stories, drives a coding agent through them one at a time, and tracks durable per-story state."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "[william] Error: %v\n", err)
		os.Exit(1)
	}
}
