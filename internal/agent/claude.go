package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Claude spawns the Claude Code CLI in streaming-JSON mode. The prompt is
// delivered on stdin; NDJSON events arrive on stdout.
type Claude struct {
	// Path is the claude binary. Defaults to whatever binary discovery
	// finds, falling back to "claude" on PATH.
	Path string
}

// NewClaude creates a Claude adapter with the discovered binary path.
func NewClaude() *Claude {
	return &Claude{Path: findBinary()}
}

// findBinary locates the claude CLI: $CLAUDE_PATH first, then PATH, then the
// usual local install locations.
func findBinary() string {
	if envPath := os.Getenv("CLAUDE_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	if path, err := exec.LookPath("claude"); err == nil {
		return path
	}
	home, _ := os.UserHomeDir()
	for _, loc := range []string{
		filepath.Join(home, ".claude", "local", "claude"),
		filepath.Join(home, ".local", "bin", "claude"),
		"/usr/local/bin/claude",
	} {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return "claude"
}

func (c *Claude) Name() string { return "claude" }

// Spawn starts one agent invocation in cwd. The returned Handle exposes the
// child's stdout and stderr; context cancellation kills the subprocess.
func (c *Claude) Spawn(ctx context.Context, prompt, cwd string) (Handle, error) {
	bin := c.Path
	if bin == "" {
		bin = "claude"
	}

	cmd := exec.CommandContext(ctx, bin,
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--dangerously-skip-permissions",
	)
	cmd.Dir = cwd
	cmd.Stdin = strings.NewReader(prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("agent: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("agent: start %s: %w", bin, err)
	}

	return &childHandle{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// ParseOutput scans the accumulated assistant text for completion sentinels.
func (c *Claude) ParseOutput(raw string) Result {
	return ParseSentinels(raw)
}

// childHandle wraps a started exec.Cmd.
type childHandle struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (h *childHandle) Stdout() io.Reader { return h.stdout }
func (h *childHandle) Stderr() io.Reader { return h.stderr }
func (h *childHandle) Wait() error       { return h.cmd.Wait() }
