// Package agent abstracts over the external coding-agent CLI: how to spawn
// it for one iteration, and how to interpret its accumulated textual output.
package agent

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Completion sentinels scanned for in the agent's accumulated assistant
// text. The match is a case-sensitive substring test.
const (
	StoryCompleteSentinel = "<promise>STORY_COMPLETE</promise>"
	AllCompleteSentinel   = "<promise>ALL_COMPLETE</promise>"
)

// Result is the interpretation of an agent invocation's textual output.
type Result struct {
	StoryComplete bool
	AllComplete   bool
	RawOutput     string
}

// Handle is a running agent child process. Stdout carries the NDJSON event
// stream; stderr carries diagnostics. Wait blocks until the process exits
// and must be called after both streams are drained.
type Handle interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() error
}

// Adapter is the polymorphic surface over a concrete agent CLI.
type Adapter interface {
	Name() string
	Spawn(ctx context.Context, prompt, cwd string) (Handle, error)
	ParseOutput(raw string) Result
}

// ParseSentinels performs the shared sentinel scan. ALL_COMPLETE implies
// STORY_COMPLETE.
func ParseSentinels(raw string) Result {
	res := Result{RawOutput: raw}
	if strings.Contains(raw, AllCompleteSentinel) {
		res.StoryComplete = true
		res.AllComplete = true
		return res
	}
	if strings.Contains(raw, StoryCompleteSentinel) {
		res.StoryComplete = true
	}
	return res
}

// New returns the adapter registered under the given name.
func New(name string) (Adapter, error) {
	switch name {
	case "", "claude":
		return NewClaude(), nil
	default:
		return nil, fmt.Errorf("agent: unknown tool adapter %q", name)
	}
}
