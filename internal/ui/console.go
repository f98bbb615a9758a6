package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Console renders events as plain text lines. It is the default renderer for
// `william start` when no richer UI is attached.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a console emitter writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) line(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}

func (c *Console) System(text string) { c.line("[system] %s", text) }

func (c *Console) AssistantText(text string) {
	text = strings.TrimSpace(text)
	if text != "" {
		c.line("%s", text)
	}
}

func (c *Console) Error(text string)             { c.line("[error] %s", text) }
func (c *Console) ToolCall(name, summary string) { c.line("[tool] %s %s", name, summary) }
func (c *Console) ThinkingStart()                {}
func (c *Console) ThinkingStop()                 {}

func (c *Console) Result(costUSD float64, inputTokens, outputTokens, durationMS int) {
	c.line("[result] cost=$%.4f tokens=%d/%d duration=%.1fs",
		costUSD, inputTokens, outputTokens, float64(durationMS)/1000)
}

func (c *Console) DashboardUpdate(f Frame) {
	c.line("[dashboard] %s %s iter %d/%d stories %d/%d (%d skipped) attempts=%d stuck=%s files=%d cost=$%.4f",
		f.Workspace, f.StoryID, f.Iteration, f.MaxIterations,
		f.Passed, f.Total, f.Skipped, f.Attempts, f.StuckStatus, f.FilesModified, f.CostUSD)
}

func (c *Console) StoryStart(id, title string)    { c.line("[story] ▶ %s: %s", id, title) }
func (c *Console) StoryComplete(id, title string) { c.line("[story] ✓ %s: %s", id, title) }
func (c *Console) StorySkipped(id, title string)  { c.line("[story] ⊘ %s: %s", id, title) }
