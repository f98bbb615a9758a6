// Package chain derives a compact summary of a completed agent session
// (files touched, commands run, errors, recent decisions, usage totals) and
// formats it for injection into the next story's prompt.
package chain

import (
	"fmt"
	"strings"

	"github.com/radvoogh/william/internal/stream"
)

// Display limits for the formatted block.
const (
	maxFiles        = 15
	maxCommands     = 20
	maxErrors       = 10
	maxDecisions    = 5
	errorExtractLen = 300
	commandLen      = 200
	errorDisplayLen = 200
	decisionLen     = 500
)

// Context is the derived summary of one session.
type Context struct {
	FilesModified []string
	FilesRead     []string
	CommandsRun   []string
	Errors        []string
	KeyDecisions  []string
	TotalCostUSD  float64
	InputTokens   int
	OutputTokens  int
	DurationMS    int
}

// Extract builds a Context from a session. Lists are deduplicated with
// insertion order preserved.
func Extract(s *stream.Session) Context {
	ctx := Context{
		TotalCostUSD: s.TotalCostUSD,
		InputTokens:  s.InputTokens,
		OutputTokens: s.OutputTokens,
		DurationMS:   s.DurationMS,
	}

	addUnique := func(list *[]string, seen map[string]bool, v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			*list = append(*list, v)
		}
	}

	modified := make(map[string]bool)
	read := make(map[string]bool)
	commands := make(map[string]bool)

	for _, tu := range s.ToolUses {
		switch tu.Name {
		case "Write", "Edit":
			addUnique(&ctx.FilesModified, modified, stringValue(tu.Input, "file_path", "path"))
		case "Read":
			addUnique(&ctx.FilesRead, read, stringValue(tu.Input, "file_path", "path"))
		case "Bash":
			addUnique(&ctx.CommandsRun, commands, stringValue(tu.Input, "command"))
		}
	}

	for _, tr := range s.ToolResults {
		if tr.IsError {
			ctx.Errors = append(ctx.Errors,
				fmt.Sprintf("[%s] %s", tr.ToolUseID, truncate(tr.Content, errorExtractLen)))
		}
	}

	texts := s.AssistantTexts()
	if len(texts) > maxDecisions {
		texts = texts[len(texts)-maxDecisions:]
	}
	ctx.KeyDecisions = texts

	return ctx
}

// Format renders the context as a Markdown block for the next iteration's
// prompt. Subsections appear only when non-empty; session stats always do.
func Format(ctx Context, storyID string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Chain Context from %s\n", storyID)

	writeList := func(title string, items []string, max, limit int, backtick bool) {
		if len(items) == 0 {
			return
		}
		if len(items) > max {
			items = items[:max]
		}
		fmt.Fprintf(&sb, "\n### %s\n\n", title)
		for _, item := range items {
			item = truncate(item, limit)
			if backtick {
				fmt.Fprintf(&sb, "- `%s`\n", item)
			} else {
				fmt.Fprintf(&sb, "- %s\n", item)
			}
		}
	}

	writeList("Files Modified", ctx.FilesModified, maxFiles, 0, true)
	writeList("Files Referenced", ctx.FilesRead, maxFiles, 0, true)
	writeList("Commands Run", ctx.CommandsRun, maxCommands, commandLen, true)
	writeList("Errors Encountered", ctx.Errors, maxErrors, errorDisplayLen, false)
	writeList("Key Decisions", ctx.KeyDecisions, maxDecisions, decisionLen, false)

	fmt.Fprintf(&sb, "\n### Session Stats\n\n")
	fmt.Fprintf(&sb, "- Cost: $%.4f\n", ctx.TotalCostUSD)
	fmt.Fprintf(&sb, "- Tokens: %d in / %d out\n", ctx.InputTokens, ctx.OutputTokens)
	fmt.Fprintf(&sb, "- Duration: %.1fs\n", float64(ctx.DurationMS)/1000)

	return strings.TrimRight(sb.String(), "\n")
}

// truncate limits s to max characters with an ellipsis; max <= 0 means no
// limit.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func stringValue(input map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := input[key].(string); ok {
			return v
		}
	}
	return ""
}
