// Package ui defines the one-way event channel from the core to any
// renderer. The core never awaits a response from an emitter; rendering is
// entirely the consumer's concern.
package ui

// Frame is a dashboard snapshot emitted before and after each iteration.
type Frame struct {
	Workspace     string
	StoryID       string
	StoryTitle    string
	Iteration     int
	MaxIterations int
	Passed        int
	Skipped       int
	Total         int
	CostUSD       float64
	InputTokens   int
	OutputTokens  int
	Attempts      int
	StuckStatus   string // "normal", "hint-written", or "approaching-skip"
	FilesModified int
}

// Emitter is the typed event sink the core reports through.
type Emitter interface {
	System(text string)
	AssistantText(text string)
	Error(text string)
	ToolCall(name, summary string)
	ThinkingStart()
	ThinkingStop()
	Result(costUSD float64, inputTokens, outputTokens, durationMS int)
	DashboardUpdate(f Frame)
	StoryStart(id, title string)
	StoryComplete(id, title string)
	StorySkipped(id, title string)
}
