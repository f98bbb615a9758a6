package ui

// Multi fans events out to several emitters in order. Wiring is fixed at
// construction; there is no dynamic subscribe/unsubscribe.
type Multi []Emitter

func (m Multi) System(text string) {
	for _, e := range m {
		e.System(text)
	}
}

func (m Multi) AssistantText(text string) {
	for _, e := range m {
		e.AssistantText(text)
	}
}

func (m Multi) Error(text string) {
	for _, e := range m {
		e.Error(text)
	}
}

func (m Multi) ToolCall(name, summary string) {
	for _, e := range m {
		e.ToolCall(name, summary)
	}
}

func (m Multi) ThinkingStart() {
	for _, e := range m {
		e.ThinkingStart()
	}
}

func (m Multi) ThinkingStop() {
	for _, e := range m {
		e.ThinkingStop()
	}
}

func (m Multi) Result(costUSD float64, inputTokens, outputTokens, durationMS int) {
	for _, e := range m {
		e.Result(costUSD, inputTokens, outputTokens, durationMS)
	}
}

func (m Multi) DashboardUpdate(f Frame) {
	for _, e := range m {
		e.DashboardUpdate(f)
	}
}

func (m Multi) StoryStart(id, title string) {
	for _, e := range m {
		e.StoryStart(id, title)
	}
}

func (m Multi) StoryComplete(id, title string) {
	for _, e := range m {
		e.StoryComplete(id, title)
	}
}

func (m Multi) StorySkipped(id, title string) {
	for _, e := range m {
		e.StorySkipped(id, title)
	}
}

// Nop is an emitter that discards everything. Used in tests and as a safe
// default.
type Nop struct{}

func (Nop) System(string)                 {}
func (Nop) AssistantText(string)          {}
func (Nop) Error(string)                  {}
func (Nop) ToolCall(string, string)       {}
func (Nop) ThinkingStart()                {}
func (Nop) ThinkingStop()                 {}
func (Nop) Result(float64, int, int, int) {}
func (Nop) DashboardUpdate(Frame)         {}
func (Nop) StoryStart(string, string)     {}
func (Nop) StoryComplete(string, string)  {}
func (Nop) StorySkipped(string, string)   {}
