package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/radvoogh/william/internal/agent"
	"github.com/radvoogh/william/internal/ui"
)

const (
	toolSummaryLimit  = 80
	errorContentLimit = 200
)

// Consume binds a spawned agent child to a Parser and the UI emitter. It
// drains stdout into the parser (appending every NDJSON line to logw) and
// stderr into error events, flushes the parser when the child closes, and
// returns the final session. A read failure on stdout destroys the log and
// is returned as the error.
func Consume(h agent.Handle, logw io.WriteCloser, em ui.Emitter) (*Session, error) {
	var logMu sync.Mutex
	logLine := func(b []byte) {
		logMu.Lock()
		defer logMu.Unlock()
		logw.Write(b)
		logw.Write([]byte{'\n'})
	}

	parser := NewParser(
		func(ev Event) {
			logLine(ev.Raw)
			forward(ev, em)
		},
		func(line string, err error) {
			logLine([]byte(line))
			em.Error(fmt.Sprintf("malformed stream line: %v", err))
		},
	)

	// Stderr is drained concurrently so the child never blocks on a full
	// pipe. Lines are forwarded verbatim to the UI and the log.
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		buf := make([]byte, 32*1024)
		for {
			n, err := h.Stderr().Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				logLine(chunk)
				em.Error(string(chunk))
			}
			if err != nil {
				return
			}
		}
	}()

	buf := make([]byte, 64*1024)
	for {
		n, err := h.Stdout().Read(buf)
		if n > 0 {
			parser.Feed(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			<-stderrDone
			logw.Close()
			return nil, fmt.Errorf("stream: reading agent stdout: %w", err)
		}
	}

	<-stderrDone
	waitErr := h.Wait()

	em.ThinkingStop()
	parser.Flush()
	if err := logw.Close(); err != nil {
		return nil, fmt.Errorf("stream: closing iteration log: %w", err)
	}
	if waitErr != nil {
		// A non-zero exit is reported but does not void the session; the
		// agent may exit non-zero after hitting its own turn limit.
		em.Error(fmt.Sprintf("agent process exited with error: %v", waitErr))
	}
	return parser.Session(), nil
}

// forward translates one parsed event into UI emitter calls.
func forward(ev Event, em ui.Emitter) {
	switch ev.Type {
	case "system":
		if ev.Subtype == "init" && ev.Model != "" {
			em.System("model: " + ev.Model)
		}

	case "assistant":
		if ev.Message == nil {
			return
		}
		for _, b := range ev.Message.Content {
			switch b.Type {
			case "text":
				em.AssistantText(b.Text)
			case "tool_use":
				input := map[string]any{}
				_ = json.Unmarshal(b.Input, &input)
				em.ToolCall(b.Name, summarizeInput(input))
			}
		}

	case "user":
		if ev.Message == nil {
			return
		}
		for _, b := range ev.Message.Content {
			if b.Type == "tool_result" && b.IsError {
				em.Error(Truncate(b.ResultText(), errorContentLimit))
			}
		}
		em.ThinkingStart()

	case "result":
		cost := ev.TotalCostUSD
		var in, out int
		if ev.Usage != nil {
			in = ev.Usage.InputTokens
			out = ev.Usage.OutputTokens
		}
		em.Result(cost, in, out, ev.DurationMS)
	}
}

// summarizeInput renders a one-line summary of a tool input, preferring the
// fields users recognize a tool call by.
func summarizeInput(input map[string]any) string {
	for _, key := range []string{"command", "file_path", "pattern", "query"} {
		if v, ok := input[key].(string); ok && v != "" {
			return Truncate(v, toolSummaryLimit)
		}
	}
	// Fall back to the first string value, by sorted key for determinism.
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := input[k].(string); ok && v != "" {
			return Truncate(v, toolSummaryLimit)
		}
	}
	return ""
}

// Truncate limits s to max characters, appending an ellipsis if cut.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
