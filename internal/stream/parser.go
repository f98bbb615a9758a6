// Package stream turns the agent CLI's newline-delimited JSON output into a
// cumulative session record. The parser accepts arbitrary chunk boundaries:
// bytes are buffered until a full line arrives, and a final Flush handles
// streams that do not end in a newline. Malformed lines never corrupt the
// session or stop subsequent parsing.
package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Event is one parsed NDJSON line from the agent's stream-json output.
type Event struct {
	Type      string   `json:"type"`
	Subtype   string   `json:"subtype,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Model     string   `json:"model,omitempty"`
	Message   *Message `json:"message,omitempty"`

	// Result-event fields.
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	Usage        *Usage  `json:"usage,omitempty"`
	DurationMS   int     `json:"duration_ms,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`

	// Raw is the verbatim line, kept for log replication.
	Raw []byte `json:"-"`
}

// Message is the nested API message envelope in assistant and user events.
type Message struct {
	Content []Block `json:"content"`
}

// Block is a polymorphic content element; discriminate on Type.
type Block struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// ResultText extracts a tool_result's content as text. The API sends either
// a plain string or an array of text blocks.
func (b *Block) ResultText() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(b.Content, &blocks); err == nil {
		var texts []string
		for _, blk := range blocks {
			if blk.Text != "" {
				texts = append(texts, blk.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(b.Content)
}

// Usage carries token counts from the result event.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolUse is one tool invocation observed in the session.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult is one tool outcome observed in the session, linked to its
// invocation by ToolUseID.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// Session is the cumulative record of one agent invocation.
type Session struct {
	Events        []Event
	FullText      string
	ToolUses      []ToolUse
	ToolResults   []ToolResult
	TotalCostUSD  float64
	InputTokens   int
	OutputTokens  int
	DurationMS    int
	NumTurns      int
	ResultSubtype string // "" until a result event arrives
	SessionID     string
}

// Parser is a chunk-tolerant NDJSON line parser. Callbacks are wired at
// construction; either may be nil.
type Parser struct {
	buf          []byte
	session      Session
	onMessage    func(Event)
	onParseError func(line string, err error)
}

// NewParser creates a Parser. onMessage fires once per successfully parsed
// line, after the session has been updated; onParseError fires once per
// malformed line with the raw text.
func NewParser(onMessage func(Event), onParseError func(line string, err error)) *Parser {
	return &Parser{onMessage: onMessage, onParseError: onParseError}
}

// Session returns the cumulative session built so far.
func (p *Parser) Session() *Session {
	return &p.session
}

// Feed appends a chunk and parses every completed line in it. The trailing
// partial line (if any) stays buffered until the next chunk or Flush.
func (p *Parser) Feed(chunk []byte) {
	p.buf = append(p.buf, chunk...)
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			return
		}
		line := p.buf[:idx]
		p.buf = p.buf[idx+1:]
		p.parseLine(line)
	}
}

// Flush parses any remaining buffered bytes as a final line. The stream may
// not end in a newline.
func (p *Parser) Flush() {
	if len(p.buf) == 0 {
		return
	}
	line := p.buf
	p.buf = nil
	p.parseLine(line)
}

func (p *Parser) parseLine(line []byte) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}

	var ev Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		if p.onParseError != nil {
			p.onParseError(string(line), err)
		}
		return
	}
	ev.Raw = append([]byte(nil), trimmed...)

	p.session.Events = append(p.session.Events, ev)
	p.dispatch(ev)
	if p.onMessage != nil {
		p.onMessage(ev)
	}
}

// dispatch folds one event into the cumulative session.
func (p *Parser) dispatch(ev Event) {
	switch ev.Type {
	case "system":
		if ev.Subtype == "init" {
			p.session.SessionID = ev.SessionID
		}

	case "assistant":
		if ev.Message == nil {
			return
		}
		for _, b := range ev.Message.Content {
			switch b.Type {
			case "text":
				p.session.FullText += b.Text
			case "tool_use":
				input := map[string]any{}
				// A tool input that fails to decode stays empty rather
				// than dropping the invocation.
				_ = json.Unmarshal(b.Input, &input)
				p.session.ToolUses = append(p.session.ToolUses, ToolUse{
					ID:    b.ID,
					Name:  b.Name,
					Input: input,
				})
			}
		}

	case "user":
		if ev.Message == nil {
			return
		}
		for _, b := range ev.Message.Content {
			if b.Type == "tool_result" {
				p.session.ToolResults = append(p.session.ToolResults, ToolResult{
					ToolUseID: b.ToolUseID,
					Content:   b.ResultText(),
					IsError:   b.IsError,
				})
			}
		}

	case "result":
		p.session.TotalCostUSD = ev.TotalCostUSD
		if ev.Usage != nil {
			p.session.InputTokens = ev.Usage.InputTokens
			p.session.OutputTokens = ev.Usage.OutputTokens
		}
		p.session.DurationMS = ev.DurationMS
		p.session.NumTurns = ev.NumTurns
		p.session.ResultSubtype = ev.Subtype
	}
}

// AssistantTexts returns every non-empty assistant text block in event order.
func (s *Session) AssistantTexts() []string {
	var texts []string
	for _, ev := range s.Events {
		if ev.Type != "assistant" || ev.Message == nil {
			continue
		}
		for _, b := range ev.Message.Content {
			if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
				texts = append(texts, b.Text)
			}
		}
	}
	return texts
}

// FilesModified returns the deduplicated file paths written by Write or Edit
// tool uses, in first-appearance order.
func (s *Session) FilesModified() []string {
	var files []string
	seen := make(map[string]bool)
	for _, tu := range s.ToolUses {
		if tu.Name != "Write" && tu.Name != "Edit" {
			continue
		}
		path := stringInput(tu.Input, "file_path", "path")
		if path != "" && !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}
	return files
}

// stringInput returns the first string value found under the given keys.
func stringInput(input map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := input[key].(string); ok {
			return v
		}
	}
	return ""
}
