package stream

import (
	"reflect"
	"strings"
	"testing"
)

const sampleStream = `{"type":"system","subtype":"init","session_id":"s1","model":"opus"}
{"type":"assistant","message":{"content":[{"type":"text","text":"Looking at the tests. "}]}}
{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"go test ./..."}}]}}
{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"ok","is_error":false}]}}
{"type":"assistant","message":{"content":[{"type":"text","text":"All green."},{"type":"tool_use","id":"t2","name":"Write","input":{"file_path":"main.go","content":"package main"}}]}}
{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t2","content":[{"type":"text","text":"written"}],"is_error":false}]}}
{"type":"result","subtype":"success","total_cost_usd":0.1,"usage":{"input_tokens":1200,"output_tokens":340},"duration_ms":45000,"num_turns":6,"session_id":"s1"}
`

func feedAll(t *testing.T, data string, chunkSize int) *Session {
	t.Helper()
	p := NewParser(nil, func(line string, err error) {
		t.Errorf("unexpected parse error on %q: %v", line, err)
	})
	for i := 0; i < len(data); i += chunkSize {
		end := i + chunkSize
		if end > len(data) {
			end = len(data)
		}
		p.Feed([]byte(data[i:end]))
	}
	p.Flush()
	return p.Session()
}

func TestParserSession(t *testing.T) {
	s := feedAll(t, sampleStream, len(sampleStream))

	if s.SessionID != "s1" {
		t.Errorf("sessionID = %q, want s1", s.SessionID)
	}
	if s.FullText != "Looking at the tests. All green." {
		t.Errorf("fullText = %q", s.FullText)
	}
	if len(s.Events) != 7 {
		t.Errorf("events = %d, want 7", len(s.Events))
	}
	if len(s.ToolUses) != 2 {
		t.Fatalf("toolUses = %d, want 2", len(s.ToolUses))
	}
	if s.ToolUses[0].Name != "Bash" || s.ToolUses[0].Input["command"] != "go test ./..." {
		t.Errorf("toolUses[0] = %+v", s.ToolUses[0])
	}
	if len(s.ToolResults) != 2 {
		t.Fatalf("toolResults = %d, want 2", len(s.ToolResults))
	}
	if s.ToolResults[0].Content != "ok" {
		t.Errorf("string result = %q", s.ToolResults[0].Content)
	}
	if s.ToolResults[1].Content != "written" {
		t.Errorf("array result = %q", s.ToolResults[1].Content)
	}
	if s.TotalCostUSD != 0.1 {
		t.Errorf("cost = %v, want 0.1", s.TotalCostUSD)
	}
	if s.InputTokens != 1200 || s.OutputTokens != 340 {
		t.Errorf("tokens = %d/%d", s.InputTokens, s.OutputTokens)
	}
	if s.DurationMS != 45000 || s.NumTurns != 6 {
		t.Errorf("duration/turns = %d/%d", s.DurationMS, s.NumTurns)
	}
	if s.ResultSubtype != "success" {
		t.Errorf("resultSubtype = %q", s.ResultSubtype)
	}
}

func TestParserChunkBoundaries(t *testing.T) {
	// Byte-at-a-time feeding must produce the same session as one big chunk.
	whole := feedAll(t, sampleStream, len(sampleStream))
	for _, size := range []int{1, 3, 7, 100} {
		chunked := feedAll(t, sampleStream, size)
		if chunked.FullText != whole.FullText {
			t.Errorf("chunk=%d: fullText = %q", size, chunked.FullText)
		}
		if len(chunked.Events) != len(whole.Events) {
			t.Errorf("chunk=%d: events = %d, want %d", size, len(chunked.Events), len(whole.Events))
		}
		if chunked.TotalCostUSD != whole.TotalCostUSD {
			t.Errorf("chunk=%d: cost = %v", size, chunked.TotalCostUSD)
		}
	}
}

func TestParserNoTrailingNewline(t *testing.T) {
	data := strings.TrimRight(sampleStream, "\n")
	p := NewParser(nil, nil)
	p.Feed([]byte(data))
	if got := len(p.Session().Events); got != 6 {
		t.Errorf("events before flush = %d, want 6", got)
	}
	p.Flush()
	if got := len(p.Session().Events); got != 7 {
		t.Errorf("events after flush = %d, want 7", got)
	}
}

func TestParserMalformedLine(t *testing.T) {
	data := `{"type":"assistant","message":{"content":[{"type":"text","text":"one"}]}}
this is not json
{"type":"assistant","message":{"content":[{"type":"text","text":"two"}]}}
`
	var badLines []string
	p := NewParser(nil, func(line string, err error) {
		badLines = append(badLines, line)
	})
	p.Feed([]byte(data))
	p.Flush()

	s := p.Session()
	if s.FullText != "onetwo" {
		t.Errorf("fullText = %q, want onetwo", s.FullText)
	}
	if len(s.Events) != 2 {
		t.Errorf("events = %d, want 2", len(s.Events))
	}
	if !reflect.DeepEqual(badLines, []string{"this is not json"}) {
		t.Errorf("badLines = %v", badLines)
	}
}

func TestParserBlankLinesIgnored(t *testing.T) {
	p := NewParser(nil, func(line string, err error) {
		t.Errorf("blank line reported as parse error: %q", line)
	})
	p.Feed([]byte("\n  \n{\"type\":\"result\",\"total_cost_usd\":0.5}\n\n"))
	p.Flush()
	if got := p.Session().TotalCostUSD; got != 0.5 {
		t.Errorf("cost = %v", got)
	}
}

func TestParserOnMessageCallback(t *testing.T) {
	var types []string
	p := NewParser(func(ev Event) {
		types = append(types, ev.Type)
	}, nil)
	p.Feed([]byte(sampleStream))
	p.Flush()

	want := []string{"system", "assistant", "assistant", "user", "assistant", "user", "result"}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("callback order = %v, want %v", types, want)
	}
}

func TestFilesModified(t *testing.T) {
	s := &Session{ToolUses: []ToolUse{
		{Name: "Write", Input: map[string]any{"file_path": "a.go"}},
		{Name: "Bash", Input: map[string]any{"command": "ls"}},
		{Name: "Edit", Input: map[string]any{"file_path": "b.go"}},
		{Name: "Write", Input: map[string]any{"file_path": "a.go"}},
		{Name: "Edit", Input: map[string]any{"path": "c.go"}},
	}}
	want := []string{"a.go", "b.go", "c.go"}
	if got := s.FilesModified(); !reflect.DeepEqual(got, want) {
		t.Errorf("FilesModified = %v, want %v", got, want)
	}
}

func TestAssistantTexts(t *testing.T) {
	s := feedAll(t, sampleStream, len(sampleStream))
	want := []string{"Looking at the tests. ", "All green."}
	if got := s.AssistantTexts(); !reflect.DeepEqual(got, want) {
		t.Errorf("AssistantTexts = %v, want %v", got, want)
	}
}

func TestResultTextFallback(t *testing.T) {
	b := Block{Content: []byte(`{"unexpected":"shape"}`)}
	if got := b.ResultText(); got != `{"unexpected":"shape"}` {
		t.Errorf("ResultText = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate = %q", got)
	}
	if got := Truncate("0123456789abc", 10); got != "0123456789..." {
		t.Errorf("Truncate = %q", got)
	}
}
