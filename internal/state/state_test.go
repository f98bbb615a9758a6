package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/radvoogh/william/internal/prd"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func testState() State {
	p := prd.Parse(`## User Stories

### US-001: First

### US-002: Second

### US-003: Third
`)
	return InitFromPRD(p, Meta{
		Workspace:  "widget-import",
		Project:    "acme",
		TargetDir:  "/src/acme",
		BranchName: "feature/widget-import",
		SourceFile: "/src/acme/tasks/prd.md",
	}, testNow)
}

func TestInitFromPRD(t *testing.T) {
	st := testState()

	if got := st.Stories.IDs(); !reflect.DeepEqual(got, []string{"US-001", "US-002", "US-003"}) {
		t.Fatalf("story order = %v", got)
	}
	if st.Current() != "US-001" {
		t.Errorf("current = %q, want US-001", st.Current())
	}
	for _, id := range st.Stories.IDs() {
		s, _ := st.Stories.Get(id)
		if s.Passes != Pending || s.Attempts != 0 {
			t.Errorf("%s = %+v, want pending with 0 attempts", id, s)
		}
	}
	if st.StartedAt != "2026-03-14T09:30:00Z" {
		t.Errorf("startedAt = %q", st.StartedAt)
	}
}

func TestInitFromPRDEmpty(t *testing.T) {
	st := InitFromPRD(prd.Parse(""), Meta{Workspace: "w"}, testNow)
	if st.Current() != "" {
		t.Errorf("current = %q, want empty", st.Current())
	}
}

func TestMarkComplete(t *testing.T) {
	st := testState()

	next, err := st.MarkComplete("US-001", testNow)
	if err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}

	s, _ := next.Stories.Get("US-001")
	if s.Passes != Passed {
		t.Errorf("passes = %q, want passed", s.Passes)
	}
	if s.CompletedAt != "2026-03-14T09:30:00Z" {
		t.Errorf("completedAt = %q", s.CompletedAt)
	}
	if next.Current() != "US-002" {
		t.Errorf("current = %q, want US-002", next.Current())
	}

	// Input state is untouched.
	if st.Current() != "US-001" {
		t.Errorf("original current mutated to %q", st.Current())
	}
	if s, _ := st.Stories.Get("US-001"); s.Passes != Pending {
		t.Errorf("original entry mutated to %q", s.Passes)
	}
}

func TestMarkCompleteMonotonic(t *testing.T) {
	st := testState()
	skipped, err := st.MarkSkipped("US-001", "gave up", testNow)
	if err != nil {
		t.Fatalf("MarkSkipped: %v", err)
	}

	// Completing a skipped story leaves it skipped.
	next, err := skipped.MarkComplete("US-001", testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	s, _ := next.Stories.Get("US-001")
	if s.Passes != Skipped {
		t.Errorf("passes = %q, want skipped (terminal states never regress)", s.Passes)
	}
	if s.SkipReason != "gave up" {
		t.Errorf("skipReason = %q", s.SkipReason)
	}
}

func TestMarkSkippedAdvancesCurrent(t *testing.T) {
	st := testState()
	next, err := st.MarkSkipped("US-001", "blocked on credentials", testNow)
	if err != nil {
		t.Fatalf("MarkSkipped: %v", err)
	}
	if next.Current() != "US-002" {
		t.Errorf("current = %q, want US-002", next.Current())
	}
}

func TestIncrementAttempts(t *testing.T) {
	st := testState()
	next, err := st.IncrementAttempts("US-001", testNow)
	if err != nil {
		t.Fatalf("IncrementAttempts: %v", err)
	}
	s, _ := next.Stories.Get("US-001")
	if s.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", s.Attempts)
	}
	if s.LastAttempt != "2026-03-14T09:30:00Z" {
		t.Errorf("lastAttempt = %q", s.LastAttempt)
	}
	// Attempts survive completion.
	done, err := next.MarkComplete("US-001", testNow)
	if err != nil {
		t.Fatalf("MarkComplete: %v", err)
	}
	if s, _ := done.Stories.Get("US-001"); s.Attempts != 1 {
		t.Errorf("attempts after completion = %d, want 1", s.Attempts)
	}
}

func TestTransitionUnknownStory(t *testing.T) {
	st := testState()
	if _, err := st.MarkComplete("US-999", testNow); err == nil {
		t.Fatal("expected error for unknown story")
	}
	if _, err := st.IncrementAttempts("US-999", testNow); err == nil {
		t.Fatal("expected error for unknown story")
	}
}

func TestCurrentSkipsTerminal(t *testing.T) {
	st := testState()
	st, _ = st.MarkComplete("US-001", testNow)
	st, _ = st.MarkSkipped("US-002", "x", testNow)
	if st.Current() != "US-003" {
		t.Errorf("current = %q, want US-003", st.Current())
	}
	st, _ = st.MarkComplete("US-003", testNow)
	if st.Current() != "" {
		t.Errorf("current = %q, want empty when all terminal", st.Current())
	}
}

func TestCounts(t *testing.T) {
	st := testState()
	st, _ = st.MarkComplete("US-001", testNow)
	st, _ = st.MarkSkipped("US-002", "x", testNow)

	passed, skipped, total := st.Counts()
	if passed != 1 || skipped != 1 || total != 3 {
		t.Errorf("counts = %d/%d/%d, want 1/1/3", passed, skipped, total)
	}
}

func TestPassesEncoding(t *testing.T) {
	st := testState()
	st, _ = st.MarkComplete("US-001", testNow)
	st, _ = st.MarkSkipped("US-002", "stuck", testNow)

	data, err := json.Marshal(&st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, `"passes":true`) {
		t.Errorf("passed story not encoded as true: %s", text)
	}
	if !strings.Contains(text, `"passes":"skipped"`) {
		t.Errorf("skipped story not encoded as \"skipped\": %s", text)
	}
	if !strings.Contains(text, `"passes":false`) {
		t.Errorf("pending story not encoded as false: %s", text)
	}
}

func TestStoryMapOrderRoundTrip(t *testing.T) {
	st := testState()
	st, _ = st.MarkComplete("US-001", testNow)

	data, err := json.Marshal(&st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var loaded State
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := loaded.Stories.IDs(); !reflect.DeepEqual(got, st.Stories.IDs()) {
		t.Errorf("order after round trip = %v, want %v", got, st.Stories.IDs())
	}
	s, _ := loaded.Stories.Get("US-001")
	if s.Passes != Passed {
		t.Errorf("passes after round trip = %q", s.Passes)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	st := testState()
	st, _ = st.IncrementAttempts("US-001", testNow)
	if err := Save(path, &st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Pretty-printed with a trailing newline.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "\n  ") {
		t.Error("saved state is not indented")
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("saved state has no trailing newline")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Workspace != "widget-import" || loaded.Project != "acme" {
		t.Errorf("identity = %s/%s", loaded.Project, loaded.Workspace)
	}
	if loaded.Current() != "US-001" {
		t.Errorf("current = %q", loaded.Current())
	}
	s, _ := loaded.Stories.Get("US-001")
	if s.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", s.Attempts)
	}

	// Atomic write leaves no temp files behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestLoadRecomputesCurrent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	st := testState()
	st, _ = st.MarkComplete("US-001", testNow)
	// Persist with a stale currentStory.
	stale := "US-001"
	st.CurrentStory = &stale
	if err := Save(path, &st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Current() != "US-002" {
		t.Errorf("current = %q, want recomputed US-002", loaded.Current())
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load("/nonexistent/state.json"); err == nil {
		t.Fatal("expected error for missing file")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
