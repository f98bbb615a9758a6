// Package state holds the durable per-workspace state: which stories have
// passed, been skipped, or are still pending, and how many attempts each has
// consumed. Transitions are pure (value in, value out); persistence is a
// separate atomic write of pretty-printed JSON so external tooling can read
// state.json at any time and see a consistent snapshot.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/radvoogh/william/internal/prd"
)

// Passes is the tri-state completion marker of a story. It serializes as
// false, true, or the string "skipped".
type Passes string

const (
	Pending Passes = "pending"
	Passed  Passes = "passed"
	Skipped Passes = "skipped"
)

// Terminal reports whether the story can no longer change state.
func (p Passes) Terminal() bool {
	return p == Passed || p == Skipped
}

// MarshalJSON encodes Pending as false, Passed as true, and Skipped as the
// string "skipped".
func (p Passes) MarshalJSON() ([]byte, error) {
	switch p {
	case Passed:
		return []byte("true"), nil
	case Skipped:
		return []byte(`"skipped"`), nil
	default:
		return []byte("false"), nil
	}
}

// UnmarshalJSON accepts true, false, or "skipped".
func (p *Passes) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true":
		*p = Passed
	case "false":
		*p = Pending
	case `"skipped"`:
		*p = Skipped
	default:
		return fmt.Errorf("state: invalid passes value: %s", data)
	}
	return nil
}

// StoryState tracks one story's progress. Attempts never decreases, and once
// Passes is terminal it never returns to Pending.
type StoryState struct {
	Passes      Passes `json:"passes"`
	Attempts    int    `json:"attempts"`
	CompletedAt string `json:"completedAt,omitempty"`
	LastAttempt string `json:"lastAttempt,omitempty"`
	SkipReason  string `json:"skipReason,omitempty"`
}

// StoryMap is an id → StoryState mapping that preserves PRD order across JSON
// round-trips. A plain Go map would lose the order.
type StoryMap struct {
	order  []string
	states map[string]StoryState
}

// NewStoryMap builds an empty StoryMap.
func NewStoryMap() StoryMap {
	return StoryMap{states: make(map[string]StoryState)}
}

// Set inserts or replaces a story entry, appending new ids to the order.
func (m *StoryMap) Set(id string, s StoryState) {
	if m.states == nil {
		m.states = make(map[string]StoryState)
	}
	if _, ok := m.states[id]; !ok {
		m.order = append(m.order, id)
	}
	m.states[id] = s
}

// Get returns the entry for id and whether it exists.
func (m *StoryMap) Get(id string) (StoryState, bool) {
	s, ok := m.states[id]
	return s, ok
}

// IDs returns the story ids in insertion (PRD) order.
func (m *StoryMap) IDs() []string {
	return append([]string(nil), m.order...)
}

// Len returns the number of stories.
func (m *StoryMap) Len() int { return len(m.order) }

// Clone returns a deep copy.
func (m StoryMap) Clone() StoryMap {
	c := NewStoryMap()
	for _, id := range m.order {
		c.Set(id, m.states[id])
	}
	return c
}

// MarshalJSON writes the entries as a JSON object in PRD order.
func (m StoryMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range m.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(m.states[id])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object preserving key order via the token stream.
func (m *StoryMap) UnmarshalJSON(data []byte) error {
	*m = NewStoryMap()
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("state: stories is not an object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("state: story key is not a string")
		}
		var s StoryState
		if err := dec.Decode(&s); err != nil {
			return fmt.Errorf("state: story %q: %w", id, err)
		}
		m.Set(id, s)
	}
	_, err = dec.Token() // closing brace
	return err
}

// Revision records one completed revision pass over a workspace.
type Revision struct {
	Number      int    `json:"number"`
	CompletedAt string `json:"completedAt"`
	ItemCount   int    `json:"itemCount"`
	Path        string `json:"path"`
}

// State is the durable per-workspace state persisted as state.json.
type State struct {
	Workspace       string     `json:"workspace"`
	Project         string     `json:"project"`
	TargetDir       string     `json:"targetDir"`
	BranchName      string     `json:"branchName"`
	SourceFile      string     `json:"sourceFile"`
	WorktreePath    string     `json:"worktreePath,omitempty"`
	ParentWorkspace string     `json:"parentWorkspace,omitempty"`
	RevisionNumber  int        `json:"revisionNumber,omitempty"`
	Revisions       []Revision `json:"revisions,omitempty"`
	Stories         StoryMap   `json:"stories"`
	CurrentStory    *string    `json:"currentStory"`
	StartedAt       string     `json:"startedAt"`
}

// Meta carries the workspace identity used when initializing state.
type Meta struct {
	Workspace       string
	Project         string
	TargetDir       string
	BranchName      string
	SourceFile      string
	WorktreePath    string
	ParentWorkspace string
	RevisionNumber  int
}

// Timestamp formats t the way state.json stores instants.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// InitFromPRD builds a fresh State for a parsed PRD: every story pending with
// zero attempts, currentStory pointing at the first story (or nil when the
// PRD has none).
func InitFromPRD(p *prd.PRD, meta Meta, now time.Time) State {
	st := State{
		Workspace:       meta.Workspace,
		Project:         meta.Project,
		TargetDir:       meta.TargetDir,
		BranchName:      meta.BranchName,
		SourceFile:      meta.SourceFile,
		WorktreePath:    meta.WorktreePath,
		ParentWorkspace: meta.ParentWorkspace,
		RevisionNumber:  meta.RevisionNumber,
		Stories:         NewStoryMap(),
		StartedAt:       Timestamp(now),
	}
	for _, s := range p.Stories {
		st.Stories.Set(s.ID, StoryState{Passes: Pending})
	}
	st.CurrentStory = currentStory(st.Stories)
	return st
}

// currentStory returns the first story id still pending, in PRD order.
func currentStory(m StoryMap) *string {
	for _, id := range m.IDs() {
		if s, _ := m.Get(id); s.Passes == Pending {
			cur := id
			return &cur
		}
	}
	return nil
}

// Current returns the current story id, or "" when all stories are terminal.
func (st *State) Current() string {
	if st.CurrentStory == nil {
		return ""
	}
	return *st.CurrentStory
}

// Counts returns how many stories have passed, been skipped, and exist in
// total.
func (st *State) Counts() (passed, skipped, total int) {
	for _, id := range st.Stories.IDs() {
		s, _ := st.Stories.Get(id)
		switch s.Passes {
		case Passed:
			passed++
		case Skipped:
			skipped++
		}
	}
	return passed, skipped, st.Stories.Len()
}

// MarkComplete returns a new State with the story passed. Attempts are kept;
// terminal entries are left untouched so completion stays monotonic.
func (st State) MarkComplete(id string, now time.Time) (State, error) {
	return st.transition(id, func(s StoryState) StoryState {
		if s.Passes.Terminal() {
			return s
		}
		s.Passes = Passed
		s.CompletedAt = Timestamp(now)
		return s
	})
}

// MarkSkipped returns a new State with the story skipped for the given
// reason.
func (st State) MarkSkipped(id, reason string, now time.Time) (State, error) {
	return st.transition(id, func(s StoryState) StoryState {
		if s.Passes.Terminal() {
			return s
		}
		s.Passes = Skipped
		s.CompletedAt = Timestamp(now)
		s.SkipReason = reason
		return s
	})
}

// IncrementAttempts returns a new State with the story's attempt counter
// bumped and lastAttempt stamped.
func (st State) IncrementAttempts(id string, now time.Time) (State, error) {
	return st.transition(id, func(s StoryState) StoryState {
		s.Attempts++
		s.LastAttempt = Timestamp(now)
		return s
	})
}

// transition applies fn to one story entry on a deep copy of the state and
// recomputes currentStory.
func (st State) transition(id string, fn func(StoryState) StoryState) (State, error) {
	s, ok := st.Stories.Get(id)
	if !ok {
		return st, fmt.Errorf("state: unknown story %q", id)
	}
	out := st
	out.Stories = st.Stories.Clone()
	out.Stories.Set(id, fn(s))
	out.CurrentStory = currentStory(out.Stories)
	return out, nil
}

// Load reads a state.json file. Missing files and malformed JSON are fatal
// for the workspace; the loop refuses to start on them.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("state: reading %s: %w", path, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("state: parsing %s: %w", path, err)
	}
	st.CurrentStory = currentStory(st.Stories)
	return &st, nil
}

// Save writes the state as pretty-printed JSON via a temp file and rename so
// a crash mid-write never leaves a truncated state.json behind.
func Save(path string, st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshaling: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("state: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: replacing %s: %w", path, err)
	}
	return nil
}
