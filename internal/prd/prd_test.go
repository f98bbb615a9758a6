package prd

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

const samplePRD = `# Feature: Widget Import

## Introduction

Import widgets from CSV files.

## Goals

- Fast imports
- Clear errors

## Non-Goals

- Excel support

## Technical Considerations

Use streaming parsing.

## User Stories

### Phase 1: Foundation

#### US-001: Parse CSV header

**Description:** As a user, I want the header row validated
so that malformed files fail early.

**Acceptance Criteria:**

- [ ] Rejects files without a header
- [ ] Reports the missing columns

#### ✓ US-002: Stream rows

**Description:** Rows are processed one at a time.

**Acceptance Criteria:**

- [x] Memory stays flat for large files

### Phase 2: Polish

#### US-003: Progress reporting

**Acceptance Criteria:**

- Emits a progress event every 100 rows

## Open Questions

- Should duplicates be merged?
`

func TestParseSections(t *testing.T) {
	p := Parse(samplePRD)

	if p.Title != "Feature: Widget Import" {
		t.Errorf("title = %q, want %q", p.Title, "Feature: Widget Import")
	}
	if p.Sections.Introduction != "Import widgets from CSV files." {
		t.Errorf("introduction = %q", p.Sections.Introduction)
	}
	if p.Sections.Goals != "- Fast imports\n- Clear errors" {
		t.Errorf("goals = %q", p.Sections.Goals)
	}
	if p.Sections.NonGoals != "- Excel support" {
		t.Errorf("nonGoals = %q", p.Sections.NonGoals)
	}
	if p.Sections.TechnicalConsiderations != "Use streaming parsing." {
		t.Errorf("technicalConsiderations = %q", p.Sections.TechnicalConsiderations)
	}
	if p.Sections.OpenQuestions != "- Should duplicates be merged?" {
		t.Errorf("openQuestions = %q", p.Sections.OpenQuestions)
	}
	if p.Sections.SuccessMetrics != "" {
		t.Errorf("successMetrics should be empty, got %q", p.Sections.SuccessMetrics)
	}
}

func TestParseStories(t *testing.T) {
	p := Parse(samplePRD)

	want := []string{"US-001", "US-002", "US-003"}
	if got := p.StoryIDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("story ids = %v, want %v", got, want)
	}

	s := p.FindStory("US-001")
	if s == nil {
		t.Fatal("US-001 not found")
	}
	if s.Title != "Parse CSV header" {
		t.Errorf("title = %q", s.Title)
	}
	wantDesc := "As a user, I want the header row validated\nso that malformed files fail early."
	if s.Description != wantDesc {
		t.Errorf("description = %q, want %q", s.Description, wantDesc)
	}
	wantAC := []string{
		"- [ ] Rejects files without a header",
		"- [ ] Reports the missing columns",
	}
	if !reflect.DeepEqual(s.AcceptanceCriteria, wantAC) {
		t.Errorf("criteria = %v, want %v", s.AcceptanceCriteria, wantAC)
	}
}

func TestParseCheckMarkStripped(t *testing.T) {
	p := Parse(samplePRD)
	s := p.FindStory("US-002")
	if s == nil {
		t.Fatal("US-002 not found")
	}
	if s.Title != "Stream rows" {
		t.Errorf("title = %q, want %q", s.Title, "Stream rows")
	}
}

func TestParseStoryRaw(t *testing.T) {
	p := Parse(samplePRD)
	s := p.FindStory("US-003")
	if s == nil {
		t.Fatal("US-003 not found")
	}
	// Raw preserves the original heading line and the block body.
	want := "#### US-003: Progress reporting\n\n**Acceptance Criteria:**\n\n- Emits a progress event every 100 rows"
	if s.Raw != want {
		t.Errorf("raw = %q, want %q", s.Raw, want)
	}
	if s.Description != "" {
		t.Errorf("description should be empty, got %q", s.Description)
	}
}

func TestParsePhaseHeadingsSkipped(t *testing.T) {
	p := Parse(samplePRD)
	for _, s := range p.Stories {
		if phasePattern.MatchString(s.Title) {
			t.Errorf("phase heading leaked into stories: %q", s.Title)
		}
	}
	if len(p.Stories) != 3 {
		t.Errorf("stories = %d, want 3", len(p.Stories))
	}
}

func TestParseSequentialFallbackIDs(t *testing.T) {
	md := `## User Stories

### Set up the database

**Acceptance Criteria:**

- Schema migrates cleanly

### Add the API:

**Acceptance Criteria:**

- Returns JSON
`
	p := Parse(md)
	want := []string{"US-001", "US-002"}
	if got := p.StoryIDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("story ids = %v, want %v", got, want)
	}
	if p.Stories[0].Title != "Set up the database" {
		t.Errorf("title = %q", p.Stories[0].Title)
	}
	// Trailing colon on the heading is dropped.
	if p.Stories[1].Title != "Add the API" {
		t.Errorf("title = %q", p.Stories[1].Title)
	}
}

func TestParseHeadingVariants(t *testing.T) {
	// Section headings match case-insensitively and tolerate hyphens.
	md := `## non-goals

Nothing fancy.

## USER STORIES

### US-010: Only story
`
	p := Parse(md)
	if p.Sections.NonGoals != "Nothing fancy." {
		t.Errorf("nonGoals = %q", p.Sections.NonGoals)
	}
	if len(p.Stories) != 1 || p.Stories[0].ID != "US-010" {
		t.Errorf("stories = %v", p.StoryIDs())
	}
}

func TestParseNeverFails(t *testing.T) {
	for _, md := range []string{
		"",
		"no headings at all",
		"## User Stories\n\nprose without any story headings",
		"# Title only",
	} {
		p := Parse(md)
		if p == nil {
			t.Fatalf("Parse(%q) returned nil", md)
		}
		if len(p.Stories) != 0 {
			t.Errorf("Parse(%q) found %d stories, want 0", md, len(p.Stories))
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prd.md")
	if err := os.WriteFile(path, []byte(samplePRD), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(p.Stories) != 3 {
		t.Errorf("stories = %d, want 3", len(p.Stories))
	}
}

func TestLoadNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/prd.md"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFindStoryMissing(t *testing.T) {
	p := Parse(samplePRD)
	if s := p.FindStory("US-999"); s != nil {
		t.Errorf("FindStory(US-999) = %+v, want nil", s)
	}
}
