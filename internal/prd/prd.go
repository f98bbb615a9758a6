// Package prd parses a Markdown product requirements document into its
// ordered list of user stories and named top-level sections. Parsing is
// tolerant: missing sections produce empty strings and malformed story blocks
// produce best-effort empty fields. The parser never fails on document shape.
package prd

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Story represents a single user story parsed from the PRD.
type Story struct {
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
	// Raw is the verbatim Markdown slice of the story, from its heading to
	// the next story or phase heading, for re-injection into prompts.
	Raw string `json:"raw"`
}

// Sections holds the named top-level sections of the PRD. A section that is
// absent from the document is an empty string, never a missing field.
type Sections struct {
	Introduction            string `json:"introduction"`
	Goals                   string `json:"goals"`
	NonGoals                string `json:"nonGoals"`
	TechnicalConsiderations string `json:"technicalConsiderations"`
	FunctionalRequirements  string `json:"functionalRequirements"`
	DesignConsiderations    string `json:"designConsiderations"`
	SuccessMetrics          string `json:"successMetrics"`
	OpenQuestions           string `json:"openQuestions"`
}

// PRD represents the parsed product requirements document.
type PRD struct {
	Title    string   `json:"title"`
	Sections Sections `json:"sections"`
	Stories  []Story  `json:"stories"`
}

// StoryIDs returns the story identifiers in document order.
func (p *PRD) StoryIDs() []string {
	ids := make([]string, len(p.Stories))
	for i, s := range p.Stories {
		ids[i] = s.ID
	}
	return ids
}

// FindStory returns the story with the given id, or nil.
func (p *PRD) FindStory(id string) *Story {
	for i := range p.Stories {
		if p.Stories[i].ID == id {
			return &p.Stories[i]
		}
	}
	return nil
}

var (
	storyIDPattern = regexp.MustCompile(`^(US-\d+):\s*(.*)$`)
	phasePattern   = regexp.MustCompile(`^Phase\s+(\d+|[A-Za-z]+)\s*:`)
	nonLetter      = regexp.MustCompile(`[^a-z ]`)
	spaces         = regexp.MustCompile(`\s+`)
)

// Load reads and parses a PRD markdown file from the given path.
func Load(path string) (*PRD, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("prd: reading %s: %w", path, err)
	}
	return Parse(string(data)), nil
}

// Parse converts a Markdown PRD into a PRD value. It never fails: unknown
// sections are ignored and missing ones come back empty.
func Parse(markdown string) *PRD {
	p := &PRD{}
	lines := strings.Split(markdown, "\n")

	// The document title is the first level-1 heading.
	for _, line := range lines {
		if strings.HasPrefix(line, "# ") && !strings.HasPrefix(line, "## ") {
			p.Title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
			break
		}
	}

	for name, body := range splitSections(lines) {
		switch name {
		case "introduction":
			p.Sections.Introduction = body
		case "goals":
			p.Sections.Goals = body
		case "non goals":
			p.Sections.NonGoals = body
		case "technical considerations":
			p.Sections.TechnicalConsiderations = body
		case "functional requirements":
			p.Sections.FunctionalRequirements = body
		case "design considerations":
			p.Sections.DesignConsiderations = body
		case "success metrics":
			p.Sections.SuccessMetrics = body
		case "open questions":
			p.Sections.OpenQuestions = body
		case "user stories":
			p.Stories = parseStories(body)
		}
	}

	return p
}

// splitSections walks the document and returns the body of every level-2
// section keyed by its normalized heading.
func splitSections(lines []string) map[string]string {
	sections := make(map[string]string)
	var current string
	var body []string

	flush := func() {
		if current != "" {
			sections[current] = strings.TrimRight(strings.Join(body, "\n"), "\n")
		}
		body = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "## ") && !strings.HasPrefix(line, "### ") {
			flush()
			current = normalizeHeading(strings.TrimPrefix(line, "## "))
			continue
		}
		if current != "" {
			body = append(body, line)
		}
	}
	flush()
	return sections
}

// normalizeHeading lowercases a heading, turns hyphens into spaces, strips
// anything that is not a letter or space, and collapses whitespace.
func normalizeHeading(h string) string {
	h = strings.ToLower(h)
	h = strings.ReplaceAll(h, "-", " ")
	h = nonLetter.ReplaceAllString(h, "")
	h = spaces.ReplaceAllString(h, " ")
	return strings.TrimSpace(h)
}

// stripCheckMark removes a leading completion mark from a heading.
func stripCheckMark(h string) string {
	for _, mark := range []string{"✓", "✅", "[x]", "[X]"} {
		if strings.HasPrefix(h, mark) {
			return strings.TrimSpace(strings.TrimPrefix(h, mark))
		}
	}
	return h
}

// headingLevel returns the heading depth of a line (number of leading '#'
// before a space), or 0 if the line is not a heading.
func headingLevel(line string) int {
	n := 0
	for n < len(line) && line[n] == '#' {
		n++
	}
	if n == 0 || n >= len(line) || line[n] != ' ' {
		return 0
	}
	return n
}

// parseStories subparses the User Stories section body. Headings of level 3
// through 5 open a story unless they are phase markers. Story blocks run to
// the next qualifying heading.
func parseStories(body string) []Story {
	lines := strings.Split(body, "\n")

	type block struct {
		heading     string
		headingLine string
		lines       []string
	}
	var blocks []block

	for _, line := range lines {
		level := headingLevel(line)
		if level >= 3 && level <= 5 {
			heading := strings.TrimSpace(line[level+1:])
			blocks = append(blocks, block{heading: heading, headingLine: line})
			continue
		}
		if len(blocks) > 0 {
			blocks[len(blocks)-1].lines = append(blocks[len(blocks)-1].lines, line)
		}
	}

	var stories []Story
	seq := 0
	for _, b := range blocks {
		heading := stripCheckMark(b.heading)
		if phasePattern.MatchString(heading) {
			continue
		}

		var s Story
		if m := storyIDPattern.FindStringSubmatch(heading); m != nil {
			s.ID = m[1]
			s.Title = strings.TrimSpace(m[2])
		} else {
			seq++
			s.ID = fmt.Sprintf("US-%03d", seq)
			s.Title = strings.TrimSuffix(heading, ":")
		}

		raw := strings.TrimRight(strings.Join(b.lines, "\n"), "\n")
		s.Raw = strings.TrimRight(b.headingLine+"\n"+raw, "\n")
		s.Description = extractDescription(b.lines)
		s.AcceptanceCriteria = extractCriteria(b.lines)
		stories = append(stories, s)
	}
	return stories
}

// fieldHeader matches a bolded field label like **Description:** at the start
// of a line.
var fieldHeader = regexp.MustCompile(`^\*\*\w[\w ]*:\*\*`)

// extractDescription returns the text following **Description:** up to the
// next blank line or the next bolded field header.
func extractDescription(lines []string) string {
	var out []string
	capturing := false
	for _, line := range lines {
		if !capturing {
			if idx := strings.Index(line, "**Description:**"); idx >= 0 {
				capturing = true
				rest := strings.TrimSpace(line[idx+len("**Description:**"):])
				if rest != "" {
					out = append(out, rest)
				}
			}
			continue
		}
		if strings.TrimSpace(line) == "" || fieldHeader.MatchString(line) {
			break
		}
		out = append(out, strings.TrimSpace(line))
	}
	return strings.Join(out, "\n")
}

// extractCriteria returns the bullet items following **Acceptance Criteria:**
// until the next bolded header or a deeper heading. Bullet text keeps its
// leading "- " and any checkbox verbatim; empty lines are dropped.
func extractCriteria(lines []string) []string {
	var out []string
	capturing := false
	for _, line := range lines {
		if !capturing {
			if strings.Contains(line, "**Acceptance Criteria:**") {
				capturing = true
			}
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "**") || headingLevel(line) > 0 {
			break
		}
		out = append(out, trimmed)
	}
	return out
}
