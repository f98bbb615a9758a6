// Package prompt assembles the composite Markdown context block fed to the
// coding agent on each iteration, and performs {{token}} substitution on the
// instruction template.
package prompt

import (
	"fmt"
	"strings"

	"github.com/radvoogh/william/internal/prd"
	"github.com/radvoogh/william/internal/progress"
	"github.com/radvoogh/william/internal/state"
)

// smallPRDThreshold is the raw-PRD byte size below which the full document is
// injected verbatim instead of the sectioned composite.
const smallPRDThreshold = 10 * 1024

// recentEntryCount is how many dated progress entries are carried into the
// prompt.
const recentEntryCount = 3

// Input carries everything the builder may fold into one iteration's context.
// All fields are optional except Parsed and State; extraction is tolerant of
// missing input.
type Input struct {
	RawPRD       string
	Parsed       *prd.PRD
	State        *state.State
	Progress     string // raw progress.txt content
	StuckHint    string // contents of .stuck-hint.md, "" when absent
	ChainContext string // pre-formatted block from the previous story
	OriginalPRD  string // parent PRD, set only for revision workspaces
}

// BuildContext produces the composite Markdown context for one iteration.
// Blocks are joined by blank lines and empty blocks are omitted.
func BuildContext(in Input) string {
	var blocks []string

	if in.OriginalPRD != "" {
		blocks = append(blocks, "## Original PRD\n\n"+strings.TrimSpace(in.OriginalPRD))
	}
	if in.ChainContext != "" {
		blocks = append(blocks, strings.TrimSpace(in.ChainContext))
	}

	if len(in.RawPRD) < smallPRDThreshold {
		if trimmed := strings.TrimSpace(in.RawPRD); trimmed != "" {
			blocks = append(blocks, trimmed)
		}
	} else {
		blocks = append(blocks, largePRDBlocks(in.Parsed, in.State)...)
	}

	if patterns := progress.Patterns(in.Progress); patterns != "" {
		blocks = append(blocks, patterns)
	}
	if entries := progress.RecentEntries(in.Progress, recentEntryCount); len(entries) > 0 {
		blocks = append(blocks, "## Recent Progress\n\n"+strings.Join(entries, "\n\n"))
	}
	if in.StuckHint != "" {
		blocks = append(blocks, "## Stuck Recovery Hint\n\n"+strings.TrimSpace(in.StuckHint))
	}

	return strings.Join(blocks, "\n\n")
}

// largePRDBlocks renders the sectioned composite used when the raw PRD is at
// or above the size threshold: labeled top-level sections, the story status
// table, the previous two completed stories in full, the current story in
// full, and the next two upcoming stories without acceptance criteria.
func largePRDBlocks(p *prd.PRD, st *state.State) []string {
	var blocks []string

	sections := []struct {
		label, body string
	}{
		{"Introduction", p.Sections.Introduction},
		{"Goals", p.Sections.Goals},
		{"Non-Goals", p.Sections.NonGoals},
		{"Technical Considerations", p.Sections.TechnicalConsiderations},
		{"Functional Requirements", p.Sections.FunctionalRequirements},
	}
	for _, s := range sections {
		if strings.TrimSpace(s.body) != "" {
			blocks = append(blocks, "## "+s.label+"\n\n"+strings.TrimSpace(s.body))
		}
	}

	blocks = append(blocks, "## Story Status\n\n"+StatusTable(p, st))

	cur := st.Current()
	for _, id := range previousCompleted(p, st, cur, 2) {
		if s := p.FindStory(id); s != nil {
			blocks = append(blocks, "## Previously Completed: "+id+"\n\n"+s.Raw)
		}
	}

	if s := p.FindStory(cur); s != nil {
		blocks = append(blocks, "## Current Story\n\n"+s.Raw)
	}

	for _, id := range upcomingPending(p, st, cur, 2) {
		s := p.FindStory(id)
		if s == nil {
			continue
		}
		block := fmt.Sprintf("## Upcoming: %s — %s", s.ID, s.Title)
		if s.Description != "" {
			block += "\n\n" + s.Description
		}
		blocks = append(blocks, block)
	}

	return blocks
}

// StatusTable renders one line per story with its status symbol: → current,
// ✓ passed, ⊘ skipped, · pending.
func StatusTable(p *prd.PRD, st *state.State) string {
	cur := st.Current()
	var sb strings.Builder
	for _, s := range p.Stories {
		symbol := "·"
		if entry, ok := st.Stories.Get(s.ID); ok {
			switch {
			case s.ID == cur:
				symbol = "→"
			case entry.Passes == state.Passed:
				symbol = "✓"
			case entry.Passes == state.Skipped:
				symbol = "⊘"
			}
		}
		fmt.Fprintf(&sb, "%s %s: %s\n", symbol, s.ID, s.Title)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// previousCompleted returns up to n passed story ids before the current one,
// in PRD order.
func previousCompleted(p *prd.PRD, st *state.State, current string, n int) []string {
	var completed []string
	for _, s := range p.Stories {
		if s.ID == current {
			break
		}
		if entry, ok := st.Stories.Get(s.ID); ok && entry.Passes == state.Passed {
			completed = append(completed, s.ID)
		}
	}
	if len(completed) > n {
		completed = completed[len(completed)-n:]
	}
	return completed
}

// upcomingPending returns up to n pending story ids after the current one, in
// PRD order. Skipped stories are excluded.
func upcomingPending(p *prd.PRD, st *state.State, current string, n int) []string {
	var upcoming []string
	seen := false
	for _, s := range p.Stories {
		if s.ID == current {
			seen = true
			continue
		}
		if !seen {
			continue
		}
		if entry, ok := st.Stories.Get(s.ID); ok && entry.Passes == state.Pending {
			upcoming = append(upcoming, s.ID)
			if len(upcoming) == n {
				break
			}
		}
	}
	return upcoming
}
