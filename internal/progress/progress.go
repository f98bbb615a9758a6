// Package progress reads the free-form progress.txt log that the agent
// appends to between iterations. The core never writes this file; it only
// extracts the Codebase Patterns section and the most recent dated entries
// for prompt assembly.
package progress

import (
	"os"
	"regexp"
	"strings"
)

// entryHeading matches the dated entry headings the agent writes, with or
// without brackets: "## 2026-08-01 ..." or "## [2026-08-01] ...".
var entryHeading = regexp.MustCompile(`^## \[?\d{4}-\d{2}-\d{2}\]?`)

// Read returns the contents of a progress file, or "" when it does not
// exist. Any other read error is also treated as an empty log; the file is
// advisory input only.
func Read(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// Patterns extracts the "## Codebase Patterns" block verbatim, from its
// heading up to the next level-2 heading, a horizontal rule, or end of file.
// Returns "" when the section is absent.
func Patterns(content string) string {
	lines := strings.Split(content, "\n")
	start := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "## Codebase Patterns" {
			start = i
			break
		}
	}
	if start < 0 {
		return ""
	}

	end := len(lines)
	for i := start + 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(lines[i], "## ") || trimmed == "---" {
			end = i
			break
		}
	}
	return strings.TrimRight(strings.Join(lines[start:end], "\n"), "\n")
}

// RecentEntries returns the last n date-prefixed entries, oldest first. An
// entry runs from its dated heading to the next dated heading.
func RecentEntries(content string, n int) []string {
	if n <= 0 {
		return nil
	}
	lines := strings.Split(content, "\n")

	var entries []string
	var current []string
	inEntry := false

	flush := func() {
		if inEntry {
			entry := strings.TrimRight(strings.Join(current, "\n"), "\n")
			if entry != "" {
				entries = append(entries, entry)
			}
		}
		current = nil
	}

	for _, line := range lines {
		if entryHeading.MatchString(line) {
			flush()
			inEntry = true
		}
		if inEntry {
			current = append(current, line)
		}
	}
	flush()

	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries
}
