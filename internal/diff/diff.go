// Package diff computes positional line diffs between two text blobs.
//
// Lines are compared strictly by index: a line inserted near the top shifts every
// following line and is reported as a run of removed/added pairs rather than a
// single insertion. Reordered lines are reported the same way. Callers that
// render the output should not present this as a minimal edit script.
package diff

import "strings"

// Kind tags a diff line.
type Kind string

const (
	// KindUnchanged marks a line present at the same position in both inputs.
	KindUnchanged Kind = "unchanged"
	// KindAdded marks a line that only exists in the proposed text at this position.
	KindAdded Kind = "added"
	// KindRemoved marks a line that only exists in the original text at this position.
	KindRemoved Kind = "removed"
)

// Line is a single entry of a computed diff.
// LineNumber is 1-based: unchanged and removed lines use the original's index,
// added lines use the proposed text's index.
type Line struct {
	Kind       Kind   `json:"kind"`
	Content    string `json:"content"`
	LineNumber int    `json:"line_number"`
}

// Compute walks both inputs position by position and tags every line.
func Compute(original, proposed string) []Line {
	originalLines := SplitLines(original)
	proposedLines := SplitLines(proposed)

	total := len(originalLines)
	if len(proposedLines) > total {
		total = len(proposedLines)
	}

	lines := make([]Line, 0, len(originalLines)+len(proposedLines))
	for index := 0; index < total; index++ {
		hasOriginal := index < len(originalLines)
		hasProposed := index < len(proposedLines)

		if hasOriginal && hasProposed && originalLines[index] == proposedLines[index] {
			lines = append(lines, Line{Kind: KindUnchanged, Content: originalLines[index], LineNumber: index + 1})
			continue
		}
		if hasOriginal {
			lines = append(lines, Line{Kind: KindRemoved, Content: originalLines[index], LineNumber: index + 1})
		}
		if hasProposed {
			lines = append(lines, Line{Kind: KindAdded, Content: proposedLines[index], LineNumber: index + 1})
		}
	}
	return lines
}

// SplitLines splits text on line boundaries. CRLF is treated as LF.
// The empty string has no lines; a trailing newline produces a trailing empty line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// Stats counts lines per kind.
type Stats struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// HasChanges reports whether any line was added or removed.
func (s Stats) HasChanges() bool {
	return s.Added > 0 || s.Removed > 0
}

// Summarize tallies a computed diff.
func Summarize(lines []Line) Stats {
	var stats Stats
	for _, line := range lines {
		switch line.Kind {
		case KindAdded:
			stats.Added++
		case KindRemoved:
			stats.Removed++
		case KindUnchanged:
			stats.Unchanged++
		}
	}
	return stats
}
