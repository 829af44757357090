package diff

import "strings"

const (
	unifiedAddedPrefix     = "+"
	unifiedRemovedPrefix   = "-"
	unifiedUnchangedPrefix = " "
)

// Unified renders lines interleaved, each prefixed with "+", "-" or a space.
func Unified(lines []Line) string {
	var builder strings.Builder
	for index, line := range lines {
		if index > 0 {
			builder.WriteByte('\n')
		}
		switch line.Kind {
		case KindAdded:
			builder.WriteString(unifiedAddedPrefix)
		case KindRemoved:
			builder.WriteString(unifiedRemovedPrefix)
		default:
			builder.WriteString(unifiedUnchangedPrefix)
		}
		builder.WriteString(line.Content)
	}
	return builder.String()
}

// Row is one row of a side-by-side view. Left holds the original column and
// Right the proposed column; either may be nil when that side has no line.
type Row struct {
	Left  *Line `json:"left,omitempty"`
	Right *Line `json:"right,omitempty"`
}

// SideBySide projects lines into two parallel columns. A removed line and the
// added line emitted for the same position share a row.
func SideBySide(lines []Line) []Row {
	rows := make([]Row, 0, len(lines))
	for index := range lines {
		line := lines[index]
		switch line.Kind {
		case KindUnchanged:
			left := line
			right := line
			rows = append(rows, Row{Left: &left, Right: &right})
		case KindRemoved:
			removed := line
			rows = append(rows, Row{Left: &removed})
		case KindAdded:
			added := line
			if last := len(rows) - 1; last >= 0 && rows[last].Right == nil &&
				rows[last].Left != nil && rows[last].Left.Kind == KindRemoved &&
				rows[last].Left.LineNumber == line.LineNumber {
				rows[last].Right = &added
				continue
			}
			rows = append(rows, Row{Right: &added})
		}
	}
	return rows
}
