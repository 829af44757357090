package diff

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// multilineText joins generated fragments with newlines so inputs span several lines.
func multilineText() gopter.Gen {
	return gen.SliceOf(gen.AlphaString()).Map(func(parts []string) string {
		return strings.Join(parts, "\n")
	})
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(strings.ReplaceAll(text, "\r\n", "\n"), "\n") + 1
}

func TestComputeIdentityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("diff of a text with itself is all unchanged", prop.ForAll(
		func(text string) bool {
			for _, line := range Compute(text, text) {
				if line.Kind != KindUnchanged {
					return false
				}
			}
			return len(Compute(text, text)) == countLines(text)
		},
		gen.OneGenOf(multilineText(), gen.AnyString()),
	))

	properties.TestingRun(t)
}

func TestComputeTotalityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("no line of either input is dropped", prop.ForAll(
		func(original, proposed string) bool {
			stats := Summarize(Compute(original, proposed))
			return stats.Removed+stats.Unchanged == countLines(original) &&
				stats.Added+stats.Unchanged == countLines(proposed)
		},
		multilineText(),
		multilineText(),
	))

	properties.Property("side-by-side keeps every line exactly once per column", prop.ForAll(
		func(original, proposed string) bool {
			left, right := 0, 0
			for _, row := range SideBySide(Compute(original, proposed)) {
				if row.Left != nil {
					left++
				}
				if row.Right != nil {
					right++
				}
			}
			return left == countLines(original) && right == countLines(proposed)
		},
		multilineText(),
		multilineText(),
	))

	properties.TestingRun(t)
}
