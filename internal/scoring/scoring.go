// Package scoring derives pull-request point values from tier labels.
package scoring

import "strings"

// Table maps tier labels to point values. Lookups are case-insensitive.
type Table struct {
	points map[string]int
}

// NewTable creates a scoring table from a label-to-points mapping. Labels are
// normalized to lower case; empty labels and negative values are ignored.
func NewTable(labelPoints map[string]int) Table {
	points := make(map[string]int, len(labelPoints))
	for label, value := range labelPoints {
		normalized := normalizeLabel(label)
		if normalized == "" || value < 0 {
			continue
		}
		points[normalized] = value
	}
	return Table{points: points}
}

// Score returns the highest configured value among the given labels, or zero
// when none is configured. Values are never summed: a pull request carries the
// worth of its single highest tier label.
func (t Table) Score(labels []string) int {
	best := 0
	for _, label := range labels {
		value, ok := t.points[normalizeLabel(label)]
		if !ok {
			continue
		}
		if value > best {
			best = value
		}
	}
	return best
}

// Len reports the number of configured tier labels.
func (t Table) Len() int {
	return len(t.points)
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
