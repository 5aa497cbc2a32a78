package scoring

import "testing"

func defaultTable() Table {
	return NewTable(map[string]int{
		"level-1": 10,
		"level-2": 20,
		"level-3": 30,
	})
}

func TestScoreTakesMaximumNotSum(t *testing.T) {
	t.Parallel()

	table := defaultTable()

	got := table.Score([]string{"level-1", "level-3"})
	if got != 30 {
		t.Fatalf("Score(level-1+level-3) = %d, want 30 (max, never 40)", got)
	}
}

func TestScore(t *testing.T) {
	t.Parallel()

	table := defaultTable()

	testCases := []struct {
		name   string
		labels []string
		want   int
	}{
		{
			name:   "no_labels",
			labels: nil,
			want:   0,
		},
		{
			name:   "no_configured_labels",
			labels: []string{"bug", "hacktoberfest"},
			want:   0,
		},
		{
			name:   "single_tier",
			labels: []string{"level-2"},
			want:   20,
		},
		{
			name:   "tier_among_noise",
			labels: []string{"documentation", "level-1", "good first issue"},
			want:   10,
		},
		{
			name:   "case_insensitive",
			labels: []string{"Level-2"},
			want:   20,
		},
		{
			name:   "whitespace_trimmed",
			labels: []string{"  level-3  "},
			want:   30,
		},
		{
			name:   "duplicate_labels_not_summed",
			labels: []string{"level-2", "level-2"},
			want:   20,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := table.Score(tc.labels); got != tc.want {
				t.Fatalf("Score(%v) = %d, want %d", tc.labels, got, tc.want)
			}
		})
	}
}

func TestNewTableIgnoresInvalidEntries(t *testing.T) {
	t.Parallel()

	table := NewTable(map[string]int{
		"":        5,
		"   ":     5,
		"level-1": -1,
		"level-2": 20,
	})

	if table.Len() != 1 {
		t.Fatalf("NewTable() configured %d labels, want 1", table.Len())
	}
	if got := table.Score([]string{"level-1"}); got != 0 {
		t.Fatalf("Score(level-1) = %d, want 0 for discarded negative entry", got)
	}
}
