package store

import (
	"context"
	"testing"
	"time"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()

	gormStore, err := NewGormStore(":memory:")
	if err != nil {
		t.Fatalf("NewGormStore(:memory:) unexpected error: %v", err)
	}
	t.Cleanup(func() {
		if err := gormStore.Close(); err != nil {
			t.Errorf("Close() unexpected error: %v", err)
		}
	})

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": gormStore,
	}
}

func sampleContribution(repository string, prNumber int) Contribution {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return Contribution{
		Repository:      repository,
		PRNumber:        prNumber,
		ExternalAccount: "octocat",
		Title:           "Add widget parser",
		URL:             "https://github.com/" + repository + "/pull/1",
		Status:          StatusOpen,
		Labels:          Labels{"level-1"},
		Points:          10,
		CreatedAtRemote: now.Add(-48 * time.Hour),
		UpdatedAtRemote: now.Add(-time.Hour),
		SyncedAt:        now,
	}
}

func TestUpsertContributionIsIdempotent(t *testing.T) {
	t.Parallel()

	for name, backend := range openBackends(t) {
		backend := backend
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := sampleContribution("acme/widgets", 101)
			if err := backend.UpsertContribution(ctx, first); err != nil {
				t.Fatalf("UpsertContribution() unexpected error: %v", err)
			}

			updated := first
			updated.Status = StatusMerged
			updated.Labels = Labels{"level-1", "level-3"}
			updated.Points = 30
			updated.MergedAtRemote = first.SyncedAt
			if err := backend.UpsertContribution(ctx, updated); err != nil {
				t.Fatalf("UpsertContribution() resync unexpected error: %v", err)
			}

			contributions, total, err := backend.ListContributions(ctx, ContributionFilter{Repository: "acme/widgets"})
			if err != nil {
				t.Fatalf("ListContributions() unexpected error: %v", err)
			}
			if total != 1 {
				t.Fatalf("ListContributions() total = %d, want 1 after resync", total)
			}
			got := contributions[0]
			if got.Status != StatusMerged {
				t.Fatalf("contribution status = %q, want %q", got.Status, StatusMerged)
			}
			if got.Points != 30 {
				t.Fatalf("contribution points = %d, want 30", got.Points)
			}
			if len(got.Labels) != 2 {
				t.Fatalf("contribution labels = %v, want 2 labels", got.Labels)
			}
		})
	}
}

func TestUpsertContributionValidation(t *testing.T) {
	t.Parallel()

	for name, backend := range openBackends(t) {
		backend := backend
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			missingRepo := sampleContribution("", 1)
			if err := backend.UpsertContribution(ctx, missingRepo); err == nil {
				t.Fatalf("UpsertContribution(no repository) expected error, got nil")
			}

			badNumber := sampleContribution("acme/widgets", 0)
			if err := backend.UpsertContribution(ctx, badNumber); err == nil {
				t.Fatalf("UpsertContribution(pr 0) expected error, got nil")
			}
		})
	}
}

func TestListContributionsFilterAndPaging(t *testing.T) {
	t.Parallel()

	for name, backend := range openBackends(t) {
		backend := backend
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for pr := 1; pr <= 5; pr++ {
				contribution := sampleContribution("acme/widgets", pr)
				if pr%2 == 0 {
					contribution.Status = StatusMerged
				}
				if err := backend.UpsertContribution(ctx, contribution); err != nil {
					t.Fatalf("UpsertContribution(#%d) unexpected error: %v", pr, err)
				}
			}
			other := sampleContribution("acme/gears", 1)
			if err := backend.UpsertContribution(ctx, other); err != nil {
				t.Fatalf("UpsertContribution(other repo) unexpected error: %v", err)
			}

			merged, total, err := backend.ListContributions(ctx, ContributionFilter{
				Repository: "acme/widgets",
				Status:     StatusMerged,
			})
			if err != nil {
				t.Fatalf("ListContributions(merged) unexpected error: %v", err)
			}
			if total != 2 || len(merged) != 2 {
				t.Fatalf("ListContributions(merged) = %d rows, total %d, want 2/2", len(merged), total)
			}

			page, total, err := backend.ListContributions(ctx, ContributionFilter{
				Repository: "acme/widgets",
				Page:       2,
				PerPage:    2,
			})
			if err != nil {
				t.Fatalf("ListContributions(page 2) unexpected error: %v", err)
			}
			if total != 5 {
				t.Fatalf("ListContributions(page 2) total = %d, want 5", total)
			}
			if len(page) != 2 || page[0].PRNumber != 3 || page[1].PRNumber != 4 {
				t.Fatalf("ListContributions(page 2) = %+v, want PRs 3 and 4", page)
			}

			empty, total, err := backend.ListContributions(ctx, ContributionFilter{
				Repository: "acme/widgets",
				Page:       9,
				PerPage:    2,
			})
			if err != nil {
				t.Fatalf("ListContributions(past end) unexpected error: %v", err)
			}
			if len(empty) != 0 || total != 5 {
				t.Fatalf("ListContributions(past end) = %d rows, total %d, want 0/5", len(empty), total)
			}
		})
	}
}

func TestStudentContributionTotalsExcludesUnlinked(t *testing.T) {
	t.Parallel()

	for name, backend := range openBackends(t) {
		backend := backend
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			alice, err := backend.CreateStudent(ctx, Student{Name: "Alice", GitHubProfileURL: "https://github.com/alice"})
			if err != nil {
				t.Fatalf("CreateStudent(alice) unexpected error: %v", err)
			}
			bob, err := backend.CreateStudent(ctx, Student{Name: "Bob", GitHubProfileURL: "https://github.com/bob"})
			if err != nil {
				t.Fatalf("CreateStudent(bob) unexpected error: %v", err)
			}

			linked := []struct {
				pr        int
				studentID string
				points    int
			}{
				{pr: 1, studentID: alice.ID, points: 30},
				{pr: 2, studentID: alice.ID, points: 10},
				{pr: 3, studentID: bob.ID, points: 20},
			}
			for _, row := range linked {
				contribution := sampleContribution("acme/widgets", row.pr)
				studentID := row.studentID
				contribution.StudentID = &studentID
				contribution.Points = row.points
				if err := backend.UpsertContribution(ctx, contribution); err != nil {
					t.Fatalf("UpsertContribution(#%d) unexpected error: %v", row.pr, err)
				}
			}
			unlinked := sampleContribution("acme/widgets", 4)
			unlinked.Points = 30
			if err := backend.UpsertContribution(ctx, unlinked); err != nil {
				t.Fatalf("UpsertContribution(unlinked) unexpected error: %v", err)
			}

			totals, err := backend.StudentContributionTotals(ctx)
			if err != nil {
				t.Fatalf("StudentContributionTotals() unexpected error: %v", err)
			}
			if len(totals) != 2 {
				t.Fatalf("StudentContributionTotals() = %d students, want 2", len(totals))
			}

			byID := make(map[string]StudentTotals, len(totals))
			for _, entry := range totals {
				byID[entry.Student.ID] = entry
			}
			if got := byID[alice.ID]; got.Points != 40 || got.Contributions != 2 {
				t.Fatalf("alice totals = %d points / %d contributions, want 40/2", got.Points, got.Contributions)
			}
			if got := byID[bob.ID]; got.Points != 20 || got.Contributions != 1 {
				t.Fatalf("bob totals = %d points / %d contributions, want 20/1", got.Points, got.Contributions)
			}
		})
	}
}

func TestReplaceLeaderboard(t *testing.T) {
	t.Parallel()

	for name, backend := range openBackends(t) {
		backend := backend
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := []LeaderboardEntry{
				{Rank: 1, StudentID: "s-1", Name: "Alice", Points: 40, Contributions: 2, Badge: BadgeGold},
				{Rank: 2, StudentID: "s-2", Name: "Bob", Points: 20, Contributions: 1, Badge: BadgeSilver},
			}
			if err := backend.ReplaceLeaderboard(ctx, first); err != nil {
				t.Fatalf("ReplaceLeaderboard() unexpected error: %v", err)
			}

			replacement := []LeaderboardEntry{
				{Rank: 1, StudentID: "s-2", Name: "Bob", Points: 50, Contributions: 2, Badge: BadgeGold},
			}
			if err := backend.ReplaceLeaderboard(ctx, replacement); err != nil {
				t.Fatalf("ReplaceLeaderboard() replacement unexpected error: %v", err)
			}

			entries, err := backend.Leaderboard(ctx)
			if err != nil {
				t.Fatalf("Leaderboard() unexpected error: %v", err)
			}
			if len(entries) != 1 {
				t.Fatalf("Leaderboard() = %d entries, want 1 after replacement", len(entries))
			}
			if entries[0].StudentID != "s-2" || entries[0].Points != 50 {
				t.Fatalf("Leaderboard()[0] = %+v, want s-2 with 50 points", entries[0])
			}
		})
	}
}

func TestWipeContributions(t *testing.T) {
	t.Parallel()

	for name, backend := range openBackends(t) {
		backend := backend
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := backend.UpsertContribution(ctx, sampleContribution("acme/widgets", 1)); err != nil {
				t.Fatalf("UpsertContribution() unexpected error: %v", err)
			}
			if err := backend.ReplaceLeaderboard(ctx, []LeaderboardEntry{{Rank: 1, StudentID: "s-1", Points: 10, Contributions: 1, Badge: BadgeGold}}); err != nil {
				t.Fatalf("ReplaceLeaderboard() unexpected error: %v", err)
			}

			if err := backend.WipeContributions(ctx); err != nil {
				t.Fatalf("WipeContributions() unexpected error: %v", err)
			}

			_, total, err := backend.ListContributions(ctx, ContributionFilter{})
			if err != nil {
				t.Fatalf("ListContributions() unexpected error: %v", err)
			}
			if total != 0 {
				t.Fatalf("ListContributions() total = %d, want 0 after wipe", total)
			}
			entries, err := backend.Leaderboard(ctx)
			if err != nil {
				t.Fatalf("Leaderboard() unexpected error: %v", err)
			}
			if len(entries) != 0 {
				t.Fatalf("Leaderboard() = %d entries, want 0 after wipe", len(entries))
			}
		})
	}
}

func TestRepoStats(t *testing.T) {
	t.Parallel()

	for name, backend := range openBackends(t) {
		backend := backend
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			rows := []struct {
				pr      int
				account string
				status  Status
				points  int
			}{
				{pr: 1, account: "octocat", status: StatusMerged, points: 30},
				{pr: 2, account: "octocat", status: StatusOpen, points: 10},
				{pr: 3, account: "hubot", status: StatusClosed, points: 0},
			}
			for _, row := range rows {
				contribution := sampleContribution("acme/widgets", row.pr)
				contribution.ExternalAccount = row.account
				contribution.Status = row.status
				contribution.Points = row.points
				if err := backend.UpsertContribution(ctx, contribution); err != nil {
					t.Fatalf("UpsertContribution(#%d) unexpected error: %v", row.pr, err)
				}
			}

			stats, err := backend.RepoStats(ctx, "acme/widgets")
			if err != nil {
				t.Fatalf("RepoStats() unexpected error: %v", err)
			}
			want := RepoStats{
				Repository:           "acme/widgets",
				TotalContributions:   3,
				TotalPoints:          40,
				DistinctContributors: 2,
				OpenCount:            1,
				ClosedCount:          1,
				MergedCount:          1,
			}
			if stats != want {
				t.Fatalf("RepoStats() = %+v, want %+v", stats, want)
			}
		})
	}
}

func TestCreateStudent(t *testing.T) {
	t.Parallel()

	for name, backend := range openBackends(t) {
		backend := backend
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := backend.CreateStudent(ctx, Student{}); err == nil {
				t.Fatalf("CreateStudent(no name) expected error, got nil")
			}

			created, err := backend.CreateStudent(ctx, Student{Name: "Alice"})
			if err != nil {
				t.Fatalf("CreateStudent() unexpected error: %v", err)
			}
			if created.ID == "" {
				t.Fatalf("CreateStudent() assigned empty id")
			}
			if created.CreatedAt.IsZero() {
				t.Fatalf("CreateStudent() left created_at zero")
			}

			if _, err := backend.CreateStudent(ctx, Student{ID: created.ID, Name: "Alice Again"}); err == nil {
				t.Fatalf("CreateStudent(duplicate id) expected error, got nil")
			}

			students, err := backend.ListStudents(ctx)
			if err != nil {
				t.Fatalf("ListStudents() unexpected error: %v", err)
			}
			if len(students) != 1 {
				t.Fatalf("ListStudents() = %d students, want 1", len(students))
			}
		})
	}
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name        string
		remoteState string
		merged      bool
		want        Status
	}{
		{
			name:        "open",
			remoteState: "open",
			want:        StatusOpen,
		},
		{
			name:        "closed_without_merge",
			remoteState: "closed",
			want:        StatusClosed,
		},
		{
			name:        "merged_wins_over_closed",
			remoteState: "closed",
			merged:      true,
			want:        StatusMerged,
		},
		{
			name:        "unknown_state_defaults_open",
			remoteState: "draft",
			want:        StatusOpen,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := DeriveStatus(tc.remoteState, tc.merged); got != tc.want {
				t.Fatalf("DeriveStatus(%q, %v) = %q, want %q", tc.remoteState, tc.merged, got, tc.want)
			}
		})
	}
}
