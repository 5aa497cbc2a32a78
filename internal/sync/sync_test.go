package sync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/osscampus/contrib-board/internal/githubapi"
	"github.com/osscampus/contrib-board/internal/leaderboard"
	"github.com/osscampus/contrib-board/internal/metrics"
	"github.com/osscampus/contrib-board/internal/scoring"
	"github.com/osscampus/contrib-board/internal/store"
)

type fakePullLister struct {
	result githubapi.PullRequestListResult
	err    error
	calls  int
}

func (f *fakePullLister) ListAllPullRequests(_ context.Context, _ githubapi.Ref) (githubapi.PullRequestListResult, error) {
	f.calls++
	return f.result, f.err
}

func defaultScores() scoring.Table {
	return scoring.NewTable(map[string]int{
		"level-1": 10,
		"level-2": 20,
		"level-3": 30,
	})
}

func newOrchestratorForTest(t *testing.T, pulls PullLister, backend store.Store) *Orchestrator {
	t.Helper()
	rebuilder := leaderboard.NewRebuilder(backend, store.NewLocalLocker(), time.Minute)
	return NewOrchestrator(pulls, backend, defaultScores(), rebuilder, metrics.New())
}

func widgetsFixture() githubapi.PullRequestListResult {
	merged := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	return githubapi.PullRequestListResult{
		Pages: 1,
		PullRequests: []githubapi.PullRequest{
			{
				Number:    1,
				User:      "alice",
				Title:     "Add widget parser",
				URL:       "https://github.com/acme/widgets/pull/1",
				State:     "closed",
				Labels:    []string{"Level-2"},
				CreatedAt: merged.Add(-72 * time.Hour),
				UpdatedAt: merged,
				MergedAt:  merged,
			},
			{
				Number:    2,
				User:      "bob",
				Title:     "WIP: widget cache",
				URL:       "https://github.com/acme/widgets/pull/2",
				State:     "open",
				CreatedAt: merged.Add(-24 * time.Hour),
				UpdatedAt: merged.Add(-12 * time.Hour),
			},
		},
	}
}

func TestSyncRepositoryScenario(t *testing.T) {
	t.Parallel()

	backend := store.NewMemoryStore()
	ctx := context.Background()

	alice, err := backend.CreateStudent(ctx, store.Student{Name: "Alice", GitHubProfileURL: "https://github.com/Alice"})
	if err != nil {
		t.Fatalf("CreateStudent() unexpected error: %v", err)
	}

	orchestrator := newOrchestratorForTest(t, &fakePullLister{result: widgetsFixture()}, backend)

	summary, err := orchestrator.SyncRepository(ctx, "https://github.com/acme/widgets")
	if err != nil {
		t.Fatalf("SyncRepository() unexpected error: %v", err)
	}

	want := Summary{
		Repository:            "acme/widgets",
		Pages:                 1,
		PullRequestsProcessed: 2,
		Upserted:              2,
		Linked:                1,
		LeaderboardSize:       1,
	}
	if summary != want {
		t.Fatalf("SyncRepository() summary = %+v, want %+v", summary, want)
	}

	contributions, total, err := backend.ListContributions(ctx, store.ContributionFilter{Repository: "acme/widgets"})
	if err != nil {
		t.Fatalf("ListContributions() unexpected error: %v", err)
	}
	if total != 2 {
		t.Fatalf("ListContributions() total = %d, want 2", total)
	}

	aliceRecord := contributions[0]
	if aliceRecord.Points != 20 || aliceRecord.Status != store.StatusMerged {
		t.Fatalf("alice record = points %d status %q, want 20/merged", aliceRecord.Points, aliceRecord.Status)
	}
	if aliceRecord.StudentID == nil || *aliceRecord.StudentID != alice.ID {
		t.Fatalf("alice record student link = %v, want %q", aliceRecord.StudentID, alice.ID)
	}

	bobRecord := contributions[1]
	if bobRecord.Points != 0 || bobRecord.Status != store.StatusOpen {
		t.Fatalf("bob record = points %d status %q, want 0/open", bobRecord.Points, bobRecord.Status)
	}
	if bobRecord.StudentID != nil {
		t.Fatalf("bob record student link = %q, want none for unregistered handle", *bobRecord.StudentID)
	}

	entries, err := backend.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("Leaderboard() unexpected error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Leaderboard() = %d entries, want 1 (bob is unlinked)", len(entries))
	}
	if entries[0].StudentID != alice.ID || entries[0].Rank != 1 || entries[0].Points != 20 || entries[0].Badge != store.BadgeGold {
		t.Fatalf("Leaderboard()[0] = %+v, want alice at rank 1 with 20 points and gold badge", entries[0])
	}
}

func TestSyncRepositoryIsIdempotent(t *testing.T) {
	t.Parallel()

	backend := store.NewMemoryStore()
	ctx := context.Background()

	if _, err := backend.CreateStudent(ctx, store.Student{Name: "Alice", GitHubProfileURL: "https://github.com/alice"}); err != nil {
		t.Fatalf("CreateStudent() unexpected error: %v", err)
	}

	orchestrator := newOrchestratorForTest(t, &fakePullLister{result: widgetsFixture()}, backend)

	if _, err := orchestrator.SyncRepository(ctx, "acme/widgets"); err != nil {
		t.Fatalf("SyncRepository() first run unexpected error: %v", err)
	}
	firstContributions, firstTotal, err := backend.ListContributions(ctx, store.ContributionFilter{})
	if err != nil {
		t.Fatalf("ListContributions() unexpected error: %v", err)
	}
	firstBoard, err := backend.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("Leaderboard() unexpected error: %v", err)
	}

	if _, err := orchestrator.SyncRepository(ctx, "acme/widgets"); err != nil {
		t.Fatalf("SyncRepository() second run unexpected error: %v", err)
	}
	secondContributions, secondTotal, err := backend.ListContributions(ctx, store.ContributionFilter{})
	if err != nil {
		t.Fatalf("ListContributions() unexpected error: %v", err)
	}
	secondBoard, err := backend.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("Leaderboard() unexpected error: %v", err)
	}

	if firstTotal != secondTotal {
		t.Fatalf("resync changed contribution count: %d != %d", firstTotal, secondTotal)
	}
	for i := range firstContributions {
		firstContributions[i].SyncedAt = time.Time{}
		secondContributions[i].SyncedAt = time.Time{}
	}
	if !reflect.DeepEqual(firstContributions, secondContributions) {
		t.Fatalf("resync changed contributions:\nfirst:  %+v\nsecond: %+v", firstContributions, secondContributions)
	}
	if !reflect.DeepEqual(firstBoard, secondBoard) {
		t.Fatalf("resync changed leaderboard:\nfirst:  %+v\nsecond: %+v", firstBoard, secondBoard)
	}
}

func TestSyncRepositoryFetchFailureWritesNothing(t *testing.T) {
	t.Parallel()

	backend := store.NewMemoryStore()
	ctx := context.Background()

	upstream := &githubapi.UpstreamError{StatusCode: 403, Body: `{"message":"rate limited"}`}
	orchestrator := newOrchestratorForTest(t, &fakePullLister{err: upstream}, backend)

	_, err := orchestrator.SyncRepository(ctx, "acme/widgets")
	var upstreamErr *githubapi.UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("SyncRepository() error = %v, want UpstreamError", err)
	}
	if upstreamErr.StatusCode != 403 {
		t.Fatalf("SyncRepository() upstream status = %d, want 403", upstreamErr.StatusCode)
	}

	_, total, err := backend.ListContributions(ctx, store.ContributionFilter{})
	if err != nil {
		t.Fatalf("ListContributions() unexpected error: %v", err)
	}
	if total != 0 {
		t.Fatalf("ListContributions() total = %d, want 0 after aborted sync", total)
	}
}

func TestSyncRepositoryRejectsBadReference(t *testing.T) {
	t.Parallel()

	lister := &fakePullLister{result: widgetsFixture()}
	orchestrator := newOrchestratorForTest(t, lister, store.NewMemoryStore())

	if _, err := orchestrator.SyncRepository(context.Background(), "not-a-repo"); !errors.Is(err, githubapi.ErrInvalidReference) {
		t.Fatalf("SyncRepository(not-a-repo) error = %v, want ErrInvalidReference", err)
	}
	if lister.calls != 0 {
		t.Fatalf("SyncRepository(not-a-repo) fetched %d times, want 0", lister.calls)
	}
}

type rejectEvenPRStore struct {
	*store.MemoryStore
}

func (s *rejectEvenPRStore) UpsertContribution(ctx context.Context, contribution store.Contribution) error {
	if contribution.PRNumber%2 == 0 {
		return errors.New("simulated write failure")
	}
	return s.MemoryStore.UpsertContribution(ctx, contribution)
}

func TestSyncRepositorySkipsFailedUpserts(t *testing.T) {
	t.Parallel()

	backend := &rejectEvenPRStore{MemoryStore: store.NewMemoryStore()}
	ctx := context.Background()

	// Bob owns PR #2, which the store rejects; his record must count as
	// neither upserted nor linked.
	if _, err := backend.CreateStudent(ctx, store.Student{Name: "Bob", GitHubProfileURL: "https://github.com/bob"}); err != nil {
		t.Fatalf("CreateStudent() unexpected error: %v", err)
	}

	rebuilder := leaderboard.NewRebuilder(backend.MemoryStore, store.NewLocalLocker(), time.Minute)
	orchestrator := NewOrchestrator(&fakePullLister{result: widgetsFixture()}, backend, defaultScores(), rebuilder, metrics.New())

	summary, err := orchestrator.SyncRepository(ctx, "acme/widgets")
	if err != nil {
		t.Fatalf("SyncRepository() unexpected error: %v", err)
	}
	if summary.Upserted != 1 || summary.Skipped != 1 {
		t.Fatalf("SyncRepository() upserted %d skipped %d, want 1/1", summary.Upserted, summary.Skipped)
	}
	if summary.Linked != 0 {
		t.Fatalf("SyncRepository() linked = %d, want 0 when the linked record is skipped", summary.Linked)
	}

	_, total, err := backend.ListContributions(ctx, store.ContributionFilter{})
	if err != nil {
		t.Fatalf("ListContributions() unexpected error: %v", err)
	}
	if total != 1 {
		t.Fatalf("ListContributions() total = %d, want 1 surviving record", total)
	}
}

func TestSyncRepositoryCountsRequestsOfFailedFetch(t *testing.T) {
	t.Parallel()

	backend := store.NewMemoryStore()
	lister := &fakePullLister{
		result: githubapi.PullRequestListResult{
			Metadata: githubapi.CallMetadata{Attempts: 3},
		},
		err: &githubapi.UpstreamError{StatusCode: 502, Body: "bad gateway"},
	}
	m := metrics.New()
	rebuilder := leaderboard.NewRebuilder(backend, store.NewLocalLocker(), time.Minute)
	orchestrator := NewOrchestrator(lister, backend, defaultScores(), rebuilder, m)

	if _, err := orchestrator.SyncRepository(context.Background(), "acme/widgets"); err == nil {
		t.Fatalf("SyncRepository() expected error, got nil")
	}

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(recorder.Body.String(), "contrib_github_requests_total 3") {
		t.Fatalf("metrics output missing the requests a failed fetch consumed:\n%s", recorder.Body.String())
	}
}

func TestSyncRepositoryRecordsUnknownAuthor(t *testing.T) {
	t.Parallel()

	backend := store.NewMemoryStore()
	ctx := context.Background()

	result := githubapi.PullRequestListResult{
		Pages: 1,
		PullRequests: []githubapi.PullRequest{
			{Number: 7, Title: "Ghost PR", State: "open"},
		},
	}
	orchestrator := newOrchestratorForTest(t, &fakePullLister{result: result}, backend)

	if _, err := orchestrator.SyncRepository(ctx, "acme/widgets"); err != nil {
		t.Fatalf("SyncRepository() unexpected error: %v", err)
	}

	contributions, _, err := backend.ListContributions(ctx, store.ContributionFilter{})
	if err != nil {
		t.Fatalf("ListContributions() unexpected error: %v", err)
	}
	if len(contributions) != 1 {
		t.Fatalf("ListContributions() = %d records, want 1", len(contributions))
	}
	if contributions[0].ExternalAccount != store.UnknownAccount {
		t.Fatalf("contribution account = %q, want %q", contributions[0].ExternalAccount, store.UnknownAccount)
	}
	if contributions[0].StudentID != nil {
		t.Fatalf("unknown author linked to student %q, want no link", *contributions[0].StudentID)
	}
}
