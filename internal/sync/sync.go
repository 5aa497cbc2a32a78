// Package sync reconciles pull requests from the GitHub API into stored
// contributions and triggers the leaderboard rebuild.
package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/osscampus/contrib-board/internal/githubapi"
	"github.com/osscampus/contrib-board/internal/metrics"
	"github.com/osscampus/contrib-board/internal/scoring"
	"github.com/osscampus/contrib-board/internal/store"
	"github.com/osscampus/contrib-board/internal/students"
)

// PullLister fetches the full pull-request list for a repository.
type PullLister interface {
	ListAllPullRequests(ctx context.Context, ref githubapi.Ref) (githubapi.PullRequestListResult, error)
}

// Rebuilder recomputes the leaderboard projection.
type Rebuilder interface {
	Rebuild(ctx context.Context) (int, error)
}

// Summary reports what one sync run did.
type Summary struct {
	Repository            string `json:"repository"`
	Pages                 int    `json:"pages"`
	PullRequestsProcessed int    `json:"pull_requests_processed"`
	Upserted              int    `json:"upserted"`
	Skipped               int    `json:"skipped"`
	Linked                int    `json:"linked"`
	LeaderboardSize       int    `json:"leaderboard_size"`
}

// Orchestrator runs the fetch, score, upsert, rebuild pipeline for one
// repository at a time.
type Orchestrator struct {
	pulls     PullLister
	backend   store.Store
	scores    scoring.Table
	rebuilder Rebuilder
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrchestrator creates a sync orchestrator.
func NewOrchestrator(
	pulls PullLister,
	backend store.Store,
	scores scoring.Table,
	rebuilder Rebuilder,
	m *metrics.Metrics,
	logger ...*zap.Logger,
) *Orchestrator {
	baseLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		baseLogger = logger[0]
	}
	return &Orchestrator{
		pulls:     pulls,
		backend:   backend,
		scores:    scores,
		rebuilder: rebuilder,
		metrics:   m,
		logger:    baseLogger,
		now:       time.Now,
	}
}

// SyncRepository reconciles every pull request of the referenced repository
// into contribution records and rebuilds the leaderboard. A fetch failure
// aborts the run before any record is written; a single record failure is
// logged and skipped so one bad row cannot sink the run.
func (o *Orchestrator) SyncRepository(ctx context.Context, rawRef string) (Summary, error) {
	ref, err := githubapi.ParseRef(rawRef)
	if err != nil {
		o.metrics.SyncRun(metrics.ResultError)
		return Summary{}, fmt.Errorf("parse repository reference: %w", err)
	}
	summary := Summary{Repository: ref.FullName()}
	logger := o.logger.With(zap.String("repository", summary.Repository))

	result, err := o.pulls.ListAllPullRequests(ctx, ref)
	for i := 0; i < result.Metadata.Attempts; i++ {
		o.metrics.GitHubRequest()
	}
	if err != nil {
		o.metrics.SyncRun(metrics.ResultError)
		return Summary{}, fmt.Errorf("list pull requests for %s: %w", summary.Repository, err)
	}
	summary.Pages = result.Pages
	summary.PullRequestsProcessed = len(result.PullRequests)

	// The resolver snapshot is taken once per run so every record of the
	// run links against the same student set.
	records, err := o.backend.ListStudents(ctx)
	if err != nil {
		o.metrics.SyncRun(metrics.ResultError)
		return Summary{}, fmt.Errorf("load students: %w", err)
	}
	resolver := students.NewResolver(records)

	syncedAt := o.now().UTC()
	for _, pr := range result.PullRequests {
		contribution := o.buildContribution(summary.Repository, pr, resolver, syncedAt)

		if err := o.backend.UpsertContribution(ctx, contribution); err != nil {
			o.metrics.Upsert(metrics.ResultError)
			summary.Skipped++
			logger.Warn("skipping contribution upsert",
				zap.Int("pr_number", pr.Number),
				zap.Error(err),
			)
			continue
		}
		o.metrics.Upsert(metrics.ResultOK)
		summary.Upserted++
		if contribution.StudentID != nil {
			summary.Linked++
		}
	}

	size, err := o.rebuilder.Rebuild(ctx)
	if err != nil {
		o.metrics.Rebuild(metrics.ResultError)
		o.metrics.SyncRun(metrics.ResultError)
		return summary, fmt.Errorf("rebuild leaderboard after sync: %w", err)
	}
	o.metrics.Rebuild(metrics.ResultOK)
	summary.LeaderboardSize = size

	o.metrics.SyncRun(metrics.ResultOK)
	logger.Info("repository synced",
		zap.Int("pull_requests", summary.PullRequestsProcessed),
		zap.Int("upserted", summary.Upserted),
		zap.Int("skipped", summary.Skipped),
		zap.Int("linked", summary.Linked),
		zap.Int("leaderboard_size", summary.LeaderboardSize),
	)
	return summary, nil
}

func (o *Orchestrator) buildContribution(
	repository string,
	pr githubapi.PullRequest,
	resolver *students.Resolver,
	syncedAt time.Time,
) store.Contribution {
	account := pr.User
	if account == "" {
		account = store.UnknownAccount
	}

	contribution := store.Contribution{
		Repository:      repository,
		PRNumber:        pr.Number,
		ExternalAccount: account,
		Title:           pr.Title,
		URL:             pr.URL,
		Status:          store.DeriveStatus(pr.State, pr.Merged()),
		Labels:          store.Labels(pr.Labels),
		Points:          o.scores.Score(pr.Labels),
		CreatedAtRemote: pr.CreatedAt,
		UpdatedAtRemote: pr.UpdatedAt,
		MergedAtRemote:  pr.MergedAt,
		SyncedAt:        syncedAt,
	}
	if account != store.UnknownAccount {
		if student, ok := resolver.Resolve(account); ok {
			studentID := student.ID
			contribution.StudentID = &studentID
		}
	}
	return contribution
}
