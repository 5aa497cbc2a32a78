// Package leaderboard rebuilds the ranked standings projection from stored
// contributions.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/osscampus/contrib-board/internal/store"
)

// LockKey names the single-flight rebuild lock.
const LockKey = "leaderboard:rebuild"

// ErrRebuildInProgress is returned when another rebuild holds the lock.
var ErrRebuildInProgress = errors.New("leaderboard rebuild already in progress")

// Source supplies ranking input and receives the finished projection.
type Source interface {
	StudentContributionTotals(ctx context.Context) ([]store.StudentTotals, error)
	ReplaceLeaderboard(ctx context.Context, entries []store.LeaderboardEntry) error
}

// Rebuilder recomputes the leaderboard under a rebuild lock. A rebuild is a
// pure function of stored contributions; running it twice in a row yields the
// same projection.
type Rebuilder struct {
	source  Source
	locker  store.Locker
	lockTTL time.Duration
	logger  *zap.Logger
}

// NewRebuilder creates a rebuilder guarded by the given locker.
func NewRebuilder(source Source, locker store.Locker, lockTTL time.Duration, logger ...*zap.Logger) *Rebuilder {
	baseLogger := zap.NewNop()
	if len(logger) > 0 && logger[0] != nil {
		baseLogger = logger[0]
	}
	if locker == nil {
		locker = store.NewLocalLocker()
	}
	return &Rebuilder{
		source:  source,
		locker:  locker,
		lockTTL: lockTTL,
		logger:  baseLogger,
	}
}

// Rebuild aggregates linked contributions, ranks them, and swaps the stored
// projection. It returns the number of ranked students.
func (r *Rebuilder) Rebuild(ctx context.Context) (int, error) {
	acquired, err := r.locker.Acquire(ctx, LockKey, r.lockTTL)
	if err != nil {
		return 0, fmt.Errorf("acquire rebuild lock: %w", err)
	}
	if !acquired {
		return 0, ErrRebuildInProgress
	}
	defer func() {
		if releaseErr := r.locker.Release(context.WithoutCancel(ctx), LockKey); releaseErr != nil {
			r.logger.Warn("release rebuild lock", zap.Error(releaseErr))
		}
	}()

	started := time.Now()
	totals, err := r.source.StudentContributionTotals(ctx)
	if err != nil {
		return 0, fmt.Errorf("aggregate contribution totals: %w", err)
	}

	entries := Rank(totals)
	if err := r.source.ReplaceLeaderboard(ctx, entries); err != nil {
		return 0, fmt.Errorf("replace leaderboard: %w", err)
	}

	r.logger.Info("leaderboard rebuilt",
		zap.Int("students", len(entries)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return len(entries), nil
}

// Rank orders totals by points descending, breaking ties by student id, and
// assigns ranks 1..N with no gaps or duplicates. Ties take consecutive ranks
// in tie-break order rather than sharing one. The top three ranks carry
// badges.
func Rank(totals []store.StudentTotals) []store.LeaderboardEntry {
	ordered := make([]store.StudentTotals, len(totals))
	copy(ordered, totals)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Points != ordered[j].Points {
			return ordered[i].Points > ordered[j].Points
		}
		return ordered[i].Student.ID < ordered[j].Student.ID
	})

	entries := make([]store.LeaderboardEntry, 0, len(ordered))
	for position, totals := range ordered {
		rank := position + 1
		entries = append(entries, store.LeaderboardEntry{
			Rank:             rank,
			StudentID:        totals.Student.ID,
			Name:             totals.Student.Name,
			AvatarURL:        totals.Student.AvatarURL,
			GitHubProfileURL: totals.Student.GitHubProfileURL,
			Points:           totals.Points,
			Contributions:    totals.Contributions,
			Badge:            badgeForRank(rank),
		})
	}
	return entries
}

func badgeForRank(rank int) string {
	switch rank {
	case 1:
		return store.BadgeGold
	case 2:
		return store.BadgeSilver
	case 3:
		return store.BadgeBronze
	default:
		return ""
	}
}
