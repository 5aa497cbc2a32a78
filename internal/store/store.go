package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates a missing record.
var ErrNotFound = errors.New("record not found")

// Store persists contributions, student identities, and the leaderboard
// projection.
type Store interface {
	UpsertContribution(ctx context.Context, contribution Contribution) error
	ListContributions(ctx context.Context, filter ContributionFilter) ([]Contribution, int, error)
	WipeContributions(ctx context.Context) error
	RepoStats(ctx context.Context, repository string) (RepoStats, error)

	StudentContributionTotals(ctx context.Context) ([]StudentTotals, error)
	ReplaceLeaderboard(ctx context.Context, entries []LeaderboardEntry) error
	Leaderboard(ctx context.Context) ([]LeaderboardEntry, error)

	CreateStudent(ctx context.Context, student Student) (Student, error)
	ListStudents(ctx context.Context) ([]Student, error)

	Ping(ctx context.Context) error
	Close() error
}

// MemoryStore is an in-memory Store, used as the default backend and in
// tests.
type MemoryStore struct {
	mu            sync.RWMutex
	contributions map[string]Contribution
	students      map[string]Student
	leaderboard   []LeaderboardEntry
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contributions: make(map[string]Contribution),
		students:      make(map[string]Student),
	}
}

func contributionKey(repository string, prNumber int) string {
	return repository + "#" + strconv.Itoa(prNumber)
}

// UpsertContribution inserts or overwrites the record keyed by
// (repository, pr_number).
func (s *MemoryStore) UpsertContribution(_ context.Context, contribution Contribution) error {
	if contribution.Repository == "" {
		return fmt.Errorf("contribution repository is required")
	}
	if contribution.PRNumber <= 0 {
		return fmt.Errorf("contribution pr number must be > 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := contributionKey(contribution.Repository, contribution.PRNumber)
	if existing, ok := s.contributions[key]; ok {
		contribution.ID = existing.ID
	} else {
		contribution.ID = uint(len(s.contributions) + 1)
	}
	s.contributions[key] = contribution
	return nil
}

// ListContributions returns a filtered page plus the total match count.
func (s *MemoryStore) ListContributions(_ context.Context, filter ContributionFilter) ([]Contribution, int, error) {
	filter = filter.normalized()

	s.mu.RLock()
	matched := make([]Contribution, 0, len(s.contributions))
	for _, contribution := range s.contributions {
		if filter.Repository != "" && contribution.Repository != filter.Repository {
			continue
		}
		if filter.Status != "" && contribution.Status != filter.Status {
			continue
		}
		matched = append(matched, contribution)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Repository != matched[j].Repository {
			return matched[i].Repository < matched[j].Repository
		}
		return matched[i].PRNumber < matched[j].PRNumber
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PerPage
	if start >= total {
		return []Contribution{}, total, nil
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// WipeContributions removes every contribution and the leaderboard built from
// them.
func (s *MemoryStore) WipeContributions(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contributions = make(map[string]Contribution)
	s.leaderboard = nil
	return nil
}

// RepoStats computes per-repository aggregates on demand.
func (s *MemoryStore) RepoStats(_ context.Context, repository string) (RepoStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RepoStats{Repository: repository}
	contributors := make(map[string]struct{})
	for _, contribution := range s.contributions {
		if contribution.Repository != repository {
			continue
		}
		stats.TotalContributions++
		stats.TotalPoints += contribution.Points
		contributors[contribution.ExternalAccount] = struct{}{}
		switch contribution.Status {
		case StatusOpen:
			stats.OpenCount++
		case StatusClosed:
			stats.ClosedCount++
		case StatusMerged:
			stats.MergedCount++
		}
	}
	stats.DistinctContributors = len(contributors)
	return stats, nil
}

// StudentContributionTotals aggregates linked contributions per student.
// Contributions without a student link are excluded.
func (s *MemoryStore) StudentContributionTotals(_ context.Context) ([]StudentTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalsByID := make(map[string]*StudentTotals)
	for _, contribution := range s.contributions {
		if contribution.StudentID == nil {
			continue
		}
		student, ok := s.students[*contribution.StudentID]
		if !ok {
			continue
		}
		totals, ok := totalsByID[student.ID]
		if !ok {
			totals = &StudentTotals{Student: student}
			totalsByID[student.ID] = totals
		}
		totals.Points += contribution.Points
		totals.Contributions++
	}

	result := make([]StudentTotals, 0, len(totalsByID))
	for _, totals := range totalsByID {
		result = append(result, *totals)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Student.ID < result[j].Student.ID
	})
	return result, nil
}

// ReplaceLeaderboard discards the current projection and installs the given
// entries atomically.
func (s *MemoryStore) ReplaceLeaderboard(_ context.Context, entries []LeaderboardEntry) error {
	replacement := make([]LeaderboardEntry, len(entries))
	copy(replacement, entries)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaderboard = replacement
	return nil
}

// Leaderboard returns the current projection in rank order.
func (s *MemoryStore) Leaderboard(_ context.Context) ([]LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]LeaderboardEntry, len(s.leaderboard))
	copy(result, s.leaderboard)
	return result, nil
}

// CreateStudent stores a student record, assigning an id when absent.
func (s *MemoryStore) CreateStudent(_ context.Context, student Student) (Student, error) {
	if student.Name == "" {
		return Student{}, fmt.Errorf("student name is required")
	}
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if student.CreatedAt.IsZero() {
		student.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.students[student.ID]; exists {
		return Student{}, fmt.Errorf("student %s already exists", student.ID)
	}
	s.students[student.ID] = student
	return student, nil
}

// ListStudents returns all student records ordered by id.
func (s *MemoryStore) ListStudents(_ context.Context) ([]Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Student, 0, len(s.students))
	for _, student := range s.students {
		result = append(result, student)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Ping reports readiness; the memory store is always ready.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close releases resources; the memory store holds none.
func (s *MemoryStore) Close() error {
	return nil
}
