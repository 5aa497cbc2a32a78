package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore is a SQLite-backed Store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens (or creates) the SQLite database at path and migrates the
// schema. Use ":memory:" for an ephemeral database.
func NewGormStore(path string) (*GormStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if path != ":memory:" {
		if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
			return nil, fmt.Errorf("configure sqlite: %w", err)
		}
	}

	if err := db.AutoMigrate(&Student{}, &Contribution{}, &LeaderboardEntry{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// UpsertContribution inserts the record or, when a row already exists for the
// same (repository, pr_number), overwrites its mutable columns in place.
func (s *GormStore) UpsertContribution(ctx context.Context, contribution Contribution) error {
	if contribution.Repository == "" {
		return fmt.Errorf("contribution repository is required")
	}
	if contribution.PRNumber <= 0 {
		return fmt.Errorf("contribution pr number must be > 0")
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "repository"}, {Name: "pr_number"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"external_account", "student_id", "title", "url", "status",
				"labels", "points", "created_at_remote", "updated_at_remote",
				"merged_at_remote", "synced_at",
			}),
		}).
		Create(&contribution).Error
	if err != nil {
		return fmt.Errorf("upsert contribution %s#%d: %w", contribution.Repository, contribution.PRNumber, err)
	}
	return nil
}

// ListContributions returns a filtered page plus the total match count.
func (s *GormStore) ListContributions(ctx context.Context, filter ContributionFilter) ([]Contribution, int, error) {
	filter = filter.normalized()

	query := s.db.WithContext(ctx).Model(&Contribution{})
	if filter.Repository != "" {
		query = query.Where("repository = ?", filter.Repository)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count contributions: %w", err)
	}

	contributions := []Contribution{}
	err := query.
		Order("repository ASC, pr_number ASC").
		Offset((filter.Page - 1) * filter.PerPage).
		Limit(filter.PerPage).
		Find(&contributions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list contributions: %w", err)
	}
	return contributions, int(total), nil
}

// WipeContributions removes every contribution and the leaderboard built from
// them.
func (s *GormStore) WipeContributions(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Contribution{}).Error; err != nil {
			return fmt.Errorf("wipe contributions: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&LeaderboardEntry{}).Error; err != nil {
			return fmt.Errorf("wipe leaderboard: %w", err)
		}
		return nil
	})
}

// RepoStats computes per-repository aggregates on demand.
func (s *GormStore) RepoStats(ctx context.Context, repository string) (RepoStats, error) {
	stats := RepoStats{Repository: repository}

	row := struct {
		TotalContributions   int
		TotalPoints          int
		DistinctContributors int
		OpenCount            int
		ClosedCount          int
		MergedCount          int
	}{}
	err := s.db.WithContext(ctx).Model(&Contribution{}).
		Select(
			"COUNT(*) AS total_contributions, "+
				"COALESCE(SUM(points), 0) AS total_points, "+
				"COUNT(DISTINCT external_account) AS distinct_contributors, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS open_count, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS closed_count, "+
				"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS merged_count",
			StatusOpen, StatusClosed, StatusMerged,
		).
		Where("repository = ?", repository).
		Scan(&row).Error
	if err != nil {
		return RepoStats{}, fmt.Errorf("aggregate repo stats: %w", err)
	}

	stats.TotalContributions = row.TotalContributions
	stats.TotalPoints = row.TotalPoints
	stats.DistinctContributors = row.DistinctContributors
	stats.OpenCount = row.OpenCount
	stats.ClosedCount = row.ClosedCount
	stats.MergedCount = row.MergedCount
	return stats, nil
}

// StudentContributionTotals aggregates linked contributions per student.
// Contributions without a student link are excluded.
func (s *GormStore) StudentContributionTotals(ctx context.Context) ([]StudentTotals, error) {
	rows := []struct {
		StudentID     string
		Points        int
		Contributions int
	}{}
	err := s.db.WithContext(ctx).Model(&Contribution{}).
		Select("student_id, COALESCE(SUM(points), 0) AS points, COUNT(*) AS contributions").
		Where("student_id IS NOT NULL").
		Group("student_id").
		Order("student_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate student totals: %w", err)
	}
	if len(rows) == 0 {
		return []StudentTotals{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.StudentID)
	}
	students := []Student{}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&students).Error; err != nil {
		return nil, fmt.Errorf("load students: %w", err)
	}
	byID := make(map[string]Student, len(students))
	for _, student := range students {
		byID[student.ID] = student
	}

	result := make([]StudentTotals, 0, len(rows))
	for _, row := range rows {
		student, ok := byID[row.StudentID]
		if !ok {
			// Contribution linked to a deleted student; leave it out of
			// the ranking input.
			continue
		}
		result = append(result, StudentTotals{
			Student:       student,
			Points:        row.Points,
			Contributions: row.Contributions,
		})
	}
	return result, nil
}

// ReplaceLeaderboard discards the current projection and installs the given
// entries in a single transaction.
func (s *GormStore) ReplaceLeaderboard(ctx context.Context, entries []LeaderboardEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&LeaderboardEntry{}).Error; err != nil {
			return fmt.Errorf("clear leaderboard: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		if err := tx.Create(&entries).Error; err != nil {
			return fmt.Errorf("insert leaderboard entries: %w", err)
		}
		return nil
	})
}

// Leaderboard returns the current projection in rank order.
func (s *GormStore) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	entries := []LeaderboardEntry{}
	if err := s.db.WithContext(ctx).Order("rank ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("load leaderboard: %w", err)
	}
	return entries, nil
}

// CreateStudent stores a student record, assigning an id when absent.
func (s *GormStore) CreateStudent(ctx context.Context, student Student) (Student, error) {
	if student.Name == "" {
		return Student{}, fmt.Errorf("student name is required")
	}
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if student.CreatedAt.IsZero() {
		student.CreatedAt = time.Now().UTC()
	}

	if err := s.db.WithContext(ctx).Create(&student).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Student{}, fmt.Errorf("student %s already exists", student.ID)
		}
		return Student{}, fmt.Errorf("create student: %w", err)
	}
	return student, nil
}

// ListStudents returns all student records ordered by id.
func (s *GormStore) ListStudents(ctx context.Context) ([]Student, error) {
	students := []Student{}
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&students).Error; err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	return students, nil
}

// Ping verifies the underlying connection is usable.
func (s *GormStore) Ping(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql db: %w", err)
	}
	return db.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql db: %w", err)
	}
	return db.Close()
}
