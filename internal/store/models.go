package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a pull request at last sync time. It is
// derived from the remote merge/close fields, never set independently.
type Status string

const (
	// StatusOpen marks a pull request that is neither closed nor merged.
	StatusOpen Status = "open"
	// StatusClosed marks a pull request closed without a merge.
	StatusClosed Status = "closed"
	// StatusMerged marks a pull request with a merge timestamp.
	StatusMerged Status = "merged"
)

// DeriveStatus maps remote pull-request state onto a Status. A merge
// timestamp wins over the closed state.
func DeriveStatus(remoteState string, merged bool) Status {
	if merged {
		return StatusMerged
	}
	if remoteState == "closed" {
		return StatusClosed
	}
	return StatusOpen
}

// UnknownAccount is recorded when the remote system reports no author.
const UnknownAccount = "unknown"

// Badge values for the top three leaderboard ranks.
const (
	BadgeGold   = "gold"
	BadgeSilver = "silver"
	BadgeBronze = "bronze"
)

// Labels is a pull request's label set, stored as a JSON column.
type Labels []string

// Value implements driver.Valuer.
func (l Labels) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	encoded, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal labels: %w", err)
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner.
func (l *Labels) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	var raw []byte
	switch value := src.(type) {
	case []byte:
		raw = value
	case string:
		raw = []byte(value)
	default:
		return fmt.Errorf("scan labels: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, l)
}

// Student is a registered student identity. The GitHub profile URL links the
// internal record to an external account handle.
type Student struct {
	ID               string    `gorm:"primaryKey" json:"id"`
	Name             string    `gorm:"not null" json:"name"`
	Email            string    `json:"email,omitempty"`
	AvatarURL        string    `json:"avatar_url,omitempty"`
	GitHubProfileURL string    `gorm:"column:github_profile_url" json:"github_profile_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Contribution is the durable record of one pull request's state and score at
// last sync time. Exactly one row exists per (repository, pr_number).
type Contribution struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	Repository      string    `gorm:"uniqueIndex:idx_repo_pr;not null" json:"repository"`
	PRNumber        int       `gorm:"uniqueIndex:idx_repo_pr;column:pr_number;not null" json:"pr_number"`
	ExternalAccount string    `gorm:"index" json:"external_account"`
	StudentID       *string   `gorm:"index" json:"student_id,omitempty"`
	Title           string    `json:"title"`
	URL             string    `json:"url"`
	Status          Status    `gorm:"index" json:"status"`
	Labels          Labels    `gorm:"type:text" json:"labels"`
	Points          int       `json:"points"`
	CreatedAtRemote time.Time `json:"created_at_remote"`
	UpdatedAtRemote time.Time `json:"updated_at_remote"`
	MergedAtRemote  time.Time `json:"merged_at_remote,omitempty"`
	SyncedAt        time.Time `json:"synced_at"`
}

// LeaderboardEntry is one derived ranking row. Entries carry no identity
// across rebuilds; the whole projection is replaced wholesale.
type LeaderboardEntry struct {
	Rank             int    `gorm:"primaryKey" json:"rank"`
	StudentID        string `gorm:"index;not null" json:"student_id"`
	Name             string `json:"name"`
	AvatarURL        string `json:"avatar_url,omitempty"`
	GitHubProfileURL string `gorm:"column:github_profile_url" json:"github_profile_url,omitempty"`
	Points           int    `json:"points"`
	Contributions    int    `json:"contributions"`
	Badge            string `json:"badge,omitempty"`
}

// StudentTotals aggregates one linked student's contributions.
type StudentTotals struct {
	Student       Student
	Points        int
	Contributions int
}

// ContributionFilter selects and pages contribution listings.
type ContributionFilter struct {
	Repository string
	Status     Status
	Page       int
	PerPage    int
}

func (f ContributionFilter) normalized() ContributionFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PerPage <= 0 || f.PerPage > 100 {
		f.PerPage = 20
	}
	return f
}

// RepoStats summarizes stored contributions for one repository.
type RepoStats struct {
	Repository           string `json:"repository"`
	TotalContributions   int    `json:"total_contributions"`
	TotalPoints          int    `json:"total_points"`
	DistinctContributors int    `json:"distinct_contributors"`
	OpenCount            int    `json:"open_count"`
	ClosedCount          int    `json:"closed_count"`
	MergedCount          int    `json:"merged_count"`
}
