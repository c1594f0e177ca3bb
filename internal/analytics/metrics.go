// Package analytics computes repository metrics from fetched data and
// materializes them into report artifacts.
package analytics

import (
	"sort"
	"strings"
	"time"

	"repometrics/internal/azure"
)

// CommitMetrics summarizes commit activity.
type CommitMetrics struct {
	Total      int     `json:"total"`
	Merges     int     `json:"merges"`
	MergeRatio float64 `json:"mergeRatio"`
	Additions  int     `json:"additions"`
	Edits      int     `json:"edits"`
	Deletions  int     `json:"deletions"`

	ByDayOfWeek map[string]int `json:"byDayOfWeek"`
	ByHour      map[int]int    `json:"byHour"`
	ByMonth     map[string]int `json:"byMonth"`
}

// AuthorStats holds per-author activity.
type AuthorStats struct {
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Commits     int       `json:"commits"`
	Additions   int       `json:"additions"`
	Deletions   int       `json:"deletions"`
	FirstCommit time.Time `json:"firstCommit"`
	LastCommit  time.Time `json:"lastCommit"`
}

// AuthorMetrics summarizes contributor activity and concentration.
type AuthorMetrics struct {
	TotalAuthors int           `json:"totalAuthors"`
	Top          []AuthorStats `json:"topContributors"`

	// BusFactor50/80: the minimum number of authors that together account
	// for 50% / 80% of all commits.
	BusFactor50 int `json:"busFactor50"`
	BusFactor80 int `json:"busFactor80"`
}

// BranchMetrics summarizes branch naming patterns.
type BranchMetrics struct {
	Total    int            `json:"total"`
	Feature  int            `json:"feature"`
	Hotfix   int            `json:"hotfix"`
	Release  int            `json:"release"`
	Other    int            `json:"other"`
	Prefixes map[string]int `json:"prefixes"`
}

// ReviewerStats holds per-reviewer pull request activity.
type ReviewerStats struct {
	Name      string `json:"name"`
	Reviews   int    `json:"reviews"`
	Approvals int    `json:"approvals"`
}

// PullRequestMetrics summarizes pull request throughput.
type PullRequestMetrics struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`

	// MergeRate is the fraction of pull requests that completed.
	MergeRate float64 `json:"mergeRate"`

	// MeanTimeToCloseHours averages creation-to-close over closed PRs.
	MeanTimeToCloseHours float64 `json:"meanTimeToCloseHours"`

	TopReviewers []ReviewerStats `json:"topReviewers"`
}

const topContributorLimit = 10

// computeCommitMetrics aggregates commit counts and activity distributions.
func computeCommitMetrics(commits []azure.Commit) *CommitMetrics {
	m := &CommitMetrics{
		ByDayOfWeek: make(map[string]int),
		ByHour:      make(map[int]int),
		ByMonth:     make(map[string]int),
	}

	for _, commit := range commits {
		m.Total++
		if commit.IsMerge() {
			m.Merges++
		}
		m.Additions += commit.Additions
		m.Edits += commit.Edits
		m.Deletions += commit.Deletions

		when := commit.AuthorDate.UTC()
		m.ByDayOfWeek[when.Weekday().String()]++
		m.ByHour[when.Hour()]++
		m.ByMonth[when.Format("2006-01")]++
	}

	if m.Total > 0 {
		m.MergeRatio = float64(m.Merges) / float64(m.Total)
	}
	return m
}

// computeAuthorMetrics aggregates per-author stats and bus factors.
func computeAuthorMetrics(commits []azure.Commit) *AuthorMetrics {
	byEmail := make(map[string]*AuthorStats)
	for _, commit := range commits {
		key := strings.ToLower(commit.AuthorEmail)
		stats, ok := byEmail[key]
		if !ok {
			stats = &AuthorStats{
				Name:        commit.AuthorName,
				Email:       commit.AuthorEmail,
				FirstCommit: commit.AuthorDate,
				LastCommit:  commit.AuthorDate,
			}
			byEmail[key] = stats
		}
		stats.Commits++
		stats.Additions += commit.Additions
		stats.Deletions += commit.Deletions
		if commit.AuthorDate.Before(stats.FirstCommit) {
			stats.FirstCommit = commit.AuthorDate
		}
		if commit.AuthorDate.After(stats.LastCommit) {
			stats.LastCommit = commit.AuthorDate
		}
	}

	authors := make([]AuthorStats, 0, len(byEmail))
	for _, stats := range byEmail {
		authors = append(authors, *stats)
	}
	sort.Slice(authors, func(i, j int) bool {
		if authors[i].Commits != authors[j].Commits {
			return authors[i].Commits > authors[j].Commits
		}
		return authors[i].Email < authors[j].Email
	})

	m := &AuthorMetrics{TotalAuthors: len(authors)}

	top := authors
	if len(top) > topContributorLimit {
		top = top[:topContributorLimit]
	}
	m.Top = top

	m.BusFactor50 = busFactor(authors, len(commits), 0.5)
	m.BusFactor80 = busFactor(authors, len(commits), 0.8)
	return m
}

// busFactor returns the minimum number of authors (sorted by commit count,
// descending) whose commits cover the given share of the total.
func busFactor(sorted []AuthorStats, totalCommits int, share float64) int {
	if totalCommits == 0 {
		return 0
	}
	needed := int(float64(totalCommits)*share + 0.999999) // ceil
	covered := 0
	for i, author := range sorted {
		covered += author.Commits
		if covered >= needed {
			return i + 1
		}
	}
	return len(sorted)
}

// computeBranchMetrics classifies branches by naming convention.
func computeBranchMetrics(branches []azure.Branch) *BranchMetrics {
	m := &BranchMetrics{Prefixes: make(map[string]int)}

	for _, branch := range branches {
		m.Total++

		prefix := "(none)"
		if idx := strings.Index(branch.Name, "/"); idx > 0 {
			prefix = branch.Name[:idx]
		}
		m.Prefixes[prefix]++

		switch strings.ToLower(prefix) {
		case "feature", "features", "feat":
			m.Feature++
		case "hotfix", "fix", "bugfix":
			m.Hotfix++
		case "release", "releases":
			m.Release++
		default:
			m.Other++
		}
	}
	return m
}

// computePullRequestMetrics aggregates pull request state and review stats.
func computePullRequestMetrics(pullRequests []azure.PullRequest) *PullRequestMetrics {
	m := &PullRequestMetrics{ByStatus: make(map[string]int)}

	reviewers := make(map[string]*ReviewerStats)
	var closedCount int
	var totalClose time.Duration

	for _, pr := range pullRequests {
		m.Total++
		m.ByStatus[pr.Status]++

		if pr.ClosedDate != nil && pr.ClosedDate.After(pr.CreatedDate) {
			closedCount++
			totalClose += pr.ClosedDate.Sub(pr.CreatedDate)
		}

		for _, reviewer := range pr.Reviewers {
			stats, ok := reviewers[reviewer.Name]
			if !ok {
				stats = &ReviewerStats{Name: reviewer.Name}
				reviewers[reviewer.Name] = stats
			}
			stats.Reviews++
			if reviewer.Vote > 0 {
				stats.Approvals++
			}
		}
	}

	if m.Total > 0 {
		m.MergeRate = float64(m.ByStatus["completed"]) / float64(m.Total)
	}
	if closedCount > 0 {
		m.MeanTimeToCloseHours = totalClose.Hours() / float64(closedCount)
	}

	top := make([]ReviewerStats, 0, len(reviewers))
	for _, stats := range reviewers {
		top = append(top, *stats)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Reviews != top[j].Reviews {
			return top[i].Reviews > top[j].Reviews
		}
		return top[i].Name < top[j].Name
	})
	if len(top) > topContributorLimit {
		top = top[:topContributorLimit]
	}
	m.TopReviewers = top

	return m
}
