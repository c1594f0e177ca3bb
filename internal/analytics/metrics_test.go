package analytics

import (
	"testing"
	"time"

	"repometrics/internal/azure"
)

func commitAt(email string, when time.Time, adds, dels int) azure.Commit {
	return azure.Commit{
		CommitID:    "c-" + email + when.Format("150405"),
		AuthorName:  email,
		AuthorEmail: email,
		AuthorDate:  when,
		Additions:   adds,
		Deletions:   dels,
	}
}

func TestComputeCommitMetrics(t *testing.T) {
	monday := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	commits := []azure.Commit{
		commitAt("a@x", monday, 10, 2),
		commitAt("b@x", monday.Add(time.Hour), 5, 1),
		{
			CommitID:   "merge-1",
			AuthorDate: monday.Add(2 * time.Hour),
			Parents:    []string{"p1", "p2"},
		},
	}

	m := computeCommitMetrics(commits)

	if m.Total != 3 {
		t.Errorf("Total = %d, want 3", m.Total)
	}
	if m.Merges != 1 {
		t.Errorf("Merges = %d, want 1", m.Merges)
	}
	if got := m.MergeRatio; got < 0.33 || got > 0.34 {
		t.Errorf("MergeRatio = %v", got)
	}
	if m.Additions != 15 || m.Deletions != 3 {
		t.Errorf("changes = +%d/-%d", m.Additions, m.Deletions)
	}
	if m.ByDayOfWeek["Monday"] != 3 {
		t.Errorf("ByDayOfWeek = %v", m.ByDayOfWeek)
	}
	if m.ByHour[9] != 1 || m.ByHour[10] != 1 || m.ByHour[11] != 1 {
		t.Errorf("ByHour = %v", m.ByHour)
	}
	if m.ByMonth["2026-03"] != 3 {
		t.Errorf("ByMonth = %v", m.ByMonth)
	}
}

func TestComputeAuthorMetrics(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	// ada: 6 commits, grace: 3, eve: 1
	var commits []azure.Commit
	for i := 0; i < 6; i++ {
		commits = append(commits, commitAt("ada@x", base.Add(time.Duration(i)*time.Hour), 1, 0))
	}
	for i := 0; i < 3; i++ {
		commits = append(commits, commitAt("grace@x", base.Add(time.Duration(i)*time.Hour), 1, 0))
	}
	commits = append(commits, commitAt("eve@x", base, 1, 0))

	m := computeAuthorMetrics(commits)

	if m.TotalAuthors != 3 {
		t.Errorf("TotalAuthors = %d, want 3", m.TotalAuthors)
	}
	if m.Top[0].Email != "ada@x" || m.Top[0].Commits != 6 {
		t.Errorf("Top[0] = %+v", m.Top[0])
	}
	// 10 commits: 50% needs 5 → ada alone; 80% needs 8 → ada+grace
	if m.BusFactor50 != 1 {
		t.Errorf("BusFactor50 = %d, want 1", m.BusFactor50)
	}
	if m.BusFactor80 != 2 {
		t.Errorf("BusFactor80 = %d, want 2", m.BusFactor80)
	}
}

func TestComputeAuthorMetricsEmpty(t *testing.T) {
	m := computeAuthorMetrics(nil)
	if m.TotalAuthors != 0 || m.BusFactor50 != 0 || m.BusFactor80 != 0 {
		t.Errorf("metrics = %+v, want zeros", m)
	}
}

func TestComputeBranchMetrics(t *testing.T) {
	branches := []azure.Branch{
		{Name: "main"},
		{Name: "feature/login"},
		{Name: "feature/search"},
		{Name: "hotfix/crash"},
		{Name: "release/1.2"},
		{Name: "spike/misc"},
	}

	m := computeBranchMetrics(branches)

	if m.Total != 6 {
		t.Errorf("Total = %d, want 6", m.Total)
	}
	if m.Feature != 2 || m.Hotfix != 1 || m.Release != 1 {
		t.Errorf("feature=%d hotfix=%d release=%d", m.Feature, m.Hotfix, m.Release)
	}
	if m.Other != 2 {
		t.Errorf("Other = %d, want 2 (main + spike)", m.Other)
	}
	if m.Prefixes["feature"] != 2 {
		t.Errorf("Prefixes = %v", m.Prefixes)
	}
	if m.Prefixes["(none)"] != 1 {
		t.Errorf("Prefixes[(none)] = %d, want 1", m.Prefixes["(none)"])
	}
}

func TestComputePullRequestMetrics(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	closedAfter := func(d time.Duration) *time.Time {
		t := created.Add(d)
		return &t
	}

	pullRequests := []azure.PullRequest{
		{
			ID: 1, Status: "completed", CreatedDate: created, ClosedDate: closedAfter(4 * time.Hour),
			Reviewers: []azure.Reviewer{{Name: "Ada", Vote: 10}, {Name: "Grace", Vote: 0}},
		},
		{
			ID: 2, Status: "completed", CreatedDate: created, ClosedDate: closedAfter(8 * time.Hour),
			Reviewers: []azure.Reviewer{{Name: "Ada", Vote: 5}},
		},
		{ID: 3, Status: "active", CreatedDate: created},
		{ID: 4, Status: "abandoned", CreatedDate: created, ClosedDate: closedAfter(12 * time.Hour)},
	}

	m := computePullRequestMetrics(pullRequests)

	if m.Total != 4 {
		t.Errorf("Total = %d, want 4", m.Total)
	}
	if m.ByStatus["completed"] != 2 || m.ByStatus["active"] != 1 {
		t.Errorf("ByStatus = %v", m.ByStatus)
	}
	if m.MergeRate != 0.5 {
		t.Errorf("MergeRate = %v, want 0.5", m.MergeRate)
	}
	// (4 + 8 + 12) / 3 closed PRs
	if m.MeanTimeToCloseHours != 8 {
		t.Errorf("MeanTimeToCloseHours = %v, want 8", m.MeanTimeToCloseHours)
	}
	if len(m.TopReviewers) != 2 || m.TopReviewers[0].Name != "Ada" {
		t.Fatalf("TopReviewers = %+v", m.TopReviewers)
	}
	if m.TopReviewers[0].Reviews != 2 || m.TopReviewers[0].Approvals != 2 {
		t.Errorf("Ada = %+v", m.TopReviewers[0])
	}
}

func TestBusFactorSingleAuthor(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	commits := []azure.Commit{
		commitAt("solo@x", base, 1, 0),
		commitAt("solo@x", base.Add(time.Hour), 1, 0),
	}

	m := computeAuthorMetrics(commits)
	if m.BusFactor50 != 1 || m.BusFactor80 != 1 {
		t.Errorf("bus factors = %d/%d, want 1/1", m.BusFactor50, m.BusFactor80)
	}
}
