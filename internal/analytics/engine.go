package analytics

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"repometrics/internal/azure"
	svcerrors "repometrics/internal/errors"
	"repometrics/internal/logging"
	"repometrics/internal/queue"
)

// Report is the materialized analysis result for one request. Sections not
// selected by the request are omitted.
type Report struct {
	Project     string    `json:"project"`
	Repository  string    `json:"repository"`
	GeneratedAt time.Time `json:"generatedAt"`
	FromDate    string    `json:"fromDate,omitempty"`
	ToDate      string    `json:"toDate,omitempty"`

	Commits      *CommitMetrics      `json:"commits,omitempty"`
	Authors      *AuthorMetrics      `json:"authors,omitempty"`
	Branches     *BranchMetrics      `json:"branches,omitempty"`
	PullRequests *PullRequestMetrics `json:"pullRequests,omitempty"`
}

// Config contains engine configuration.
type Config struct {
	OutputDirectory string
	FilenamePrefix  string
}

// Engine computes metrics and writes report artifacts. It satisfies the
// queue executor's Analyzer contract.
type Engine struct {
	outputDir string
	prefix    string
	logger    *logging.Logger

	// now is injectable so tests get stable artifact names
	now func() time.Time
}

// NewEngine creates an analytics engine.
func NewEngine(cfg Config, logger *logging.Logger) *Engine {
	if cfg.OutputDirectory == "" {
		cfg.OutputDirectory = "output"
	}
	if cfg.FilenamePrefix == "" {
		cfg.FilenamePrefix = "repometrics"
	}
	return &Engine{
		outputDir: cfg.OutputDirectory,
		prefix:    cfg.FilenamePrefix,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Analyze computes the requested metric categories and writes the report
// artifact plus a CSV summary. It returns the artifact path as the result
// reference.
func (e *Engine) Analyze(ctx context.Context, req *queue.Request, data *azure.RepositoryData) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", svcerrors.Wrap(svcerrors.AnalysisFailed, "analysis cancelled", err)
	}
	if data == nil || (len(data.Commits) == 0 && len(data.Branches) == 0 && len(data.PullRequests) == 0) {
		return "", svcerrors.Newf(svcerrors.AnalysisFailed,
			"no data to analyze for %s/%s", req.Project, req.Repository)
	}

	commits := filterCommits(data.Commits, req.DateRange())

	report := &Report{
		Project:     req.Project,
		Repository:  req.Repository,
		GeneratedAt: e.now(),
		FromDate:    req.FromDate,
		ToDate:      req.ToDate,
	}

	if req.WantsCategory(queue.CategoryCommits) {
		report.Commits = computeCommitMetrics(commits)
	}
	if req.WantsCategory(queue.CategoryAuthors) {
		report.Authors = computeAuthorMetrics(commits)
	}
	if req.WantsCategory(queue.CategoryBranches) {
		report.Branches = computeBranchMetrics(data.Branches)
	}
	if req.WantsCategory(queue.CategoryPullRequests) {
		report.PullRequests = computePullRequestMetrics(data.PullRequests)
	}

	artifactPath, err := e.writeArtifact(report)
	if err != nil {
		return "", svcerrors.Wrap(svcerrors.AnalysisFailed, "failed to write report artifact", err)
	}

	summaryPath := strings.TrimSuffix(artifactPath, ".json.gz") + ".csv"
	if err := e.writeSummaryCSV(summaryPath, report); err != nil {
		return "", svcerrors.Wrap(svcerrors.AnalysisFailed, "failed to write summary", err)
	}

	e.logger.Info("Report written", map[string]interface{}{
		"requestId": req.ID,
		"artifact":  artifactPath,
		"summary":   summaryPath,
	})
	return artifactPath, nil
}

// filterCommits keeps commits inside the analysis window.
func filterCommits(commits []azure.Commit, dateRange azure.DateRange) []azure.Commit {
	if dateRange.From.IsZero() && dateRange.To.IsZero() {
		return commits
	}
	filtered := make([]azure.Commit, 0, len(commits))
	for _, commit := range commits {
		if !dateRange.From.IsZero() && commit.AuthorDate.Before(dateRange.From) {
			continue
		}
		if !dateRange.To.IsZero() && commit.AuthorDate.After(dateRange.To) {
			continue
		}
		filtered = append(filtered, commit)
	}
	return filtered
}

// writeArtifact writes the gzip-compressed JSON report. Names carry a
// timestamp, so a re-run never clobbers an earlier artifact.
func (e *Engine) writeArtifact(report *Report) (string, error) {
	if err := os.MkdirAll(e.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := fmt.Sprintf("%s_%s_%s_%s.json.gz",
		e.prefix,
		sanitizeName(report.Project),
		sanitizeName(report.Repository),
		report.GeneratedAt.Format("20060102_150405"))
	path := filepath.Join(e.outputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	zw := gzip.NewWriter(f)
	encoder := json.NewEncoder(zw)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		_ = zw.Close()
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to flush artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}
	return path, nil
}

// writeSummaryCSV writes the headline numbers next to the artifact.
func (e *Engine) writeSummaryCSV(path string, report *Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary: %w", err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	rows := [][]string{{"metric", "value"}}

	rows = append(rows,
		[]string{"project", report.Project},
		[]string{"repository", report.Repository},
		[]string{"generated_at", report.GeneratedAt.Format(time.RFC3339)},
	)
	if report.Commits != nil {
		rows = append(rows,
			[]string{"commits_total", strconv.Itoa(report.Commits.Total)},
			[]string{"commits_merges", strconv.Itoa(report.Commits.Merges)},
			[]string{"commits_additions", strconv.Itoa(report.Commits.Additions)},
			[]string{"commits_deletions", strconv.Itoa(report.Commits.Deletions)},
		)
	}
	if report.Authors != nil {
		rows = append(rows,
			[]string{"authors_total", strconv.Itoa(report.Authors.TotalAuthors)},
			[]string{"bus_factor_50", strconv.Itoa(report.Authors.BusFactor50)},
			[]string{"bus_factor_80", strconv.Itoa(report.Authors.BusFactor80)},
		)
	}
	if report.Branches != nil {
		rows = append(rows,
			[]string{"branches_total", strconv.Itoa(report.Branches.Total)},
			[]string{"branches_feature", strconv.Itoa(report.Branches.Feature)},
		)
	}
	if report.PullRequests != nil {
		rows = append(rows,
			[]string{"pull_requests_total", strconv.Itoa(report.PullRequests.Total)},
			[]string{"pull_requests_merge_rate", strconv.FormatFloat(report.PullRequests.MergeRate, 'f', 3, 64)},
		)
	}

	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write summary rows: %w", err)
	}
	return f.Close()
}

// sanitizeName makes a target component safe for use in a filename.
func sanitizeName(name string) string {
	replacer := strings.NewReplacer(" ", "-", "/", "-", "\\", "-", ":", "-")
	return strings.ToLower(replacer.Replace(name))
}
