package storage

import (
	"database/sql"
	"fmt"
	"time"

	"repometrics/internal/azure"
)

// Cache persists fetched repository data and produced artifacts so repeat
// analyses can reuse prior fetches and old outputs can be pruned.
type Cache struct {
	db *DB
}

// NewCache creates a cache backed by the given database
func NewCache(db *DB) *Cache {
	return &Cache{db: db}
}

// SaveRepositoryData upserts the repository row and inserts any commits and
// pull requests not already cached.
func (c *Cache) SaveRepositoryData(data *azure.RepositoryData) error {
	return c.db.WithTx(func(tx *sql.Tx) error {
		repo := data.Repository
		_, err := tx.Exec(`
			INSERT INTO repositories (id, project, name, url, default_branch, size, is_fork, last_fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				url = excluded.url,
				default_branch = excluded.default_branch,
				size = excluded.size,
				is_fork = excluded.is_fork,
				last_fetched_at = excluded.last_fetched_at
		`, repo.ID, repo.Project, repo.Name, repo.URL, repo.DefaultBranch,
			repo.Size, boolToInt(repo.IsFork), data.FetchedAt.UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to upsert repository: %w", err)
		}

		for _, commit := range data.Commits {
			_, err := tx.Exec(`
				INSERT OR IGNORE INTO commits
					(repository_id, commit_id, author_name, author_email, author_date,
					 message, additions, edits, deletions, is_merge)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, repo.ID, commit.CommitID, commit.AuthorName, commit.AuthorEmail,
				commit.AuthorDate.UTC().Format(time.RFC3339), commit.Message,
				commit.Additions, commit.Edits, commit.Deletions, boolToInt(commit.IsMerge()))
			if err != nil {
				return fmt.Errorf("failed to insert commit %s: %w", commit.CommitID, err)
			}
		}

		for _, pr := range data.PullRequests {
			var closed interface{}
			if pr.ClosedDate != nil {
				closed = pr.ClosedDate.UTC().Format(time.RFC3339)
			}
			_, err := tx.Exec(`
				INSERT INTO pull_requests
					(repository_id, pr_id, title, author, status,
					 source_branch, target_branch, created_date, closed_date)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(repository_id, pr_id) DO UPDATE SET
					status = excluded.status,
					closed_date = excluded.closed_date
			`, repo.ID, pr.ID, pr.Title, pr.Author, pr.Status,
				pr.SourceBranch, pr.TargetBranch,
				pr.CreatedDate.UTC().Format(time.RFC3339), closed)
			if err != nil {
				return fmt.Errorf("failed to upsert pull request %d: %w", pr.ID, err)
			}
		}

		return nil
	})
}

// LatestCommitDate returns the newest cached commit date for the repository,
// or nil when nothing is cached yet.
func (c *Cache) LatestCommitDate(project, repository string) (*time.Time, error) {
	var raw sql.NullString
	err := c.db.QueryRow(`
		SELECT MAX(c.author_date)
		FROM commits c
		JOIN repositories r ON r.id = c.repository_id
		WHERE r.project = ? AND r.name = ? COLLATE NOCASE
	`, project, repository).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest commit date: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, raw.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse cached commit date: %w", err)
	}
	return &t, nil
}

// CommitCount returns the number of cached commits for the repository
func (c *Cache) CommitCount(project, repository string) (int, error) {
	var count int
	err := c.db.QueryRow(`
		SELECT COUNT(*)
		FROM commits c
		JOIN repositories r ON r.id = c.repository_id
		WHERE r.project = ? AND r.name = ? COLLATE NOCASE
	`, project, repository).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count commits: %w", err)
	}
	return count, nil
}

// RecordResult registers a produced analytics artifact
func (c *Cache) RecordResult(requestID, project, repository, artifactPath, summaryPath string) error {
	_, err := c.db.Exec(`
		INSERT INTO analytics_results (request_id, project, repository, artifact_path, summary_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, requestID, project, repository, artifactPath, summaryPath,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}
	return nil
}

// Result is a registered analytics artifact
type Result struct {
	ID           int64     `json:"id"`
	RequestID    string    `json:"requestId"`
	Project      string    `json:"project"`
	Repository   string    `json:"repository"`
	ArtifactPath string    `json:"artifactPath"`
	SummaryPath  string    `json:"summaryPath,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ListResults returns the most recent artifacts, newest first
func (c *Cache) ListResults(limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := c.db.Query(`
		SELECT id, request_id, project, repository, artifact_path, summary_path, created_at
		FROM analytics_results
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var createdAt string
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Project, &r.Repository,
			&r.ArtifactPath, &r.SummaryPath, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			r.CreatedAt = t
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CleanupOldResults deletes artifact records older than the retention window.
// It returns the number of rows removed.
func (c *Cache) CleanupOldResults(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	res, err := c.db.Exec(
		"DELETE FROM analytics_results WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up results: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
