package storage

import (
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		// Create schema_version table first
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}

		if err := createRequestsTable(tx); err != nil {
			return err
		}
		if err := createRepositoriesTable(tx); err != nil {
			return err
		}
		if err := createCommitsTable(tx); err != nil {
			return err
		}
		if err := createPullRequestsTable(tx); err != nil {
			return err
		}
		if err := createAnalyticsResultsTable(tx); err != nil {
			return err
		}

		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", map[string]interface{}{
			"version": currentSchemaVersion,
		})

		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}

	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", map[string]interface{}{
			"version": version,
		})
		return nil
	}

	if version == 0 {
		// Database file exists but has no schema; initialize from scratch
		return db.initializeSchema()
	}

	db.logger.Info("Running database migrations", map[string]interface{}{
		"from_version": version,
		"to_version":   currentSchemaVersion,
	})

	// Run migrations sequentially
	// Add migration functions here as schema evolves

	return nil
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion sets the schema version
func setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("DELETE FROM schema_version")
	if err != nil {
		return err
	}
	_, err = tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

// createSchemaVersionTable creates the schema_version tracking table
func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	return err
}

// createRequestsTable creates the analysis request queue table
func createRequestsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			repository TEXT NOT NULL,
			from_date TEXT NOT NULL DEFAULT '',
			to_date TEXT NOT NULL DEFAULT '',
			options TEXT NOT NULL DEFAULT '[]',
			status TEXT NOT NULL DEFAULT 'Requested'
				CHECK(status IN ('Requested', 'Running', 'Completed', 'Failed')),
			created_at TEXT NOT NULL,
			started_at TEXT,
			finished_at TEXT,
			error_message TEXT,
			result_reference TEXT,

			-- A terminal row carries exactly one of error_message / result_reference
			CHECK(
				(status = 'Failed' AND error_message IS NOT NULL AND result_reference IS NULL) OR
				(status = 'Completed' AND result_reference IS NOT NULL AND error_message IS NULL) OR
				(status IN ('Requested', 'Running') AND error_message IS NULL AND result_reference IS NULL)
			)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create requests table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status)",
		"CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_requests_status_created ON requests(status, created_at)",
	}
	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// createRepositoriesTable creates the fetched-repository cache table
func createRepositoriesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS repositories (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			name TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			default_branch TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL DEFAULT 0,
			is_fork INTEGER NOT NULL DEFAULT 0,
			last_fetched_at TEXT NOT NULL,

			UNIQUE(project, name)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create repositories table: %w", err)
	}
	return nil
}

// createCommitsTable creates the commit cache table
func createCommitsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS commits (
			repository_id TEXT NOT NULL,
			commit_id TEXT NOT NULL,
			author_name TEXT NOT NULL,
			author_email TEXT NOT NULL,
			author_date TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			additions INTEGER NOT NULL DEFAULT 0,
			edits INTEGER NOT NULL DEFAULT 0,
			deletions INTEGER NOT NULL DEFAULT 0,
			is_merge INTEGER NOT NULL DEFAULT 0,

			PRIMARY KEY (repository_id, commit_id),
			FOREIGN KEY (repository_id) REFERENCES repositories(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create commits table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_commits_author_date ON commits(repository_id, author_date)",
		"CREATE INDEX IF NOT EXISTS idx_commits_author_email ON commits(author_email)",
	}
	for _, indexSQL := range indexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// createPullRequestsTable creates the pull request cache table
func createPullRequestsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS pull_requests (
			repository_id TEXT NOT NULL,
			pr_id INTEGER NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			source_branch TEXT NOT NULL DEFAULT '',
			target_branch TEXT NOT NULL DEFAULT '',
			created_date TEXT NOT NULL,
			closed_date TEXT,

			PRIMARY KEY (repository_id, pr_id),
			FOREIGN KEY (repository_id) REFERENCES repositories(id) ON DELETE CASCADE
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create pull_requests table: %w", err)
	}

	if _, err := tx.Exec(
		"CREATE INDEX IF NOT EXISTS idx_pull_requests_status ON pull_requests(repository_id, status)",
	); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// createAnalyticsResultsTable creates the produced-artifact registry table
func createAnalyticsResultsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS analytics_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			project TEXT NOT NULL,
			repository TEXT NOT NULL,
			artifact_path TEXT NOT NULL,
			summary_path TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create analytics_results table: %w", err)
	}

	if _, err := tx.Exec(
		"CREATE INDEX IF NOT EXISTS idx_analytics_results_created ON analytics_results(created_at)",
	); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}
