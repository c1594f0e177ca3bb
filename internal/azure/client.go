// Package azure wraps the Azure DevOps REST API with bounded concurrency,
// retry with backoff, and typed failure classification.
package azure

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"repometrics/internal/logging"
)

const apiVersion = "6.0"

// Config contains fetch client configuration.
type Config struct {
	OrgURL         string // e.g. https://dev.azure.com/contoso
	PAT            string
	Timeout        time.Duration
	MaxRetries     int           // bound on transient-error retries
	RateLimitDelay time.Duration // pause after each successful call
	MaxConcurrent  int           // in-flight HTTP request cap
	BatchSize      int           // page size for commits and pull requests
	UserAgent      string
}

// Client is a rate-limited Azure DevOps REST API client.
type Client struct {
	http       *http.Client
	baseURL    string
	authHeader string
	userAgent  string

	maxRetries int
	rateDelay  time.Duration
	batchSize  int
	sem        chan struct{}

	logger *logging.Logger
}

// NewClient creates a fetch client. Zero config values fall back to defaults.
func NewClient(cfg Config, logger *logging.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "repometrics/1.0"
	}

	auth := base64.StdEncoding.EncodeToString([]byte(":" + cfg.PAT))

	return &Client{
		http:       &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.OrgURL, "/"),
		authHeader: "Basic " + auth,
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		rateDelay:  cfg.RateLimitDelay,
		batchSize:  cfg.BatchSize,
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		logger:     logger,
	}
}

// Fetch collects repository metadata, commits, branches, and pull requests
// for the target within the given range.
func (c *Client) Fetch(ctx context.Context, target Target, dateRange DateRange) (*RepositoryData, error) {
	repo, err := c.findRepository(ctx, target)
	if err != nil {
		return nil, err
	}

	commits, err := c.fetchCommits(ctx, target, dateRange)
	if err != nil {
		return nil, err
	}

	branches, err := c.fetchBranches(ctx, target, repo.DefaultBranch)
	if err != nil {
		return nil, err
	}

	pullRequests, err := c.fetchPullRequests(ctx, target)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Fetched repository data", map[string]interface{}{
		"project":      target.Project,
		"repository":   target.Repository,
		"commits":      len(commits),
		"branches":     len(branches),
		"pullRequests": len(pullRequests),
	})

	return &RepositoryData{
		Repository:   *repo,
		Commits:      commits,
		Branches:     branches,
		PullRequests: pullRequests,
		FetchedAt:    time.Now().UTC(),
	}, nil
}

func (c *Client) findRepository(ctx context.Context, target Target) (*Repository, error) {
	u := fmt.Sprintf("%s/%s/_apis/git/repositories", c.baseURL, url.PathEscape(target.Project))

	var payload struct {
		Value []struct {
			ID            string `json:"id"`
			Name          string `json:"name"`
			WebURL        string `json:"webUrl"`
			DefaultBranch string `json:"defaultBranch"`
			Size          int64  `json:"size"`
			IsFork        bool   `json:"isFork"`
		} `json:"value"`
	}

	if err := c.getJSON(ctx, "repositories", u, nil, &payload); err != nil {
		return nil, err
	}

	for _, r := range payload.Value {
		if strings.EqualFold(r.Name, target.Repository) {
			return &Repository{
				ID:            r.ID,
				Name:          r.Name,
				Project:       target.Project,
				URL:           r.WebURL,
				DefaultBranch: r.DefaultBranch,
				Size:          r.Size,
				IsFork:        r.IsFork,
			}, nil
		}
	}

	return nil, &FetchError{
		Kind: Permanent,
		Op:   "repositories",
		cause: fmt.Errorf("repository %q not found in project %q",
			target.Repository, target.Project),
	}
}

func (c *Client) fetchCommits(ctx context.Context, target Target, dateRange DateRange) ([]Commit, error) {
	u := fmt.Sprintf("%s/%s/_apis/git/repositories/%s/commits",
		c.baseURL, url.PathEscape(target.Project), url.PathEscape(target.Repository))

	var all []Commit
	skip := 0

	for {
		params := url.Values{}
		params.Set("$top", strconv.Itoa(c.batchSize))
		params.Set("$skip", strconv.Itoa(skip))
		if !dateRange.From.IsZero() {
			params.Set("searchCriteria.fromDate", dateRange.From.Format(time.RFC3339))
		}
		if !dateRange.To.IsZero() {
			params.Set("searchCriteria.toDate", dateRange.To.Format(time.RFC3339))
		}

		var payload struct {
			Value []struct {
				CommitID string `json:"commitId"`
				Author   struct {
					Name  string    `json:"name"`
					Email string    `json:"email"`
					Date  time.Time `json:"date"`
				} `json:"author"`
				Comment      string         `json:"comment"`
				ChangeCounts map[string]int `json:"changeCounts"`
				Parents      []string       `json:"parents"`
			} `json:"value"`
		}

		if err := c.getJSON(ctx, "commits", u, params, &payload); err != nil {
			return nil, err
		}

		for _, raw := range payload.Value {
			all = append(all, Commit{
				CommitID:    raw.CommitID,
				AuthorName:  raw.Author.Name,
				AuthorEmail: raw.Author.Email,
				AuthorDate:  raw.Author.Date,
				Message:     raw.Comment,
				Additions:   raw.ChangeCounts["Add"],
				Edits:       raw.ChangeCounts["Edit"],
				Deletions:   raw.ChangeCounts["Delete"],
				Parents:     raw.Parents,
			})
		}

		if len(payload.Value) < c.batchSize {
			return all, nil
		}
		skip += c.batchSize
	}
}

func (c *Client) fetchBranches(ctx context.Context, target Target, defaultBranch string) ([]Branch, error) {
	u := fmt.Sprintf("%s/%s/_apis/git/repositories/%s/refs",
		c.baseURL, url.PathEscape(target.Project), url.PathEscape(target.Repository))

	params := url.Values{}
	params.Set("filter", "heads/")

	var payload struct {
		Value []struct {
			Name     string `json:"name"`
			ObjectID string `json:"objectId"`
			Creator  struct {
				DisplayName string `json:"displayName"`
			} `json:"creator"`
		} `json:"value"`
	}

	if err := c.getJSON(ctx, "refs", u, params, &payload); err != nil {
		return nil, err
	}

	branches := make([]Branch, 0, len(payload.Value))
	for _, raw := range payload.Value {
		name := strings.TrimPrefix(raw.Name, "refs/heads/")
		branches = append(branches, Branch{
			Name:      name,
			ObjectID:  raw.ObjectID,
			Creator:   raw.Creator.DisplayName,
			IsDefault: raw.Name == defaultBranch,
		})
	}
	return branches, nil
}

func (c *Client) fetchPullRequests(ctx context.Context, target Target) ([]PullRequest, error) {
	u := fmt.Sprintf("%s/%s/_apis/git/repositories/%s/pullrequests",
		c.baseURL, url.PathEscape(target.Project), url.PathEscape(target.Repository))

	var all []PullRequest
	skip := 0

	for {
		params := url.Values{}
		params.Set("searchCriteria.status", "all")
		params.Set("$top", strconv.Itoa(c.batchSize))
		params.Set("$skip", strconv.Itoa(skip))

		var payload struct {
			Value []struct {
				PullRequestID int    `json:"pullRequestId"`
				Title         string `json:"title"`
				Status        string `json:"status"`
				SourceRefName string `json:"sourceRefName"`
				TargetRefName string `json:"targetRefName"`
				CreatedBy     struct {
					DisplayName string `json:"displayName"`
				} `json:"createdBy"`
				CreationDate time.Time  `json:"creationDate"`
				ClosedDate   *time.Time `json:"closedDate"`
				Reviewers    []struct {
					DisplayName string `json:"displayName"`
					Vote        int    `json:"vote"`
				} `json:"reviewers"`
			} `json:"value"`
		}

		if err := c.getJSON(ctx, "pullrequests", u, params, &payload); err != nil {
			return nil, err
		}

		for _, raw := range payload.Value {
			pr := PullRequest{
				ID:           raw.PullRequestID,
				Title:        raw.Title,
				Author:       raw.CreatedBy.DisplayName,
				Status:       raw.Status,
				SourceBranch: raw.SourceRefName,
				TargetBranch: raw.TargetRefName,
				CreatedDate:  raw.CreationDate,
				ClosedDate:   raw.ClosedDate,
			}
			for _, rev := range raw.Reviewers {
				pr.Reviewers = append(pr.Reviewers, Reviewer{Name: rev.DisplayName, Vote: rev.Vote})
			}
			all = append(all, pr)
		}

		if len(payload.Value) < c.batchSize {
			return all, nil
		}
		skip += c.batchSize
	}
}

// getJSON performs a GET with auth, concurrency capping, retry with
// exponential backoff on transient failures, and the configured rate delay
// after each successful call.
func (c *Client) getJSON(ctx context.Context, op, rawURL string, params url.Values, out interface{}) error {
	attempt := 0

	operation := func() error {
		attempt++
		err := c.doGet(ctx, op, rawURL, params, out)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("Request attempt failed", map[string]interface{}{
			"op":      op,
			"attempt": attempt,
			"error":   err.Error(),
		})
		return err
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)),
		ctx,
	)

	if err := backoff.Retry(operation, bo); err != nil {
		if fe, ok := err.(*FetchError); ok {
			return fe
		}
		// Context cancellation surfaces here; treat as transient.
		return &FetchError{Kind: Transient, Op: op, cause: err}
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, op, rawURL string, params url.Values, out interface{}) error {
	c.sem <- struct{}{}
	defer func() { <-c.sem }()

	if params == nil {
		params = url.Values{}
	}
	params.Set("api-version", apiVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+"?"+params.Encode(), nil)
	if err != nil {
		return &FetchError{Kind: Permanent, Op: op, cause: err}
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Kind: Transient, Op: op, cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &FetchError{Kind: Transient, StatusCode: resp.StatusCode, Op: op}
	case resp.StatusCode >= 400:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &FetchError{Kind: Permanent, StatusCode: resp.StatusCode, Op: op}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &FetchError{Kind: Permanent, Op: op, cause: fmt.Errorf("malformed response: %w", err)}
	}

	if c.rateDelay > 0 {
		select {
		case <-time.After(c.rateDelay):
		case <-ctx.Done():
			return &FetchError{Kind: Transient, Op: op, cause: ctx.Err()}
		}
	}
	return nil
}
