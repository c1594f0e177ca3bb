// Package queue provides the durable analysis-request queue: the request
// store, the startup reconciler, the sequential executor, and the polling
// scheduler that drives requests from Requested to a terminal state.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"repometrics/internal/azure"
)

// Status represents the current state of an analysis request.
type Status string

const (
	StatusRequested Status = "Requested"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// ParseStatus validates a raw status string against the known set.
func ParseStatus(raw string) (Status, error) {
	status := Status(raw)
	switch status {
	case StatusRequested, StatusRunning, StatusCompleted, StatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("unknown status: %s", raw)
}

// Analysis categories selectable per request. An empty option set means all.
const (
	CategoryCommits      = "commits"
	CategoryAuthors      = "authors"
	CategoryBranches     = "branches"
	CategoryPullRequests = "pull_requests"
)

// Request represents one analysis request and its lifecycle state.
type Request struct {
	ID         string `json:"id"`
	Project    string `json:"project"`
	Repository string `json:"repository"`

	// Optional analysis window, RFC3339; empty means unbounded.
	FromDate string `json:"fromDate,omitempty"`
	ToDate   string `json:"toDate,omitempty"`

	// Options is the selected category set; empty means all categories.
	Options []string `json:"options,omitempty"`

	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`

	ErrorMessage    string `json:"errorMessage,omitempty"`
	ResultReference string `json:"resultReference,omitempty"`
}

// NewRequest creates a pending request for the given target.
func NewRequest(project, repository string, fromDate, toDate string, options []string) *Request {
	return &Request{
		ID:         uuid.New().String(),
		Project:    project,
		Repository: repository,
		FromDate:   fromDate,
		ToDate:     toDate,
		Options:    options,
		Status:     StatusRequested,
		CreatedAt:  time.Now().UTC(),
	}
}

// IsTerminal returns true if the request reached a terminal state.
func (r *Request) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Target returns the fetch target for this request.
func (r *Request) Target() azure.Target {
	return azure.Target{Project: r.Project, Repository: r.Repository}
}

// DateRange parses the request's analysis window. Malformed bounds are
// treated as unset.
func (r *Request) DateRange() azure.DateRange {
	var dr azure.DateRange
	if r.FromDate != "" {
		if t, err := time.Parse(time.RFC3339, r.FromDate); err == nil {
			dr.From = t
		}
	}
	if r.ToDate != "" {
		if t, err := time.Parse(time.RFC3339, r.ToDate); err == nil {
			dr.To = t
		}
	}
	return dr
}

// WantsCategory reports whether the request selected the given analysis
// category. An empty option set selects everything.
func (r *Request) WantsCategory(category string) bool {
	if len(r.Options) == 0 {
		return true
	}
	for _, opt := range r.Options {
		if opt == category {
			return true
		}
	}
	return false
}

// Duration returns how long the request took (or has been running).
func (r *Request) Duration() time.Duration {
	if r.StartedAt == nil {
		return 0
	}
	endTime := time.Now().UTC()
	if r.FinishedAt != nil {
		endTime = *r.FinishedAt
	}
	return endTime.Sub(*r.StartedAt)
}

func (r *Request) optionsJSON() (string, error) {
	if len(r.Options) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(r.Options)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Summary is a lightweight view of a request for listings.
type Summary struct {
	ID              string     `json:"id"`
	Project         string     `json:"project"`
	Repository      string     `json:"repository"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	ResultReference string     `json:"resultReference,omitempty"`
}

// ToSummary creates a summary view of the request.
func (r *Request) ToSummary() Summary {
	return Summary{
		ID:              r.ID,
		Project:         r.Project,
		Repository:      r.Repository,
		Status:          r.Status,
		CreatedAt:       r.CreatedAt,
		FinishedAt:      r.FinishedAt,
		ErrorMessage:    r.ErrorMessage,
		ResultReference: r.ResultReference,
	}
}

// ListOptions contains filters for listing requests.
type ListOptions struct {
	Status []Status
	Limit  int
	Offset int
}

// ListResponse contains the result of listing requests.
type ListResponse struct {
	Requests   []Summary `json:"requests"`
	TotalCount int       `json:"totalCount"`
}
