package azure

import "time"

// Target identifies one repository to analyze.
type Target struct {
	Project    string `json:"project"`
	Repository string `json:"repository"`
}

// DateRange bounds the analysis window. Zero values mean unbounded.
type DateRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

// Repository holds basic repository metadata.
type Repository struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Project       string `json:"project"`
	URL           string `json:"url"`
	DefaultBranch string `json:"defaultBranch"`
	Size          int64  `json:"size"`
	IsFork        bool   `json:"isFork"`
}

// Commit holds one commit with its change counts.
type Commit struct {
	CommitID    string    `json:"commitId"`
	AuthorName  string    `json:"authorName"`
	AuthorEmail string    `json:"authorEmail"`
	AuthorDate  time.Time `json:"authorDate"`
	Message     string    `json:"message"`
	Additions   int       `json:"additions"`
	Edits       int       `json:"edits"`
	Deletions   int       `json:"deletions"`
	Parents     []string  `json:"parents,omitempty"`
}

// IsMerge reports whether the commit has more than one parent.
func (c Commit) IsMerge() bool {
	return len(c.Parents) > 1
}

// TotalChanges returns the sum of all change counts.
func (c Commit) TotalChanges() int {
	return c.Additions + c.Edits + c.Deletions
}

// Branch holds one ref under refs/heads.
type Branch struct {
	Name      string `json:"name"`
	ObjectID  string `json:"objectId"`
	Creator   string `json:"creator,omitempty"`
	IsDefault bool   `json:"isDefault"`
}

// Reviewer is a pull request reviewer with their vote.
type Reviewer struct {
	Name string `json:"name"`
	Vote int    `json:"vote"`
}

// PullRequest holds one pull request.
type PullRequest struct {
	ID           int        `json:"pullRequestId"`
	Title        string     `json:"title"`
	Author       string     `json:"author"`
	Status       string     `json:"status"` // active, completed, abandoned
	SourceBranch string     `json:"sourceBranch"`
	TargetBranch string     `json:"targetBranch"`
	CreatedDate  time.Time  `json:"createdDate"`
	ClosedDate   *time.Time `json:"closedDate,omitempty"`
	Reviewers    []Reviewer `json:"reviewers,omitempty"`
}

// RepositoryData is everything the fetch client collects for one target.
type RepositoryData struct {
	Repository   Repository    `json:"repository"`
	Commits      []Commit      `json:"commits"`
	Branches     []Branch      `json:"branches"`
	PullRequests []PullRequest `json:"pullRequests"`
	FetchedAt    time.Time     `json:"fetchedAt"`
}
