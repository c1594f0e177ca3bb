package azure

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"repometrics/internal/logging"
)

func testClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(Config{
		OrgURL:     srv.URL,
		PAT:        "test-pat",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
		BatchSize:  100,
	}, logging.NewNop())
}

// newFakeAPI serves a minimal Azure DevOps git API for one repository.
func newFakeAPI(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/Platform/_apis/git/repositories", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"value": []map[string]interface{}{
				{
					"id":            "repo-1",
					"name":          "core",
					"webUrl":        "https://example.test/core",
					"defaultBranch": "refs/heads/main",
					"size":          1024,
					"isFork":        false,
				},
			},
		})
	})
	mux.HandleFunc("/Platform/_apis/git/repositories/core/commits", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"value": []map[string]interface{}{
				{
					"commitId": "abc123",
					"author": map[string]interface{}{
						"name":  "Ada",
						"email": "ada@example.test",
						"date":  "2026-01-10T12:00:00Z",
					},
					"comment":      "initial commit",
					"changeCounts": map[string]int{"Add": 10, "Edit": 2, "Delete": 1},
					"parents":      []string{},
				},
				{
					"commitId": "def456",
					"author": map[string]interface{}{
						"name":  "Grace",
						"email": "grace@example.test",
						"date":  "2026-01-11T09:30:00Z",
					},
					"comment":      "merge branch",
					"changeCounts": map[string]int{"Add": 0, "Edit": 5, "Delete": 0},
					"parents":      []string{"abc123", "fff999"},
				},
			},
		})
	})
	mux.HandleFunc("/Platform/_apis/git/repositories/core/refs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"value": []map[string]interface{}{
				{
					"name":     "refs/heads/main",
					"objectId": "abc123",
					"creator":  map[string]interface{}{"displayName": "Ada"},
				},
				{
					"name":     "refs/heads/feature/login",
					"objectId": "def456",
					"creator":  map[string]interface{}{"displayName": "Grace"},
				},
			},
		})
	})
	mux.HandleFunc("/Platform/_apis/git/repositories/core/pullrequests", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"value": []map[string]interface{}{
				{
					"pullRequestId": 7,
					"title":         "Add login",
					"status":        "completed",
					"sourceRefName": "refs/heads/feature/login",
					"targetRefName": "refs/heads/main",
					"createdBy":     map[string]interface{}{"displayName": "Grace"},
					"creationDate":  "2026-01-11T08:00:00Z",
					"closedDate":    "2026-01-11T10:00:00Z",
					"reviewers": []map[string]interface{}{
						{"displayName": "Ada", "vote": 10},
					},
				},
			},
		})
	})

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetch(t *testing.T) {
	srv := newFakeAPI(t)
	defer srv.Close()

	client := testClient(t, srv)
	data, err := client.Fetch(context.Background(), Target{Project: "Platform", Repository: "core"}, DateRange{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if data.Repository.ID != "repo-1" {
		t.Errorf("Repository.ID = %q", data.Repository.ID)
	}
	if data.Repository.DefaultBranch != "refs/heads/main" {
		t.Errorf("DefaultBranch = %q", data.Repository.DefaultBranch)
	}
	if len(data.Commits) != 2 {
		t.Fatalf("Commits = %d, want 2", len(data.Commits))
	}
	if data.Commits[0].Additions != 10 || data.Commits[0].Deletions != 1 {
		t.Errorf("change counts = %+v", data.Commits[0])
	}
	if !data.Commits[1].IsMerge() {
		t.Error("second commit should be a merge")
	}
	if len(data.Branches) != 2 {
		t.Fatalf("Branches = %d, want 2", len(data.Branches))
	}
	if !data.Branches[0].IsDefault || data.Branches[0].Name != "main" {
		t.Errorf("default branch = %+v", data.Branches[0])
	}
	if len(data.PullRequests) != 1 {
		t.Fatalf("PullRequests = %d, want 1", len(data.PullRequests))
	}
	pr := data.PullRequests[0]
	if pr.ID != 7 || pr.Status != "completed" || pr.ClosedDate == nil {
		t.Errorf("pull request = %+v", pr)
	}
	if data.FetchedAt.IsZero() {
		t.Error("FetchedAt should be set")
	}
}

func TestFetchAuthHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, map[string]interface{}{"value": []interface{}{}})
	}))
	defer srv.Close()

	client := testClient(t, srv)
	_, _ = client.Fetch(context.Background(), Target{Project: "P", Repository: "R"}, DateRange{})

	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Errorf("Authorization = %q, want Basic PAT auth", gotAuth)
	}
}

func TestFetchUnknownRepositoryIsPermanent(t *testing.T) {
	srv := newFakeAPI(t)
	defer srv.Close()

	client := testClient(t, srv)
	_, err := client.Fetch(context.Background(), Target{Project: "Platform", Repository: "nope"}, DateRange{})
	if err == nil {
		t.Fatal("expected error for unknown repository")
	}
	if !IsPermanent(err) {
		t.Errorf("error should be permanent: %v", err)
	}
}

func TestFetchNotFoundIsPermanentAndNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "no such project", http.StatusNotFound)
	}))
	defer srv.Close()

	client := testClient(t, srv)
	_, err := client.Fetch(context.Background(), Target{Project: "Gone", Repository: "core"}, DateRange{})
	if !IsPermanent(err) {
		t.Fatalf("error should be permanent: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("server called %d times, permanent failures must not be retried", n)
	}
}

func TestFetchRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]interface{}{
			"value": []map[string]interface{}{
				{"id": "repo-1", "name": "core", "webUrl": "u", "defaultBranch": "refs/heads/main"},
			},
		})
	}))
	defer srv.Close()

	client := testClient(t, srv)
	repo, err := client.findRepository(context.Background(), Target{Project: "P", Repository: "core"})
	if err != nil {
		t.Fatalf("findRepository() error = %v", err)
	}
	if repo.ID != "repo-1" {
		t.Errorf("ID = %q", repo.ID)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("server called %d times, want 2 (one retry)", n)
	}
}

func TestFetchTransientExhaustsRetryBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := testClient(t, srv)
	_, err := client.findRepository(context.Background(), Target{Project: "P", Repository: "core"})
	if !IsTransient(err) {
		t.Fatalf("error should be transient: %v", err)
	}
	// MaxRetries=2 means one initial attempt plus two retries.
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("server called %d times, want 3", n)
	}
}

func TestFetchCommitsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		skip := r.URL.Query().Get("$skip")
		var commits []map[string]interface{}
		count := 2
		if skip != "0" {
			count = 1
		}
		for i := 0; i < count; i++ {
			commits = append(commits, map[string]interface{}{
				"commitId": fmt.Sprintf("c-%s-%d", skip, i),
				"author": map[string]interface{}{
					"name": "Ada", "email": "a@example.test", "date": "2026-01-10T12:00:00Z",
				},
				"comment":      "x",
				"changeCounts": map[string]int{"Add": 1},
			})
		}
		writeJSON(w, map[string]interface{}{"value": commits})
	}))
	defer srv.Close()

	client := NewClient(Config{
		OrgURL:    srv.URL,
		PAT:       "t",
		BatchSize: 2,
	}, logging.NewNop())

	commits, err := client.fetchCommits(context.Background(), Target{Project: "P", Repository: "R"}, DateRange{})
	if err != nil {
		t.Fatalf("fetchCommits() error = %v", err)
	}
	if len(commits) != 3 {
		t.Errorf("commits = %d, want 3 across two pages", len(commits))
	}
}

func TestDateRangeForwarded(t *testing.T) {
	var gotFrom, gotTo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFrom = r.URL.Query().Get("searchCriteria.fromDate")
		gotTo = r.URL.Query().Get("searchCriteria.toDate")
		writeJSON(w, map[string]interface{}{"value": []interface{}{}})
	}))
	defer srv.Close()

	client := testClient(t, srv)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err := client.fetchCommits(context.Background(), Target{Project: "P", Repository: "R"}, DateRange{From: from, To: to})
	if err != nil {
		t.Fatalf("fetchCommits() error = %v", err)
	}

	if gotFrom != "2026-01-01T00:00:00Z" {
		t.Errorf("fromDate = %q", gotFrom)
	}
	if gotTo != "2026-02-01T00:00:00Z" {
		t.Errorf("toDate = %q", gotTo)
	}
}
