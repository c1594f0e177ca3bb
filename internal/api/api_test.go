package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"repometrics/internal/logging"
	"repometrics/internal/queue"
	"repometrics/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, *queue.Store) {
	router, store, _ := newTestRouterWithCache(t)
	return router, store
}

func newTestRouterWithCache(t *testing.T) (*gin.Engine, *queue.Store, *storage.Cache) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "repometrics.db"), logging.NewNop())
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := queue.NewStore(db, logging.NewNop())
	cache := storage.NewCache(db)
	return SetupRoutes(NewHandlers(store, cache, logging.NewNop())), store, cache
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestEnqueueEndpoint(t *testing.T) {
	router, store := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/requests", map[string]interface{}{
		"project":    "Platform",
		"repository": "core",
		"options":    []string{"commits"},
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var created queue.Request
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" || created.Status != queue.StatusRequested {
		t.Errorf("created = %+v", created)
	}

	// The request must be durably stored
	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Project != "Platform" {
		t.Errorf("stored project = %q", got.Project)
	}
}

func TestEnqueueValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	t.Run("missing repository", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/requests", map[string]interface{}{
			"project": "Platform",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown category", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/api/requests", map[string]interface{}{
			"project":    "Platform",
			"repository": "core",
			"options":    []string{"velocity"},
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestGetRequestEndpoint(t *testing.T) {
	router, store := newTestRouter(t)

	req := queue.NewRequest("Platform", "core", "", "", nil)
	if err := store.Enqueue(req); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/requests/"+req.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got queue.Request
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != req.ID {
		t.Errorf("ID = %q, want %q", got.ID, req.ID)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/requests/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListRequestsEndpoint(t *testing.T) {
	router, store := newTestRouter(t)

	for i := 0; i < 3; i++ {
		if err := store.Enqueue(queue.NewRequest("Platform", "core", "", "", nil)); err != nil {
			t.Fatal(err)
		}
	}

	rec := doJSON(t, router, http.MethodGet, "/api/requests?status=Requested", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp queue.ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TotalCount != 3 {
		t.Errorf("TotalCount = %d, want 3", resp.TotalCount)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/requests?status=Busted", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown filter", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	router, store := newTestRouter(t)

	req := queue.NewRequest("Platform", "core", "", "", nil)
	if err := store.Enqueue(req); err != nil {
		t.Fatal(err)
	}
	if _, err := store.ClaimNext(); err != nil {
		t.Fatal(err)
	}
	if err := store.Fail(req.ID, "[FETCH_PERMANENT] repository not found"); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Counts    map[string]int `json:"counts"`
		LastError string         `json:"lastError"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Counts["Failed"] != 1 {
		t.Errorf("counts = %v", body.Counts)
	}
	if body.LastError == "" {
		t.Error("lastError should surface the failure message")
	}
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestResultsEndpoint(t *testing.T) {
	router, _, cache := newTestRouterWithCache(t)

	rec := doJSON(t, router, http.MethodGet, "/api/results", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/results = %d, want 200", rec.Code)
	}

	var body struct {
		Results []storage.Result `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Results) != 0 {
		t.Fatalf("results = %d, want empty before any analysis", len(body.Results))
	}

	if err := cache.RecordResult("req-1", "Platform", "core", "/out/a.json.gz", "/out/a.csv"); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}
	if err := cache.RecordResult("req-2", "Platform", "core", "/out/b.json.gz", ""); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/results?limit=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/results?limit=1 = %d, want 200", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Results) != 1 {
		t.Fatalf("results = %d, want 1 with limit=1", len(body.Results))
	}
	if body.Results[0].ArtifactPath != "/out/b.json.gz" {
		t.Errorf("artifact = %q, want the newest result first", body.Results[0].ArtifactPath)
	}
}
