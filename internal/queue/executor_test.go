package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"repometrics/internal/azure"
	svcerrors "repometrics/internal/errors"
	"repometrics/internal/logging"
)

type stubFetcher struct {
	data     *azure.RepositoryData
	err      error
	calls    int
	gotRange azure.DateRange
}

func (f *stubFetcher) Fetch(_ context.Context, target azure.Target, dateRange azure.DateRange) (*azure.RepositoryData, error) {
	f.calls++
	f.gotRange = dateRange
	if f.err != nil {
		return nil, f.err
	}
	if f.data != nil {
		return f.data, nil
	}
	return &azure.RepositoryData{
		Repository: azure.Repository{ID: "repo-1", Name: target.Repository, Project: target.Project},
	}, nil
}

type stubAnalyzer struct {
	resultRef string
	err       error
	panicMsg  string
	calls     int
}

func (a *stubAnalyzer) Analyze(_ context.Context, _ *Request, _ *azure.RepositoryData) (string, error) {
	a.calls++
	if a.panicMsg != "" {
		panic(a.panicMsg)
	}
	if a.err != nil {
		return "", a.err
	}
	if a.resultRef == "" {
		return "/out/report.json.gz", nil
	}
	return a.resultRef, nil
}

type stubCache struct {
	saveErr   error
	saved     int
	recorded  int
	recordErr error
	latest    *time.Time
	latestErr error
}

func (c *stubCache) SaveRepositoryData(*azure.RepositoryData) error {
	c.saved++
	return c.saveErr
}

func (c *stubCache) LatestCommitDate(_, _ string) (*time.Time, error) {
	return c.latest, c.latestErr
}

func (c *stubCache) CommitCount(_, _ string) (int, error) {
	return c.saved, nil
}

func (c *stubCache) RecordResult(_, _, _, _, _ string) error {
	c.recorded++
	return c.recordErr
}

func claimForTest(t *testing.T, store *Store) *Request {
	t.Helper()
	req, err := store.ClaimNext()
	if err != nil {
		t.Fatalf("ClaimNext() error = %v", err)
	}
	if req == nil {
		t.Fatal("ClaimNext() = nil, want a claimed request")
	}
	return req
}

func TestExecuteCompletes(t *testing.T) {
	store := newTestStore(t)
	mustEnqueue(t, store, "Platform", "core")
	req := claimForTest(t, store)

	fetcher := &stubFetcher{}
	analyzer := &stubAnalyzer{resultRef: "/out/platform_core.json.gz"}
	cache := &stubCache{}
	executor := NewExecutor(store, fetcher, analyzer, cache, logging.NewNop())

	outcome := executor.Execute(context.Background(), req)

	if outcome.Status != StatusCompleted {
		t.Fatalf("outcome = %+v, want Completed", outcome)
	}
	if outcome.ResultReference != "/out/platform_core.json.gz" {
		t.Errorf("ResultReference = %q", outcome.ResultReference)
	}
	if cache.saved != 1 || cache.recorded != 1 {
		t.Errorf("cache saved=%d recorded=%d, want 1/1", cache.saved, cache.recorded)
	}

	got, err := store.Get(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusCompleted || got.ResultReference == "" {
		t.Errorf("stored request = %+v", got)
	}
}

func TestExecuteFetchPermanentFailure(t *testing.T) {
	store := newTestStore(t)
	mustEnqueue(t, store, "Platform", "gone")
	req := claimForTest(t, store)

	fetcher := &stubFetcher{err: azure.NewPermanentError("repositories", 404, errors.New("not found"))}
	executor := NewExecutor(store, fetcher, &stubAnalyzer{}, nil, logging.NewNop())

	outcome := executor.Execute(context.Background(), req)

	if outcome.Status != StatusFailed {
		t.Fatalf("outcome = %+v, want Failed", outcome)
	}
	if !strings.Contains(outcome.Message, string(svcerrors.FetchPermanent)) {
		t.Errorf("Message = %q, want FETCH_PERMANENT code", outcome.Message)
	}

	got, err := store.Get(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed || got.ErrorMessage == "" {
		t.Errorf("stored request = %+v", got)
	}
}

func TestExecuteFetchTransientFailure(t *testing.T) {
	store := newTestStore(t)
	mustEnqueue(t, store, "Platform", "core")
	req := claimForTest(t, store)

	fetcher := &stubFetcher{err: azure.NewTransientError("commits", 503, errors.New("upstream down"))}
	executor := NewExecutor(store, fetcher, &stubAnalyzer{}, nil, logging.NewNop())

	outcome := executor.Execute(context.Background(), req)

	if outcome.Status != StatusFailed {
		t.Fatalf("outcome = %+v, want Failed", outcome)
	}
	if !strings.Contains(outcome.Message, string(svcerrors.FetchTransient)) {
		t.Errorf("Message = %q, want FETCH_TRANSIENT code", outcome.Message)
	}
}

func TestExecuteAnalyzerFailure(t *testing.T) {
	store := newTestStore(t)
	mustEnqueue(t, store, "Platform", "core")
	req := claimForTest(t, store)

	analyzer := &stubAnalyzer{err: svcerrors.New(svcerrors.AnalysisFailed, "no data in range")}
	executor := NewExecutor(store, &stubFetcher{}, analyzer, nil, logging.NewNop())

	outcome := executor.Execute(context.Background(), req)

	if outcome.Status != StatusFailed {
		t.Fatalf("outcome = %+v, want Failed", outcome)
	}
	if !strings.Contains(outcome.Message, string(svcerrors.AnalysisFailed)) {
		t.Errorf("Message = %q, want ANALYSIS_FAILED code", outcome.Message)
	}
}

func TestExecutePanicIsContained(t *testing.T) {
	store := newTestStore(t)
	mustEnqueue(t, store, "Platform", "core")
	req := claimForTest(t, store)

	analyzer := &stubAnalyzer{panicMsg: "index out of range"}
	executor := NewExecutor(store, &stubFetcher{}, analyzer, nil, logging.NewNop())

	outcome := executor.Execute(context.Background(), req)

	if outcome.Status != StatusFailed {
		t.Fatalf("outcome = %+v, want Failed after panic", outcome)
	}
	if !strings.Contains(outcome.Message, "index out of range") {
		t.Errorf("Message = %q, want panic detail", outcome.Message)
	}

	got, err := store.Get(req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed {
		t.Errorf("stored status = %v, want Failed", got.Status)
	}
}

func TestExecuteCacheFailureDoesNotFailRequest(t *testing.T) {
	store := newTestStore(t)
	mustEnqueue(t, store, "Platform", "core")
	req := claimForTest(t, store)

	cache := &stubCache{saveErr: errors.New("disk full"), recordErr: errors.New("disk full")}
	executor := NewExecutor(store, &stubFetcher{}, &stubAnalyzer{}, cache, logging.NewNop())

	outcome := executor.Execute(context.Background(), req)

	if outcome.Status != StatusCompleted {
		t.Fatalf("outcome = %+v, want Completed despite cache failure", outcome)
	}
}

func TestExecuteResumesFromCacheWatermark(t *testing.T) {
	store := newTestStore(t)
	mustEnqueue(t, store, "Platform", "core")
	req := claimForTest(t, store)

	watermark := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{}
	cache := &stubCache{latest: &watermark}
	executor := NewExecutor(store, fetcher, &stubAnalyzer{}, cache, logging.NewNop())

	outcome := executor.Execute(context.Background(), req)

	if outcome.Status != StatusCompleted {
		t.Fatalf("outcome = %+v, want Completed", outcome)
	}
	if !fetcher.gotRange.From.Equal(watermark) {
		t.Errorf("fetch From = %v, want cache watermark %v", fetcher.gotRange.From, watermark)
	}
}

func TestExecuteExplicitRangeOverridesWatermark(t *testing.T) {
	store := newTestStore(t)
	req := NewRequest("Platform", "core", "2026-01-01T00:00:00Z", "", nil)
	if err := store.Enqueue(req); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	req = claimForTest(t, store)

	watermark := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{}
	cache := &stubCache{latest: &watermark}
	executor := NewExecutor(store, fetcher, &stubAnalyzer{}, cache, logging.NewNop())

	executor.Execute(context.Background(), req)

	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !fetcher.gotRange.From.Equal(want) {
		t.Errorf("fetch From = %v, want requested start %v", fetcher.gotRange.From, want)
	}
}

func TestExecuteEmptyCacheFetchesFullWindow(t *testing.T) {
	store := newTestStore(t)
	mustEnqueue(t, store, "Platform", "core")
	req := claimForTest(t, store)

	fetcher := &stubFetcher{}
	executor := NewExecutor(store, fetcher, &stubAnalyzer{}, &stubCache{}, logging.NewNop())

	executor.Execute(context.Background(), req)

	if !fetcher.gotRange.From.IsZero() {
		t.Errorf("fetch From = %v, want zero for an uncached repository", fetcher.gotRange.From)
	}
}
