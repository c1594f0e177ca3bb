package queue

import (
	"context"
	"time"

	"repometrics/internal/azure"
	svcerrors "repometrics/internal/errors"
	"repometrics/internal/logging"
)

// Fetcher retrieves repository data for a target.
type Fetcher interface {
	Fetch(ctx context.Context, target azure.Target, dateRange azure.DateRange) (*azure.RepositoryData, error)
}

// Analyzer computes metrics from fetched data and materializes a report
// artifact, returning its path as the result reference.
type Analyzer interface {
	Analyze(ctx context.Context, req *Request, data *azure.RepositoryData) (string, error)
}

// DataCache persists fetched data between runs and remembers how far a
// repository has been fetched. Cache failures are non-fatal to the request
// being executed.
type DataCache interface {
	SaveRepositoryData(data *azure.RepositoryData) error
	LatestCommitDate(project, repository string) (*time.Time, error)
	CommitCount(project, repository string) (int, error)
	RecordResult(requestID, project, repository, artifactPath, summaryPath string) error
}

// Outcome describes how a single request execution ended.
type Outcome struct {
	Request         *Request
	Status          Status
	ResultReference string
	Message         string
	Duration        time.Duration
}

// Executor drives one claimed request through fetch → analyze → persist to a
// terminal state. It never lets a panic escape: a panicking analysis fails
// the request, not the service.
type Executor struct {
	store    *Store
	fetcher  Fetcher
	analyzer Analyzer
	cache    DataCache // may be nil
	logger   *logging.Logger
}

// NewExecutor creates an executor. cache may be nil to disable data caching.
func NewExecutor(store *Store, fetcher Fetcher, analyzer Analyzer, cache DataCache, logger *logging.Logger) *Executor {
	return &Executor{
		store:    store,
		fetcher:  fetcher,
		analyzer: analyzer,
		cache:    cache,
		logger:   logger,
	}
}

// Execute processes one Running request to a terminal state and reports the
// outcome. The request must already be claimed.
func (e *Executor) Execute(ctx context.Context, req *Request) (outcome Outcome) {
	start := time.Now()
	outcome = Outcome{Request: req}

	defer func() {
		outcome.Duration = time.Since(start)
		if p := recover(); p != nil {
			err := svcerrors.Newf(svcerrors.AnalysisFailed, "analysis panicked: %v", p)
			e.failRequest(req, err, &outcome)
		}
	}()

	e.logger.Info("Executing request", map[string]interface{}{
		"requestId":  req.ID,
		"project":    req.Project,
		"repository": req.Repository,
	})

	data, err := e.fetcher.Fetch(ctx, req.Target(), e.fetchRange(req))
	if err != nil {
		e.failRequest(req, classifyFetchError(err), &outcome)
		return outcome
	}

	if e.cache != nil {
		if err := e.cache.SaveRepositoryData(data); err != nil {
			e.logger.Warn("Failed to cache fetched data", map[string]interface{}{
				"requestId": req.ID,
				"error":     err.Error(),
			})
		} else if total, err := e.cache.CommitCount(req.Project, req.Repository); err == nil {
			e.logger.Info("Cached repository data", map[string]interface{}{
				"requestId":     req.ID,
				"cachedCommits": total,
			})
		}
	}

	resultRef, err := e.analyzer.Analyze(ctx, req, data)
	if err != nil {
		if svcerrors.CodeOf(err) == svcerrors.InternalError {
			err = svcerrors.Wrap(svcerrors.AnalysisFailed, "analysis failed", err)
		}
		e.failRequest(req, err, &outcome)
		return outcome
	}

	if err := e.store.Complete(req.ID, resultRef); err != nil {
		e.logger.Error("Failed to record completion", map[string]interface{}{
			"requestId": req.ID,
			"error":     err.Error(),
		})
		outcome.Status = StatusFailed
		outcome.Message = err.Error()
		return outcome
	}

	if e.cache != nil {
		if err := e.cache.RecordResult(req.ID, req.Project, req.Repository, resultRef, ""); err != nil {
			e.logger.Warn("Failed to record result row", map[string]interface{}{
				"requestId": req.ID,
				"error":     err.Error(),
			})
		}
	}

	outcome.Status = StatusCompleted
	outcome.ResultReference = resultRef

	e.logger.Info("Request completed", map[string]interface{}{
		"requestId": req.ID,
		"result":    resultRef,
		"duration":  time.Since(start).String(),
	})
	return outcome
}

// fetchRange resolves the window to fetch. A request without an explicit
// start date resumes from the newest cached commit, so repeat runs only pull
// what is new since the last fetch.
func (e *Executor) fetchRange(req *Request) azure.DateRange {
	dateRange := req.DateRange()
	if e.cache == nil || req.FromDate != "" {
		return dateRange
	}

	latest, err := e.cache.LatestCommitDate(req.Project, req.Repository)
	if err != nil {
		e.logger.Warn("Failed to read fetch watermark", map[string]interface{}{
			"requestId": req.ID,
			"error":     err.Error(),
		})
		return dateRange
	}
	if latest != nil {
		dateRange.From = *latest
		e.logger.Info("Resuming fetch from cached watermark", map[string]interface{}{
			"requestId": req.ID,
			"since":     latest.Format(time.RFC3339),
		})
	}
	return dateRange
}

// failRequest records the failure in the store and in the outcome.
func (e *Executor) failRequest(req *Request, cause error, outcome *Outcome) {
	message := cause.Error()
	outcome.Status = StatusFailed
	outcome.Message = message

	if err := e.store.Fail(req.ID, message); err != nil {
		e.logger.Error("Failed to record failure", map[string]interface{}{
			"requestId": req.ID,
			"error":     err.Error(),
		})
		return
	}

	e.logger.Warn("Request failed", map[string]interface{}{
		"requestId": req.ID,
		"code":      string(svcerrors.CodeOf(cause)),
		"error":     message,
	})
}

// classifyFetchError maps fetch client failures onto the service taxonomy.
func classifyFetchError(err error) error {
	switch {
	case azure.IsPermanent(err):
		return svcerrors.Wrap(svcerrors.FetchPermanent, "fetch rejected", err)
	case azure.IsTransient(err):
		return svcerrors.Wrap(svcerrors.FetchTransient, "fetch failed after retries", err)
	default:
		return svcerrors.Wrap(svcerrors.FetchTransient, "fetch failed", err)
	}
}
