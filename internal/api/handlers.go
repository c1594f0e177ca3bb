// Package api exposes the request queue over HTTP: enqueue, listing, status
// snapshot, and health.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	svcerrors "repometrics/internal/errors"
	"repometrics/internal/logging"
	"repometrics/internal/queue"
	"repometrics/internal/storage"
	"repometrics/internal/version"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	store  *queue.Store
	cache  *storage.Cache
	logger *logging.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(store *queue.Store, cache *storage.Cache, logger *logging.Logger) *Handlers {
	return &Handlers{store: store, cache: cache, logger: logger}
}

// EnqueueRequestBody is the POST /api/requests payload.
type EnqueueRequestBody struct {
	Project    string   `json:"project" binding:"required"`
	Repository string   `json:"repository" binding:"required"`
	FromDate   string   `json:"fromDate"`
	ToDate     string   `json:"toDate"`
	Options    []string `json:"options"`
}

// EnqueueHandler handles POST /api/requests
func (h *Handlers) EnqueueHandler(c *gin.Context) {
	var body EnqueueRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for _, opt := range body.Options {
		if !validCategory(opt) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown analysis category: " + opt})
			return
		}
	}

	req := queue.NewRequest(body.Project, body.Repository, body.FromDate, body.ToDate, body.Options)
	if err := h.store.Enqueue(req); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, req)
}

// ListRequestsHandler handles GET /api/requests
func (h *Handlers) ListRequestsHandler(c *gin.Context) {
	opts := queue.ListOptions{}

	if raw := c.Query("status"); raw != "" {
		status, err := queue.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		opts.Status = []queue.Status{status}
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			opts.Limit = limit
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if offset, err := strconv.Atoi(raw); err == nil {
			opts.Offset = offset
		}
	}

	resp, err := h.store.List(opts)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetRequestHandler handles GET /api/requests/:id
func (h *Handlers) GetRequestHandler(c *gin.Context) {
	req, err := h.store.Get(c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// StatusHandler handles GET /api/status
func (h *Handlers) StatusHandler(c *gin.Context) {
	snap, err := h.store.Snapshot()
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version":   version.Version,
		"counts":    snap.Counts,
		"running":   snap.Running,
		"recent":    snap.Recent,
		"lastError": snap.LastError(),
	})
}

// ResultsHandler handles GET /api/results
func (h *Handlers) ResultsHandler(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	results, err := h.cache.ListResults(limit)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if results == nil {
		results = []storage.Result{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// renderError maps service error codes onto HTTP statuses without leaking
// internals.
func (h *Handlers) renderError(c *gin.Context, err error) {
	code := svcerrors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case svcerrors.RequestNotFound:
		status = http.StatusNotFound
	case svcerrors.InvalidTransition:
		status = http.StatusConflict
	case svcerrors.StoreUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		h.logger.Error("Request handler failed", map[string]interface{}{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
	}

	c.JSON(status, gin.H{"code": string(code)})
}

func validCategory(category string) bool {
	switch category {
	case queue.CategoryCommits, queue.CategoryAuthors, queue.CategoryBranches, queue.CategoryPullRequests:
		return true
	}
	return false
}
