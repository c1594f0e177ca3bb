package queue

import (
	"time"

	"repometrics/internal/logging"
)

// DefaultStaleTimeout is how long a request may sit in Running before the
// reconciler treats it as orphaned by a crash.
const DefaultStaleTimeout = 5 * time.Minute

// Reconciler returns orphaned Running requests to the queue. It runs once,
// synchronously, before the scheduler's first poll, so a crashed process
// never strands work.
type Reconciler struct {
	store        *Store
	logger       *logging.Logger
	staleTimeout time.Duration
}

// NewReconciler creates a reconciler. A non-positive staleTimeout falls back
// to DefaultStaleTimeout.
func NewReconciler(store *Store, logger *logging.Logger, staleTimeout time.Duration) *Reconciler {
	if staleTimeout <= 0 {
		staleTimeout = DefaultStaleTimeout
	}
	return &Reconciler{
		store:        store,
		logger:       logger,
		staleTimeout: staleTimeout,
	}
}

// Run resets every stale Running request to Requested and returns how many
// were recovered. Requests younger than the threshold are left untouched.
func (r *Reconciler) Run() (int, error) {
	stale, err := r.store.ListStaleRunning(r.staleTimeout)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, req := range stale {
		if err := r.store.ResetToRequested(req.ID); err != nil {
			// Another process may have finished it in the meantime;
			// log and keep going.
			r.logger.Warn("Failed to reset orphaned request", map[string]interface{}{
				"requestId": req.ID,
				"error":     err.Error(),
			})
			continue
		}
		r.logger.Info("Recovered orphaned request", map[string]interface{}{
			"requestId":  req.ID,
			"project":    req.Project,
			"repository": req.Repository,
		})
		recovered++
	}

	if recovered > 0 {
		r.logger.Info("Reconciliation complete", map[string]interface{}{
			"recovered": recovered,
		})
	}
	return recovered, nil
}
