package queue

import (
	"time"

	svcerrors "repometrics/internal/errors"
)

// Snapshot is a point-in-time view of the queue for operators. It carries
// counts, the age of the oldest pending request, the in-flight request if
// any, and the most recent terminal outcomes.
type Snapshot struct {
	Counts map[Status]int `json:"counts"`

	// OldestPendingAge is zero when nothing is waiting.
	OldestPendingAge time.Duration `json:"oldestPendingAgeNs"`

	Running        *Summary      `json:"running,omitempty"`
	RunningElapsed time.Duration `json:"runningElapsedNs,omitempty"`

	// Recent holds the last terminal outcomes, newest first.
	Recent []Summary `json:"recent,omitempty"`
}

const recentOutcomeLimit = 10

// Snapshot assembles the operator status view.
func (s *Store) Snapshot() (*Snapshot, error) {
	counts, err := s.statusCounts()
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Counts: counts}

	now := s.now()

	if snap.Counts[StatusRequested] > 0 {
		var oldest string
		err := s.db.QueryRow(`
			SELECT MIN(created_at) FROM requests WHERE status = ?
		`, string(StatusRequested)).Scan(&oldest)
		if err != nil {
			return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to read oldest pending", err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, oldest); perr == nil {
			snap.OldestPendingAge = now.Sub(t)
		}
	}

	if snap.Counts[StatusRunning] > 0 {
		running, err := s.List(ListOptions{Status: []Status{StatusRunning}, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(running.Requests) > 0 {
			summary := running.Requests[0]
			snap.Running = &summary
			if req, err := s.Get(summary.ID); err == nil && req.StartedAt != nil {
				snap.RunningElapsed = now.Sub(*req.StartedAt)
			}
		}
	}

	recent, err := s.listRecentTerminal(recentOutcomeLimit)
	if err != nil {
		return nil, err
	}
	snap.Recent = recent

	return snap, nil
}

// statusCounts tallies requests per status, with every status present.
func (s *Store) statusCounts() (map[Status]int, error) {
	counts := map[Status]int{
		StatusRequested: 0,
		StatusRunning:   0,
		StatusCompleted: 0,
		StatusFailed:    0,
	}

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM requests GROUP BY status")
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to count requests", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to scan status count", err)
		}
		counts[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "error iterating status counts", err)
	}
	return counts, nil
}

// listRecentTerminal returns the most recently finished requests.
func (s *Store) listRecentTerminal(limit int) ([]Summary, error) {
	rows, err := s.db.Query(
		"SELECT"+requestColumns+`FROM requests
		WHERE status IN (?, ?)
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`, string(StatusCompleted), string(StatusFailed), limit)
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to list recent outcomes", err)
	}
	defer func() { _ = rows.Close() }()

	var recent []Summary
	for rows.Next() {
		req, err := scanRequestFromRows(rows)
		if err != nil {
			return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to scan outcome", err)
		}
		recent = append(recent, req.ToSummary())
	}
	return recent, rows.Err()
}

// LastError returns the error message of the most recent failure, or "".
func (snap *Snapshot) LastError() string {
	for _, summary := range snap.Recent {
		if summary.Status == StatusFailed {
			return summary.ErrorMessage
		}
	}
	return ""
}
