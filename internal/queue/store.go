package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	svcerrors "repometrics/internal/errors"
	"repometrics/internal/logging"
	"repometrics/internal/storage"
)

// Store provides durable persistence for analysis requests.
// All writes go through guarded conditional updates so the status machine
// (Requested → Running → Completed|Failed) cannot be bypassed.
type Store struct {
	db     *storage.DB
	logger *logging.Logger

	// now is injectable for reconciliation boundary tests
	now func() time.Time
}

// NewStore creates a request store on the given database
func NewStore(db *storage.DB, logger *logging.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// timeLayout is fixed-width so string comparison in SQL matches
// chronological order (RFC3339Nano trims trailing zeros and would not).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const requestColumns = `
	id, project, repository, from_date, to_date, options,
	status, created_at, started_at, finished_at, error_message, result_reference
`

// Enqueue inserts a new request in the Requested state.
// Duplicate targets are permitted; every call creates an independent request.
func (s *Store) Enqueue(req *Request) error {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = s.now()
	}
	options, err := req.optionsJSON()
	if err != nil {
		return svcerrors.Wrap(svcerrors.InternalError, "failed to encode request options", err)
	}

	// Nanosecond precision keeps FIFO order stable for requests enqueued
	// within the same second.
	_, err = s.db.Exec(`
		INSERT INTO requests (id, project, repository, from_date, to_date, options, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, req.ID, req.Project, req.Repository, req.FromDate, req.ToDate, options,
		string(StatusRequested), req.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to enqueue request", err)
	}

	req.Status = StatusRequested

	s.logger.Debug("Enqueued request", map[string]interface{}{
		"requestId":  req.ID,
		"project":    req.Project,
		"repository": req.Repository,
	})

	return nil
}

// ClaimNext atomically claims the oldest Requested request, transitioning it
// to Running. It returns nil when the queue is empty. The conditional update
// makes the claim safe against concurrent claimers: whoever flips the status
// first wins, the loser observes zero affected rows and picks the next one.
func (s *Store) ClaimNext() (*Request, error) {
	for {
		var id string
		err := s.db.QueryRow(`
			SELECT id FROM requests
			WHERE status = ?
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		`, string(StatusRequested)).Scan(&id)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to select next request", err)
		}

		res, err := s.db.Exec(`
			UPDATE requests SET status = ?, started_at = ?
			WHERE id = ? AND status = ?
		`, string(StatusRunning), s.now().Format(timeLayout), id, string(StatusRequested))
		if err != nil {
			return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to claim request", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to read affected rows", err)
		}
		if rows != 1 {
			// Lost the race to a concurrent claimer; try the next
			// oldest request.
			continue
		}

		claimed, err := scanRequest(s.db.QueryRow(
			"SELECT"+requestColumns+"FROM requests WHERE id = ?", id))
		if err != nil {
			return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to load claimed request", err)
		}
		return claimed, nil
	}
}

// Complete transitions a Running request to Completed with its result
// reference.
func (s *Store) Complete(id, resultReference string) error {
	res, err := s.db.Exec(`
		UPDATE requests SET status = ?, finished_at = ?, result_reference = ?
		WHERE id = ? AND status = ?
	`, string(StatusCompleted), s.now().Format(timeLayout), resultReference,
		id, string(StatusRunning))
	if err != nil {
		return svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to complete request", err)
	}
	return s.checkTransition(res, id, StatusCompleted)
}

// Fail transitions a Running request to Failed with an error message.
func (s *Store) Fail(id, message string) error {
	if message == "" {
		message = "unknown failure"
	}
	res, err := s.db.Exec(`
		UPDATE requests SET status = ?, finished_at = ?, error_message = ?
		WHERE id = ? AND status = ?
	`, string(StatusFailed), s.now().Format(timeLayout), message,
		id, string(StatusRunning))
	if err != nil {
		return svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to mark request failed", err)
	}
	return s.checkTransition(res, id, StatusFailed)
}

// checkTransition distinguishes a missing row from a wrong-state row after a
// guarded update affected nothing.
func (s *Store) checkTransition(res sql.Result, id string, to Status) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to read affected rows", err)
	}
	if rows == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRow("SELECT status FROM requests WHERE id = ?", id).Scan(&current)
	if err == sql.ErrNoRows {
		return svcerrors.Newf(svcerrors.RequestNotFound, "request not found: %s", id)
	}
	if err != nil {
		return svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to read request status", err)
	}
	return svcerrors.Newf(svcerrors.InvalidTransition,
		"cannot transition request %s from %s to %s", id, current, to)
}

// ListStaleRunning returns Running requests whose started_at is older than
// the threshold. A request started exactly at the boundary is not stale.
func (s *Store) ListStaleRunning(threshold time.Duration) ([]*Request, error) {
	cutoff := s.now().Add(-threshold).Format(timeLayout)

	rows, err := s.db.Query(
		"SELECT"+requestColumns+`FROM requests
		WHERE status = ? AND started_at < ?
		ORDER BY started_at ASC
	`, string(StatusRunning), cutoff)
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to list stale requests", err)
	}
	defer func() { _ = rows.Close() }()

	var stale []*Request
	for rows.Next() {
		req, err := scanRequestFromRows(rows)
		if err != nil {
			return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to scan stale request", err)
		}
		stale = append(stale, req)
	}
	return stale, rows.Err()
}

// ResetToRequested returns an orphaned Running request to the queue,
// clearing its started_at so it is claimed afresh.
func (s *Store) ResetToRequested(id string) error {
	res, err := s.db.Exec(`
		UPDATE requests SET status = ?, started_at = NULL, error_message = NULL
		WHERE id = ? AND status = ?
	`, string(StatusRequested), id, string(StatusRunning))
	if err != nil {
		return svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to reset request", err)
	}
	return s.checkTransition(res, id, StatusRequested)
}

// Get retrieves a request by id
func (s *Store) Get(id string) (*Request, error) {
	req, err := scanRequest(s.db.QueryRow(
		"SELECT"+requestColumns+"FROM requests WHERE id = ?", id))
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to get request", err)
	}
	if req == nil {
		return nil, svcerrors.Newf(svcerrors.RequestNotFound, "request not found: %s", id)
	}
	return req, nil
}

// List retrieves requests matching the given options, newest first.
func (s *Store) List(opts ListOptions) (*ListResponse, error) {
	var conditions []string
	var args []interface{}

	if len(opts.Status) > 0 {
		placeholders := make([]string, len(opts.Status))
		for i, status := range opts.Status {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM requests %s", whereClause)
	var totalCount int
	if err := s.db.QueryRow(countQuery, args...).Scan(&totalCount); err != nil {
		return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to count requests", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := fmt.Sprintf(
		"SELECT"+requestColumns+`FROM requests %s
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, whereClause)
	args = append(args, limit, opts.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to list requests", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []Summary
	for rows.Next() {
		req, err := scanRequestFromRows(rows)
		if err != nil {
			return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to scan request", err)
		}
		summaries = append(summaries, req.ToSummary())
	}
	if err := rows.Err(); err != nil {
		return nil, svcerrors.Wrap(svcerrors.StoreUnavailable, "error iterating requests", err)
	}

	return &ListResponse{Requests: summaries, TotalCount: totalCount}, nil
}

// PruneTerminal deletes Completed and Failed requests finished before the
// retention window. Running and Requested rows are never touched.
func (s *Store) PruneTerminal(retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).Format(timeLayout)

	res, err := s.db.Exec(`
		DELETE FROM requests
		WHERE status IN (?, ?) AND finished_at < ?
	`, string(StatusCompleted), string(StatusFailed), cutoff)
	if err != nil {
		return 0, svcerrors.Wrap(svcerrors.StoreUnavailable, "failed to prune requests", err)
	}
	return res.RowsAffected()
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row *sql.Row) (*Request, error) {
	req, err := scanFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return req, err
}

func scanRequestFromRows(rows *sql.Rows) (*Request, error) {
	return scanFrom(rows)
}

func scanFrom(sc scanner) (*Request, error) {
	var req Request
	var options, createdAt string
	var startedAt, finishedAt, errMsg, resultRef sql.NullString

	err := sc.Scan(
		&req.ID,
		&req.Project,
		&req.Repository,
		&req.FromDate,
		&req.ToDate,
		&options,
		&req.Status,
		&createdAt,
		&startedAt,
		&finishedAt,
		&errMsg,
		&resultRef,
	)
	if err != nil {
		return nil, err
	}

	req.ErrorMessage = errMsg.String
	req.ResultReference = resultRef.String

	if options != "" && options != "[]" {
		if err := json.Unmarshal([]byte(options), &req.Options); err != nil {
			return nil, fmt.Errorf("failed to decode request options: %w", err)
		}
	}

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		req.CreatedAt = t
	}
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
			req.StartedAt = &t
		}
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			req.FinishedAt = &t
		}
	}

	return &req, nil
}
