// Package repository persists submissions and their per-test-case results.
package repository

import (
	"context"
	"time"

	"gavel/internal/common/db"
	"gavel/internal/message"
	appErr "gavel/pkg/errors"
)

// PublishState tracks whether a submission's job message has been confirmed
// by the broker. Rows stuck in pending are re-published by the reconciler.
type PublishState string

const (
	PublishStatePending   PublishState = "PENDING"
	PublishStateConfirmed PublishState = "CONFIRMED"
)

// Submission is one submission row.
type Submission struct {
	ID        int64
	ProblemID int64
	// UserID is the owning user, carried as an opaque value; accounts are
	// managed elsewhere.
	UserID       int64
	Language     message.Language
	SourceKey    string
	Status       message.Status
	TimeTaken    float64
	MemoryUsed   int64
	PublishState PublishState
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TestCaseResult is one per-test-case outcome row, keyed by
// (submission_id, test_case_id) so redelivered results overwrite in place.
type TestCaseResult struct {
	SubmissionID int64
	TestCaseID   string
	Output       string
	Status       message.Status
	TimeTaken    float64
	MemoryUsed   int64
}

// SubmissionRepository defines submission persistence operations.
type SubmissionRepository interface {
	Create(ctx context.Context, tx db.Transaction, submission *Submission) error
	GetByID(ctx context.Context, id int64) (*Submission, error)
	GetResults(ctx context.Context, id int64) ([]TestCaseResult, error)

	// UpdateStatus advances the submission's status. Regressions return
	// StatusConflict; re-applying the current status is a no-op.
	UpdateStatus(ctx context.Context, id int64, next message.Status) error

	// ApplyResult applies a final verdict and its per-test-case results in
	// one transaction. Safe to call again with the same notification.
	ApplyResult(ctx context.Context, result *message.ResultNotification) error

	MarkPublished(ctx context.Context, id int64) error

	// ListUnpublished returns submissions whose job publish was never
	// confirmed and that are older than cutoff.
	ListUnpublished(ctx context.Context, cutoff time.Time, limit int) ([]Submission, error)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a MySQL-backed submission repository.
func NewSubmissionRepository(database db.Database) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

const submissionColumns = "id, problem_id, user_id, language, source_key, status, time_taken, memory_used, publish_state, created_at, updated_at"

// Create inserts a submission row and fills in its generated id. New rows
// always start in WAITING_FOR_EXECUTION with a pending publish state.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *Submission) error {
	if submission == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("submission is nil")
	}
	if submission.ProblemID <= 0 {
		return appErr.New(appErr.RequiredFieldEmpty).WithMessage("problem id is required")
	}
	if !submission.Language.IsValid() {
		return appErr.Newf(appErr.LanguageNotSupported, "unknown language %q", submission.Language)
	}
	if submission.SourceKey == "" {
		return appErr.New(appErr.RequiredFieldEmpty).WithMessage("source key is required")
	}

	submission.Status = message.StatusWaitingForExecution
	submission.PublishState = PublishStatePending

	query := `
		INSERT INTO submissions (problem_id, user_id, language, source_key, status, publish_state)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, query,
		submission.ProblemID,
		submission.UserID,
		string(submission.Language),
		submission.SourceKey,
		string(submission.Status),
		string(submission.PublishState),
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "insert submission failed")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return appErr.Wrapf(err, appErr.SubmissionCreateFailed, "read submission id failed")
	}
	submission.ID = id
	return nil
}

// GetByID fetches a submission row.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, id int64) (*Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submissions WHERE id = ?"
	return scanSubmission(r.db.QueryRow(ctx, query, id))
}

// GetResults fetches all per-test-case results for a submission, ordered by
// test case id for stable listings.
func (r *MySQLSubmissionRepository) GetResults(ctx context.Context, id int64) ([]TestCaseResult, error) {
	query := `
		SELECT submission_id, test_case_id, output, status, time_taken, memory_used
		FROM submission_test_case_results
		WHERE submission_id = ?
		ORDER BY test_case_id
	`
	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query test case results failed")
	}
	defer rows.Close()

	var results []TestCaseResult
	for rows.Next() {
		var tc TestCaseResult
		var status string
		if err := rows.Scan(&tc.SubmissionID, &tc.TestCaseID, &tc.Output, &status, &tc.TimeTaken, &tc.MemoryUsed); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan test case result failed")
		}
		tc.Status = message.Status(status)
		results = append(results, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate test case results failed")
	}
	return results, nil
}

// UpdateStatus advances the submission state machine under a row lock.
func (r *MySQLSubmissionRepository) UpdateStatus(ctx context.Context, id int64, next message.Status) error {
	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		current, err := lockStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == next {
			return nil
		}
		if !current.CanTransitionTo(next) {
			return appErr.Newf(appErr.StatusConflict, "submission %d: cannot move %s -> %s", id, current, next)
		}
		_, err = tx.Exec(ctx, "UPDATE submissions SET status = ? WHERE id = ?", string(next), id)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "update submission status failed")
		}
		return nil
	})
}

// ApplyResult writes the aggregate verdict and upserts every per-test-case
// row in one transaction. Redelivered notifications are absorbed: the
// terminal row already matches, the upserts overwrite with identical values,
// and the commit is a no-op.
func (r *MySQLSubmissionRepository) ApplyResult(ctx context.Context, result *message.ResultNotification) error {
	return r.db.Transaction(ctx, func(tx db.Transaction) error {
		current, err := lockStatus(ctx, tx, result.SubmissionID)
		if err != nil {
			return err
		}
		if !current.CanTransitionTo(result.Status) {
			return appErr.Newf(appErr.StatusConflict, "submission %d: cannot move %s -> %s", result.SubmissionID, current, result.Status)
		}

		_, err = tx.Exec(ctx,
			"UPDATE submissions SET status = ?, time_taken = ?, memory_used = ? WHERE id = ?",
			string(result.Status), result.TimeTaken, result.MemoryUsed, result.SubmissionID,
		)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "update submission verdict failed")
		}

		upsert := `
			INSERT INTO submission_test_case_results
				(submission_id, test_case_id, output, status, time_taken, memory_used)
			VALUES (?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				output = VALUES(output),
				status = VALUES(status),
				time_taken = VALUES(time_taken),
				memory_used = VALUES(memory_used)
		`
		for _, tc := range result.TestCaseResults {
			_, err := tx.Exec(ctx, upsert,
				result.SubmissionID, tc.TestCaseID, tc.Output, string(tc.Status), tc.TimeTaken, tc.MemoryUsed,
			)
			if err != nil {
				return appErr.Wrapf(err, appErr.DatabaseError, "upsert test case result failed")
			}
		}
		return nil
	})
}

// MarkPublished records broker confirmation of the submission's job message.
func (r *MySQLSubmissionRepository) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx,
		"UPDATE submissions SET publish_state = ? WHERE id = ?",
		string(PublishStateConfirmed), id,
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "mark submission published failed")
	}
	return nil
}

// ListUnpublished returns waiting submissions whose job publish was never
// confirmed. The cutoff keeps the reconciler from racing a publish that is
// still in flight.
func (r *MySQLSubmissionRepository) ListUnpublished(ctx context.Context, cutoff time.Time, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT " + submissionColumns + ` FROM submissions
		WHERE publish_state = ? AND status = ? AND created_at < ?
		ORDER BY id
		LIMIT ?`
	rows, err := r.db.Query(ctx, query,
		string(PublishStatePending), string(message.StatusWaitingForExecution), cutoff, limit,
	)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query unpublished submissions failed")
	}
	defer rows.Close()

	var submissions []Submission
	for rows.Next() {
		s, err := scanSubmissionRow(rows)
		if err != nil {
			return nil, err
		}
		submissions = append(submissions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate unpublished submissions failed")
	}
	return submissions, nil
}

func lockStatus(ctx context.Context, tx db.Transaction, id int64) (message.Status, error) {
	var status string
	err := tx.QueryRow(ctx, "SELECT status FROM submissions WHERE id = ? FOR UPDATE", id).Scan(&status)
	if db.IsNoRows(err) {
		return "", appErr.Newf(appErr.SubmissionNotFound, "submission %d not found", id)
	}
	if err != nil {
		return "", appErr.Wrapf(err, appErr.DatabaseError, "lock submission row failed")
	}
	return message.Status(status), nil
}

func scanSubmission(row db.Row) (*Submission, error) {
	var s Submission
	var language, status, publishState string
	err := row.Scan(&s.ID, &s.ProblemID, &s.UserID, &language, &s.SourceKey, &status,
		&s.TimeTaken, &s.MemoryUsed, &publishState, &s.CreatedAt, &s.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, appErr.New(appErr.SubmissionNotFound)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan submission failed")
	}
	s.Language = message.Language(language)
	s.Status = message.Status(status)
	s.PublishState = PublishState(publishState)
	return &s, nil
}

func scanSubmissionRow(rows db.Rows) (*Submission, error) {
	var s Submission
	var language, status, publishState string
	err := rows.Scan(&s.ID, &s.ProblemID, &s.UserID, &language, &s.SourceKey, &status,
		&s.TimeTaken, &s.MemoryUsed, &publishState, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan submission failed")
	}
	s.Language = message.Language(language)
	s.Status = message.Status(status)
	s.PublishState = PublishState(publishState)
	return &s, nil
}
