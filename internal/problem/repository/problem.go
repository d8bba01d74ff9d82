// Package repository loads the problem metadata and test cases a judge job
// is built from.
package repository

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"gavel/internal/common/cache"
	"gavel/internal/common/db"
	appErr "gavel/pkg/errors"
)

const (
	problemCacheKeyPrefix = "problem:testcases:"
	problemCacheTTL       = 30 * time.Minute
)

// Problem carries the judging limits for one problem.
type Problem struct {
	ID          int64
	Title       string
	TimeLimit   float64 // seconds
	MemoryLimit int64   // MB
}

// TestCase is one hidden test case of a problem.
type TestCase struct {
	TestCaseID     string `json:"testCaseId"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
}

// ProblemRepository defines problem persistence operations.
type ProblemRepository interface {
	GetByID(ctx context.Context, id int64) (*Problem, error)

	// ListTestCases returns the problem's test cases in their defined
	// order. Results are served from cache when possible.
	ListTestCases(ctx context.Context, problemID int64) ([]TestCase, error)

	Create(ctx context.Context, problem *Problem) error
	AddTestCase(ctx context.Context, problemID int64, input, expectedOutput string) (*TestCase, error)
}

// MySQLProblemRepository implements ProblemRepository with MySQL plus a Redis
// read-through cache for test case lists.
type MySQLProblemRepository struct {
	db    db.Database
	cache cache.Cache
}

// NewProblemRepository creates a problem repository. cacheClient may be nil.
func NewProblemRepository(database db.Database, cacheClient cache.Cache) *MySQLProblemRepository {
	return &MySQLProblemRepository{db: database, cache: cacheClient}
}

// GetByID fetches problem metadata.
func (r *MySQLProblemRepository) GetByID(ctx context.Context, id int64) (*Problem, error) {
	var p Problem
	err := r.db.QueryRow(ctx,
		"SELECT id, title, time_limit, memory_limit FROM problems WHERE id = ?", id,
	).Scan(&p.ID, &p.Title, &p.TimeLimit, &p.MemoryLimit)
	if db.IsNoRows(err) {
		return nil, appErr.Newf(appErr.ProblemNotFound, "problem %d not found", id)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query problem failed")
	}
	return &p, nil
}

// ListTestCases returns the problem's test cases, cache first.
func (r *MySQLProblemRepository) ListTestCases(ctx context.Context, problemID int64) ([]TestCase, error) {
	key := cacheKey(problemID)
	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, key); err == nil {
			var cases []TestCase
			if json.Unmarshal([]byte(raw), &cases) == nil {
				return cases, nil
			}
		}
	}

	rows, err := r.db.Query(ctx, `
		SELECT test_case_id, input, expected_output
		FROM problem_test_cases
		WHERE problem_id = ?
		ORDER BY position
	`, problemID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "query test cases failed")
	}
	defer rows.Close()

	var cases []TestCase
	for rows.Next() {
		var tc TestCase
		if err := rows.Scan(&tc.TestCaseID, &tc.Input, &tc.ExpectedOutput); err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "scan test case failed")
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "iterate test cases failed")
	}

	if r.cache != nil && len(cases) > 0 {
		if raw, err := json.Marshal(cases); err == nil {
			// Cache population is best effort.
			_ = r.cache.Set(ctx, key, string(raw), problemCacheTTL)
		}
	}
	return cases, nil
}

// Create inserts a problem and fills in its generated id.
func (r *MySQLProblemRepository) Create(ctx context.Context, problem *Problem) error {
	if problem.Title == "" {
		return appErr.New(appErr.RequiredFieldEmpty).WithMessage("problem title is required")
	}
	if problem.TimeLimit <= 0 || problem.MemoryLimit <= 0 {
		return appErr.New(appErr.ValidationFailed).WithMessage("problem limits must be positive")
	}
	result, err := r.db.Exec(ctx,
		"INSERT INTO problems (title, time_limit, memory_limit) VALUES (?, ?, ?)",
		problem.Title, problem.TimeLimit, problem.MemoryLimit,
	)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "insert problem failed")
	}
	id, err := result.LastInsertId()
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "read problem id failed")
	}
	problem.ID = id
	return nil
}

// AddTestCase appends a test case to a problem and invalidates the cached
// list. Test case ids are random UUIDs so they stay stable when cases are
// reordered.
func (r *MySQLProblemRepository) AddTestCase(ctx context.Context, problemID int64, input, expectedOutput string) (*TestCase, error) {
	tc := &TestCase{
		TestCaseID:     uuid.NewString(),
		Input:          input,
		ExpectedOutput: expectedOutput,
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO problem_test_cases (problem_id, test_case_id, input, expected_output, position)
		SELECT ?, ?, ?, ?, COALESCE(MAX(position), 0) + 1
		FROM problem_test_cases WHERE problem_id = ?
	`, problemID, tc.TestCaseID, tc.Input, tc.ExpectedOutput, problemID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "insert test case failed")
	}
	if r.cache != nil {
		_ = r.cache.Del(ctx, cacheKey(problemID))
	}
	return tc, nil
}

func cacheKey(problemID int64) string {
	return problemCacheKeyPrefix + strconv.FormatInt(problemID, 10)
}
