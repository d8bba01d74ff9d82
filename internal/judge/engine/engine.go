// Package engine abstracts the program execution backend a judge worker
// delegates to.
package engine

import (
	"context"
	"fmt"

	"gavel/internal/message"
)

// Limits bounds one test case execution.
type Limits struct {
	Time   float64 // seconds
	Memory int64   // MB
}

// Outcome classifies how one execution ended. Output comparison happens in
// the judge service, so a clean run is OK here even when the answer is wrong.
type Outcome string

const (
	OutcomeOK                  Outcome = "OK"
	OutcomeTimeLimitExceeded   Outcome = "TIME_LIMIT_EXCEEDED"
	OutcomeMemoryLimitExceeded Outcome = "MEMORY_LIMIT_EXCEEDED"
	OutcomeRuntimeError        Outcome = "RUNTIME_ERROR"
)

// RunResult reports one execution.
type RunResult struct {
	Outcome    Outcome
	Output     string
	Stderr     string
	TimeTaken  float64 // seconds
	MemoryUsed int64   // MB
}

// CompileError reports a failed compilation. It is a verdict, not an
// infrastructure fault.
type CompileError struct {
	Log string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compilation failed: %s", e.Log)
}

// Program is a compiled submission ready to run against test case inputs.
type Program interface {
	Run(ctx context.Context, input string, limits Limits) (*RunResult, error)
	Close() error
}

// Engine prepares submissions for execution. Prepare returns *CompileError
// when the source does not build; any other error is an engine fault.
type Engine interface {
	Prepare(ctx context.Context, language message.Language, source string) (Program, error)
}
