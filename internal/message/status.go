package message

// Status is the shared submission / test case verdict enumeration. The
// literal strings are part of the wire contract between the API service and
// the worker fleet and must not be renamed without a schema version bump.
type Status string

const (
	StatusWaitingForExecution Status = "WAITING_FOR_EXECUTION"
	StatusRunning             Status = "RUNNING"
	StatusPassed              Status = "PASSED"
	StatusTimeLimitExceeded   Status = "TIME_LIMIT_EXCEEDED"
	StatusMemoryLimitExceeded Status = "MEMORY_LIMIT_EXCEEDED"
	StatusCompilationError    Status = "COMPILATION_ERROR"
	StatusRuntimeError        Status = "RUNTIME_ERROR"
	StatusWrongAnswer         Status = "WRONG_ANSWER"
)

// IsTerminal reports whether the status is a final verdict.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusTimeLimitExceeded, StatusMemoryLimitExceeded,
		StatusCompilationError, StatusRuntimeError, StatusWrongAnswer:
		return true
	default:
		return false
	}
}

// IsValid reports whether the status is a known enumeration member.
func (s Status) IsValid() bool {
	switch s {
	case StatusWaitingForExecution, StatusRunning:
		return true
	default:
		return s.IsTerminal()
	}
}

// rank orders the submission state machine: a submission's status only ever
// advances. All terminal verdicts share one rank; transitions between them
// are rejected.
func (s Status) rank() int {
	switch s {
	case StatusWaitingForExecution:
		return 0
	case StatusRunning:
		return 1
	default:
		return 2
	}
}

// CanTransitionTo reports whether moving from s to next is a legal advance of
// the submission state machine. Re-applying the same terminal status is
// allowed so that redelivered result messages stay idempotent.
func (s Status) CanTransitionTo(next Status) bool {
	if !next.IsValid() {
		return false
	}
	if s == next {
		return true
	}
	return next.rank() > s.rank()
}
