package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges:
//   10000-10999: generic
//   11000-11999: submission pipeline
//   12000-12999: broker / messaging
//   13000-13999: judging
const (
	// Success
	Success ErrorCode = 10000

	// Generic errors
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Timeout             ErrorCode = 10004
	ServiceUnavailable  ErrorCode = 10005

	// Datastore errors
	DatabaseError     ErrorCode = 10100
	TransactionFailed ErrorCode = 10101
	CacheError        ErrorCode = 10200
	StorageError      ErrorCode = 10300

	// Validation errors
	ValidationFailed   ErrorCode = 10400
	RequiredFieldEmpty ErrorCode = 10401

	// Submission pipeline errors
	SubmissionNotFound     ErrorCode = 11000
	SubmissionCreateFailed ErrorCode = 11001
	ProblemNotFound        ErrorCode = 11002
	LanguageNotSupported   ErrorCode = 11003
	CodeTooLarge           ErrorCode = 11004
	ResultApplyFailed      ErrorCode = 11005
	StatusConflict         ErrorCode = 11006

	// Broker errors
	BrokerError           ErrorCode = 12000
	PublishFailed         ErrorCode = 12001
	PublishNotAcked       ErrorCode = 12002
	MalformedMessage      ErrorCode = 12003
	TopologyDeclareFailed ErrorCode = 12004

	// Judging errors (pipeline faults, not verdicts)
	JudgeSystemError  ErrorCode = 13000
	EngineUnavailable ErrorCode = 13001
)

var messages = map[ErrorCode]string{
	Success: "success",

	InternalServerError: "internal server error",
	InvalidParams:       "invalid parameters",
	NotFound:            "resource not found",
	Timeout:             "operation timed out",
	ServiceUnavailable:  "service unavailable",

	DatabaseError:     "database error",
	TransactionFailed: "transaction failed",
	CacheError:        "cache error",
	StorageError:      "object storage error",

	ValidationFailed:   "validation failed",
	RequiredFieldEmpty: "required field is empty",

	SubmissionNotFound:     "submission not found",
	SubmissionCreateFailed: "create submission failed",
	ProblemNotFound:        "problem not found",
	LanguageNotSupported:   "language not supported",
	CodeTooLarge:           "source code too large",
	ResultApplyFailed:      "apply result failed",
	StatusConflict:         "status transition conflict",

	BrokerError:           "message broker error",
	PublishFailed:         "publish failed",
	PublishNotAcked:       "publish was not confirmed by broker",
	MalformedMessage:      "malformed message body",
	TopologyDeclareFailed: "declare broker topology failed",

	JudgeSystemError:  "judge system error",
	EngineUnavailable: "execution engine unavailable",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := messages[c]; ok {
		return msg
	}
	return "unknown error"
}

// HTTPStatus maps the error code to an HTTP status code
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case Success:
		return http.StatusOK
	case InvalidParams, ValidationFailed, RequiredFieldEmpty, CodeTooLarge, LanguageNotSupported, MalformedMessage:
		return http.StatusBadRequest
	case NotFound, SubmissionNotFound, ProblemNotFound:
		return http.StatusNotFound
	case StatusConflict:
		return http.StatusConflict
	case Timeout:
		return http.StatusGatewayTimeout
	case ServiceUnavailable, BrokerError, PublishFailed, PublishNotAcked, EngineUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsTransient reports whether the error code describes a condition that may
// succeed on retry (infrastructure momentarily unavailable). Permanent data
// errors (missing rows, malformed payloads) return false: redelivering the
// same message will never succeed.
func (c ErrorCode) IsTransient() bool {
	switch c {
	case DatabaseError, TransactionFailed, CacheError, StorageError,
		BrokerError, PublishFailed, PublishNotAcked,
		Timeout, ServiceUnavailable, EngineUnavailable:
		return true
	default:
		return false
	}
}
