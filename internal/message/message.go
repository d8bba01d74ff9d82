// Package message defines the wire-format records shared by the API service
// and the judge worker fleet. JSON field names and enumeration literals are
// the protocol: both sides are deployed independently, so any change here is
// a schema version bump, not a refactor.
package message

import (
	"encoding/base64"
	"encoding/json"

	appErr "gavel/pkg/errors"
)

// SchemaVersion is carried in the x-schema-version message header so that a
// consumer can reject payloads from an incompatible producer instead of
// misparsing them.
const SchemaVersion = "1"

// Job describes one submission to judge. It is self-contained: source code,
// limits and the full test case list travel with the message so a worker
// never calls back into the primary datastore.
type Job struct {
	SubmissionID int64         `json:"submissionId"`
	Language     Language      `json:"language"`
	Code         string        `json:"code"` // base64-encoded source
	TimeLimit    float64       `json:"timeLimit"` // seconds
	MemoryLimit  int64         `json:"memoryLimit"` // MB
	TestCases    []JobTestCase `json:"testCases"`
}

// JobTestCase is one test case embedded in a Job.
type JobTestCase struct {
	TestCaseID     string `json:"testCaseId"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
}

// StatusUpdate notifies the API side of an interim submission status
// transition (e.g. RUNNING when a worker picks the job up).
type StatusUpdate struct {
	SubmissionID int64  `json:"submissionId"`
	Status       Status `json:"status"`
}

// TestCaseResult is one per-test-case outcome inside a ResultNotification.
type TestCaseResult struct {
	TestCaseID string  `json:"testCaseId"`
	Output     string  `json:"output"`
	Status     Status  `json:"status"`
	TimeTaken  float64 `json:"timeTaken"`
	MemoryUsed int64   `json:"memoryUsed"`
	CheckerLog string  `json:"checkerLog,omitempty"`
}

// ResultNotification carries the final aggregate verdict for a submission
// together with every per-test-case result.
type ResultNotification struct {
	SubmissionID    int64            `json:"submissionId"`
	Status          Status           `json:"status"`
	TimeTaken       float64          `json:"timeTaken"`
	MemoryUsed      int64            `json:"memoryUsed"`
	TestCaseResults []TestCaseResult `json:"testCaseResults"`
}

// EncodeCode base64-encodes raw source for transport inside a Job.
func EncodeCode(source string) string {
	return base64.StdEncoding.EncodeToString([]byte(source))
}

// DecodeCode decodes the base64 source carried by a Job.
func DecodeCode(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.MalformedMessage, "decode source code failed")
	}
	return string(raw), nil
}

// Validate checks the structural invariants of a Job before it is judged.
func (j *Job) Validate() error {
	if j.SubmissionID <= 0 {
		return appErr.New(appErr.MalformedMessage).WithMessage("job missing submission id")
	}
	if !j.Language.IsValid() {
		return appErr.Newf(appErr.MalformedMessage, "job has unknown language %q", j.Language)
	}
	if j.Code == "" {
		return appErr.New(appErr.MalformedMessage).WithMessage("job missing source code")
	}
	if j.TimeLimit <= 0 || j.MemoryLimit <= 0 {
		return appErr.New(appErr.MalformedMessage).WithMessage("job missing resource limits")
	}
	if len(j.TestCases) == 0 {
		return appErr.New(appErr.MalformedMessage).WithMessage("job has no test cases")
	}
	for _, tc := range j.TestCases {
		if tc.TestCaseID == "" {
			return appErr.New(appErr.MalformedMessage).WithMessage("job test case missing id")
		}
	}
	return nil
}

// Validate checks the structural invariants of a StatusUpdate.
func (u *StatusUpdate) Validate() error {
	if u.SubmissionID <= 0 {
		return appErr.New(appErr.MalformedMessage).WithMessage("status update missing submission id")
	}
	if !u.Status.IsValid() {
		return appErr.Newf(appErr.MalformedMessage, "status update has unknown status %q", u.Status)
	}
	return nil
}

// Validate checks the structural invariants of a ResultNotification.
func (n *ResultNotification) Validate() error {
	if n.SubmissionID <= 0 {
		return appErr.New(appErr.MalformedMessage).WithMessage("result missing submission id")
	}
	if !n.Status.IsTerminal() {
		return appErr.Newf(appErr.MalformedMessage, "result status %q is not terminal", n.Status)
	}
	for _, tc := range n.TestCaseResults {
		if tc.TestCaseID == "" {
			return appErr.New(appErr.MalformedMessage).WithMessage("result test case missing id")
		}
		if !tc.Status.IsTerminal() {
			return appErr.Newf(appErr.MalformedMessage, "test case status %q is not terminal", tc.Status)
		}
	}
	return nil
}

// Marshal serializes any wire record to its JSON byte form.
func Marshal(v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.MalformedMessage, "encode message failed")
	}
	return body, nil
}

// UnmarshalJob decodes and validates a Job body.
func UnmarshalJob(body []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, appErr.Wrapf(err, appErr.MalformedMessage, "decode job failed")
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// UnmarshalStatusUpdate decodes and validates a StatusUpdate body.
func UnmarshalStatusUpdate(body []byte) (*StatusUpdate, error) {
	var update StatusUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, appErr.Wrapf(err, appErr.MalformedMessage, "decode status update failed")
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}
	return &update, nil
}

// UnmarshalResultNotification decodes and validates a ResultNotification body.
func UnmarshalResultNotification(body []byte) (*ResultNotification, error) {
	var result ResultNotification
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, appErr.Wrapf(err, appErr.MalformedMessage, "decode result notification failed")
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}
