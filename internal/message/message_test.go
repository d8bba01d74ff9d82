package message_test

import (
	"encoding/json"
	"testing"

	"gavel/internal/message"
	appErr "gavel/pkg/errors"
)

const jobJSON = `{
	"submissionId": 42,
	"language": "CPP",
	"code": "aW50IG1haW4oKXt9",
	"timeLimit": 2.0,
	"memoryLimit": 256,
	"testCases": [
		{"testCaseId": "550e8400-e29b-41d4-a716-446655440000", "input": "1 2\n", "expectedOutput": "3\n"}
	]
}`

func TestUnmarshalJobWireFormat(t *testing.T) {
	t.Parallel()
	job, err := message.UnmarshalJob([]byte(jobJSON))
	if err != nil {
		t.Fatalf("decode job failed: %v", err)
	}
	if job.SubmissionID != 42 {
		t.Fatalf("unexpected submission id: %d", job.SubmissionID)
	}
	if job.Language != message.LanguageCPP {
		t.Fatalf("unexpected language: %s", job.Language)
	}
	if job.TimeLimit != 2.0 || job.MemoryLimit != 256 {
		t.Fatalf("unexpected limits: %v %v", job.TimeLimit, job.MemoryLimit)
	}
	if len(job.TestCases) != 1 || job.TestCases[0].TestCaseID != "550e8400-e29b-41d4-a716-446655440000" {
		t.Fatalf("unexpected test cases: %+v", job.TestCases)
	}
	source, err := message.DecodeCode(job.Code)
	if err != nil {
		t.Fatalf("decode code failed: %v", err)
	}
	if source != "int main(){}" {
		t.Fatalf("unexpected source: %q", source)
	}
}

func TestJobFieldNamesAreStable(t *testing.T) {
	t.Parallel()
	job := &message.Job{
		SubmissionID: 7,
		Language:     message.LanguagePython,
		Code:         message.EncodeCode("print(1)"),
		TimeLimit:    1.5,
		MemoryLimit:  128,
		TestCases:    []message.JobTestCase{{TestCaseID: "tc-1", Input: "", ExpectedOutput: "1"}},
	}
	body, err := message.Marshal(job)
	if err != nil {
		t.Fatalf("encode job failed: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("re-decode failed: %v", err)
	}
	for _, field := range []string{"submissionId", "language", "code", "timeLimit", "memoryLimit", "testCases"} {
		if _, ok := raw[field]; !ok {
			t.Fatalf("missing wire field %q in %s", field, body)
		}
	}
}

func TestUnmarshalJobRejectsMalformedBody(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing id", `{"language":"CPP","code":"eA==","timeLimit":1,"memoryLimit":64,"testCases":[{"testCaseId":"a"}]}`},
		{"unknown language", `{"submissionId":1,"language":"COBOL","code":"eA==","timeLimit":1,"memoryLimit":64,"testCases":[{"testCaseId":"a"}]}`},
		{"no test cases", `{"submissionId":1,"language":"CPP","code":"eA==","timeLimit":1,"memoryLimit":64,"testCases":[]}`},
		{"zero time limit", `{"submissionId":1,"language":"CPP","code":"eA==","timeLimit":0,"memoryLimit":64,"testCases":[{"testCaseId":"a"}]}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := message.UnmarshalJob([]byte(tc.body))
			if err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
			if !appErr.Is(err, appErr.MalformedMessage) {
				t.Fatalf("expected MalformedMessage, got %v", err)
			}
		})
	}
}

func TestUnmarshalResultNotificationRequiresTerminalStatus(t *testing.T) {
	t.Parallel()
	body := `{"submissionId":1,"status":"RUNNING","timeTaken":0,"memoryUsed":0,"testCaseResults":[]}`
	if _, err := message.UnmarshalResultNotification([]byte(body)); err == nil {
		t.Fatalf("expected error for non-terminal result status")
	}

	body = `{"submissionId":1,"status":"WRONG_ANSWER","timeTaken":0.5,"memoryUsed":10,"testCaseResults":[{"testCaseId":"a","output":"2","status":"WRONG_ANSWER","timeTaken":0.5,"memoryUsed":10}]}`
	result, err := message.UnmarshalResultNotification([]byte(body))
	if err != nil {
		t.Fatalf("decode result failed: %v", err)
	}
	if result.Status != message.StatusWrongAnswer {
		t.Fatalf("unexpected status: %s", result.Status)
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()
	waiting := message.StatusWaitingForExecution
	running := message.StatusRunning
	passed := message.StatusPassed

	if !waiting.CanTransitionTo(running) {
		t.Fatalf("waiting -> running must be allowed")
	}
	if !running.CanTransitionTo(passed) {
		t.Fatalf("running -> terminal must be allowed")
	}
	if !waiting.CanTransitionTo(passed) {
		t.Fatalf("waiting -> terminal must be allowed")
	}
	if passed.CanTransitionTo(running) {
		t.Fatalf("terminal -> running must be rejected")
	}
	if running.CanTransitionTo(waiting) {
		t.Fatalf("running -> waiting must be rejected")
	}
	if passed.CanTransitionTo(message.StatusWrongAnswer) {
		t.Fatalf("terminal -> different terminal must be rejected")
	}
	if !passed.CanTransitionTo(passed) {
		t.Fatalf("re-applying the same terminal status must be allowed")
	}
}

func TestStatusEnumLiterals(t *testing.T) {
	t.Parallel()
	literals := map[message.Status]bool{
		"WAITING_FOR_EXECUTION": false,
		"RUNNING":               false,
		"PASSED":                true,
		"TIME_LIMIT_EXCEEDED":   true,
		"MEMORY_LIMIT_EXCEEDED": true,
		"COMPILATION_ERROR":     true,
		"RUNTIME_ERROR":         true,
		"WRONG_ANSWER":          true,
	}
	for status, terminal := range literals {
		if !status.IsValid() {
			t.Fatalf("status %q must be valid", status)
		}
		if status.IsTerminal() != terminal {
			t.Fatalf("status %q terminal mismatch", status)
		}
	}
	if message.Status("FINISHED").IsValid() {
		t.Fatalf("unknown literal must be invalid")
	}
}
