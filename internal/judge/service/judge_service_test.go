package service_test

import (
	"context"
	"errors"
	"testing"

	"gavel/internal/common/broker"
	"gavel/internal/judge/engine"
	"gavel/internal/judge/service"
	"gavel/internal/message"
	appErr "gavel/pkg/errors"
)

type fakePublisher struct {
	statuses  []message.StatusUpdate
	results   []message.ResultNotification
	statusErr error
	resultErr error
}

func (f *fakePublisher) PublishStatus(_ context.Context, update *message.StatusUpdate) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statuses = append(f.statuses, *update)
	return nil
}

func (f *fakePublisher) PublishResult(_ context.Context, result *message.ResultNotification) error {
	if f.resultErr != nil {
		return f.resultErr
	}
	f.results = append(f.results, *result)
	return nil
}

type fakeEngine struct {
	compileErr *engine.CompileError
	prepareErr error
	runs       []*engine.RunResult
	runPanic   bool

	prepared int
	executed int
	closed   int
}

func (f *fakeEngine) Prepare(context.Context, message.Language, string) (engine.Program, error) {
	f.prepared++
	if f.compileErr != nil {
		return nil, f.compileErr
	}
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return &fakeProgram{engine: f}, nil
}

type fakeProgram struct {
	engine *fakeEngine
}

func (p *fakeProgram) Run(context.Context, string, engine.Limits) (*engine.RunResult, error) {
	if p.engine.runPanic {
		panic("exec backend crashed")
	}
	if p.engine.executed >= len(p.engine.runs) {
		return nil, errors.New("unexpected extra run")
	}
	run := p.engine.runs[p.engine.executed]
	p.engine.executed++
	return run, nil
}

func (p *fakeProgram) Close() error {
	p.engine.closed++
	return nil
}

func newService(t *testing.T, eng *fakeEngine, pub *fakePublisher) *service.JudgeService {
	t.Helper()
	client := &broker.Client{}
	svc, err := service.NewJudgeService(service.Config{
		Client:    client,
		Publisher: pub,
		Engine:    eng,
	})
	if err != nil {
		t.Fatalf("new judge service failed: %v", err)
	}
	return svc
}

func jobDelivery(t *testing.T, job *message.Job, deliveryCount int64) *broker.Delivery {
	t.Helper()
	body, err := message.Marshal(job)
	if err != nil {
		t.Fatalf("encode job failed: %v", err)
	}
	return &broker.Delivery{Body: body, DeliveryCount: deliveryCount}
}

func retriedJobDelivery(t *testing.T, job *message.Job, retryCount int32) *broker.Delivery {
	t.Helper()
	d := jobDelivery(t, job, 0)
	d.RetryCount = retryCount
	return d
}

func threeCaseJob() *message.Job {
	return &message.Job{
		SubmissionID: 11,
		Language:     message.LanguagePython,
		Code:         message.EncodeCode("print(input())"),
		TimeLimit:    1,
		MemoryLimit:  64,
		TestCases: []message.JobTestCase{
			{TestCaseID: "tc-1", Input: "1", ExpectedOutput: "1"},
			{TestCaseID: "tc-2", Input: "2", ExpectedOutput: "2"},
			{TestCaseID: "tc-3", Input: "3", ExpectedOutput: "3"},
		},
	}
}

func TestHandlePassesAllCases(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{runs: []*engine.RunResult{
		{Outcome: engine.OutcomeOK, Output: "1", TimeTaken: 0.1, MemoryUsed: 10},
		{Outcome: engine.OutcomeOK, Output: "2", TimeTaken: 0.3, MemoryUsed: 5},
		{Outcome: engine.OutcomeOK, Output: "3", TimeTaken: 0.2, MemoryUsed: 20},
	}}
	pub := &fakePublisher{}
	svc := newService(t, eng, pub)

	if err := svc.Handle(context.Background(), jobDelivery(t, threeCaseJob(), 0)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(pub.statuses) != 1 || pub.statuses[0].Status != message.StatusRunning {
		t.Fatalf("expected one RUNNING status, got %+v", pub.statuses)
	}
	if len(pub.results) != 1 {
		t.Fatalf("expected one result, got %d", len(pub.results))
	}
	result := pub.results[0]
	if result.Status != message.StatusPassed {
		t.Fatalf("unexpected verdict: %s", result.Status)
	}
	if result.TimeTaken != 0.3 || result.MemoryUsed != 20 {
		t.Fatalf("aggregate must be max across cases, got %v / %v", result.TimeTaken, result.MemoryUsed)
	}
	if len(result.TestCaseResults) != 3 {
		t.Fatalf("expected 3 case results, got %d", len(result.TestCaseResults))
	}
	if eng.closed != 1 {
		t.Fatalf("program must be closed once, got %d", eng.closed)
	}
}

func TestHandleStopsAtFirstFailure(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{runs: []*engine.RunResult{
		{Outcome: engine.OutcomeOK, Output: "1", TimeTaken: 0.1},
		{Outcome: engine.OutcomeOK, Output: "wrong", TimeTaken: 0.2},
	}}
	pub := &fakePublisher{}
	svc := newService(t, eng, pub)

	if err := svc.Handle(context.Background(), jobDelivery(t, threeCaseJob(), 0)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	result := pub.results[0]
	if result.Status != message.StatusWrongAnswer {
		t.Fatalf("unexpected verdict: %s", result.Status)
	}
	if eng.executed != 2 {
		t.Fatalf("execution must stop at first failure, ran %d cases", eng.executed)
	}
	if len(result.TestCaseResults) != 2 {
		t.Fatalf("only executed cases belong in the result, got %d", len(result.TestCaseResults))
	}
	if result.TestCaseResults[1].Status != message.StatusWrongAnswer {
		t.Fatalf("failing case must carry its verdict, got %s", result.TestCaseResults[1].Status)
	}
}

func TestHandleNormalizesTrailingWhitespace(t *testing.T) {
	t.Parallel()
	job := threeCaseJob()
	job.TestCases = job.TestCases[:1]
	job.TestCases[0].ExpectedOutput = "1\n"
	eng := &fakeEngine{runs: []*engine.RunResult{
		{Outcome: engine.OutcomeOK, Output: "1 \r\n"},
	}}
	pub := &fakePublisher{}
	svc := newService(t, eng, pub)

	if err := svc.Handle(context.Background(), jobDelivery(t, job, 0)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if pub.results[0].Status != message.StatusPassed {
		t.Fatalf("trailing whitespace must not fail a correct answer, got %s", pub.results[0].Status)
	}
}

func TestHandleMapsResourceOutcomes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		outcome engine.Outcome
		status  message.Status
	}{
		{engine.OutcomeTimeLimitExceeded, message.StatusTimeLimitExceeded},
		{engine.OutcomeMemoryLimitExceeded, message.StatusMemoryLimitExceeded},
		{engine.OutcomeRuntimeError, message.StatusRuntimeError},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.outcome), func(t *testing.T) {
			t.Parallel()
			job := threeCaseJob()
			eng := &fakeEngine{runs: []*engine.RunResult{{Outcome: tc.outcome}}}
			pub := &fakePublisher{}
			svc := newService(t, eng, pub)
			if err := svc.Handle(context.Background(), jobDelivery(t, job, 0)); err != nil {
				t.Fatalf("handle failed: %v", err)
			}
			if pub.results[0].Status != tc.status {
				t.Fatalf("outcome %s: expected %s, got %s", tc.outcome, tc.status, pub.results[0].Status)
			}
		})
	}
}

func TestHandleCompileErrorIsVerdict(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{compileErr: &engine.CompileError{Log: "main.cpp:1: error"}}
	pub := &fakePublisher{}
	svc := newService(t, eng, pub)

	if err := svc.Handle(context.Background(), jobDelivery(t, threeCaseJob(), 0)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	result := pub.results[0]
	if result.Status != message.StatusCompilationError {
		t.Fatalf("unexpected verdict: %s", result.Status)
	}
	if eng.executed != 0 {
		t.Fatalf("no test case must run on compile error")
	}
}

func TestHandlePoisonJobGetsRuntimeErrorVerdict(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{}
	pub := &fakePublisher{}
	svc := newService(t, eng, pub)

	if err := svc.Handle(context.Background(), jobDelivery(t, threeCaseJob(), 5)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if eng.prepared != 0 {
		t.Fatalf("poison job must not be executed again")
	}
	if len(pub.results) != 1 || pub.results[0].Status != message.StatusRuntimeError {
		t.Fatalf("poison job must close out with RUNTIME_ERROR, got %+v", pub.results)
	}
}

func TestHandleRetryExhaustedJobGetsRuntimeErrorVerdict(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{prepareErr: appErr.New(appErr.EngineUnavailable)}
	pub := &fakePublisher{}
	svc := newService(t, eng, pub)

	// Three transient failures spent the retry budget. The fourth delivery
	// must terminate the submission, not fail transiently a final time and
	// leave it stuck in RUNNING when the consumer drops the message.
	if err := svc.Handle(context.Background(), retriedJobDelivery(t, threeCaseJob(), 3)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if eng.prepared != 0 {
		t.Fatalf("retry-exhausted job must not be executed again")
	}
	if len(pub.results) != 1 || pub.results[0].Status != message.StatusRuntimeError {
		t.Fatalf("retry-exhausted job must close out with RUNTIME_ERROR, got %+v", pub.results)
	}
}

func TestHandleRetriedJobBelowCapIsJudged(t *testing.T) {
	t.Parallel()
	job := threeCaseJob()
	job.TestCases = job.TestCases[:1]
	eng := &fakeEngine{runs: []*engine.RunResult{{Outcome: engine.OutcomeOK, Output: "1"}}}
	pub := &fakePublisher{}
	svc := newService(t, eng, pub)

	if err := svc.Handle(context.Background(), retriedJobDelivery(t, job, 2)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if eng.prepared != 1 {
		t.Fatalf("a job with retry budget left must be judged")
	}
	if len(pub.results) != 1 || pub.results[0].Status != message.StatusPassed {
		t.Fatalf("unexpected result: %+v", pub.results)
	}
}

func TestHandlePropagatesStatusPublishFailure(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{}
	pub := &fakePublisher{statusErr: appErr.New(appErr.PublishNotAcked)}
	svc := newService(t, eng, pub)

	err := svc.Handle(context.Background(), jobDelivery(t, threeCaseJob(), 0))
	if err == nil {
		t.Fatalf("expected error when RUNNING publish fails")
	}
	if !appErr.IsTransient(err) {
		t.Fatalf("publish failure must be retryable, got %v", err)
	}
	if eng.prepared != 0 {
		t.Fatalf("job must not execute before RUNNING is published")
	}
}

func TestHandleMalformedJobIsPermanent(t *testing.T) {
	t.Parallel()
	svc := newService(t, &fakeEngine{}, &fakePublisher{})
	err := svc.Handle(context.Background(), &broker.Delivery{Body: []byte("{")})
	if err == nil {
		t.Fatalf("expected error for malformed body")
	}
	if appErr.IsTransient(err) {
		t.Fatalf("malformed body must not be retried")
	}
}

func TestHandlePanicBecomesRuntimeError(t *testing.T) {
	t.Parallel()
	eng := &fakeEngine{runPanic: true}
	pub := &fakePublisher{}
	svc := newService(t, eng, pub)

	if err := svc.Handle(context.Background(), jobDelivery(t, threeCaseJob(), 0)); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(pub.results) != 1 || pub.results[0].Status != message.StatusRuntimeError {
		t.Fatalf("panic must become a RUNTIME_ERROR verdict, got %+v", pub.results)
	}
}
