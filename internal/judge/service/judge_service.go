// Package service implements the judge worker: it consumes jobs, executes
// them against their test cases, and publishes status and result messages
// back to the API side.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"gavel/internal/common/broker"
	"gavel/internal/judge/engine"
	"gavel/internal/message"
	"gavel/pkg/utils/logger"
)

const (
	defaultSlots         = 1
	defaultMaxDeliveries = 5
	defaultMaxRetries    = 3
)

// Publisher is the broker surface the worker publishes through.
type Publisher interface {
	PublishStatus(ctx context.Context, update *message.StatusUpdate) error
	PublishResult(ctx context.Context, result *message.ResultNotification) error
}

// Config holds judge service dependencies and settings.
type Config struct {
	Client    *broker.Client
	Publisher Publisher
	Engine    engine.Engine

	// Slots is the number of parallel consumer loops. Each loop holds at
	// most one unacknowledged job at a time.
	Slots int

	// MaxDeliveries caps broker redeliveries of one job before it is
	// declared poisonous and closed out with a runtime error verdict.
	MaxDeliveries int64

	// MaxRetries caps consumer-side republishes after transient failures.
	// A job delivered with its retry budget spent is closed out with a
	// runtime error verdict instead of being dropped.
	MaxRetries int32
}

// JudgeService consumes and executes judge jobs.
type JudgeService struct {
	client        *broker.Client
	publisher     Publisher
	engine        engine.Engine
	slots         int
	maxDeliveries int64
	maxRetries    int32
}

// NewJudgeService creates a judge service.
func NewJudgeService(cfg Config) (*JudgeService, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("broker client is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Slots <= 0 {
		cfg.Slots = defaultSlots
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = defaultMaxDeliveries
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &JudgeService{
		client:        cfg.Client,
		publisher:     cfg.Publisher,
		engine:        cfg.Engine,
		slots:         cfg.Slots,
		maxDeliveries: cfg.MaxDeliveries,
		maxRetries:    cfg.MaxRetries,
	}, nil
}

// Run starts one consumer loop per slot and blocks until ctx is canceled.
func (s *JudgeService) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < s.slots; i++ {
		consumer, err := broker.NewConsumer(s.client, broker.ConsumerConfig{
			Queue:      broker.QueueJobs,
			Tag:        fmt.Sprintf("judge-worker-%d", i),
			MaxRetries: s.maxRetries,
		})
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(slot int, c *broker.Consumer) {
			defer wg.Done()
			if err := c.Run(ctx, s.Handle); err != nil && ctx.Err() == nil {
				logger.Error(ctx, "consumer slot stopped", zap.Int("slot", slot), zap.Error(err))
			}
		}(i, consumer)
	}
	wg.Wait()
	return ctx.Err()
}

// Handle processes one job delivery. The returned error drives the ack
// policy: nil acks, transient errors requeue, everything else drops.
func (s *JudgeService) Handle(ctx context.Context, d *broker.Delivery) error {
	job, err := message.UnmarshalJob(d.Body)
	if err != nil {
		return err
	}
	source, err := message.DecodeCode(job.Code)
	if err != nil {
		return err
	}
	ctx = logger.WithSubmission(ctx, job.SubmissionID)

	// A job that keeps crashing workers or keeps failing transiently must
	// not circulate forever. Redeliveries bump the broker's delivery count,
	// consumer republishes bump the retry header; either budget running out
	// closes the job with a runtime error verdict instead of judging it
	// again, so the submission always reaches a terminal state.
	if d.DeliveryCount >= s.maxDeliveries || d.RetryCount >= s.maxRetries {
		logger.Error(ctx, "poison job, publishing runtime error verdict",
			zap.Int64("delivery_count", d.DeliveryCount),
			zap.Int32("retry_count", d.RetryCount))
		return s.publisher.PublishResult(ctx, &message.ResultNotification{
			SubmissionID: job.SubmissionID,
			Status:       message.StatusRuntimeError,
		})
	}

	if err := s.publisher.PublishStatus(ctx, &message.StatusUpdate{
		SubmissionID: job.SubmissionID,
		Status:       message.StatusRunning,
	}); err != nil {
		return err
	}

	result, err := s.judge(ctx, job, source)
	if err != nil {
		return err
	}
	if err := s.publisher.PublishResult(ctx, result); err != nil {
		return err
	}
	logger.Info(ctx, "submission judged", zap.String("status", string(result.Status)))
	return nil
}

// judge runs the job's test cases in order and aggregates the verdict. Only
// engine faults surface as errors; every judging outcome, including a panic
// in the execution path, becomes a verdict.
func (s *JudgeService) judge(ctx context.Context, job *message.Job, source string) (result *message.ResultNotification, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "judging panicked", zap.Any("panic", r))
			result = &message.ResultNotification{
				SubmissionID: job.SubmissionID,
				Status:       message.StatusRuntimeError,
			}
			err = nil
		}
	}()

	program, err := s.engine.Prepare(ctx, job.Language, source)
	if err != nil {
		if compileErr, ok := err.(*engine.CompileError); ok {
			return &message.ResultNotification{
				SubmissionID: job.SubmissionID,
				Status:       message.StatusCompilationError,
				TestCaseResults: []message.TestCaseResult{{
					TestCaseID: job.TestCases[0].TestCaseID,
					Output:     compileErr.Log,
					Status:     message.StatusCompilationError,
				}},
			}, nil
		}
		return nil, err
	}
	defer program.Close()

	limits := engine.Limits{Time: job.TimeLimit, Memory: job.MemoryLimit}
	verdict := message.StatusPassed
	var caseResults []message.TestCaseResult
	var maxTime float64
	var maxMemory int64

	for _, tc := range job.TestCases {
		run, err := program.Run(ctx, tc.Input, limits)
		if err != nil {
			return nil, err
		}
		status := classify(run, tc.ExpectedOutput)
		caseResults = append(caseResults, message.TestCaseResult{
			TestCaseID: tc.TestCaseID,
			Output:     run.Output,
			Status:     status,
			TimeTaken:  run.TimeTaken,
			MemoryUsed: run.MemoryUsed,
		})
		if run.TimeTaken > maxTime {
			maxTime = run.TimeTaken
		}
		if run.MemoryUsed > maxMemory {
			maxMemory = run.MemoryUsed
		}
		// First failing test case decides the verdict; later cases are
		// not executed.
		if status != message.StatusPassed {
			verdict = status
			break
		}
	}

	return &message.ResultNotification{
		SubmissionID:    job.SubmissionID,
		Status:          verdict,
		TimeTaken:       maxTime,
		MemoryUsed:      maxMemory,
		TestCaseResults: caseResults,
	}, nil
}

func classify(run *engine.RunResult, expected string) message.Status {
	switch run.Outcome {
	case engine.OutcomeTimeLimitExceeded:
		return message.StatusTimeLimitExceeded
	case engine.OutcomeMemoryLimitExceeded:
		return message.StatusMemoryLimitExceeded
	case engine.OutcomeRuntimeError:
		return message.StatusRuntimeError
	}
	if normalizeOutput(run.Output) == normalizeOutput(expected) {
		return message.StatusPassed
	}
	return message.StatusWrongAnswer
}

// normalizeOutput strips trailing whitespace per line and trailing newlines
// so cosmetic differences do not fail a correct answer.
func normalizeOutput(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
