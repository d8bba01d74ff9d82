// Package service implements submission intake: validate, archive the
// source, persist the row, then hand the job to the worker fleet through the
// broker.
package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gavel/internal/common/storage"
	"gavel/internal/message"
	problemRepo "gavel/internal/problem/repository"
	"gavel/internal/submission/repository"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/logger"
)

const (
	defaultSourcePrefix  = "submissions"
	defaultMaxCodeBytes  = 256 * 1024
	defaultBatchLimit    = 200
	defaultReconcileAge  = 30 * time.Second
	defaultReconcileTick = 15 * time.Second
)

// JobPublisher is the broker surface the intake path publishes through. A
// returned error means the broker did not confirm the message.
type JobPublisher interface {
	PublishJob(ctx context.Context, job *message.Job) error
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration `yaml:"db"`
	Cache   time.Duration `yaml:"cache"`
	Broker  time.Duration `yaml:"broker"`
	Storage time.Duration `yaml:"storage"`
}

// Config holds submit service dependencies and settings.
type Config struct {
	SubmissionRepo repository.SubmissionRepository
	ProblemRepo    problemRepo.ProblemRepository
	StatusMirror   *repository.StatusMirror
	Storage        storage.ObjectStorage
	Publisher      JobPublisher

	SourceKeyPrefix string
	MaxCodeBytes    int
	BatchLimit      int
	ReconcileAge    time.Duration
	Timeouts        TimeoutConfig
}

// SubmitService handles submission intake and dispatch.
type SubmitService struct {
	submissionRepo repository.SubmissionRepository
	problemRepo    problemRepo.ProblemRepository
	statusMirror   *repository.StatusMirror
	storage        storage.ObjectStorage
	publisher      JobPublisher

	sourceKeyPrefix string
	maxCodeBytes    int
	batchLimit      int
	reconcileAge    time.Duration
	timeouts        TimeoutConfig
}

// SubmitInput describes a submission request. UserID is the submitting user,
// passed through opaquely; accounts are managed upstream.
type SubmitInput struct {
	ProblemID  int64
	UserID     int64
	Language   message.Language
	SourceCode string
}

// SubmissionView is the read model served to clients.
type SubmissionView struct {
	ID         int64            `json:"id"`
	ProblemID  int64            `json:"problemId"`
	UserID     int64            `json:"userId"`
	Language   message.Language `json:"language"`
	Status     message.Status   `json:"status"`
	TimeTaken  float64          `json:"timeTaken"`
	MemoryUsed int64            `json:"memoryUsed"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// ResultView is a submission plus its per-test-case outcomes.
type ResultView struct {
	SubmissionView
	TestCaseResults []message.TestCaseResult `json:"testCaseResults"`
}

// NewSubmitService creates a new submit service.
func NewSubmitService(cfg Config) (*SubmitService, error) {
	if cfg.SubmissionRepo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if cfg.ProblemRepo == nil {
		return nil, fmt.Errorf("problem repository is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if cfg.SourceKeyPrefix == "" {
		cfg.SourceKeyPrefix = defaultSourcePrefix
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	if cfg.ReconcileAge <= 0 {
		cfg.ReconcileAge = defaultReconcileAge
	}
	return &SubmitService{
		submissionRepo:  cfg.SubmissionRepo,
		problemRepo:     cfg.ProblemRepo,
		statusMirror:    cfg.StatusMirror,
		storage:         cfg.Storage,
		publisher:       cfg.Publisher,
		sourceKeyPrefix: cfg.SourceKeyPrefix,
		maxCodeBytes:    cfg.MaxCodeBytes,
		batchLimit:      cfg.BatchLimit,
		reconcileAge:    cfg.ReconcileAge,
		timeouts:        cfg.Timeouts,
	}, nil
}

// Submit validates a submission, makes it durable, then publishes its judge
// job. The row is committed before the publish is attempted: a broker outage
// delays judging but never loses an accepted submission. The reconciler
// re-publishes anything that stays unconfirmed.
func (s *SubmitService) Submit(ctx context.Context, input SubmitInput) (*SubmissionView, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	problem, err := s.problemRepo.GetByID(ctxDB.ctx, input.ProblemID)
	if err != nil {
		return nil, err
	}
	testCases, err := s.problemRepo.ListTestCases(ctxDB.ctx, problem.ID)
	if err != nil {
		return nil, err
	}
	if len(testCases) == 0 {
		return nil, appErr.Newf(appErr.ValidationFailed, "problem %d has no test cases", problem.ID)
	}

	sourceKey := s.buildSourceKey()
	if err := s.uploadSource(ctx, sourceKey, input.SourceCode); err != nil {
		return nil, err
	}

	submission := &repository.Submission{
		ProblemID: problem.ID,
		UserID:    input.UserID,
		Language:  input.Language,
		SourceKey: sourceKey,
	}
	if err := s.submissionRepo.Create(ctxDB.ctx, nil, submission); err != nil {
		return nil, err
	}
	s.mirrorStatus(ctx, submission.ID, submission.Status)

	job := buildJob(submission, problem, input.SourceCode, testCases)
	s.publishJob(ctx, job)

	view := toView(submission)
	view.CreatedAt = time.Now()
	return &view, nil
}

// GetSubmission returns the submission view from the database.
func (s *SubmitService) GetSubmission(ctx context.Context, id int64) (*SubmissionView, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submission, err := s.submissionRepo.GetByID(ctxDB.ctx, id)
	if err != nil {
		return nil, err
	}
	view := toView(submission)
	return &view, nil
}

// GetStatus returns just the submission status, mirror first.
func (s *SubmitService) GetStatus(ctx context.Context, id int64) (message.Status, error) {
	if s.statusMirror != nil {
		ctxCache := withTimeout(ctx, s.timeouts.Cache)
		status, ok, err := s.statusMirror.Get(ctxCache.ctx, id)
		ctxCache.cancel()
		if err != nil {
			logger.Warn(ctx, "status mirror read failed", zap.Int64("submission_id", id), zap.Error(err))
		} else if ok {
			return status, nil
		}
	}
	view, err := s.GetSubmission(ctx, id)
	if err != nil {
		return "", err
	}
	return view.Status, nil
}

// GetStatusBatch returns statuses for several submissions, mirror first with
// a database fallback for misses. Unknown ids are absent from the result.
func (s *SubmitService) GetStatusBatch(ctx context.Context, ids []int64) (map[int64]message.Status, error) {
	if len(ids) > s.batchLimit {
		return nil, appErr.Newf(appErr.InvalidParams, "at most %d ids per batch", s.batchLimit)
	}
	statuses := make(map[int64]message.Status, len(ids))
	if s.statusMirror != nil {
		ctxCache := withTimeout(ctx, s.timeouts.Cache)
		mirrored, err := s.statusMirror.GetBatch(ctxCache.ctx, ids)
		ctxCache.cancel()
		if err != nil {
			logger.Warn(ctx, "status mirror batch read failed", zap.Error(err))
		} else {
			for id, status := range mirrored {
				statuses[id] = status
			}
		}
	}
	for _, id := range ids {
		if _, ok := statuses[id]; ok {
			continue
		}
		view, err := s.GetSubmission(ctx, id)
		if appErr.Is(err, appErr.SubmissionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		statuses[id] = view.Status
	}
	return statuses, nil
}

// GetResults returns the submission and all its per-test-case results.
func (s *SubmitService) GetResults(ctx context.Context, id int64) (*ResultView, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submission, err := s.submissionRepo.GetByID(ctxDB.ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.submissionRepo.GetResults(ctxDB.ctx, id)
	if err != nil {
		return nil, err
	}
	results := make([]message.TestCaseResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, message.TestCaseResult{
			TestCaseID: row.TestCaseID,
			Output:     row.Output,
			Status:     row.Status,
			TimeTaken:  row.TimeTaken,
			MemoryUsed: row.MemoryUsed,
		})
	}
	return &ResultView{SubmissionView: toView(submission), TestCaseResults: results}, nil
}

// GetSource reads the archived source code of a submission.
func (s *SubmitService) GetSource(ctx context.Context, id int64) (string, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	submission, err := s.submissionRepo.GetByID(ctxDB.ctx, id)
	ctxDB.cancel()
	if err != nil {
		return "", err
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	reader, err := s.storage.Get(ctxStorage.ctx, submission.SourceKey)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "read source %s failed", submission.SourceKey)
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "read source %s failed", submission.SourceKey)
	}
	return string(raw), nil
}

// RunReconciler periodically re-publishes jobs for submissions whose publish
// was never confirmed. It exits when ctx is canceled.
func (s *SubmitService) RunReconciler(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = defaultReconcileTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcileOnce(ctx)
		}
	}
}

func (s *SubmitService) reconcileOnce(ctx context.Context) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	pending, err := s.submissionRepo.ListUnpublished(ctxDB.ctx, time.Now().Add(-s.reconcileAge), s.batchLimit)
	ctxDB.cancel()
	if err != nil {
		logger.Error(ctx, "list unpublished submissions failed", zap.Error(err))
		return
	}
	for _, submission := range pending {
		if err := s.republish(ctx, &submission); err != nil {
			logger.Warn(ctx, "republish job failed",
				zap.Int64("submission_id", submission.ID), zap.Error(err))
		}
	}
}

func (s *SubmitService) republish(ctx context.Context, submission *repository.Submission) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	problem, err := s.problemRepo.GetByID(ctxDB.ctx, submission.ProblemID)
	if err != nil {
		ctxDB.cancel()
		return err
	}
	testCases, err := s.problemRepo.ListTestCases(ctxDB.ctx, problem.ID)
	ctxDB.cancel()
	if err != nil {
		return err
	}
	source, err := s.readSource(ctx, submission.SourceKey)
	if err != nil {
		return err
	}

	job := buildJob(submission, problem, source, testCases)
	ctxBroker := withTimeout(ctx, s.timeouts.Broker)
	err = s.publisher.PublishJob(ctxBroker.ctx, job)
	ctxBroker.cancel()
	if err != nil {
		return err
	}
	ctxDB = withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	return s.submissionRepo.MarkPublished(ctxDB.ctx, submission.ID)
}

func (s *SubmitService) validate(input SubmitInput) error {
	if input.ProblemID <= 0 {
		return appErr.ValidationError("problemId", "must be positive")
	}
	if !input.Language.IsValid() {
		return appErr.Newf(appErr.LanguageNotSupported, "language %q is not supported", input.Language)
	}
	if strings.TrimSpace(input.SourceCode) == "" {
		return appErr.ValidationError("code", "must not be empty")
	}
	if len(input.SourceCode) > s.maxCodeBytes {
		return appErr.Newf(appErr.CodeTooLarge, "source exceeds %d bytes", s.maxCodeBytes)
	}
	return nil
}

func (s *SubmitService) uploadSource(ctx context.Context, objectKey, source string) error {
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	reader := strings.NewReader(source)
	if err := s.storage.Put(ctxStorage.ctx, objectKey, reader, int64(len(source)), "text/plain; charset=utf-8"); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "archive source failed")
	}
	return nil
}

func (s *SubmitService) readSource(ctx context.Context, objectKey string) (string, error) {
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	reader, err := s.storage.Get(ctxStorage.ctx, objectKey)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "read source %s failed", objectKey)
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return "", appErr.Wrapf(err, appErr.StorageError, "read source %s failed", objectKey)
	}
	return string(raw), nil
}

// publishJob publishes the job and records the confirm. Failures are logged
// only: the submission row is already durable and the reconciler owns retry.
func (s *SubmitService) publishJob(ctx context.Context, job *message.Job) {
	ctxBroker := withTimeout(ctx, s.timeouts.Broker)
	err := s.publisher.PublishJob(ctxBroker.ctx, job)
	ctxBroker.cancel()
	if err != nil {
		logger.Warn(ctx, "job publish unconfirmed, reconciler will retry",
			zap.Int64("submission_id", job.SubmissionID), zap.Error(err))
		return
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if err := s.submissionRepo.MarkPublished(ctxDB.ctx, job.SubmissionID); err != nil {
		logger.Warn(ctx, "mark published failed",
			zap.Int64("submission_id", job.SubmissionID), zap.Error(err))
	}
}

func (s *SubmitService) mirrorStatus(ctx context.Context, id int64, status message.Status) {
	if s.statusMirror == nil {
		return
	}
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.statusMirror.Set(ctxCache.ctx, id, status); err != nil {
		logger.Warn(ctx, "status mirror write failed", zap.Int64("submission_id", id), zap.Error(err))
	}
}

func (s *SubmitService) buildSourceKey() string {
	return fmt.Sprintf("%s/%s/source.code", s.sourceKeyPrefix, uuid.NewString())
}

func buildJob(submission *repository.Submission, problem *problemRepo.Problem, source string, testCases []problemRepo.TestCase) *message.Job {
	jobCases := make([]message.JobTestCase, len(testCases))
	for i, tc := range testCases {
		jobCases[i] = message.JobTestCase{
			TestCaseID:     tc.TestCaseID,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
		}
	}
	return &message.Job{
		SubmissionID: submission.ID,
		Language:     submission.Language,
		Code:         message.EncodeCode(source),
		TimeLimit:    problem.TimeLimit,
		MemoryLimit:  problem.MemoryLimit,
		TestCases:    jobCases,
	}
}

func toView(submission *repository.Submission) SubmissionView {
	return SubmissionView{
		ID:         submission.ID,
		ProblemID:  submission.ProblemID,
		UserID:     submission.UserID,
		Language:   submission.Language,
		Status:     submission.Status,
		TimeTaken:  submission.TimeTaken,
		MemoryUsed: submission.MemoryUsed,
		CreatedAt:  submission.CreatedAt,
	}
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}
