package listener

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gavel/internal/common/broker"
	"gavel/internal/message"
	"gavel/internal/submission/repository"
	"gavel/internal/submit/stream"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/logger"
)

// ResultListener applies final verdicts published by workers.
type ResultListener struct {
	repo   repository.SubmissionRepository
	mirror *repository.StatusMirror
	hub    *stream.Hub
}

// NewResultListener creates a result listener. mirror and hub may be nil.
func NewResultListener(repo repository.SubmissionRepository, mirror *repository.StatusMirror, hub *stream.Hub) (*ResultListener, error) {
	if repo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	return &ResultListener{repo: repo, mirror: mirror, hub: hub}, nil
}

// Handle processes one result notification delivery. Re-applying the same
// verdict is a no-op, so redeliveries ack cleanly.
func (l *ResultListener) Handle(ctx context.Context, d *broker.Delivery) error {
	result, err := message.UnmarshalResultNotification(d.Body)
	if err != nil {
		return err
	}

	err = l.repo.ApplyResult(ctx, result)
	switch {
	case err == nil:
	case appErr.Is(err, appErr.StatusConflict):
		// A different terminal verdict is already recorded. First verdict
		// wins; drop the duplicate but make it visible.
		logger.Error(ctx, "conflicting verdict dropped",
			zap.Int64("submission_id", result.SubmissionID),
			zap.String("status", string(result.Status)))
		return nil
	default:
		return err
	}

	announce(ctx, l.mirror, l.hub, result.SubmissionID, result.Status)
	return nil
}
