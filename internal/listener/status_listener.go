// Package listener consumes the status and result queues on the API side and
// applies each message to the submission store exactly once in effect.
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

// StatusListener applies interim status updates published by workers.
type StatusListener struct {
	repo   repository.SubmissionRepository
	mirror *repository.StatusMirror
	hub    *stream.Hub
}

// NewStatusListener creates a status listener. mirror and hub may be nil.
func NewStatusListener(repo repository.SubmissionRepository, mirror *repository.StatusMirror, hub *stream.Hub) (*StatusListener, error) {
	if repo == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	return &StatusListener{repo: repo, mirror: mirror, hub: hub}, nil
}

// Handle processes one status update delivery. The returned error drives the
// consumer's ack policy: transient failures are retried, everything else is
// dropped after logging.
func (l *StatusListener) Handle(ctx context.Context, d *broker.Delivery) error {
	update, err := message.UnmarshalStatusUpdate(d.Body)
	if err != nil {
		return err
	}

	err = l.repo.UpdateStatus(ctx, update.SubmissionID, update.Status)
	switch {
	case err == nil:
	case appErr.Is(err, appErr.StatusConflict):
		// Stale or duplicate update arriving after a later transition.
		// The state machine already moved on; absorb it.
		logger.Debug(ctx, "ignoring stale status update",
			zap.Int64("submission_id", update.SubmissionID),
			zap.String("status", string(update.Status)))
		return nil
	default:
		return err
	}

	announce(ctx, l.mirror, l.hub, update.SubmissionID, update.Status)
	return nil
}

// announce mirrors the new status and wakes websocket subscribers. Both are
// best effort; the database row is already committed.
func announce(ctx context.Context, mirror *repository.StatusMirror, hub *stream.Hub, id int64, status message.Status) {
	if mirror != nil {
		if err := mirror.Set(ctx, id, status); err != nil {
			logger.Warn(ctx, "status mirror write failed", zap.Int64("submission_id", id), zap.Error(err))
		}
	}
	if hub != nil {
		hub.Broadcast(id, status)
	}
}
