package broker

import (
	"context"
	"strconv"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"gavel/internal/message"
	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/logger"
)

// Publisher publishes persistent messages on a confirm-mode channel and waits
// for the broker acknowledgement of each individual publish. The caller knows
// per message whether the broker accepted it, instead of learning about a
// whole batch of losses at once when the channel dies.
type Publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher opens a dedicated channel in confirm mode.
func NewPublisher(client *Client) (*Publisher, error) {
	ch, err := client.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, appErr.Wrapf(err, appErr.BrokerError, "enable publisher confirms failed")
	}
	return &Publisher{ch: ch}, nil
}

// Publish sends body to exchange/key and blocks until the broker confirms or
// ctx expires. correlationID ties the message to its submission in logs and
// on redelivery. A nacked publish returns PublishNotAcked; the message must
// be treated as lost.
func (p *Publisher) Publish(ctx context.Context, exchange, key, correlationID string, body []byte, headers amqp.Table) error {
	if headers == nil {
		headers = amqp.Table{}
	}
	if _, ok := headers[HeaderSchemaVersion]; !ok {
		headers[HeaderSchemaVersion] = message.SchemaVersion
	}

	p.mu.Lock()
	confirmation, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		Headers:       headers,
		Body:          body,
	})
	p.mu.Unlock()
	if err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "publish to %s/%s failed", exchange, key)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return appErr.Wrapf(err, appErr.PublishFailed, "wait for confirm on %s/%s failed", exchange, key)
	}
	if !acked {
		logger.Warn(ctx, "broker nacked publish",
			zap.String("exchange", exchange),
			zap.String("routing_key", key),
			zap.String("correlation_id", correlationID))
		return appErr.Newf(appErr.PublishNotAcked, "broker refused message on %s/%s", exchange, key)
	}
	return nil
}

// PublishJob publishes a judge job keyed by its submission id.
func (p *Publisher) PublishJob(ctx context.Context, job *message.Job) error {
	body, err := message.Marshal(job)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeJobs, RoutingKeyJobs, strconv.FormatInt(job.SubmissionID, 10), body, nil)
}

// PublishStatus publishes an interim status update for a submission.
func (p *Publisher) PublishStatus(ctx context.Context, update *message.StatusUpdate) error {
	body, err := message.Marshal(update)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeStatus, RoutingKeyStatus, strconv.FormatInt(update.SubmissionID, 10), body, nil)
}

// PublishResult publishes the final verdict for a submission.
func (p *Publisher) PublishResult(ctx context.Context, result *message.ResultNotification) error {
	body, err := message.Marshal(result)
	if err != nil {
		return err
	}
	return p.Publish(ctx, ExchangeResults, RoutingKeyResults, strconv.FormatInt(result.SubmissionID, 10), body, nil)
}

// Close closes the publisher channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
