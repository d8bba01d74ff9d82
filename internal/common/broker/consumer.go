package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	appErr "gavel/pkg/errors"
	"gavel/pkg/utils/logger"
)

// Delivery is the slice of an AMQP delivery a handler is allowed to see.
// Acknowledgement stays inside the consumer so every handler gets the same
// ack policy.
type Delivery struct {
	Body          []byte
	CorrelationID string
	Redelivered   bool
	// DeliveryCount counts broker redeliveries of this message, starting at
	// zero for the first attempt. Only quorum queues maintain it.
	DeliveryCount int64
	// RetryCount counts consumer-side republishes after transient failures.
	RetryCount int32
}

// Handler processes one delivery. A nil return acknowledges the message. A
// transient error (per errors.IsTransient) requeues it for another attempt;
// any other error drops it as poison.
type Handler func(ctx context.Context, d *Delivery) error

// ConsumerConfig holds the settings of one consuming loop.
type ConsumerConfig struct {
	Queue      string `yaml:"queue"`
	Tag        string `yaml:"tag"`
	Prefetch   int    `yaml:"prefetch"`
	MaxRetries int32  `yaml:"maxRetries"`
}

// Consumer runs a manually acknowledged consume loop over one queue.
type Consumer struct {
	client *Client
	cfg    ConsumerConfig
}

// NewConsumer builds a consumer for cfg.Queue. Prefetch defaults to one so a
// busy worker never hoards jobs other idle workers could take, and MaxRetries
// defaults to three republishes before a transiently failing message is
// dropped.
func NewConsumer(client *Client, cfg ConsumerConfig) (*Consumer, error) {
	if client == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("broker client is required")
	}
	if cfg.Queue == "" {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("consumer queue is required")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Consumer{client: client, cfg: cfg}, nil
}

// Run consumes cfg.Queue until ctx is canceled or the channel dies. Each
// message is handled on the calling goroutine; concurrency comes from running
// several consumers, not from fanning out inside one channel.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	ch, err := c.client.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return appErr.Wrapf(err, appErr.BrokerError, "set prefetch on %s failed", c.cfg.Queue)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, c.cfg.Queue, c.cfg.Tag, false, false, false, false, nil)
	if err != nil {
		return appErr.Wrapf(err, appErr.BrokerError, "consume %s failed", c.cfg.Queue)
	}

	logger.Info(ctx, "consumer started",
		zap.String("queue", c.cfg.Queue),
		zap.Int("prefetch", c.cfg.Prefetch))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return appErr.Newf(appErr.BrokerError, "delivery channel for %s closed", c.cfg.Queue)
			}
			c.dispatch(ctx, ch, &d, handler)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, ch *amqp.Channel, d *amqp.Delivery, handler Handler) {
	delivery := &Delivery{
		Body:          d.Body,
		CorrelationID: d.CorrelationId,
		Redelivered:   d.Redelivered,
		DeliveryCount: headerInt(d.Headers, HeaderDeliveryCount),
		RetryCount:    int32(headerInt(d.Headers, HeaderRetryCount)),
	}

	err := handler(ctx, delivery)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			logger.Error(ctx, "ack failed", zap.String("queue", c.cfg.Queue), zap.Error(ackErr))
		}
		return
	}

	if !appErr.IsTransient(err) {
		// Malformed or permanently unprocessable. Requeueing would loop
		// forever, so drop it.
		logger.Error(ctx, "dropping unprocessable message",
			zap.String("queue", c.cfg.Queue),
			zap.String("correlation_id", d.CorrelationId),
			zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			logger.Error(ctx, "nack failed", zap.String("queue", c.cfg.Queue), zap.Error(nackErr))
		}
		return
	}

	if delivery.RetryCount >= c.cfg.MaxRetries {
		logger.Error(ctx, "retry budget exhausted, dropping message",
			zap.String("queue", c.cfg.Queue),
			zap.String("correlation_id", d.CorrelationId),
			zap.Int32("retries", delivery.RetryCount),
			zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			logger.Error(ctx, "nack failed", zap.String("queue", c.cfg.Queue), zap.Error(nackErr))
		}
		return
	}

	// Transient failure: republish to the back of the queue with a bumped
	// retry counter, then ack the original. This keeps one slow dependency
	// from head-of-line blocking the whole queue the way an immediate
	// requeue would.
	if repErr := c.republish(ctx, ch, d, delivery.RetryCount+1); repErr != nil {
		logger.Error(ctx, "republish failed, requeueing in place",
			zap.String("queue", c.cfg.Queue),
			zap.String("correlation_id", d.CorrelationId),
			zap.Error(repErr))
		if nackErr := d.Nack(false, true); nackErr != nil {
			logger.Error(ctx, "nack failed", zap.String("queue", c.cfg.Queue), zap.Error(nackErr))
		}
		return
	}
	logger.Warn(ctx, "transient handler failure, message requeued",
		zap.String("queue", c.cfg.Queue),
		zap.String("correlation_id", d.CorrelationId),
		zap.Int32("retry", delivery.RetryCount+1),
		zap.Error(err))
	if ackErr := d.Ack(false); ackErr != nil {
		logger.Error(ctx, "ack failed", zap.String("queue", c.cfg.Queue), zap.Error(ackErr))
	}
}

func (c *Consumer) republish(ctx context.Context, ch *amqp.Channel, d *amqp.Delivery, retry int32) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[HeaderRetryCount] = retry
	return ch.PublishWithContext(ctx, d.Exchange, d.RoutingKey, false, false, amqp.Publishing{
		ContentType:   d.ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: d.CorrelationId,
		Headers:       headers,
		Body:          d.Body,
	})
}

func headerInt(headers amqp.Table, key string) int64 {
	if headers == nil {
		return 0
	}
	switch v := headers[key].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}
