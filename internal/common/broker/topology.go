package broker

import (
	amqp "github.com/rabbitmq/amqp091-go"

	appErr "gavel/pkg/errors"
)

// Exchange, queue and routing key names shared by the API service and the
// worker fleet. They are part of the protocol: both sides must agree or
// messages silently route nowhere.
const (
	ExchangeJobs    = "gavel.jobs"
	ExchangeStatus  = "gavel.status"
	ExchangeResults = "gavel.results"

	RoutingKeyJobs    = "jobs"
	RoutingKeyStatus  = "status"
	RoutingKeyResults = "results"

	QueueJobs    = "gavel.jobs"
	QueueStatus  = "gavel.status"
	QueueResults = "gavel.results"
)

// Message header keys.
const (
	HeaderSchemaVersion = "x-schema-version"
	HeaderRetryCount    = "x-retry-count"
	// HeaderDeliveryCount is stamped by the broker on quorum queue
	// redeliveries and bounds re-execution of poison jobs.
	HeaderDeliveryCount = "x-delivery-count"
)

type binding struct {
	exchange string
	queue    string
	key      string
	args     amqp.Table
}

var bindings = []binding{
	// Jobs ride a quorum queue so the broker tracks per-message delivery
	// counts across worker crashes.
	{exchange: ExchangeJobs, queue: QueueJobs, key: RoutingKeyJobs, args: amqp.Table{"x-queue-type": "quorum"}},
	{exchange: ExchangeStatus, queue: QueueStatus, key: RoutingKeyStatus},
	{exchange: ExchangeResults, queue: QueueResults, key: RoutingKeyResults},
}

// DeclareTopology declares every exchange, queue and binding the pipeline
// depends on. Declarations are idempotent, so any participant can run this at
// startup and there is no bootstrap ordering between the API service and the
// workers. Everything is durable: queued submissions survive broker restarts.
func DeclareTopology(ch *amqp.Channel) error {
	for _, b := range bindings {
		if err := ch.ExchangeDeclare(b.exchange, "direct", true, false, false, false, nil); err != nil {
			return appErr.Wrapf(err, appErr.TopologyDeclareFailed, "declare exchange %s failed", b.exchange)
		}
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, b.args); err != nil {
			return appErr.Wrapf(err, appErr.TopologyDeclareFailed, "declare queue %s failed", b.queue)
		}
		if err := ch.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
			return appErr.Wrapf(err, appErr.TopologyDeclareFailed, "bind queue %s failed", b.queue)
		}
	}
	return nil
}
