// Package broker wraps the RabbitMQ client behind the small surface the
// pipeline needs: idempotent topology declaration, confirmed publishing and
// manually acknowledged consumption.
package broker

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	appErr "gavel/pkg/errors"
)

// Config holds broker connection settings.
type Config struct {
	URL       string        `yaml:"url"`
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// Client owns one AMQP connection and hands out channels.
type Client struct {
	conn *amqp.Connection
}

// NewClient dials the broker and declares the pipeline topology.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("broker url is required")
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{Heartbeat: heartbeat})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.BrokerError, "dial broker failed")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, appErr.Wrapf(err, appErr.BrokerError, "open channel failed")
	}
	if err := DeclareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	_ = ch.Close()
	return &Client{conn: conn}, nil
}

// Channel opens a new channel on the shared connection.
func (c *Client) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.BrokerError, "open channel failed")
	}
	return ch, nil
}

// Closed reports whether the underlying connection has been closed.
func (c *Client) Closed() bool {
	return c.conn.IsClosed()
}

// Close closes the underlying connection and all channels on it.
func (c *Client) Close() error {
	return c.conn.Close()
}
