package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeDispatch receives one event per completed dispatch.
const ExchangeDispatch = "postflow.dispatch"

var ErrClosed = errors.New("amqp connection closed")

// Connection holds one AMQP connection and channel and redials lazily when
// the broker dropped them.
type Connection struct {
	url string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

func NewConnection(url string) (*Connection, error) {
	c := &Connection{url: url}
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connection) connectLocked() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeDispatch, // name
		"topic",          // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", ExchangeDispatch, err)
	}

	c.conn = conn
	c.channel = ch
	slog.Info("connected to RabbitMQ", "exchange", ExchangeDispatch)
	return nil
}

// WithChannel runs fn with a live channel, reconnecting first if needed.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.conn == nil || c.conn.IsClosed() || c.channel == nil || c.channel.IsClosed() {
		slog.Warn("amqp channel lost, reconnecting")
		if c.conn != nil {
			c.conn.Close()
		}
		if err := c.connectLocked(); err != nil {
			return err
		}
	}

	return fn(c.channel)
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
