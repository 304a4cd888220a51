// Package rabbitmq publishes lead board changes to a RabbitMQ topic exchange.
package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultExchange receives lead events when no exchange is configured.
const DefaultExchange = "ex.leads"

// Config is the required properties to publish lead events.
type Config struct {
	URL      string
	Exchange string
}

// Conn bundles the broker connection with the channel events are published on.
type Conn struct {
	Conn *amqp.Connection
	Ch   *amqp.Channel
}

// Open dials the broker and declares the durable topic exchange.
func Open(cfg Config) (*Conn, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	exchange := cfg.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}

	return &Conn{Conn: conn, Ch: ch}, nil
}

// Close closes the channel and then the connection.
func (c *Conn) Close() error {
	if err := c.Ch.Close(); err != nil {
		c.Conn.Close()
		return err
	}
	return c.Conn.Close()
}
