// Package command delivers device commands over an AMQP direct exchange, routed by device id.
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// DefaultExchange is the direct exchange devices bind their command queues to.
const DefaultExchange = "iot-cmd-exchange-direct"

type amqpChannel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type closer interface {
	Close() error
}

// AMQPSender publishes commands on a single channel. Channels are not safe for concurrent
// publishing, so Send is serialized.
type AMQPSender struct {
	mu       sync.Mutex
	conn     closer
	ch       amqpChannel
	exchange string
	now      func() time.Time
}

// DialAMQP connects to url and declares exchange as a durable direct exchange.
func DialAMQP(url, exchange string) (*AMQPSender, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("command: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("command: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("command: declare exchange %s: %w", exchange, err)
	}
	return &AMQPSender{conn: conn, ch: ch, exchange: exchange, now: time.Now}, nil
}

// Send publishes body to the device's routing key. The broker client has no per-call deadline,
// so ctx is only checked before publishing.
func (s *AMQPSender) Send(ctx context.Context, deviceID string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := newPublishing(deviceID, body, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch.Publish(s.exchange, deviceID, false, false, msg)
}

func newPublishing(deviceID string, body []byte, now time.Time) amqp.Publishing {
	return amqp.Publishing{
		Headers:      amqp.Table{"device": deviceID},
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    now.UTC(),
		Body:         body,
	}
}

func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ch.Close(); err != nil {
		_ = s.conn.Close()
		return err
	}
	return s.conn.Close()
}
