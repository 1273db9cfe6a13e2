// Package events publishes payment outcomes for downstream consumers such as
// accounting or alerting.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Kind string

const (
	PaymentSettled   Kind = "payment.settled"
	PaymentFailed    Kind = "payment.failed"
	PaymentRejected  Kind = "payment.rejected"
	PaymentRefused   Kind = "payment.refused"
	PaymentRecovered Kind = "payment.recovered"
)

type Event struct {
	Kind           Kind              `json:"kind"`
	IdempotencyKey string            `json:"idempotencyKey"`
	ReservationID  string            `json:"reservationId,omitempty"`
	Wallet         string            `json:"wallet"`
	ServiceKey     string            `json:"serviceKey"`
	Amount         uint64            `json:"amount,string"`
	TxHash         string            `json:"txHash,omitempty"`
	Error          string            `json:"error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	At             time.Time         `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher sends events to a topic exchange, routed by event kind.
type AMQPPublisher struct {
	mu       sync.Mutex // amqp channels are not safe for concurrent publishes
	ch       Channel
	conn     *amqp.Connection
	exchange string
}

func NewAMQPPublisher(ch Channel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange}
}

// DialAMQP connects, opens a channel and declares exchange as a durable
// topic exchange.
func DialAMQP(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: declare %s: %w", exchange, err)
	}
	p := NewAMQPPublisher(ch, exchange)
	p.conn = conn
	return p, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx,
		p.exchange,
		string(e.Kind),
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    e.At,
			DeliveryMode: amqp.Persistent,
			MessageId:    e.IdempotencyKey,
			Type:         string(e.Kind),
		},
	)
}

func (p *AMQPPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
