package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	exchange, key string
	msgs          []amqp.Publishing
	closed        bool
}

func (c *recordingChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key = exchange, key
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordingChannel) Close() error {
	c.closed = true
	return nil
}

func TestAMQPPublisher(t *testing.T) {
	ch := &recordingChannel{}
	p := NewAMQPPublisher(ch, "zkspend.payments")

	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	require.NoError(t, p.Publish(context.Background(), Event{
		Kind:           PaymentSettled,
		IdempotencyKey: "k1",
		Wallet:         "w",
		ServiceKey:     "s",
		Amount:         10_000_000,
		TxHash:         "5xyz",
		At:             at,
	}))

	require.Equal(t, "zkspend.payments", ch.exchange)
	require.Equal(t, "payment.settled", ch.key)
	require.Len(t, ch.msgs, 1)
	msg := ch.msgs[0]
	require.Equal(t, "application/json", msg.ContentType)
	require.Equal(t, amqp.Persistent, msg.DeliveryMode)
	require.Equal(t, "k1", msg.MessageId)
	require.Equal(t, at, msg.Timestamp)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	require.Equal(t, "10000000", body["amount"])
	require.Equal(t, "5xyz", body["txHash"])

	require.NoError(t, p.Close())
	require.True(t, ch.closed)
}

func TestNop(t *testing.T) {
	require.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}
