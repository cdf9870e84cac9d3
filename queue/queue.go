package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Broker wraps a RabbitMQ connection with durable queues and persistent JSON
// deliveries. One Broker per process; channels are cheap, connections are not.
type Broker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Connect dials the broker and declares the given queues as durable.
func Connect(url string, queues ...string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	for _, name := range queues {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("declare queue %s: %w", name, err)
		}
	}

	return &Broker{conn: conn, ch: ch}, nil
}

func (b *Broker) Close() error {
	if err := b.ch.Close(); err != nil {
		b.conn.Close()
		return err
	}
	return b.conn.Close()
}

// Publish marshals body to JSON and publishes it as a persistent message.
func (b *Broker) Publish(ctx context.Context, queueName string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = b.ch.PublishWithContext(ctx, "", queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queueName, err)
	}
	return nil
}

// Consume opens a dedicated channel on the queue and feeds deliveries to
// handler until ctx is done. Messages are acked on success and dropped
// (nacked without requeue) on handler error; the crawl pipeline is idempotent
// downstream, so redelivery storms are worse than a lost message.
func (b *Broker) Consume(ctx context.Context, queueName string, handler func(context.Context, []byte) error) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", queueName)
			}
			if err := handler(ctx, d.Body); err != nil {
				logrus.WithError(err).Errorf("Handler failed for message on %s", queueName)
				if nackErr := d.Nack(false, false); nackErr != nil {
					logrus.WithError(nackErr).Warn("Nack failed")
				}
				continue
			}
			if ackErr := d.Ack(false); ackErr != nil {
				logrus.WithError(ackErr).Warn("Ack failed")
			}
		}
	}
}
