package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AMQPQueue is the RabbitMQ-backed delivery queue used in production.
type AMQPQueue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	name    string
	logger  *zap.Logger
}

// NewAMQPQueue dials the broker and declares a durable queue.
func NewAMQPQueue(url, name string, logger *zap.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}

	return &AMQPQueue{conn: conn, channel: ch, name: name, logger: logger}, nil
}

func (q *AMQPQueue) Publish(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.channel.Publish(
		"",     // default exchange
		q.name, // routing key
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func (q *AMQPQueue) Consume(ctx context.Context, handler func(job Job) error) error {
	msgs, err := q.channel.Consume(
		q.name,
		"",    // consumer tag
		false, // autoAck off for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}

			var job Job
			if err := json.Unmarshal(d.Body, &job); err != nil {
				q.logger.Warn("invalid job payload", zap.Error(err))
				d.Ack(false)
				continue
			}

			if err := handler(job); err != nil {
				// Requeue once; a redelivered job that fails again is dropped
				// (the dispatcher sweep will pick the target up later).
				d.Nack(false, !d.Redelivered)
				continue
			}
			d.Ack(false)
		}
	}
}

// Close releases the channel and connection.
func (q *AMQPQueue) Close() {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		q.conn.Close()
	}
}
