package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var ErrNotConfirmed = errors.New("message not confirmed by broker")

// AMQPPublisher publishes events as persistent JSON messages to a durable
// queue on the default exchange and waits for publisher confirms.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	queue    string
	confirms chan amqp.Confirmation
	logger   zerolog.Logger
	mu       sync.Mutex
}

func DialAMQP(url, queue string, logger zerolog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	p, err := NewAMQPPublisher(conn, queue, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// NewAMQPPublisher declares the queue and enables confirms on a new channel.
// The publisher owns conn and closes it on Close.
func NewAMQPPublisher(conn *amqp.Connection, queue string, logger zerolog.Logger) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp declare queue %s: %w", queue, err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp enable confirms: %w", err)
	}

	return &AMQPPublisher{
		conn:     conn,
		ch:       ch,
		queue:    queue,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		logger:   logger,
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, evt IngestCompleted) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.RunID,
		Type:         "IngestCompleted",
		Timestamp:    evt.CompletedAt,
	}

	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("amqp publish to %s: %w", p.queue, err)
	}

	select {
	case confirmed := <-p.confirms:
		if !confirmed.Ack {
			return fmt.Errorf("amqp publish to %s: %w", p.queue, ErrNotConfirmed)
		}
	case <-ctx.Done():
		return fmt.Errorf("amqp publish to %s: %w", p.queue, ctx.Err())
	}

	p.logger.Debug().
		Str("queue", p.queue).
		Str("run_id", evt.RunID).
		Str("kind", evt.Kind).
		Msg("ingest event published")
	return nil
}

func (p *AMQPPublisher) Close() error {
	var errs []error
	if err := p.ch.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
