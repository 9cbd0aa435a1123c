package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ilyadubrovsky/bunnymq/pkg/client/mq"
	"github.com/streadway/amqp"
	"go.uber.org/multierr"
)

const (
	// MaxPriority is the x-max-priority argument of every declared queue.
	// Publish priorities are valid in [1, MaxPriority).
	MaxPriority = 10

	prefetchCount = 1
)

var (
	ErrDeliveriesClosed = errors.New("deliveries channel closed")
	ErrConfirmsClosed   = errors.New("confirms channel closed")
	ErrPublishNacked    = errors.New("publish nacked by broker")
	ErrPublishReturned  = errors.New("publish returned by broker")
)

// Session is one connection plus one channel bound to a single durable
// priority queue. It is never repaired: on failure the owner opens a new one.
type Session struct {
	connection mq.Connection
	channel    mq.Channel
	queue      string

	confirms    chan amqp.Confirmation
	returns     chan amqp.Return
	deliveries  <-chan amqp.Delivery
	consumerTag string

	// delivery tag of the last publish, counted as the broker does
	published uint64
}

// Open dials the broker, declares the queue, limits the channel to one
// unacknowledged delivery and enables publisher confirms. The consumer
// subscription is deferred to the first Next call.
func Open(dialer mq.Dialer, cfg mq.Config, queue string) (*Session, error) {
	conn, err := dialer.Dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("dialer.Dial: %w", err)
	}

	s := &Session{
		connection:  conn,
		queue:       queue,
		consumerTag: "bunnymq-" + uuid.NewString(),
	}

	if err = s.init(); err != nil {
		// the init error is the one worth reporting
		_ = conn.Close()
		return nil, err
	}

	return s, nil
}

func (s *Session) init() error {
	ch, err := s.connection.Channel()
	if err != nil {
		return fmt.Errorf("connection.Channel: %w", err)
	}
	s.channel = ch

	if _, err = s.Declare(); err != nil {
		return fmt.Errorf("session.Declare: %w", err)
	}

	if err = s.channel.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("channel.Qos: %w", err)
	}

	if err = s.channel.Confirm(false); err != nil {
		return fmt.Errorf("channel.Confirm: %w", err)
	}

	s.confirms = s.channel.NotifyPublish(make(chan amqp.Confirmation, 1))
	s.returns = s.channel.NotifyReturn(make(chan amqp.Return, 1))

	return nil
}

// Declare is idempotent; the returned queue carries the ready message count.
func (s *Session) Declare() (amqp.Queue, error) {
	return s.channel.QueueDeclare(
		s.queue,
		true,
		false,
		false,
		false,
		amqp.Table{"x-max-priority": int32(MaxPriority)},
	)
}

// Publish sends msg to the queue through the default exchange and waits for
// the broker confirmation. Confirmations of earlier publishes whose wait was
// cancelled are skipped. A basic.return of such a publish may still arrive,
// so a session whose Publish was cancelled should be closed.
func (s *Session) Publish(ctx context.Context, msg amqp.Publishing) error {
	if err := s.channel.Publish("", s.queue, true, false, msg); err != nil {
		return fmt.Errorf("channel.Publish: %w", err)
	}
	s.published++

	if err := s.waitConfirm(ctx, s.published); err != nil {
		return err
	}

	// basic.return always precedes the confirmation of the same publish
	select {
	case ret, ok := <-s.returns:
		if ok {
			return fmt.Errorf("%w: %d %s", ErrPublishReturned, ret.ReplyCode, ret.ReplyText)
		}
	default:
	}

	return nil
}

func (s *Session) waitConfirm(ctx context.Context, tag uint64) error {
	for {
		select {
		case confirm, ok := <-s.confirms:
			if !ok {
				return ErrConfirmsClosed
			}
			if confirm.DeliveryTag < tag {
				continue
			}
			if !confirm.Ack {
				return fmt.Errorf("%w: delivery tag %d", ErrPublishNacked, confirm.DeliveryTag)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Next blocks until the broker delivers a message, subscribing first if
// this session has not consumed yet.
func (s *Session) Next(ctx context.Context) (mq.Message, error) {
	if s.deliveries == nil {
		deliveries, err := s.channel.Consume(s.queue, s.consumerTag, false, false, false, false, nil)
		if err != nil {
			return mq.Message{}, fmt.Errorf("channel.Consume: %w", err)
		}
		s.deliveries = deliveries
	}

	select {
	case d, ok := <-s.deliveries:
		if !ok {
			return mq.Message{}, ErrDeliveriesClosed
		}
		return mq.Message{
			ID:          d.DeliveryTag,
			Body:        d.Body,
			Redelivered: d.Redelivered,
		}, nil
	case <-ctx.Done():
		return mq.Message{}, ctx.Err()
	}
}

func (s *Session) Ack(tag uint64) error {
	if err := s.channel.Ack(tag, false); err != nil {
		return fmt.Errorf("channel.Ack: %w", err)
	}

	return nil
}

func (s *Session) Purge() (int, error) {
	n, err := s.channel.QueuePurge(s.queue, false)
	if err != nil {
		return 0, fmt.Errorf("channel.QueuePurge: %w", err)
	}

	return n, nil
}

func (s *Session) Delete() (int, error) {
	n, err := s.channel.QueueDelete(s.queue, false, false, false)
	if err != nil {
		return 0, fmt.Errorf("channel.QueueDelete: %w", err)
	}

	return n, nil
}

// Close closes the channel and the connection, reporting every failure.
func (s *Session) Close() error {
	var err error
	if s.channel != nil {
		err = multierr.Append(err, s.channel.Close())
	}
	if s.connection != nil {
		err = multierr.Append(err, s.connection.Close())
	}

	return err
}
