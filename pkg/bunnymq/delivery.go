package bunnymq

import (
	"context"
	"fmt"
	"iter"

	"github.com/ilyadubrovsky/bunnymq/pkg/client/mq"
	"github.com/ilyadubrovsky/bunnymq/pkg/client/mq/rabbitmq"
	"github.com/streadway/amqp"
)

// Get blocks until a message is available and returns its value. The
// message stays unacknowledged until TaskDone or Requeue; calling Get
// before that fails with ErrProcessing.
//
// If the body cannot be deserialized Get returns ErrDeserialization and the
// message is still pending, so the caller can drop it with TaskDone or put
// it back with Requeue.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	var zero T
	if q.pending != nil {
		return zero, ErrProcessing
	}

	msg, err := withSession(ctx, q, func(ctx context.Context, s *rabbitmq.Session) (mq.Message, error) {
		return s.Next(ctx)
	})
	if err != nil {
		return zero, fmt.Errorf("pull: %w", err)
	}

	q.setPending(&pendingMessage{
		tag:         msg.ID,
		body:        msg.Body,
		redelivered: msg.Redelivered,
		generation:  q.generation,
	})
	q.metrics.Pulled.Inc()

	v, err := q.serializer.Load(msg.Body)
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrDeserialization, err)
	}

	return v, nil
}

// All pulls messages until the first error, which is yielded before the
// sequence stops. The loop body must resolve each message.
func (q *Queue[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, err := q.Get(ctx)
			if !yield(v, err) || err != nil {
				return
			}
		}
	}
}

// TaskDone acknowledges the pending message.
func (q *Queue[T]) TaskDone(ctx context.Context) error {
	if q.pending == nil {
		return ErrNotProcessing
	}

	if _, err := q.ack(ctx); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	q.setPending(nil)
	q.metrics.Acked.Inc()

	return nil
}

// Requeue puts the pending message back with DefaultPriority.
func (q *Queue[T]) Requeue(ctx context.Context) error {
	return q.RequeuePriority(ctx, DefaultPriority)
}

// RequeuePriority acknowledges the pending message and publishes its body
// again with the given priority. The message goes to the back of its new
// priority band and loses its redelivered flag.
//
// If the session the message arrived on has been lost since Get, the broker
// already put the message back with its original priority and redelivered
// flag. Nothing is republished then and priority is not applied.
func (q *Queue[T]) RequeuePriority(ctx context.Context, priority int) error {
	if err := validatePriority(priority); err != nil {
		return err
	}
	if q.pending == nil {
		return ErrNotProcessing
	}

	held, err := q.ack(ctx)
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	body := q.pending.body
	q.setPending(nil)

	if !held {
		q.logger.Warn().
			Int("priority", priority).
			Msg("message already requeued by the broker, requested priority not applied")
	} else if err = q.publish(ctx, body, priority); err != nil {
		return err
	}
	q.metrics.Requeued.Inc()

	return nil
}

// ack acknowledges the pending delivery and reports whether the current
// session still held it. A delivery from a replaced or closed session went
// back to the queue when that session died, so acknowledging it is a no-op.
func (q *Queue[T]) ack(ctx context.Context) (bool, error) {
	return withSession(ctx, q, func(ctx context.Context, s *rabbitmq.Session) (bool, error) {
		if q.pending.generation != q.generation {
			q.logger.Warn().
				Uint64("delivery_tag", q.pending.tag).
				Msg("delivery belongs to a closed session, broker already requeued it")
			return false, nil
		}
		if err := s.Ack(q.pending.tag); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (q *Queue[T]) setPending(p *pendingMessage) {
	q.pending = p
	if p != nil {
		q.metrics.Processing.Set(1)
	} else {
		q.metrics.Processing.Set(0)
	}
}

// Len returns the number of messages ready for delivery. It re-declares
// the queue, which is idempotent, and does not touch the pending message.
func (q *Queue[T]) Len(ctx context.Context) (int, error) {
	queue, err := withSession(ctx, q, func(ctx context.Context, s *rabbitmq.Session) (amqp.Queue, error) {
		return s.Declare()
	})
	if err != nil {
		return 0, fmt.Errorf("declare: %w", err)
	}

	return queue.Messages, nil
}
