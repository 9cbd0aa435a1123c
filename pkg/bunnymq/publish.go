package bunnymq

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ilyadubrovsky/bunnymq/pkg/client/mq/rabbitmq"
	"github.com/streadway/amqp"
)

// Put publishes v with DefaultPriority.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	return q.PutPriority(ctx, v, DefaultPriority)
}

// PutPriority publishes v as a persistent message and waits for the broker
// confirmation. Higher priorities are delivered first.
func (q *Queue[T]) PutPriority(ctx context.Context, v T, priority int) error {
	if err := validatePriority(priority); err != nil {
		return err
	}

	body, err := q.serializer.Dump(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	return q.publish(ctx, body, priority)
}

func (q *Queue[T]) publish(ctx context.Context, body []byte, priority int) error {
	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Priority:     uint8(priority),
		MessageId:    uuid.NewString(),
		Timestamp:    q.clock.Now(),
		Body:         body,
	}

	_, err := withSession(ctx, q, func(ctx context.Context, s *rabbitmq.Session) (struct{}, error) {
		return struct{}{}, s.Publish(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	q.metrics.Published.Inc()
	q.logger.Debug().Str("message_id", msg.MessageId).Int("priority", priority).Msg("message published")

	return nil
}
