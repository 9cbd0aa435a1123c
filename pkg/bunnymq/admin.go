package bunnymq

import (
	"context"
	"fmt"

	"github.com/ilyadubrovsky/bunnymq/pkg/client/mq/rabbitmq"
)

// Clear purges every ready message and returns how many were removed.
func (q *Queue[T]) Clear(ctx context.Context) (int, error) {
	n, err := withSession(ctx, q, func(ctx context.Context, s *rabbitmq.Session) (int, error) {
		return s.Purge()
	})
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}

	q.logger.Info().Int("messages", n).Msg("queue purged")

	return n, nil
}

// Delete removes the queue from the broker and closes the session. A later
// operation reconnects and declares the queue again.
func (q *Queue[T]) Delete(ctx context.Context) error {
	n, err := withSession(ctx, q, func(ctx context.Context, s *rabbitmq.Session) (int, error) {
		return s.Delete()
	})
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	q.logger.Info().Int("messages", n).Msg("queue deleted")
	q.Disconnect()

	return nil
}
