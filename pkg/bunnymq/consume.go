package bunnymq

import "context"

// Consume pulls messages forever and hands each one to the registered
// handler. It never acknowledges on its own and returns only when a pull
// fails fatally, or at once with ErrNoHandler.
func (q *Queue[T]) Consume(ctx context.Context) error {
	if q.handler == nil {
		return ErrNoHandler
	}

	for {
		v, err := q.Get(ctx)
		if err != nil {
			return err
		}

		q.handler(ctx, v)
	}
}
