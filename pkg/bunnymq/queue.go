// Package bunnymq is a client for a durable RabbitMQ priority queue with a
// single message in flight at a time.
//
// Every broker-facing call goes through one retry policy: transport failures
// tear the session down, open a new one and re-run the call, until the retry
// budget is spent. A pulled message must be resolved with TaskDone or
// Requeue before the next pull.
//
// A Queue is not safe for concurrent use. Run one Queue per goroutine to
// consume in parallel.
package bunnymq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ilyadubrovsky/bunnymq/internal/metrics"
	"github.com/ilyadubrovsky/bunnymq/internal/retry"
	"github.com/ilyadubrovsky/bunnymq/pkg/bunnymq/serializer"
	"github.com/ilyadubrovsky/bunnymq/pkg/client/mq"
	"github.com/ilyadubrovsky/bunnymq/pkg/client/mq/rabbitmq"
	"github.com/rs/zerolog"
)

const (
	// Namespace prefixes every queue name on the broker.
	Namespace = "bunnymq"

	MinPriority     = 1
	MaxPriority     = rabbitmq.MaxPriority - 1
	DefaultPriority = 5

	maxNameLength = 200
)

type State int

const (
	Idle State = iota
	Processing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Processing:
		return "processing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handler is the Consume callback. It must call TaskDone or Requeue before
// returning, otherwise the next pull fails with ErrProcessing.
type Handler[T any] func(ctx context.Context, v T)

// pendingMessage is the single outstanding delivery.
type pendingMessage struct {
	tag         uint64
	body        []byte
	redelivered bool
	// generation of the session the delivery arrived on
	generation uint64
}

type Queue[T any] struct {
	name       string
	serializer serializer.Serializer[T]
	handler    Handler[T]

	conn       mq.Config
	dialer     mq.Dialer
	maxRetries int
	retryDelay time.Duration
	clock      clock.Clock
	logger     zerolog.Logger
	metrics    *metrics.Queue

	session    *rabbitmq.Session
	generation uint64
	pending    *pendingMessage
}

// New validates the configuration and opens the first session. name is
// trimmed and stored on the broker as "bunnymq.<name>".
func New[T any](ctx context.Context, name string, s serializer.Serializer[T], opts ...Option) (*Queue[T], error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) >= maxNameLength {
		return nil, fmt.Errorf("%w: %q must be 1 to %d characters", ErrInvalidName, name, maxNameLength-1)
	}
	if s == nil {
		return nil, ErrNoSerializer
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.maxRetries <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRetries, o.maxRetries)
	}

	var handler Handler[T]
	if o.handler != nil {
		h, ok := o.handler.(Handler[T])
		if !ok {
			return nil, fmt.Errorf("%w: %T", ErrInvalidHandler, o.handler)
		}
		handler = h
	}

	m, err := metrics.New(o.registerer)
	if err != nil {
		return nil, fmt.Errorf("metrics.New: %w", err)
	}

	fullName := Namespace + "." + name
	q := &Queue[T]{
		name:       fullName,
		serializer: s,
		handler:    handler,
		conn:       o.conn,
		dialer:     o.dialer,
		maxRetries: o.maxRetries,
		retryDelay: o.retryDelay,
		clock:      o.clock,
		logger:     o.logger.With().Str("queue", fullName).Logger(),
		metrics:    m.For(fullName),
	}

	if err = q.setup(ctx); err != nil {
		return nil, err
	}

	return q, nil
}

// Name is the namespaced broker-side queue name.
func (q *Queue[T]) Name() string {
	return q.name
}

func (q *Queue[T]) State() State {
	if q.pending != nil {
		return Processing
	}
	return Idle
}

// Redelivered reports the broker redelivered flag of the pending message.
func (q *Queue[T]) Redelivered() bool {
	return q.pending != nil && q.pending.redelivered
}

// SetHandler registers the callback run by Consume.
func (q *Queue[T]) SetHandler(h Handler[T]) {
	q.handler = h
}

// Disconnect closes the session. Close failures are logged, not returned.
// The next broker operation reconnects.
func (q *Queue[T]) Disconnect() {
	if q.session == nil {
		return
	}

	if err := q.session.Close(); err != nil {
		q.logger.Warn().Err(err).Msg("session close failed")
	}
	q.session = nil
}

// setup replaces the session wholesale, retrying with a fixed delay.
func (q *Queue[T]) setup(ctx context.Context) error {
	session, err := retry.Do(ctx, retry.Policy{
		Attempts: q.maxRetries,
		Delay:    q.retryDelay,
		Clock:    q.clock,
		OnRetry: func(attempt int, err error) {
			q.logger.Warn().Err(err).Int("attempt", attempt).Msg("session setup failed")
		},
	}, q.open)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	q.session = session
	q.generation++
	q.metrics.Reconnects.Inc()
	q.logger.Debug().Uint64("generation", q.generation).Msg("session established")

	return nil
}

func (q *Queue[T]) open(context.Context) (*rabbitmq.Session, error) {
	q.Disconnect()

	session, err := rabbitmq.Open(q.dialer, q.conn, q.name)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq.Open: %w", err)
	}

	return session, nil
}

// policy is the retry policy of every broker operation: fatal errors
// surface at once, anything else triggers a setup and another attempt.
func (q *Queue[T]) policy() retry.Policy {
	return retry.Policy{
		Attempts: q.maxRetries,
		IsFatal:  isFatal,
		Recover:  q.setup,
		OnRetry: func(attempt int, err error) {
			q.metrics.Retries.Inc()
			q.logger.Warn().Err(err).Int("attempt", attempt).Msg("broker operation failed, reconnecting")
		},
	}
}

// current returns the live session, running a setup when there is none.
func (q *Queue[T]) current(ctx context.Context) (*rabbitmq.Session, error) {
	if q.session == nil {
		if err := q.setup(ctx); err != nil {
			return nil, err
		}
	}
	return q.session, nil
}

// withSession runs op under the operation retry policy. When the retries
// end on anything but a fatal error the session is dropped: it is dead, or
// it still owes the reply of an abandoned call.
func withSession[T, R any](ctx context.Context, q *Queue[T], op func(ctx context.Context, s *rabbitmq.Session) (R, error)) (R, error) {
	res, err := retry.Do(ctx, q.policy(), func(ctx context.Context) (R, error) {
		session, err := q.current(ctx)
		if err != nil {
			var zero R
			return zero, err
		}
		return op(ctx, session)
	})
	if err != nil && !isFatal(err) {
		q.Disconnect()
	}

	return res, err
}

func validatePriority(priority int) error {
	if priority < MinPriority || priority > MaxPriority {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidPriority, priority, MinPriority, MaxPriority)
	}
	return nil
}
