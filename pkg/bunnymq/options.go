package bunnymq

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ilyadubrovsky/bunnymq/pkg/client/mq"
	"github.com/ilyadubrovsky/bunnymq/pkg/client/mq/rabbitmq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	DefaultHost        = "localhost"
	DefaultPort        = 5672
	DefaultVirtualHost = "/"
	DefaultUsername    = "guest"
	DefaultPassword    = "guest"
	DefaultMaxRetries  = 5
	DefaultRetryDelay  = time.Second

	// DefaultHeartbeat is well above the broker default so a slow consumer
	// holding a message is not disconnected.
	DefaultHeartbeat = 600 * time.Second
)

type Option func(*options)

type options struct {
	conn       mq.Config
	dialer     mq.Dialer
	maxRetries int
	retryDelay time.Duration
	clock      clock.Clock
	logger     zerolog.Logger
	registerer prometheus.Registerer
	handler    any
}

func defaultOptions() options {
	return options{
		conn: mq.Config{
			Host:        DefaultHost,
			Port:        DefaultPort,
			VirtualHost: DefaultVirtualHost,
			Username:    DefaultUsername,
			Password:    DefaultPassword,
			Heartbeat:   DefaultHeartbeat,
		},
		dialer:     rabbitmq.NewDialer(),
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		clock:      clock.New(),
		logger:     zerolog.Nop(),
	}
}

func WithHost(host string) Option {
	return func(o *options) {
		o.conn.Host = host
	}
}

func WithPort(port int) Option {
	return func(o *options) {
		o.conn.Port = port
	}
}

func WithVirtualHost(vhost string) Option {
	return func(o *options) {
		o.conn.VirtualHost = vhost
	}
}

func WithCredentials(username, password string) Option {
	return func(o *options) {
		o.conn.Username = username
		o.conn.Password = password
	}
}

func WithHeartbeat(heartbeat time.Duration) Option {
	return func(o *options) {
		o.conn.Heartbeat = heartbeat
	}
}

// WithMaxRetries bounds both the setup attempts and the attempts of every
// broker operation.
func WithMaxRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = n
	}
}

// WithRetryDelay sets the fixed pause between two setup attempts.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		o.retryDelay = d
	}
}

// WithDialer replaces the AMQP dialer, mostly for tests.
func WithDialer(d mq.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRegisterer registers the client metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithHandler registers the Consume callback at construction. The handler
// type must match the queue: New fails with ErrInvalidHandler otherwise.
func WithHandler[T any](h Handler[T]) Option {
	return func(o *options) {
		o.handler = h
	}
}
