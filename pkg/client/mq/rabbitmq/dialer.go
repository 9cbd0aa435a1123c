package rabbitmq

import (
	"fmt"
	"net"
	"strconv"

	"github.com/ilyadubrovsky/bunnymq/pkg/client/mq"
	"github.com/streadway/amqp"
)

// Dialer opens real AMQP 0-9-1 connections.
type Dialer struct{}

func NewDialer() Dialer {
	return Dialer{}
}

func (Dialer) Dial(cfg mq.Config) (mq.Connection, error) {
	addr := fmt.Sprintf("amqp://%s/", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))

	conn, err := amqp.DialConfig(addr, amqp.Config{
		SASL: []amqp.Authentication{
			&amqp.PlainAuth{Username: cfg.Username, Password: cfg.Password},
		},
		Vhost:     cfg.VirtualHost,
		Heartbeat: cfg.Heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("amqp.DialConfig: %w", err)
	}

	return &connection{Connection: conn}, nil
}

type connection struct {
	*amqp.Connection
}

func (c *connection) Channel() (mq.Channel, error) {
	ch, err := c.Connection.Channel()
	if err != nil {
		return nil, err
	}

	return ch, nil
}
