package mq

import (
	"time"

	"github.com/streadway/amqp"
)

// Channel is the subset of *amqp.Channel the queue client talks to.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueuePurge(name string, noWait bool) (int, error)
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyReturn(c chan amqp.Return) chan amqp.Return
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Ack(tag uint64, multiple bool) error
	Close() error
}

type Connection interface {
	Channel() (Channel, error)
	Close() error
}

type Dialer interface {
	Dial(cfg Config) (Connection, error)
}

// Config holds everything needed to open a transport connection.
type Config struct {
	Host        string
	Port        int
	VirtualHost string
	Username    string
	Password    string
	Heartbeat   time.Duration
}

type Message struct {
	ID          uint64
	Body        []byte
	Redelivered bool
}
