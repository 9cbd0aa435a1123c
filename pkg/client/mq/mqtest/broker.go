// Package mqtest provides an in-memory broker that satisfies the mq
// interfaces closely enough to exercise reconnects, prefetch and priority
// ordering without a running RabbitMQ.
package mqtest

import (
	"errors"
	"sort"
	"sync"

	"github.com/ilyadubrovsky/bunnymq/pkg/client/mq"
	"github.com/streadway/amqp"
)

var ErrConnectionRefused = errors.New("dial tcp: connect: connection refused")

const deliveriesBuffer = 64

type Broker struct {
	mu sync.Mutex

	queues      map[string]*queue
	connections map[*connection]struct{}

	down         bool
	dialFailures int
	opFailures   map[string]int
	holdConfirms bool
	nacks        int
	dials        int
	lastConfig   mq.Config
}

type queue struct {
	name        string
	maxPriority int32
	ready       []*message
	consumers   []*consumer
}

type message struct {
	body        []byte
	priority    uint8
	messageID   string
	redelivered bool
}

type consumer struct {
	channel    *channel
	queue      string
	tag        string
	deliveries chan amqp.Delivery
}

type unacked struct {
	queue string
	msg   *message
}

func NewBroker() *Broker {
	return &Broker{
		queues:      make(map[string]*queue),
		connections: make(map[*connection]struct{}),
		opFailures:  make(map[string]int),
	}
}

// Dial implements mq.Dialer.
func (b *Broker) Dial(cfg mq.Config) (mq.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials++
	b.lastConfig = cfg

	if b.down {
		return nil, ErrConnectionRefused
	}
	if b.dialFailures > 0 {
		b.dialFailures--
		return nil, ErrConnectionRefused
	}

	c := &connection{broker: b}
	b.connections[c] = struct{}{}

	return c, nil
}

// Drop closes every open connection as a network failure would.
func (b *Broker) Drop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for c := range b.connections {
		c.closeLocked()
	}
}

// SetDown makes every following dial fail until called with false.
func (b *Broker) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.down = down
	if down {
		for c := range b.connections {
			c.closeLocked()
		}
	}
}

// FailDials makes the next n dials fail.
func (b *Broker) FailDials(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dialFailures = n
}

// FailNext drops the calling connection the next n times the named channel
// method (e.g. "Publish", "Ack", "QueuePurge") is invoked.
func (b *Broker) FailNext(op string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.opFailures[op] = n
}

// HoldConfirms keeps publisher confirmations back until ReleaseConfirms,
// as a slow broker would.
func (b *Broker) HoldConfirms() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.holdConfirms = true
}

// ReleaseConfirms sends every held confirmation and stops holding.
func (b *Broker) ReleaseConfirms() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.holdConfirms = false
	for c := range b.connections {
		for _, ch := range c.channels {
			ch.releaseConfirmsLocked()
		}
	}
}

// NackNext rejects the next n publishes: they are not enqueued and their
// confirmation is a nack.
func (b *Broker) NackNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nacks = n
}

// Push enqueues a raw body, bypassing any client.
func (b *Broker) Push(name string, body []byte, priority uint8) {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		q = &queue{name: name}
		b.queues[name] = q
	}
	q.insert(&message{body: body, priority: priority})
	b.dispatchLocked()
}

func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.dials
}

func (b *Broker) LastConfig() mq.Config {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lastConfig
}

func (b *Broker) OpenConnections() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.connections)
}

func (b *Broker) Exists(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.queues[name]
	return ok
}

func (b *Broker) MaxPriority(name string) int32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return q.maxPriority
	}
	return 0
}

// Ready reports messages waiting for delivery.
func (b *Broker) Ready(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return len(q.ready)
	}
	return 0
}

// Unacked reports messages delivered to a consumer and not yet acknowledged.
func (b *Broker) Unacked(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for c := range b.connections {
		for _, ch := range c.channels {
			for _, u := range ch.unacked {
				if u.queue == name {
					n++
				}
			}
		}
	}
	return n
}

// Prefetch returns the qos prefetch count of an open channel, or -1 when
// there is none. Meant for tests holding a single session.
func (b *Broker) Prefetch() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	for c := range b.connections {
		for _, ch := range c.channels {
			if !ch.closed {
				return ch.prefetch
			}
		}
	}
	return -1
}

func (b *Broker) failLocked(op string, c *connection) bool {
	if b.opFailures[op] == 0 {
		return false
	}
	b.opFailures[op]--
	c.closeLocked()
	return true
}

func (b *Broker) dispatchLocked() {
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		q := b.queues[name]
		for _, cons := range q.consumers {
			ch := cons.channel
			for len(q.ready) > 0 && ch.canDeliverLocked() && len(cons.deliveries) < cap(cons.deliveries) {
				msg := q.ready[0]
				q.ready = q.ready[1:]
				cons.deliveries <- ch.deliveryLocked(q.name, cons.tag, msg)
			}
		}
	}
}

func (q *queue) capPriority(p uint8) uint8 {
	if int32(p) > q.maxPriority {
		return uint8(q.maxPriority)
	}
	return p
}

// insert keeps ready ordered by priority, FIFO within a priority.
func (q *queue) insert(msg *message) {
	msg.priority = q.capPriority(msg.priority)
	i := sort.Search(len(q.ready), func(i int) bool {
		return q.ready[i].priority < msg.priority
	})
	q.ready = append(q.ready, nil)
	copy(q.ready[i+1:], q.ready[i:])
	q.ready[i] = msg
}

// requeue puts a returned message at the head of its priority band.
func (q *queue) requeue(msg *message) {
	msg.redelivered = true
	i := sort.Search(len(q.ready), func(i int) bool {
		return q.ready[i].priority <= msg.priority
	})
	q.ready = append(q.ready, nil)
	copy(q.ready[i+1:], q.ready[i:])
	q.ready[i] = msg
}

// cancel closes the delivery stream, dropping whatever is still buffered
// so a reader never sees a message the broker has taken back.
func (cons *consumer) cancel() {
drain:
	for {
		select {
		case <-cons.deliveries:
		default:
			break drain
		}
	}
	close(cons.deliveries)
}

func (q *queue) removeConsumer(cons *consumer) {
	for i, c := range q.consumers {
		if c == cons {
			q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
			return
		}
	}
}

func preconditionFailed(reason string) *amqp.Error {
	return &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - " + reason, Server: true}
}

func notFound(reason string) *amqp.Error {
	return &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - " + reason, Server: true}
}
