package mqtest

import (
	"sort"

	"github.com/ilyadubrovsky/bunnymq/pkg/client/mq"
	"github.com/streadway/amqp"
)

type connection struct {
	broker   *Broker
	channels []*channel
	closed   bool
}

func (c *connection) Channel() (mq.Channel, error) {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.closed {
		return nil, amqp.ErrClosed
	}

	ch := &channel{
		conn:    c,
		broker:  c.broker,
		unacked: make(map[uint64]unacked),
	}
	c.channels = append(c.channels, ch)

	return ch, nil
}

func (c *connection) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	if c.closed {
		return amqp.ErrClosed
	}
	c.closeLocked()

	return nil
}

func (c *connection) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.channels {
		ch.closeLocked()
	}
	delete(c.broker.connections, c)
	c.broker.dispatchLocked()
}

type channel struct {
	conn   *connection
	broker *Broker
	closed bool

	prefetch    int
	confirm     bool
	publishSeq  uint64
	deliveryTag uint64
	unacked     map[uint64]unacked
	consumers   []*consumer
	confirms    []chan amqp.Confirmation
	returns     []chan amqp.Return
	held        []amqp.Confirmation
}

// begin locks the broker and reports whether the call may proceed.
func (ch *channel) begin(op string) error {
	ch.broker.mu.Lock()
	if ch.closed {
		return amqp.ErrClosed
	}
	if ch.broker.failLocked(op, ch.conn) {
		return amqp.ErrClosed
	}
	return nil
}

func (ch *channel) end() {
	ch.broker.mu.Unlock()
}

func (ch *channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	defer ch.end()
	if err := ch.begin("QueueDeclare"); err != nil {
		return amqp.Queue{}, err
	}

	var maxPriority int32
	if v, ok := args["x-max-priority"].(int32); ok {
		maxPriority = v
	}

	q, ok := ch.broker.queues[name]
	if !ok {
		q = &queue{name: name, maxPriority: maxPriority}
		ch.broker.queues[name] = q
	} else if q.maxPriority != maxPriority {
		ch.closeLocked()
		return amqp.Queue{}, preconditionFailed("inequivalent arg 'x-max-priority' for queue '" + name + "'")
	}

	return amqp.Queue{Name: name, Messages: len(q.ready), Consumers: len(q.consumers)}, nil
}

func (ch *channel) QueuePurge(name string, noWait bool) (int, error) {
	defer ch.end()
	if err := ch.begin("QueuePurge"); err != nil {
		return 0, err
	}

	q, ok := ch.broker.queues[name]
	if !ok {
		ch.closeLocked()
		return 0, notFound("no queue '" + name + "'")
	}
	n := len(q.ready)
	q.ready = nil

	return n, nil
}

func (ch *channel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	defer ch.end()
	if err := ch.begin("QueueDelete"); err != nil {
		return 0, err
	}

	q, ok := ch.broker.queues[name]
	if !ok {
		return 0, nil
	}
	n := len(q.ready)
	for _, cons := range q.consumers {
		cons.channel.removeConsumer(cons)
		cons.cancel()
	}
	delete(ch.broker.queues, name)

	return n, nil
}

func (ch *channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	defer ch.end()
	if err := ch.begin("Qos"); err != nil {
		return err
	}

	ch.prefetch = prefetchCount

	return nil
}

func (ch *channel) Confirm(noWait bool) error {
	defer ch.end()
	if err := ch.begin("Confirm"); err != nil {
		return err
	}

	ch.confirm = true

	return nil
}

func (ch *channel) NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		close(confirm)
		return confirm
	}
	ch.confirms = append(ch.confirms, confirm)

	return confirm
}

func (ch *channel) NotifyReturn(c chan amqp.Return) chan amqp.Return {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		close(c)
		return c
	}
	ch.returns = append(ch.returns, c)

	return c
}

func (ch *channel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	defer ch.end()
	if err := ch.begin("Publish"); err != nil {
		return err
	}

	ack := true
	if ch.broker.nacks > 0 {
		ch.broker.nacks--
		ack = false
	}

	q, ok := ch.broker.queues[key]
	switch {
	case !ack:
		// a nacked message is dropped
	case exchange != "" || !ok:
		if mandatory {
			for _, r := range ch.returns {
				select {
				case r <- amqp.Return{ReplyCode: amqp.NoRoute, ReplyText: "NO_ROUTE", RoutingKey: key, Body: msg.Body}:
				default:
				}
			}
		}
	default:
		body := make([]byte, len(msg.Body))
		copy(body, msg.Body)
		q.insert(&message{body: body, priority: msg.Priority, messageID: msg.MessageId})
	}

	if ch.confirm {
		ch.publishSeq++
		ch.held = append(ch.held, amqp.Confirmation{DeliveryTag: ch.publishSeq, Ack: ack})
		if !ch.broker.holdConfirms {
			ch.releaseConfirmsLocked()
		}
	}

	ch.broker.dispatchLocked()

	return nil
}

func (ch *channel) Consume(name, consumerTag string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	defer ch.end()
	if err := ch.begin("Consume"); err != nil {
		return nil, err
	}

	q, ok := ch.broker.queues[name]
	if !ok {
		ch.closeLocked()
		return nil, notFound("no queue '" + name + "'")
	}

	cons := &consumer{
		channel:    ch,
		queue:      name,
		tag:        consumerTag,
		deliveries: make(chan amqp.Delivery, deliveriesBuffer),
	}
	q.consumers = append(q.consumers, cons)
	ch.consumers = append(ch.consumers, cons)
	ch.broker.dispatchLocked()

	return cons.deliveries, nil
}

func (ch *channel) Ack(tag uint64, multiple bool) error {
	defer ch.end()
	if err := ch.begin("Ack"); err != nil {
		return err
	}

	if _, ok := ch.unacked[tag]; !ok {
		ch.closeLocked()
		return preconditionFailed("unknown delivery tag")
	}
	delete(ch.unacked, tag)
	ch.broker.dispatchLocked()

	return nil
}

func (ch *channel) Close() error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()

	if ch.closed {
		return amqp.ErrClosed
	}
	ch.closeLocked()
	ch.broker.dispatchLocked()

	return nil
}

func (ch *channel) releaseConfirmsLocked() {
	for _, confirm := range ch.held {
		for _, c := range ch.confirms {
			select {
			case c <- confirm:
			default:
			}
		}
	}
	ch.held = nil
}

func (ch *channel) canDeliverLocked() bool {
	return !ch.closed && (ch.prefetch == 0 || len(ch.unacked) < ch.prefetch)
}

func (ch *channel) deliveryLocked(name, consumerTag string, msg *message) amqp.Delivery {
	ch.deliveryTag++
	ch.unacked[ch.deliveryTag] = unacked{queue: name, msg: msg}

	return amqp.Delivery{
		ConsumerTag: consumerTag,
		DeliveryTag: ch.deliveryTag,
		Redelivered: msg.redelivered,
		RoutingKey:  name,
		Priority:    msg.priority,
		MessageId:   msg.messageID,
		Body:        msg.body,
	}
}

func (ch *channel) removeConsumer(cons *consumer) {
	for i, c := range ch.consumers {
		if c == cons {
			ch.consumers = append(ch.consumers[:i], ch.consumers[i+1:]...)
			return
		}
	}
}

// closeLocked returns unacknowledged messages to their queues in delivery
// order and cancels the channel's consumers.
func (ch *channel) closeLocked() {
	if ch.closed {
		return
	}
	ch.closed = true

	tags := make([]uint64, 0, len(ch.unacked))
	for tag := range ch.unacked {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] > tags[j] })
	for _, tag := range tags {
		u := ch.unacked[tag]
		if q, ok := ch.broker.queues[u.queue]; ok {
			q.requeue(u.msg)
		}
	}
	ch.unacked = make(map[uint64]unacked)

	for _, cons := range ch.consumers {
		if q, ok := ch.broker.queues[cons.queue]; ok {
			q.removeConsumer(cons)
		}
		cons.cancel()
	}
	ch.consumers = nil

	for _, c := range ch.confirms {
		close(c)
	}
	ch.confirms = nil
	for _, r := range ch.returns {
		close(r)
	}
	ch.returns = nil
}
