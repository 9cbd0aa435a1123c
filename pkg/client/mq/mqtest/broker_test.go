package mqtest

import (
	"testing"

	"github.com/ilyadubrovsky/bunnymq/pkg/client/mq"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openChannel(t *testing.T, b *Broker) mq.Channel {
	t.Helper()

	conn, err := b.Dial(mq.Config{})
	require.NoError(t, err)
	ch, err := conn.Channel()
	require.NoError(t, err)

	return ch
}

func declare(t *testing.T, ch mq.Channel, name string) {
	t.Helper()

	_, err := ch.QueueDeclare(name, true, false, false, false, amqp.Table{"x-max-priority": int32(10)})
	require.NoError(t, err)
}

func TestQueue_InsertOrdersByPriority(t *testing.T) {
	q := &queue{maxPriority: 10}
	for i, p := range []uint8{1, 5, 9, 5, 1} {
		q.insert(&message{body: []byte{byte(i)}, priority: p})
	}

	var order []byte
	for _, m := range q.ready {
		order = append(order, m.body[0])
	}
	assert.Equal(t, []byte{2, 1, 3, 0, 4}, order)
}

func TestQueue_PriorityCapped(t *testing.T) {
	q := &queue{maxPriority: 3}
	q.insert(&message{priority: 9})
	assert.Equal(t, uint8(3), q.ready[0].priority)
}

func TestChannel_InequivalentDeclare(t *testing.T) {
	b := NewBroker()
	ch := openChannel(t, b)
	declare(t, ch, "q")

	_, err := ch.QueueDeclare("q", true, false, false, false, nil)
	var amqpErr *amqp.Error
	require.ErrorAs(t, err, &amqpErr)
	assert.Equal(t, amqp.PreconditionFailed, amqpErr.Code)

	// the channel is unusable afterwards
	_, err = ch.QueuePurge("q", false)
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

func TestChannel_CloseRequeuesUnacked(t *testing.T) {
	b := NewBroker()
	ch := openChannel(t, b)
	declare(t, ch, "q")
	require.NoError(t, ch.Qos(2, 0, false))

	b.Push("q", []byte("a"), 5)
	b.Push("q", []byte("b"), 5)
	b.Push("q", []byte("c"), 5)

	deliveries, err := ch.Consume("q", "tag", false, false, false, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Unacked("q"))
	assert.Equal(t, 1, b.Ready("q"))

	require.NoError(t, ch.Close())
	_, ok := <-deliveries
	assert.False(t, ok)

	other := openChannel(t, b)
	deliveries, err = other.Consume("q", "tag", false, false, false, false, nil)
	require.NoError(t, err)

	var got []string
	for i := 0; i < 3; i++ {
		d := <-deliveries
		got = append(got, string(d.Body))
		assert.Equal(t, i < 2, d.Redelivered)
		require.NoError(t, other.Ack(d.DeliveryTag, false))
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestChannel_AckUnknownTag(t *testing.T) {
	b := NewBroker()
	ch := openChannel(t, b)

	err := ch.Ack(42, false)
	var amqpErr *amqp.Error
	require.ErrorAs(t, err, &amqpErr)
	assert.Equal(t, amqp.PreconditionFailed, amqpErr.Code)
	assert.ErrorIs(t, ch.Ack(42, false), amqp.ErrClosed)
}

func TestBroker_FailNext(t *testing.T) {
	b := NewBroker()
	ch := openChannel(t, b)
	declare(t, ch, "q")

	b.FailNext("QueuePurge", 1)
	_, err := ch.QueuePurge("q", false)
	assert.ErrorIs(t, err, amqp.ErrClosed)
	assert.Zero(t, b.OpenConnections())

	ch = openChannel(t, b)
	_, err = ch.QueuePurge("q", false)
	assert.NoError(t, err)
}

func TestBroker_Dial(t *testing.T) {
	b := NewBroker()
	b.FailDials(1)

	_, err := b.Dial(mq.Config{Host: "rabbit"})
	assert.ErrorIs(t, err, ErrConnectionRefused)

	_, err = b.Dial(mq.Config{Host: "rabbit"})
	assert.NoError(t, err)
	assert.Equal(t, 2, b.Dials())
	assert.Equal(t, "rabbit", b.LastConfig().Host)
}
