package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/transfer-engine/internal/models"
	"github.com/sheikh-saqib/transfer-engine/internal/models/events"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	kinds      []string
	declareErr error
	publishErr error
	sent       []published
	closed     bool
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	if c.declareErr != nil {
		return c.declareErr
	}
	c.declared = append(c.declared, name)
	c.kinds = append(c.kinds, kind)
	return nil
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.publishErr != nil {
		return c.publishErr
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestNewPublisher(t *testing.T) {
	t.Parallel()

	_, err := NewPublisher(nil, "x")
	require.ErrorIs(t, err, ErrNilChannel)

	ch := &fakeChannel{}
	_, err = NewPublisher(ch, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"ledger.events"}, ch.declared)
	assert.Equal(t, []string{amqp.ExchangeTopic}, ch.kinds)

	boom := errors.New("access refused")
	_, err = NewPublisher(&fakeChannel{declareErr: boom}, "ledger")
	require.ErrorIs(t, err, boom)
}

func TestPublisher_Publish(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	p, err := NewPublisher(ch, "ledger")
	require.NoError(t, err)

	evt := events.NewTransactionCompleted(models.Transaction{ID: 3, FromAccountID: "acc1", ToAccountID: "acc2", Amount: decimal.NewFromInt(5)})
	require.NoError(t, p.Publish(context.Background(), "payments", evt))

	require.Len(t, ch.sent, 1)
	got := ch.sent[0]
	assert.Equal(t, "ledger", got.exchange)
	assert.Equal(t, "payments", got.key)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, evt.EventID, got.msg.MessageId)
	assert.Contains(t, string(got.msg.Body), `"transaction_id":3`)

	require.NoError(t, p.Publish(context.Background(), "payments", map[string]int{"n": 1}))
	assert.NotEmpty(t, ch.sent[1].msg.MessageId)

	ch.publishErr = errors.New("channel closed")
	require.ErrorIs(t, p.Publish(context.Background(), "payments", evt), ch.publishErr)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}
