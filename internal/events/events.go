// Package events delivers order events to downstream consumers.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

var (
	_ order.EventPublisher = (*Publisher)(nil)
	_ order.EventPublisher = Log{}
)

// channel is the subset of *amqp.Channel used by Publisher.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes order events to a durable AMQP topic exchange. The
// routing key is the event type, e.g. order.status_changed.
type Publisher struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex
	ch channel
}

// Dial connects to the broker and declares the exchange.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %q", exchange)
	}
	return &Publisher{conn: conn, exchange: exchange, ch: ch}, nil
}

// Publish sends e as a persistent JSON message.
func (p *Publisher) Publish(_ context.Context, e order.Event) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.OrderID + ":" + string(e.Status),
		Timestamp:    e.At,
		Type:         e.Type,
		Body:         Encode(e),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Publish(p.exchange, e.Type, false, false, msg); err != nil {
		return errors.Wrapf(err, "publish %s", e.Type)
	}
	return nil
}

// Check reports whether the broker connection is still open. It is used as
// a readiness probe.
func (p *Publisher) Check(context.Context) error {
	if p.conn != nil && p.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	chErr := p.ch.Close()
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return errors.Wrap(err, "close connection")
		}
	}
	if chErr != nil {
		return errors.Wrap(chErr, "close channel")
	}
	return nil
}

// Encode renders e as the JSON message body.
func Encode(e order.Event) []byte {
	w := jx.GetEncoder()
	defer jx.PutEncoder(w)

	w.ObjStart()
	w.FieldStart("type")
	w.Str(e.Type)
	w.FieldStart("orderId")
	w.Str(e.OrderID)
	w.FieldStart("orderNumber")
	w.Str(e.OrderNumber)
	w.FieldStart("userId")
	w.Str(e.UserID)
	w.FieldStart("paymentStatus")
	w.Str(string(e.Status))
	w.FieldStart("totalAmount")
	w.Str(e.Total.StringFixed(2))
	w.FieldStart("at")
	w.Str(e.At.UTC().Format(time.RFC3339Nano))
	w.ObjEnd()

	return append([]byte(nil), w.Bytes()...)
}

// Log is a publisher that only logs events. It stands in when no broker is
// configured.
type Log struct{}

// Publish logs e at debug level.
func (Log) Publish(ctx context.Context, e order.Event) error {
	zctx.From(ctx).Debug("Order event",
		zap.String("type", e.Type),
		zap.String("order_id", e.OrderID),
		zap.String("status", string(e.Status)),
	)
	return nil
}
