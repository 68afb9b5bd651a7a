package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/streadway/amqp"

	"github.com/synqronlabs/smtpd"
)

// ContentType marks published records.
const ContentType = "application/x-msgpack"

// DefaultQueue is the routing key used by DialPublisher when none is given.
const DefaultQueue = "smtpd.delivered"

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends every delivered message to an AMQP exchange as a
// MessagePack Record.
type Publisher struct {
	ch       Channel
	exchange string
	key      string
	closers  []func() error
}

var _ smtpd.MailStore = (*Publisher)(nil)

// NewPublisher publishes on ch to exchange with routing key key.
func NewPublisher(ch Channel, exchange, key string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange, key: key}
}

// DialPublisher connects to the broker at url, declares a durable queue
// and publishes to it through the default exchange.
func DialPublisher(url, queue string) (*Publisher, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("store: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: amqp channel: %w", err)
	}
	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: amqp queue declare: %w", err)
	}

	p := NewPublisher(ch, "", queue)
	p.closers = []func() error{ch.Close, conn.Close}
	return p, nil
}

// Deliver implements smtpd.MailStore.
func (p *Publisher) Deliver(_ context.Context, body []byte, recipients []string) error {
	rec := NewRecord(body, recipients)
	data, err := rec.MarshalMsg(nil)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}

	msg := amqp.Publishing{
		MessageId:    rec.ID,
		Timestamp:    rec.ReceivedAt,
		ContentType:  ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         data,
	}

	err = p.ch.Publish(
		p.exchange,
		p.key,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("store: publish: %w", err)
	}
	return nil
}

// Close closes the channel and connection opened by DialPublisher.
func (p *Publisher) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
