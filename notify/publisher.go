// Package notify publishes delivery events to an AMQP broker.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/iceisfun/mysmtp"
)

// DefaultQueue is the routing key used when Options.Queue is empty.
const DefaultQueue = "deliveries"

// Channel is the subset of an AMQP channel used for publishing.
// *amqp.Channel and *rabbitmq.Channel satisfy it.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Event is the JSON payload published for every stored message.
type Event struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Recipient  string    `json:"recipient"`
	Sender     string    `json:"sender"`
	MessageID  int       `json:"message_id"`
	Date       string    `json:"date"`
	Size       int64     `json:"size"`
	Time       time.Time `json:"time"`
}

// Options configures a Publisher.
type Options struct {
	// Exchange is the AMQP exchange; empty selects the default exchange.
	Exchange string

	// Queue is the routing key.
	Queue string

	// Logger receives publish failures.
	Logger mysmtp.Logger
}

// Publisher implements mysmtp.SessionHooks and publishes an Event from
// OnDelivered. Publish failures are logged and never affect the session.
type Publisher struct {
	mysmtp.NullSessionHooks

	ch       Channel
	exchange string
	queue    string
	logger   mysmtp.Logger
	now      func() time.Time
	pool     sync.Pool
}

// NewPublisher creates a publisher over ch.
func NewPublisher(ch Channel, opts Options) *Publisher {
	p := &Publisher{
		ch:       ch,
		exchange: opts.Exchange,
		queue:    opts.Queue,
		logger:   opts.Logger,
		now:      time.Now,
		pool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
	if p.queue == "" {
		p.queue = DefaultQueue
	}
	if p.logger == nil {
		p.logger = mysmtp.NullLogger{}
	}
	return p
}

// Publish encodes ev as JSON and publishes it.
func (p *Publisher) Publish(ev Event) error {
	b := p.pool.Get().(*bytes.Buffer)
	defer p.pool.Put(b)
	b.Reset()

	if err := json.NewEncoder(b).Encode(&ev); err != nil {
		return errors.WithMessage(err, "Encode")
	}

	msg := amqp.Publishing{
		MessageId:   ev.ID,
		Timestamp:   ev.Time,
		ContentType: "application/json",
		Body:        b.Bytes(),
	}

	err := p.ch.Publish(
		p.exchange,
		p.queue,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return errors.WithMessage(err, "Publish")
	}

	return nil
}

// OnDelivered publishes an Event describing d.
func (p *Publisher) OnDelivered(ctx context.Context, d mysmtp.Delivery, session mysmtp.SessionInfo) {
	ev := Event{
		ID:        uuid.New().String(),
		Recipient: d.Recipient,
		Sender:    d.Sender,
		MessageID: d.MessageID,
		Date:      d.Date,
		Size:      d.Size,
		Time:      p.now(),
	}
	if session != nil {
		ev.SessionID = session.ID()
		ev.RemoteAddr = session.RemoteAddr()
	}

	if err := p.Publish(ev); err != nil {
		p.logger.Warn(ctx, "delivery event not published",
			mysmtp.Attr(mysmtp.AttrRecipient, d.Recipient),
			mysmtp.Attr(mysmtp.AttrMessageID, d.MessageID),
			mysmtp.Attr(mysmtp.AttrError, err))
		return
	}

	p.logger.Debug(ctx, "delivery event published",
		mysmtp.Attr(mysmtp.AttrRecipient, d.Recipient),
		mysmtp.Attr(mysmtp.AttrMessageID, d.MessageID))
}

var _ mysmtp.SessionHooks = (*Publisher)(nil)
