package notify

import (
	"github.com/isayme/go-amqp-reconnect/rabbitmq"
	"github.com/pkg/errors"
)

// Dial connects to the broker at url and opens a publishing channel.
// When queue is not empty a durable queue of that name is declared.
// The connection reconnects on its own after broker failures.
func Dial(url, queue string) (*rabbitmq.Connection, *rabbitmq.Channel, error) {
	conn, err := rabbitmq.Dial(url)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "rabbitmq.Dial")
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, errors.WithMessage(err, "Channel")
	}

	if len(queue) > 0 {
		_, err = ch.QueueDeclare(
			queue,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,
		)
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, nil, errors.WithMessage(err, "QueueDeclare")
		}
	}

	return conn, ch, nil
}
