package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/miragespace/premium/reminder"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var _ Publisher = &AMQPBroker{}
var _ Consumer = &AMQPBroker{}

const (
	reminderExchange   string = "premium_reminders"
	reminderQueue             = "payment_reminders"
	reminderRoutingKey        = "payment_reminder"
)

// AMQPBroker describes a message broker via RabbitMQ
type AMQPBroker struct {
	logger     *zap.Logger
	connection *amqp.Connection
	channel    *amqp.Channel
	// amqp.Channel is not safe for concurrent publishing
	mu sync.Mutex
}

// NewAMQPBroker returns a Message Broker over RabbitMQ
func NewAMQPBroker(logger *zap.Logger, amqpURI string) (*AMQPBroker, error) {
	if logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		amqpConn.Close()
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	broker := &AMQPBroker{
		logger:     logger,
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := broker.setupReminderExchange(); err != nil {
		broker.Close()
		return nil, extErrors.Wrap(err, "Cannot declare exchange for reminders")
	}

	return broker, nil
}

func (a *AMQPBroker) setupReminderExchange() error {
	return a.channel.ExchangeDeclare(
		reminderExchange, // name
		"direct",         // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}

func (a *AMQPBroker) publishViaRoutingKey(exchange, routingKey string, body []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.channel.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/x-protobuf",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// NotifyPaymentReminder publishes the reminder for delivery by a worker
func (a *AMQPBroker) NotifyPaymentReminder(ctx context.Context, r reminder.Reminder) error {
	protoBytes, err := encodeReminder(r)
	if err != nil {
		return extErrors.Wrap(err, "Cannot encode message into bytes")
	}
	if err := a.publishViaRoutingKey(reminderExchange, reminderRoutingKey, protoBytes); err != nil {
		return extErrors.Wrap(err, "Cannot publish payment reminder")
	}
	return nil
}

func (a *AMQPBroker) setupQueue(qName string) error {
	_, err := a.channel.QueueDeclare(
		qName,
		true,
		false,
		false,
		false,
		nil,
	)
	return err
}

func (a *AMQPBroker) bindAndGetMsgChan(qName, exchange, routingKey string) (<-chan amqp.Delivery, error) {
	if err := a.channel.QueueBind(
		qName,
		routingKey,
		exchange,
		false,
		nil,
	); err != nil {
		return nil, err
	}
	msgChan, err := a.channel.Consume(
		qName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	return msgChan, err
}

// ReceiveReminders consumes published reminders until ctx is done. Malformed
// messages are dropped.
func (a *AMQPBroker) ReceiveReminders(ctx context.Context) (<-chan reminder.Reminder, error) {
	if err := a.setupQueue(reminderQueue); err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup queue")
	}
	msgChan, err := a.bindAndGetMsgChan(reminderQueue, reminderExchange, reminderRoutingKey)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup consumer")
	}
	rChan := make(chan reminder.Reminder)
	go func() {
		defer close(rChan)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgChan:
				if !ok {
					return
				}
				r, err := decodeReminder(d.Body)
				if err != nil {
					a.logger.Error("Dropping malformed reminder message",
						zap.Error(err),
					)
					d.Nack(false, false)
					continue
				}
				select {
				case rChan <- r:
					d.Ack(false)
				case <-ctx.Done():
					d.Nack(false, true)
					return
				}
			}
		}
	}()
	return rChan, nil
}
