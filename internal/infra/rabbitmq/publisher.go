package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"quiz-coordinator/internal/domain"
)

const (
	// DefaultExchange receives room lifecycle events.
	DefaultExchange = "quiz_room_events"
	// RoutingKeyRoomCompleted is set on completion messages; fanout consumers may ignore it.
	RoutingKeyRoomCompleted = "room.completed"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends completed room results to a durable fanout exchange.
type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	log      logrus.FieldLogger
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(url, exchange string, log logrus.FieldLogger) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"fanout", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	log.WithField("exchange", exchange).Info("connected to rabbitmq")
	return &Publisher{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

type roomCompletedMessage struct {
	Event      string            `json:"event"`
	OccurredAt time.Time         `json:"occurredAt"`
	Result     domain.RoomResult `json:"result"`
}

func (p *Publisher) PublishRoomCompleted(ctx context.Context, result domain.RoomResult) error {
	msg, err := completedMessage(result)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx,
		p.exchange,              // exchange
		RoutingKeyRoomCompleted, // routing key
		false,                   // mandatory
		false,                   // immediate
		msg,
	)
}

func completedMessage(result domain.RoomResult) (amqp.Publishing, error) {
	body, err := json.Marshal(roomCompletedMessage{
		Event:      RoutingKeyRoomCompleted,
		OccurredAt: result.CompletedAt,
		Result:     result,
	})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal room result: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    result.RoomID,
		Timestamp:    result.CompletedAt,
		Type:         RoutingKeyRoomCompleted,
		Body:         body,
	}, nil
}

// Close shuts down the channel and connection.
func (p *Publisher) Close() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.log.Info("rabbitmq connection closed")
}
