package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const exchangeType = "topic"

// Event types published to the broker.
const (
	EventMessage = "message"
	EventAlert   = "alert"
	EventTrade   = "trade"
)

// Event is the JSON body of every published notification.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Market    string    `json:"market,omitempty"`
	Text      string    `json:"text,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Side      string    `json:"side,omitempty"`
	Price     float64   `json:"price,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Quantity  float64   `json:"quantity,omitempty"`
	Total     float64   `json:"total,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher publishes notifications as events on a RabbitMQ topic exchange.
// Routing keys look like crypto.<market>.<type>, e.g. crypto.elyinr.trade.
type AMQPPublisher struct {
	ch       channel
	exchange string
	logger   *zap.Logger
	now      func() time.Time
}

var _ Notifier = (*AMQPPublisher)(nil)

// NewAMQPPublisher wraps an open channel.
func NewAMQPPublisher(ch channel, exchange string, logger *zap.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		ch:       ch,
		exchange: exchange,
		logger:   logger.Named("amqp"),
		now:      time.Now,
	}
}

// DialAMQP connects to the broker and declares the topic exchange.
// The caller owns the returned connection.
func DialAMQP(url, exchange string, logger *zap.Logger) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	// Simple retry logic for broker startup
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to RabbitMQ", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,     // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	return conn, ch, nil
}

func (p *AMQPPublisher) SendMessage(ctx context.Context, text string) bool {
	return p.publish(ctx, Event{Type: EventMessage, Text: text})
}

func (p *AMQPPublisher) SendAlert(ctx context.Context, market string, price float64, kind string, threshold float64) bool {
	return p.publish(ctx, Event{Type: EventAlert, Market: market, Price: price, Kind: kind, Threshold: threshold})
}

func (p *AMQPPublisher) SendTrade(ctx context.Context, side, market string, price, quantity, total float64, orderID string) bool {
	return p.publish(ctx, Event{
		Type:     EventTrade,
		Market:   market,
		Side:     side,
		Price:    price,
		Quantity: quantity,
		Total:    total,
		OrderID:  orderID,
	})
}

// RoutingKey returns the topic routing key for an event.
func RoutingKey(e Event) string {
	market := strings.ToLower(e.Market)
	if market == "" {
		market = "system"
	}
	return fmt.Sprintf("crypto.%s.%s", market, e.Type)
}

func (p *AMQPPublisher) publish(ctx context.Context, e Event) bool {
	e.ID = uuid.NewString()
	e.Timestamp = p.now().UTC()

	body, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("Could not marshal event", zap.Error(err))
		return false
	}

	err = p.ch.PublishWithContext(ctx,
		p.exchange,    // exchange
		RoutingKey(e), // routing key
		false,         // mandatory
		false,         // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID,
			Timestamp:    e.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish event", zap.Error(&NotificationError{Sink: "amqp", Err: err}), zap.String("type", e.Type))
		return false
	}
	return true
}
