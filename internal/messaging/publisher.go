package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/igwedaniel/walletsync/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// Publisher interface for loose coupling
type Publisher interface {
	Publish(ctx context.Context, event *types.Event) error
	Close() error
}

// RabbitMQPublisher implements Publisher interface
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *logrus.Logger
}

// NewRabbitMQPublisher creates a new RabbitMQ publisher
func NewRabbitMQPublisher(url, exchange string, logger *logrus.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange
	err = channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	publisher := &RabbitMQPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger,
	}

	// Handle connection errors
	go publisher.handleConnectionErrors()

	return publisher, nil
}

func (p *RabbitMQPublisher) handleConnectionErrors() {
	notifyClose := make(chan *amqp.Error)
	p.conn.NotifyClose(notifyClose)

	for err := range notifyClose {
		if err != nil {
			p.logger.Errorf("RabbitMQ connection error: %v", err)
		}
	}
}

// RoutingKey returns the topic an event is published under
func RoutingKey(event *types.Event) string {
	return fmt.Sprintf("%s.%s", event.Type, event.Source)
}

// Publish publishes an event. Events published from one goroutine reach the
// exchange in order.
func (p *RabbitMQPublisher) Publish(ctx context.Context, event *types.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	routingKey := RoutingKey(event)

	err = p.channel.Publish(
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    event.Timestamp,
			MessageId:    fmt.Sprintf("%s-%d", event.Type, time.Now().UnixNano()),
			DeliveryMode: amqp.Transient,
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_type":  event.Type,
		"routing_key": routingKey,
		"timestamp":   event.Timestamp,
	}).Debug("Event published successfully")

	return nil
}

// Close closes the publisher connection
func (p *RabbitMQPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NoOpPublisher is a no-op implementation for testing
type NoOpPublisher struct{}

func (n *NoOpPublisher) Publish(ctx context.Context, event *types.Event) error {
	return nil
}

func (n *NoOpPublisher) Close() error {
	return nil
}

// MultiPublisher publishes every event to each of its publishers in turn
type MultiPublisher struct {
	publishers []Publisher
}

func NewMultiPublisher(publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{publishers: publishers}
}

// Publish tries every publisher even when one fails
func (m *MultiPublisher) Publish(ctx context.Context, event *types.Event) error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiPublisher) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
