package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/igwedaniel/walletsync/internal/types"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	defaultExchange = "wallet.events"
	queueName       = "test_listener_queue"
)

type EventEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

type TestListener struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *logrus.Logger
}

func NewTestListener(rabbitURL, exchange string, logger *logrus.Logger) (*TestListener, error) {
	conn, err := amqp091.Dial(rabbitURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return &TestListener{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Start binds a temporary queue to every routing key in patterns and
// prints what arrives
func (tl *TestListener) Start(ctx context.Context, patterns []string) error {
	err := tl.channel.ExchangeDeclare(
		tl.exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	queue, err := tl.channel.QueueDeclare(
		queueName,
		false, // durable
		true,  // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	for _, pattern := range patterns {
		if err := tl.channel.QueueBind(queue.Name, pattern, tl.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %w", pattern, err)
		}
	}

	msgs, err := tl.channel.Consume(
		queue.Name,
		"",    // consumer
		true,  // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	tl.logger.WithFields(logrus.Fields{
		"exchange": tl.exchange,
		"routes":   strings.Join(patterns, ","),
		"queue":    queue.Name,
	}).Info("Test listener started")

	go func() {
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					tl.logger.Warn("Delivery channel closed")
					return
				}
				tl.handleMessage(msg)
			case <-ctx.Done():
				tl.logger.Info("Context cancelled, stopping message consumption")
				return
			}
		}
	}()

	return nil
}

func (tl *TestListener) handleMessage(msg amqp091.Delivery) {
	receivedAt := time.Now()

	var env EventEnvelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		tl.logger.WithFields(logrus.Fields{
			"error": err.Error(),
			"body":  string(msg.Body),
		}).Error("Failed to parse event envelope")
		return
	}

	fields := logrus.Fields{
		"routing_key": msg.RoutingKey,
		"source":      env.Source,
		"delay":       receivedAt.Sub(env.Timestamp).String(),
	}

	switch env.Type {
	case types.EventTypePeerCount:
		var payload types.PeerCountChanged
		if tl.decode(env, &payload) {
			fields["peers"] = payload.Count
			tl.logger.WithFields(fields).Info("Peer count changed")
		}
	case types.EventTypeChainDownloadStarted:
		tl.logger.WithFields(fields).Info("Chain download started")
	case types.EventTypeChainDownloadProgress:
		var payload types.ChainDownloadProgress
		if tl.decode(env, &payload) {
			fields["percent"] = payload.Percent
			fields["blocks_remaining"] = payload.BlocksRemaining
			tl.logger.WithFields(fields).Info("Chain download progress")
		}
	case types.EventTypeChainDownloadCompleted:
		tl.logger.WithFields(fields).Info("Chain download completed")
	case types.EventTypeTransactionSeen:
		var payload types.TransactionSeen
		if tl.decode(env, &payload) {
			tl.printTransaction(env, payload, receivedAt)
		}
	default:
		tl.logger.WithField("type", env.Type).Debug("Ignoring unknown event")
	}
}

func (tl *TestListener) decode(env EventEnvelope, payload interface{}) bool {
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		tl.logger.WithFields(logrus.Fields{
			"error":   err.Error(),
			"type":    env.Type,
			"payload": string(env.Payload),
		}).Error("Failed to parse event payload")
		return false
	}
	return true
}

func (tl *TestListener) printTransaction(env EventEnvelope, seen types.TransactionSeen, receivedAt time.Time) {
	fmt.Printf("%s", "\n"+strings.Repeat("=", 80)+"\n")
	fmt.Printf("PENDING TRANSACTION\n")
	fmt.Printf("%s\n", strings.Repeat("=", 80))
	fmt.Printf("Network:      %s\n", env.Source)
	fmt.Printf("Wallet ID:    %s\n", seen.WalletID)
	fmt.Printf("Tx Hash:      %s\n", seen.TransactionID)
	fmt.Printf("Value:        %s\n", seen.ValueToWallet)
	fmt.Printf("First seen:   %t\n", seen.FirstAppearance)
	fmt.Printf("Received:     %s\n", receivedAt.Format("2006-01-02 15:04:05.000"))
	fmt.Printf("Delay:        %.3f seconds\n", receivedAt.Sub(env.Timestamp).Seconds())
	fmt.Printf("%s\n\n", strings.Repeat("=", 80))
}

func (tl *TestListener) Close() error {
	if tl.channel != nil {
		tl.channel.Close()
	}
	if tl.conn != nil {
		tl.conn.Close()
	}
	return nil
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		ForceColors:   true,
	})
	logger.SetLevel(logrus.InfoLevel)

	rabbitURL := os.Getenv("RABBITMQ_URL")
	if rabbitURL == "" {
		logger.Fatal("RABBITMQ_URL is not set")
	}
	exchange := os.Getenv("RABBITMQ_EXCHANGE")
	if exchange == "" {
		exchange = defaultExchange
	}

	// Routing keys are "<event type>.<network>"; default is everything
	patterns := []string{"#"}
	if routes := os.Getenv("ROUTES"); routes != "" {
		patterns = strings.Split(routes, ",")
	}

	logger.WithField("rabbitmq_url", rabbitURL).Info("Connecting to RabbitMQ...")

	listener, err := NewTestListener(rabbitURL, exchange, logger)
	if err != nil {
		logger.Fatalf("Failed to create test listener: %v", err)
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := listener.Start(ctx, patterns); err != nil {
		logger.Fatalf("Failed to start test listener: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Received shutdown signal, stopping test listener...")
	cancel()

	time.Sleep(time.Second)
	logger.Info("Test listener stopped")
}
