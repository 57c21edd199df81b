package rabbitmq

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/viper"
	"github.com/streadway/amqp"
)

const (
	retrySuffix    = "_retry"
	finalDLQSuffix = ".dlq.final"

	// Delay before the broker redelivers a retried message to the main queue.
	retryTTLMillis = 60000
)

// RetryQueue returns the name of the delayed-retry queue for the given queue.
func RetryQueue(queue string) string {
	return queue + retrySuffix
}

// FinalDLQ returns the name of the terminal dead-letter queue for the given queue.
func FinalDLQ(queue string) string {
	return queue + finalDLQSuffix
}

// Client represents a RabbitMQ client.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel

	// streadway channels are not safe for concurrent publish
	// alongside delivery acknowledgements.
	mu     sync.Mutex
	closed bool
}

// Channel returns the underlying AMQP channel.
func (r *Client) Channel() *amqp.Channel {
	return r.channel
}

// Connection returns the underlying AMQP connection.
func (r *Client) Connection() *amqp.Connection {
	return r.conn
}

// Close closes the channel and connection for graceful shutdown.
// A second Close is a no-op.
func (r *Client) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			return err
		}
	}
	if r.conn != nil {
		return r.conn.Close()
	}

	return nil
}

// MustNewClient creates a new RabbitMQ client.
func MustNewClient() *Client {
	connStr := viper.GetString("rabbitmq.url")
	if connStr == "" {
		host := viper.GetString("rabbitmq.host")
		port := viper.GetInt("rabbitmq.port")
		user := viper.GetString("rabbitmq.user")
		password := viper.GetString("rabbitmq.password")

		if host == "" {
			host = "rabbitmq"
		}
		if port == 0 {
			port = 5672
		}

		connStr = fmt.Sprintf(
			"amqp://%s:%s@%s:%d/",
			user,
			password,
			host,
			port,
		)
	}

	conn, err := amqp.Dial(connStr)
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to RabbitMQ: %v", err))
	}

	channel, err := conn.Channel()
	if err != nil {
		err := conn.Close()
		if err != nil {
			panic(fmt.Sprintf("Failed to close a connection: %v", err))
		}
		panic(fmt.Sprintf("Failed to open a channel: %v", err))
	}

	slog.Info("RabbitMQ connected")

	return &Client{
		conn:    conn,
		channel: channel,
	}
}

// EnsureTopology declares the main queue together with its retry and final
// dead-letter companions, unless the main queue already exists. Existing
// deployments are never redefined.
//
// A failed passive declare closes its channel, so the existence check runs on
// a throwaway channel. Concurrent first-time bootstraps by multiple consumer
// instances may race; a "queue exists with different parameters" failure from
// the broker is treated as benign.
func (r *Client) EnsureTopology(queue string) error {
	probe, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open probe channel: %w", err)
	}

	if _, err := probe.QueueDeclarePassive(queue, true, false, false, false, nil); err == nil {
		slog.Info("Queue already exists, skipping topology bootstrap", "queue", queue)
		_ = probe.Close()

		return nil
	}

	declare, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open declare channel: %w", err)
	}
	defer func() {
		_ = declare.Close()
	}()

	if _, err := declare.QueueDeclare(FinalDLQ(queue), true, false, false, false, nil); err != nil {
		if !isBenignDeclareError(err) {
			return fmt.Errorf("failed to declare final dead-letter queue: %w", err)
		}
		slog.Warn("Final dead-letter queue declared concurrently", "queue", FinalDLQ(queue))

		return nil
	}

	// Messages expiring in the retry queue are dead-lettered back to the
	// main queue by the broker. The TTL is the sole retry delay.
	if _, err := declare.QueueDeclare(RetryQueue(queue), true, false, false, false, amqp.Table{
		"x-message-ttl":             int32(retryTTLMillis),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		if !isBenignDeclareError(err) {
			return fmt.Errorf("failed to declare retry queue: %w", err)
		}
		slog.Warn("Retry queue declared concurrently", "queue", RetryQueue(queue))

		return nil
	}

	// The main queue dead-letters rejected messages back to itself as a
	// safety net against accidental nacks. Business retries never rely on
	// this; the consumer republishes explicitly.
	if _, err := declare.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		if !isBenignDeclareError(err) {
			return fmt.Errorf("failed to declare main queue: %w", err)
		}
		slog.Warn("Main queue declared concurrently", "queue", queue)

		return nil
	}

	slog.Info("Queue topology created",
		"queue", queue,
		"retry_queue", RetryQueue(queue),
		"final_dlq", FinalDLQ(queue),
	)

	return nil
}

// isBenignDeclareError reports whether a queue declare failed only because a
// concurrent bootstrap already created the queue with different parameters.
func isBenignDeclareError(err error) bool {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code == amqp.PreconditionFailed
	}

	return false
}

// SendToQueue publishes a persistent message to the given queue via the
// default exchange.
func (r *Client) SendToQueue(queue string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New("rabbitmq client is closed")
	}

	return r.channel.Publish(
		"",
		queue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

type ConsumeConfig struct {
	Queue     string
	Consumer  string
	AutoAck   bool
	Exclusive bool
	NoLocal   bool
	NoWait    bool
	Args      amqp.Table
}

// Consume starts consuming messages from the queue.
func (r *Client) Consume(cfg ConsumeConfig) (<-chan amqp.Delivery, error) {
	return r.channel.Consume(
		cfg.Queue,
		cfg.Consumer,
		cfg.AutoAck,
		cfg.Exclusive,
		cfg.NoLocal,
		cfg.NoWait,
		cfg.Args,
	)
}
