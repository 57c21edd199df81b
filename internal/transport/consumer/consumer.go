package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parqsoft/mailer-svc/internal/rabbitmq"
	"github.com/parqsoft/mailer-svc/internal/service/models/mail"
	"github.com/parqsoft/mailer-svc/internal/service/models/message"
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
)

// maxRetryCount is the number of retry hops before a failing message is
// escalated to the final dead-letter queue.
const maxRetryCount = 4

// dispatcher represents the mail dispatch service interface.
type dispatcher interface {
	Send(ctx context.Context, req *mail.Request, attempt int) error
}

// broker is the part of the RabbitMQ client the consumer relies on.
type broker interface {
	EnsureTopology(queue string) error
	SendToQueue(queue string, body []byte) error
	Consume(cfg rabbitmq.ConsumeConfig) (<-chan amqp.Delivery, error)
}

// Consumer owns the message lifecycle: it consumes the work queue, invokes
// the dispatcher and routes failures through the retry queue into the final
// dead-letter queue. It is the only place deciding retry vs. dead-letter.
type Consumer struct {
	client     broker
	dispatcher dispatcher
	queue      string

	mu       sync.Mutex
	running  bool
	stopping bool
	stop     chan struct{}
	done     chan struct{}
}

// NewConsumer creates a new Consumer for the configured queue.
func NewConsumer(client broker, dispatcher dispatcher) *Consumer {
	queueName := viper.GetString("rabbitmq.queue")
	if queueName == "" {
		queueName = "email_queue"
	}

	return &Consumer{
		client:     client,
		dispatcher: dispatcher,
		queue:      queueName,
	}
}

// Queue returns the queue the consumer reads from.
func (c *Consumer) Queue() string {
	return c.queue
}

// Start launches Run in the background, optionally switching to another
// queue first. Errors after startup are logged, not returned; a consumer
// failing to start must not take the host process down.
func (c *Consumer) Start(ctx context.Context, queue string) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()

		return errors.New("consumer is already running")
	}
	if queue != "" {
		c.queue = queue
	}
	c.mu.Unlock()

	go func() {
		if err := c.Run(ctx); err != nil {
			slog.Error("Consumer stopped with error", "error", err)
		}
	}()

	return nil
}

// Run bootstraps the queue topology and consumes deliveries one at a time
// until the context is cancelled or Shutdown is called.
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()

		return errors.New("consumer is already running")
	}
	c.running = true
	c.stopping = false
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	if err := c.client.EnsureTopology(c.queue); err != nil {
		close(c.done)

		return fmt.Errorf("failed to ensure queue topology: %w", err)
	}

	consumerTag := viper.GetString("rabbitmq.consumer_tag")
	if consumerTag == "" {
		consumerTag = "mailer-svc"
	}

	msgs, err := c.client.Consume(rabbitmq.ConsumeConfig{
		Queue:    c.queue,
		Consumer: consumerTag,
	})
	if err != nil {
		close(c.done)

		return err
	}

	slog.Info("Consumer started", "queue", c.queue, "consumer_tag", consumerTag)

	go func() {
		defer close(c.done)
		for {
			select {
			case <-ctx.Done():
				slog.Info("Consumer context cancelled")

				return
			case <-c.stop:
				slog.Info("Stopping consumer")

				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Info("Message channel closed")

					return
				}

				if err := c.processMessage(ctx, msg); err != nil {
					slog.Error("Error processing message", "error", err, "delivery_tag", msg.DeliveryTag)
				}
			}
		}
	}()

	<-c.done

	return nil
}

// processMessage handles a single delivery. The original delivery is always
// terminally acknowledged: retries are fresh publications to the retry queue,
// never broker requeues, so the main queue holds no unacked in-flight
// messages during backoff.
func (c *Consumer) processMessage(ctx context.Context, d amqp.Delivery) error {
	ctx, span := otel.Tracer("consumer").Start(ctx, "Consumer.processMessage")
	defer span.End()

	slog.Info("Received message", "delivery_tag", d.DeliveryTag)

	var msg message.QueueMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		slog.Error("Failed to decode message, rejecting", "error", err)
		if err := d.Nack(false, false); err != nil {
			slog.Error("Failed to nack message", "error", err)
		}

		return err
	}

	// A shared queue may carry foreign types; they are acked without action.
	if msg.Type != message.TypeEmailNotification {
		slog.Info("Ignoring message of foreign type", "type", msg.Type)

		return d.Ack(false)
	}

	req := toMailRequest(msg.Data)

	if err := c.dispatcher.Send(ctx, req, msg.RetryCount); err != nil {
		return c.routeFailure(ctx, d, msg, err)
	}

	if err := d.Ack(false); err != nil {
		slog.Error("Failed to ack message", "error", err)

		return err
	}

	slog.Info("Message processed successfully", "delivery_tag", d.DeliveryTag)

	return nil
}

// routeFailure republishes a failed message to the retry queue, or to the
// final dead-letter queue once maxRetryCount is reached, then acks the
// original delivery. A failed republication nacks without requeue; recovery
// for that message is left to broker persistence and the operator.
func (c *Consumer) routeFailure(
	ctx context.Context,
	d amqp.Delivery,
	msg message.QueueMessage,
	dispatchErr error,
) error {
	_, span := otel.Tracer("consumer").Start(ctx, "Consumer.routeFailure")
	defer span.End()

	currentRetryCount := msg.RetryCount

	if currentRetryCount >= maxRetryCount {
		now := time.Now()
		escalated := msg
		escalated.OriginalQueue = c.queue
		escalated.LastError = dispatchErr.Error()
		escalated.FailedAt = &now
		escalated.FinalFailure = true

		body, err := json.Marshal(escalated)
		if err != nil {
			return c.rejectTerminally(d, fmt.Errorf("failed to encode dead letter: %w", err))
		}

		if err := c.client.SendToQueue(rabbitmq.FinalDLQ(c.queue), body); err != nil {
			return c.rejectTerminally(d, fmt.Errorf("failed to publish to final dead-letter queue: %w", err))
		}

		slog.Warn("Maximum retry count exceeded, message moved to final dead-letter queue",
			"retry_count", currentRetryCount,
			"queue", rabbitmq.FinalDLQ(c.queue),
			"error", dispatchErr)
	} else {
		retried := msg
		retried.RetryCount = currentRetryCount + 1
		retried.OriginalQueue = c.queue

		body, err := json.Marshal(retried)
		if err != nil {
			return c.rejectTerminally(d, fmt.Errorf("failed to encode retry message: %w", err))
		}

		if err := c.client.SendToQueue(rabbitmq.RetryQueue(c.queue), body); err != nil {
			return c.rejectTerminally(d, fmt.Errorf("failed to publish to retry queue: %w", err))
		}

		slog.Warn("Dispatch failed, retry scheduled",
			"retry_count", retried.RetryCount,
			"queue", rabbitmq.RetryQueue(c.queue),
			"error", dispatchErr)
	}

	if err := d.Ack(false); err != nil {
		slog.Error("Failed to ack message after routing", "error", err)

		return err
	}

	return nil
}

// rejectTerminally nacks a delivery without requeue after a failed
// republication. This is a fatal condition for that message.
func (c *Consumer) rejectTerminally(d amqp.Delivery, cause error) error {
	slog.Error("Terminal routing failure", "error", cause, "delivery_tag", d.DeliveryTag)
	if err := d.Nack(false, false); err != nil {
		slog.Error("Failed to nack message", "error", err)
	}

	return cause
}

// toMailRequest converts a normalized queue payload into a dispatch request.
func toMailRequest(data message.Payload) *mail.Request {
	attachments := make([]mail.AttachmentRef, 0, len(data.Attachments))
	for _, att := range data.Attachments {
		attachments = append(attachments, mail.AttachmentRef{
			Name: att.NameFile,
			Key:  att.S3Name,
		})
	}

	return &mail.Request{
		Recipients:  data.Recipients,
		Subject:     data.Subject,
		HTML:        data.HTML,
		Text:        data.Text,
		Attachments: attachments,
	}
}

// Shutdown gracefully shuts down the consumer.
func (c *Consumer) Shutdown() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()

		return nil
	}
	if !c.stopping {
		c.stopping = true
		close(c.stop)
	}
	done := c.done
	c.mu.Unlock()

	slog.Info("Shutting down consumer")

	select {
	case <-done:
		slog.Info("Consumer stopped successfully")
	case <-time.After(10 * time.Second):
		slog.Warn("Consumer shutdown timeout")
	}

	return nil
}
