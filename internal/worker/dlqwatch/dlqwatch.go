package dlqwatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/parqsoft/mailer-svc/internal/dal/interfaces/ideadletterrepo"
	"github.com/parqsoft/mailer-svc/internal/rabbitmq"
	"github.com/parqsoft/mailer-svc/internal/service/models/deadletter"
	"github.com/parqsoft/mailer-svc/internal/service/models/message"
	"github.com/spf13/viper"
	"github.com/streadway/amqp"
)

// broker is the part of the RabbitMQ client the watcher relies on.
type broker interface {
	Consume(cfg rabbitmq.ConsumeConfig) (<-chan amqp.Delivery, error)
}

// Watcher consumes the final dead-letter queue and records every terminally
// failed message for operator triage. It never republishes; messages in the
// final queue are manual-intervention-only.
type Watcher struct {
	client         broker
	deadLetterRepo ideadletterrepo.IDeadLetterRepository
	queue          string
	stopCh         chan struct{}
}

// NewWatcher creates a new dead-letter watcher for the configured queue.
func NewWatcher(client broker, deadLetterRepo ideadletterrepo.IDeadLetterRepository) *Watcher {
	queueName := viper.GetString("rabbitmq.queue")
	if queueName == "" {
		queueName = "email_queue"
	}

	return &Watcher{
		client:         client,
		deadLetterRepo: deadLetterRepo,
		queue:          rabbitmq.FinalDLQ(queueName),
		stopCh:         make(chan struct{}),
	}
}

// Start begins recording messages from the final dead-letter queue.
func (w *Watcher) Start(ctx context.Context) {
	msgs, err := w.client.Consume(rabbitmq.ConsumeConfig{
		Queue:    w.queue,
		Consumer: "mailer-svc-dlqwatch",
	})
	if err != nil {
		slog.Error("Failed to start dead-letter watcher", "queue", w.queue, "error", err)

		return
	}

	slog.Info("Dead-letter watcher started", "queue", w.queue)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Dead-letter watcher shutting down")

			return
		case <-w.stopCh:
			slog.Info("Dead-letter watcher stopped")

			return
		case msg, ok := <-msgs:
			if !ok {
				slog.Info("Dead-letter channel closed")

				return
			}
			w.record(ctx, msg)
		}
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
}

// record persists one dead letter. An undecodable payload is still persisted
// raw so nothing is silently dropped. Failed inserts are requeued to the
// broker for a later pass.
func (w *Watcher) record(ctx context.Context, d amqp.Delivery) {
	now := time.Now()
	letter := deadletter.DeadLetter{
		QueueName: w.queue,
		Payload:   d.Body,
		FailedAt:  now,
		CreatedAt: now,
	}

	var msg message.QueueMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		slog.Warn("Dead letter payload is not a queue message", "error", err)
	} else {
		if msg.OriginalQueue != "" {
			letter.QueueName = msg.OriginalQueue
		}
		letter.LastError = msg.LastError
		if msg.FailedAt != nil {
			letter.FailedAt = *msg.FailedAt
		}
	}

	if err := w.deadLetterRepo.Insert(ctx, letter); err != nil {
		slog.Error("Failed to record dead letter, requeueing", "error", err)
		if err := d.Nack(false, true); err != nil {
			slog.Error("Failed to nack dead letter", "error", err)
		}

		return
	}

	if err := d.Ack(false); err != nil {
		slog.Error("Failed to ack dead letter", "error", err)

		return
	}

	slog.Info("Dead letter recorded", "queue", letter.QueueName, "last_error", letter.LastError)
}
