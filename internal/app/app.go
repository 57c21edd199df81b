package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parqsoft/mailer-svc/internal/dal/postgres"
	deadletterrepo "github.com/parqsoft/mailer-svc/internal/dal/repositories/deadletter/postgres"
	deliveryrepo "github.com/parqsoft/mailer-svc/internal/dal/repositories/delivery/postgres"
	"github.com/parqsoft/mailer-svc/internal/otel"
	"github.com/parqsoft/mailer-svc/internal/rabbitmq"
	"github.com/parqsoft/mailer-svc/internal/service/services/dispatchsvc"
	"github.com/parqsoft/mailer-svc/internal/service/services/processsvc"
	"github.com/parqsoft/mailer-svc/internal/smtp"
	"github.com/parqsoft/mailer-svc/internal/storage/s3"
	"github.com/parqsoft/mailer-svc/internal/transport/consumer"
	httptransport "github.com/parqsoft/mailer-svc/internal/transport/http"
	"github.com/parqsoft/mailer-svc/internal/worker/dlqwatch"
)

// App represents the application.
type App struct {
	dispatchSvc    *dispatchsvc.DispatchService
	processSvc     *processsvc.ProcessService
	consumerTransp *consumer.Consumer
	httpTransp     *httptransport.HTTPTransport
	dlqWatcher     *dlqwatch.Watcher
	rabbitMqClient *rabbitmq.Client
	postgresClient *postgres.Client
	otelController *otel.OtelController
}

// MustNewApp creates a new application.
func MustNewApp() *App {
	otelController := otel.MustInitOtel()
	rabbitMqClient := rabbitmq.MustNewClient()
	postgresClient := postgres.MustNewClient()
	storageGateway := s3.MustNewGateway()
	smtpSender := smtp.MustNewSender()

	deliveryRepository := deliveryrepo.NewDeliveryRepository(postgresClient)
	deadLetterRepository := deadletterrepo.NewDeadLetterRepository(postgresClient)

	processSvc := processsvc.MustNewProcessService(
		processsvc.WithDeliveryRepository(deliveryRepository),
	)

	dispatchSvc := dispatchsvc.MustNewDispatchService(
		dispatchsvc.WithStorage(storageGateway),
		dispatchsvc.WithSender(smtpSender),
		dispatchsvc.WithDeliveryLogger(processSvc),
	)

	consumerTransp := consumer.NewConsumer(rabbitMqClient, dispatchSvc)

	dlqWatcher := dlqwatch.NewWatcher(rabbitMqClient, deadLetterRepository)

	httpTransp := httptransport.NewHTTPTransport(dispatchSvc, processSvc, consumerTransp)
	httpTransp.RegisterRoutes()

	return &App{
		dispatchSvc:    dispatchSvc,
		processSvc:     processSvc,
		consumerTransp: consumerTransp,
		httpTransp:     httpTransp,
		dlqWatcher:     dlqWatcher,
		rabbitMqClient: rabbitMqClient,
		postgresClient: postgresClient,
		otelController: otelController,
	}
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *App) Run() {
	// Create a channel to receive OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The consumer bootstraps the queue topology; the dead-letter watcher
	// needs it in place before it can consume the final queue.
	if err := a.rabbitMqClient.EnsureTopology(a.consumerTransp.Queue()); err != nil {
		slog.Error("Failed to bootstrap queue topology", "error", err)
	}

	slog.Info("Starting consumer")
	if err := a.consumerTransp.Start(ctx, ""); err != nil {
		slog.Error("Consumer start error", "error", err)
	}

	go func() {
		slog.Info("Starting dead-letter watcher")
		a.dlqWatcher.Start(ctx)
	}()

	go func() {
		slog.Info("Starting HTTP server")
		if err := a.httpTransp.Run(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	<-stop
	slog.Info("Shutdown signal received")
	cancel()

	a.gracefulShutdown()
}

// gracefulShutdown performs graceful shutdown of all application components.
// It shuts down components sequentially: dead-letter watcher, consumer, HTTP
// server, RabbitMQ, PostgreSQL, and OpenTelemetry.
func (a *App) gracefulShutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.dlqWatcher.Stop()
	slog.Info("Dead-letter watcher stopped gracefully")

	if err := a.consumerTransp.Shutdown(); err != nil {
		slog.Error("Consumer shutdown error", "error", err)
	} else {
		slog.Info("Consumer stopped gracefully")
	}

	if err := a.httpTransp.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	if err := a.rabbitMqClient.Close(); err != nil {
		slog.Error("RabbitMQ connection close error", "error", err)
	} else {
		slog.Info("RabbitMQ connection closed gracefully")
	}

	a.postgresClient.Close()

	if err := a.otelController.Shutdown(); err != nil {
		slog.Error("Otel trace provider connection close error", "error", err)
	} else {
		slog.Info("Otel trace provider connection closed gracefully")
	}

	select {
	case <-ctx.Done():
		slog.Warn("Shutdown timeout exceeded")
	default:
		slog.Info("Application shutdown complete")
	}
}
