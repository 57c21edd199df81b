package processsvc

import (
	"context"
	"log/slog"
	"time"

	"github.com/parqsoft/mailer-svc/internal/dal/interfaces/ideliveryrepo"
	"github.com/parqsoft/mailer-svc/internal/service/models/process"
	"go.opentelemetry.io/otel"
)

// ProcessService persists per-recipient delivery outcomes.
type ProcessService struct {
	deliveryRepo ideliveryrepo.IDeliveryRepository
}

// option is a function that configures the ProcessService.
type option func(*ProcessService)

// MustNewProcessService creates a new ProcessService.
func MustNewProcessService(opts ...option) *ProcessService {
	s := &ProcessService{}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// WithDeliveryRepository sets the delivery log repository for the ProcessService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithDeliveryRepository(deliveryRepo ideliveryrepo.IDeliveryRepository) option {
	return func(s *ProcessService) {
		s.deliveryRepo = deliveryRepo
	}
}

// Record fans a dispatch outcome into one delivery-log row per address and
// returns a durability acknowledgement once the write is committed.
func (s *ProcessService) Record(
	ctx context.Context,
	outcome process.Outcome,
) (process.Receipt, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "Service.Record")
	defer span.End()

	now := time.Now()
	records := make([]process.Record, 0, len(outcome.MailsSuccess)+len(outcome.MailsError))

	for _, email := range outcome.MailsSuccess {
		records = append(records, process.Record{
			MessageID: outcome.MessageID,
			Email:     email,
			Status:    process.StatusSuccess,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	for _, email := range outcome.MailsError {
		records = append(records, process.Record{
			MessageID: outcome.MessageID,
			Email:     email,
			Status:    process.StatusError,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := s.deliveryRepo.SaveRecords(ctx, records); err != nil {
		slog.Error("Failed to save delivery records", "error", err, "message_id", outcome.MessageID)

		return process.Receipt{Acknowledged: false}, err
	}

	slog.Info("Delivery outcome recorded",
		"message_id", outcome.MessageID,
		"success", len(outcome.MailsSuccess),
		"error", len(outcome.MailsError))

	return process.Receipt{Acknowledged: true}, nil
}
