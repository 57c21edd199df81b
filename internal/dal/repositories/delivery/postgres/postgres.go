package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/parqsoft/mailer-svc/internal/dal/postgres"
	"github.com/parqsoft/mailer-svc/internal/service/models/process"
)

// DeliveryRepository implements the delivery log repository for PostgreSQL.
type DeliveryRepository struct {
	pgClient *postgres.Client
}

// NewDeliveryRepository creates a new delivery log repository.
func NewDeliveryRepository(pgClient *postgres.Client) *DeliveryRepository {
	return &DeliveryRepository{
		pgClient: pgClient,
	}
}

// SaveRecords saves per-recipient delivery records using squirrel bulk insert.
func (r *DeliveryRepository) SaveRecords(
	ctx context.Context,
	records []process.Record,
) error {
	if len(records) == 0 {
		return nil
	}

	builder := sq.Insert("delivery_log").
		Columns(
			"message_id",
			"email",
			"status",
			"created_at",
			"updated_at",
		).
		PlaceholderFormat(sq.Dollar)

	for _, record := range records {
		builder = builder.Values(
			record.MessageID,
			record.Email,
			record.Status,
			record.CreatedAt,
			record.UpdatedAt,
		)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delivery records insert query: %w", err)
	}

	_, err = r.pgClient.Pool().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to bulk insert delivery records: %w", err)
	}

	return nil
}
