package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/parqsoft/mailer-svc/internal/dal/postgres"
	"github.com/parqsoft/mailer-svc/internal/service/models/deadletter"
)

// DeadLetterRepository implements the dead letter repository for PostgreSQL.
type DeadLetterRepository struct {
	pgClient *postgres.Client
}

// NewDeadLetterRepository creates a new dead letter repository.
func NewDeadLetterRepository(pgClient *postgres.Client) *DeadLetterRepository {
	return &DeadLetterRepository{
		pgClient: pgClient,
	}
}

// Insert records a terminally failed message for operator triage.
func (r *DeadLetterRepository) Insert(
	ctx context.Context,
	letter deadletter.DeadLetter,
) error {
	query, args, err := sq.Insert("dead_letter").
		Columns(
			"queue_name",
			"payload",
			"last_error",
			"failed_at",
			"created_at",
		).
		Values(
			letter.QueueName,
			letter.Payload,
			letter.LastError,
			letter.FailedAt,
			letter.CreatedAt,
		).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build dead letter insert query: %w", err)
	}

	_, err = r.pgClient.Pool().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}

	return nil
}
