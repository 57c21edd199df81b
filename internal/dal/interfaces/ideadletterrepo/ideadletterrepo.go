package ideadletterrepo

import (
	"context"

	"github.com/parqsoft/mailer-svc/internal/service/models/deadletter"
)

// IDeadLetterRepository is interface for the dead letter repository.
type IDeadLetterRepository interface {
	Insert(ctx context.Context, letter deadletter.DeadLetter) error
}
