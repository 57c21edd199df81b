package ideliveryrepo

import (
	"context"

	"github.com/parqsoft/mailer-svc/internal/service/models/process"
)

// IDeliveryRepository is interface for the delivery log repository.
type IDeliveryRepository interface {
	SaveRecords(ctx context.Context, records []process.Record) error
}
