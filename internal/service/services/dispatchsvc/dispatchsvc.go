package dispatchsvc

import (
	"context"
	"log/slog"

	"github.com/parqsoft/mailer-svc/internal/errs"
	"github.com/parqsoft/mailer-svc/internal/service/models/mail"
	"github.com/parqsoft/mailer-svc/internal/service/models/process"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// storage is the object store interface the dispatcher relies on.
type storage interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// sender is the SMTP transport interface.
type sender interface {
	Send(ctx context.Context, m *mail.OutgoingMail) (mail.SendResult, error)
}

// deliveryLogger persists per-recipient outcomes of a dispatch attempt.
type deliveryLogger interface {
	Record(ctx context.Context, outcome process.Outcome) (process.Receipt, error)
}

// DispatchService resolves a mail request into an outgoing mail, sends it,
// records the outcome and cleans up attachments. It owns no persistent state;
// every Send is a one-shot pass.
type DispatchService struct {
	storage     storage
	sender      sender
	deliveryLog deliveryLogger

	fromAddress string
	fromName    string
}

// option is a function that configures the DispatchService.
type option func(*DispatchService)

// MustNewDispatchService creates a new DispatchService.
func MustNewDispatchService(opts ...option) *DispatchService {
	fromAddress := viper.GetString("smtp.sender_address")
	if fromAddress == "" {
		panic("smtp.sender_address is not set in config")
	}
	fromName := viper.GetString("smtp.sender_name")
	if fromName == "" {
		fromName = "Mailer"
	}

	s := &DispatchService{
		fromAddress: fromAddress,
		fromName:    fromName,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// WithStorage sets the object store gateway for the DispatchService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithStorage(storage storage) option {
	return func(s *DispatchService) {
		s.storage = storage
	}
}

// WithSender sets the SMTP transport for the DispatchService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithSender(sender sender) option {
	return func(s *DispatchService) {
		s.sender = sender
	}
}

// WithDeliveryLogger sets the delivery logger for the DispatchService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithDeliveryLogger(deliveryLog deliveryLogger) option {
	return func(s *DispatchService) {
		s.deliveryLog = deliveryLog
	}
}

// WithSenderIdentity overrides the configured From identity.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithSenderIdentity(address, name string) option {
	return func(s *DispatchService) {
		s.fromAddress = address
		s.fromName = name
	}
}

// Send validates the request, resolves all attachments, sends the mail,
// records the outcome and deletes the resolved blobs.
//
// Ordering contract: attachments are deleted only after the send succeeded
// AND the delivery log acknowledged the write. A log failure after a
// successful send is not escalated, since re-sending would duplicate
// user-visible mail; the blobs are retained for manual reconciliation.
func (s *DispatchService) Send(ctx context.Context, req *mail.Request, attempt int) error {
	ctx, span := otel.Tracer("service").Start(ctx, "Service.Send")
	defer span.End()

	if err := validate(req); err != nil {
		return err
	}

	resolved, err := s.resolveAttachments(ctx, req.Attachments)
	if err != nil {
		return err
	}

	out := &mail.OutgoingMail{
		FromAddress: s.fromAddress,
		FromName:    s.fromName,
		To:          req.Recipients,
		Subject:     req.Subject,
		HTML:        req.HTML,
		Text:        req.Text,
		Attachments: resolved,
	}

	result, err := s.sender.Send(ctx, out)
	if err != nil {
		slog.Error("Failed to send mail",
			"error", err,
			"recipients", len(req.Recipients),
			"attempt", attempt+1)

		return err
	}

	slog.Info("Mail sent",
		"message_id", result.MessageID,
		"accepted", len(result.Accepted),
		"rejected", len(result.Rejected),
		"attempt", attempt+1)

	receipt, err := s.deliveryLog.Record(ctx, process.Outcome{
		MailsSuccess: result.Accepted,
		MailsError:   result.Rejected,
		MessageID:    result.MessageID,
	})
	if err != nil || !receipt.Acknowledged {
		slog.Error("Delivery log write failed after successful send, attachments retained",
			"error", err,
			"message_id", result.MessageID)

		return nil
	}

	s.cleanupAttachments(ctx, resolved)

	return nil
}

// validate fails fast on a request missing required fields, before any side
// effect takes place.
func validate(req *mail.Request) error {
	if len(req.Recipients) == 0 {
		return &errs.ValidationError{Field: "recipients", Reason: "must not be empty"}
	}
	for _, addr := range req.Recipients {
		if addr == "" {
			return &errs.ValidationError{Field: "recipients", Reason: "must not contain empty addresses"}
		}
	}
	if req.Subject == "" {
		return &errs.ValidationError{Field: "subject", Reason: "is required"}
	}
	if req.HTML == "" {
		return &errs.ValidationError{Field: "html", Reason: "is required"}
	}

	return nil
}

// resolveAttachments downloads every referenced blob concurrently and fails
// fast on the first error. No mail is ever sent with a partial attachment set.
func (s *DispatchService) resolveAttachments(
	ctx context.Context,
	refs []mail.AttachmentRef,
) ([]mail.ResolvedAttachment, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	resolved := make([]mail.ResolvedAttachment, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			data, err := s.storage.Download(gctx, ref.Key)
			if err != nil {
				return &errs.AttachmentError{Name: ref.Name, Key: ref.Key, Err: err}
			}
			resolved[i] = mail.ResolvedAttachment{Name: ref.Name, Key: ref.Key, Data: data}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return resolved, nil
}

// cleanupAttachments deletes the resolved blobs from storage. Failures are
// logged and never propagated; stale blobs are cheap to reconcile.
func (s *DispatchService) cleanupAttachments(ctx context.Context, resolved []mail.ResolvedAttachment) {
	for _, att := range resolved {
		if err := s.storage.Delete(ctx, att.Key); err != nil {
			slog.Error("Failed to delete attachment after send", "key", att.Key, "error", err)

			continue
		}
		slog.Info("Attachment deleted after confirmed send", "key", att.Key)
	}
}
