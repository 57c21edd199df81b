package sendmail

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/parqsoft/mailer-svc/internal/errs"
	"github.com/parqsoft/mailer-svc/internal/service/models/mail"
)

// service is an interface for the service layer.
type service interface {
	Send(ctx context.Context, req *mail.Request, attempt int) error
}

// attachmentInSendMailRequest represents an attachment reference in a send mail request.
type attachmentInSendMailRequest struct {
	NameFile string `json:"name_file" validate:"required"`
	S3Name   string `json:"s3_name"   validate:"required"`
}

// sendMailRequest represents a synchronous send mail request.
type sendMailRequest struct {
	Recipients  []string                      `json:"recipients"  validate:"required,min=1,dive,email"`
	Subject     string                        `json:"subject"     validate:"required"`
	HTML        string                        `json:"html"        validate:"required"`
	Text        string                        `json:"text"`
	Attachments []attachmentInSendMailRequest `json:"attachments" validate:"omitempty,dive"`
}

// Validate validates the send mail request.
func (r *sendMailRequest) Validate() error {
	return validator.New().Struct(r)
}

// toModel converts sendMailRequest to mail.Request.
func (r *sendMailRequest) toModel() *mail.Request {
	attachments := make([]mail.AttachmentRef, 0, len(r.Attachments))
	for _, att := range r.Attachments {
		attachments = append(attachments, mail.AttachmentRef{
			Name: att.NameFile,
			Key:  att.S3Name,
		})
	}

	return &mail.Request{
		Recipients:  r.Recipients,
		Subject:     r.Subject,
		HTML:        r.HTML,
		Text:        r.Text,
		Attachments: attachments,
	}
}

type sendMailResponse struct {
	Result  bool   `json:"result"`
	Message string `json:"message"`
}

// SendMail handles the synchronous send request. No retry happens on this
// path; only queue-sourced messages get retry and dead-letter treatment.
func SendMail(w http.ResponseWriter, r *http.Request, service service) {
	req := sendMailRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error decoding request body for send mail", "error", err)

		return
	}

	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error validating request body for send mail", "error", err)

		return
	}

	if err := service.Send(r.Context(), req.toModel(), 0); err != nil {
		var validationErr *errs.ValidationError
		status := http.StatusInternalServerError
		if errors.As(err, &validationErr) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		slog.Error("Error sending mail", "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sendMailResponse{
		Result:  true,
		Message: "mail sent successfully",
	}); err != nil {
		slog.Error("Error sending response for send mail", "error", err)
	}
}
