package recordprocess

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/parqsoft/mailer-svc/internal/service/models/process"
)

// service is an interface for the service layer.
type service interface {
	Record(ctx context.Context, outcome process.Outcome) (process.Receipt, error)
}

// recordProcessRequest represents a raw delivery outcome to persist.
type recordProcessRequest struct {
	MailsSuccess []string `json:"mailsSuccess" validate:"omitempty,dive,email"`
	MailsError   []string `json:"mailsError"   validate:"omitempty,dive,email"`
	MessageID    string   `json:"messageId"    validate:"required"`
}

// Validate validates the record process request.
func (r *recordProcessRequest) Validate() error {
	return validator.New().Struct(r)
}

// RecordProcess handles the delivery outcome write request.
func RecordProcess(w http.ResponseWriter, r *http.Request, service service) {
	req := recordProcessRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error decoding request body for record process", "error", err)

		return
	}

	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		slog.Error("Error validating request body for record process", "error", err)

		return
	}

	receipt, err := service.Record(r.Context(), process.Outcome{
		MailsSuccess: req.MailsSuccess,
		MailsError:   req.MailsError,
		MessageID:    req.MessageID,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		slog.Error("Error recording delivery outcome", "error", err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(receipt); err != nil {
		slog.Error("Error sending response for record process", "error", err)
	}
}
