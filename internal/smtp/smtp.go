package smtp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/parqsoft/mailer-svc/internal/errs"
	"github.com/parqsoft/mailer-svc/internal/service/models/mail"
	"github.com/spf13/viper"
	"gopkg.in/gomail.v2"
)

const defaultSendTimeout = 30 * time.Second

// dialAndSender is the part of gomail.Dialer the sender relies on.
type dialAndSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Sender delivers composed mail over SMTP.
type Sender struct {
	dialer  dialAndSender
	host    string
	timeout time.Duration
}

// MustNewSender creates a new SMTP sender from configuration.
func MustNewSender() *Sender {
	host := viper.GetString("smtp.host")
	if host == "" {
		panic("smtp.host is not set in config")
	}
	port := viper.GetInt("smtp.port")
	if port == 0 {
		port = 587
	}
	user := viper.GetString("smtp.user")
	password := viper.GetString("smtp.password")

	slog.Info("SMTP sender initialized", "host", host, "port", port, "user", user)

	return &Sender{
		dialer:  gomail.NewDialer(host, port, user, password),
		host:    host,
		timeout: defaultSendTimeout,
	}
}

// Send delivers the mail and reports per-recipient acceptance together with
// the generated message id. The SMTP conversation is bounded by the caller's
// context and a default timeout; expiry surfaces as a TransportError.
func (s *Sender) Send(ctx context.Context, m *mail.OutgoingMail) (mail.SendResult, error) {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.FromAddress, m.FromName)
	msg.SetHeader("To", m.To...)
	msg.SetHeader("Subject", m.Subject)

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.host)
	msg.SetHeader("Message-ID", messageID)

	if m.Text != "" {
		msg.SetBody("text/plain", m.Text)
		msg.AddAlternative("text/html", m.HTML)
	} else {
		msg.SetBody("text/html", m.HTML)
	}

	for _, att := range m.Attachments {
		msg.Attach(att.Name, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(att.Data)

			return err
		}))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.dialer.DialAndSend(msg)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return mail.SendResult{}, &errs.TransportError{Op: "smtp send", Err: err}
		}
	case <-ctx.Done():
		return mail.SendResult{}, &errs.TransportError{Op: "smtp send", Err: ctx.Err()}
	}

	// gomail reports a single error for the whole conversation, so a
	// completed send means every recipient was accepted by the server.
	return mail.SendResult{
		Accepted:  append([]string(nil), m.To...),
		Rejected:  []string{},
		MessageID: messageID,
	}, nil
}
