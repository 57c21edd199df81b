package dispatchsvc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/parqsoft/mailer-svc/internal/errs"
	"github.com/parqsoft/mailer-svc/internal/service/models/mail"
	"github.com/parqsoft/mailer-svc/internal/service/models/process"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	viper.Set("smtp.sender_address", "noreply@test.local")
	viper.Set("smtp.sender_name", "Mailer Test")
	os.Exit(m.Run())
}

type fakeStorage struct {
	mu           sync.Mutex
	objects      map[string][]byte
	downloadErrs map[string]error
	deleteErr    error
	deleted      []string
}

func (f *fakeStorage) Download(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.downloadErrs[key]; ok {
		return nil, err
	}
	if data, ok := f.objects[key]; ok {
		return data, nil
	}

	return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, key)
}

func (f *fakeStorage) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)

	return nil
}

type fakeSender struct {
	result mail.SendResult
	err    error
	calls  int
	got    *mail.OutgoingMail
}

func (f *fakeSender) Send(_ context.Context, m *mail.OutgoingMail) (mail.SendResult, error) {
	f.calls++
	f.got = m
	if f.err != nil {
		return mail.SendResult{}, f.err
	}

	return f.result, nil
}

type fakeLogger struct {
	receipt  process.Receipt
	err      error
	outcomes []process.Outcome
}

func (f *fakeLogger) Record(_ context.Context, outcome process.Outcome) (process.Receipt, error) {
	f.outcomes = append(f.outcomes, outcome)
	if f.err != nil {
		return process.Receipt{Acknowledged: false}, f.err
	}

	return f.receipt, nil
}

func newService(storage *fakeStorage, sender *fakeSender, logger *fakeLogger) *DispatchService {
	return MustNewDispatchService(
		WithStorage(storage),
		WithSender(sender),
		WithDeliveryLogger(logger),
	)
}

func validRequest() *mail.Request {
	return &mail.Request{
		Recipients: []string{"a@x.com"},
		Subject:    "S",
		HTML:       "<p>H</p>",
	}
}

func TestSendValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(req *mail.Request)
		field  string
	}{
		{name: "no recipients", mutate: func(req *mail.Request) { req.Recipients = nil }, field: "recipients"},
		{name: "empty address", mutate: func(req *mail.Request) { req.Recipients = []string{""} }, field: "recipients"},
		{name: "no subject", mutate: func(req *mail.Request) { req.Subject = "" }, field: "subject"},
		{name: "no html", mutate: func(req *mail.Request) { req.HTML = "" }, field: "html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := &fakeStorage{}
			sender := &fakeSender{}
			logger := &fakeLogger{}
			svc := newService(storage, sender, logger)

			req := validRequest()
			tt.mutate(req)

			err := svc.Send(context.Background(), req, 0)

			var validationErr *errs.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
			assert.Zero(t, sender.calls, "no mail must be sent on validation failure")
			assert.Empty(t, logger.outcomes)
			assert.Empty(t, storage.deleted)
		})
	}
}

func TestSendSuccessWithoutAttachments(t *testing.T) {
	storage := &fakeStorage{}
	sender := &fakeSender{result: mail.SendResult{
		Accepted:  []string{"a@x.com"},
		Rejected:  []string{},
		MessageID: "<id-1@test>",
	}}
	logger := &fakeLogger{receipt: process.Receipt{Acknowledged: true}}
	svc := newService(storage, sender, logger)

	require.NoError(t, svc.Send(context.Background(), validRequest(), 0))

	require.Len(t, logger.outcomes, 1)
	assert.Equal(t, process.Outcome{
		MailsSuccess: []string{"a@x.com"},
		MailsError:   []string{},
		MessageID:    "<id-1@test>",
	}, logger.outcomes[0])

	require.NotNil(t, sender.got)
	assert.Equal(t, "noreply@test.local", sender.got.FromAddress)
	assert.Equal(t, []string{"a@x.com"}, sender.got.To)
	assert.Empty(t, storage.deleted)
}

func TestSendResolvesAllAttachmentsInOrder(t *testing.T) {
	storage := &fakeStorage{objects: map[string][]byte{
		"k/a.pdf": []byte("aaa"),
		"k/b.pdf": []byte("bbb"),
	}}
	sender := &fakeSender{result: mail.SendResult{
		Accepted:  []string{"a@x.com"},
		MessageID: "<id-2@test>",
	}}
	logger := &fakeLogger{receipt: process.Receipt{Acknowledged: true}}
	svc := newService(storage, sender, logger)

	req := validRequest()
	req.Attachments = []mail.AttachmentRef{
		{Name: "a.pdf", Key: "k/a.pdf"},
		{Name: "b.pdf", Key: "k/b.pdf"},
	}

	require.NoError(t, svc.Send(context.Background(), req, 0))

	require.NotNil(t, sender.got)
	require.Len(t, sender.got.Attachments, 2)
	assert.Equal(t, "a.pdf", sender.got.Attachments[0].Name)
	assert.Equal(t, []byte("aaa"), sender.got.Attachments[0].Data)
	assert.Equal(t, "b.pdf", sender.got.Attachments[1].Name)
	assert.Equal(t, []byte("bbb"), sender.got.Attachments[1].Data)

	assert.ElementsMatch(t, []string{"k/a.pdf", "k/b.pdf"}, storage.deleted)
}

func TestSendAbortsOnPartialAttachmentFailure(t *testing.T) {
	storage := &fakeStorage{
		objects:      map[string][]byte{"k/a.pdf": []byte("aaa")},
		downloadErrs: map[string]error{"k/b.pdf": errors.New("connection reset")},
	}
	sender := &fakeSender{}
	logger := &fakeLogger{}
	svc := newService(storage, sender, logger)

	req := validRequest()
	req.Attachments = []mail.AttachmentRef{
		{Name: "a.pdf", Key: "k/a.pdf"},
		{Name: "b.pdf", Key: "k/b.pdf"},
	}

	err := svc.Send(context.Background(), req, 0)

	var attachmentErr *errs.AttachmentError
	require.ErrorAs(t, err, &attachmentErr)
	assert.Equal(t, "b.pdf", attachmentErr.Name)
	assert.Equal(t, "k/b.pdf", attachmentErr.Key)
	assert.Zero(t, sender.calls, "no mail must be sent with a partial attachment set")
	assert.Empty(t, logger.outcomes)
	assert.Empty(t, storage.deleted)
}

func TestSendMissingAttachmentSurfacesNotFound(t *testing.T) {
	storage := &fakeStorage{}
	sender := &fakeSender{}
	logger := &fakeLogger{}
	svc := newService(storage, sender, logger)

	req := validRequest()
	req.Attachments = []mail.AttachmentRef{{Name: "gone.pdf", Key: "k/gone.pdf"}}

	err := svc.Send(context.Background(), req, 0)

	var attachmentErr *errs.AttachmentError
	require.ErrorAs(t, err, &attachmentErr)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Zero(t, sender.calls)
}

func TestSendTransportFailureSkipsLogAndCleanup(t *testing.T) {
	storage := &fakeStorage{objects: map[string][]byte{"k/a.pdf": []byte("aaa")}}
	sender := &fakeSender{err: &errs.TransportError{Op: "smtp send", Err: errors.New("connection refused")}}
	logger := &fakeLogger{}
	svc := newService(storage, sender, logger)

	req := validRequest()
	req.Attachments = []mail.AttachmentRef{{Name: "a.pdf", Key: "k/a.pdf"}}

	err := svc.Send(context.Background(), req, 1)

	var transportErr *errs.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Empty(t, logger.outcomes, "log must not be written on transport failure")
	assert.Empty(t, storage.deleted, "attachments must be retained for the next retry")
}

func TestSendLoggerFailureIsNotEscalatedAndRetainsAttachments(t *testing.T) {
	storage := &fakeStorage{objects: map[string][]byte{"k/a.pdf": []byte("aaa")}}
	sender := &fakeSender{result: mail.SendResult{
		Accepted:  []string{"a@x.com"},
		MessageID: "<id-3@test>",
	}}
	logger := &fakeLogger{err: errors.New("db down")}
	svc := newService(storage, sender, logger)

	req := validRequest()
	req.Attachments = []mail.AttachmentRef{{Name: "a.pdf", Key: "k/a.pdf"}}

	// The mail already left the system; escalating would duplicate it.
	require.NoError(t, svc.Send(context.Background(), req, 0))

	require.Len(t, logger.outcomes, 1)
	assert.Empty(t, storage.deleted, "attachments must be retained when the log write fails")
}

func TestSendUnacknowledgedLogRetainsAttachments(t *testing.T) {
	storage := &fakeStorage{objects: map[string][]byte{"k/a.pdf": []byte("aaa")}}
	sender := &fakeSender{result: mail.SendResult{
		Accepted:  []string{"a@x.com"},
		MessageID: "<id-4@test>",
	}}
	logger := &fakeLogger{receipt: process.Receipt{Acknowledged: false}}
	svc := newService(storage, sender, logger)

	req := validRequest()
	req.Attachments = []mail.AttachmentRef{{Name: "a.pdf", Key: "k/a.pdf"}}

	require.NoError(t, svc.Send(context.Background(), req, 0))
	assert.Empty(t, storage.deleted)
}

func TestSendCleanupFailureIsSwallowed(t *testing.T) {
	storage := &fakeStorage{
		objects:   map[string][]byte{"k/a.pdf": []byte("aaa")},
		deleteErr: errors.New("storage down"),
	}
	sender := &fakeSender{result: mail.SendResult{
		Accepted:  []string{"a@x.com"},
		MessageID: "<id-5@test>",
	}}
	logger := &fakeLogger{receipt: process.Receipt{Acknowledged: true}}
	svc := newService(storage, sender, logger)

	req := validRequest()
	req.Attachments = []mail.AttachmentRef{{Name: "a.pdf", Key: "k/a.pdf"}}

	require.NoError(t, svc.Send(context.Background(), req, 0))
}
