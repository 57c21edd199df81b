package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TypeEmailNotification is the only message type that drives mail dispatch.
// Messages of any other type are acknowledged without action.
const TypeEmailNotification = "email_notification"

// Attachment references a blob in object storage by key, together with the
// display name used in the outgoing mail.
type Attachment struct {
	NameFile string `json:"name_file"`
	S3Name   string `json:"s3_name"`
}

// Recipients is a list of destination addresses. Producers may send either a
// single address or an array; decoding normalizes both to a slice.
type Recipients []string

// UnmarshalJSON accepts a scalar address or an array of addresses.
func (r *Recipients) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = nil

		return nil
	}

	if data[0] == '[' {
		var many []string
		if err := json.Unmarshal(data, &many); err != nil {
			return fmt.Errorf("failed to decode recipients array: %w", err)
		}
		*r = many

		return nil
	}

	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return fmt.Errorf("failed to decode recipient: %w", err)
	}
	*r = Recipients{one}

	return nil
}

// Attachments is a list of attachment references. Producers may send either a
// single object or an array; decoding normalizes both to a slice.
type Attachments []Attachment

// UnmarshalJSON accepts a single attachment object or an array of them.
func (a *Attachments) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = nil

		return nil
	}

	if data[0] == '[' {
		var many []Attachment
		if err := json.Unmarshal(data, &many); err != nil {
			return fmt.Errorf("failed to decode attachments array: %w", err)
		}
		*a = many

		return nil
	}

	var one Attachment
	if err := json.Unmarshal(data, &one); err != nil {
		return fmt.Errorf("failed to decode attachment: %w", err)
	}
	*a = Attachments{one}

	return nil
}

// Payload carries the pre-rendered mail content of an email_notification.
type Payload struct {
	Recipients  Recipients  `json:"recipients"`
	Subject     string      `json:"subject"`
	HTML        string      `json:"html"`
	Text        string      `json:"text,omitempty"`
	Attachments Attachments `json:"attachments,omitempty"`
}

// QueueMessage is the unit of work received from RabbitMQ.
//
// RetryCount defaults to 0 when absent and increases by exactly 1 per retry
// hop. OriginalQueue, LastError, FailedAt and FinalFailure are populated by
// the consumer on re-queue and dead-letter escalation.
type QueueMessage struct {
	Type          string     `json:"type"`
	Data          Payload    `json:"data"`
	RetryCount    int        `json:"retryCount,omitempty"`
	OriginalQueue string     `json:"originalQueue,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	FailedAt      *time.Time `json:"failedAt,omitempty"`
	FinalFailure  bool       `json:"finalFailure,omitempty"`
}
