package process

import "time"

// Per-address delivery statuses persisted in the delivery log.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Outcome is the result of one dispatch attempt as reported by the transport.
type Outcome struct {
	MailsSuccess []string `json:"mailsSuccess"`
	MailsError   []string `json:"mailsError"`
	MessageID    string   `json:"messageId"`
}

// Record is one logical delivery-log row: a single address with its status.
type Record struct {
	ID        int64
	MessageID string
	Email     string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Receipt is the durability acknowledgement returned by the delivery logger.
type Receipt struct {
	Acknowledged bool `json:"acknowledged"`
}
