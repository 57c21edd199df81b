package deadletter

import "time"

// DeadLetter is a terminally failed message captured from the final
// dead-letter queue for operator triage.
type DeadLetter struct {
	ID        int64
	QueueName string
	Payload   []byte
	LastError string
	FailedAt  time.Time
	CreatedAt time.Time
}
