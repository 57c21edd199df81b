package mail

// AttachmentRef names a blob to pull from object storage at send time.
type AttachmentRef struct {
	Name string
	Key  string
}

// Request is a fully specified one-shot mail dispatch request.
type Request struct {
	Recipients  []string
	Subject     string
	HTML        string
	Text        string
	Attachments []AttachmentRef
}

// ResolvedAttachment is an attachment downloaded into memory, keeping the
// storage key for post-send cleanup.
type ResolvedAttachment struct {
	Name string
	Key  string
	Data []byte
}

// OutgoingMail is the composed message handed to the SMTP transport.
type OutgoingMail struct {
	FromAddress string
	FromName    string
	To          []string
	Subject     string
	HTML        string
	Text        string
	Attachments []ResolvedAttachment
}

// SendResult is the transport's view of a completed SMTP conversation.
type SendResult struct {
	Accepted  []string
	Rejected  []string
	MessageID string
}
