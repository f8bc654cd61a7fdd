package notify

import "context"

// Kind selects the mail template the downstream mailer renders.
type Kind string

const (
	KindSignRequest   Kind = "sign_request"
	KindQueuePosition Kind = "queue_position"
	KindProgress      Kind = "progress"
	KindCompleted     Kind = "completed"
	KindDeclined      Kind = "declined"
	KindOTPCode       Kind = "otp_code"
)

// Message is one outbound notification. Prose content is the mailer's
// concern; this carries only the call contract.
type Message struct {
	Kind          Kind   `json:"kind"`
	To            string `json:"to"`
	DocumentID    string `json:"documentId"`
	DocumentName  string `json:"documentName"`
	SigningLink   string `json:"signingLink,omitempty"`
	OTPCode       string `json:"otpCode,omitempty"`
	QueuePosition int    `json:"queuePosition,omitempty"`
	QueueTotal    int    `json:"queueTotal,omitempty"`
	SignedBy      string `json:"signedBy,omitempty"`
	DeclinedBy    string `json:"declinedBy,omitempty"`
	DownloadURL   string `json:"downloadUrl,omitempty"`
}

// Notifier delivers messages out-of-band. Delivery is best-effort
// relative to chain state: a Send failure is audited, never used to
// roll back a transition.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
