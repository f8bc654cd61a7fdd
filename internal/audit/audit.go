package audit

import (
	"log/slog"
	"time"

	"signflow/internal/domain"
	"signflow/internal/util"
)

// Event types. These strings are both the storage keys and the public
// event taxonomy; they never change once emitted.
const (
	EventDocumentCreated    = "document_created"
	EventDocumentSent       = "document_sent"
	EventEmailDelivered     = "email_delivered"
	EventEmailFailed        = "email_failed"
	EventLinkOpened         = "link_opened"
	EventOTPSent            = "otp_sent"
	EventOTPVerified        = "otp_verified"
	EventOTPFailed          = "otp_failed"
	EventOTPLocked          = "otp_locked"
	EventPlaceholderViewed  = "placeholder_viewed"
	EventSignatureSubmitted = "signature_submitted"
	EventPDFBurned          = "pdf_burned"
	EventSignerDeclined     = "signer_declined"
	EventNextSignerNotified = "next_signer_notified"
	EventDocumentCompleted  = "document_completed"
	EventDocumentDownloaded = "document_downloaded"
)

// Sink persists ledger rows.
type Sink interface {
	AppendAudit(event domain.AuditEvent) error
}

// Ledger appends immutable, timestamped event records and mirrors them
// to the structured log. Ledger writes are best-effort observers of
// transitions that already happened: a failed append is logged, never
// propagated.
type Ledger struct {
	sink Sink
}

// NewLedger wraps a storage sink.
func NewLedger(sink Sink) *Ledger {
	return &Ledger{sink: sink}
}

// Record appends one event.
func (l *Ledger) Record(documentID, signerID, actor, eventType string, metadata map[string]string) {
	event := domain.AuditEvent{
		ID:         util.NewID(),
		DocumentID: documentID,
		SignerID:   signerID,
		Actor:      actor,
		Type:       eventType,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if err := l.sink.AppendAudit(event); err != nil {
		slog.Error("audit append failed",
			"event", eventType,
			"document_id", documentID,
			"err", err,
		)
		return
	}
	slog.Info("audit_event",
		"event", eventType,
		"document_id", documentID,
		"signer_id", signerID,
		"actor", actor,
	)
}
