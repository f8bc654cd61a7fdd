package store

import (
	"errors"
	"time"

	"signflow/internal/domain"
)

// ErrConflict is returned when an insert collides with an existing row
// (duplicate signer priority, duplicate email within a document).
var ErrConflict = errors.New("store conflict")

// Store defines persistence for documents, signers, placeholders,
// signatures, OTP records and the audit ledger.
//
// Status transitions are compare-and-set: they only apply when the row
// is still in the expected source state and report whether they won.
// A false return means another request already advanced the row.
type Store interface {
	// documents
	CreateDocument(doc domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocumentsBySender(senderID string) ([]domain.Document, error)
	SetDocumentStatus(id string, from []domain.DocumentStatus, to domain.DocumentStatus) (bool, error)

	// signers
	CreateSigners(signers []domain.Signer) error
	GetSigner(id string) (domain.Signer, bool, error)
	ListSigners(documentID string) ([]domain.Signer, error)
	PromoteSigner(id, tokenHash string) (bool, error)
	MarkSignerSigned(id string, at time.Time) (bool, error)
	MarkSignerDeclined(id string) (bool, error)

	// placeholders: replaced wholesale, never patched individually
	ReplacePlaceholders(documentID string, placeholders []domain.Placeholder) error
	ListPlaceholders(documentID string) ([]domain.Placeholder, error)

	// signatures
	SaveSignatures(signatures []domain.Signature) error

	// otp records
	CreateOTP(rec domain.OTPRecord) error
	LatestUnusedOTP(signerID string) (domain.OTPRecord, bool, error)
	InvalidateOTPs(signerID string) error
	IncrementOTPAttempts(id string) (int, error)
	MarkOTPUsed(id string) error

	// audit ledger, append-only
	AppendAudit(event domain.AuditEvent) error
	ListAudit(documentID string) ([]domain.AuditEvent, error)
}
