package domain

import "time"

type DocumentStatus string

const (
	DocumentDraft      DocumentStatus = "draft"
	DocumentSent       DocumentStatus = "sent"
	DocumentInProgress DocumentStatus = "in_progress"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentCancelled  DocumentStatus = "cancelled"
)

type SignerStatus string

const (
	SignerPending      SignerStatus = "pending"
	SignerAwaitingTurn SignerStatus = "awaiting_turn"
	SignerSigned       SignerStatus = "signed"
	SignerDeclined     SignerStatus = "declined"
)

// PlaceholderKind labels what a field holds once filled.
type PlaceholderKind string

const (
	KindSignature   PlaceholderKind = "signature"
	KindName        PlaceholderKind = "name"
	KindTitle       PlaceholderKind = "title"
	KindDesignation PlaceholderKind = "designation"
	KindDate        PlaceholderKind = "date"
)

type Document struct {
	ID          string         `json:"id"`
	SenderID    string         `json:"senderId"`
	SenderEmail string         `json:"senderEmail"`
	Name        string         `json:"name"`
	Category    string         `json:"category,omitempty"`
	StorageKey  string         `json:"-"`
	PageCount   int            `json:"pageCount"`
	Status      DocumentStatus `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

type Signer struct {
	ID         string       `json:"id"`
	DocumentID string       `json:"documentId"`
	Email      string       `json:"email"`
	Priority   int          `json:"priority"`
	Status     SignerStatus `json:"status"`
	SignedAt   *time.Time   `json:"signedAt,omitempty"`
	TokenHash  string       `json:"-"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// Placeholder positions a field on a page. Geometry is percentages of
// the rendered page, origin top-left, Y growing downward.
type Placeholder struct {
	ID          string          `json:"id"`
	DocumentID  string          `json:"documentId"`
	SignerEmail string          `json:"signerEmail"`
	Page        int             `json:"page"`
	XPercent    float64         `json:"xPercent"`
	YPercent    float64         `json:"yPercent"`
	WPercent    float64         `json:"wPercent"`
	HPercent    float64         `json:"hPercent"`
	Kind        PlaceholderKind `json:"kind,omitempty"`
}

type Signature struct {
	ID            string    `json:"id"`
	PlaceholderID string    `json:"placeholderId"`
	SignerID      string    `json:"signerId"`
	Image         []byte    `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
}

type OTPRecord struct {
	ID        string    `json:"id"`
	SignerID  string    `json:"signerId"`
	CodeHash  string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	Attempts  int       `json:"attempts"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"createdAt"`
}

type AuditEvent struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"documentId"`
	SignerID   string            `json:"signerId,omitempty"`
	Actor      string            `json:"actor"`
	Type       string            `json:"type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}
