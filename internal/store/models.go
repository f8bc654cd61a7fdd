package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID          string `gorm:"primaryKey"`
	SenderID    string `gorm:"not null;index"`
	SenderEmail string `gorm:"not null"`
	Name        string `gorm:"not null"`
	Category    string
	StorageKey  string    `gorm:"not null"`
	PageCount   int       `gorm:"not null"`
	Status      string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type SignerModel struct {
	ID         string `gorm:"primaryKey"`
	DocumentID string `gorm:"not null;index;uniqueIndex:idx_doc_priority,priority:1;uniqueIndex:idx_doc_email,priority:1"`
	Email      string `gorm:"not null;uniqueIndex:idx_doc_email,priority:2"`
	Priority   int    `gorm:"not null;uniqueIndex:idx_doc_priority,priority:2"`
	Status     string `gorm:"not null"`
	SignedAt   *time.Time
	TokenHash  string
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

type PlaceholderModel struct {
	ID          string  `gorm:"primaryKey"`
	DocumentID  string  `gorm:"not null;index"`
	SignerEmail string  `gorm:"not null"`
	Page        int     `gorm:"not null"`
	XPercent    float64 `gorm:"not null"`
	YPercent    float64 `gorm:"not null"`
	WPercent    float64 `gorm:"not null"`
	HPercent    float64 `gorm:"not null"`
	Kind        string
}

type SignatureModel struct {
	ID            string    `gorm:"primaryKey"`
	PlaceholderID string    `gorm:"not null;uniqueIndex"`
	SignerID      string    `gorm:"not null;index"`
	Image         []byte    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

type OTPModel struct {
	ID        string    `gorm:"primaryKey"`
	SignerID  string    `gorm:"not null;index"`
	CodeHash  string    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
	Attempts  int       `gorm:"not null"`
	Used      bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

type AuditModel struct {
	ID         string `gorm:"primaryKey"`
	DocumentID string `gorm:"not null;index"`
	SignerID   string
	Actor      string         `gorm:"not null"`
	EventType  string         `gorm:"not null"`
	Metadata   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null;index"`
}
