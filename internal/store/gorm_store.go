package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"signflow/internal/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	// TranslateError maps driver errors onto gorm sentinels so unique
	// index violations surface as gorm.ErrDuplicatedKey.
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&DocumentModel{},
		&SignerModel{},
		&PlaceholderModel{},
		&SignatureModel{},
		&OTPModel{},
		&AuditModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateDocument inserts a new document row.
func (s *GormStore) CreateDocument(doc domain.Document) error {
	model := documentToModel(doc)
	return s.db.Create(&model).Error
}

// GetDocument retrieves a document by ID.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsBySender returns a sender's documents ordered by creation.
func (s *GormStore) ListDocumentsBySender(senderID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where("sender_id = ?", senderID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// SetDocumentStatus advances document status only from one of the
// expected source states.
func (s *GormStore) SetDocumentStatus(id string, from []domain.DocumentStatus, to domain.DocumentStatus) (bool, error) {
	fromStrs := make([]string, 0, len(from))
	for _, f := range from {
		fromStrs = append(fromStrs, string(f))
	}
	tx := s.db.Model(&DocumentModel{}).
		Where("id = ? AND status IN ?", id, fromStrs).
		Updates(map[string]any{
			"status":     string(to),
			"updated_at": time.Now().UTC(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// CreateSigners inserts the whole chain in one transaction.
func (s *GormStore) CreateSigners(signers []domain.Signer) error {
	models := make([]SignerModel, 0, len(signers))
	for _, sg := range signers {
		models = append(models, signerToModel(sg))
	}
	return translateConflict(s.db.Create(&models).Error)
}

// GetSigner retrieves a signer by ID.
func (s *GormStore) GetSigner(id string) (domain.Signer, bool, error) {
	var model SignerModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Signer{}, false, nil
		}
		return domain.Signer{}, false, err
	}
	return signerFromModel(model), true, nil
}

// ListSigners returns a document's signers ordered by priority.
func (s *GormStore) ListSigners(documentID string) ([]domain.Signer, error) {
	var models []SignerModel
	if err := s.db.Where("document_id = ?", documentID).Order("priority ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Signer, 0, len(models))
	for _, m := range models {
		res = append(res, signerFromModel(m))
	}
	return res, nil
}

// PromoteSigner moves a pending signer to awaiting_turn and stores the
// hash of their freshly issued magic-link token.
func (s *GormStore) PromoteSigner(id, tokenHash string) (bool, error) {
	tx := s.db.Model(&SignerModel{}).
		Where("id = ? AND status = ?", id, string(domain.SignerPending)).
		Updates(map[string]any{
			"status":     string(domain.SignerAwaitingTurn),
			"token_hash": tokenHash,
			"updated_at": time.Now().UTC(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// MarkSignerSigned finalizes the awaiting_turn signer.
func (s *GormStore) MarkSignerSigned(id string, at time.Time) (bool, error) {
	tx := s.db.Model(&SignerModel{}).
		Where("id = ? AND status = ?", id, string(domain.SignerAwaitingTurn)).
		Updates(map[string]any{
			"status":     string(domain.SignerSigned),
			"signed_at":  at,
			"updated_at": time.Now().UTC(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// MarkSignerDeclined finalizes the awaiting_turn signer as declined.
func (s *GormStore) MarkSignerDeclined(id string) (bool, error) {
	tx := s.db.Model(&SignerModel{}).
		Where("id = ? AND status = ?", id, string(domain.SignerAwaitingTurn)).
		Updates(map[string]any{
			"status":     string(domain.SignerDeclined),
			"updated_at": time.Now().UTC(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// ReplacePlaceholders swaps the document's placeholder set wholesale.
func (s *GormStore) ReplacePlaceholders(documentID string, placeholders []domain.Placeholder) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&PlaceholderModel{}, "document_id = ?", documentID).Error; err != nil {
			return err
		}
		if len(placeholders) == 0 {
			return nil
		}
		models := make([]PlaceholderModel, 0, len(placeholders))
		for _, p := range placeholders {
			models = append(models, placeholderToModel(p))
		}
		return tx.Create(&models).Error
	})
}

// ListPlaceholders returns a document's placeholders in page order.
func (s *GormStore) ListPlaceholders(documentID string) ([]domain.Placeholder, error) {
	var models []PlaceholderModel
	if err := s.db.Where("document_id = ?", documentID).Order("page ASC, y_percent ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Placeholder, 0, len(models))
	for _, m := range models {
		res = append(res, placeholderFromModel(m))
	}
	return res, nil
}

// SaveSignatures persists one signer's complete batch atomically.
func (s *GormStore) SaveSignatures(signatures []domain.Signature) error {
	models := make([]SignatureModel, 0, len(signatures))
	for _, sig := range signatures {
		models = append(models, signatureToModel(sig))
	}
	return translateConflict(s.db.Create(&models).Error)
}

// translateConflict maps duplicate-key failures onto ErrConflict so
// callers see the same sentinel both store implementations return.
func translateConflict(err error) error {
	if err != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}

// CreateOTP inserts a fresh OTP record.
func (s *GormStore) CreateOTP(rec domain.OTPRecord) error {
	model := otpToModel(rec)
	return s.db.Create(&model).Error
}

// LatestUnusedOTP returns the newest unused record for a signer.
func (s *GormStore) LatestUnusedOTP(signerID string) (domain.OTPRecord, bool, error) {
	var model OTPModel
	err := s.db.Where("signer_id = ? AND used = ?", signerID, false).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.OTPRecord{}, false, nil
		}
		return domain.OTPRecord{}, false, err
	}
	return otpFromModel(model), true, nil
}

// InvalidateOTPs marks every unused record for the signer as used.
func (s *GormStore) InvalidateOTPs(signerID string) error {
	return s.db.Model(&OTPModel{}).
		Where("signer_id = ? AND used = ?", signerID, false).
		Update("used", true).Error
}

// IncrementOTPAttempts bumps the attempt counter and returns the new value.
func (s *GormStore) IncrementOTPAttempts(id string) (int, error) {
	if err := s.db.Model(&OTPModel{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error; err != nil {
		return 0, err
	}
	var model OTPModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		return 0, err
	}
	return model.Attempts, nil
}

// MarkOTPUsed consumes a record after successful verification.
func (s *GormStore) MarkOTPUsed(id string) error {
	return s.db.Model(&OTPModel{}).Where("id = ?", id).Update("used", true).Error
}

// AppendAudit inserts an immutable ledger row.
func (s *GormStore) AppendAudit(event domain.AuditEvent) error {
	model, err := auditToModel(event)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListAudit returns a document's events in timestamp order.
func (s *GormStore) ListAudit(documentID string) ([]domain.AuditEvent, error) {
	var models []AuditModel
	if err := s.db.Where("document_id = ?", documentID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.AuditEvent, 0, len(models))
	for _, m := range models {
		event, err := auditFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, event)
	}
	return res, nil
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:          d.ID,
		SenderID:    d.SenderID,
		SenderEmail: d.SenderEmail,
		Name:        d.Name,
		Category:    d.Category,
		StorageKey:  d.StorageKey,
		PageCount:   d.PageCount,
		Status:      string(d.Status),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:          m.ID,
		SenderID:    m.SenderID,
		SenderEmail: m.SenderEmail,
		Name:        m.Name,
		Category:    m.Category,
		StorageKey:  m.StorageKey,
		PageCount:   m.PageCount,
		Status:      domain.DocumentStatus(m.Status),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func signerToModel(s domain.Signer) SignerModel {
	return SignerModel{
		ID:         s.ID,
		DocumentID: s.DocumentID,
		Email:      s.Email,
		Priority:   s.Priority,
		Status:     string(s.Status),
		SignedAt:   s.SignedAt,
		TokenHash:  s.TokenHash,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func signerFromModel(m SignerModel) domain.Signer {
	return domain.Signer{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		Email:      m.Email,
		Priority:   m.Priority,
		Status:     domain.SignerStatus(m.Status),
		SignedAt:   m.SignedAt,
		TokenHash:  m.TokenHash,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func placeholderToModel(p domain.Placeholder) PlaceholderModel {
	return PlaceholderModel{
		ID:          p.ID,
		DocumentID:  p.DocumentID,
		SignerEmail: p.SignerEmail,
		Page:        p.Page,
		XPercent:    p.XPercent,
		YPercent:    p.YPercent,
		WPercent:    p.WPercent,
		HPercent:    p.HPercent,
		Kind:        string(p.Kind),
	}
}

func placeholderFromModel(m PlaceholderModel) domain.Placeholder {
	return domain.Placeholder{
		ID:          m.ID,
		DocumentID:  m.DocumentID,
		SignerEmail: m.SignerEmail,
		Page:        m.Page,
		XPercent:    m.XPercent,
		YPercent:    m.YPercent,
		WPercent:    m.WPercent,
		HPercent:    m.HPercent,
		Kind:        domain.PlaceholderKind(m.Kind),
	}
}

func signatureToModel(s domain.Signature) SignatureModel {
	return SignatureModel{
		ID:            s.ID,
		PlaceholderID: s.PlaceholderID,
		SignerID:      s.SignerID,
		Image:         s.Image,
		CreatedAt:     s.CreatedAt,
	}
}

func otpToModel(r domain.OTPRecord) OTPModel {
	return OTPModel{
		ID:        r.ID,
		SignerID:  r.SignerID,
		CodeHash:  r.CodeHash,
		ExpiresAt: r.ExpiresAt,
		Attempts:  r.Attempts,
		Used:      r.Used,
		CreatedAt: r.CreatedAt,
	}
}

func otpFromModel(m OTPModel) domain.OTPRecord {
	return domain.OTPRecord{
		ID:        m.ID,
		SignerID:  m.SignerID,
		CodeHash:  m.CodeHash,
		ExpiresAt: m.ExpiresAt,
		Attempts:  m.Attempts,
		Used:      m.Used,
		CreatedAt: m.CreatedAt,
	}
}

func auditToModel(e domain.AuditEvent) (AuditModel, error) {
	var metadata datatypes.JSON
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return AuditModel{}, fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadata = datatypes.JSON(raw)
	}
	return AuditModel{
		ID:         e.ID,
		DocumentID: e.DocumentID,
		SignerID:   e.SignerID,
		Actor:      e.Actor,
		EventType:  e.Type,
		Metadata:   metadata,
		CreatedAt:  e.CreatedAt,
	}, nil
}

func auditFromModel(m AuditModel) (domain.AuditEvent, error) {
	var metadata map[string]string
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &metadata); err != nil {
			return domain.AuditEvent{}, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
	}
	return domain.AuditEvent{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		SignerID:   m.SignerID,
		Actor:      m.Actor,
		Type:       m.EventType,
		Metadata:   metadata,
		CreatedAt:  m.CreatedAt,
	}, nil
}
